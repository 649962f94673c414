// Package backend is the HTTP service that receives door events from the
// recognition daemon and serves them back to dashboards.
package backend

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// LogStore is the storage the handlers need. *store.Store satisfies it.
type LogStore interface {
	InsertLog(ctx context.Context, l store.NewLog) (int64, error)
	ListLogs(ctx context.Context, r *store.DateRange) ([]store.AccessLog, error)
	Frequency(ctx context.Context, r *store.DateRange) ([]store.Frequency, error)
}

// Server represents the backend web server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer wires routes and middleware around the store.
func NewServer(st LogStore, host string, port int, callbackSecret string) *Server {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))

	h := &handlers{store: st}

	r.Get("/", h.health)
	r.Route("/api/logs", func(r chi.Router) {
		r.Get("/", h.listLogs)
		r.Get("/frequency", h.frequency)
		r.With(requireSecret(callbackSecret)).Post("/callback", h.callback)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return &Server{
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	log.WithField("addr", s.httpServer.Addr).Info("🚀 Backend listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Shutting down backend...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// requireSecret guards the callback: 500 when the server has no secret, 401
// without the header, 403 on mismatch.
func requireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				respondError(w, http.StatusInternalServerError, "CALLBACK_SECRET not configured")
				return
			}
			got := r.Header.Get("x-callback-secret")
			if got == "" {
				respondError(w, http.StatusUnauthorized, "Missing callback secret")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				respondError(w, http.StatusForbidden, "Invalid callback secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one line per request through logrus.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.WithFields(log.Fields{
				"component":  "backend",
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": chiMiddleware.GetReqID(r.Context()),
			}).Info("HTTP request")
		}()
		next.ServeHTTP(ww, r)
	})
}
