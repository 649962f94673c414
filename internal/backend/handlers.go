package backend

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/store"
	log "github.com/sirupsen/logrus"
)

type handlers struct {
	store LogStore
}

// callbackRequest is the body the recognition daemon posts.
type callbackRequest struct {
	Date          string `json:"date"`
	Time          string `json:"time"`
	UserName      string `json:"user_name"`
	FingerprintID string `json:"fingerprint_id"`
	Note          string `json:"note"`
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Gatekeeper backend is running 🚪🔐"))
}

func (h *handlers) callback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Date == "" || req.Time == "" {
		respondError(w, http.StatusBadRequest, "date and time required")
		return
	}
	if _, err := time.Parse(store.DateLayout, req.Date); err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if _, err := time.Parse(store.TimeLayout, req.Time); err != nil {
		respondError(w, http.StatusBadRequest, "time must be HH:MM:SS")
		return
	}

	id, err := h.store.InsertLog(r.Context(), store.NewLog{
		Date:          req.Date,
		Time:          req.Time,
		UserName:      req.UserName,
		FingerprintID: req.FingerprintID,
		Note:          req.Note,
	})
	if err != nil {
		log.WithError(err).Error("POST /api/logs/callback failed")
		respondError(w, http.StatusInternalServerError, "Failed to save log")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"message": "Log saved", "id": id})
}

// dateRange reads ?from=&to=. The filter applies only when both are present.
func dateRange(r *http.Request) (*store.DateRange, bool) {
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" || to == "" {
		return nil, true
	}
	f, err := time.Parse(store.DateLayout, from)
	if err != nil {
		return nil, false
	}
	t, err := time.Parse(store.DateLayout, to)
	if err != nil {
		return nil, false
	}
	return &store.DateRange{From: f, To: t}, true
}

func (h *handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	rng, ok := dateRange(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "from and to must be YYYY-MM-DD")
		return
	}
	logs, err := h.store.ListLogs(r.Context(), rng)
	if err != nil {
		log.WithError(err).Error("GET /api/logs failed")
		respondError(w, http.StatusInternalServerError, "Failed to fetch logs")
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (h *handlers) frequency(w http.ResponseWriter, r *http.Request) {
	rng, ok := dateRange(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "from and to must be YYYY-MM-DD")
		return
	}
	freq, err := h.store.Frequency(r.Context(), rng)
	if err != nil {
		log.WithError(err).Error("GET /api/logs/frequency failed")
		respondError(w, http.StatusInternalServerError, "Failed to fetch frequency stats")
		return
	}
	respondJSON(w, http.StatusOK, freq)
}
