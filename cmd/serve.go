package cmd

import (
	"context"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/backend"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the access-log backend that receives door events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd.Context(), cmd)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (default backend.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default backend.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	host, port := cfg.Backend.Host, cfg.Backend.Port
	if cmd.Flags().Changed("host") {
		host = serveHost
	}
	if cmd.Flags().Changed("port") {
		port = servePort
	}
	if cfg.Backend.CallbackSecret == "" {
		log.Warn("⚠️  backend.callback_secret is empty, every callback will fail with 500")
	}

	st, err := openStore(ctx)
	if err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}
	defer st.Close()

	srv := backend.NewServer(st, host, port, cfg.Backend.CallbackSecret)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	// Use Background here because the main context is already cancelled (Ctrl+C)
	// and in-flight requests still deserve a moment to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
