package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/gatekeeper/internal/config"
	"github.com/andresmejia3/gatekeeper/internal/logger"
	"github.com/andresmejia3/gatekeeper/internal/store"
	"github.com/spf13/cobra"
)

var (
	// cfg is the loaded configuration shared by subcommands
	cfg *config.Config
	// cfgFile is the optional YAML configuration file
	cfgFile string

	logCloser io.Closer
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "gatekeeper",
	Short:   "Face-recognition gate controller for serial door locks",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logCloser = logger.Init(cfg.Log)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", config.DefaultConfigFile, "Path to the YAML configuration file")
	pf.String("serial-port", "", "Serial device connected to the door controller (default /dev/serial0)")
	pf.String("registry-dir", "", "Directory of reference photos, one person per file (default foto)")
	pf.Float64("tolerance", 0, "Maximum face distance accepted as a match (default 0.45)")
	pf.String("log-level", "", "Log level: debug, info, warn, error (default info)")
	pf.String("database-url", "", "PostgreSQL connection string for the access log")
}

// openStore connects to the access-log database. Commands that need it call
// this themselves so `run` works on devices without a database.
func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.New(ctx, cfg.Backend.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return st, nil
}
