package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/andresmejia3/gatekeeper/internal/config"
	log "github.com/sirupsen/logrus"
)

// Init initializes the global logger based on the provided configuration.
// Logs go to stderr and are additionally appended to cfg.File when set.
func Init(cfg config.LogConfig) io.Closer {
	return initTo(cfg, os.Stderr)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func initTo(cfg config.LogConfig, base io.Writer) io.Closer {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info': %v", cfg.Level, err)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	writers := []io.Writer{base}
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0750); err != nil {
			// Continue without file logging if directory creation fails
			log.Errorf("Failed to create log directory '%s': %v", logDir, err)
		} else if file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660); err != nil {
			log.Errorf("Failed to open log file '%s': %v", cfg.File, err)
		} else {
			writers = append(writers, file)
			closer = file
		}
	}

	log.SetOutput(io.MultiWriter(writers...))
	log.Debug("Logger initialized")
	return closer
}
