package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/gatekeeper/internal/registry"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/andresmejia3/gatekeeper/internal/worker"
)

// startEngine launches the Python extraction worker and loads the registry
// through it. The caller owns the returned worker.
func startEngine(ctx context.Context) (*worker.PythonWorker, *registry.Registry, error) {
	fmt.Fprintln(os.Stderr, "🚀 Starting face engine...")
	// We use ID 0 for the single long-lived worker
	w, err := worker.NewPythonWorker(0, cfg.Worker.Python, cfg.Worker.Script, cfg.Worker.Timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start face worker: %w", err)
	}

	reg, err := registry.Load(ctx, cfg.Registry.Dir, w, registry.Options{Progress: os.Stderr})
	if err != nil {
		w.Close()
		return w, nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return w, reg, nil
}

// workerLogs exposes the worker's captured stderr for error reports.
func workerLogs(w *worker.PythonWorker) *utils.SafeCommand {
	if w == nil {
		return nil
	}
	return w.Cmd
}
