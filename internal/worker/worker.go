package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils" // Using the SafeCommand wrapper
	log "github.com/sirupsen/logrus"
)

const (
	DefaultPython  = "python3"
	DefaultScript  = "python/worker.py"
	DefaultTimeout = 30 * time.Second

	// maxResponse guards against a desynced pipe being read as a huge length.
	maxResponse = 16 << 20
)

// ErrWorkerClosed is returned once the worker process is gone or its pipe is out of sync.
var ErrWorkerClosed = errors.New("python worker is closed")

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	// Timeout bounds a single request/response round trip.
	Timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewPythonWorker starts `python -u script` with an FD-3 side channel for answers.
func NewPythonWorker(id int, python, script string, timeout time.Duration) (*PythonWorker, error) {
	if python == "" {
		python = DefaultPython
	}
	if script == "" {
		script = DefaultScript
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	py := utils.NewSafeCommand(python, "-u", script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	log.WithFields(log.Fields{"component": "worker", "worker": id, "pid": py.Process.Pid, "script": script}).
		Info("🐍 Python worker started")

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		Timeout:  timeout,
	}, nil
}

// communicate sends one framed request and reads one framed answer.
func (w *PythonWorker) communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch an import crash in the worker
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("response length %d exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Extract sends the image to the worker and decodes its face detections.
// A timeout or pipe failure leaves the protocol desynced, so the worker is
// marked closed and later calls fail fast with ErrWorkerClosed.
func (w *PythonWorker) Extract(ctx context.Context, img types.Image) (types.ExtractResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return types.ExtractResult{}, ErrWorkerClosed
	}

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	type reply struct {
		body []byte
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		body, err := w.communicate(img.Data)
		done <- reply{body, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var r reply
	select {
	case r = <-done:
	case <-timer.C:
		w.shutdown()
		return types.ExtractResult{}, fmt.Errorf("worker %d: no answer within %s: %w", w.ID, timeout, ErrWorkerClosed)
	case <-ctx.Done():
		w.shutdown()
		return types.ExtractResult{}, fmt.Errorf("worker %d: %w", w.ID, ctx.Err())
	}

	if r.err != nil {
		w.shutdown()
		return types.ExtractResult{}, w.crashErr(r.err)
	}
	return decode(r.body)
}

// decode turns a worker answer into faces, or the worker's own error.
func decode(body []byte) (types.ExtractResult, error) {
	var errRes types.ErrorResult
	if err := json.Unmarshal(body, &errRes); err == nil && errRes.Error != "" {
		return types.ExtractResult{}, fmt.Errorf("python worker error: %s", errRes.Error)
	}

	var res types.ExtractResult
	if err := json.Unmarshal(body, &res); err != nil {
		return types.ExtractResult{}, fmt.Errorf("failed to decode worker response: %w", err)
	}
	return res, nil
}

func (w *PythonWorker) crashErr(err error) error {
	err = fmt.Errorf("worker %d: %v: %w", w.ID, err, ErrWorkerClosed)
	if w.Cmd != nil {
		return w.Cmd.Err(err)
	}
	return err
}

// shutdown closes the pipes and kills the process. Callers hold mu.
func (w *PythonWorker) shutdown() {
	if w.closed {
		return
	}
	w.closed = true
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
		w.Cmd.Wait()
	}
}

// Close stops the worker. Closing stdin lets the script exit on EOF first.
func (w *PythonWorker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
