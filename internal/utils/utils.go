package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (helper logs)
// so crash information survives when a child process dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	return wrap(exec.Command(name, args...))
}

// NewSafeCommandContext is NewSafeCommand bound to ctx: the process is killed
// when ctx is done, and grandchildren holding stderr are abandoned after waitDelay.
func NewSafeCommandContext(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	return wrap(cmd)
}

const waitDelay = 500 * time.Millisecond

func wrap(cmd *exec.Cmd) *SafeCommand {
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Err decorates err with whatever the child wrote to stderr.
func (s *SafeCommand) Err(err error) error {
	if err == nil {
		return nil
	}
	if msg := bytes.TrimSpace(s.Stderr.Bytes()); len(msg) > 0 {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}

// Die is the unified exit strategy for Gatekeeper.
// It prints a formatted error box and dumps helper logs if a SafeCommand is provided.
func Die(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 GATEKEEPER ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nWORKER CRASH LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	os.Exit(1)
}

// ShowError reports a failure like Die but returns, for RunE commands
// that return the error to cobra.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n⚠️  %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nWORKER LOGS:\n%s\n", s.Stderr.String())
	}
}

// --- 2. Image Helpers ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// ErrNoJPEG is returned when a buffer holds no complete SOI..EOI frame.
var ErrNoJPEG = errors.New("no complete JPEG image found")

// SplitJpeg is a bufio.SplitFunc that yields complete JPEG frames.
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start+len(JpegSOI):], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	stop := start + len(JpegSOI) + end + len(JpegEOI)
	return stop, data[start:stop], nil
}

// ExtractJPEG returns the first complete JPEG frame in data.
func ExtractJPEG(data []byte) ([]byte, error) {
	_, token, _ := SplitJpeg(data, true)
	if token == nil {
		return nil, ErrNoJPEG
	}
	return token, nil
}
