// Package camera captures stills by shelling out to the platform capture utility.
package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultCommand    = "rpicam-still"
	DefaultOutputPath = "tmp_capture.jpg"
	DefaultTimeout    = 10 * time.Second

	// OutputPlaceholder in Args is replaced with the output path.
	OutputPlaceholder = "{output}"
)

// DefaultArgs are the rpicam-still flags: no preview window, one second warm-up.
var DefaultArgs = []string{"--nopreview", "-t", "1000", "-o", OutputPlaceholder}

// ErrCaptureFailed wraps every reason a still could not be produced.
var ErrCaptureFailed = errors.New("capture failed")

// Still runs Command once per capture and reads the JPEG it leaves at OutputPath.
type Still struct {
	Command    string
	Args       []string
	OutputPath string
	Timeout    time.Duration
}

// New returns a Still with defaults filled in for empty fields.
func New(command string, args []string, outputPath string, timeout time.Duration) *Still {
	s := &Still{Command: command, Args: args, OutputPath: outputPath, Timeout: timeout}
	if s.Command == "" {
		s.Command = DefaultCommand
	}
	if len(s.Args) == 0 {
		s.Args = DefaultArgs
	}
	if s.OutputPath == "" {
		s.OutputPath = DefaultOutputPath
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	return s
}

func (s *Still) args() []string {
	out := make([]string, len(s.Args))
	for i, a := range s.Args {
		out[i] = strings.ReplaceAll(a, OutputPlaceholder, s.OutputPath)
	}
	return out
}

// Capture takes one still. Any failure is returned wrapped in ErrCaptureFailed.
func (s *Still) Capture(ctx context.Context) (types.Image, error) {
	// A stale file from the previous attempt must not pass as a fresh capture.
	if err := os.Remove(s.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return types.Image{}, fmt.Errorf("%w: clearing %s: %v", ErrCaptureFailed, s.OutputPath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd := utils.NewSafeCommandContext(ctx, s.Command, s.args()...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return types.Image{}, fmt.Errorf("%w: %s timed out after %s", ErrCaptureFailed, s.Command, s.Timeout)
		}
		return types.Image{}, fmt.Errorf("%w: %v", ErrCaptureFailed, cmd.Err(err))
	}

	data, err := os.ReadFile(s.OutputPath)
	if err != nil {
		return types.Image{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	jpeg, err := utils.ExtractJPEG(data)
	if err != nil {
		return types.Image{}, fmt.Errorf("%w: %s: %v", ErrCaptureFailed, s.OutputPath, err)
	}

	log.WithFields(log.Fields{"component": "camera", "path": s.OutputPath, "bytes": len(jpeg)}).
		Info("📸 Photo saved")
	return types.Image{Path: s.OutputPath, Data: jpeg}, nil
}

// Cleanup removes the scratch capture file, if any.
func (s *Still) Cleanup() error {
	if err := os.Remove(s.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
