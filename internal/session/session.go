// Package session owns the serial link and drives one recognition session per
// OPEN CAMERA command: acknowledge, run the attempt loop, answer, report.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/attempt"
	"github.com/andresmejia3/gatekeeper/internal/protocol"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// State is the controller lifecycle position.
type State int32

const (
	Idle State = iota
	Awaiting
	Running
	Reporting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Awaiting:
		return "awaiting"
	case Running:
		return "running"
	case Reporting:
		return "reporting"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Session is one completed OPEN CAMERA exchange.
type Session struct {
	ID          string // log correlation only
	RequestID   string
	Attempts    int
	Outcome     attempt.Outcome
	CompletedAt time.Time
}

// Recognized reports whether the session unlocked.
func (s Session) Recognized() bool { return s.Outcome.IsIdentified() }

// UserName is the recognized identity, empty when nobody was recognized.
func (s Session) UserName() string {
	if s.Recognized() {
		return s.Outcome.Identity
	}
	return ""
}

// Runner executes the attempt loop. *attempt.Loop satisfies it.
type Runner interface {
	Run(ctx context.Context) (attempt.Outcome, int)
}

// Reporter receives every completed session. Failures are logged, never surfaced.
type Reporter interface {
	Report(ctx context.Context, s Session) error
}

type flusher interface {
	Flush() error
}

// Controller serializes sessions over one link.
type Controller struct {
	Link      io.ReadWriter
	Runner    Runner
	Reporters []Reporter
	// Now defaults to time.Now.
	Now func() time.Time

	state   atomic.Int32
	busy    atomic.Bool
	dropped atomic.Int64
}

// New creates a controller over link.
func New(link io.ReadWriter, runner Runner, reporters ...Reporter) *Controller {
	return &Controller{Link: link, Runner: runner, Reporters: reporters}
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Dropped counts OPEN CAMERA commands discarded because a session was active.
func (c *Controller) Dropped() int64 { return c.dropped.Load() }

// Serve reads commands until the link reaches EOF or ctx is cancelled while
// idle. A session that has started always runs to completion, including its
// reports, before Serve returns. The link should be closed by the caller
// after Serve returns so the reader goroutine exits.
func (c *Controller) Serve(ctx context.Context) error {
	requests := make(chan protocol.Command, 1)
	readErr := make(chan error, 1)
	go c.read(requests, readErr)

	logger := log.WithField("component", "session")
	logger.Info("📡 Waiting for commands")

	for {
		c.state.Store(int32(Idle))
		select {
		case <-ctx.Done():
			logger.Info("🛑 Shutdown requested, controller stopping")
			return nil
		case cmd, ok := <-requests:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("serial link read failed: %w", err)
				}
				logger.Info("Link closed, controller stopping")
				return nil
			}
			c.run(context.WithoutCancel(ctx), cmd)
			c.busy.Store(false)
		}
	}
}

// maxLine bounds a protocol line. Longer runs without a newline are line
// noise and are discarded up to the next newline.
const maxLine = 4096

// read scans lines and forwards commands. Commands arriving while a session
// is active are dropped here so they never queue behind it.
func (c *Controller) read(requests chan<- protocol.Command, readErr chan<- error) {
	defer close(requests)

	logger := log.WithField("component", "session")
	r := bufio.NewReaderSize(c.Link, maxLine)
	for {
		line, skipped, err := readLine(r)
		switch {
		case skipped > 0:
			logger.WithField("bytes", skipped).Debug("Discarding over-long line")
		case line != "":
			c.handle(line, requests, logger)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			readErr <- err
			return
		}
	}
}

func (c *Controller) handle(line string, requests chan<- protocol.Command, logger *log.Entry) {
	cmd, ok := protocol.Parse(line)
	if !ok {
		logger.WithField("line", strings.TrimSpace(line)).Debug("Ignoring non-command line")
		return
	}
	if !c.busy.CompareAndSwap(false, true) {
		n := c.dropped.Add(1)
		logger.WithFields(log.Fields{"request_id": cmd.RequestID, "dropped": n}).
			Warn("⚠️  Session already active, dropping command")
		return
	}
	requests <- cmd
}

// readLine returns the next line including its newline. A line that does not
// fit the reader buffer is consumed through its newline and only its length
// is returned.
func readLine(r *bufio.Reader) (line string, skipped int, err error) {
	for {
		frag, err := r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			skipped += len(frag)
			continue
		}
		if skipped > 0 {
			return "", skipped + len(frag), err
		}
		return string(frag), 0, err
	}
}

// run performs one full session. Ordering on the wire: YES, then the verdict,
// and only after that the reports.
func (c *Controller) run(ctx context.Context, cmd protocol.Command) Session {
	s := Session{ID: uuid.NewString(), RequestID: cmd.RequestID}
	logger := log.WithFields(log.Fields{"component": "session", "session_id": s.ID, "request_id": s.RequestID})
	logger.Info("🎥 Camera requested")

	c.state.Store(int32(Awaiting))
	if err := c.send(protocol.AckDecision()); err != nil {
		logger.WithError(err).Error("Failed to acknowledge command")
	}

	c.state.Store(int32(Running))
	s.Outcome, s.Attempts = c.Runner.Run(ctx)

	verdict := protocol.DeniedDecision()
	if s.Recognized() {
		verdict = protocol.RecognizedDecision(s.Outcome.Identity)
		logger.WithField("identity", s.Outcome.Identity).Info("🎉 Face recognized, access granted")
	} else {
		logger.WithFields(log.Fields{"attempts": s.Attempts, "last": s.Outcome.Kind.String()}).
			Info("❌ No face recognized, access denied")
	}
	if err := c.send(verdict); err != nil {
		logger.WithError(err).Error("Failed to send verdict")
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	s.CompletedAt = now()

	c.state.Store(int32(Reporting))
	for _, r := range c.Reporters {
		if err := r.Report(ctx, s); err != nil {
			logger.WithError(err).WithField("reporter", fmt.Sprintf("%T", r)).Warn("Report failed")
		}
	}
	return s
}

func (c *Controller) send(d protocol.Decision) error {
	if _, err := io.WriteString(c.Link, protocol.Encode(d)); err != nil {
		return err
	}
	if f, ok := c.Link.(flusher); ok {
		return f.Flush()
	}
	return nil
}
