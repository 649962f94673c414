package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/attempt"
	"github.com/andresmejia3/gatekeeper/internal/types"
)

// fakeLink feeds scripted input through a pipe and records everything written.
type fakeLink struct {
	in  *io.PipeReader
	inW *io.PipeWriter

	mu      sync.Mutex
	out     bytes.Buffer
	flushes int
}

func newFakeLink() *fakeLink {
	r, w := io.Pipe()
	return &fakeLink{in: r, inW: w}
}

func (l *fakeLink) Read(p []byte) (int, error) { return l.in.Read(p) }

func (l *fakeLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Write(p)
}

func (l *fakeLink) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushes++
	return nil
}

func (l *fakeLink) send(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(l.inW, line); err != nil {
		t.Fatalf("write to link: %v", err)
	}
}

func (l *fakeLink) output() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.String()
}

// recorder is a reporter that snapshots the wire at report time.
type recorder struct {
	link *fakeLink
	err  error

	mu       sync.Mutex
	sessions []Session
	wire     []string
}

func (r *recorder) Report(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
	if r.link != nil {
		r.wire = append(r.wire, r.link.output())
	}
	return r.err
}

func (r *recorder) got() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Session(nil), r.sessions...)
}

// scripted camera and extractor drive a real attempt.Loop.
type camera struct {
	fails int
	calls int
}

func (c *camera) Capture(ctx context.Context) (types.Image, error) {
	c.calls++
	if c.calls <= c.fails {
		return types.Image{}, errors.New("camera busy")
	}
	return types.Image{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}}, nil
}

type extractor struct {
	vec types.Embedding
}

func (e extractor) Extract(ctx context.Context, img types.Image) (types.ExtractResult, error) {
	return types.ExtractResult{Faces: []types.FaceResult{{Loc: []int{0, 1, 1, 0}, Vec: e.vec}}}, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newLoop(cam attempt.Camera, vec types.Embedding) *attempt.Loop {
	return &attempt.Loop{
		Camera:      cam,
		Extractor:   extractor{vec: vec},
		Registry:    []types.Identity{{Name: "alice", Vec: types.Embedding{0, 0}}},
		Tolerance:   0.45,
		MaxAttempts: 5,
		Policy:      attempt.PrimaryFirst,
		Sleep:       noSleep,
	}
}

// serve runs the controller in the background and returns a wait func.
func serve(t *testing.T, ctx context.Context, c *Controller) func() error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()
	return func() error {
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("controller did not stop")
			return nil
		}
	}
}

func TestServe_Recognized(t *testing.T) {
	link := newFakeLink()
	cam := &camera{}
	rec := &recorder{link: link}
	c := New(link, newLoop(cam, types.Embedding{0.1, 0}), rec)

	wait := serve(t, context.Background(), c)
	link.send(t, "OPEN CAMERA 42\r\n")
	link.inW.Close()
	if err := wait(); err != nil {
		t.Fatalf("Serve returned %v", err)
	}

	if got := link.output(); got != "YES\nRECOGNIZED alice\n" {
		t.Errorf("unexpected wire output %q", got)
	}
	if cam.calls != 1 {
		t.Errorf("expected 1 capture, got %d", cam.calls)
	}

	sessions := rec.got()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 report, got %d", len(sessions))
	}
	s := sessions[0]
	if s.RequestID != "42" || s.UserName() != "alice" || s.Attempts != 1 {
		t.Errorf("unexpected session %+v", s)
	}
	if s.ID == "" || s.CompletedAt.IsZero() {
		t.Errorf("session id and completion time must be set: %+v", s)
	}
	// The verdict is on the wire before any reporter runs.
	if rec.wire[0] != "YES\nRECOGNIZED alice\n" {
		t.Errorf("report ran before the verdict was written: %q", rec.wire[0])
	}
	if link.flushes < 2 {
		t.Errorf("expected both lines flushed, got %d flushes", link.flushes)
	}
}

func TestServe_Denied(t *testing.T) {
	link := newFakeLink()
	cam := &camera{}
	rec := &recorder{}
	c := New(link, newLoop(cam, types.Embedding{0.9, 0}), rec)

	wait := serve(t, context.Background(), c)
	link.send(t, "OPEN CAMERA 7\n")
	link.inW.Close()
	wait()

	if got := link.output(); got != "YES\nNO\n" {
		t.Errorf("unexpected wire output %q", got)
	}
	if cam.calls != 5 {
		t.Errorf("expected 5 captures, got %d", cam.calls)
	}
	s := rec.got()[0]
	if s.Recognized() || s.UserName() != "" || s.Attempts != 5 {
		t.Errorf("unexpected session %+v", s)
	}
}

func TestServe_CaptureFailuresThenRecognized(t *testing.T) {
	link := newFakeLink()
	cam := &camera{fails: 4}
	rec := &recorder{}
	c := New(link, newLoop(cam, types.Embedding{0.2, 0}), rec)

	wait := serve(t, context.Background(), c)
	link.send(t, "OPEN CAMERA 9\n")
	link.inW.Close()
	wait()

	if got := link.output(); got != "YES\nRECOGNIZED alice\n" {
		t.Errorf("unexpected wire output %q", got)
	}
	if cam.calls != 5 || rec.got()[0].Attempts != 5 {
		t.Errorf("expected success on the 5th capture, got %d captures", cam.calls)
	}
}

func TestServe_MissingRequestID(t *testing.T) {
	link := newFakeLink()
	rec := &recorder{}
	c := New(link, newLoop(&camera{}, types.Embedding{0.9, 0}), rec)

	wait := serve(t, context.Background(), c)
	link.send(t, "OPEN CAMERA\n")
	link.inW.Close()
	wait()

	if got := rec.got()[0].RequestID; got != "unknown" {
		t.Errorf("expected request id unknown, got %q", got)
	}
}

func TestServe_IgnoresNoise(t *testing.T) {
	link := newFakeLink()
	rec := &recorder{}
	c := New(link, newLoop(&camera{}, types.Embedding{0, 0}), rec)

	wait := serve(t, context.Background(), c)
	link.send(t, "boot ok\n\nopen camera 1\nOPEN DOOR\n")
	link.inW.Close()
	wait()

	if got := link.output(); got != "" {
		t.Errorf("noise must produce no output, got %q", got)
	}
	if len(rec.got()) != 0 {
		t.Error("noise must produce no reports")
	}
}

func TestServe_SurvivesLongGarbageLine(t *testing.T) {
	link := newFakeLink()
	rec := &recorder{}
	c := New(link, newLoop(&camera{}, types.Embedding{0.1, 0}), rec)

	wait := serve(t, context.Background(), c)
	link.send(t, strings.Repeat("\xff", 70*1024)+"\nOPEN CAMERA 1\n")
	link.send(t, strings.Repeat("x", 3*maxLine))
	link.inW.Close()
	if err := wait(); err != nil {
		t.Fatalf("line noise must not stop the controller: %v", err)
	}

	if got := link.output(); got != "YES\nRECOGNIZED alice\n" {
		t.Errorf("unexpected wire output %q", got)
	}
	if got := rec.got(); len(got) != 1 || got[0].RequestID != "1" {
		t.Errorf("expected one session for request 1, got %+v", got)
	}
}

func TestReadLine(t *testing.T) {
	input := "short\n" + strings.Repeat("z", maxLine+10) + "\nlast"
	r := bufio.NewReaderSize(strings.NewReader(input), maxLine)

	line, skipped, err := readLine(r)
	if line != "short\n" || skipped != 0 || err != nil {
		t.Fatalf("first line: %q %d %v", line, skipped, err)
	}
	line, skipped, err = readLine(r)
	if line != "" || skipped != maxLine+11 || err != nil {
		t.Fatalf("long line: %q %d %v", line, skipped, err)
	}
	line, _, err = readLine(r)
	if line != "last" || !errors.Is(err, io.EOF) {
		t.Fatalf("last line: %q %v", line, err)
	}
}

func TestServe_SequentialSessions(t *testing.T) {
	link := newFakeLink()
	rec := &recorder{}
	c := New(link, newLoop(&camera{}, types.Embedding{0, 0}), rec)

	wait := serve(t, context.Background(), c)
	link.send(t, "OPEN CAMERA 1\n")
	waitFor(t, func() bool { return len(rec.got()) == 1 })
	link.send(t, "OPEN CAMERA 2\n")
	link.inW.Close()
	wait()

	sessions := rec.got()
	if len(sessions) != 2 || sessions[0].RequestID != "1" || sessions[1].RequestID != "2" {
		t.Fatalf("expected sessions 1 then 2, got %+v", sessions)
	}
	if sessions[0].ID == sessions[1].ID {
		t.Error("each session needs its own id")
	}
	if got := link.output(); got != "YES\nRECOGNIZED alice\nYES\nRECOGNIZED alice\n" {
		t.Errorf("unexpected wire output %q", got)
	}
}

// blockingRunner holds the session open until released.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (b *blockingRunner) Run(ctx context.Context) (attempt.Outcome, int) {
	close(b.started)
	<-b.release
	b.ctxErr = ctx.Err()
	return attempt.Outcome{Kind: attempt.Unrecognized}, 5
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
}

func TestServe_DropsWhileBusy(t *testing.T) {
	link := newFakeLink()
	runner := newBlockingRunner()
	rec := &recorder{}
	c := New(link, runner, rec)

	wait := serve(t, context.Background(), c)
	link.send(t, "OPEN CAMERA 1\n")
	<-runner.started
	if c.State() != Running {
		t.Errorf("expected running state, got %v", c.State())
	}

	link.send(t, "OPEN CAMERA 2\n")
	waitFor(t, func() bool { return c.Dropped() == 1 })

	close(runner.release)
	link.inW.Close()
	wait()

	sessions := rec.got()
	if len(sessions) != 1 || sessions[0].RequestID != "1" {
		t.Fatalf("expected only session 1, got %+v", sessions)
	}
	if got := link.output(); got != "YES\nNO\n" {
		t.Errorf("the dropped command must not be acknowledged, got %q", got)
	}
	if c.State() != Idle {
		t.Errorf("expected idle after the session, got %v", c.State())
	}
}

func TestServe_ShutdownFinishesRunningSession(t *testing.T) {
	link := newFakeLink()
	runner := newBlockingRunner()
	rec := &recorder{}
	c := New(link, runner, rec)

	ctx, cancel := context.WithCancel(context.Background())
	wait := serve(t, ctx, c)
	link.send(t, "OPEN CAMERA 5\n")
	<-runner.started

	cancel()
	close(runner.release)
	if err := wait(); err != nil {
		t.Fatalf("Serve returned %v", err)
	}
	link.inW.Close()

	if runner.ctxErr != nil {
		t.Errorf("a running session must not see shutdown, got %v", runner.ctxErr)
	}
	if got := link.output(); got != "YES\nNO\n" {
		t.Errorf("expected a complete exchange, got %q", got)
	}
	if len(rec.got()) != 1 {
		t.Error("the session must still be reported")
	}
}

func TestServe_ShutdownWhileIdle(t *testing.T) {
	link := newFakeLink()
	defer link.inW.Close()
	c := New(link, newBlockingRunner())

	ctx, cancel := context.WithCancel(context.Background())
	wait := serve(t, ctx, c)
	cancel()
	if err := wait(); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}

func TestServe_ReporterFailureSwallowed(t *testing.T) {
	link := newFakeLink()
	failing := &recorder{err: errors.New("backend down")}
	second := &recorder{}
	c := New(link, newLoop(&camera{}, types.Embedding{0, 0}), failing, second)

	wait := serve(t, context.Background(), c)
	link.send(t, "OPEN CAMERA 3\n")
	link.inW.Close()
	if err := wait(); err != nil {
		t.Fatalf("reporter failure leaked: %v", err)
	}
	if len(second.got()) != 1 {
		t.Error("later reporters must still run after a failure")
	}
}

func TestServe_ReadError(t *testing.T) {
	link := newFakeLink()
	c := New(link, newBlockingRunner())

	wait := serve(t, context.Background(), c)
	link.inW.CloseWithError(errors.New("device unplugged"))
	if err := wait(); err == nil {
		t.Error("expected read error to be returned")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
