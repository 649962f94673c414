package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// frame writes one length-prefixed body the way the worker does on FD 3.
func frame(buf *bytes.Buffer, body string) {
	binary.Write(buf, binary.BigEndian, uint32(len(body)))
	buf.WriteString(body)
}

func newMockWorker(response string) (*PythonWorker, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	frame(dataPipeMock.Buffer, response)

	// Cmd is nil because we aren't testing process management, just the protocol
	return &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock, Timeout: time.Second}, stdinMock
}

func TestExtract(t *testing.T) {
	w, stdinMock := newMockWorker(`{"faces":[{"loc":[10,60,70,5],"vec":[0.5,0.25]}],"objects":[[1,2,3,4]]}`)

	inputFrame := []byte{0xFF, 0xD8, 0xBE, 0xEF, 0xFF, 0xD9}
	res, err := w.Extract(context.Background(), types.Image{Data: inputFrame})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// Verify Go sent the correct data TO Python
	sent := stdinMock.Bytes()
	if len(sent) != 4+len(inputFrame) {
		t.Fatalf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sent))
	}
	if n := binary.BigEndian.Uint32(sent[:4]); int(n) != len(inputFrame) {
		t.Errorf("Expected length header %d, got %d", len(inputFrame), n)
	}
	if !bytes.Equal(sent[4:], inputFrame) {
		t.Errorf("Expected body %X, got %X", inputFrame, sent[4:])
	}

	// Verify Go read the correct data FROM Python
	if len(res.Faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(res.Faces))
	}
	if math.Abs(res.Faces[0].Vec[0]-0.5) > 1e-9 {
		t.Errorf("Expected vector[0] approx 0.5, got %f", res.Faces[0].Vec[0])
	}
	if res.Faces[0].Area() != 60*55 {
		t.Errorf("Unexpected face area %d", res.Faces[0].Area())
	}
	if len(res.Objects) != 1 {
		t.Errorf("Expected 1 object box, got %d", len(res.Objects))
	}
}

func TestExtract_NoFaces(t *testing.T) {
	w, _ := newMockWorker(`{"faces":[]}`)
	res, err := w.Extract(context.Background(), types.Image{Data: []byte("img")})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(res.Faces) != 0 {
		t.Errorf("Expected no faces, got %d", len(res.Faces))
	}
}

func TestExtract_Error(t *testing.T) {
	errMsg := "Python Exception: cannot identify image file"
	w, _ := newMockWorker(`{"error":"` + errMsg + `"}`)

	_, err := w.Extract(context.Background(), types.Image{Data: []byte("frame")})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}

	// A reported error keeps the pipe in sync: the worker stays usable.
	if w.closed {
		t.Error("worker should stay open after an application-level error")
	}
}

func TestExtract_Crash(t *testing.T) {
	// Empty data pipe: the worker died before answering.
	w := &PythonWorker{
		ID:       2,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
		Timeout:  time.Second,
	}

	_, err := w.Extract(context.Background(), types.Image{Data: []byte("frame")})
	if !errors.Is(err, ErrWorkerClosed) {
		t.Fatalf("Expected ErrWorkerClosed, got %v", err)
	}

	_, err = w.Extract(context.Background(), types.Image{Data: []byte("frame")})
	if !errors.Is(err, ErrWorkerClosed) {
		t.Errorf("Expected closed worker to fail fast, got %v", err)
	}
}

func TestExtract_Timeout(t *testing.T) {
	// An io.Pipe with no writer blocks forever until closed.
	pr, pw := io.Pipe()
	defer pw.Close()

	w := &PythonWorker{
		ID:       3,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: pr,
		Timeout:  50 * time.Millisecond,
	}

	start := time.Now()
	_, err := w.Extract(context.Background(), types.Image{Data: []byte("frame")})
	if !errors.Is(err, ErrWorkerClosed) {
		t.Fatalf("Expected ErrWorkerClosed on timeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "no answer") {
		t.Errorf("Expected timeout message, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Extract did not honour its timeout")
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := decode([]byte("not json")); err == nil {
		t.Error("Expected decode error for garbage body")
	}
}
