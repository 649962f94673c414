// Package serial wraps the UART the door controller is attached to.
package serial

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	DefaultPort        = "/dev/serial0"
	DefaultBaud        = 9600
	DefaultReadTimeout = 2 * time.Second
)

// port is the part of serial.Port the link needs.
type port interface {
	io.ReadWriteCloser
	Drain() error
	SetReadTimeout(t time.Duration) error
}

// Link is a line-oriented serial connection. Reads block until data arrives
// or the link is closed, at which point they return io.EOF.
type Link struct {
	name   string
	port   port
	closed atomic.Bool
}

// Open opens the device in 8N1 at the given baud rate.
func Open(name string, baud int, readTimeout time.Duration) (*Link, error) {
	if name == "" {
		name = DefaultPort
	}
	if baud <= 0 {
		baud = DefaultBaud
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	// A finite timeout lets Read notice Close instead of blocking forever.
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}

	log.WithFields(log.Fields{"component": "serial", "port": name, "baud": baud}).Info("🔌 Serial port opened")
	return newLink(name, p), nil
}

func newLink(name string, p port) *Link {
	return &Link{name: name, port: p}
}

// Read retries internal timeouts so callers never see empty reads.
func (l *Link) Read(b []byte) (int, error) {
	for {
		if l.closed.Load() {
			return 0, io.EOF
		}
		n, err := l.port.Read(b)
		if err != nil {
			if l.closed.Load() {
				return n, io.EOF
			}
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

func (l *Link) Write(b []byte) (int, error) {
	return l.port.Write(b)
}

// Flush waits until everything written has left the UART.
func (l *Link) Flush() error {
	return l.port.Drain()
}

// Close releases the port. Pending and future reads return io.EOF.
func (l *Link) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.port.Close()
}

func (l *Link) String() string { return l.name }
