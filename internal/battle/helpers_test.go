package battle

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"battlehost-go/internal/logging"
)

// scriptedTransport answers every read from a fixed reply and swallows
// writes.
type scriptedTransport struct {
	reply      string
	r          io.Reader
	terminated atomic.Int32
}

func (s *scriptedTransport) Read(p []byte) (int, error) {
	if s.r == nil {
		s.r = strings.NewReader(s.reply)
	}
	return s.r.Read(p)
}

func (s *scriptedTransport) Write(p []byte) (int, error) { return len(p), nil }
func (s *scriptedTransport) Pid() int                    { return 0 }
func (s *scriptedTransport) Terminate()                  { s.terminated.Add(1) }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newDebugLogger(w io.Writer) *slog.Logger {
	return logging.New(logging.Config{Level: slog.LevelDebug, Output: w})
}

// silentTransport never answers: reads block until Terminate.
type silentTransport struct {
	once       sync.Once
	closed     chan struct{}
	terminated atomic.Int32
}

func newSilentTransport() *silentTransport {
	return &silentTransport{closed: make(chan struct{})}
}

func (s *silentTransport) Read(p []byte) (int, error) {
	<-s.closed
	return 0, io.EOF
}

func (s *silentTransport) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, io.ErrClosedPipe
	default:
		return len(p), nil
	}
}

func (s *silentTransport) Pid() int { return 0 }

func (s *silentTransport) Terminate() {
	s.terminated.Add(1)
	s.once.Do(func() { close(s.closed) })
}
