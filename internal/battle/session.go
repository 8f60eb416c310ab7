package battle

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"battlehost-go/internal/engine"
)

// Transport is a running engine process. *engine.Process satisfies it.
type Transport interface {
	io.Reader
	io.Writer
	Pid() int
	Terminate()
}

// Session binds one battle id to the engine process that runs it. All
// exchanges on a session are serialized by its lock because replies carry
// no correlation id.
type Session struct {
	id        string
	createdAt time.Time
	proc      Transport
	framer    *engine.Framer

	lock       chan struct{}
	terminated atomic.Bool
}

func newSession(id string, proc Transport, framer *engine.Framer, createdAt time.Time) *Session {
	return &Session{
		id:        id,
		createdAt: createdAt,
		proc:      proc,
		framer:    framer,
		lock:      make(chan struct{}, 1),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) Active() bool         { return !s.terminated.Load() }

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) tryAcquire() bool {
	select {
	case s.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Session) release() {
	<-s.lock
}

// exchange sends req and reads exactly one reply into reply. The caller
// must hold the lock.
func (s *Session) exchange(req engine.Request, reply any) error {
	return roundTrip(s.framer, req, reply)
}

// close stops the engine. The quit line is only sent when no exchange is in
// flight; a busy session is terminated directly, which fails the pending
// read.
func (s *Session) close(logger *slog.Logger) {
	if !s.terminated.CompareAndSwap(false, true) {
		return
	}
	if s.tryAcquire() {
		if err := s.framer.Send(engine.QuitRequest()); err != nil {
			logger.Debug("quit not delivered", "battle", s.id, "error", err)
		}
		s.release()
	}
	s.proc.Terminate()
}

func roundTrip(framer *engine.Framer, req engine.Request, reply any) error {
	if err := framer.Send(req); err != nil {
		return err
	}
	return framer.Receive(reply)
}
