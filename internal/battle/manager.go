// Package battle supervises battle engine processes: one process per live
// battle, a table of live battles, an idle reaper and a shutdown drain.
package battle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"battlehost-go/internal/engine"
	"battlehost-go/internal/logging"
)

const (
	DefaultIdleTimeout  = 30 * time.Minute
	DefaultReapInterval = 5 * time.Minute

	drainConcurrency = 8
)

// SpawnFunc starts an engine process.
type SpawnFunc func(path string, opts engine.SpawnOptions) (Transport, error)

// Options configure a Manager. Zero durations fall back to the defaults.
type Options struct {
	EnginePath   string
	EngineArgs   []string
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	KillGrace    time.Duration
	// EngineStderr forwards engine stderr to the debug log instead of
	// discarding it.
	EngineStderr bool

	Logger   *slog.Logger
	Listener Listener
	Spawn    SpawnFunc
	Now      func() time.Time
}

// Manager owns every live battle session.
type Manager struct {
	opts   Options
	logger *slog.Logger
	table  *Table
	reaper *Reaper
	closed atomic.Bool

	// spawning holds engines that are still waiting for their create reply.
	spawnMu  sync.Mutex
	spawning map[Transport]struct{}
}

// NewManager builds a Manager and starts its reaper.
func NewManager(opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = DefaultReapInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Spawn == nil {
		opts.Spawn = spawnProcess
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Manager{
		opts:   opts,
		logger: opts.Logger.With("component", "battle"),
		table:  NewTable(),

		spawning: map[Transport]struct{}{},
	}
	m.reaper = newReaper(m.table, opts.IdleTimeout, opts.ReapInterval, opts.Now, m.reap)
	go m.reaper.run()
	return m
}

func spawnProcess(path string, opts engine.SpawnOptions) (Transport, error) {
	proc, err := engine.Spawn(path, opts)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// Create starts a new engine process and asks it for a battle. The battle is
// registered under the id the engine returns. On any failure the process is
// stopped and nothing is registered.
func (m *Manager) Create(ctx context.Context, seed *int64) (*engine.BattleReply, error) {
	if m.closed.Load() {
		return nil, ErrShuttingDown
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spawnOpts := engine.SpawnOptions{Args: m.opts.EngineArgs, KillGrace: m.opts.KillGrace}
	if m.opts.EngineStderr {
		spawnOpts.Stderr = m.logger.With("stream", "engine")
	}
	proc, err := m.opts.Spawn(m.opts.EnginePath, spawnOpts)
	if err != nil {
		return nil, err
	}
	if !m.track(proc) {
		proc.Terminate()
		return nil, ErrShuttingDown
	}

	// The process is discarded on any failure, so unlike Choose the read
	// may be abandoned when ctx ends.
	stop := context.AfterFunc(ctx, proc.Terminate)
	framer := engine.NewFramer(proc, proc)
	var reply engine.BattleReply
	err = roundTrip(framer, engine.CreateRequest(seed), &reply)
	abandoned := !stop()
	m.untrack(proc)
	switch {
	case abandoned:
		proc.Terminate()
		return nil, fmt.Errorf("create battle: %w", ctx.Err())
	case err != nil:
		proc.Terminate()
		if m.closed.Load() {
			return nil, ErrShuttingDown
		}
		return nil, fmt.Errorf("create battle: %w", err)
	}
	if !reply.OK {
		proc.Terminate()
		return nil, &RejectedError{Reason: reply.Error}
	}
	if reply.BattleID == "" {
		proc.Terminate()
		return nil, fmt.Errorf("create battle: %w: reply has no battle_id", engine.ErrMalformedMessage)
	}

	sess := newSession(reply.BattleID, proc, framer, m.opts.Now())
	if !m.table.Insert(sess) {
		proc.Terminate()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, reply.BattleID)
	}
	if m.closed.Load() {
		m.end(sess.id)
		return nil, ErrShuttingDown
	}

	m.logger.Info("battle created", "battle", sess.id, "pid", proc.Pid())
	m.emit(Event{Kind: EventCreated, BattleID: sess.id, Turn: reply.Turn})
	return &reply, nil
}

// Choose forwards a player choice. A reply with ok:false is returned as a
// normal result. When the engine reports the battle ended, the session is
// torn down before Choose returns.
func (m *Manager) Choose(ctx context.Context, id, choice string) (*engine.BattleReply, error) {
	sess, err := m.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	var reply engine.BattleReply
	err = sess.exchange(engine.ChoiceRequest(choice), &reply)
	sess.release()
	if err != nil {
		m.fail(id, err)
		return nil, fmt.Errorf("battle %s: choice: %w", id, err)
	}

	m.emit(Event{Kind: EventChoice, BattleID: id, Turn: reply.Turn, Ended: reply.Ended, Winner: reply.Winner})
	if reply.Finished() {
		if m.end(id) {
			m.logger.Info("battle ended", "battle", id, "winner", winnerName(reply.Winner))
			m.emit(Event{Kind: EventEnded, BattleID: id, Turn: reply.Turn, Ended: true, Winner: reply.Winner})
		}
	}
	return &reply, nil
}

// State asks the engine for the battle state and returns it unmodified.
func (m *Manager) State(ctx context.Context, id string) (*engine.StateReply, error) {
	sess, err := m.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	var reply engine.StateReply
	err = sess.exchange(engine.StateRequest(), &reply)
	sess.release()
	if err != nil {
		m.fail(id, err)
		return nil, fmt.Errorf("battle %s: state: %w", id, err)
	}
	return &reply, nil
}

// Terminate ends a battle. Unknown ids are ignored.
func (m *Manager) Terminate(id string) {
	if m.end(id) {
		m.logger.Info("battle terminated", "battle", id)
		m.emit(Event{Kind: EventTerminated, BattleID: id, Reason: "requested"})
	}
}

func (m *Manager) Has(id string) bool {
	_, ok := m.table.Get(id)
	return ok
}

// Len returns the number of live battles.
func (m *Manager) Len() int {
	return m.table.Len()
}

// ReapIdle runs one reaper sweep immediately.
func (m *Manager) ReapIdle() int {
	return m.reaper.Sweep()
}

// Shutdown stops the reaper and then terminates every live battle and every
// engine still starting up. New battles are refused from the moment Shutdown
// is called. It returns ctx.Err() if the drain outlives ctx; the drain keeps
// running in that case, so callers that must not leave engines behind should
// pass a context without a deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closed.Store(true)
	m.reaper.Stop()

	m.spawnMu.Lock()
	starting := make([]Transport, 0, len(m.spawning))
	for proc := range m.spawning {
		starting = append(starting, proc)
	}
	m.spawnMu.Unlock()
	sessions := m.table.Snapshot()

	done := make(chan struct{})
	go func() {
		var g errgroup.Group
		g.SetLimit(drainConcurrency)
		for _, proc := range starting {
			g.Go(func() error {
				proc.Terminate()
				return nil
			})
		}
		for _, sess := range sessions {
			g.Go(func() error {
				if m.end(sess.id) {
					m.emit(Event{Kind: EventTerminated, BattleID: sess.id, Reason: "shutdown"})
				}
				return nil
			})
		}
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("battles drained", "count", len(sessions), "starting", len(starting))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track records an engine awaiting its create reply. It refuses once
// Shutdown has begun, so every spawned engine is seen by exactly one of
// Create or Shutdown.
func (m *Manager) track(proc Transport) bool {
	m.spawnMu.Lock()
	defer m.spawnMu.Unlock()
	if m.closed.Load() {
		return false
	}
	m.spawning[proc] = struct{}{}
	return true
}

func (m *Manager) untrack(proc Transport) {
	m.spawnMu.Lock()
	delete(m.spawning, proc)
	m.spawnMu.Unlock()
}

func (m *Manager) lock(ctx context.Context, id string) (*Session, error) {
	sess, ok := m.table.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err := sess.acquire(ctx); err != nil {
		return nil, err
	}
	if !sess.Active() {
		sess.release()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// end removes id from the table and stops its engine. It reports whether
// this call performed the removal.
func (m *Manager) end(id string) bool {
	sess, ok := m.table.Remove(id)
	if !ok {
		return false
	}
	sess.close(m.logger)
	return true
}

// fail tears the session down when err shows the engine is gone. Other
// protocol errors leave the session registered.
func (m *Manager) fail(id string, err error) {
	if !engine.IsFatal(err) {
		m.logger.Warn("engine exchange failed", "battle", id, "error", err)
		return
	}
	if m.end(id) {
		m.logger.Warn("engine process lost", "battle", id, "error", err)
		m.emit(Event{Kind: EventFailed, BattleID: id, Reason: err.Error()})
	}
}

// reap reports whether this call removed the session; a concurrent
// Terminate or battle end may win the race.
func (m *Manager) reap(sess *Session) bool {
	if !m.end(sess.id) {
		return false
	}
	m.logger.Info("reaped idle battle", "battle", sess.id, "age", m.opts.Now().Sub(sess.createdAt).Round(time.Second))
	m.emit(Event{Kind: EventReaped, BattleID: sess.id, Reason: "idle timeout"})
	return true
}

func (m *Manager) emit(e Event) {
	if m.opts.Listener == nil {
		return
	}
	if e.At.IsZero() {
		e.At = m.opts.Now()
	}
	m.opts.Listener.BattleEvent(e)
}

func winnerName(w *string) string {
	if w == nil {
		return ""
	}
	return *w
}

// IsNotFound reports whether err means the battle id is not live.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}
