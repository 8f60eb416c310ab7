package battle

import (
	"sync"
	"time"
)

// Reaper periodically ends sessions older than ttl. Age is measured from
// creation, not from the last command, so a long battle that is still being
// played is reaped too.
type Reaper struct {
	table    *Table
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	reap     func(*Session) bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newReaper(table *Table, ttl, interval time.Duration, now func() time.Time, reap func(*Session) bool) *Reaper {
	return &Reaper{
		table:    table,
		ttl:      ttl,
		interval: interval,
		now:      now,
		reap:     reap,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *Reaper) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep reaps every expired session once and returns how many it actually
// removed.
func (r *Reaper) Sweep() int {
	now := r.now()
	reaped := 0
	for _, sess := range r.table.Snapshot() {
		if now.Sub(sess.createdAt) > r.ttl {
			if r.reap(sess) {
				reaped++
			}
		}
	}
	return reaped
}

// Stop ends the periodic sweep and waits for a sweep in progress to finish.
// It is safe to call more than once.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
}
