package battle

import "sync"

// Table maps battle ids to live sessions. An id is present exactly while its
// session is active.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewTable() *Table {
	return &Table{sessions: map[string]*Session{}}
}

// Insert registers sess under its id. It returns false and leaves the table
// unchanged if the id is already taken.
func (t *Table) Insert(sess *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[sess.id]; ok {
		return false
	}
	t.sessions[sess.id] = sess
	return true
}

func (t *Table) Get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sess, ok := t.sessions[id]
	return sess, ok
}

// Remove deletes id and returns the session that was registered. Only the
// caller that gets ok=true owns the teardown.
func (t *Table) Remove(id string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	return sess, ok
}

// Snapshot returns the sessions present at the time of the call.
func (t *Table) Snapshot() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, sess := range t.sessions {
		out = append(out, sess)
	}
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
