package battle

import "time"

type EventKind string

const (
	EventCreated    EventKind = "created"
	EventChoice     EventKind = "choice"
	EventEnded      EventKind = "ended"
	EventTerminated EventKind = "terminated"
	EventReaped     EventKind = "reaped"
	EventFailed     EventKind = "failed"
)

// Event is one lifecycle transition of a battle.
type Event struct {
	Kind     EventKind `json:"kind"`
	BattleID string    `json:"battleId"`
	Turn     int       `json:"turn,omitempty"`
	Ended    bool      `json:"ended,omitempty"`
	Winner   *string   `json:"winner,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Listener observes battle events. BattleEvent is called synchronously from
// the goroutine that caused the transition.
type Listener interface {
	BattleEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) BattleEvent(e Event) { f(e) }
