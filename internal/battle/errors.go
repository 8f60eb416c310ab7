package battle

import "errors"

var (
	ErrSessionNotFound  = errors.New("battle not found")
	ErrDuplicateSession = errors.New("engine returned a battle id that is already live")
	ErrShuttingDown     = errors.New("battle manager is shutting down")
)

// RejectedError is returned when the engine answers create with ok:false.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return "engine rejected battle"
	}
	return e.Reason
}
