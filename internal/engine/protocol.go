package engine

import "encoding/json"

// Message types understood by the battle engine.
const (
	TypeCreate = "create"
	TypeChoice = "choice"
	TypeState  = "state"
	TypeQuit   = "quit"
)

// Request is one command line sent to the engine.
type Request struct {
	Type   string `json:"type"`
	Seed   *int64 `json:"seed,omitempty"`
	Choice string `json:"choice,omitempty"`
}

func CreateRequest(seed *int64) Request { return Request{Type: TypeCreate, Seed: seed} }
func ChoiceRequest(choice string) Request {
	return Request{Type: TypeChoice, Choice: choice}
}
func StateRequest() Request { return Request{Type: TypeState} }
func QuitRequest() Request  { return Request{Type: TypeQuit} }

// BattleReply answers create and choice requests. BattleID is only set on
// create. Request is the engine's pending decision for the player and is
// passed through untouched.
type BattleReply struct {
	OK       bool            `json:"ok"`
	BattleID string          `json:"battle_id,omitempty"`
	Turn     int             `json:"turn"`
	Log      []string        `json:"log"`
	Request  json.RawMessage `json:"request"`
	Ended    bool            `json:"ended"`
	Winner   *string         `json:"winner"`
	Error    string          `json:"error,omitempty"`
}

// Finished reports whether the engine declared the battle over.
func (r *BattleReply) Finished() bool {
	return r.OK && r.Ended
}

type PokemonSummary struct {
	Name    string `json:"name"`
	Species string `json:"species"`
	HP      int    `json:"hp"`
	MaxHP   int    `json:"max_hp"`
	Fainted bool   `json:"fainted"`
	Active  bool   `json:"active"`
}

// StateReply answers a state request.
type StateReply struct {
	OK        bool             `json:"ok"`
	Turn      int              `json:"turn"`
	Started   bool             `json:"started"`
	Ended     bool             `json:"ended"`
	Winner    *string          `json:"winner"`
	P1Pokemon []PokemonSummary `json:"p1_pokemon"`
	P2Pokemon []PokemonSummary `json:"p2_pokemon"`
	Error     string           `json:"error,omitempty"`
}
