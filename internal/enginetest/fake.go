// Package enginetest provides a scripted battle engine for tests. Test
// binaries re-execute themselves as the engine: TestMain calls RunIfHelper,
// and tests point the manager at Path().
package enginetest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// EnvVar switches a test binary into engine mode.
const EnvVar = "BATTLEHOST_FAKE_ENGINE"

// RunIfHelper runs the fake engine on stdin/stdout and exits when the
// current process was started as a helper engine. It returns otherwise.
func RunIfHelper() {
	if os.Getenv(EnvVar) != "1" {
		return
	}
	Serve(os.Stdin, os.Stdout)
	os.Exit(0)
}

// Path is the binary to spawn as the fake engine. Callers must also set
// EnvVar=1 in the environment, usually with t.Setenv.
func Path() string {
	return os.Args[0]
}

type request struct {
	Type   string `json:"type"`
	Seed   *int64 `json:"seed"`
	Choice string `json:"choice"`
}

type battle struct {
	id      string
	turn    int
	started bool
	ended   bool
	winner  *string
}

// Serve answers engine requests until quit or end of input.
//
// Create with seed -1 is rejected. Choices:
//
//	"move N" / "switch N"  advance one turn
//	"forfeit"              end the battle, p2 wins
//	"win"                  end the battle, p1 wins
//	"reject"               ok:false with an error
//	"garbage"              reply with a line that is not JSON
//	"split"                reply in several delayed chunks
//	"crash"                exit without replying
//	"hang"                 never reply
func Serve(in io.Reader, out io.Writer) {
	w := bufio.NewWriter(out)
	send := func(v any) {
		encoded, _ := json.Marshal(v)
		_, _ = w.Write(append(encoded, '\n'))
		_ = w.Flush()
	}

	var b *battle
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			send(map[string]any{"ok": false, "error": "invalid command"})
			continue
		}
		switch req.Type {
		case "create":
			if req.Seed != nil && *req.Seed < 0 {
				send(map[string]any{"ok": false, "error": "invalid seed"})
				continue
			}
			b = &battle{id: fmt.Sprintf("battle-%d", os.Getpid()), started: true}
			if req.Seed != nil {
				b.id = fmt.Sprintf("battle-%d-%d", os.Getpid(), *req.Seed)
			}
			send(map[string]any{
				"ok":        true,
				"battle_id": b.id,
				"turn":      0,
				"log":       []string{"|start"},
				"request":   map[string]any{"active": []any{map[string]any{"moves": []any{}}}},
				"ended":     false,
				"winner":    nil,
			})
		case "choice":
			if b == nil {
				send(map[string]any{"ok": false, "error": "no battle"})
				continue
			}
			handleChoice(b, req.Choice, w, send)
		case "state":
			if b == nil {
				send(map[string]any{"ok": false, "error": "no battle"})
				continue
			}
			send(map[string]any{
				"ok":      true,
				"turn":    b.turn,
				"started": b.started,
				"ended":   b.ended,
				"winner":  b.winner,
				"p1_pokemon": []map[string]any{
					{"name": "Pikachu", "species": "Pikachu", "hp": 35, "max_hp": 35, "fainted": false, "active": true},
				},
				"p2_pokemon": []map[string]any{
					{"name": "Eevee", "species": "Eevee", "hp": 55, "max_hp": 55, "fainted": false, "active": true},
				},
			})
		case "quit":
			return
		default:
			send(map[string]any{"ok": false, "error": "unknown command"})
		}
	}
}

func handleChoice(b *battle, choice string, w *bufio.Writer, send func(any)) {
	reply := func() map[string]any {
		return map[string]any{
			"ok":      true,
			"turn":    b.turn,
			"log":     []string{"|turn|" + fmt.Sprint(b.turn)},
			"request": nil,
			"ended":   b.ended,
			"winner":  b.winner,
		}
	}
	switch {
	case strings.HasPrefix(choice, "move "), strings.HasPrefix(choice, "switch "):
		b.turn++
		send(reply())
	case choice == "forfeit", choice == "win":
		winner := "p2"
		if choice == "win" {
			winner = "p1"
		}
		b.ended = true
		b.winner = &winner
		send(reply())
	case choice == "reject":
		send(map[string]any{"ok": false, "error": "invalid choice"})
	case choice == "garbage":
		_, _ = w.WriteString("this is not json\n")
		_ = w.Flush()
	case choice == "split":
		b.turn++
		encoded, _ := json.Marshal(reply())
		encoded = append(encoded, '\n')
		for len(encoded) > 0 {
			n := min(7, len(encoded))
			_, _ = w.Write(encoded[:n])
			_ = w.Flush()
			encoded = encoded[n:]
			time.Sleep(2 * time.Millisecond)
		}
	case choice == "crash":
		os.Exit(3)
	case choice == "hang":
		time.Sleep(time.Hour)
	default:
		send(map[string]any{"ok": false, "error": "unrecognized choice: " + choice})
	}
}
