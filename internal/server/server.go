// Package server exposes the battle manager over HTTP: a small JSON API, a
// live event stream per battle and the static browser client.
package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"battlehost-go/internal/battle"
	"battlehost-go/internal/config"
	"battlehost-go/internal/engine"
	"battlehost-go/internal/logging"
	"battlehost-go/internal/static"
)

type Server struct {
	cfg     config.Config
	battles *battle.Manager
	feed    *Feed
	public  *static.Root
	logger  *slog.Logger
}

func New(cfg config.Config, battles *battle.Manager, feed *Feed, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		cfg:     cfg,
		battles: battles,
		feed:    feed,
		public:  static.NewRoot(cfg.PublicDir),
		logger:  logger.With("component", "http"),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(AllowClients(s.cfg.AllowCIDRs))
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(s.logger))
	r.Use(Recovery(s.logger))

	r.Route("/api", func(r chi.Router) {
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "not found")
		})
		r.Get("/health", s.handleHealth)
		r.Route("/battles", func(r chi.Router) {
			r.Post("/", s.handleCreate)
			r.Route("/{battleID}", func(r chi.Router) {
				r.Get("/", s.handleState)
				r.Delete("/", s.handleDelete)
				r.Post("/choice", s.handleChoice)
				r.Get("/events", s.handleEvents)
				r.Get("/events/stream", s.handleEventsStream)
			})
		})
	})
	r.Handle("/*", s.public)

	return r
}

type battleResponse struct {
	BattleID string          `json:"battleId"`
	Turn     int             `json:"turn"`
	Log      []string        `json:"log"`
	Request  json.RawMessage `json:"request"`
	Ended    bool            `json:"ended"`
	Winner   *string         `json:"winner"`
}

type sideResponse struct {
	Pokemon []engine.PokemonSummary `json:"pokemon"`
}

type stateResponse struct {
	BattleID string       `json:"battleId"`
	Turn     int          `json:"turn"`
	Started  bool         `json:"started"`
	Ended    bool         `json:"ended"`
	Winner   *string      `json:"winner"`
	Player   sideResponse `json:"player"`
	Opponent sideResponse `json:"opponent"`
}

func newBattleResponse(id string, reply *engine.BattleReply) battleResponse {
	resp := battleResponse{
		BattleID: id,
		Turn:     reply.Turn,
		Log:      reply.Log,
		Request:  reply.Request,
		Ended:    reply.Ended,
		Winner:   reply.Winner,
	}
	if resp.Log == nil {
		resp.Log = []string{}
	}
	if len(resp.Request) == 0 {
		resp.Request = json.RawMessage("null")
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "battles": s.battles.Len()})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	// A missing or unreadable body means "no seed".
	var body struct {
		Seed *int64 `json:"seed"`
	}
	if raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<16)); err == nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			body.Seed = nil
		}
	}

	reply, err := s.battles.Create(r.Context(), body.Seed)
	if err != nil {
		s.logger.Warn("create battle failed", "request_id", requestIDFrom(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newBattleResponse(reply.BattleID, reply))
}

func (s *Server) handleChoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "battleID")
	if !s.battles.Has(id) {
		writeError(w, http.StatusNotFound, "Battle not found")
		return
	}

	var body struct {
		Choice string `json:"choice"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Choice == "" {
		writeError(w, http.StatusBadRequest, "Missing 'choice' in request body")
		return
	}

	reply, err := s.battles.Choose(r.Context(), id, body.Choice)
	if err != nil {
		s.writeBattleError(w, r, id, err)
		return
	}
	if !reply.OK {
		msg := reply.Error
		if msg == "" {
			msg = "Unknown error"
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	writeJSON(w, http.StatusOK, newBattleResponse(id, reply))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "battleID")
	if !s.battles.Has(id) {
		writeError(w, http.StatusNotFound, "Battle not found")
		return
	}

	reply, err := s.battles.State(r.Context(), id)
	if err != nil {
		s.writeBattleError(w, r, id, err)
		return
	}
	if !reply.OK {
		writeError(w, http.StatusInternalServerError, "Failed to get state")
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{
		BattleID: id,
		Turn:     reply.Turn,
		Started:  reply.Started,
		Ended:    reply.Ended,
		Winner:   reply.Winner,
		Player:   sideResponse{Pokemon: nonNil(reply.P1Pokemon)},
		Opponent: sideResponse{Pokemon: nonNil(reply.P2Pokemon)},
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "battleID")
	if !s.battles.Has(id) {
		writeError(w, http.StatusNotFound, "Battle not found")
		return
	}
	s.battles.Terminate(id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) writeBattleError(w http.ResponseWriter, r *http.Request, id string, err error) {
	if battle.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "Battle not found")
		return
	}
	s.logger.Warn("battle command failed",
		"request_id", requestIDFrom(r.Context()),
		"battle", id,
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func nonNil(p []engine.PokemonSummary) []engine.PokemonSummary {
	if p == nil {
		return []engine.PokemonSummary{}
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
