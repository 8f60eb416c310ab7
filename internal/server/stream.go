package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	sse "github.com/tmaxmax/go-sse"
)

type channelMessageWriter struct {
	ch chan *sse.Message
}

func (w *channelMessageWriter) Send(message *sse.Message) error {
	select {
	case w.ch <- message.Clone():
		return nil
	default:
		return errors.New("sse subscriber is backpressured")
	}
}

func (w *channelMessageWriter) Flush() error {
	return nil
}

// handleEvents returns the journal of a battle. It keeps working after the
// battle has ended.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "battleID")
	records, err := s.feed.History(id, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payloads := make([]json.RawMessage, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, json.RawMessage(record.Payload))
	}
	writeJSON(w, http.StatusOK, map[string]any{"battleId": id, "events": payloads})
}

// handleEventsStream replays the journal after Last-Event-ID and then
// forwards live events until the client goes away.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "battleID")

	lastEventID := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if lastEventID == "" {
		lastEventID = strings.TrimSpace(r.URL.Query().Get("lastEventId"))
	}
	history, err := s.feed.History(id, lastEventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ready := &sse.Message{}
	ready.AppendComment("ready")
	if err := sess.Send(ready); err != nil {
		return
	}
	_ = sess.Flush()

	cursor := lastEventID
	for _, record := range history {
		if err := sendSSEMessage(sess, record.ID, record.Payload); err != nil {
			return
		}
		cursor = record.ID
	}
	_ = sess.Flush()

	writer := &channelMessageWriter{ch: make(chan *sse.Message, 128)}
	sub := sse.Subscription{
		Client: writer,
		Topics: []string{id},
	}
	if cursor != "" {
		sub.LastEventID = sse.ID(cursor)
	}
	subscribeErr := make(chan error, 1)
	go func() {
		subscribeErr <- s.feed.Subscribe(r.Context(), sub)
	}()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-subscribeErr:
			return
		case message := <-writer.ch:
			if err := sess.Send(message); err != nil {
				return
			}
			_ = sess.Flush()
		}
	}
}

func sendSSEMessage(sess *sse.Session, id, payload string) error {
	msg := &sse.Message{ID: sse.ID(id)}
	msg.AppendData(payload)
	return sess.Send(msg)
}
