package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	sse "github.com/tmaxmax/go-sse"

	"battlehost-go/internal/battle"
	"battlehost-go/internal/events"
	"battlehost-go/internal/logging"
)

// Feed records battle events in the journal and fans them out to stream
// subscribers. It is the manager's battle.Listener.
type Feed struct {
	store    *events.Store
	provider sse.Provider
	logger   *slog.Logger

	publishMu sync.Mutex
}

func NewFeed(store *events.Store, logger *slog.Logger) *Feed {
	replayer, err := sse.NewValidReplayer(24*time.Hour, false)
	if err != nil {
		panic(err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Feed{
		store:    store,
		provider: &sse.Joe{Replayer: replayer},
		logger:   logger.With("component", "feed"),
	}
}

func (f *Feed) BattleEvent(e battle.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		f.logger.Warn("encode battle event", "battle", e.BattleID, "error", err)
		return
	}

	// Journal order and publish order must agree for replay to be gapless.
	f.publishMu.Lock()
	defer f.publishMu.Unlock()

	eventID, err := f.store.Append(e.BattleID, string(payload))
	if err != nil {
		f.logger.Warn("journal battle event", "battle", e.BattleID, "kind", e.Kind, "error", err)
		return
	}
	msg := &sse.Message{ID: sse.ID(eventID)}
	msg.AppendData(string(payload))
	if err := f.provider.Publish(msg, []string{e.BattleID}); err != nil && !errors.Is(err, sse.ErrProviderClosed) {
		f.logger.Debug("publish battle event", "battle", e.BattleID, "error", err)
	}
}

func (f *Feed) History(battleID, lastEventID string) ([]events.Record, error) {
	return f.store.ReadSince(battleID, lastEventID)
}

func (f *Feed) Subscribe(ctx context.Context, sub sse.Subscription) error {
	return f.provider.Subscribe(ctx, sub)
}

// Close disconnects all stream subscribers.
func (f *Feed) Close(ctx context.Context) error {
	err := f.provider.Shutdown(ctx)
	if errors.Is(err, sse.ErrProviderClosed) {
		return nil
	}
	return err
}
