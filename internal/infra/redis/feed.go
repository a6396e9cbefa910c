package redis

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"trivia-live-service/internal/domain"
)

// Feed carries row mutation events between processes over Redis pub/sub, one
// channel per game. Redis delivers published messages to live subscribers in
// publish order, which matches the per-row FIFO contract; nothing is retained
// across a disconnect, so reconnecting consumers must refetch state first.
type Feed struct {
	client *redis.Client
}

func NewFeed(client *redis.Client) *Feed {
	return &Feed{client: client}
}

func feedChannel(gameID string) string {
	return "feed:game:" + gameID
}

// Publish sends one change event to every subscriber of the game.
func (f *Feed) Publish(ctx context.Context, gameID string, ev domain.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, feedChannel(gameID), payload).Err()
}

// Subscribe opens a scoped subscription. The returned cancel closes the
// underlying pub/sub and the event channel; it is safe to call more than once
// and must be called unconditionally when leaving a game screen.
func (f *Feed) Subscribe(ctx context.Context, gameID string) (<-chan domain.ChangeEvent, func(), error) {
	pubsub := f.client.Subscribe(ctx, feedChannel(gameID))
	// Force the SUBSCRIBE round trip so events published after this call are
	// guaranteed to be seen.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan domain.ChangeEvent, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev domain.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Str("game_id", gameID).Msg("dropping malformed feed event")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = pubsub.Close()
		})
	}
	return out, cancel, nil
}
