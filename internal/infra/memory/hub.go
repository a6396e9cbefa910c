package memory

import (
	"context"
	"sync"

	"trivia-live-service/internal/domain"
)

// Hub is an in-process change feed: writers publish row mutations, consumers
// subscribe per game. It backs the in-memory store and doubles as the feed
// for single-node deployments where the rows live in Postgres but no broker
// is configured.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan domain.ChangeEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]map[chan domain.ChangeEvent]struct{})}
}

// Publish fans an event out to every subscriber of the game, in call order.
// Slow consumers lose their oldest buffered event rather than blocking the
// writer.
func (h *Hub) Publish(_ context.Context, gameID string, ev domain.ChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[gameID] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
	return nil
}

// Subscribe registers a consumer scoped to one game. The cancel func releases
// the subscription and closes the channel; no events arrive after it returns.
func (h *Hub) Subscribe(_ context.Context, gameID string) (<-chan domain.ChangeEvent, func(), error) {
	ch := make(chan domain.ChangeEvent, 16)

	h.mu.Lock()
	subs, ok := h.subscribers[gameID]
	if !ok {
		subs = make(map[chan domain.ChangeEvent]struct{})
		h.subscribers[gameID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.subscribers[gameID]; ok {
			if _, live := subs[ch]; live {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(h.subscribers, gameID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel, nil
}
