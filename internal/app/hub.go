package app

import (
	"sync"

	"github.com/lumen-devotional/lumen/internal/voicechat"
)

// Hub fans controller state changes out to any number of subscribers. A slow
// subscriber only ever sees the most recent state.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan voicechat.State]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan voicechat.State]struct{})}
}

// Publish delivers st to every subscriber without blocking.
func (h *Hub) Publish(st voicechat.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		// Replace the stale pending state.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

// Subscribe returns a channel of state updates and a function that cancels
// the subscription. The channel is closed on cancel or [Hub.Close].
func (h *Hub) Subscribe() (<-chan voicechat.State, func()) {
	ch := make(chan voicechat.State, 1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Close ends all subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
