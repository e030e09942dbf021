package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/contextd/contextd/internal/contextmgr"
)

// EventHub fans orchestrator events out to websocket subscribers. Publishing
// never blocks; a slow subscriber drops events rather than stalling the
// orchestrator.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan contextmgr.Event]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan contextmgr.Event]struct{})}
}

// Publish satisfies contextmgr.EventSink.
func (h *EventHub) Publish(ev contextmgr.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *EventHub) subscribe() chan contextmgr.Event {
	ch := make(chan contextmgr.Event, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) unsubscribe(ch chan contextmgr.Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// SubscriberCount reports how many websocket clients are attached.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

const eventWriteTimeout = 10 * time.Second

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusNotImplemented, "events_disabled", "event feed not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	// Reader goroutine: the client never sends data, but reading is how we
	// learn about disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("event subscriber write failed")
				return
			}
		}
	}
}
