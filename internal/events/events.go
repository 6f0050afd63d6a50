package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tinytelemetry/errlens/internal/model"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 256

// Hub fans events out to subscribers. Emit never blocks: a subscriber whose
// queue is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]chan model.Event
	buffer int
	closed bool
}

// NewHub creates a hub. bufferSize <= 0 uses DefaultSubscriberBuffer.
func NewHub(bufferSize ...int) *Hub {
	size := DefaultSubscriberBuffer
	if len(bufferSize) > 0 && bufferSize[0] > 0 {
		size = bufferSize[0]
	}
	return &Hub{subs: make(map[string]chan model.Event), buffer: size}
}

// Emit delivers e to every subscriber with room in its queue.
func (h *Hub) Emit(e model.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func unsubscribes and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan model.Event, func()) {
	id := uuid.NewString()
	ch := make(chan model.Event, h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// LogSink writes events as structured log records.
type LogSink struct {
	Logger *slog.Logger
}

// Emit logs e at the level matching its kind.
func (s LogSink) Emit(e model.Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{slog.String("kind", string(e.Kind))}
	if e.Channel != "" {
		attrs = append(attrs, slog.String("channel", e.Channel))
	}
	logger.LogAttrs(context.Background(), Level(e.Kind), e.Message, attrs...)
}

// Level maps an event kind to a log level.
func Level(k model.EventKind) slog.Level {
	switch k {
	case model.EventDebug:
		return slog.LevelDebug
	case model.EventWarn:
		return slog.LevelWarn
	case model.EventError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Multi sends every event to each non-nil sink in order.
func Multi(sinks ...model.EventSink) model.EventSink {
	var live []model.EventSink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return model.SinkFunc(func(e model.Event) {
		for _, s := range live {
			s.Emit(e)
		}
	})
}
