package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/turnordoficial-hash/turnord02/internal/store"
)

const defaultBuffer = 16

// Broker fans events out to in-process subscribers. A subscriber that
// falls behind loses events rather than blocking the publisher.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	buffer int
	logger *slog.Logger
}

func NewBroker(buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{subs: make(map[string]map[chan Event]struct{}), buffer: buffer, logger: logger}
}

func (b *Broker) Publish(ctx context.Context, event Event) error {
	if event.BusinessID == "" {
		return store.ErrMissingBusiness
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[event.BusinessID] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("drop feed event for slow subscriber", "business_id", event.BusinessID, "event_id", event.ID)
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, businessID string) (<-chan Event, error) {
	if businessID == "" {
		return nil, store.ErrMissingBusiness
	}
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	if b.subs[businessID] == nil {
		b.subs[businessID] = make(map[chan Event]struct{})
	}
	b.subs[businessID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[businessID], ch)
		if len(b.subs[businessID]) == 0 {
			delete(b.subs, businessID)
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Subscribers reports how many subscribers a business has.
func (b *Broker) Subscribers(businessID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[businessID])
}
