// Package feed turns the ticket outbox into a per-business change feed.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/store"
)

// Event is one row-level change of the tickets collection. Ticket holds
// the new row for inserts and updates and the old row for deletes.
type Event struct {
	ID         string        `json:"id"`
	BusinessID string        `json:"business_id"`
	Type       string        `json:"type"`
	Ticket     models.Ticket `json:"ticket"`
	CreatedAt  time.Time     `json:"created_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Source delivers the events of one business until ctx is cancelled,
// then closes the channel.
type Source interface {
	Subscribe(ctx context.Context, businessID string) (<-chan Event, error)
}

// FromOutbox decodes an outbox row.
func FromOutbox(row store.OutboxEvent) (Event, error) {
	event := Event{
		ID:         row.EventID,
		BusinessID: row.BusinessID,
		Type:       row.Type,
		CreatedAt:  row.CreatedAt,
	}
	if len(row.Payload) == 0 {
		return event, nil
	}
	if err := json.Unmarshal(row.Payload, &event.Ticket); err != nil {
		return Event{}, err
	}
	return event, nil
}
