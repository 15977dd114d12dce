package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/turnordoficial-hash/turnord02/internal/models"
)

// Filter scopes a ticket query. BusinessID is mandatory; every other
// field narrows the match when set.
type Filter struct {
	BusinessID string
	ID         string
	Date       string
	DateTo     string
	Code       string
	CodePrefix string
	Phone      string
	States     []string
	OrderRank  *int
}

type Order int

const (
	OrderNone Order = iota
	OrderCreatedAsc
	OrderCreatedDesc
	// OrderLine is the waiting-line order: order_rank, then created_at.
	OrderLine
	OrderStartedAsc
	OrderRankDesc
)

type ListOptions struct {
	Order Order
	Limit int
}

// Patch lists the mutable ticket columns. Nil fields are left untouched.
type Patch struct {
	State          *string
	OrderRank      *int
	StartedAt      *time.Time
	ClearStartedAt bool
	AmountCharged  *float64
	PaymentMethod  *string
}

// RankChange moves one waiting ticket from the rank the caller
// observed to a new rank.
type RankChange struct {
	TicketID string
	From     int
	To       int
}

type TicketStore interface {
	ListTickets(ctx context.Context, filter Filter, opts ListOptions) ([]models.Ticket, error)
	CountTickets(ctx context.Context, filter Filter) (int, error)
	InsertTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error)
	UpdateTickets(ctx context.Context, filter Filter, patch Patch) (int64, error)
	DeleteTickets(ctx context.Context, filter Filter) (int64, error)
}

type BusinessStore interface {
	ListServices(ctx context.Context, businessID string) ([]models.Service, error)
	GetBusinessConfig(ctx context.Context, businessID string) (models.BusinessConfig, error)
	GetBreakState(ctx context.Context, businessID string) (models.BreakState, error)
	ListEarnings(ctx context.Context, businessID, from, to string) ([]models.DailyEarnings, error)
}

// QueueStore is everything the queue core consumes from persistence.
type QueueStore interface {
	TicketStore
	BusinessStore
}

// RankAssigner is implemented by stores that can apply a set of rank
// changes all-or-nothing. Every ticket must still be waiting at its
// observed rank, otherwise nothing is written and ErrInvalidState is
// returned.
type RankAssigner interface {
	AssignOrderRanks(ctx context.Context, businessID string, changes []RankChange) error
}

const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

type OutboxEvent struct {
	EventID    string          `json:"event_id"`
	BusinessID string          `json:"business_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

type OutboxOffset struct {
	LastEventTime time.Time
	LastEventID   string
}

// OutboxReader exposes the change log written alongside every ticket
// mutation. ListOutboxEvents returns rows after offset; a non-zero
// before excludes rows stamped at or after it.
type OutboxReader interface {
	ListOutboxEvents(ctx context.Context, offset OutboxOffset, before time.Time, limit int) ([]OutboxEvent, error)
	CleanupOutbox(ctx context.Context, before time.Time) error
}

func StringPtr(value string) *string {
	return &value
}

func IntPtr(value int) *int {
	return &value
}

func TimePtr(value time.Time) *time.Time {
	return &value
}

func FloatPtr(value float64) *float64 {
	return &value
}
