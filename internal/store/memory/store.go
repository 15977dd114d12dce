package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/store"
)

// Store keeps tickets and business settings in process memory. Every
// mutation appends to an outbox in the same critical section, mirroring
// the transactional outbox of the PostgreSQL store.
type Store struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	order    []string
	tickets  map[string]models.Ticket
	services map[string][]models.Service
	configs  map[string]models.BusinessConfig
	breaks   map[string]models.BreakState
	outbox   []store.OutboxEvent
}

type Option func(*Store)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		clock:    clockwork.NewRealClock(),
		tickets:  make(map[string]models.Ticket),
		services: make(map[string][]models.Service),
		configs:  make(map[string]models.BusinessConfig),
		breaks:   make(map[string]models.BreakState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ListTickets(ctx context.Context, filter store.Filter, opts store.ListOptions) ([]models.Ticket, error) {
	if filter.BusinessID == "" {
		return nil, store.ErrMissingBusiness
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var tickets []models.Ticket
	for _, id := range s.order {
		ticket := s.tickets[id]
		if filter.Matches(ticket) {
			tickets = append(tickets, cloneTicket(ticket))
		}
	}
	store.SortTickets(tickets, opts.Order)
	if opts.Limit > 0 && len(tickets) > opts.Limit {
		tickets = tickets[:opts.Limit]
	}
	return tickets, nil
}

func (s *Store) CountTickets(ctx context.Context, filter store.Filter) (int, error) {
	if filter.BusinessID == "" {
		return 0, store.ErrMissingBusiness
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, ticket := range s.tickets {
		if filter.Matches(ticket) {
			count++
		}
	}
	return count, nil
}

func (s *Store) InsertTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	if ticket.BusinessID == "" {
		return models.Ticket{}, store.ErrMissingBusiness
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tickets {
		if existing.BusinessID == ticket.BusinessID && existing.Date == ticket.Date && existing.Code == ticket.Code {
			return models.Ticket{}, store.ErrDuplicateCode
		}
	}
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = s.clock.Now().UTC()
	}
	if ticket.State == "" {
		ticket.State = models.StateWaiting
	}
	s.tickets[ticket.ID] = cloneTicket(ticket)
	s.order = append(s.order, ticket.ID)
	s.appendOutbox(store.EventInsert, ticket)
	return cloneTicket(ticket), nil
}

func (s *Store) UpdateTickets(ctx context.Context, filter store.Filter, patch store.Patch) (int64, error) {
	if filter.BusinessID == "" {
		return 0, store.ErrMissingBusiness
	}
	if patch.Empty() {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	for _, id := range s.order {
		ticket := s.tickets[id]
		if !filter.Matches(ticket) {
			continue
		}
		patch.Apply(&ticket)
		s.tickets[id] = ticket
		s.appendOutbox(store.EventUpdate, ticket)
		affected++
	}
	return affected, nil
}

func (s *Store) DeleteTickets(ctx context.Context, filter store.Filter) (int64, error) {
	if filter.BusinessID == "" {
		return 0, store.ErrMissingBusiness
	}
	if filter.ID == "" && len(filter.States) == 0 {
		return 0, store.ErrUnscopedDelete
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	kept := s.order[:0]
	for _, id := range s.order {
		ticket := s.tickets[id]
		if !filter.Matches(ticket) {
			kept = append(kept, id)
			continue
		}
		delete(s.tickets, id)
		s.appendOutbox(store.EventDelete, ticket)
		affected++
	}
	s.order = kept
	return affected, nil
}

// AssignOrderRanks applies every change or none of them.
func (s *Store) AssignOrderRanks(ctx context.Context, businessID string, changes []store.RankChange) error {
	if businessID == "" {
		return store.ErrMissingBusiness
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, change := range changes {
		ticket, ok := s.tickets[change.TicketID]
		if !ok || ticket.BusinessID != businessID {
			return store.ErrTicketNotFound
		}
		if ticket.State != models.StateWaiting || ticket.OrderRank != change.From {
			return store.ErrInvalidState
		}
	}
	for _, change := range changes {
		ticket := s.tickets[change.TicketID]
		ticket.OrderRank = change.To
		s.tickets[change.TicketID] = ticket
		s.appendOutbox(store.EventUpdate, ticket)
	}
	return nil
}

func (s *Store) ListServices(ctx context.Context, businessID string) ([]models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	services := make([]models.Service, 0, len(s.services[businessID]))
	for _, service := range s.services[businessID] {
		if service.Active {
			services = append(services, service)
		}
	}
	return services, nil
}

func (s *Store) GetBusinessConfig(ctx context.Context, businessID string) (models.BusinessConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[businessID]
	if !ok {
		return models.BusinessConfig{}, store.ErrConfigNotFound
	}
	cfg.OperatingDays = append([]string(nil), cfg.OperatingDays...)
	return cfg, nil
}

func (s *Store) GetBreakState(ctx context.Context, businessID string) (models.BreakState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.breaks[businessID]
	if !ok {
		return models.BreakState{BusinessID: businessID}, nil
	}
	return state, nil
}

func (s *Store) ListEarnings(ctx context.Context, businessID, from, to string) ([]models.DailyEarnings, error) {
	if businessID == "" {
		return nil, store.ErrMissingBusiness
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byDate := make(map[string]*models.DailyEarnings)
	for _, ticket := range s.tickets {
		if ticket.BusinessID != businessID || ticket.State != models.StatePaid {
			continue
		}
		if (from != "" && ticket.Date < from) || (to != "" && ticket.Date > to) {
			continue
		}
		entry, ok := byDate[ticket.Date]
		if !ok {
			entry = &models.DailyEarnings{Date: ticket.Date}
			byDate[ticket.Date] = entry
		}
		entry.Served++
		if ticket.AmountCharged != nil {
			entry.Revenue += *ticket.AmountCharged
		}
	}
	earnings := make([]models.DailyEarnings, 0, len(byDate))
	for _, entry := range byDate {
		earnings = append(earnings, *entry)
	}
	sort.Slice(earnings, func(i, j int) bool { return earnings[i].Date < earnings[j].Date })
	return earnings, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, offset store.OutboxOffset, before time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []store.OutboxEvent
	for _, event := range s.outbox {
		if !after(event, offset) {
			continue
		}
		if !before.IsZero() && !event.CreatedAt.Before(before) {
			break
		}
		events = append(events, event)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *Store) CleanupOutbox(ctx context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.outbox[:0]
	for _, event := range s.outbox {
		if event.CreatedAt.Before(before) {
			continue
		}
		kept = append(kept, event)
	}
	s.outbox = kept
	return nil
}

// PutService, PutBusinessConfig and PutBreakState stand in for the
// configuration management that owns these records.
func (s *Store) PutService(service models.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	services := s.services[service.BusinessID]
	for i, existing := range services {
		if existing.Name == service.Name {
			services[i] = service
			return
		}
	}
	s.services[service.BusinessID] = append(services, service)
}

func (s *Store) PutBusinessConfig(cfg models.BusinessConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.BusinessID] = cfg
}

func (s *Store) PutBreakState(state models.BreakState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breaks[state.BusinessID] = state
}

// appendOutbox must be called with s.mu held.
func (s *Store) appendOutbox(eventType string, ticket models.Ticket) {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return
	}
	createdAt := s.clock.Now().UTC()
	if n := len(s.outbox); n > 0 && !createdAt.After(s.outbox[n-1].CreatedAt) {
		createdAt = s.outbox[n-1].CreatedAt.Add(time.Microsecond)
	}
	s.outbox = append(s.outbox, store.OutboxEvent{
		EventID:    uuid.NewString(),
		BusinessID: ticket.BusinessID,
		Type:       eventType,
		Payload:    payload,
		CreatedAt:  createdAt,
	})
}

func after(event store.OutboxEvent, offset store.OutboxOffset) bool {
	if event.CreatedAt.After(offset.LastEventTime) {
		return true
	}
	return event.CreatedAt.Equal(offset.LastEventTime) && event.EventID > offset.LastEventID
}

func cloneTicket(ticket models.Ticket) models.Ticket {
	if ticket.StartedAt != nil {
		started := *ticket.StartedAt
		ticket.StartedAt = &started
	}
	if ticket.AmountCharged != nil {
		amount := *ticket.AmountCharged
		ticket.AmountCharged = &amount
	}
	if ticket.PaymentMethod != nil {
		method := *ticket.PaymentMethod
		ticket.PaymentMethod = &method
	}
	return ticket
}
