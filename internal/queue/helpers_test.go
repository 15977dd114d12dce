package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/store"
	"github.com/turnordoficial-hash/turnord02/internal/store/memory"
)

const testBusiness = "barber-1"

// Friday 2024-08-23 is the anchor day, series A.
var testNow = time.Date(2024, time.August, 23, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFakeClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(testNow)
}

func newTestService(t *testing.T) (*Service, *memory.Store, *clockwork.FakeClock) {
	t.Helper()
	clock := newFakeClock()
	st := memory.New(memory.WithClock(clock))
	st.PutService(models.Service{BusinessID: testBusiness, Name: "cut", DurationMinutes: 20, Active: true})
	st.PutService(models.Service{BusinessID: testBusiness, Name: "beard", DurationMinutes: 10, Active: true})
	svc := NewService(st, Options{Clock: clock, Location: time.UTC, Logger: discardLogger()})
	return svc, st, clock
}

func issue(t *testing.T, svc *Service, clock *clockwork.FakeClock, name, phone, service string) models.Ticket {
	t.Helper()
	ticket, err := svc.CreateTicket(context.Background(), testBusiness, IntakeRequest{
		CustomerName: name,
		Phone:        phone,
		ServiceType:  service,
		Channel:      ChannelStaff,
	})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	return ticket
}

type fakeStore struct {
	listTickets   func(ctx context.Context, filter store.Filter, opts store.ListOptions) ([]models.Ticket, error)
	countTickets  func(ctx context.Context, filter store.Filter) (int, error)
	insertTicket  func(ctx context.Context, ticket models.Ticket) (models.Ticket, error)
	updateTickets func(ctx context.Context, filter store.Filter, patch store.Patch) (int64, error)
	deleteTickets func(ctx context.Context, filter store.Filter) (int64, error)
}

func (f *fakeStore) ListTickets(ctx context.Context, filter store.Filter, opts store.ListOptions) ([]models.Ticket, error) {
	if f.listTickets == nil {
		return nil, nil
	}
	return f.listTickets(ctx, filter, opts)
}

func (f *fakeStore) CountTickets(ctx context.Context, filter store.Filter) (int, error) {
	if f.countTickets == nil {
		return 0, nil
	}
	return f.countTickets(ctx, filter)
}

func (f *fakeStore) InsertTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	if f.insertTicket == nil {
		return ticket, nil
	}
	return f.insertTicket(ctx, ticket)
}

func (f *fakeStore) UpdateTickets(ctx context.Context, filter store.Filter, patch store.Patch) (int64, error) {
	if f.updateTickets == nil {
		return 0, nil
	}
	return f.updateTickets(ctx, filter, patch)
}

func (f *fakeStore) DeleteTickets(ctx context.Context, filter store.Filter) (int64, error) {
	if f.deleteTickets == nil {
		return 0, nil
	}
	return f.deleteTickets(ctx, filter)
}

func (f *fakeStore) ListServices(ctx context.Context, businessID string) ([]models.Service, error) {
	return nil, nil
}

func (f *fakeStore) GetBusinessConfig(ctx context.Context, businessID string) (models.BusinessConfig, error) {
	return models.BusinessConfig{}, store.ErrConfigNotFound
}

func (f *fakeStore) GetBreakState(ctx context.Context, businessID string) (models.BreakState, error) {
	return models.BreakState{BusinessID: businessID}, nil
}

func (f *fakeStore) ListEarnings(ctx context.Context, businessID, from, to string) ([]models.DailyEarnings, error) {
	return nil, nil
}
