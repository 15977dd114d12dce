package feed

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/store"
	"github.com/turnordoficial-hash/turnord02/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "channel closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBrokerDeliversToBusinessSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broker := NewBroker(4, discardLogger())

	mine, err := broker.Subscribe(ctx, "b1")
	require.NoError(t, err)
	other, err := broker.Subscribe(ctx, "b2")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, Event{ID: "e1", BusinessID: "b1", Type: store.EventInsert}))
	assert.Equal(t, "e1", receive(t, mine).ID)
	select {
	case event := <-other:
		t.Fatalf("unexpected event for other business: %+v", event)
	default:
	}

	assert.ErrorIs(t, broker.Publish(ctx, Event{ID: "e2"}), store.ErrMissingBusiness)
}

func TestBrokerClosesChannelOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	broker := NewBroker(1, discardLogger())
	ch, err := broker.Subscribe(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, broker.Subscribers("b1"))

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, broker.Subscribers("b1"))
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broker := NewBroker(1, discardLogger())
	ch, err := broker.Subscribe(ctx, "b1")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, Event{ID: "e1", BusinessID: "b1"}))
	require.NoError(t, broker.Publish(ctx, Event{ID: "e2", BusinessID: "b1"}))
	assert.Equal(t, "e1", receive(t, ch).ID)
	assert.Len(t, ch, 0)
}

func TestPollerPublishesOutboxOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 8, 23, 10, 0, 0, 0, time.UTC))
	st := memory.New(memory.WithClock(clock))
	broker := NewBroker(8, discardLogger())
	events, err := broker.Subscribe(ctx, "b1")
	require.NoError(t, err)

	ticket, err := st.InsertTicket(ctx, models.Ticket{BusinessID: "b1", Code: "A01", Date: "2024-08-23"})
	require.NoError(t, err)
	_, err = st.UpdateTickets(ctx, store.Filter{BusinessID: "b1", ID: ticket.ID},
		store.Patch{State: store.StringPtr(models.StateServing)})
	require.NoError(t, err)

	poller := NewPoller(st, broker, PollerOptions{Clock: clock, Logger: discardLogger()})
	published, err := poller.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, published)

	inserted := receive(t, events)
	assert.Equal(t, store.EventInsert, inserted.Type)
	assert.Equal(t, "A01", inserted.Ticket.Code)
	updated := receive(t, events)
	assert.Equal(t, store.EventUpdate, updated.Type)
	assert.Equal(t, models.StateServing, updated.Ticket.State)
	assert.Equal(t, updated.ID, poller.Offset().LastEventID)

	published, err = poller.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)
}

func TestPollerCleansUpAfterRetention(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 8, 23, 10, 0, 0, 0, time.UTC))
	st := memory.New(memory.WithClock(clock))
	poller := NewPoller(st, NewBroker(8, discardLogger()), PollerOptions{
		Clock:     clock,
		Retention: time.Hour,
		Logger:    discardLogger(),
	})

	_, err := st.InsertTicket(ctx, models.Ticket{BusinessID: "b1", Code: "A01", Date: "2024-08-23"})
	require.NoError(t, err)
	_, err = poller.Poll(ctx)
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = st.InsertTicket(ctx, models.Ticket{BusinessID: "b1", Code: "A02", Date: "2024-08-23"})
	require.NoError(t, err)
	_, err = poller.Poll(ctx)
	require.NoError(t, err)

	remaining, err := st.ListOutboxEvents(ctx, store.OutboxOffset{}, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
}

func TestPollerHoldsBackUnsettledRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 8, 23, 10, 0, 0, 0, time.UTC))
	st := memory.New(memory.WithClock(clock))
	broker := NewBroker(8, discardLogger())
	events, err := broker.Subscribe(ctx, "b1")
	require.NoError(t, err)
	poller := NewPoller(st, broker, PollerOptions{Clock: clock, Settle: 2 * time.Second, Logger: discardLogger()})

	_, err = st.InsertTicket(ctx, models.Ticket{BusinessID: "b1", Code: "A01", Date: "2024-08-23"})
	require.NoError(t, err)
	published, err := poller.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)
	assert.Empty(t, poller.Offset().LastEventID)

	clock.Advance(3 * time.Second)
	published, err = poller.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, published)
	assert.Equal(t, "A01", receive(t, events).Ticket.Code)
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is required for redis tests")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	bus := NewRedis(client, "test-queue:", discardLogger())
	require.NoError(t, bus.Ping(ctx))
	ch, err := bus.Subscribe(ctx, "b1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, Event{ID: "e1", BusinessID: "b1", Type: store.EventDelete,
		Ticket: models.Ticket{Code: "A07"}}))
	event := receive(t, ch)
	assert.Equal(t, "e1", event.ID)
	assert.Equal(t, "A07", event.Ticket.Code)
}

func TestRedisChannelName(t *testing.T) {
	bus := NewRedis(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "", discardLogger())
	assert.Equal(t, "queue:b1", bus.Channel("b1"))
}
