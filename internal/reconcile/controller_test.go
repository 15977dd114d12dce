package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnordoficial-hash/turnord02/internal/feed"
	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/queue"
)

const testBusiness = "barber-1"

var testNow = time.Date(2024, time.August, 23, 10, 0, 0, 0, time.UTC)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeLoader struct {
	mu       sync.Mutex
	calls    int
	board    func(ctx context.Context, businessID string) (queue.Board, error)
	customer func(ctx context.Context, businessID, code string) (queue.CustomerView, error)
}

func (f *fakeLoader) Board(ctx context.Context, businessID string) (queue.Board, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.board == nil {
		return queue.Board{BusinessID: businessID}, nil
	}
	return f.board(ctx, businessID)
}

func (f *fakeLoader) CustomerView(ctx context.Context, businessID, code string) (queue.CustomerView, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.customer == nil {
		return queue.CustomerView{Code: code}, nil
	}
	return f.customer(ctx, businessID, code)
}

func (f *fakeLoader) loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu         sync.Mutex
	views      []View
	countdowns map[string]time.Duration
	waits      []map[string]int
	errs       []error
}

func (r *recorder) Render(view View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, view)
}

func (r *recorder) Countdown(code string, remaining time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countdowns == nil {
		r.countdowns = make(map[string]time.Duration)
	}
	r.countdowns[code] = remaining
}

func (r *recorder) WaitElapsed(minutes map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, minutes)
}

func (r *recorder) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) renders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func (r *recorder) countdown(code string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.countdowns[code]
	return d, ok
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

type chanSource struct {
	ch chan feed.Event
}

func (s *chanSource) Subscribe(ctx context.Context, businessID string) (<-chan feed.Event, error) {
	out := make(chan feed.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-s.ch:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func generation(d *Debouncer) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	var mu sync.Mutex
	calls := 0
	d := NewDebouncer(clock, 300*time.Millisecond, func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}

	d.Trigger()
	d.Trigger()
	d.Trigger()
	clock.Advance(300 * time.Millisecond)
	require.Eventually(t, func() bool { return count() == 1 }, waitFor, tick)

	d.Trigger()
	clock.Advance(200 * time.Millisecond)
	d.Trigger()
	clock.Advance(200 * time.Millisecond)
	assert.Never(t, func() bool { return count() > 1 }, 50*time.Millisecond, tick)
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return count() == 2 }, waitFor, tick)
}

func TestDebouncerStopDropsPendingCall(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	called := make(chan struct{}, 1)
	d := NewDebouncer(clock, 300*time.Millisecond, func() { called <- struct{}{} })

	d.Trigger()
	d.Stop()
	d.Trigger()
	clock.Advance(time.Second)

	select {
	case <-called:
		t.Fatal("debounced call ran after stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewRequiresBusinessAndCustomerCode(t *testing.T) {
	_, err := New(&fakeLoader{}, &chanSource{}, &recorder{}, Options{})
	var cfgErr *queue.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	_, err = New(&fakeLoader{}, &chanSource{}, &recorder{}, Options{BusinessID: testBusiness, Role: RoleCustomer})
	var valErr *queue.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "code", valErr.Field)
}

func TestControllerCoalescesEventBurstIntoOneReload(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	loader := &fakeLoader{}
	render := &recorder{}
	source := &chanSource{ch: make(chan feed.Event)}
	c, err := New(loader, source, render, Options{BusinessID: testBusiness, Clock: clock, Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)

	require.Equal(t, 1, loader.loads())
	require.Equal(t, 1, render.renders())

	for i := 0; i < 3; i++ {
		source.ch <- feed.Event{BusinessID: testBusiness, Type: "ticket.updated"}
	}
	require.Eventually(t, func() bool { return generation(c.debouncer) == 3 }, waitFor, tick)

	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return loader.loads() == 2 }, waitFor, tick)
	assert.Never(t, func() bool { return loader.loads() > 2 }, 50*time.Millisecond, tick)
	assert.Equal(t, 2, render.renders())
}

func TestControllerRecreatesTimersOnEveryRefresh(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	started := testNow.Add(-5 * time.Minute)
	loader := &fakeLoader{board: func(ctx context.Context, businessID string) (queue.Board, error) {
		return queue.Board{
			BusinessID: businessID,
			Serving: []queue.ServingEntry{{
				Ticket:          models.Ticket{Code: "A01", State: models.StateServing, StartedAt: &started},
				DurationMinutes: 20,
			}},
			Line: []queue.LineEntry{
				{Ticket: models.Ticket{Code: "A02", State: models.StateWaiting, CreatedAt: testNow.Add(-12 * time.Minute)}, Position: 1},
				{Ticket: models.Ticket{Code: "A03", State: models.StateWaiting, CreatedAt: testNow.Add(-3 * time.Minute)}, Position: 2},
			},
		}, nil
	}}
	render := &recorder{}
	c, err := New(loader, &chanSource{ch: make(chan feed.Event)}, render, Options{BusinessID: testBusiness, Clock: clock, Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)

	assert.Equal(t, 2, c.timers.len())
	require.NoError(t, c.RefreshNow(context.Background()))
	assert.Equal(t, 2, c.timers.len())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		d, ok := render.countdown("A01")
		return ok && d == 14*time.Minute+59*time.Second
	}, waitFor, tick)

	clock.Advance(29 * time.Second)
	require.Eventually(t, func() bool {
		render.mu.Lock()
		defer render.mu.Unlock()
		return len(render.waits) == 1
	}, waitFor, tick)
	render.mu.Lock()
	assert.Equal(t, map[string]int{"A02": 12, "A03": 3}, render.waits[0])
	render.mu.Unlock()

	c.Stop()
	assert.Equal(t, 0, c.timers.len())
}

func TestControllerReportsLoadErrorsAndKeepsRunning(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	boom := errors.New("store offline")
	var mu sync.Mutex
	fail := true
	loader := &fakeLoader{board: func(ctx context.Context, businessID string) (queue.Board, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return queue.Board{}, boom
		}
		return queue.Board{BusinessID: businessID}, nil
	}}
	render := &recorder{}
	source := &chanSource{ch: make(chan feed.Event)}
	c, err := New(loader, source, render, Options{BusinessID: testBusiness, Clock: clock, Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)

	require.Len(t, render.errors(), 1)
	assert.ErrorIs(t, render.errors()[0], boom)
	assert.Equal(t, 0, render.renders())

	mu.Lock()
	fail = false
	mu.Unlock()
	source.ch <- feed.Event{BusinessID: testBusiness}
	require.Eventually(t, func() bool { return generation(c.debouncer) == 1 }, waitFor, tick)
	clock.Advance(DefaultDebounce)
	require.Eventually(t, func() bool { return render.renders() == 1 }, waitFor, tick)
}

func TestControllerKeepsCustomerDeadlineUntilItPasses(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	var mu sync.Mutex
	deadline := testNow.Add(20 * time.Minute)
	loader := &fakeLoader{customer: func(ctx context.Context, businessID, code string) (queue.CustomerView, error) {
		mu.Lock()
		defer mu.Unlock()
		at := deadline
		return queue.CustomerView{
			Code:          code,
			State:         models.StateWaiting,
			Position:      2,
			Estimate:      &queue.Estimate{Minutes: 20},
			Deadline:      &at,
			ShowEstimates: true,
		}, nil
	}}
	setDeadline := func(at time.Time) {
		mu.Lock()
		deadline = at
		mu.Unlock()
	}
	render := &recorder{}
	c, err := New(loader, &chanSource{ch: make(chan feed.Event)}, render, Options{
		Role:       RoleCustomer,
		BusinessID: testBusiness,
		Code:       "A03",
		Clock:      clock,
		Logger:     discardLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)

	first := c.View().Deadline
	require.NotNil(t, first)
	assert.Equal(t, testNow.Add(20*time.Minute), *first)

	setDeadline(testNow.Add(35 * time.Minute))
	require.NoError(t, c.RefreshNow(context.Background()))
	assert.Equal(t, testNow.Add(20*time.Minute), *c.View().Deadline)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		d, ok := render.countdown("A03")
		return ok && d == 19*time.Minute+59*time.Second
	}, waitFor, tick)

	clock.Advance(20 * time.Minute)
	require.NoError(t, c.RefreshNow(context.Background()))
	assert.Equal(t, testNow.Add(35*time.Minute), *c.View().Deadline)
}

func TestControllerStopIgnoresLaterEvents(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	loader := &fakeLoader{}
	c, err := New(loader, &chanSource{ch: make(chan feed.Event)}, &recorder{}, Options{BusinessID: testBusiness, Clock: clock, Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	c.Refresh()
	c.Stop()
	clock.Advance(time.Second)
	assert.Never(t, func() bool { return loader.loads() > 1 }, 50*time.Millisecond, tick)
	require.NoError(t, c.RefreshNow(context.Background()))
	assert.Equal(t, 1, loader.loads())
}
