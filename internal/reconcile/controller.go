// Package reconcile keeps a rendered queue view in step with the store.
// Change events schedule a debounced full reload; the view is always
// rebuilt from the store, never patched from event contents.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/turnordoficial-hash/turnord02/internal/feed"
	"github.com/turnordoficial-hash/turnord02/internal/queue"
)

const (
	DefaultDebounce    = 300 * time.Millisecond
	DefaultServiceTick = time.Second
	DefaultWaitTick    = 30 * time.Second
)

type Role int

const (
	RoleStaff Role = iota
	RoleCustomer
)

func (r Role) String() string {
	if r == RoleCustomer {
		return "customer"
	}
	return "staff"
}

// Loader is the read side of the queue service.
type Loader interface {
	Board(ctx context.Context, businessID string) (queue.Board, error)
	CustomerView(ctx context.Context, businessID, code string) (queue.CustomerView, error)
}

// View is one rendered state. Board is set for staff sessions and
// Customer for customer sessions.
type View struct {
	Role        Role
	Board       queue.Board
	Customer    queue.CustomerView
	Deadline    *time.Time
	RefreshedAt time.Time
}

type Renderer interface {
	Render(view View)
	// Countdown reports the time left on a ticket being served, or on
	// the tracked ticket's deadline for customer sessions.
	Countdown(code string, remaining time.Duration)
	// WaitElapsed reports whole minutes waited per waiting code.
	WaitElapsed(minutes map[string]int)
	Error(err error)
}

type Options struct {
	Role       Role
	BusinessID string
	// Code is the tracked ticket of a customer session.
	Code        string
	Debounce    time.Duration
	ServiceTick time.Duration
	WaitTick    time.Duration
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

type deadlineCache struct {
	code string
	at   time.Time
}

// Controller is one live session. Refreshes never overlap, and every
// refresh replaces the display timers of the previous one.
type Controller struct {
	loader    Loader
	source    feed.Source
	renderer  Renderer
	opts      Options
	clock     clockwork.Clock
	logger    *slog.Logger
	debouncer *Debouncer
	timers    timerSet

	refreshMu sync.Mutex
	stopped   bool

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	view     View
	deadline *deadlineCache
}

func New(loader Loader, source feed.Source, renderer Renderer, opts Options) (*Controller, error) {
	if opts.BusinessID == "" {
		return nil, &queue.ConfigurationError{Reason: "business id is required"}
	}
	if opts.Role == RoleCustomer && opts.Code == "" {
		return nil, &queue.ValidationError{Field: "code", Reason: "is required for customer sessions"}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.ServiceTick <= 0 {
		opts.ServiceTick = DefaultServiceTick
	}
	if opts.WaitTick <= 0 {
		opts.WaitTick = DefaultWaitTick
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Controller{
		loader:   loader,
		source:   source,
		renderer: renderer,
		opts:     opts,
		clock:    opts.Clock,
		logger:   opts.Logger.With("business_id", opts.BusinessID, "role", opts.Role.String()),
		timers:   timerSet{clock: opts.Clock},
		ctx:      context.Background(),
	}
	c.debouncer = NewDebouncer(opts.Clock, opts.Debounce, func() {
		_ = c.RefreshNow(c.context())
	})
	return c, nil
}

// Start subscribes to the feed and renders the first view. A failed
// first load is reported to the renderer but does not stop the session.
func (c *Controller) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	events, err := c.source.Subscribe(ctx, c.opts.BusinessID)
	if err != nil {
		cancel()
		return err
	}
	done := make(chan struct{})
	c.mu.Lock()
	c.ctx, c.cancel, c.done = ctx, cancel, done
	c.mu.Unlock()

	_ = c.RefreshNow(ctx)
	go func() {
		defer close(done)
		for range events {
			c.debouncer.Trigger()
		}
	}()
	return nil
}

// Refresh schedules a debounced reload.
func (c *Controller) Refresh() {
	c.debouncer.Trigger()
}

// RefreshNow reloads and renders immediately.
func (c *Controller) RefreshNow(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if c.stopped {
		return nil
	}

	view, err := c.load(ctx)
	if err != nil {
		c.logger.Warn("queue refresh failed", "error", err)
		c.renderer.Error(err)
		return err
	}
	c.timers.clear()
	c.mu.Lock()
	c.view = view
	c.mu.Unlock()
	c.renderer.Render(view)
	c.startTimers(view)
	return nil
}

// View returns the last rendered view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Stop ends the subscription and clears every pending refresh and timer.
func (c *Controller) Stop() {
	c.debouncer.Stop()
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.refreshMu.Lock()
	c.stopped = true
	c.timers.clear()
	c.refreshMu.Unlock()

	if done != nil {
		<-done
	}
}

func (c *Controller) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *Controller) load(ctx context.Context) (View, error) {
	view := View{Role: c.opts.Role}
	if c.opts.Role == RoleStaff {
		board, err := c.loader.Board(ctx, c.opts.BusinessID)
		if err != nil {
			return View{}, err
		}
		view.Board = board
		view.RefreshedAt = c.clock.Now()
		return view, nil
	}

	customer, err := c.loader.CustomerView(ctx, c.opts.BusinessID, c.opts.Code)
	if err != nil {
		return View{}, err
	}
	view.Customer = customer
	view.Deadline = c.cachedDeadline(customer)
	view.RefreshedAt = c.clock.Now()
	return view, nil
}

// cachedDeadline keeps the deadline shown to a customer until it has
// passed, so the countdown does not jump on every refresh.
func (c *Controller) cachedDeadline(view queue.CustomerView) *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if view.Deadline == nil {
		c.deadline = nil
		return nil
	}
	if c.deadline != nil && c.deadline.code == view.Code && c.clock.Now().Before(c.deadline.at) {
		at := c.deadline.at
		return &at
	}
	fresh := *view.Deadline
	c.deadline = &deadlineCache{code: view.Code, at: fresh}
	return &fresh
}

func (c *Controller) startTimers(view View) {
	if view.Role == RoleCustomer {
		if view.Deadline == nil {
			return
		}
		deadline, code := *view.Deadline, view.Customer.Code
		c.timers.every(c.opts.ServiceTick, func(now time.Time) {
			remaining := deadline.Sub(now)
			if remaining < 0 {
				remaining = 0
			}
			c.renderer.Countdown(code, remaining.Truncate(time.Second))
		})
		return
	}

	for _, entry := range view.Board.Serving {
		code, started, duration := entry.Code, entry.StartedAt, entry.DurationMinutes
		c.timers.every(c.opts.ServiceTick, func(now time.Time) {
			c.renderer.Countdown(code, queue.CountdownRemaining(now, started, duration))
		})
	}
	if len(view.Board.Line) == 0 {
		return
	}
	created := make(map[string]time.Time, len(view.Board.Line))
	for _, entry := range view.Board.Line {
		created[entry.Code] = entry.CreatedAt
	}
	c.timers.every(c.opts.WaitTick, func(now time.Time) {
		minutes := make(map[string]int, len(created))
		for code, at := range created {
			minutes[code] = queue.ElapsedWaitMinutes(now, at)
		}
		c.renderer.WaitElapsed(minutes)
	})
}
