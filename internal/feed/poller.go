package feed

import (
	"context"
	"expvar"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/turnordoficial-hash/turnord02/internal/store"
)

var (
	eventsPublished = expvar.NewInt("feed_events_published_total")
	pollErrors      = expvar.NewInt("feed_poll_errors_total")
)

type PollerOptions struct {
	Clock     clockwork.Clock
	Interval  time.Duration
	BatchSize int
	// Retention keeps delivered outbox rows this long before cleanup.
	// Zero disables cleanup.
	Retention time.Duration
	// Settle holds back rows younger than this so a transaction that
	// stamped its row earlier but commits later is not skipped.
	Settle    time.Duration
	Logger    *slog.Logger
}

// Poller reads the outbox in (created_at, event_id) order and publishes
// every row exactly once per process.
type Poller struct {
	reader    store.OutboxReader
	publisher Publisher
	clock     clockwork.Clock
	interval  time.Duration
	batchSize int
	retention time.Duration
	settle    time.Duration
	logger    *slog.Logger

	running int32
	offset  store.OutboxOffset
}

func NewPoller(reader store.OutboxReader, publisher Publisher, opts PollerOptions) *Poller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{
		reader:    reader,
		publisher: publisher,
		clock:     opts.Clock,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		retention: opts.Retention,
		settle:    opts.Settle,
		logger:    opts.Logger,
		offset:    store.OutboxOffset{LastEventTime: time.Unix(0, 0).UTC()},
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				pollErrors.Add(1)
				p.logger.Error("outbox poll failed", "error", err)
			}
		}
	}
}

// Poll publishes one batch and returns how many events went out. A poll
// that overlaps a running one returns immediately.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return 0, nil
	}
	defer atomic.StoreInt32(&p.running, 0)

	var before time.Time
	if p.settle > 0 {
		before = p.clock.Now().Add(-p.settle)
	}
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	rows, err := p.reader.ListOutboxEvents(listCtx, p.offset, before, p.batchSize)
	cancel()
	if err != nil {
		return 0, err
	}

	published := 0
	for _, row := range rows {
		p.offset.LastEventTime = row.CreatedAt
		p.offset.LastEventID = row.EventID
		event, err := FromOutbox(row)
		if err != nil {
			p.logger.Warn("skip undecodable outbox event", "event_id", row.EventID, "error", err)
			continue
		}
		if err := p.publisher.Publish(ctx, event); err != nil {
			p.logger.Error("publish feed event", "event_id", event.ID, "business_id", event.BusinessID, "error", err)
			continue
		}
		published++
	}
	eventsPublished.Add(int64(published))

	if len(rows) > 0 && p.retention > 0 {
		cleanupBefore := p.clock.Now().Add(-p.retention)
		if p.offset.LastEventTime.Before(cleanupBefore) {
			cleanupBefore = p.offset.LastEventTime
		}
		cleanupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := p.reader.CleanupOutbox(cleanupCtx, cleanupBefore); err != nil {
			p.logger.Error("cleanup outbox", "error", err)
		}
		cancel()
	}
	return published, nil
}

// Offset returns the position of the last event read.
func (p *Poller) Offset() store.OutboxOffset {
	return p.offset
}
