// Package sweep closes the day: waiting tickets left at the configured
// time become no-shows.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

const DefaultTime = "23:55"

type NoShowSweeper interface {
	SweepNoShows(ctx context.Context, businessID, date string) (int64, error)
}

type Options struct {
	BusinessIDs []string
	// At is the local "HH:MM" the sweep runs every day.
	At       string
	Location *time.Location
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

type Scheduler struct {
	sweeper   NoShowSweeper
	scheduler gocron.Scheduler
	job       gocron.Job
	opts      Options
	logger    *slog.Logger
}

func New(sweeper NoShowSweeper, opts Options) (*Scheduler, error) {
	if opts.At == "" {
		opts.At = DefaultTime
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	hour, minute, err := ParseClock(opts.At)
	if err != nil {
		return nil, err
	}

	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(opts.Location),
		gocron.WithClock(opts.Clock),
		gocron.WithLogger(opts.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create sweep scheduler: %w", err)
	}
	s := &Scheduler{sweeper: sweeper, scheduler: scheduler, opts: opts, logger: opts.Logger}
	s.job, err = scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))),
		gocron.NewTask(s.run),
		gocron.WithName("no-show-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("no-show sweep scheduled", "at", s.opts.At, "location", s.opts.Location.String())
}

func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) NextRun() (time.Time, error) {
	return s.job.NextRun()
}

// RunOnce sweeps today's waiting tickets for every business and returns
// the number of tickets marked.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	date := s.opts.Clock.Now().In(s.opts.Location).Format(time.DateOnly)
	var total int64
	var firstErr error
	for _, businessID := range s.opts.BusinessIDs {
		swept, err := s.sweeper.SweepNoShows(ctx, businessID, date)
		if err != nil {
			s.logger.Error("no-show sweep failed", "business_id", businessID, "date", date, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += swept
		s.logger.Info("no-show sweep done", "business_id", businessID, "date", date, "swept", swept)
	}
	return total, firstErr
}

func (s *Scheduler) run() {
	_, _ = s.RunOnce(context.Background())
}

// ParseClock reads a "HH:MM" wall-clock time.
func ParseClock(value string) (uint, uint, error) {
	hourText, minuteText, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid clock time %q", value)
	}
	hour, err := strconv.ParseUint(hourText, 10, 8)
	if err != nil || hour > 23 {
		return 0, 0, fmt.Errorf("invalid clock time %q", value)
	}
	minute, err := strconv.ParseUint(minuteText, 10, 8)
	if err != nil || minute > 59 {
		return 0, 0, fmt.Errorf("invalid clock time %q", value)
	}
	return uint(hour), uint(minute), nil
}
