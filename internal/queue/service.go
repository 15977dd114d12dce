package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/store"
)

const tracerName = "github.com/turnordoficial-hash/turnord02/internal/queue"

type Options struct {
	Clock           clockwork.Clock
	Location        *time.Location
	MaxCodeAttempts int
	MissingTarget   MissingTargetPolicy
	Logger          *slog.Logger
	Tracer          trace.Tracer
}

// Service is the entry point UI collaborators call: intake, staff
// actions and the read models used for rendering.
type Service struct {
	store     store.QueueStore
	clock     clockwork.Clock
	location  *time.Location
	generator *Generator
	engine    *Engine
	estimator Estimator
	validate  *validator.Validate
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewService(st store.QueueStore, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Service{
		store:     st,
		clock:     opts.Clock,
		location:  opts.Location,
		generator: NewGenerator(st, opts.MaxCodeAttempts, opts.Logger),
		engine:    NewEngine(st, opts.Logger),
		estimator: Estimator{MissingTarget: opts.MissingTarget},
		validate:  newValidator(),
		logger:    opts.Logger,
		tracer:    opts.Tracer,
	}
}

// Now is the current time in the business location.
func (s *Service) Now() time.Time {
	return s.clock.Now().In(s.location)
}

// Today is the current business-day.
func (s *Service) Today() string {
	return s.Now().Format(models.DateLayout)
}

func (s *Service) Clock() clockwork.Clock {
	return s.clock
}

func (s *Service) startSpan(ctx context.Context, name, businessID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("business.id", businessID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func requireBusiness(businessID string) error {
	if businessID == "" {
		return &ValidationError{Field: "business_id", Reason: "is required"}
	}
	return nil
}

// Snapshot loads today's serving tickets and waiting line along with
// the service durations.
func (s *Service) Snapshot(ctx context.Context, businessID string) (snap Snapshot, err error) {
	if err := requireBusiness(businessID); err != nil {
		return Snapshot{}, err
	}
	ctx, span := s.startSpan(ctx, "queue.Snapshot", businessID)
	defer func() { endSpan(span, err) }()
	return s.snapshot(ctx, businessID, s.Today())
}

func (s *Service) snapshot(ctx context.Context, businessID, date string) (Snapshot, error) {
	serving, err := s.store.ListTickets(ctx, store.Filter{
		BusinessID: businessID,
		Date:       date,
		States:     []string{models.StateServing},
	}, store.ListOptions{Order: store.OrderStartedAsc})
	if err != nil {
		return Snapshot{}, newStoreError("load serving tickets", err)
	}
	waiting, err := s.store.ListTickets(ctx, store.Filter{
		BusinessID: businessID,
		Date:       date,
		States:     []string{models.StateWaiting},
	}, store.ListOptions{Order: store.OrderLine})
	if err != nil {
		return Snapshot{}, newStoreError("load waiting line", err)
	}
	services, err := s.store.ListServices(ctx, businessID)
	if err != nil {
		return Snapshot{}, newStoreError("load services", err)
	}
	return Snapshot{
		Serving:   serving,
		Line:      BuildLine(waiting),
		Durations: DurationsFrom(services),
	}, nil
}

// Estimate returns the expected wait for a code, or for the whole line
// when code is nil.
func (s *Service) Estimate(ctx context.Context, businessID string, code *string) (Estimate, error) {
	snap, err := s.Snapshot(ctx, businessID)
	if err != nil {
		return Estimate{}, err
	}
	estimate := s.estimator.Estimate(snap, code, s.Now())
	if code != nil && !estimate.TargetFound {
		s.logger.Debug("estimate target not in waiting line",
			"business_id", businessID, "code", *code, "policy", s.estimator.MissingTarget.String())
	}
	return estimate, nil
}

func (s *Service) Services(ctx context.Context, businessID string) ([]models.Service, error) {
	if err := requireBusiness(businessID); err != nil {
		return nil, err
	}
	services, err := s.store.ListServices(ctx, businessID)
	if err != nil {
		return nil, newStoreError("load services", err)
	}
	return services, nil
}

// BusinessConfig returns the saved configuration, or the defaults when
// none was saved.
func (s *Service) BusinessConfig(ctx context.Context, businessID string) (models.BusinessConfig, error) {
	cfg, err := s.store.GetBusinessConfig(ctx, businessID)
	if errors.Is(err, store.ErrConfigNotFound) {
		return models.DefaultBusinessConfig(businessID), nil
	}
	if err != nil {
		return models.BusinessConfig{}, newStoreError("load business config", err)
	}
	return cfg, nil
}

type SeriesInfo struct {
	Date   string `json:"date"`
	Letter string `json:"letter"`
}

func (s *Service) Series() SeriesInfo {
	now := s.Now()
	return SeriesInfo{Date: now.Format(models.DateLayout), Letter: SeriesLetter(now)}
}

func (s *Service) getTicket(ctx context.Context, businessID, ticketID string) (models.Ticket, error) {
	tickets, err := s.store.ListTickets(ctx, store.Filter{BusinessID: businessID, ID: ticketID}, store.ListOptions{Limit: 1})
	if err != nil {
		return models.Ticket{}, newStoreError("load ticket", err)
	}
	if len(tickets) == 0 {
		return models.Ticket{}, &ConflictError{Op: "load ticket", Reason: "ticket not found", Err: store.ErrTicketNotFound}
	}
	return tickets[0], nil
}
