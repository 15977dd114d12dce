package queue

import (
	"context"
	"time"

	"github.com/turnordoficial-hash/turnord02/internal/models"
)

type ServingEntry struct {
	models.Ticket
	DurationMinutes  int `json:"duration_minutes"`
	RemainingMinutes int `json:"remaining_minutes"`
}

type LineEntry struct {
	models.Ticket
	Position        int `json:"position"`
	EstimateMinutes int `json:"estimate_minutes"`
	WaitedMinutes   int `json:"waited_minutes"`
}

// Board is the staff view of the queue at one instant.
type Board struct {
	BusinessID    string         `json:"business_id"`
	Date          string         `json:"date"`
	Series        string         `json:"series"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Current       *models.Ticket `json:"current,omitempty"`
	Serving       []ServingEntry `json:"serving"`
	Line          []LineEntry    `json:"line"`
	AverageWait   int            `json:"average_wait_minutes"`
	ShowEstimates bool           `json:"show_estimates"`
	Stats         DailyStats     `json:"stats"`
	Durations     Durations      `json:"-"`
}

// Board loads the serving tickets, the waiting line with estimates and
// today's statistics.
func (s *Service) Board(ctx context.Context, businessID string) (Board, error) {
	snap, err := s.Snapshot(ctx, businessID)
	if err != nil {
		return Board{}, err
	}
	stats, err := s.DailyStats(ctx, businessID)
	if err != nil {
		return Board{}, err
	}
	cfg, err := s.BusinessConfig(ctx, businessID)
	if err != nil {
		return Board{}, err
	}
	return s.buildBoard(businessID, snap, stats, cfg.ShowEstimatedTime), nil
}

func (s *Service) buildBoard(businessID string, snap Snapshot, stats DailyStats, showEstimates bool) Board {
	now := s.Now()
	board := BuildBoard(s.estimator, snap, now)
	board.BusinessID = businessID
	board.Stats = stats
	board.ShowEstimates = showEstimates
	return board
}

// BuildBoard derives the board from a snapshot.
func BuildBoard(estimator Estimator, snap Snapshot, now time.Time) Board {
	board := Board{
		Date:        now.Format(models.DateLayout),
		Series:      SeriesLetter(now),
		GeneratedAt: now,
		Serving:     make([]ServingEntry, 0, len(snap.Serving)),
		Line:        make([]LineEntry, 0, len(snap.Line)),
		AverageWait: estimator.AverageWait(snap, now),
		Durations:   snap.Durations,
	}
	if len(snap.Serving) > 0 {
		current := snap.Serving[0]
		board.Current = &current
	}
	for _, ticket := range snap.Serving {
		duration := snap.Durations.For(ticket.ServiceType)
		board.Serving = append(board.Serving, ServingEntry{
			Ticket:           ticket,
			DurationMinutes:  duration,
			RemainingMinutes: Remaining(now, ticket.StartedAt, duration),
		})
	}
	estimates := estimator.LineEstimates(snap, now)
	for i, ticket := range snap.Line {
		board.Line = append(board.Line, LineEntry{
			Ticket:          ticket,
			Position:        i + 1,
			EstimateMinutes: estimates[i],
			WaitedMinutes:   ElapsedWaitMinutes(now, ticket.CreatedAt),
		})
	}
	return board
}

// CustomerView is what a customer tracking one ticket sees.
type CustomerView struct {
	Code          string     `json:"code"`
	State         string     `json:"state"`
	CurrentCode   string     `json:"current_code"`
	Waiting       int        `json:"waiting"`
	Position      int        `json:"position"`
	Estimate      *Estimate  `json:"estimate,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	ShowEstimates bool       `json:"show_estimates"`
}

// CurrentCode is the code on the "now serving" display: the earliest
// serving ticket, else the head of the line, else the series with 00.
func CurrentCode(snap Snapshot, now time.Time) string {
	if len(snap.Serving) > 0 {
		return snap.Serving[0].Code
	}
	if len(snap.Line) > 0 {
		return snap.Line[0].Code
	}
	return FormatCode(SeriesLetter(now), 0)
}

// CustomerView computes the view for one code of today. An empty code
// gives the public display without a tracked ticket.
func (s *Service) CustomerView(ctx context.Context, businessID, code string) (CustomerView, error) {
	snap, err := s.Snapshot(ctx, businessID)
	if err != nil {
		return CustomerView{}, err
	}
	cfg, err := s.BusinessConfig(ctx, businessID)
	if err != nil {
		return CustomerView{}, err
	}
	return BuildCustomerView(s.estimator, snap, normalizeCode(code), cfg.ShowEstimatedTime, s.Now()), nil
}

func BuildCustomerView(estimator Estimator, snap Snapshot, code string, showEstimates bool, now time.Time) CustomerView {
	view := CustomerView{
		Code:          code,
		CurrentCode:   CurrentCode(snap, now),
		Waiting:       len(snap.Line),
		ShowEstimates: showEstimates,
	}
	if code == "" {
		return view
	}
	for _, ticket := range snap.Serving {
		if ticket.Code == code {
			view.State = models.StateServing
			return view
		}
	}
	if i := indexOf(snap.Line, code); i >= 0 {
		view.State = models.StateWaiting
		view.Position = i + 1
	}
	if showEstimates && view.State == models.StateWaiting {
		target := code
		estimate := estimator.Estimate(snap, &target, now)
		deadline := Deadline(now, estimate.Minutes)
		view.Estimate = &estimate
		view.Deadline = &deadline
	}
	return view
}
