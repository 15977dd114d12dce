package queue

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/turnordoficial-hash/turnord02/internal/models"
)

// DefaultServiceMinutes applies to tickets whose service is unknown or
// has no usable duration.
const DefaultServiceMinutes = 25

// MissingTargetPolicy decides what an estimate for a code that is not in
// the waiting line sums up.
type MissingTargetPolicy int

const (
	// SumWholeLine counts every waiting ticket, as if the target were last.
	SumWholeLine MissingTargetPolicy = iota
	// SumNothing counts no waiting ticket, only the ticket being served.
	SumNothing
)

func ParseMissingTargetPolicy(value string) (MissingTargetPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "whole_line":
		return SumWholeLine, nil
	case "nothing":
		return SumNothing, nil
	default:
		return SumWholeLine, fmt.Errorf("unknown missing target policy %q", value)
	}
}

func (p MissingTargetPolicy) String() string {
	if p == SumNothing {
		return "nothing"
	}
	return "whole_line"
}

// Durations maps service names to their duration in minutes.
type Durations map[string]int

func DurationsFrom(services []models.Service) Durations {
	durations := make(Durations, len(services))
	for _, service := range services {
		durations[service.Name] = service.DurationMinutes
	}
	return durations
}

func (d Durations) For(service string) int {
	if minutes, ok := d[service]; ok && minutes > 0 {
		return minutes
	}
	return DefaultServiceMinutes
}

// Remaining is the whole minutes left on a service that started at
// startedAt. A nil start means the full duration is still ahead.
func Remaining(now time.Time, startedAt *time.Time, durationMinutes int) int {
	if startedAt == nil {
		return durationMinutes
	}
	elapsed := int(math.Floor(now.Sub(*startedAt).Minutes()))
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := durationMinutes - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CountdownRemaining is Remaining at second precision, for countdowns
// refreshed every second.
func CountdownRemaining(now time.Time, startedAt *time.Time, durationMinutes int) time.Duration {
	total := time.Duration(durationMinutes) * time.Minute
	if startedAt == nil {
		return total
	}
	left := startedAt.Add(total).Sub(now)
	if left > total {
		left = total
	}
	if left < 0 {
		return 0
	}
	return left.Truncate(time.Second)
}

// ElapsedWaitMinutes is how long a ticket has been in the building.
func ElapsedWaitMinutes(now, createdAt time.Time) int {
	elapsed := int(math.Floor(now.Sub(createdAt).Minutes()))
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Deadline converts an estimate into a wall-clock time.
func Deadline(now time.Time, minutes int) time.Time {
	return now.Add(time.Duration(minutes) * time.Minute)
}

// Snapshot is the queue state an estimate is computed from. Serving is
// ordered by started_at and Line is the deduplicated waiting line.
type Snapshot struct {
	Serving   []models.Ticket
	Line      []models.Ticket
	Durations Durations
}

type Estimate struct {
	Minutes int `json:"minutes"`
	Base    int `json:"base_minutes"`
	Queue   int `json:"queue_minutes"`
	Ahead   int `json:"ahead"`
	// TargetFound is false when a target code was given but is not in
	// the waiting line; the queue part then follows MissingTarget.
	TargetFound bool `json:"target_found"`
}

type Estimator struct {
	MissingTarget MissingTargetPolicy
}

// Base is the time left on the earliest ticket being served.
func (e Estimator) Base(snap Snapshot, now time.Time) int {
	if len(snap.Serving) == 0 {
		return 0
	}
	current := snap.Serving[0]
	return Remaining(now, current.StartedAt, snap.Durations.For(current.ServiceType))
}

// Estimate returns the expected wait for target. A nil target sums the
// whole waiting line.
func (e Estimator) Estimate(snap Snapshot, target *string, now time.Time) Estimate {
	out := Estimate{Base: e.Base(snap, now)}
	ahead := len(snap.Line)
	if target != nil {
		i := indexOf(snap.Line, normalizeCode(*target))
		switch {
		case i >= 0:
			ahead = i
			out.TargetFound = true
		case e.MissingTarget == SumNothing:
			ahead = 0
		}
	}
	for _, ticket := range snap.Line[:ahead] {
		out.Queue += snap.Durations.For(ticket.ServiceType)
	}
	out.Ahead = ahead
	out.Minutes = out.Base + out.Queue
	return out
}

// LineEstimates returns the estimate of every ticket in the line, in
// line order.
func (e Estimator) LineEstimates(snap Snapshot, now time.Time) []int {
	estimates := make([]int, len(snap.Line))
	total := e.Base(snap, now)
	for i, ticket := range snap.Line {
		estimates[i] = total
		total += snap.Durations.For(ticket.ServiceType)
	}
	return estimates
}

// AverageWait is the whole-line estimate spread over the waiting tickets.
func (e Estimator) AverageWait(snap Snapshot, now time.Time) int {
	if len(snap.Line) == 0 {
		return 0
	}
	total := e.Estimate(snap, nil, now).Minutes
	return int(math.Round(float64(total) / float64(len(snap.Line))))
}
