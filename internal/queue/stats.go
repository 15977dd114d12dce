package queue

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/store"
)

const (
	firstStatsHour = 8
	lastStatsHour  = 20
)

type HourlyBucket struct {
	Hour     string `json:"hour"`
	Served   int    `json:"served"`
	Returned int    `json:"returned"`
	Waiting  int    `json:"waiting"`
}

type DailyStats struct {
	Date          string         `json:"date"`
	Total         int            `json:"total"`
	Waiting       int            `json:"waiting"`
	Serving       int            `json:"serving"`
	Served        int            `json:"served"`
	Returned      int            `json:"returned"`
	Cancelled     int            `json:"cancelled"`
	NoShow        int            `json:"no_show"`
	Revenue       float64        `json:"revenue"`
	AverageCharge float64        `json:"average_charge"`
	Hourly        []HourlyBucket `json:"hourly"`
}

// ComputeDailyStats summarizes one business-day. Hourly buckets run
// from 08:00 to 20:00 and are keyed by the hour of time_created.
func ComputeDailyStats(date string, tickets []models.Ticket) DailyStats {
	stats := DailyStats{Date: date}
	buckets := make(map[string]*HourlyBucket)
	for hour := firstStatsHour; hour <= lastStatsHour; hour++ {
		key := fmt.Sprintf("%02d:00", hour)
		stats.Hourly = append(stats.Hourly, HourlyBucket{Hour: key})
	}
	for i := range stats.Hourly {
		buckets[stats.Hourly[i].Hour] = &stats.Hourly[i]
	}

	for _, ticket := range tickets {
		stats.Total++
		var bucket *HourlyBucket
		if len(ticket.TimeCreated) >= 2 {
			bucket = buckets[ticket.TimeCreated[:2]+":00"]
		}
		switch ticket.State {
		case models.StateWaiting:
			stats.Waiting++
			if bucket != nil {
				bucket.Waiting++
			}
		case models.StateServing:
			stats.Serving++
		case models.StatePaid:
			stats.Served++
			if ticket.AmountCharged != nil {
				stats.Revenue += *ticket.AmountCharged
			}
			if bucket != nil {
				bucket.Served++
			}
		case models.StateReturned:
			// Only rows imported from older data carry this state.
			stats.Returned++
			if bucket != nil {
				bucket.Returned++
			}
		case models.StateCancelled:
			stats.Cancelled++
		case models.StateNoShow:
			stats.NoShow++
		}
	}
	if stats.Served > 0 {
		stats.AverageCharge = roundCents(stats.Revenue / float64(stats.Served))
	}
	stats.Revenue = roundCents(stats.Revenue)
	return stats
}

func roundCents(value float64) float64 {
	return math.Round(value*100) / 100
}

// DailyStats computes today's statistics.
func (s *Service) DailyStats(ctx context.Context, businessID string) (stats DailyStats, err error) {
	if err := requireBusiness(businessID); err != nil {
		return DailyStats{}, err
	}
	ctx, span := s.startSpan(ctx, "queue.DailyStats", businessID)
	defer func() { endSpan(span, err) }()

	date := s.Today()
	tickets, err := s.store.ListTickets(ctx, store.Filter{BusinessID: businessID, Date: date},
		store.ListOptions{Order: store.OrderCreatedAsc})
	if err != nil {
		return DailyStats{}, newStoreError("load today's tickets", err)
	}
	return ComputeDailyStats(date, tickets), nil
}

type EarningsSummary struct {
	Today float64                `json:"today"`
	Week  float64                `json:"week"`
	Month float64                `json:"month"`
	Total float64                `json:"total"`
	Days  []models.DailyEarnings `json:"days"`
}

// WeekStart is the Monday of the week containing day.
func WeekStart(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	y, m, d := day.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, day.Location())
}

// SummarizeEarnings totals revenue for the day, week (Monday start) and
// month that contain now.
func SummarizeEarnings(now time.Time, days []models.DailyEarnings) EarningsSummary {
	today := now.Format(models.DateLayout)
	week := WeekStart(now).Format(models.DateLayout)
	y, m, _ := now.Date()
	month := time.Date(y, m, 1, 0, 0, 0, 0, now.Location()).Format(models.DateLayout)

	summary := EarningsSummary{Days: days}
	if summary.Days == nil {
		summary.Days = []models.DailyEarnings{}
	}
	for _, day := range days {
		summary.Total += day.Revenue
		if day.Date > today {
			continue
		}
		if day.Date == today {
			summary.Today += day.Revenue
		}
		if day.Date >= week {
			summary.Week += day.Revenue
		}
		if day.Date >= month {
			summary.Month += day.Revenue
		}
	}
	summary.Today = roundCents(summary.Today)
	summary.Week = roundCents(summary.Week)
	summary.Month = roundCents(summary.Month)
	summary.Total = roundCents(summary.Total)
	return summary
}

// Earnings returns the revenue history between from and to (inclusive,
// either may be empty) with the current day, week and month totals.
func (s *Service) Earnings(ctx context.Context, businessID, from, to string) (summary EarningsSummary, err error) {
	if err := requireBusiness(businessID); err != nil {
		return EarningsSummary{}, err
	}
	for field, value := range map[string]string{"from": from, "to": to} {
		if value == "" {
			continue
		}
		if _, parseErr := time.Parse(models.DateLayout, value); parseErr != nil {
			return EarningsSummary{}, &ValidationError{Field: field, Reason: "must be a YYYY-MM-DD date"}
		}
	}
	ctx, span := s.startSpan(ctx, "queue.Earnings", businessID)
	defer func() { endSpan(span, err) }()

	days, err := s.store.ListEarnings(ctx, businessID, from, to)
	if err != nil {
		return EarningsSummary{}, newStoreError("load earnings", err)
	}
	return SummarizeEarnings(s.Now(), days), nil
}
