package models

import "time"

type Service struct {
	BusinessID      string `json:"business_id" yaml:"business_id"`
	Name            string `json:"name" yaml:"name"`
	DurationMinutes int    `json:"duration_minutes" yaml:"duration_minutes"`
	Active          bool   `json:"active" yaml:"active"`
}

type BusinessConfig struct {
	BusinessID        string   `json:"business_id" yaml:"business_id"`
	OpeningTime       string   `json:"opening_time" yaml:"opening_time"`
	ClosingTime       string   `json:"closing_time" yaml:"closing_time"`
	DailyTicketLimit  int      `json:"daily_ticket_limit" yaml:"daily_ticket_limit"`
	OperatingDays     []string `json:"operating_days" yaml:"operating_days"`
	ShowEstimatedTime bool     `json:"show_estimated_time" yaml:"show_estimated_time"`
}

// DefaultBusinessConfig mirrors the column defaults applied when a
// business has not saved its own configuration yet.
func DefaultBusinessConfig(businessID string) BusinessConfig {
	return BusinessConfig{
		BusinessID:        businessID,
		OpeningTime:       "08:00",
		ClosingTime:       "23:00",
		DailyTicketLimit:  50,
		ShowEstimatedTime: true,
	}
}

type BreakState struct {
	BusinessID   string     `json:"business_id" yaml:"business_id"`
	OnBreak      bool       `json:"on_break" yaml:"on_break"`
	BreakEndTime *time.Time `json:"break_end_time,omitempty" yaml:"break_end_time,omitempty"`
	BreakMessage string     `json:"break_message,omitempty" yaml:"break_message,omitempty"`
}

// DailyEarnings is the revenue collected on one business-day.
type DailyEarnings struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
	Served  int     `json:"served"`
}
