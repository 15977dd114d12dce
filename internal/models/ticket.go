package models

import "time"

type Ticket struct {
	ID            string     `json:"id" yaml:"id"`
	BusinessID    string     `json:"business_id" yaml:"business_id"`
	Code          string     `json:"code" yaml:"code"`
	Date          string     `json:"date" yaml:"date"`
	TimeCreated   string     `json:"time_created" yaml:"time_created"`
	CustomerName  string     `json:"customer_name" yaml:"customer_name"`
	Phone         string     `json:"phone" yaml:"phone"`
	ServiceType   string     `json:"service_type" yaml:"service_type"`
	State         string     `json:"state" yaml:"state"`
	OrderRank     int        `json:"order_rank" yaml:"order_rank"`
	CreatedAt     time.Time  `json:"created_at" yaml:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	AmountCharged *float64   `json:"amount_charged,omitempty" yaml:"amount_charged,omitempty"`
	PaymentMethod *string    `json:"payment_method,omitempty" yaml:"payment_method,omitempty"`
}

const (
	StateWaiting   = "waiting"
	StateServing   = "serving"
	StatePaid      = "paid"
	StateReturned  = "returned"
	StateCancelled = "cancelled"
	StateNoShow    = "no_show"
)

// HistoryStates are the states purged by the clear-history action.
var HistoryStates = []string{StatePaid, StateCancelled, StateNoShow}

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
)

// DateLayout is the business-local calendar date format used as the
// daily partition key.
const DateLayout = "2006-01-02"

// ClockLayout is the display-only time of day captured at creation.
const ClockLayout = "15:04:05"
