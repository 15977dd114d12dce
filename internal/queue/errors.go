package queue

import (
	"errors"
	"fmt"
)

// ValidationError rejects input before any store call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ConflictError reports that a conditional update matched zero rows,
// usually because another session already moved the ticket.
type ConflictError struct {
	Op     string
	Reason string
	// Err is set when the conflict has a known store cause, such as
	// store.ErrTicketNotFound.
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ConfigurationError is fatal: the process cannot pick a tenant.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

// Intake rejection codes.
const (
	IntakeClosedDay      = "closed_day"
	IntakeNotOpenYet     = "not_open_yet"
	IntakeClosed         = "closed"
	IntakeDailyLimit     = "daily_limit"
	IntakeOnBreak        = "on_break"
	IntakeAlreadyWaiting = "already_waiting"
)

// IntakeError rejects a new ticket because of business rules such as
// opening hours, the daily limit or a break in progress.
type IntakeError struct {
	Code             string
	Message          string
	RemainingMinutes int
}

func (e *IntakeError) Error() string {
	return e.Message
}

// ErrLineEmpty is returned when there is nobody waiting to promote.
var ErrLineEmpty = errors.New("waiting line is empty")

func newStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
