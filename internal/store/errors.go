package store

import "errors"

var (
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrInvalidState    = errors.New("invalid ticket state")
	ErrDuplicateCode   = errors.New("ticket code already issued today")
	ErrMissingBusiness = errors.New("business id is required")
	ErrUnscopedDelete  = errors.New("delete requires an id or state filter")
	ErrConfigNotFound  = errors.New("business configuration not found")
)
