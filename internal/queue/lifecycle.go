package queue

import (
	"context"
	"strings"

	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/store"
)

// transition applies action to the tickets matching filter, guarded on
// the action's source states. Zero affected rows is a conflict.
func (s *Service) transition(ctx context.Context, op, action string, filter store.Filter, patch store.Patch) error {
	target, ok := store.TargetState(action)
	if !ok {
		return &ValidationError{Field: "action", Reason: "unknown action " + action}
	}
	filter.States = store.SourceStates(action)
	patch.State = &target

	affected, err := s.store.UpdateTickets(ctx, filter, patch)
	if err != nil {
		return newStoreError(op, err)
	}
	if affected == 0 {
		return s.conflict(ctx, op, filter)
	}
	s.logger.Info("ticket transition", "op", op, "business_id", filter.BusinessID,
		"ticket_id", filter.ID, "code", filter.Code, "state", target)
	return nil
}

// conflict explains why a guarded update matched nothing.
func (s *Service) conflict(ctx context.Context, op string, filter store.Filter) error {
	probe := filter
	probe.States = nil
	count, err := s.store.CountTickets(ctx, probe)
	if err == nil && count == 0 {
		return &ConflictError{Op: op, Reason: "ticket not found", Err: store.ErrTicketNotFound}
	}
	return &ConflictError{Op: op, Reason: "ticket state does not allow this action", Err: store.ErrInvalidState}
}

func requireTicket(ticketID string) error {
	if strings.TrimSpace(ticketID) == "" {
		return &ValidationError{Field: "ticket_id", Reason: "is required"}
	}
	return nil
}

// Promote moves a waiting ticket into service and starts its clock.
func (s *Service) Promote(ctx context.Context, businessID, ticketID string) (ticket models.Ticket, err error) {
	if err := requireBusiness(businessID); err != nil {
		return models.Ticket{}, err
	}
	if err := requireTicket(ticketID); err != nil {
		return models.Ticket{}, err
	}
	ctx, span := s.startSpan(ctx, "queue.Promote", businessID)
	defer func() { endSpan(span, err) }()

	now := s.clock.Now().UTC()
	err = s.transition(ctx, "promote ticket", store.ActionPromote,
		store.Filter{BusinessID: businessID, ID: ticketID},
		store.Patch{StartedAt: &now})
	if err != nil {
		return models.Ticket{}, err
	}
	return s.getTicket(ctx, businessID, ticketID)
}

// PromoteNext promotes the head of today's waiting line.
func (s *Service) PromoteNext(ctx context.Context, businessID string) (models.Ticket, error) {
	snap, err := s.Snapshot(ctx, businessID)
	if err != nil {
		return models.Ticket{}, err
	}
	if len(snap.Line) == 0 {
		return models.Ticket{}, ErrLineEmpty
	}
	return s.Promote(ctx, businessID, snap.Line[0].ID)
}

// Pay records the charge for a ticket that is still being served.
func (s *Service) Pay(ctx context.Context, businessID, ticketID string, req PaymentRequest) (ticket models.Ticket, err error) {
	if err := requireBusiness(businessID); err != nil {
		return models.Ticket{}, err
	}
	if err := requireTicket(ticketID); err != nil {
		return models.Ticket{}, err
	}
	req.Method = strings.ToLower(strings.TrimSpace(req.Method))
	if err := s.validate.Struct(req); err != nil {
		return models.Ticket{}, validationError(err)
	}
	if !req.Confirmed {
		return models.Ticket{}, &ValidationError{Field: "confirmed", Reason: "payment must be confirmed"}
	}
	ctx, span := s.startSpan(ctx, "queue.Pay", businessID)
	defer func() { endSpan(span, err) }()

	amount, method := req.Amount, req.Method
	err = s.transition(ctx, "record payment", store.ActionPay,
		store.Filter{BusinessID: businessID, ID: ticketID},
		store.Patch{AmountCharged: &amount, PaymentMethod: &method})
	if err != nil {
		return models.Ticket{}, err
	}
	return s.getTicket(ctx, businessID, ticketID)
}

// Cancel is the staff cancellation of a waiting ticket.
func (s *Service) Cancel(ctx context.Context, businessID, ticketID string) (ticket models.Ticket, err error) {
	if err := requireBusiness(businessID); err != nil {
		return models.Ticket{}, err
	}
	if err := requireTicket(ticketID); err != nil {
		return models.Ticket{}, err
	}
	ctx, span := s.startSpan(ctx, "queue.Cancel", businessID)
	defer func() { endSpan(span, err) }()

	err = s.transition(ctx, "cancel ticket", store.ActionCancel,
		store.Filter{BusinessID: businessID, ID: ticketID}, store.Patch{})
	if err != nil {
		return models.Ticket{}, err
	}
	return s.getTicket(ctx, businessID, ticketID)
}

// CancelByCustomer cancels today's waiting ticket with this code, only
// when the phone matches the one it was issued to.
func (s *Service) CancelByCustomer(ctx context.Context, businessID, code, phone string) (err error) {
	if err := requireBusiness(businessID); err != nil {
		return err
	}
	code = normalizeCode(code)
	phone = strings.TrimSpace(phone)
	if code == "" {
		return &ValidationError{Field: "code", Reason: "is required"}
	}
	if !phonePattern.MatchString(phone) {
		return &ValidationError{Field: "phone", Reason: fieldMessages["phone_digits"]}
	}
	ctx, span := s.startSpan(ctx, "queue.CancelByCustomer", businessID)
	defer func() { endSpan(span, err) }()

	return s.transition(ctx, "cancel ticket", store.ActionCancel,
		store.Filter{BusinessID: businessID, Date: s.Today(), Code: code, Phone: phone}, store.Patch{})
}

// ReturnToBack sends a serving ticket to the back of the waiting line.
func (s *Service) ReturnToBack(ctx context.Context, businessID, ticketID string) (ticket models.Ticket, err error) {
	if err := requireBusiness(businessID); err != nil {
		return models.Ticket{}, err
	}
	if err := requireTicket(ticketID); err != nil {
		return models.Ticket{}, err
	}
	ctx, span := s.startSpan(ctx, "queue.ReturnToBack", businessID)
	defer func() { endSpan(span, err) }()

	if _, err = s.engine.ReturnToBack(ctx, businessID, ticketID, s.Today()); err != nil {
		return models.Ticket{}, err
	}
	return s.getTicket(ctx, businessID, ticketID)
}

// NoShow closes a ticket whose customer never showed up.
func (s *Service) NoShow(ctx context.Context, businessID, ticketID string) (ticket models.Ticket, err error) {
	if err := requireBusiness(businessID); err != nil {
		return models.Ticket{}, err
	}
	if err := requireTicket(ticketID); err != nil {
		return models.Ticket{}, err
	}
	ctx, span := s.startSpan(ctx, "queue.NoShow", businessID)
	defer func() { endSpan(span, err) }()

	err = s.transition(ctx, "mark no-show", store.ActionNoShow,
		store.Filter{BusinessID: businessID, ID: ticketID}, store.Patch{})
	if err != nil {
		return models.Ticket{}, err
	}
	return s.getTicket(ctx, businessID, ticketID)
}

// SweepNoShows marks every ticket up to and including date that is
// still waiting as a no-show. Tickets being served keep their pending
// payment.
func (s *Service) SweepNoShows(ctx context.Context, businessID, date string) (swept int64, err error) {
	if err := requireBusiness(businessID); err != nil {
		return 0, err
	}
	ctx, span := s.startSpan(ctx, "queue.SweepNoShows", businessID)
	defer func() { endSpan(span, err) }()

	swept, err = s.store.UpdateTickets(ctx, store.Filter{
		BusinessID: businessID,
		DateTo:     date,
		States:     []string{models.StateWaiting},
	}, store.Patch{State: store.StringPtr(models.StateNoShow)})
	if err != nil {
		return 0, newStoreError("sweep no-shows", err)
	}
	return swept, nil
}

// Delete removes a ticket whatever its state.
func (s *Service) Delete(ctx context.Context, businessID, ticketID string) (err error) {
	if err := requireBusiness(businessID); err != nil {
		return err
	}
	if err := requireTicket(ticketID); err != nil {
		return err
	}
	ctx, span := s.startSpan(ctx, "queue.Delete", businessID)
	defer func() { endSpan(span, err) }()

	affected, err := s.store.DeleteTickets(ctx, store.Filter{BusinessID: businessID, ID: ticketID})
	if err != nil {
		return newStoreError("delete ticket", err)
	}
	if affected == 0 {
		return &ConflictError{Op: "delete ticket", Reason: "ticket not found", Err: store.ErrTicketNotFound}
	}
	s.logger.Info("ticket deleted", "business_id", businessID, "ticket_id", ticketID)
	return nil
}

// ClearHistory purges every finished ticket of the business.
func (s *Service) ClearHistory(ctx context.Context, businessID string) (removed int64, err error) {
	if err := requireBusiness(businessID); err != nil {
		return 0, err
	}
	ctx, span := s.startSpan(ctx, "queue.ClearHistory", businessID)
	defer func() { endSpan(span, err) }()

	removed, err = s.store.DeleteTickets(ctx, store.Filter{BusinessID: businessID, States: models.HistoryStates})
	if err != nil {
		return 0, newStoreError("clear history", err)
	}
	s.logger.Info("history cleared", "business_id", businessID, "removed", removed)
	return removed, nil
}

// Reorder swaps two neighbouring tickets of the line the caller
// rendered. The caller reloads on any error.
func (s *Service) Reorder(ctx context.Context, businessID string, line []models.Ticket, codeA, codeB string, confirmed bool) (err error) {
	if err := requireBusiness(businessID); err != nil {
		return err
	}
	ctx, span := s.startSpan(ctx, "queue.Reorder", businessID)
	defer func() { endSpan(span, err) }()
	return s.engine.Reorder(ctx, businessID, line, codeA, codeB, confirmed)
}

// Move shifts a ticket one place up or down the current line.
func (s *Service) Move(ctx context.Context, businessID, code string, up, confirmed bool) (err error) {
	snap, err := s.Snapshot(ctx, businessID)
	if err != nil {
		return err
	}
	ctx, span := s.startSpan(ctx, "queue.Move", businessID)
	defer func() { endSpan(span, err) }()
	if up {
		return s.engine.MoveUp(ctx, businessID, snap.Line, code, confirmed)
	}
	return s.engine.MoveDown(ctx, businessID, snap.Line, code, confirmed)
}
