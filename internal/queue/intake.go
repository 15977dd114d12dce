package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/store"
)

var weekdayNames = map[time.Weekday][]string{
	time.Sunday:    {"sunday", "domingo"},
	time.Monday:    {"monday", "lunes"},
	time.Tuesday:   {"tuesday", "martes"},
	time.Wednesday: {"wednesday", "miércoles", "miercoles"},
	time.Thursday:  {"thursday", "jueves"},
	time.Friday:    {"friday", "viernes"},
	time.Saturday:  {"saturday", "sábado", "sabado"},
}

// IsOperatingDay matches a weekday against configured day names. Days
// may be English or Spanish names, or numbers with 0 for Sunday.
func IsOperatingDay(days []string, day time.Weekday) bool {
	names := weekdayNames[day]
	for _, configured := range days {
		value := strings.ToLower(strings.TrimSpace(configured))
		if value == strconv.Itoa(int(day)) {
			return true
		}
		for _, name := range names {
			if value == name {
				return true
			}
		}
	}
	return false
}

func clockOf(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > 5 {
		return value[:5]
	}
	return value
}

// CheckIntake applies the business rules that gate a new ticket. Staff
// intake skips the break and one-ticket-per-phone rules.
func (s *Service) CheckIntake(ctx context.Context, businessID, channel, phone string) error {
	now := s.Now()
	cfg, err := s.store.GetBusinessConfig(ctx, businessID)
	configMissing := errors.Is(err, store.ErrConfigNotFound)
	switch {
	case configMissing:
		cfg = models.DefaultBusinessConfig(businessID)
	case err != nil:
		return newStoreError("load business config", err)
	}

	if len(cfg.OperatingDays) == 0 {
		if channel == ChannelCustomer && !configMissing {
			return &IntakeError{Code: IntakeClosedDay, Message: "today is not an operating day"}
		}
	} else if !IsOperatingDay(cfg.OperatingDays, now.Weekday()) {
		return &IntakeError{Code: IntakeClosedDay, Message: "today is not an operating day"}
	}

	if channel == ChannelCustomer {
		state, err := s.store.GetBreakState(ctx, businessID)
		if err != nil {
			return newStoreError("load break state", err)
		}
		if state.OnBreak && state.BreakEndTime != nil && state.BreakEndTime.After(now) {
			message := state.BreakMessage
			if message == "" {
				message = "on break"
			}
			return &IntakeError{
				Code:             IntakeOnBreak,
				Message:          message,
				RemainingMinutes: int(math.Ceil(state.BreakEndTime.Sub(now).Minutes())),
			}
		}
	}

	current := now.Format("15:04")
	opening, closing := clockOf(cfg.OpeningTime), clockOf(cfg.ClosingTime)
	if opening != "" && current < opening {
		return &IntakeError{Code: IntakeNotOpenYet, Message: fmt.Sprintf("not open yet, hours %s - %s", opening, closing)}
	}
	if closing != "" && pastClosing(channel, current, closing) {
		return &IntakeError{Code: IntakeClosed, Message: "no more tickets are issued today"}
	}

	date := now.Format(models.DateLayout)
	issued, err := s.store.CountTickets(ctx, store.Filter{BusinessID: businessID, Date: date})
	if err != nil {
		return newStoreError("count today's tickets", err)
	}
	if cfg.DailyTicketLimit > 0 && issued >= cfg.DailyTicketLimit {
		return &IntakeError{Code: IntakeDailyLimit, Message: fmt.Sprintf("the limit of %d tickets for today was reached", cfg.DailyTicketLimit)}
	}

	if channel == ChannelCustomer {
		active, err := s.store.CountTickets(ctx, store.Filter{
			BusinessID: businessID,
			Phone:      phone,
			States:     []string{models.StateWaiting},
		})
		if err != nil {
			return newStoreError("check active tickets", err)
		}
		if active > 0 {
			return &IntakeError{Code: IntakeAlreadyWaiting, Message: "this phone already has a ticket waiting"}
		}
	}
	return nil
}

// CreateTicket validates the request, applies the intake rules and
// issues the next free code of the day.
func (s *Service) CreateTicket(ctx context.Context, businessID string, req IntakeRequest) (ticket models.Ticket, err error) {
	if err := requireBusiness(businessID); err != nil {
		return models.Ticket{}, err
	}
	req.CustomerName = strings.Join(strings.Fields(req.CustomerName), " ")
	req.Phone = strings.TrimSpace(req.Phone)
	req.ServiceType = strings.TrimSpace(req.ServiceType)
	req.Channel = strings.ToLower(strings.TrimSpace(req.Channel))
	if req.Channel == "" {
		req.Channel = ChannelCustomer
	}
	if err := s.validate.Struct(req); err != nil {
		return models.Ticket{}, validationError(err)
	}

	ctx, span := s.startSpan(ctx, "queue.CreateTicket", businessID)
	defer func() { endSpan(span, err) }()

	services, err := s.store.ListServices(ctx, businessID)
	if err != nil {
		return models.Ticket{}, newStoreError("load services", err)
	}
	if len(services) > 0 && !hasService(services, req.ServiceType) {
		return models.Ticket{}, &ValidationError{Field: "service_type", Reason: "is not an active service"}
	}

	if err = s.CheckIntake(ctx, businessID, req.Channel, req.Phone); err != nil {
		return models.Ticket{}, err
	}

	now := s.Now()
	date := now.Format(models.DateLayout)

	code, err := s.generator.Allocate(ctx, businessID, now)
	if err != nil {
		return models.Ticket{}, err
	}
	for attempt := 1; ; attempt++ {
		ticket, err = s.store.InsertTicket(ctx, models.Ticket{
			BusinessID:   businessID,
			Code:         code,
			Date:         date,
			TimeCreated:  now.Format(models.ClockLayout),
			CustomerName: req.CustomerName,
			Phone:        req.Phone,
			ServiceType:  req.ServiceType,
			State:        models.StateWaiting,
			CreatedAt:    s.clock.Now().UTC(),
		})
		if err == nil {
			s.logger.Info("ticket issued", "business_id", businessID, "code", ticket.Code,
				"channel", req.Channel, "service", ticket.ServiceType)
			return ticket, nil
		}
		if !isDuplicateCode(err) {
			return models.Ticket{}, newStoreError("insert ticket", err)
		}
		if attempt >= s.generator.maxAttempts {
			return models.Ticket{}, &ConflictError{Op: "insert ticket", Reason: "no free code after retries", Err: err}
		}
		s.logger.Warn("ticket code taken at insert, probing", "business_id", businessID, "code", code)
		code, err = s.generator.AllocateAfter(ctx, businessID, now, code)
		if err != nil {
			return models.Ticket{}, err
		}
	}
}

// pastClosing reports whether intake is over. Customers may still take
// a ticket during the closing minute; staff may not.
func pastClosing(channel, current, closing string) bool {
	if channel == ChannelCustomer {
		return current > closing
	}
	return current >= closing
}

func hasService(services []models.Service, name string) bool {
	for _, service := range services {
		if service.Name == name && service.Active {
			return true
		}
	}
	return false
}

// ActiveTicket finds the most recent waiting or serving ticket of a
// phone, so a customer can resume tracking it.
func (s *Service) ActiveTicket(ctx context.Context, businessID, phone string) (models.Ticket, error) {
	if err := requireBusiness(businessID); err != nil {
		return models.Ticket{}, err
	}
	phone = strings.TrimSpace(phone)
	if !phonePattern.MatchString(phone) {
		return models.Ticket{}, &ValidationError{Field: "phone", Reason: fieldMessages["phone_digits"]}
	}
	tickets, err := s.store.ListTickets(ctx, store.Filter{
		BusinessID: businessID,
		Phone:      phone,
		States:     []string{models.StateWaiting, models.StateServing},
	}, store.ListOptions{Order: store.OrderCreatedDesc, Limit: 1})
	if err != nil {
		return models.Ticket{}, newStoreError("load active ticket", err)
	}
	if len(tickets) == 0 {
		return models.Ticket{}, &ConflictError{Op: "load active ticket", Reason: "no active ticket for this phone", Err: store.ErrTicketNotFound}
	}
	return tickets[0], nil
}
