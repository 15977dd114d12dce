package store

import (
	"sort"
	"strings"

	"github.com/turnordoficial-hash/turnord02/internal/models"
)

// Matches reports whether a ticket satisfies every set field of the filter.
func (f Filter) Matches(ticket models.Ticket) bool {
	if ticket.BusinessID != f.BusinessID {
		return false
	}
	if f.ID != "" && ticket.ID != f.ID {
		return false
	}
	if f.Date != "" && ticket.Date != f.Date {
		return false
	}
	if f.DateTo != "" && ticket.Date > f.DateTo {
		return false
	}
	if f.Code != "" && ticket.Code != f.Code {
		return false
	}
	if f.CodePrefix != "" && !strings.HasPrefix(ticket.Code, f.CodePrefix) {
		return false
	}
	if f.Phone != "" && ticket.Phone != f.Phone {
		return false
	}
	if f.OrderRank != nil && ticket.OrderRank != *f.OrderRank {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, state := range f.States {
			if ticket.State == state {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Apply writes the set patch fields onto the ticket.
func (p Patch) Apply(ticket *models.Ticket) {
	if p.State != nil {
		ticket.State = *p.State
	}
	if p.OrderRank != nil {
		ticket.OrderRank = *p.OrderRank
	}
	if p.ClearStartedAt {
		ticket.StartedAt = nil
	}
	if p.StartedAt != nil {
		started := *p.StartedAt
		ticket.StartedAt = &started
	}
	if p.AmountCharged != nil {
		amount := *p.AmountCharged
		ticket.AmountCharged = &amount
	}
	if p.PaymentMethod != nil {
		method := *p.PaymentMethod
		ticket.PaymentMethod = &method
	}
}

func (p Patch) Empty() bool {
	return p.State == nil && p.OrderRank == nil && p.StartedAt == nil && !p.ClearStartedAt &&
		p.AmountCharged == nil && p.PaymentMethod == nil
}

// SortTickets orders tickets in place. The sort is stable so rows that
// compare equal keep their fetch order.
func SortTickets(tickets []models.Ticket, order Order) {
	switch order {
	case OrderCreatedAsc:
		sort.SliceStable(tickets, func(i, j int) bool {
			return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
		})
	case OrderCreatedDesc:
		sort.SliceStable(tickets, func(i, j int) bool {
			return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
		})
	case OrderLine:
		sort.SliceStable(tickets, func(i, j int) bool {
			if tickets[i].OrderRank != tickets[j].OrderRank {
				return tickets[i].OrderRank < tickets[j].OrderRank
			}
			return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
		})
	case OrderStartedAsc:
		sort.SliceStable(tickets, func(i, j int) bool {
			a, b := tickets[i].StartedAt, tickets[j].StartedAt
			switch {
			case a == nil && b == nil:
				return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
			case a == nil:
				return false
			case b == nil:
				return true
			}
			return a.Before(*b)
		})
	case OrderRankDesc:
		sort.SliceStable(tickets, func(i, j int) bool {
			return tickets[i].OrderRank > tickets[j].OrderRank
		})
	}
}
