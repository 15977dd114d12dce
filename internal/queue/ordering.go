package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/store"
)

// BuildLine drops logical duplicates by code, keeping the first row in
// fetch order, and sorts the rest by order_rank then created_at.
func BuildLine(tickets []models.Ticket) []models.Ticket {
	seen := make(map[string]struct{}, len(tickets))
	line := make([]models.Ticket, 0, len(tickets))
	for _, ticket := range tickets {
		if _, ok := seen[ticket.Code]; ok {
			continue
		}
		seen[ticket.Code] = struct{}{}
		line = append(line, ticket)
	}
	store.SortTickets(line, store.OrderLine)
	return line
}

func indexOf(line []models.Ticket, code string) int {
	for i, ticket := range line {
		if ticket.Code == code {
			return i
		}
	}
	return -1
}

// Engine mutates the waiting line order.
type Engine struct {
	store  store.TicketStore
	logger *slog.Logger
}

func NewEngine(st store.TicketStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, logger: logger}
}

// Reorder swaps two neighbouring tickets of the line as the caller
// rendered it. Nothing is written unless confirmed is set.
func (e *Engine) Reorder(ctx context.Context, businessID string, line []models.Ticket, codeA, codeB string, confirmed bool) error {
	if !confirmed {
		return &ValidationError{Field: "confirm", Reason: "reorder must be confirmed"}
	}
	i, j := indexOf(line, normalizeCode(codeA)), indexOf(line, normalizeCode(codeB))
	if i < 0 || j < 0 {
		return &ValidationError{Field: "code", Reason: "ticket is not in the waiting line"}
	}
	if i-j != 1 && j-i != 1 {
		return &ValidationError{Field: "code", Reason: "only neighbouring tickets can be swapped"}
	}
	return e.apply(ctx, businessID, SwapChanges(line, min(i, j)))
}

// MoveUp swaps a ticket with the one ahead of it.
func (e *Engine) MoveUp(ctx context.Context, businessID string, line []models.Ticket, code string, confirmed bool) error {
	i := indexOf(line, normalizeCode(code))
	if i < 0 {
		return &ValidationError{Field: "code", Reason: "ticket is not in the waiting line"}
	}
	if i == 0 {
		return &ValidationError{Field: "code", Reason: "ticket is already first in line"}
	}
	return e.Reorder(ctx, businessID, line, line[i-1].Code, line[i].Code, confirmed)
}

// MoveDown swaps a ticket with the one behind it.
func (e *Engine) MoveDown(ctx context.Context, businessID string, line []models.Ticket, code string, confirmed bool) error {
	i := indexOf(line, normalizeCode(code))
	if i < 0 {
		return &ValidationError{Field: "code", Reason: "ticket is not in the waiting line"}
	}
	if i == len(line)-1 {
		return &ValidationError{Field: "code", Reason: "ticket is already last in line"}
	}
	return e.Reorder(ctx, businessID, line, line[i].Code, line[i+1].Code, confirmed)
}

// SwapChanges returns the rank changes that put line[upper+1] directly
// ahead of line[upper]. Exchanging the two ranks is enough unless a tie
// on order_rank would let created_at undo the swap; in that case the
// pair and everything behind it are renumbered.
func SwapChanges(line []models.Ticket, upper int) []store.RankChange {
	a, b := line[upper], line[upper+1]
	want := make([]models.Ticket, len(line))
	copy(want, line)
	want[upper], want[upper+1] = b, a

	exchange := []store.RankChange{
		{TicketID: a.ID, From: a.OrderRank, To: b.OrderRank},
		{TicketID: b.ID, From: b.OrderRank, To: a.OrderRank},
	}
	if a.OrderRank != b.OrderRank && sameOrder(applyRanks(line, exchange), want) {
		return exchange
	}

	base := a.OrderRank
	if upper > 0 && line[upper-1].OrderRank >= base {
		base = line[upper-1].OrderRank + 1
	}
	var changes []store.RankChange
	for k, ticket := range want[upper:] {
		to := base + k
		if ticket.OrderRank != to {
			changes = append(changes, store.RankChange{TicketID: ticket.ID, From: ticket.OrderRank, To: to})
		}
	}
	return changes
}

func applyRanks(line []models.Ticket, changes []store.RankChange) []models.Ticket {
	out := make([]models.Ticket, len(line))
	copy(out, line)
	for _, change := range changes {
		for i := range out {
			if out[i].ID == change.TicketID {
				out[i].OrderRank = change.To
			}
		}
	}
	store.SortTickets(out, store.OrderLine)
	return out
}

func sameOrder(a, b []models.Ticket) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

func (e *Engine) apply(ctx context.Context, businessID string, changes []store.RankChange) error {
	if len(changes) == 0 {
		return nil
	}
	if assigner, ok := e.store.(store.RankAssigner); ok {
		err := assigner.AssignOrderRanks(ctx, businessID, changes)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, store.ErrInvalidState), errors.Is(err, store.ErrTicketNotFound):
			return &ConflictError{Op: "reorder", Reason: "waiting line changed, reload and retry"}
		default:
			return newStoreError("reorder", err)
		}
	}

	// Every update is issued even after a failure; the caller reloads
	// to recover the true order.
	var storeErrs []error
	stale := 0
	for _, change := range changes {
		from, to := change.From, change.To
		affected, err := e.store.UpdateTickets(ctx, store.Filter{
			BusinessID: businessID,
			ID:         change.TicketID,
			States:     []string{models.StateWaiting},
			OrderRank:  &from,
		}, store.Patch{OrderRank: &to})
		if err != nil {
			storeErrs = append(storeErrs, err)
			continue
		}
		if affected == 0 {
			stale++
		}
	}
	if len(storeErrs) > 0 {
		e.logger.Error("reorder partially failed", "business_id", businessID, "failed", len(storeErrs), "stale", stale)
		return newStoreError("reorder", errors.Join(storeErrs...))
	}
	if stale > 0 {
		e.logger.Warn("reorder hit a changed line", "business_id", businessID, "stale", stale)
		return &ConflictError{Op: "reorder", Reason: fmt.Sprintf("%d ticket(s) changed, reload and retry", stale)}
	}
	return nil
}

// ReturnToBack moves a serving ticket behind every other ticket of the
// day. The update only applies while the ticket is still serving.
func (e *Engine) ReturnToBack(ctx context.Context, businessID, ticketID, date string) (int, error) {
	top, err := e.store.ListTickets(ctx, store.Filter{BusinessID: businessID, Date: date},
		store.ListOptions{Order: store.OrderRankDesc, Limit: 1})
	if err != nil {
		return 0, newStoreError("return ticket", err)
	}
	next := 1
	if len(top) > 0 {
		next = top[0].OrderRank + 1
	}
	affected, err := e.store.UpdateTickets(ctx, store.Filter{
		BusinessID: businessID,
		ID:         ticketID,
		States:     store.SourceStates(store.ActionReturn),
	}, store.Patch{
		State:          store.StringPtr(models.StateWaiting),
		OrderRank:      &next,
		ClearStartedAt: true,
	})
	if err != nil {
		return 0, newStoreError("return ticket", err)
	}
	if affected == 0 {
		return 0, &ConflictError{Op: "return ticket", Reason: "ticket is not being served"}
	}
	return next, nil
}
