package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/store"
)

func waitingTicket(id, code string, rank int, createdOffset time.Duration) models.Ticket {
	return models.Ticket{
		ID:          id,
		BusinessID:  testBusiness,
		Code:        code,
		Date:        "2024-08-23",
		State:       models.StateWaiting,
		OrderRank:   rank,
		CreatedAt:   testNow.Add(createdOffset),
		ServiceType: "cut",
	}
}

func lineCodes(line []models.Ticket) []string {
	out := make([]string, len(line))
	for i, ticket := range line {
		out[i] = ticket.Code
	}
	return out
}

func TestBuildLineDeduplicatesByCode(t *testing.T) {
	line := BuildLine([]models.Ticket{
		waitingTicket("1", "A02", 1, time.Minute),
		waitingTicket("2", "A01", 0, 0),
		waitingTicket("3", "A02", 0, 2*time.Minute),
	})
	require.Len(t, line, 2)
	assert.Equal(t, []string{"A01", "A02"}, lineCodes(line))
	assert.Equal(t, "1", line[1].ID)
}

func TestSwapChangesExchangesDistinctRanks(t *testing.T) {
	line := []models.Ticket{
		waitingTicket("1", "A01", 1, 0),
		waitingTicket("2", "A02", 2, time.Minute),
		waitingTicket("3", "A03", 3, 2*time.Minute),
	}
	changes := SwapChanges(line, 1)
	assert.Equal(t, []store.RankChange{
		{TicketID: "2", From: 2, To: 3},
		{TicketID: "3", From: 3, To: 2},
	}, changes)
	assert.Equal(t, []string{"A01", "A03", "A02"}, lineCodes(applyRanks(line, changes)))
}

func TestSwapChangesRenumbersOnTie(t *testing.T) {
	line := []models.Ticket{
		waitingTicket("1", "A01", 0, 0),
		waitingTicket("2", "A02", 0, time.Minute),
		waitingTicket("3", "A03", 0, 2*time.Minute),
	}
	for upper, want := range [][]string{
		{"A02", "A01", "A03"},
		{"A01", "A03", "A02"},
	} {
		changes := SwapChanges(line, upper)
		assert.Equal(t, want, lineCodes(applyRanks(line, changes)), "upper %d", upper)
	}
}

func TestReorderSwapsNeighboursInStore(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)
	issue(t, svc, clock, "Ana", "8095550001", "cut")
	issue(t, svc, clock, "Luis", "8095550002", "cut")
	issue(t, svc, clock, "Marta", "8095550003", "beard")

	snap, err := svc.Snapshot(ctx, testBusiness)
	require.NoError(t, err)
	require.Equal(t, []string{"A01", "A02", "A03"}, lineCodes(snap.Line))

	require.NoError(t, svc.Reorder(ctx, testBusiness, snap.Line, "A02", "A03", true))
	snap, err = svc.Snapshot(ctx, testBusiness)
	require.NoError(t, err)
	assert.Equal(t, []string{"A01", "A03", "A02"}, lineCodes(snap.Line))

	require.NoError(t, svc.Move(ctx, testBusiness, "a02", true, true))
	snap, err = svc.Snapshot(ctx, testBusiness)
	require.NoError(t, err)
	assert.Equal(t, []string{"A01", "A02", "A03"}, lineCodes(snap.Line))
}

func TestReorderRejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)
	issue(t, svc, clock, "Ana", "8095550001", "cut")
	issue(t, svc, clock, "Luis", "8095550002", "cut")
	issue(t, svc, clock, "Marta", "8095550003", "cut")
	snap, err := svc.Snapshot(ctx, testBusiness)
	require.NoError(t, err)

	err = svc.Reorder(ctx, testBusiness, snap.Line, "A01", "A02", false)
	assert.True(t, IsValidation(err))

	err = svc.Reorder(ctx, testBusiness, snap.Line, "A01", "A03", true)
	assert.True(t, IsValidation(err))

	err = svc.Reorder(ctx, testBusiness, snap.Line, "A01", "Z99", true)
	assert.True(t, IsValidation(err))

	err = svc.Move(ctx, testBusiness, "A01", true, true)
	assert.True(t, IsValidation(err))
}

func TestReorderOnStaleLineIsConflict(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)
	first := issue(t, svc, clock, "Ana", "8095550001", "cut")
	issue(t, svc, clock, "Luis", "8095550002", "cut")
	snap, err := svc.Snapshot(ctx, testBusiness)
	require.NoError(t, err)

	_, err = svc.Promote(ctx, testBusiness, first.ID)
	require.NoError(t, err)

	err = svc.Reorder(ctx, testBusiness, snap.Line, "A01", "A02", true)
	assert.True(t, IsConflict(err))
}

func TestReorderFallbackIssuesEveryUpdate(t *testing.T) {
	line := []models.Ticket{
		waitingTicket("1", "A01", 1, 0),
		waitingTicket("2", "A02", 2, time.Minute),
	}
	var updated []string
	fake := &fakeStore{
		updateTickets: func(ctx context.Context, filter store.Filter, patch store.Patch) (int64, error) {
			updated = append(updated, filter.ID)
			require.NotNil(t, filter.OrderRank)
			if filter.ID == "1" {
				return 0, errors.New("timeout")
			}
			return 1, nil
		},
	}
	engine := NewEngine(fake, discardLogger())

	err := engine.Reorder(context.Background(), testBusiness, line, "A01", "A02", true)
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, []string{"1", "2"}, updated)
}

func TestReorderFallbackReportsStaleRows(t *testing.T) {
	line := []models.Ticket{
		waitingTicket("1", "A01", 1, 0),
		waitingTicket("2", "A02", 2, time.Minute),
	}
	fake := &fakeStore{
		updateTickets: func(ctx context.Context, filter store.Filter, patch store.Patch) (int64, error) {
			if filter.ID == "2" {
				return 0, nil
			}
			return 1, nil
		},
	}
	engine := NewEngine(fake, discardLogger())

	err := engine.Reorder(context.Background(), testBusiness, line, "A01", "A02", true)
	assert.True(t, IsConflict(err))
}
