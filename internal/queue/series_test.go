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

func TestSeriesLetter(t *testing.T) {
	cases := []struct {
		name string
		day  time.Time
		want string
	}{
		{name: "anchor", day: AnchorDate, want: "A"},
		{name: "next day", day: AnchorDate.AddDate(0, 0, 1), want: "B"},
		{name: "last letter", day: AnchorDate.AddDate(0, 0, 25), want: "Z"},
		{name: "wraps", day: AnchorDate.AddDate(0, 0, 26), want: "A"},
		{name: "before anchor", day: AnchorDate.AddDate(0, 0, -1), want: "Z"},
		{name: "late evening", day: time.Date(2024, 8, 23, 23, 59, 0, 0, time.FixedZone("AST", -4*3600)), want: "A"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SeriesLetter(tc.day))
		})
	}
}

func TestSeriesLetterIsPeriodic(t *testing.T) {
	day := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		d := day.AddDate(0, 0, i)
		assert.Equal(t, SeriesLetter(d), SeriesLetter(d.AddDate(0, 0, 26)))
	}
}

func TestFormatAndParseSequence(t *testing.T) {
	assert.Equal(t, "A01", FormatCode("A", 1))
	assert.Equal(t, "C100", FormatCode("C", 100))

	seq, ok := ParseSequence("B07")
	require.True(t, ok)
	assert.Equal(t, 7, seq)

	_, ok = ParseSequence("B")
	assert.False(t, ok)
	_, ok = ParseSequence("Bxx")
	assert.False(t, ok)
}

func TestGeneratorFollowsMostRecentCode(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t)
	gen := NewGenerator(st, 0, discardLogger())

	code, err := gen.Allocate(ctx, testBusiness, testNow)
	require.NoError(t, err)
	assert.Equal(t, "A01", code)

	_, err = st.InsertTicket(ctx, models.Ticket{BusinessID: testBusiness, Date: svc.Today(), Code: "A01", CreatedAt: testNow})
	require.NoError(t, err)
	code, err = gen.Allocate(ctx, testBusiness, testNow)
	require.NoError(t, err)
	assert.Equal(t, "A02", code)
}

func TestGeneratorProbesPastTakenCode(t *testing.T) {
	ctx := context.Background()
	svc, st, _ := newTestService(t)
	gen := NewGenerator(st, 0, discardLogger())

	// A02 was inserted before A01, so the most recent code is A01.
	_, err := st.InsertTicket(ctx, models.Ticket{BusinessID: testBusiness, Date: svc.Today(), Code: "A02", CreatedAt: testNow})
	require.NoError(t, err)
	_, err = st.InsertTicket(ctx, models.Ticket{BusinessID: testBusiness, Date: svc.Today(), Code: "A01", CreatedAt: testNow.Add(time.Second)})
	require.NoError(t, err)

	code, err := gen.Allocate(ctx, testBusiness, testNow)
	require.NoError(t, err)
	assert.Equal(t, "A03", code)
}

func TestGeneratorGivesUpAfterMaxAttempts(t *testing.T) {
	probes := 0
	fake := &fakeStore{
		countTickets: func(ctx context.Context, filter store.Filter) (int, error) {
			probes++
			return 1, nil
		},
	}
	gen := NewGenerator(fake, 3, discardLogger())

	_, err := gen.Allocate(context.Background(), testBusiness, testNow)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 3, probes)
}

func TestGeneratorLookupFailureStartsSeries(t *testing.T) {
	fake := &fakeStore{
		listTickets: func(ctx context.Context, filter store.Filter, opts store.ListOptions) ([]models.Ticket, error) {
			return nil, errors.New("connection reset")
		},
	}
	gen := NewGenerator(fake, 0, discardLogger())

	next, err := gen.Next(context.Background(), testBusiness, testNow)
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "A01", next)

	code, err := gen.Allocate(context.Background(), testBusiness, testNow)
	require.NoError(t, err)
	assert.Equal(t, "A01", code)
}

func TestCreateTicketRetriesOnDuplicateInsert(t *testing.T) {
	inserted := map[string]bool{"A01": true}
	var attempts []string
	fake := &fakeStore{
		insertTicket: func(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
			attempts = append(attempts, ticket.Code)
			if inserted[ticket.Code] {
				return models.Ticket{}, store.ErrDuplicateCode
			}
			inserted[ticket.Code] = true
			return ticket, nil
		},
	}
	svc := NewService(fake, Options{Clock: newFakeClock(), Location: time.UTC, Logger: discardLogger()})

	ticket, err := svc.CreateTicket(context.Background(), testBusiness, IntakeRequest{
		CustomerName: "Ana Pérez", Phone: "8095551234", ServiceType: "cut",
	})
	require.NoError(t, err)
	assert.Equal(t, "A02", ticket.Code)
	assert.Equal(t, []string{"A01", "A02"}, attempts)
}
