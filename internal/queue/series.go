package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/store"
)

// AnchorDate is the business-day whose series letter is A.
var AnchorDate = time.Date(2024, time.August, 23, 0, 0, 0, 0, time.UTC)

const (
	seriesLength       = 26
	sequencePad        = 2
	DefaultMaxAttempts = 20
)

// SeriesLetter returns the series letter of a business-day. Only the
// calendar date of t matters; the time and location are ignored.
func SeriesLetter(t time.Time) string {
	days := civilDays(t) - civilDays(AnchorDate)
	offset := ((days % seriesLength) + seriesLength) % seriesLength
	return string(rune('A' + offset))
}

func civilDays(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func FormatCode(letter string, sequence int) string {
	return fmt.Sprintf("%s%0*d", letter, sequencePad, sequence)
}

// ParseSequence extracts the trailing sequence number of a ticket code.
func ParseSequence(code string) (int, bool) {
	if len(code) < 2 {
		return 0, false
	}
	value, err := strconv.Atoi(code[1:])
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

// Generator hands out daily ticket codes.
type Generator struct {
	store       store.TicketStore
	maxAttempts int
	logger      *slog.Logger
}

func NewGenerator(st store.TicketStore, maxAttempts int, logger *slog.Logger) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{store: st, maxAttempts: maxAttempts, logger: logger}
}

// Next computes the code that follows the most recent ticket of the
// day's series. A failed lookup still yields <letter>01 together with
// the error so intake can continue.
func (g *Generator) Next(ctx context.Context, businessID string, day time.Time) (string, error) {
	letter := SeriesLetter(day)
	first := FormatCode(letter, 1)

	tickets, err := g.store.ListTickets(ctx, store.Filter{
		BusinessID: businessID,
		Date:       day.Format(models.DateLayout),
		CodePrefix: letter,
	}, store.ListOptions{Order: store.OrderCreatedDesc, Limit: 1})
	if err != nil {
		return first, newStoreError("lookup last ticket code", err)
	}
	if len(tickets) == 0 {
		return first, nil
	}
	sequence, ok := ParseSequence(tickets[0].Code)
	if !ok {
		return first, nil
	}
	return FormatCode(letter, sequence+1), nil
}

// Allocate returns a code that is unused at the time of the check,
// probing forward on collision. After maxAttempts collisions it gives
// up with a ConflictError.
func (g *Generator) Allocate(ctx context.Context, businessID string, day time.Time) (string, error) {
	code, err := g.Next(ctx, businessID, day)
	if err != nil {
		g.logger.Warn("ticket code lookup failed, starting series at first code",
			"business_id", businessID, "code", code, "error", err)
	}
	return g.probe(ctx, businessID, day, code)
}

// AllocateAfter resumes probing past a code the store refused.
func (g *Generator) AllocateAfter(ctx context.Context, businessID string, day time.Time, taken string) (string, error) {
	sequence, ok := ParseSequence(taken)
	if !ok {
		return g.Allocate(ctx, businessID, day)
	}
	return g.probe(ctx, businessID, day, FormatCode(SeriesLetter(day), sequence+1))
}

func (g *Generator) probe(ctx context.Context, businessID string, day time.Time, code string) (string, error) {
	letter := SeriesLetter(day)
	date := day.Format(models.DateLayout)
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		count, err := g.store.CountTickets(ctx, store.Filter{BusinessID: businessID, Date: date, Code: code})
		if err != nil {
			g.logger.Warn("ticket code existence check failed, using candidate",
				"business_id", businessID, "code", code, "error", err)
			return code, nil
		}
		if count == 0 {
			return code, nil
		}
		sequence, ok := ParseSequence(code)
		if !ok {
			return "", &ConflictError{Op: "allocate ticket code", Reason: fmt.Sprintf("unparseable code %q", code)}
		}
		code = FormatCode(letter, sequence+1)
	}
	return "", &ConflictError{
		Op:     "allocate ticket code",
		Reason: fmt.Sprintf("no free code after %d attempts", g.maxAttempts),
	}
}

func isDuplicateCode(err error) bool {
	return errors.Is(err, store.ErrDuplicateCode)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
