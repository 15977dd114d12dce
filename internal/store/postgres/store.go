package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/store"
)

const (
	zeroUUID           = "00000000-0000-0000-0000-000000000000"
	uniqueViolation    = "23505"
	defaultOutboxLimit = 100
)

const ticketColumns = `ticket_id, business_id, code, to_char(ticket_date, 'YYYY-MM-DD'), time_created,
	customer_name, phone, service_type, state, order_rank, created_at, started_at,
	amount_charged, payment_method`

type Store struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

type Options struct {
	Clock clockwork.Clock
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	clock := options.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{pool: pool, clock: clock}
}

func (s *Store) ListTickets(ctx context.Context, filter store.Filter, opts store.ListOptions) ([]models.Ticket, error) {
	if filter.BusinessID == "" {
		return nil, store.ErrMissingBusiness
	}
	where, args := buildWhere(filter, 0)
	query := "SELECT " + ticketColumns + " FROM tickets WHERE " + where + orderClause(opts.Order)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) CountTickets(ctx context.Context, filter store.Filter) (int, error) {
	if filter.BusinessID == "" {
		return 0, store.ErrMissingBusiness
	}
	where, args := buildWhere(filter, 0)
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM tickets WHERE "+where, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) InsertTicket(ctx context.Context, ticket models.Ticket) (inserted models.Ticket, err error) {
	if ticket.BusinessID == "" {
		return models.Ticket{}, store.ErrMissingBusiness
	}
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = s.clock.Now().UTC()
	}
	if ticket.State == "" {
		ticket.State = models.StateWaiting
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, business_id, code, ticket_date, time_created, customer_name, phone,
			service_type, state, order_rank, created_at, started_at, amount_charged, payment_method
		) VALUES ($1,$2,$3,$4::date,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING `+ticketColumns,
		ticket.ID, ticket.BusinessID, ticket.Code, ticket.Date, ticket.TimeCreated, ticket.CustomerName,
		ticket.Phone, ticket.ServiceType, ticket.State, ticket.OrderRank, ticket.CreatedAt,
		ticket.StartedAt, ticket.AmountCharged, ticket.PaymentMethod)
	inserted, err = scanTicket(row)
	if err != nil {
		if isUniqueViolation(err) {
			err = store.ErrDuplicateCode
		}
		return models.Ticket{}, err
	}
	if err = s.insertOutboxEvent(ctx, tx, store.EventInsert, inserted); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return inserted, nil
}

func (s *Store) UpdateTickets(ctx context.Context, filter store.Filter, patch store.Patch) (affected int64, err error) {
	if filter.BusinessID == "" {
		return 0, store.ErrMissingBusiness
	}
	if patch.Empty() {
		return 0, nil
	}
	set, args := buildSet(patch)
	where, args := buildWhere(filter, len(args), args...)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, "UPDATE tickets SET "+set+" WHERE "+where+" RETURNING "+ticketColumns, args...)
	if err != nil {
		return 0, err
	}
	updated, err := collectTickets(rows)
	if err != nil {
		return 0, err
	}
	for _, ticket := range updated {
		if err = s.insertOutboxEvent(ctx, tx, store.EventUpdate, ticket); err != nil {
			return 0, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int64(len(updated)), nil
}

func (s *Store) DeleteTickets(ctx context.Context, filter store.Filter) (affected int64, err error) {
	if filter.BusinessID == "" {
		return 0, store.ErrMissingBusiness
	}
	if filter.ID == "" && len(filter.States) == 0 {
		return 0, store.ErrUnscopedDelete
	}
	where, args := buildWhere(filter, 0)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, "DELETE FROM tickets WHERE "+where+" RETURNING "+ticketColumns, args...)
	if err != nil {
		return 0, err
	}
	deleted, err := collectTickets(rows)
	if err != nil {
		return 0, err
	}
	for _, ticket := range deleted {
		if err = s.insertOutboxEvent(ctx, tx, store.EventDelete, ticket); err != nil {
			return 0, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int64(len(deleted)), nil
}

// AssignOrderRanks applies every rank change in one transaction. A
// ticket that is no longer waiting at its observed rank rolls back the
// whole set.
func (s *Store) AssignOrderRanks(ctx context.Context, businessID string, changes []store.RankChange) (err error) {
	if businessID == "" {
		return store.ErrMissingBusiness
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, change := range changes {
		row := tx.QueryRow(ctx, `
			UPDATE tickets SET order_rank = $1
			WHERE ticket_id = $2 AND business_id = $3 AND state = $4 AND order_rank = $5
			RETURNING `+ticketColumns,
			change.To, change.TicketID, businessID, models.StateWaiting, change.From)
		var ticket models.Ticket
		ticket, err = scanTicket(row)
		if errors.Is(err, pgx.ErrNoRows) {
			_, found, stateErr := loadTicketState(ctx, tx, change.TicketID, businessID)
			switch {
			case stateErr != nil:
				err = stateErr
			case !found:
				err = store.ErrTicketNotFound
			default:
				err = store.ErrInvalidState
			}
			return err
		}
		if err != nil {
			return err
		}
		if err = s.insertOutboxEvent(ctx, tx, store.EventUpdate, ticket); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListServices(ctx context.Context, businessID string) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT business_id, name, duration_minutes, active
		FROM services
		WHERE business_id = $1 AND active
		ORDER BY name ASC
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		var service models.Service
		if err := rows.Scan(&service.BusinessID, &service.Name, &service.DurationMinutes, &service.Active); err != nil {
			return nil, err
		}
		services = append(services, service)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return services, nil
}

func (s *Store) GetBusinessConfig(ctx context.Context, businessID string) (models.BusinessConfig, error) {
	var cfg models.BusinessConfig
	row := s.pool.QueryRow(ctx, `
		SELECT business_id, opening_time, closing_time, daily_ticket_limit, operating_days, show_estimated_time
		FROM business_config
		WHERE business_id = $1
	`, businessID)
	if err := row.Scan(&cfg.BusinessID, &cfg.OpeningTime, &cfg.ClosingTime, &cfg.DailyTicketLimit,
		&cfg.OperatingDays, &cfg.ShowEstimatedTime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BusinessConfig{}, store.ErrConfigNotFound
		}
		return models.BusinessConfig{}, err
	}
	return cfg, nil
}

func (s *Store) GetBreakState(ctx context.Context, businessID string) (models.BreakState, error) {
	state := models.BreakState{BusinessID: businessID}
	var endNull sql.NullTime
	var messageNull sql.NullString
	row := s.pool.QueryRow(ctx, `
		SELECT on_break, break_end_time, break_message
		FROM business_break
		WHERE business_id = $1
	`, businessID)
	if err := row.Scan(&state.OnBreak, &endNull, &messageNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return state, nil
		}
		return models.BreakState{}, err
	}
	state.BreakEndTime = nullTimePtr(endNull)
	if messageNull.Valid {
		state.BreakMessage = messageNull.String
	}
	return state, nil
}

func (s *Store) ListEarnings(ctx context.Context, businessID, from, to string) ([]models.DailyEarnings, error) {
	if businessID == "" {
		return nil, store.ErrMissingBusiness
	}
	query := `
		SELECT to_char(ticket_date, 'YYYY-MM-DD'), COALESCE(SUM(amount_charged), 0), COUNT(*)
		FROM tickets
		WHERE business_id = $1 AND state = $2
	`
	args := []interface{}{businessID, models.StatePaid}
	if from != "" {
		args = append(args, from)
		query += fmt.Sprintf(" AND ticket_date >= $%d::date", len(args))
	}
	if to != "" {
		args = append(args, to)
		query += fmt.Sprintf(" AND ticket_date <= $%d::date", len(args))
	}
	query += " GROUP BY ticket_date ORDER BY ticket_date ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var earnings []models.DailyEarnings
	for rows.Next() {
		var day models.DailyEarnings
		if err := rows.Scan(&day.Date, &day.Revenue, &day.Served); err != nil {
			return nil, err
		}
		earnings = append(earnings, day)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return earnings, nil
}

// ListOutboxEvents pages the outbox in (created_at, event_id) order.
// Rows are stamped before their transaction commits, so callers pass a
// before bound that trails the clock by longer than a transaction lasts.
func (s *Store) ListOutboxEvents(ctx context.Context, offset store.OutboxOffset, before time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = defaultOutboxLimit
	}
	if offset.LastEventID == "" {
		offset.LastEventID = zeroUUID
	}
	var until *time.Time
	if !before.IsZero() {
		until = &before
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id::text, business_id, type, payload_json, created_at
		FROM outbox_events
		WHERE (created_at, event_id) > ($1, $2::uuid)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $4
	`, offset.LastEventTime, offset.LastEventID, until, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		var payload []byte
		if err := rows.Scan(&event.EventID, &event.BusinessID, &event.Type, &payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Payload = payload
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) CleanupOutbox(ctx context.Context, before time.Time) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM outbox_events WHERE created_at < $1`, before)
	return err
}

func (s *Store) insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket) error {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, business_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), ticket.BusinessID, eventType, payload, s.clock.Now().UTC())
	return err
}

func loadTicketState(ctx context.Context, tx pgx.Tx, ticketID, businessID string) (string, bool, error) {
	var state string
	row := tx.QueryRow(ctx, `
		SELECT state FROM tickets WHERE ticket_id = $1 AND business_id = $2
	`, ticketID, businessID)
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return state, true, nil
}

// buildWhere renders the filter as a conjunction. Placeholders are
// numbered after the first offset arguments, which are passed through.
func buildWhere(filter store.Filter, offset int, args ...interface{}) (string, []interface{}) {
	args = args[:offset:offset]
	var clauses []string
	add := func(format string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(format, len(args)))
	}

	add("business_id = $%d", filter.BusinessID)
	if filter.ID != "" {
		add("ticket_id = $%d", filter.ID)
	}
	if filter.Date != "" {
		add("ticket_date = $%d::date", filter.Date)
	}
	if filter.DateTo != "" {
		add("ticket_date <= $%d::date", filter.DateTo)
	}
	if filter.Code != "" {
		add("code = $%d", filter.Code)
	}
	if filter.CodePrefix != "" {
		add("starts_with(code, $%d)", filter.CodePrefix)
	}
	if filter.Phone != "" {
		add("phone = $%d", filter.Phone)
	}
	if filter.OrderRank != nil {
		add("order_rank = $%d", *filter.OrderRank)
	}
	if len(filter.States) > 0 {
		add("state = ANY($%d)", filter.States)
	}
	return strings.Join(clauses, " AND "), args
}

func buildSet(patch store.Patch) (string, []interface{}) {
	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.State != nil {
		add("state", *patch.State)
	}
	if patch.OrderRank != nil {
		add("order_rank", *patch.OrderRank)
	}
	switch {
	case patch.StartedAt != nil:
		add("started_at", *patch.StartedAt)
	case patch.ClearStartedAt:
		sets = append(sets, "started_at = NULL")
	}
	if patch.AmountCharged != nil {
		add("amount_charged", *patch.AmountCharged)
	}
	if patch.PaymentMethod != nil {
		add("payment_method", *patch.PaymentMethod)
	}
	return strings.Join(sets, ", "), args
}

func orderClause(order store.Order) string {
	switch order {
	case store.OrderCreatedAsc:
		return " ORDER BY created_at ASC"
	case store.OrderCreatedDesc:
		return " ORDER BY created_at DESC"
	case store.OrderLine:
		return " ORDER BY order_rank ASC, created_at ASC"
	case store.OrderStartedAsc:
		return " ORDER BY started_at ASC NULLS LAST, created_at ASC"
	case store.OrderRankDesc:
		return " ORDER BY order_rank DESC"
	default:
		return ""
	}
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var startedAtNull sql.NullTime
	var amountNull sql.NullFloat64
	var methodNull sql.NullString
	if err := row.Scan(&ticket.ID, &ticket.BusinessID, &ticket.Code, &ticket.Date, &ticket.TimeCreated,
		&ticket.CustomerName, &ticket.Phone, &ticket.ServiceType, &ticket.State, &ticket.OrderRank,
		&ticket.CreatedAt, &startedAtNull, &amountNull, &methodNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.StartedAt = nullTimePtr(startedAtNull)
	ticket.PaymentMethod = nullStringPtr(methodNull)
	if amountNull.Valid {
		amount := amountNull.Float64
		ticket.AmountCharged = &amount
	}
	return ticket, nil
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
