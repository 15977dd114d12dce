package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/turnordoficial-hash/turnord02/internal/models"
	"github.com/turnordoficial-hash/turnord02/internal/queue"
	"github.com/turnordoficial-hash/turnord02/internal/store"
)

// QueueService is the part of queue.Service the HTTP API drives.
type QueueService interface {
	CheckIntake(ctx context.Context, businessID, channel, phone string) error
	CreateTicket(ctx context.Context, businessID string, req queue.IntakeRequest) (models.Ticket, error)
	ActiveTicket(ctx context.Context, businessID, phone string) (models.Ticket, error)
	Promote(ctx context.Context, businessID, ticketID string) (models.Ticket, error)
	PromoteNext(ctx context.Context, businessID string) (models.Ticket, error)
	Pay(ctx context.Context, businessID, ticketID string, req queue.PaymentRequest) (models.Ticket, error)
	Cancel(ctx context.Context, businessID, ticketID string) (models.Ticket, error)
	CancelByCustomer(ctx context.Context, businessID, code, phone string) error
	ReturnToBack(ctx context.Context, businessID, ticketID string) (models.Ticket, error)
	NoShow(ctx context.Context, businessID, ticketID string) (models.Ticket, error)
	Delete(ctx context.Context, businessID, ticketID string) error
	ClearHistory(ctx context.Context, businessID string) (int64, error)
	Snapshot(ctx context.Context, businessID string) (queue.Snapshot, error)
	Reorder(ctx context.Context, businessID string, line []models.Ticket, codeA, codeB string, confirmed bool) error
	Move(ctx context.Context, businessID, code string, up, confirmed bool) error
	Board(ctx context.Context, businessID string) (queue.Board, error)
	CustomerView(ctx context.Context, businessID, code string) (queue.CustomerView, error)
	Estimate(ctx context.Context, businessID string, code *string) (queue.Estimate, error)
	DailyStats(ctx context.Context, businessID string) (queue.DailyStats, error)
	Earnings(ctx context.Context, businessID, from, to string) (queue.EarningsSummary, error)
	Services(ctx context.Context, businessID string) ([]models.Service, error)
	Series() queue.SeriesInfo
}

type Handler struct {
	service         QueueService
	defaultBusiness string
	businesses      map[string]bool
}

type Options struct {
	DefaultBusiness string
	// Businesses limits the tenants callers may address. Empty allows
	// only DefaultBusiness.
	Businesses []string
}

type reorderRequest struct {
	CodeA     string `json:"code_a"`
	CodeB     string `json:"code_b"`
	Code      string `json:"code"`
	Direction string `json:"direction"`
	Confirmed bool   `json:"confirmed"`
}

type customerCancelRequest struct {
	Code  string `json:"code"`
	Phone string `json:"phone"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	RemainingMinutes int    `json:"remaining_minutes,omitempty"`
}

func NewHandler(service QueueService, options Options) *Handler {
	allowed := map[string]bool{options.DefaultBusiness: true}
	for _, id := range options.Businesses {
		allowed[id] = true
	}
	delete(allowed, "")
	return &Handler{
		service:         service,
		defaultBusiness: options.DefaultBusiness,
		businesses:      allowed,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

// Register adds the API routes to an existing mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/active", h.handleActiveTicket)
	mux.HandleFunc("/api/tickets/actions/", h.handleQueueActions)
	mux.HandleFunc("/api/tickets/", h.handleTicketActions)
	mux.HandleFunc("/api/intake", h.handleIntake)
	mux.HandleFunc("/api/queue", h.handleBoard)
	mux.HandleFunc("/api/queue/estimate", h.handleEstimate)
	mux.HandleFunc("/api/queue/customer", h.handleCustomerView)
	mux.HandleFunc("/api/stats", h.handleStats)
	mux.HandleFunc("/api/stats/earnings", h.handleEarnings)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.HandleFunc("/api/series", h.handleSeries)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// business resolves the tenant of a request from the X-Business-ID
// header or the business_id query parameter.
func (h *Handler) business(w http.ResponseWriter, r *http.Request) (string, bool) {
	businessID := businessFromRequest(r)
	if businessID == "" {
		businessID = h.defaultBusiness
	}
	if businessID == "" {
		writeError(w, requestID(r), http.StatusBadRequest, "invalid_request", "business_id is required")
		return "", false
	}
	if !h.businesses[businessID] {
		writeError(w, requestID(r), http.StatusForbidden, "access_denied", "access denied")
		return "", false
	}
	return businessID, true
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := h.business(w, r)
	if !ok {
		return
	}
	var req queue.IntakeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Channel) == "" {
		req.Channel = queue.ChannelCustomer
	}
	ticket, err := h.service.CreateTicket(r.Context(), businessID, req)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleActiveTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := h.business(w, r)
	if !ok {
		return
	}
	ticket, err := h.service.ActiveTicket(r.Context(), businessID, r.URL.Query().Get("phone"))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleIntake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := h.business(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	channel := strings.TrimSpace(query.Get("channel"))
	if channel == "" {
		channel = queue.ChannelCustomer
	}
	if err := h.service.CheckIntake(r.Context(), businessID, channel, strings.TrimSpace(query.Get("phone"))); err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"open": true})
}

// handleQueueActions serves /api/tickets/actions/{promote-next|reorder|clear-history|cancel}.
func (h *Handler) handleQueueActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tickets/actions/"), "/")
	businessID, ok := h.business(w, r)
	if !ok {
		return
	}

	switch action {
	case "promote-next":
		ticket, err := h.service.PromoteNext(r.Context(), businessID)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case "reorder":
		h.handleReorder(w, r, businessID)
	case "clear-history":
		removed, err := h.service.ClearHistory(r.Context(), businessID)
		if err != nil {
			writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
	case "cancel":
		var req customerCancelRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		if err := h.service.CancelByCustomer(r.Context(), businessID, req.Code, req.Phone); err != nil {
			writeMappedError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleReorder(w http.ResponseWriter, r *http.Request, businessID string) {
	var req reorderRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	var err error
	switch {
	case req.Code != "":
		switch strings.ToLower(strings.TrimSpace(req.Direction)) {
		case "up":
			err = h.service.Move(r.Context(), businessID, req.Code, true, req.Confirmed)
		case "down":
			err = h.service.Move(r.Context(), businessID, req.Code, false, req.Confirmed)
		default:
			writeError(w, requestID(r), http.StatusBadRequest, "invalid_request", "direction must be up or down")
			return
		}
	case req.CodeA != "" && req.CodeB != "":
		var snap queue.Snapshot
		snap, err = h.service.Snapshot(r.Context(), businessID)
		if err == nil {
			err = h.service.Reorder(r.Context(), businessID, snap.Line, req.CodeA, req.CodeB, req.Confirmed)
		}
	default:
		writeError(w, requestID(r), http.StatusBadRequest, "invalid_request", "code and direction, or code_a and code_b, are required")
		return
	}
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTicketActions serves DELETE /api/tickets/{id} and
// POST /api/tickets/{id}/actions/{action}.
func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ticketID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		businessID, ok := h.business(w, r)
		if !ok {
			return
		}
		if err := h.service.Delete(r.Context(), businessID, ticketID); err != nil {
			writeMappedError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := h.business(w, r)
	if !ok {
		return
	}

	var (
		ticket models.Ticket
		err    error
	)
	switch parts[2] {
	case "promote":
		ticket, err = h.service.Promote(r.Context(), businessID, ticketID)
	case "pay":
		var req queue.PaymentRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		ticket, err = h.service.Pay(r.Context(), businessID, ticketID, req)
	case "return":
		ticket, err = h.service.ReturnToBack(r.Context(), businessID, ticketID)
	case "cancel":
		ticket, err = h.service.Cancel(r.Context(), businessID, ticketID)
	case "no-show":
		ticket, err = h.service.NoShow(r.Context(), businessID, ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleBoard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := h.business(w, r)
	if !ok {
		return
	}
	board, err := h.service.Board(r.Context(), businessID)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *Handler) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := h.business(w, r)
	if !ok {
		return
	}
	var code *string
	if raw := strings.TrimSpace(r.URL.Query().Get("code")); raw != "" {
		code = &raw
	}
	estimate, err := h.service.Estimate(r.Context(), businessID, code)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

func (h *Handler) handleCustomerView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := h.business(w, r)
	if !ok {
		return
	}
	view, err := h.service.CustomerView(r.Context(), businessID, r.URL.Query().Get("code"))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := h.business(w, r)
	if !ok {
		return
	}
	stats, err := h.service.DailyStats(r.Context(), businessID)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleEarnings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := h.business(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	summary, err := h.service.Earnings(r.Context(), businessID, query.Get("from"), query.Get("to"))
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := h.business(w, r)
	if !ok {
		return
	}
	services, err := h.service.Services(r.Context(), businessID)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *Handler) handleSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Series())
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestID(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	var (
		validationErr *queue.ValidationError
		intakeErr     *queue.IntakeError
		conflictErr   *queue.ConflictError
		storeErr      *queue.StoreError
		configErr     *queue.ConfigurationError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "invalid_request", validationErr.Error()
	case errors.As(err, &intakeErr):
		switch intakeErr.Code {
		case queue.IntakeDailyLimit, queue.IntakeAlreadyWaiting:
			return http.StatusConflict, intakeErr.Code, intakeErr.Message
		default:
			return http.StatusLocked, intakeErr.Code, intakeErr.Message
		}
	case errors.Is(err, queue.ErrLineEmpty):
		return http.StatusConflict, "queue_empty", "no tickets waiting"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrConfigNotFound):
		return http.StatusNotFound, "business_not_found", "business not found"
	case errors.As(err, &conflictErr):
		return http.StatusConflict, "invalid_state", conflictErr.Error()
	case errors.As(err, &configErr):
		return http.StatusBadRequest, "invalid_request", configErr.Error()
	case errors.As(err, &storeErr):
		return http.StatusBadGateway, "store_unavailable", "ticket store unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	body := responseError{Code: code, Message: msg}
	var intakeErr *queue.IntakeError
	if errors.As(err, &intakeErr) {
		body.RemainingMinutes = intakeErr.RemainingMinutes
	}
	writeJSON(w, status, errorResponse{RequestID: requestID(r), Error: body})
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
