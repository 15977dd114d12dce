package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/turnordoficial-hash/turnord02/internal/reconcile"
)

type boardSlot struct {
	Code             string `json:"code"`
	ServiceType      string `json:"service_type"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

type boardPlace struct {
	Code            string `json:"code"`
	Position        int    `json:"position"`
	EstimateMinutes int    `json:"estimate_minutes,omitempty"`
}

// BoardMessage is the public display of a business. Like Envelope it
// carries codes only.
type BoardMessage struct {
	Type          string       `json:"type"`
	BusinessID    string       `json:"business_id"`
	Series        string       `json:"series"`
	CurrentCode   string       `json:"current_code"`
	Serving       []boardSlot  `json:"serving"`
	Waiting       []boardPlace `json:"waiting"`
	AverageWait   int          `json:"average_wait_minutes"`
	ShowEstimates bool         `json:"show_estimates"`
	GeneratedAt   time.Time    `json:"generated_at"`
}

type countdownMessage struct {
	Type             string `json:"type"`
	BusinessID       string `json:"business_id"`
	Code             string `json:"code"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

type waitedMessage struct {
	Type       string         `json:"type"`
	BusinessID string         `json:"business_id"`
	Minutes    map[string]int `json:"minutes"`
}

type errorMessage struct {
	Type       string `json:"type"`
	BusinessID string `json:"business_id"`
}

// BoardRenderer pushes reconciled staff views of one business to every
// subscribed client.
type BoardRenderer struct {
	hub        *Hub
	businessID string
	logger     *slog.Logger
}

var _ reconcile.Renderer = (*BoardRenderer)(nil)

func NewBoardRenderer(h *Hub, businessID string, logger *slog.Logger) *BoardRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BoardRenderer{hub: h, businessID: businessID, logger: logger}
}

func (r *BoardRenderer) Render(view reconcile.View) {
	board := view.Board
	msg := BoardMessage{
		Type:          "board",
		BusinessID:    r.businessID,
		Series:        board.Series,
		Serving:       make([]boardSlot, 0, len(board.Serving)),
		Waiting:       make([]boardPlace, 0, len(board.Line)),
		AverageWait:   board.AverageWait,
		ShowEstimates: board.ShowEstimates,
		GeneratedAt:   board.GeneratedAt,
	}
	if board.Current != nil {
		msg.CurrentCode = board.Current.Code
	}
	for _, entry := range board.Serving {
		msg.Serving = append(msg.Serving, boardSlot{
			Code:             entry.Code,
			ServiceType:      entry.ServiceType,
			RemainingSeconds: entry.RemainingMinutes * 60,
		})
	}
	for _, entry := range board.Line {
		place := boardPlace{Code: entry.Code, Position: entry.Position}
		if board.ShowEstimates {
			place.EstimateMinutes = entry.EstimateMinutes
		}
		msg.Waiting = append(msg.Waiting, place)
	}
	r.send(msg)
}

func (r *BoardRenderer) Countdown(code string, remaining time.Duration) {
	r.send(countdownMessage{
		Type:             "countdown",
		BusinessID:       r.businessID,
		Code:             code,
		RemainingSeconds: int(remaining / time.Second),
	})
}

func (r *BoardRenderer) WaitElapsed(minutes map[string]int) {
	r.send(waitedMessage{Type: "waited", BusinessID: r.businessID, Minutes: minutes})
}

// Error tells clients the board may be stale; the next change retries.
func (r *BoardRenderer) Error(err error) {
	r.logger.Warn("board refresh failed", "business_id", r.businessID, "error", err)
	r.send(errorMessage{Type: "stale", BusinessID: r.businessID})
}

func (r *BoardRenderer) send(msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("encode board message", "business_id", r.businessID, "error", err)
		return
	}
	r.hub.Broadcast(payload, r.businessID)
}
