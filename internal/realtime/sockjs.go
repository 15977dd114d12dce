package realtime

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

const (
	closeAccessDenied = 4003
	sendBuffer        = 16
)

// NewHandler serves the SockJS endpoint under prefix. Clients send
// {"action":"subscribe","business_id":"..."} to start receiving
// envelopes; businesses outside allowed are refused.
func NewHandler(prefix string, h *Hub, allowed []string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &Client{ID: uuid.NewString(), Send: make(chan []byte, sendBuffer)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, Subscription{})
				continue
			}
			if !isAllowed(parsed.BusinessID, allowed) {
				_ = session.Close(closeAccessDenied, "access denied")
				return
			}
			h.UpdateSubscription(client, Subscription{
				BusinessID: parsed.BusinessID,
				Code:       strings.ToUpper(strings.TrimSpace(parsed.Code)),
			})
		}
	})
}

func isAllowed(businessID string, allowed []string) bool {
	if businessID == "" {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, item := range allowed {
		if item == businessID {
			return true
		}
	}
	return false
}
