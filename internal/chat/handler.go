package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kudichat/kudichat/pkg/logger"
)

// Handler receives the WhatsApp inbound webhook. Replies must be fast, so
// messages are handed to the router off the request path.
type Handler struct {
	verifyToken string
	router      *Router
}

func NewHandler(verifyToken string, router *Router) *Handler {
	return &Handler{verifyToken: verifyToken, router: router}
}

// Verify handles the webhook subscription handshake (GET).
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	w.WriteHeader(http.StatusForbidden)
}

type inboundPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From string `json:"from"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive struct {
		ButtonReply struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
}

// Receive handles inbound message events (POST). Always 200; WhatsApp
// retries anything else and the router already logs its own failures.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var payload inboundPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				h.dispatch(msg)
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) dispatch(msg inboundMessage) {
	message := Message{Phone: toLocal(msg.From)}

	switch msg.Type {
	case "text":
		message.Text = msg.Text.Body
	case "interactive":
		message.ButtonID = msg.Interactive.ButtonReply.ID
		message.Text = msg.Interactive.ButtonReply.Title
	default:
		logger.Info("Ignoring unsupported message type", logger.Fields{"type": msg.Type})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		h.router.Handle(ctx, message)
	}()
}

// toLocal converts the E.164 sender (2348031234567) back to the local format
// the rest of the system keys on.
func toLocal(phone string) string {
	if len(phone) == 13 && phone[:3] == "234" {
		return "0" + phone[3:]
	}
	return phone
}
