package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kudichat/kudichat/internal/transfer"
	"github.com/kudichat/kudichat/pkg/config"
	"github.com/kudichat/kudichat/pkg/logger"
	"github.com/kudichat/kudichat/pkg/money"
)

const (
	graphBaseURL    = "https://graph.facebook.com/v19.0"
	requestDeadline = 15 * time.Second
)

// WhatsApp sends outbound messages through the Cloud API. Phone numbers are
// local format in the rest of the system and converted to E.164 here.
type WhatsApp struct {
	Token   string
	PhoneID string
	BaseURL string

	http *http.Client
}

func NewWhatsApp(cfg config.Config) *WhatsApp {
	return &WhatsApp{
		Token:   cfg.WhatsAppToken,
		PhoneID: cfg.WhatsAppPhoneID,
		BaseURL: graphBaseURL,
		http:    &http.Client{Timeout: requestDeadline},
	}
}

func (w *WhatsApp) SendText(ctx context.Context, phone, text string) error {
	return w.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                toE164(phone),
		"type":              "text",
		"text":              map[string]interface{}{"body": text},
	})
}

// SendReceipt delivers the transfer receipt as a formatted message. Callers
// fall back to SendText on error.
func (w *WhatsApp) SendReceipt(ctx context.Context, phone string, receipt transfer.Receipt) error {
	body := fmt.Sprintf(
		"*Transfer Receipt* ✅\n\nTo: *%s*\nAccount: %s (%s)\nAmount: %s\nFee: %s\nTotal: %s\nRef: `%s`\n\nNew balance: %s",
		receipt.AccountName, receipt.AccountNumber, receipt.BankName,
		money.FormatNaira(receipt.Amount), money.FormatNaira(receipt.Fee),
		money.FormatNaira(receipt.TotalAmount), receipt.Reference,
		money.FormatNaira(receipt.NewBalance))

	return w.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                toE164(phone),
		"type":              "text",
		"text":              map[string]interface{}{"body": body},
	})
}

// SendFlow opens an encrypted form on the user's device. flowToken scopes the
// form session; screen names the entry screen.
func (w *WhatsApp) SendFlow(ctx context.Context, phone, flowID, flowToken, screen, cta, body string) error {
	return w.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                toE164(phone),
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type": "flow",
			"body": map[string]interface{}{"text": body},
			"action": map[string]interface{}{
				"name": "flow",
				"parameters": map[string]interface{}{
					"flow_message_version": "3",
					"flow_id":              flowID,
					"flow_token":           flowToken,
					"flow_cta":             cta,
					"flow_action":          "navigate",
					"flow_action_payload":  map[string]interface{}{"screen": screen},
				},
			},
		},
	})
}

// SendYesNo asks a question with two reply buttons.
func (w *WhatsApp) SendYesNo(ctx context.Context, phone, body, yesID, noID string) error {
	return w.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                toE164(phone),
		"type":              "interactive",
		"interactive": map[string]interface{}{
			"type": "button",
			"body": map[string]interface{}{"text": body},
			"action": map[string]interface{}{
				"buttons": []map[string]interface{}{
					{"type": "reply", "reply": map[string]string{"id": yesID, "title": "Yes"}},
					{"type": "reply", "reply": map[string]string{"id": noID, "title": "No"}},
				},
			},
		},
	})
}

func (w *WhatsApp) send(ctx context.Context, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/messages", w.BaseURL, w.PhoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.Token)

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Warn("WhatsApp send rejected", logger.Fields{
			"status": resp.StatusCode,
			"detail": string(detail),
		})
		return fmt.Errorf("whatsapp send failed with status %d", resp.StatusCode)
	}
	return nil
}

// toE164 converts local Nigerian numbers (0803...) to 234803...; anything
// already international passes through.
func toE164(phone string) string {
	if len(phone) == 11 && phone[0] == '0' {
		return "234" + phone[1:]
	}
	return phone
}
