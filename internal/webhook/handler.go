package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kudichat/kudichat/internal/fees"
	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/pkg/config"
	"github.com/kudichat/kudichat/pkg/logger"
	"github.com/kudichat/kudichat/pkg/money"
)

// Event names the provider sends.
const (
	EventTransferStatus = "transfer.status"
	EventAccountCredit  = "account.credit"
)

type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type transferStatusData struct {
	Reference         string `json:"reference"`
	ResponseCode      string `json:"response_code"`
	ProviderReference string `json:"provider_reference"`
	SessionID         string `json:"session_id"`
	Message           string `json:"message"`
}

type accountCreditData struct {
	AccountNumber     string `json:"account_number"`
	Amount            int64  `json:"amount"`
	ProviderReference string `json:"provider_reference"`
	SenderName        string `json:"sender_name"`
	SenderBank        string `json:"sender_bank"`
	Narration         string `json:"narration"`
}

type Notifier interface {
	SendText(ctx context.Context, phone, text string) error
}

// Handler ingests provider webhooks. Verification happens on the raw body
// before any parsing; processing is idempotent so provider retries are safe.
type Handler struct {
	cfg      config.Config
	ledger   ledger.Repository
	users    user.Repository
	fees     fees.Policy
	notifier Notifier
}

func NewHandler(cfg config.Config, ledgerRepo ledger.Repository, users user.Repository, policy fees.Policy, notifier Notifier) *Handler {
	return &Handler{cfg: cfg, ledger: ledgerRepo, users: users, fees: policy, notifier: notifier}
}

// Receive handles POST /webhooks/provider. Always answers 200 once the
// signature checks out; a non-2xx would make the provider retry events we
// merely chose to ignore.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.cfg.ProviderWebhookSecret, body, r.Header.Get(SignatureHeader)) {
		logger.Warn("Webhook signature verification failed", nil)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		logger.Warn("Webhook body is not valid JSON", logger.Fields{logger.ErrorKey: err.Error()})
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch event.Event {
	case EventTransferStatus:
		h.handleTransferStatus(r.Context(), event.Data)
	case EventAccountCredit:
		h.handleAccountCredit(r.Context(), event.Data)
	default:
		logger.Info("Ignoring unhandled webhook event", logger.Fields{"event": event.Event})
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTransferStatus(ctx context.Context, data json.RawMessage) {
	var payload transferStatusData
	if err := json.Unmarshal(data, &payload); err != nil || payload.Reference == "" {
		logger.Warn("Malformed transfer status webhook", nil)
		return
	}

	result, err := h.ledger.ReconcileFromProvider(payload.Reference, ledger.ProviderOutcome{
		Code:              payload.ResponseCode,
		ProviderReference: payload.ProviderReference,
		SessionID:         payload.SessionID,
		FailureReason:     payload.Message,
	})
	if err != nil {
		logger.Error("Transfer status reconciliation failed", logger.Fields{
			logger.ReferenceKey: payload.Reference,
			logger.ErrorKey:     err.Error(),
		})
		return
	}

	logger.Info("Transfer status webhook processed", logger.Fields{
		logger.ReferenceKey: payload.Reference,
		"code":              payload.ResponseCode,
		"applied":           result.Applied,
		"duplicate":         result.Duplicate,
	})

	if !result.Applied || result.Duplicate {
		return
	}

	switch result.Status {
	case ledger.StatusCompleted:
		h.notifyByReference(ctx, payload.Reference, func(txn *ledger.Transaction) string {
			return fmt.Sprintf("✅ Your transfer of %s to %s is complete.",
				money.FormatNaira(txn.Amount), txn.Recipient.AccountName)
		})
	case ledger.StatusFailed:
		h.notifyByReference(ctx, payload.Reference, func(txn *ledger.Transaction) string {
			return fmt.Sprintf("❌ Your transfer of %s to %s failed and your wallet was not charged.",
				money.FormatNaira(txn.Amount), txn.Recipient.AccountName)
		})
	case ledger.StatusPendingSettlement:
		h.notifyByReference(ctx, payload.Reference, func(txn *ledger.Transaction) string {
			return fmt.Sprintf("⏳ Your transfer of %s to %s was sent and is awaiting settlement at the receiving bank.",
				money.FormatNaira(txn.Amount), txn.Recipient.AccountName)
		})
	}
}

func (h *Handler) handleAccountCredit(ctx context.Context, data json.RawMessage) {
	var payload accountCreditData
	if err := json.Unmarshal(data, &payload); err != nil || payload.AccountNumber == "" || payload.Amount <= 0 {
		logger.Warn("Malformed account credit webhook", nil)
		return
	}

	wallet, err := h.ledger.GetWalletByAccountNumber(payload.AccountNumber)
	if err != nil {
		logger.Warn("Credit webhook for unknown account", logger.Fields{
			"account_number": payload.AccountNumber,
		})
		return
	}

	description := fmt.Sprintf("Transfer from %s", payload.SenderName)
	if payload.SenderBank != "" {
		description = fmt.Sprintf("Transfer from %s (%s)", payload.SenderName, payload.SenderBank)
	}

	result, err := h.ledger.CreditWallet(wallet.UserID.String(), payload.Amount, description, ledger.CreditMeta{
		Category:          ledger.CategoryIncomingTransfer,
		ProviderReference: payload.ProviderReference,
		Metadata: ledger.Metadata{
			"senderName": payload.SenderName,
			"senderBank": payload.SenderBank,
			"narration":  payload.Narration,
		},
	})
	if err != nil {
		logger.Error("Incoming credit failed", logger.Fields{
			logger.UserIdKey: wallet.UserID.String(),
			logger.ErrorKey:  err.Error(),
		})
		return
	}
	if result.Duplicate {
		logger.Info("Incoming credit already applied", logger.Fields{
			"provider_reference": payload.ProviderReference,
		})
		return
	}

	feeNote := ""
	if h.cfg.IncomingFeeEnabled {
		if fee := h.fees.IncomingTransfer(payload.Amount).TotalFee; fee > 0 {
			_, err := h.ledger.DebitWallet(wallet.UserID.String(), fee, "Incoming transfer fee", ledger.DebitMeta{
				Category: ledger.CategoryFeeCharge,
			})
			if err != nil {
				logger.Error("Incoming fee charge failed", logger.Fields{
					logger.UserIdKey: wallet.UserID.String(),
					logger.ErrorKey:  err.Error(),
				})
			} else {
				feeNote = fmt.Sprintf("\nFee: %s", money.FormatNaira(fee))
			}
		}
	}

	usr, err := h.users.FindByID(wallet.UserID.String())
	if err != nil {
		return
	}
	if h.notifier != nil {
		h.notifier.SendText(ctx, usr.PhoneNumber, fmt.Sprintf(
			"💰 You just received %s from %s.%s\nNew balance: %s",
			money.FormatNaira(payload.Amount), payload.SenderName, feeNote,
			money.FormatNaira(result.NewBalance)))
	}
}

func (h *Handler) notifyByReference(ctx context.Context, reference string, message func(*ledger.Transaction) string) {
	if h.notifier == nil {
		return
	}

	txn, err := h.ledger.GetTransactionByReference(reference)
	if err != nil {
		return
	}
	usr, err := h.users.FindByID(txn.UserID.String())
	if err != nil {
		return
	}
	h.notifier.SendText(ctx, usr.PhoneNumber, message(txn))
}
