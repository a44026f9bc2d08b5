package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kudichat/kudichat/internal/flow"
	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/transfer"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/internal/vtu"
	"github.com/kudichat/kudichat/pkg/cache"
	"github.com/kudichat/kudichat/pkg/logger"
	"github.com/kudichat/kudichat/pkg/money"
)

const (
	popTimeout       = 5 * time.Second
	dataMaxAttempts  = 3
	dataRetryBackoff = 2 * time.Second
)

type TransferProcessor interface {
	ProcessBankTransfer(ctx context.Context, userID string, req transfer.Request, pin string) (*transfer.Result, error)
}

type DataProcessor interface {
	PurchaseData(ctx context.Context, req vtu.DataRequest) (*vtu.PurchaseReceipt, error)
}

type JobStore interface {
	GetJSON(ctx context.Context, key string, dst interface{}) error
	Delete(ctx context.Context, keys ...string) error
	PushToDLQ(ctx context.Context, data []byte) error
}

type Notifier interface {
	SendText(ctx context.Context, phone, text string) error
}

// CompletionWorker drains the completion queue fed by terminal flow screens.
// The flow endpoint answered the user long ago; this is where the money
// actually moves.
type CompletionWorker struct {
	Redis     *cache.RedisClient
	Store     JobStore
	Users     user.Repository
	Transfers TransferProcessor
	Data      DataProcessor
	Notifier  Notifier
}

func NewCompletionWorker(redisClient *cache.RedisClient, users user.Repository,
	transfers TransferProcessor, data DataProcessor, notifier Notifier) *CompletionWorker {
	return &CompletionWorker{
		Redis:     redisClient,
		Store:     redisClient,
		Users:     users,
		Transfers: transfers,
		Data:      data,
		Notifier:  notifier,
	}
}

// Run blocks until ctx is cancelled.
func (w *CompletionWorker) Run(ctx context.Context) {
	logger.Info("Completion worker started", nil)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Completion worker stopping", nil)
			return
		default:
		}

		result, err := w.Redis.Client.BLPop(ctx, popTimeout, cache.CompletionQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			logger.Error("Queue pop failed", logger.Fields{logger.ErrorKey: err.Error()})
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		raw := []byte(result[1])
		var job cache.CompletionJob
		if err := json.Unmarshal(raw, &job); err != nil {
			logger.Error("Unreadable completion job, sending to DLQ", logger.Fields{logger.ErrorKey: err.Error()})
			w.Store.PushToDLQ(ctx, raw)
			continue
		}

		w.Process(ctx, raw, job)
	}
}

// Process runs one job to a conclusion: success, a user-facing failure
// message, or the DLQ. The processing key is deleted in every case so a
// replayed queue entry cannot double-spend.
func (w *CompletionWorker) Process(ctx context.Context, raw []byte, job cache.CompletionJob) {
	defer w.Store.Delete(ctx, job.ProcessingKey)

	switch job.Kind {
	case "bank_transfer":
		w.processTransfer(ctx, raw, job)
	case "data_purchase":
		w.processDataPurchase(ctx, raw, job)
	default:
		logger.Error("Unknown completion job kind, sending to DLQ", logger.Fields{"kind": job.Kind})
		w.Store.PushToDLQ(ctx, raw)
	}
}

func (w *CompletionWorker) processTransfer(ctx context.Context, raw []byte, job cache.CompletionJob) {
	var payload flow.TransferPayload
	if err := w.Store.GetJSON(ctx, job.ProcessingKey, &payload); err != nil {
		logger.Error("Transfer payload expired or unreadable", logger.Fields{
			"key":           job.ProcessingKey,
			logger.ErrorKey: err.Error(),
		})
		w.Store.PushToDLQ(ctx, raw)
		w.notifyUser(ctx, job.UserID, "Your transfer session expired before it could be processed. Please start again.")
		return
	}

	// transfers are never retried here: a pending transaction left behind by
	// a provider outage is the sweeper's problem, not a reason to send twice
	_, err := w.Transfers.ProcessBankTransfer(ctx, payload.UserID, transfer.Request{
		AccountNumber: payload.AccountNumber,
		BankCode:      payload.BankCode,
		Amount:        payload.Amount,
		Narration:     payload.Narration,
	}, payload.PIN)
	if err != nil {
		w.notifyUser(ctx, job.UserID, transferFailureMessage(err))
		return
	}
	// the orchestrator already sent the receipt
}

func (w *CompletionWorker) processDataPurchase(ctx context.Context, raw []byte, job cache.CompletionJob) {
	var payload flow.DataPurchasePayload
	if err := w.Store.GetJSON(ctx, job.ProcessingKey, &payload); err != nil {
		logger.Error("Data purchase payload expired or unreadable", logger.Fields{
			"key":           job.ProcessingKey,
			logger.ErrorKey: err.Error(),
		})
		w.Store.PushToDLQ(ctx, raw)
		w.notifyUser(ctx, job.UserID, "Your purchase session expired before it could be processed. Please start again.")
		return
	}

	req := vtu.DataRequest{
		UserID:  payload.UserID,
		Network: payload.Network,
		Phone:   payload.Phone,
		PlanID:  payload.PlanID,
		PIN:     payload.PIN,
	}

	var receipt *vtu.PurchaseReceipt
	var err error
	for attempt := 1; attempt <= dataMaxAttempts; attempt++ {
		receipt, err = w.Data.PurchaseData(ctx, req)
		if err == nil || !errors.Is(err, ledger.ErrProviderUnavailable) {
			break
		}
		logger.Warn("Data purchase attempt failed, retrying", logger.Fields{
			logger.UserIdKey: job.UserID,
			"attempt":        attempt,
			logger.ErrorKey:  err.Error(),
		})
		time.Sleep(dataRetryBackoff)
	}
	if err != nil {
		if errors.Is(err, ledger.ErrProviderUnavailable) {
			w.Store.PushToDLQ(ctx, raw)
		}
		w.notifyUser(ctx, job.UserID, dataFailureMessage(err))
		return
	}

	w.notifyUser(ctx, job.UserID, fmt.Sprintf(
		"📶 %s %s is on its way to %s.\nRef: %s\nNew balance: %s",
		receipt.Plan.Network, receipt.Plan.Title, payload.Phone,
		receipt.Reference, money.FormatNaira(receipt.NewBalance)))
}

func (w *CompletionWorker) notifyUser(ctx context.Context, userID, text string) {
	usr, err := w.Users.FindByID(userID)
	if err != nil {
		logger.Error("Cannot notify unknown user", logger.Fields{logger.UserIdKey: userID})
		return
	}
	if err := w.Notifier.SendText(ctx, usr.PhoneNumber, text); err != nil {
		logger.Warn("Worker notification failed", logger.Fields{
			logger.PhoneKey: usr.PhoneNumber,
			logger.ErrorKey: err.Error(),
		})
	}
}

func transferFailureMessage(err error) string {
	var insufficient *ledger.InsufficientFundsError
	if errors.As(err, &insufficient) {
		return fmt.Sprintf("Your transfer didn't go through: you're %s short. Top up and try again.",
			money.FormatNaira(insufficient.Shortfall()))
	}
	var limit *ledger.LimitExceededError
	if errors.As(err, &limit) {
		return fmt.Sprintf("That transfer exceeds your %s limit. You can still send up to %s.",
			limit.Scope, money.FormatNaira(limit.Remaining))
	}
	var auth *ledger.AuthError
	if errors.As(err, &auth) {
		return "That PIN was incorrect, so the transfer was not sent."
	}
	switch {
	case errors.Is(err, ledger.ErrWalletFrozen):
		return "Your wallet is temporarily restricted. Please contact support."
	case errors.Is(err, ledger.ErrProviderUnavailable):
		return "⏳ Your transfer is queued with the bank and will complete shortly. We'll message you when it lands."
	case errors.Is(err, ledger.ErrProviderRejected):
		return "The receiving bank rejected that transfer and your wallet was not charged."
	}
	return "Your transfer could not be completed and your wallet was not charged. Please try again."
}

func dataFailureMessage(err error) string {
	var insufficient *ledger.InsufficientFundsError
	if errors.As(err, &insufficient) {
		return fmt.Sprintf("Your purchase didn't go through: you're %s short.",
			money.FormatNaira(insufficient.Shortfall()))
	}
	var auth *ledger.AuthError
	if errors.As(err, &auth) {
		return "That PIN was incorrect, so nothing was purchased."
	}
	return "Your data purchase failed and you were not charged. Please try again."
}
