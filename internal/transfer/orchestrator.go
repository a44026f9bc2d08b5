package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kudichat/kudichat/internal/beneficiary"
	"github.com/kudichat/kudichat/internal/fees"
	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/provider"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/pkg/config"
	"github.com/kudichat/kudichat/pkg/id"
	"github.com/kudichat/kudichat/pkg/logger"
)

// ProviderClient is the slice of the BaaS client the orchestrator uses.
type ProviderClient interface {
	NameEnquiry(ctx context.Context, accountNumber, institutionCode string) (*provider.NameEnquiryResult, error)
	FundTransfer(ctx context.Context, req provider.FundTransferRequest) (*provider.FundTransferResult, error)
	BalanceEnquiry(ctx context.Context, accountNumber string) (int64, error)
	ResolveBankCode(ctx context.Context, bankCode string) (string, string, error)
}

// Notifier delivers receipts and prompts over the chat channel. Notification
// failure never fails a ledger effect.
type Notifier interface {
	SendText(ctx context.Context, phone, text string) error
	SendReceipt(ctx context.Context, phone string, receipt Receipt) error
}

type Receipt struct {
	Reference     string
	Amount        int64
	Fee           int64
	TotalAmount   int64
	AccountName   string
	AccountNumber string
	BankName      string
	Narration     string
	NewBalance    int64
	CompletedAt   time.Time
}

type Request struct {
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Amount        int64  `json:"amount"`
	Narration     string `json:"narration,omitempty"`
	Reference     string `json:"reference,omitempty"`
}

type Result struct {
	Transaction ledger.Transaction `json:"transaction"`
	Breakdown   fees.Breakdown     `json:"breakdown"`
	AccountName string             `json:"account_name"`
	NewBalance  int64              `json:"new_balance"`
}

type Orchestrator struct {
	Config        config.Config
	Users         user.Repository
	Ledger        ledger.Repository
	Beneficiaries beneficiary.Repository
	Provider      ProviderClient
	Fees          fees.Policy
	States        *user.StateStore
	Notifier      Notifier
}

func NewOrchestrator(cfg config.Config, users user.Repository, ledgerRepo ledger.Repository,
	beneficiaries beneficiary.Repository, providerClient ProviderClient,
	states *user.StateStore, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		Config:        cfg,
		Users:         users,
		Ledger:        ledgerRepo,
		Beneficiaries: beneficiaries,
		Provider:      providerClient,
		Fees:          fees.NewPolicy(cfg.TransferFeeStrategy),
		States:        states,
		Notifier:      notifier,
	}
}

// ProcessBankTransfer runs the full outbound transfer: authenticate, name
// enquiry, limits, fee, balance guard, pending insert, provider call, atomic
// settle, hidden platform-fee sibling, beneficiary touch, receipt. Steps are
// mandatory and ordered; this layer never retries the provider.
func (o *Orchestrator) ProcessBankTransfer(ctx context.Context, userID string, req Request, pin string) (*Result, error) {
	usr, err := o.Users.FindByID(userID)
	if err != nil {
		return nil, err
	}
	if usr.IsBanned {
		return nil, ledger.ErrUserBanned
	}
	if err := bcrypt.CompareHashAndPassword([]byte(usr.PinHash), []byte(pin)); err != nil {
		return nil, &ledger.AuthError{Reason: "invalid PIN"}
	}

	institutionCode, bankName, err := o.Provider.ResolveBankCode(ctx, req.BankCode)
	if err != nil {
		return nil, err
	}

	enquiry, err := o.Provider.NameEnquiry(ctx, req.AccountNumber, institutionCode)
	if err != nil {
		return nil, err
	}

	if err := o.checkLimits(userID, req.Amount); err != nil {
		return nil, err
	}

	breakdown := o.Fees.BankTransfer(req.Amount)

	wallet, err := o.Ledger.GetWalletByUserID(userID)
	if err != nil {
		return nil, err
	}
	if wallet.IsFrozen {
		return nil, ledger.ErrWalletFrozen
	}

	balance := wallet.Balance
	if wallet.VirtualAccountNumber != nil {
		// the provider is source-of-truth for funded balance; resync before
		// any debit that could exhaust it
		if providerBalance, err := o.Provider.BalanceEnquiry(ctx, *wallet.VirtualAccountNumber); err == nil {
			if synced, err := o.Ledger.SyncBalance(userID, providerBalance); err == nil {
				balance = synced
			}
		} else {
			logger.Warn("Provider balance enquiry failed, trusting local balance", logger.Fields{
				logger.UserIdKey: userID,
				logger.ErrorKey:  err.Error(),
			})
		}
	}

	if balance < breakdown.TotalAmount {
		return nil, &ledger.InsufficientFundsError{Required: breakdown.TotalAmount, Available: balance}
	}

	reference := req.Reference
	if reference == "" {
		reference = id.NewReference()
	}

	recipient := ledger.RecipientDetails{
		AccountNumber: req.AccountNumber,
		AccountName:   enquiry.AccountName,
		BankCode:      institutionCode,
		BankName:      bankName,
		Narration:     req.Narration,
	}

	pending := ledger.Transaction{
		UserID:      usr.ID,
		WalletID:    wallet.ID,
		Reference:   reference,
		Type:        ledger.TransactionDebit,
		Category:    ledger.CategoryBankTransfer,
		Amount:      req.Amount,
		Fee:         breakdown.TotalFee,
		TotalAmount: breakdown.TotalAmount,
		Status:      ledger.StatusPending,
		Recipient:   recipient,
		Description: fmt.Sprintf("Transfer to %s", enquiry.AccountName),
		Metadata:    ledger.Metadata{ledger.MetaFeeBreakdown: breakdown},
	}
	if err := o.Ledger.CreateTransaction(&pending); err != nil {
		return nil, err
	}

	outcome, err := o.Provider.FundTransfer(ctx, provider.FundTransferRequest{
		Reference:       reference,
		AccountNumber:   req.AccountNumber,
		InstitutionCode: institutionCode,
		AccountName:     enquiry.AccountName,
		Amount:          req.Amount,
		Narration:       req.Narration,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrProviderUnavailable) {
			// transaction stays pending; the sweeper reconciles it
			logger.Warn("Provider unavailable, transfer left pending", logger.Fields{
				logger.ReferenceKey: reference,
				logger.ErrorKey:     err.Error(),
			})
			return nil, err
		}
		o.failTransaction(reference, err.Error())
		return nil, err
	}

	if !outcome.Accepted() {
		o.failTransaction(reference, fmt.Sprintf("provider declined: code %s %s", outcome.ResponseCode, outcome.Message))
		return nil, fmt.Errorf("%w: %s", ledger.ErrProviderRejected, outcome.Message)
	}

	mutation, err := o.Ledger.DebitWallet(userID, breakdown.TotalAmount,
		fmt.Sprintf("Transfer to %s", enquiry.AccountName),
		ledger.DebitMeta{
			Category:          ledger.CategoryBankTransfer,
			TransactionID:     pending.ID.String(),
			Fee:               breakdown.TotalFee,
			Recipient:         recipient,
			ProviderReference: outcome.ProviderReference,
			SessionID:         outcome.SessionID,
		})
	if err != nil {
		// money moved at the provider but the local settle failed; loudest
		// possible log, sweeper and reconciliation pick this up
		logger.Error("CRITICAL: provider accepted transfer but local settle failed", logger.Fields{
			logger.ReferenceKey: reference,
			logger.UserIdKey:    userID,
			logger.ErrorKey:     err.Error(),
		})
		return nil, err
	}

	o.chargePlatformFee(ctx, usr, reference)
	o.touchBeneficiary(ctx, usr, recipient, req.Amount)
	o.sendReceipt(ctx, usr, mutation, recipient, breakdown)

	return &Result{
		Transaction: mutation.Transaction,
		Breakdown:   breakdown,
		AccountName: enquiry.AccountName,
		NewBalance:  mutation.NewBalance,
	}, nil
}

func (o *Orchestrator) checkLimits(userID string, amount int64) error {
	cfg := o.Config
	if amount < cfg.MinTransferAmount {
		return &ledger.LimitExceededError{Scope: "minimum", Limit: cfg.MinTransferAmount, Remaining: 0}
	}
	if amount > cfg.MaxTransferAmount {
		return &ledger.LimitExceededError{Scope: "maximum", Limit: cfg.MaxTransferAmount, Remaining: cfg.MaxTransferAmount}
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dailySum, err := o.Ledger.SumCompletedDebits(userID, ledger.CategoryBankTransfer, startOfDay)
	if err != nil {
		return err
	}
	if dailySum+amount > cfg.DailyTransferLimit {
		return &ledger.LimitExceededError{
			Scope:     "daily",
			Limit:     cfg.DailyTransferLimit,
			Remaining: cfg.DailyTransferLimit - dailySum,
		}
	}

	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	monthlySum, err := o.Ledger.SumCompletedDebits(userID, ledger.CategoryBankTransfer, startOfMonth)
	if err != nil {
		return err
	}
	if monthlySum+amount > cfg.MonthlyTransferLimit {
		return &ledger.LimitExceededError{
			Scope:     "monthly",
			Limit:     cfg.MonthlyTransferLimit,
			Remaining: cfg.MonthlyTransferLimit - monthlySum,
		}
	}

	return nil
}

func (o *Orchestrator) failTransaction(reference, reason string) {
	if err := o.Ledger.UpdateTransactionStatus(reference, ledger.StatusFailed,
		ledger.StatusPatch{FailureReason: reason}); err != nil {
		logger.Error("Failed to mark transaction failed", logger.Fields{
			logger.ReferenceKey: reference,
			logger.ErrorKey:     err.Error(),
		})
	}
}

// chargePlatformFee initiates the hidden ₦5 sibling transfer to the platform
// account. Its failure never fails the main transfer; operators see the log.
func (o *Orchestrator) chargePlatformFee(ctx context.Context, usr *user.User, parentReference string) {
	feeReference := id.PlatformFeeReference(parentReference)

	outcome, err := o.Provider.FundTransfer(ctx, provider.FundTransferRequest{
		Reference:       feeReference,
		AccountNumber:   o.Config.PlatformAccountNumber,
		InstitutionCode: o.Config.PlatformBankCode,
		AccountName:     "Platform Revenue",
		Amount:          fees.PlatformFeeAmount,
		Narration:       "Service charge",
	})
	if err != nil || !outcome.Accepted() {
		reason := "provider declined"
		if err != nil {
			reason = err.Error()
		}
		logger.Error("platform-fee-failed", logger.Fields{
			logger.ReferenceKey: parentReference,
			logger.UserIdKey:    usr.ID.String(),
			"fee_reference":     feeReference,
			"reason":            reason,
		})
		return
	}

	_, err = o.Ledger.DebitWallet(usr.ID.String(), fees.PlatformFeeAmount, "Service charge",
		ledger.DebitMeta{
			Category:          ledger.CategoryFeeCharge,
			Reference:         feeReference,
			ProviderReference: outcome.ProviderReference,
			ParentReference:   parentReference,
			Metadata: ledger.Metadata{
				ledger.MetaIsPlatformFee:   true,
				ledger.MetaIsVisibleToUser: false,
				ledger.MetaIsInternal:      true,
				ledger.MetaParentReference: parentReference,
			},
		})
	if err != nil {
		logger.Error("platform-fee-failed", logger.Fields{
			logger.ReferenceKey: parentReference,
			logger.UserIdKey:    usr.ID.String(),
			"fee_reference":     feeReference,
			"reason":            err.Error(),
		})
	}
}

// touchBeneficiary bumps stats for a known recipient, or asks the user
// whether to save a new one.
func (o *Orchestrator) touchBeneficiary(ctx context.Context, usr *user.User, recipient ledger.RecipientDetails, amount int64) {
	existing, err := o.Beneficiaries.FindByAccount(usr.ID.String(), recipient.AccountNumber, recipient.BankCode)
	if err != nil {
		logger.Warn("Beneficiary lookup failed", logger.Fields{
			logger.UserIdKey: usr.ID.String(),
			logger.ErrorKey:  err.Error(),
		})
		return
	}

	if existing != nil {
		if err := o.Beneficiaries.RecordTransfer(usr.ID.String(), recipient.AccountNumber, recipient.BankCode, amount); err != nil {
			logger.Warn("Beneficiary stats update failed", logger.Fields{
				logger.UserIdKey: usr.ID.String(),
				logger.ErrorKey:  err.Error(),
			})
		}
		return
	}

	state := &user.ConversationState{
		Intent:        user.IntentSaveBeneficiaryPrompt,
		AwaitingInput: user.AwaitingSaveBeneficiary,
		Data: map[string]interface{}{
			"pendingBeneficiary": map[string]interface{}{
				"name":           recipient.AccountName,
				"account_number": recipient.AccountNumber,
				"bank_code":      recipient.BankCode,
				"bank_name":      recipient.BankName,
			},
		},
	}
	if err := o.States.Set(ctx, usr, state); err != nil {
		// state did not persist; asking the question would strand the answer
		return
	}

	prompt := fmt.Sprintf("Save %s (%s, %s) as a beneficiary? Reply *yes* or *no*.",
		recipient.AccountName, recipient.AccountNumber, recipient.BankName)
	if err := o.Notifier.SendText(ctx, usr.PhoneNumber, prompt); err != nil {
		logger.Warn("Failed to send save-beneficiary prompt", logger.Fields{
			logger.PhoneKey: usr.PhoneNumber,
			logger.ErrorKey: err.Error(),
		})
	}
}

func (o *Orchestrator) sendReceipt(ctx context.Context, usr *user.User, mutation *ledger.MutationResult,
	recipient ledger.RecipientDetails, breakdown fees.Breakdown) {
	receipt := Receipt{
		Reference:     mutation.Transaction.Reference,
		Amount:        breakdown.Amount,
		Fee:           breakdown.TotalFee,
		TotalAmount:   breakdown.TotalAmount,
		AccountName:   recipient.AccountName,
		AccountNumber: recipient.AccountNumber,
		BankName:      recipient.BankName,
		Narration:     recipient.Narration,
		NewBalance:    mutation.NewBalance,
		CompletedAt:   time.Now(),
	}

	if err := o.Notifier.SendReceipt(ctx, usr.PhoneNumber, receipt); err != nil {
		logger.Warn("Receipt image failed, sending text fallback", logger.Fields{
			logger.ReferenceKey: receipt.Reference,
			logger.ErrorKey:     err.Error(),
		})
		fallback := fmt.Sprintf(
			"Transfer successful!\nTo: %s\nAccount: %s (%s)\nAmount: ₦%.2f\nFee: ₦%.2f\nRef: %s\nBalance: ₦%.2f",
			receipt.AccountName, receipt.AccountNumber, receipt.BankName,
			float64(receipt.Amount)/100, float64(receipt.Fee)/100,
			receipt.Reference, float64(receipt.NewBalance)/100)
		if err := o.Notifier.SendText(ctx, usr.PhoneNumber, fallback); err != nil {
			logger.Error("Receipt delivery failed entirely", logger.Fields{
				logger.ReferenceKey: receipt.Reference,
				logger.ErrorKey:     err.Error(),
			})
		}
	}
}
