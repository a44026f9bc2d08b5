package ledger

import (
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kudichat/kudichat/pkg/id"
)

type CreditMeta struct {
	Category          TransactionCategory
	Reference         string
	ProviderReference string
	ParentReference   string // links refunds and fee rows to the transaction they belong to
	AdminCredit       bool
	Metadata          Metadata
}

type DebitMeta struct {
	Category          TransactionCategory
	Reference         string
	TransactionID     string // binds the debit to an already-inserted pending transaction
	Fee               int64
	Recipient         RecipientDetails
	ProviderReference string
	ParentReference   string
	SessionID         string
	Metadata          Metadata
}

type MutationResult struct {
	Transaction     Transaction
	PreviousBalance int64
	NewBalance      int64
	Duplicate       bool
}

type StatusPatch struct {
	ProviderReference string
	SessionID         string
	FailureReason     string
	ProcessedAt       *time.Time
}

// ProviderOutcome is the normalised result of a webhook event or a status
// query for one transaction reference.
type ProviderOutcome struct {
	Code              string
	ProviderReference string
	SessionID         string
	FailureReason     string
}

type ReconcileResult struct {
	Applied   bool
	Duplicate bool
	Status    TransactionStatus
}

type Repository interface {
	CreateWallet(wallet *Wallet) error
	GetWalletByUserID(userID string) (*Wallet, error)
	GetWalletByAccountNumber(accountNumber string) (*Wallet, error)
	AttachVirtualAccount(userID, accountNumber, bankName string) error
	SetFrozen(userID string, frozen bool, reason string) error
	SyncBalance(userID string, providerBalance int64) (int64, error)

	CreditWallet(userID string, amount int64, description string, meta CreditMeta) (*MutationResult, error)
	DebitWallet(userID string, amount int64, description string, meta DebitMeta) (*MutationResult, error)

	CreateTransaction(txn *Transaction) error
	GetTransactionByReference(ref string) (*Transaction, error)
	UpdateTransactionStatus(reference string, status TransactionStatus, patch StatusPatch) error
	ReconcileFromProvider(reference string, outcome ProviderOutcome) (*ReconcileResult, error)

	GetTransactions(userID string, visibleOnly bool, limit, offset int) ([]Transaction, error)
	CountTransactions(userID string) (int64, error)
	SumCompletedDebits(userID string, category TransactionCategory, since time.Time) (int64, error)
	FailStuckPending(olderThan time.Time, reason string) ([]Transaction, error)
	ListWalletsWithMinBalance(min int64) ([]Wallet, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// serializable is the isolation level for every wallet mutation. Balance is
// never touched outside one of these transactions.
var serializable = &sql.TxOptions{Isolation: sql.LevelSerializable}

func (r *repository) CreateWallet(wallet *Wallet) error {
	return r.db.Create(wallet).Error
}

func (r *repository) GetWalletByUserID(userID string) (*Wallet, error) {
	var wallet Wallet
	if err := r.db.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) GetWalletByAccountNumber(accountNumber string) (*Wallet, error) {
	var wallet Wallet
	if err := r.db.Where("virtual_account_number = ?", accountNumber).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) AttachVirtualAccount(userID, accountNumber, bankName string) error {
	return r.db.Model(&Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"virtual_account_number": accountNumber,
			"virtual_account_bank":   bankName,
		}).Error
}

func (r *repository) SetFrozen(userID string, frozen bool, reason string) error {
	result := r.db.Model(&Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"is_frozen":     frozen,
			"freeze_reason": reason,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// SyncBalance lowers the local balance to match the provider's view when the
// provider reports less. The provider stays source-of-truth for funded
// balance; a higher provider figure is never copied in, credits do that.
func (r *repository) SyncBalance(userID string, providerBalance int64) (int64, error) {
	var current int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var wallet Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).First(&wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}

		current = wallet.Balance
		if providerBalance < wallet.Balance {
			if err := tx.Model(&Wallet{}).Where("id = ?", wallet.ID).
				UpdateColumn("balance", providerBalance).Error; err != nil {
				return err
			}
			current = providerBalance
		}
		return nil
	}, serializable)
	return current, err
}

func (r *repository) CreditWallet(userID string, amount int64, description string, meta CreditMeta) (*MutationResult, error) {
	var result MutationResult
	err := r.db.Transaction(func(tx *gorm.DB) error {
		// dedup on provider reference: replaying a credit event is a no-op
		if meta.ProviderReference != "" {
			var existing Transaction
			err := tx.Where("provider_reference = ? AND type = ?", meta.ProviderReference, TransactionCredit).
				First(&existing).Error
			if err == nil {
				result.Transaction = existing
				result.Duplicate = true
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		var wallet Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).First(&wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}

		if wallet.IsFrozen && !meta.AdminCredit {
			return ErrWalletFrozen
		}

		if err := tx.Model(&Wallet{}).Where("id = ?", wallet.ID).
			UpdateColumns(map[string]interface{}{
				"balance":        gorm.Expr("balance + ?", amount),
				"ledger_balance": gorm.Expr("ledger_balance + ?", amount),
			}).Error; err != nil {
			return err
		}

		reference := meta.Reference
		if reference == "" {
			reference = id.NewReference()
		}

		now := time.Now()
		record := Transaction{
			UserID:      wallet.UserID,
			WalletID:    wallet.ID,
			Reference:   reference,
			Type:        TransactionCredit,
			Category:    meta.Category,
			Amount:      amount,
			TotalAmount: amount,
			Status:      StatusCompleted,
			Description: description,
			Metadata:    meta.Metadata,
			ProcessedAt: &now,
		}
		if meta.ProviderReference != "" {
			record.ProviderReference = &meta.ProviderReference
		}
		if meta.ParentReference != "" {
			record.ParentReference = &meta.ParentReference
		}
		if meta.AdminCredit {
			if record.Metadata == nil {
				record.Metadata = Metadata{}
			}
			record.Metadata[MetaAdminCredit] = true
		}

		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		result.Transaction = record
		result.PreviousBalance = wallet.Balance
		result.NewBalance = wallet.Balance + amount
		return nil
	}, serializable)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *repository) DebitWallet(userID string, amount int64, description string, meta DebitMeta) (*MutationResult, error) {
	var result MutationResult
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var wallet Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).First(&wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}

		if wallet.IsFrozen {
			return ErrWalletFrozen
		}

		res := tx.Model(&Wallet{}).
			Where("id = ? AND balance >= ?", wallet.ID, amount).
			UpdateColumns(map[string]interface{}{
				"balance":        gorm.Expr("balance - ?", amount),
				"ledger_balance": gorm.Expr("ledger_balance - ?", amount),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &InsufficientFundsError{Required: amount, Available: wallet.Balance}
		}

		now := time.Now()

		if meta.TransactionID != "" {
			// settle the pre-created pending transaction in the same unit
			var pending Transaction
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", meta.TransactionID).First(&pending).Error; err != nil {
				return err
			}
			if !CanTransition(pending.Status, StatusCompleted) {
				return ErrIllegalTransition
			}

			updates := map[string]interface{}{
				"status":       StatusCompleted,
				"processed_at": now,
			}
			if meta.ProviderReference != "" {
				updates["provider_reference"] = meta.ProviderReference
			}
			if meta.SessionID != "" {
				updates["session_id"] = meta.SessionID
			}
			if err := tx.Model(&Transaction{}).Where("id = ?", pending.ID).Updates(updates).Error; err != nil {
				return err
			}
			if err := tx.Where("id = ?", pending.ID).First(&result.Transaction).Error; err != nil {
				return err
			}
		} else {
			record := Transaction{
				UserID:      wallet.UserID,
				WalletID:    wallet.ID,
				Reference:   meta.Reference,
				Type:        TransactionDebit,
				Category:    meta.Category,
				Amount:      amount - meta.Fee,
				Fee:         meta.Fee,
				TotalAmount: amount,
				Status:      StatusCompleted,
				Recipient:   meta.Recipient,
				Description: description,
				Metadata:    meta.Metadata,
				ProcessedAt: &now,
			}
			if record.Reference == "" {
				record.Reference = id.NewReference()
			}
			if meta.ProviderReference != "" {
				record.ProviderReference = &meta.ProviderReference
			}
			if meta.ParentReference != "" {
				record.ParentReference = &meta.ParentReference
			}
			if meta.SessionID != "" {
				record.SessionID = &meta.SessionID
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			result.Transaction = record
		}

		result.PreviousBalance = wallet.Balance
		result.NewBalance = wallet.Balance - amount
		return nil
	}, serializable)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *repository) CreateTransaction(txn *Transaction) error {
	if txn.Reference == "" {
		txn.Reference = id.NewReference()
	}
	if txn.Status == "" {
		txn.Status = StatusPending
	}
	return r.db.Create(txn).Error
}

func (r *repository) GetTransactionByReference(ref string) (*Transaction, error) {
	var txn Transaction
	if err := r.db.Where("reference = ?", ref).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) UpdateTransactionStatus(reference string, status TransactionStatus, patch StatusPatch) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var txn Transaction
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("reference = ?", reference).First(&txn).Error; err != nil {
			return err
		}

		if !CanTransition(txn.Status, status) {
			return ErrIllegalTransition
		}

		updates := map[string]interface{}{"status": status}
		if patch.ProviderReference != "" {
			updates["provider_reference"] = patch.ProviderReference
		}
		if patch.SessionID != "" {
			updates["session_id"] = patch.SessionID
		}
		if patch.FailureReason != "" {
			updates["failure_reason"] = patch.FailureReason
		}
		if patch.ProcessedAt != nil {
			updates["processed_at"] = *patch.ProcessedAt
		}

		return tx.Model(&Transaction{}).Where("id = ?", txn.ID).Updates(updates).Error
	})
}

// StatusForProviderCode maps a provider response code onto the transaction
// state it implies. Unknown codes map to "" and are ignored by callers.
func StatusForProviderCode(code string) TransactionStatus {
	switch code {
	case "00":
		return StatusCompleted
	case "14", "33":
		return StatusFailed
	case "34":
		return StatusPendingSettlement
	case "-1":
		return StatusProcessing
	default:
		return ""
	}
}

// ReconcileFromProvider applies a provider outcome to a transaction under the
// monotone edge rules. Replaying the same outcome is a no-op; a completed
// debit settles the wallet in the same unit when it was not settled already.
func (r *repository) ReconcileFromProvider(reference string, outcome ProviderOutcome) (*ReconcileResult, error) {
	target := StatusForProviderCode(outcome.Code)
	if target == "" {
		return &ReconcileResult{Applied: false}, nil
	}

	var result ReconcileResult
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var txn Transaction
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("reference = ?", reference).First(&txn).Error; err != nil {
			return err
		}

		if txn.Status == target {
			result = ReconcileResult{Applied: false, Duplicate: true, Status: txn.Status}
			return nil
		}

		if !CanTransition(txn.Status, target) {
			// a later-arriving outcome only wins when the edge permits it
			result = ReconcileResult{Applied: false, Status: txn.Status}
			return nil
		}

		if target == StatusCompleted && txn.Type == TransactionDebit {
			res := tx.Model(&Wallet{}).
				Where("id = ? AND balance >= ?", txn.WalletID, txn.TotalAmount).
				UpdateColumns(map[string]interface{}{
					"balance":        gorm.Expr("balance - ?", txn.TotalAmount),
					"ledger_balance": gorm.Expr("ledger_balance - ?", txn.TotalAmount),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				var wallet Wallet
				tx.Where("id = ?", txn.WalletID).First(&wallet)
				return &InsufficientFundsError{Required: txn.TotalAmount, Available: wallet.Balance}
			}
		}

		now := time.Now()
		updates := map[string]interface{}{"status": target}
		if outcome.ProviderReference != "" {
			updates["provider_reference"] = outcome.ProviderReference
		}
		if outcome.SessionID != "" {
			updates["session_id"] = outcome.SessionID
		}
		if outcome.FailureReason != "" && target == StatusFailed {
			updates["failure_reason"] = outcome.FailureReason
		}
		if IsTerminal(target) {
			updates["processed_at"] = now
		}

		if err := tx.Model(&Transaction{}).Where("id = ?", txn.ID).Updates(updates).Error; err != nil {
			return err
		}

		result = ReconcileResult{Applied: true, Status: target}
		return nil
	}, serializable)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *repository) GetTransactions(userID string, visibleOnly bool, limit, offset int) ([]Transaction, error) {
	query := r.db.Where("user_id = ?", userID)
	if visibleOnly {
		query = query.Where("metadata IS NULL OR (metadata->>'isVisibleToUser') IS DISTINCT FROM 'false'")
	}

	var txns []Transaction
	err := query.Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error
	return txns, err
}

func (r *repository) CountTransactions(userID string) (int64, error) {
	var count int64
	err := r.db.Model(&Transaction{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

func (r *repository) SumCompletedDebits(userID string, category TransactionCategory, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := r.db.Model(&Transaction{}).
		Select("SUM(amount)").
		Where("user_id = ? AND category = ? AND type = ? AND status = ? AND created_at >= ?",
			userID, category, TransactionDebit, StatusCompleted, since).
		Scan(&total).Error
	return total.Int64, err
}

// FailStuckPending moves every pending transaction older than the cutoff to
// failed and returns the affected rows so callers can invalidate caches.
func (r *repository) FailStuckPending(olderThan time.Time, reason string) ([]Transaction, error) {
	var stuck []Transaction
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ? AND created_at < ?", StatusPending, olderThan).
			Find(&stuck).Error; err != nil {
			return err
		}
		if len(stuck) == 0 {
			return nil
		}

		ids := make([]interface{}, 0, len(stuck))
		for _, txn := range stuck {
			ids = append(ids, txn.ID)
		}

		now := time.Now()
		return tx.Model(&Transaction{}).Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":         StatusFailed,
				"failure_reason": reason,
				"processed_at":   now,
			}).Error
	})
	return stuck, err
}

func (r *repository) ListWalletsWithMinBalance(min int64) ([]Wallet, error) {
	var wallets []Wallet
	err := r.db.Where("balance >= ? AND is_frozen = ?", min, false).Find(&wallets).Error
	return wallets, err
}
