package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Wallet struct {
	ID                   uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	UserID               uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Balance              int64     `gorm:"not null;default:0" json:"balance"`
	LedgerBalance        int64     `gorm:"not null;default:0" json:"ledger_balance"`
	Currency             string    `gorm:"not null;default:NGN" json:"currency"`
	VirtualAccountNumber *string   `gorm:"uniqueIndex" json:"virtual_account_number,omitempty"`
	VirtualAccountBank   string    `json:"virtual_account_bank,omitempty"`
	IsFrozen             bool      `gorm:"default:false" json:"is_frozen"`
	FreezeReason         string    `json:"freeze_reason,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

type TransactionStatus string

const (
	StatusPending           TransactionStatus = "pending"
	StatusProcessing        TransactionStatus = "processing"
	StatusCompleted         TransactionStatus = "completed"
	StatusFailed            TransactionStatus = "failed"
	StatusPendingSettlement TransactionStatus = "pending_settlement"
	StatusCancelled         TransactionStatus = "cancelled"
)

type TransactionCategory string

const (
	CategoryBankTransfer     TransactionCategory = "bank_transfer"
	CategoryAirtimePurchase  TransactionCategory = "airtime_purchase"
	CategoryDataPurchase     TransactionCategory = "data_purchase"
	CategoryUtilityBill      TransactionCategory = "utility_bill"
	CategoryMaintenanceFee   TransactionCategory = "maintenance_fee"
	CategoryFeeCharge        TransactionCategory = "fee_charge"
	CategoryAdminAdjustment  TransactionCategory = "admin_adjustment"
	CategoryIncomingTransfer TransactionCategory = "incoming_transfer"
)

// Metadata keys with contractual meaning.
const (
	MetaIsInternal      = "isInternal"
	MetaIsVisibleToUser = "isVisibleToUser"
	MetaIsPlatformFee   = "isPlatformFee"
	MetaParentReference = "parentTransactionReference"
	MetaFeeBreakdown    = "feeBreakdown"
	MetaRevenueLine     = "revenueLine"
	MetaAdminCredit     = "adminCredit"
)

type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("metadata: unsupported scan type")
		}
	}
	return json.Unmarshal(bytes, m)
}

func (m Metadata) Bool(key string) bool {
	v, ok := m[key].(bool)
	return ok && v
}

func (m Metadata) String(key string) string {
	v, _ := m[key].(string)
	return v
}

type RecipientDetails struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
	Narration     string `json:"narration,omitempty"`
}

func (r RecipientDetails) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *RecipientDetails) Scan(value interface{}) error {
	if value == nil {
		*r = RecipientDetails{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("recipient details: unsupported scan type")
		}
	}
	return json.Unmarshal(bytes, r)
}

type Transaction struct {
	ID                uuid.UUID           `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	UserID            uuid.UUID           `gorm:"type:uuid;index;not null" json:"user_id"`
	WalletID          uuid.UUID           `gorm:"type:uuid;index;not null" json:"wallet_id"`
	Reference         string              `gorm:"uniqueIndex;not null" json:"reference"`
	Type              TransactionType     `gorm:"not null" json:"type"`
	Category          TransactionCategory `gorm:"not null;index" json:"category"`
	Amount            int64               `gorm:"not null" json:"amount"`
	Fee               int64               `gorm:"not null;default:0" json:"fee"`
	TotalAmount       int64               `gorm:"not null" json:"total_amount"`
	Status            TransactionStatus   `gorm:"not null;index" json:"status"`
	Recipient         RecipientDetails    `gorm:"type:jsonb" json:"recipient"`
	Metadata          Metadata            `gorm:"type:jsonb" json:"metadata,omitempty"`
	ParentReference   *string             `gorm:"index" json:"parent_reference,omitempty"`
	ProviderReference *string             `gorm:"index" json:"provider_reference,omitempty"`
	SessionID         *string             `json:"session_id,omitempty"`
	FailureReason     *string             `json:"failure_reason,omitempty"`
	Description       string              `json:"description"`
	CreatedAt         time.Time           `json:"created_at"`
	ProcessedAt       *time.Time          `json:"processed_at,omitempty"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// IsVisibleToUser reports whether the transaction shows up in the user's
// history. Hidden rows (platform-fee siblings, internal bookings) carry an
// explicit false flag.
func (t *Transaction) IsVisibleToUser() bool {
	if t.Metadata == nil {
		return true
	}
	if v, ok := t.Metadata[MetaIsVisibleToUser].(bool); ok {
		return v
	}
	return true
}

var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:           {StatusProcessing, StatusCompleted, StatusFailed, StatusPendingSettlement, StatusCancelled},
	StatusProcessing:        {StatusCompleted, StatusFailed, StatusPendingSettlement},
	StatusPendingSettlement: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether a status edge is legal. Terminal states
// (completed, failed, cancelled) have no outgoing edges.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a transaction in this status can never move again.
func IsTerminal(s TransactionStatus) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}
