package user

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type OnboardingStep string

const (
	StepIncomplete      OnboardingStep = "incomplete"
	StepPersonalDetails OnboardingStep = "personal_details"
	StepBVN             OnboardingStep = "bvn"
	StepPinSetup        OnboardingStep = "pin_setup"
	StepCompleted       OnboardingStep = "completed"
)

type KYCStatus string

const (
	KYCIncomplete KYCStatus = "incomplete"
	KYCPending    KYCStatus = "pending"
	KYCVerified   KYCStatus = "verified"
	KYCRejected   KYCStatus = "rejected"
)

// Intents and awaiting-input discriminators for the conversation state.
const (
	IntentBankTransfer          = "bank_transfer"
	IntentDataPurchase          = "data_purchase"
	IntentAirtimePurchase       = "airtime_purchase"
	IntentSaveBeneficiaryPrompt = "save_beneficiary_prompt"

	AwaitingPINForTransfer     = "pin_for_transfer"
	AwaitingSaveBeneficiary    = "save_beneficiary_confirmation"
	AwaitingAmount             = "amount"
)

// ConversationState is the short-lived question the system has asked the
// user. It lives on the user row as JSONB and is cleared on completion,
// cancellation, or timeout.
type ConversationState struct {
	Intent        string                 `json:"intent"`
	AwaitingInput string                 `json:"awaiting_input"`
	Context       string                 `json:"context,omitempty"`
	Step          string                 `json:"step,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func (s ConversationState) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *ConversationState) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if str, ok := value.(string); ok {
			bytes = []byte(str)
		} else {
			return errors.New("conversation state: unsupported scan type")
		}
	}
	return json.Unmarshal(bytes, s)
}

type User struct {
	ID                uuid.UUID          `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	PhoneNumber       string             `gorm:"uniqueIndex;not null" json:"phone_number"` // local format, 080...
	FirstName         string             `json:"first_name"`
	LastName          string             `json:"last_name"`
	OnboardingStep    OnboardingStep     `gorm:"not null;default:incomplete" json:"onboarding_step"`
	KYCStatus         KYCStatus          `gorm:"not null;default:incomplete" json:"kyc_status"`
	BVN               string             `json:"-"`
	PinHash           string             `json:"-"`
	IsBanned          bool               `gorm:"default:false" json:"is_banned"`
	IsActive          bool               `gorm:"default:true" json:"is_active"`
	ConversationState *ConversationState `gorm:"type:jsonb" json:"conversation_state,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
