package beneficiary

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Category string

const (
	CategoryFamily   Category = "family"
	CategoryFriend   Category = "friend"
	CategoryBusiness Category = "business"
	CategoryOther    Category = "other"
)

type Beneficiary struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primary_key" json:"id"`
	UserID        uuid.UUID      `gorm:"type:uuid;index:idx_beneficiary_owner,unique,where:is_active;not null" json:"user_id"`
	Nickname      *string        `json:"nickname,omitempty"`
	Name          string         `gorm:"not null" json:"name"` // resolved account name
	AccountNumber string         `gorm:"index:idx_beneficiary_owner,unique,where:is_active;not null" json:"account_number"`
	BankCode      string         `gorm:"index:idx_beneficiary_owner,unique,where:is_active;not null" json:"bank_code"`
	BankName      string         `json:"bank_name"`
	Category      Category       `gorm:"not null;default:other" json:"category"`
	Tags          pq.StringArray `gorm:"type:text[]" json:"tags,omitempty"`
	IsFavorite    bool           `gorm:"default:false" json:"is_favorite"`
	IsActive      bool           `gorm:"default:true" json:"is_active"`

	TotalTransactions int64      `gorm:"default:0" json:"total_transactions"`
	TotalAmount       int64      `gorm:"default:0" json:"total_amount"`
	AverageAmount     int64      `gorm:"default:0" json:"average_amount"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
