package beneficiary

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ListFilter struct {
	Category      Category
	FavoritesOnly bool
}

type Stats struct {
	Total     int64 `json:"total"`
	Favorites int64 `json:"favorites"`
}

type Repository interface {
	AutoSave(userID uuid.UUID, nickname *string, name, accountNumber, bankCode, bankName string) (*Beneficiary, error)
	FindByNickname(userID, nickname string) (*Beneficiary, error)
	FindByAccount(userID, accountNumber, bankCode string) (*Beneficiary, error)
	List(userID string, filter ListFilter) ([]Beneficiary, error)
	ToggleFavorite(userID, beneficiaryID string) (*Beneficiary, error)
	SoftDelete(userID, beneficiaryID string) error
	SearchByText(userID, query string) ([]Beneficiary, error)
	RecordTransfer(userID, accountNumber, bankCode string, amount int64) error
	Stats(userID string) (*Stats, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// AutoSave is idempotent on (user, account, bank). A second save fills the
// nickname only when it was previously null, and never downgrades one.
func (r *repository) AutoSave(userID uuid.UUID, nickname *string, name, accountNumber, bankCode, bankName string) (*Beneficiary, error) {
	var saved Beneficiary
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing Beneficiary
		err := tx.Where("user_id = ? AND account_number = ? AND bank_code = ? AND is_active = ?",
			userID, accountNumber, bankCode, true).First(&existing).Error
		if err == nil {
			if existing.Nickname == nil && nickname != nil {
				updates := map[string]interface{}{
					"nickname": *nickname,
					"category": InferCategory(*nickname),
				}
				if err := tx.Model(&Beneficiary{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
					return err
				}
				existing.Nickname = nickname
				existing.Category = InferCategory(*nickname)
			}
			saved = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		category := CategoryOther
		if nickname != nil {
			category = InferCategory(*nickname)
		}

		saved = Beneficiary{
			UserID:        userID,
			Nickname:      nickname,
			Name:          name,
			AccountNumber: accountNumber,
			BankCode:      bankCode,
			BankName:      bankName,
			Category:      category,
			IsActive:      true,
		}
		return tx.Create(&saved).Error
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (r *repository) FindByNickname(userID, nickname string) (*Beneficiary, error) {
	candidates, err := r.List(userID, ListFilter{})
	if err != nil {
		return nil, err
	}
	return Resolve(candidates, nickname), nil
}

func (r *repository) FindByAccount(userID, accountNumber, bankCode string) (*Beneficiary, error) {
	var b Beneficiary
	err := r.db.Where("user_id = ? AND account_number = ? AND bank_code = ? AND is_active = ?",
		userID, accountNumber, bankCode, true).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *repository) List(userID string, filter ListFilter) ([]Beneficiary, error) {
	query := r.db.Where("user_id = ? AND is_active = ?", userID, true)
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.FavoritesOnly {
		query = query.Where("is_favorite = ?", true)
	}

	var list []Beneficiary
	err := query.Order("is_favorite desc, total_transactions desc, last_used_at desc NULLS LAST").Find(&list).Error
	return list, err
}

func (r *repository) ToggleFavorite(userID, beneficiaryID string) (*Beneficiary, error) {
	var b Beneficiary
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ? AND is_active = ?", beneficiaryID, userID, true).
			First(&b).Error; err != nil {
			return err
		}
		b.IsFavorite = !b.IsFavorite
		return tx.Model(&Beneficiary{}).Where("id = ?", b.ID).Update("is_favorite", b.IsFavorite).Error
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repository) SoftDelete(userID, beneficiaryID string) error {
	result := r.db.Model(&Beneficiary{}).
		Where("id = ? AND user_id = ? AND is_active = ?", beneficiaryID, userID, true).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) SearchByText(userID, query string) ([]Beneficiary, error) {
	pattern := "%" + query + "%"
	var list []Beneficiary
	err := r.db.Where("user_id = ? AND is_active = ? AND (nickname ILIKE ? OR name ILIKE ? OR ? = ANY(tags))",
		userID, true, pattern, pattern, query).
		Order("is_favorite desc, total_transactions desc").
		Find(&list).Error
	return list, err
}

// RecordTransfer bumps the usage stats after a completed outbound transfer.
func (r *repository) RecordTransfer(userID, accountNumber, bankCode string, amount int64) error {
	now := time.Now()
	return r.db.Model(&Beneficiary{}).
		Where("user_id = ? AND account_number = ? AND bank_code = ? AND is_active = ?",
			userID, accountNumber, bankCode, true).
		UpdateColumns(map[string]interface{}{
			"total_transactions": gorm.Expr("total_transactions + 1"),
			"total_amount":       gorm.Expr("total_amount + ?", amount),
			"average_amount":     gorm.Expr("(total_amount + ?) / (total_transactions + 1)", amount),
			"last_used_at":       now,
		}).Error
}

func (r *repository) Stats(userID string) (*Stats, error) {
	var stats Stats
	if err := r.db.Model(&Beneficiary{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&Beneficiary{}).
		Where("user_id = ? AND is_active = ? AND is_favorite = ?", userID, true, true).
		Count(&stats.Favorites).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}
