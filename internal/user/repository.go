package user

import (
	"errors"

	"gorm.io/gorm"

	"github.com/kudichat/kudichat/internal/ledger"
)

type Repository interface {
	CreateUser(user *User) error
	FindByID(id string) (*User, error)
	FindByPhone(phone string) (*User, error)
	UpdateOnboardingStep(userID string, step OnboardingStep) error
	UpdateKYCStatus(userID string, status KYCStatus) error
	SetPersonalDetails(userID, firstName, lastName string) error
	SetBVN(userID, bvn string) error
	SetPinHash(userID, pinHash string) error
	SetBanned(userID string, banned bool) error
	SetConversationState(userID string, state *ConversationState) error
	ClearConversationState(userID string) error
	ListActive() ([]User, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateUser(user *User) error {
	return r.db.Create(user).Error
}

func (r *repository) FindByID(id string) (*User, error) {
	var usr User
	if err := r.db.Where("id = ?", id).First(&usr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrUserNotFound
		}
		return nil, err
	}
	return &usr, nil
}

func (r *repository) FindByPhone(phone string) (*User, error) {
	var usr User
	if err := r.db.Where("phone_number = ?", phone).First(&usr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrUserNotFound
		}
		return nil, err
	}
	return &usr, nil
}

func (r *repository) UpdateOnboardingStep(userID string, step OnboardingStep) error {
	return r.db.Model(&User{}).Where("id = ?", userID).Update("onboarding_step", step).Error
}

func (r *repository) UpdateKYCStatus(userID string, status KYCStatus) error {
	return r.db.Model(&User{}).Where("id = ?", userID).Update("kyc_status", status).Error
}

func (r *repository) SetPersonalDetails(userID, firstName, lastName string) error {
	return r.db.Model(&User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"first_name": firstName,
			"last_name":  lastName,
		}).Error
}

func (r *repository) SetBVN(userID, bvn string) error {
	return r.db.Model(&User{}).Where("id = ?", userID).Update("bvn", bvn).Error
}

func (r *repository) SetPinHash(userID, pinHash string) error {
	return r.db.Model(&User{}).Where("id = ?", userID).Update("pin_hash", pinHash).Error
}

func (r *repository) SetBanned(userID string, banned bool) error {
	return r.db.Model(&User{}).Where("id = ?", userID).Update("is_banned", banned).Error
}

func (r *repository) SetConversationState(userID string, state *ConversationState) error {
	return r.db.Model(&User{}).Where("id = ?", userID).Update("conversation_state", state).Error
}

func (r *repository) ClearConversationState(userID string) error {
	return r.db.Model(&User{}).Where("id = ?", userID).Update("conversation_state", nil).Error
}

func (r *repository) ListActive() ([]User, error) {
	var users []User
	err := r.db.Where("is_active = ? AND is_banned = ?", true, false).Find(&users).Error
	return users, err
}
