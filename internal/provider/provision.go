package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/pkg/cache"
	"github.com/kudichat/kudichat/pkg/logger"
)

type provisionStore interface {
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dst interface{}) error
	Delete(ctx context.Context, keys ...string) error
}

type provisionNotifier interface {
	SendText(ctx context.Context, phone, text string) error
}

// Provisioner runs the two-step virtual account setup. Initiation happens
// right after onboarding; the bank texts an OTP to the user's phone and the
// chat side completes with it.
type Provisioner struct {
	Client   *Client
	Ledger   ledger.Repository
	Store    provisionStore
	Notifier provisionNotifier
}

func NewProvisioner(client *Client, ledgerRepo ledger.Repository, store provisionStore, notifier provisionNotifier) *Provisioner {
	return &Provisioner{Client: client, Ledger: ledgerRepo, Store: store, Notifier: notifier}
}

type pendingProvision struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
}

// Begin initiates provisioning off the caller's request path. The account is
// usable as a wallet before the virtual account lands; only incoming bank
// transfers wait on it.
func (p *Provisioner) Begin(ctx context.Context, usr *user.User) {
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		requestID, err := p.Client.InitiateVirtualAccount(bg, VirtualAccountRequest{
			UserID:    usr.ID.String(),
			FirstName: usr.FirstName,
			LastName:  usr.LastName,
			Phone:     usr.PhoneNumber,
			BVN:       usr.BVN,
		})
		if err != nil {
			logger.Error("Virtual account initiation failed", logger.Fields{
				logger.UserIdKey: usr.ID.String(),
				logger.ErrorKey:  err.Error(),
			})
			return
		}

		pending := pendingProvision{RequestID: requestID, UserID: usr.ID.String()}
		if err := p.Store.SetJSON(bg, cache.OTPKey(usr.PhoneNumber), pending, cache.OTPTTL); err != nil {
			logger.Error("Failed to stash provisioning request id", logger.Fields{
				logger.UserIdKey: usr.ID.String(),
				logger.ErrorKey:  err.Error(),
			})
			return
		}

		if p.Notifier != nil {
			p.Notifier.SendText(bg, usr.PhoneNumber,
				"Your account is almost ready! Reply with the 6-digit code sent to your phone to activate your account number.")
		}
	}()
}

// HasPending reports whether an OTP is outstanding for this phone.
func (p *Provisioner) HasPending(ctx context.Context, phone string) bool {
	var pending pendingProvision
	return p.Store.GetJSON(ctx, cache.OTPKey(phone), &pending) == nil
}

// CompleteWithOTP validates the code and attaches the resulting account
// number to the user's wallet.
func (p *Provisioner) CompleteWithOTP(ctx context.Context, usr *user.User, otp string) error {
	var pending pendingProvision
	if err := p.Store.GetJSON(ctx, cache.OTPKey(usr.PhoneNumber), &pending); err != nil {
		return &ledger.ValidationError{Field: "otp", Message: "no pending account activation, or the code expired"}
	}

	result, err := p.Client.ValidateVirtualAccountOTP(ctx, pending.RequestID, otp)
	if err != nil {
		return err
	}

	if err := p.Ledger.AttachVirtualAccount(usr.ID.String(), result.AccountNumber, result.BankName); err != nil {
		return err
	}
	p.Store.Delete(ctx, cache.OTPKey(usr.PhoneNumber))

	logger.Info("Virtual account attached", logger.Fields{
		logger.UserIdKey: usr.ID.String(),
		"account_number": result.AccountNumber,
	})

	if p.Notifier != nil {
		p.Notifier.SendText(ctx, usr.PhoneNumber, fmt.Sprintf(
			"✅ Your account number is ready!\n\n%s\n%s\n\nShare it to receive money straight into your wallet.",
			result.AccountNumber, result.BankName))
	}
	return nil
}
