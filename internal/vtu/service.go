package vtu

import (
	"context"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"github.com/kudichat/kudichat/internal/catalog"
	"github.com/kudichat/kudichat/internal/fees"
	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/pkg/logger"
)

// Airtime bounds, kobo.
const (
	MinAirtimeAmount = 5_000     // ₦50
	MaxAirtimeAmount = 5_000_000 // ₦50,000
)

var phonePattern = regexp.MustCompile(`^0[789][01]\d{8}$`)

type ResellerClient interface {
	BuyAirtime(ctx context.Context, network, phone string, amount int64) (*PurchaseResult, error)
	BuyData(ctx context.Context, network, phone, planID string) (*PurchaseResult, error)
}

type AirtimeRequest struct {
	UserID  string
	Network string
	Phone   string
	Amount  int64
	PIN     string
}

type DataRequest struct {
	UserID  string
	Network string
	Phone   string
	PlanID  string
	PIN     string
}

type PurchaseReceipt struct {
	Reference  string
	Amount     int64
	NewBalance int64
	Plan       *catalog.Plan
}

// Service buys airtime and data bundles against the wallet. The wallet is
// debited first; a reseller failure refunds the debit so the user never pays
// for value that was not delivered.
type Service struct {
	Users  user.Repository
	Ledger ledger.Repository
	KV     catalog.KVRepository
	Client ResellerClient
	Fees   fees.Policy
}

func NewService(users user.Repository, ledgerRepo ledger.Repository, kv catalog.KVRepository,
	client ResellerClient, policy fees.Policy) *Service {
	return &Service{Users: users, Ledger: ledgerRepo, KV: kv, Client: client, Fees: policy}
}

func (s *Service) PurchaseAirtime(ctx context.Context, req AirtimeRequest) (*PurchaseReceipt, error) {
	usr, err := s.authorize(req.UserID, req.PIN)
	if err != nil {
		return nil, err
	}

	if !catalog.ValidNetwork(req.Network) {
		return nil, &ledger.ValidationError{Field: "network", Message: "unknown network " + req.Network}
	}
	if !phonePattern.MatchString(req.Phone) {
		return nil, &ledger.ValidationError{Field: "phone", Message: "invalid phone number"}
	}
	if req.Amount < MinAirtimeAmount || req.Amount > MaxAirtimeAmount {
		return nil, &ledger.ValidationError{Field: "amount", Message: "airtime amount must be between ₦50 and ₦50,000"}
	}

	debit, err := s.Ledger.DebitWallet(usr.ID.String(), req.Amount,
		fmt.Sprintf("Airtime %s %s", req.Network, req.Phone), ledger.DebitMeta{
			Category: ledger.CategoryAirtimePurchase,
			Metadata: ledger.Metadata{
				"network":              req.Network,
				"phone":                req.Phone,
				ledger.MetaRevenueLine: fees.AirtimeMargin,
			},
		})
	if err != nil {
		return nil, err
	}

	result, err := s.Client.BuyAirtime(ctx, req.Network, req.Phone, req.Amount)
	if err != nil || !result.Success {
		s.refund(usr.ID.String(), req.Amount, ledger.CategoryAirtimePurchase, debit.Transaction.Reference, "Airtime purchase refund")
		if err == nil {
			err = fmt.Errorf("%w: %s", ledger.ErrProviderRejected, result.Message)
		}
		return nil, err
	}

	return &PurchaseReceipt{
		Reference:  debit.Transaction.Reference,
		Amount:     req.Amount,
		NewBalance: debit.NewBalance,
	}, nil
}

func (s *Service) PurchaseData(ctx context.Context, req DataRequest) (*PurchaseReceipt, error) {
	usr, err := s.authorize(req.UserID, req.PIN)
	if err != nil {
		return nil, err
	}

	plan, ok := catalog.FindPlan(req.Network, req.PlanID)
	if !ok {
		return nil, &ledger.ValidationError{Field: "plan_id", Message: "unknown plan " + req.PlanID}
	}
	if !phonePattern.MatchString(req.Phone) {
		return nil, &ledger.ValidationError{Field: "phone", Message: "invalid phone number"}
	}

	overrides, err := s.KV.PricingOverrides()
	if err != nil {
		logger.Warn("Pricing overrides unavailable, selling at retail", logger.Fields{logger.ErrorKey: err.Error()})
		overrides = catalog.PricingOverrides{}
	}
	sellingPrice := overrides.EffectivePrice(*plan)
	margin := s.Fees.DataMargin(sellingPrice, plan.RetailPrice)

	debit, err := s.Ledger.DebitWallet(usr.ID.String(), sellingPrice,
		fmt.Sprintf("%s %s data for %s", plan.Network, plan.Title, req.Phone), ledger.DebitMeta{
			Category: ledger.CategoryDataPurchase,
			Metadata: ledger.Metadata{
				"network":              req.Network,
				"phone":                req.Phone,
				"planId":               plan.ID,
				"retailPrice":          plan.RetailPrice,
				ledger.MetaRevenueLine: margin,
			},
		})
	if err != nil {
		return nil, err
	}

	result, err := s.Client.BuyData(ctx, req.Network, req.Phone, req.PlanID)
	if err != nil || !result.Success {
		s.refund(usr.ID.String(), sellingPrice, ledger.CategoryDataPurchase, debit.Transaction.Reference, "Data purchase refund")
		if err == nil {
			err = fmt.Errorf("%w: %s", ledger.ErrProviderRejected, result.Message)
		}
		return nil, err
	}

	return &PurchaseReceipt{
		Reference:  debit.Transaction.Reference,
		Amount:     sellingPrice,
		NewBalance: debit.NewBalance,
		Plan:       plan,
	}, nil
}

func (s *Service) authorize(userID, pin string) (*user.User, error) {
	usr, err := s.Users.FindByID(userID)
	if err != nil {
		return nil, err
	}
	if usr.IsBanned {
		return nil, ledger.ErrUserBanned
	}
	if err := bcrypt.CompareHashAndPassword([]byte(usr.PinHash), []byte(pin)); err != nil {
		return nil, &ledger.AuthError{Reason: "incorrect PIN"}
	}
	return usr, nil
}

// refund reverses the debit after the reseller failed to deliver. The credit
// carries the original reference in metadata so support can pair the rows,
// and bypasses a freeze so the user is never left out of pocket.
func (s *Service) refund(userID string, amount int64, category ledger.TransactionCategory, originalRef, description string) {
	_, err := s.Ledger.CreditWallet(userID, amount, description, ledger.CreditMeta{
		Category:        category,
		AdminCredit:     true,
		ParentReference: originalRef,
		Metadata: ledger.Metadata{
			ledger.MetaIsInternal:      true,
			ledger.MetaParentReference: originalRef,
		},
	})
	if err != nil {
		logger.Error("CRITICAL: refund after failed purchase did not apply", logger.Fields{
			logger.UserIdKey:    userID,
			logger.ReferenceKey: originalRef,
			logger.ErrorKey:     err.Error(),
		})
	}
}
