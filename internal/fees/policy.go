// Package fees is the pure fee policy: a total function from
// (service, amount, strategy) to an auditable breakdown. No I/O.
package fees

import "strings"

// All values in kobo.
const (
	FlatTransferFeeAmount = 1_500 // ₦15

	tierOneCeiling = 1_000_000 // ₦10,000
	tierTwoCeiling = 5_000_000 // ₦50,000
	tierOneFee     = 1_500
	tierTwoFee     = 2_500
	tierThreeFee   = 5_000

	IncomingFreeThreshold = 100_000 // ₦1,000; 0.5% above

	AirtimeMargin = 200 // ₦2 per completed purchase, booked as a revenue line

	MaintenanceFee        = 10_000 // ₦100 on day 1 of each month
	MaintenanceMinBalance = 10_000

	PlatformFeeAmount = 500 // ₦5 hidden sibling per outbound transfer

	utilityMinFee = 2_500  // ₦25
	utilityMaxFee = 50_000 // ₦500
)

// Breakdown is stored in Transaction metadata so every fee decision leaves an
// audit trail.
type Breakdown struct {
	Amount        int64 `json:"amount"`
	BaseFee       int64 `json:"base_fee"`
	PercentageFee int64 `json:"percentage_fee"`
	TotalFee      int64 `json:"total_fee"`
	TotalAmount   int64 `json:"total_amount"`
}

func breakdown(amount, baseFee, percentageFee int64) Breakdown {
	total := baseFee + percentageFee
	return Breakdown{
		Amount:        amount,
		BaseFee:       baseFee,
		PercentageFee: percentageFee,
		TotalFee:      total,
		TotalAmount:   amount + total,
	}
}

// TransferFeeStrategy prices an outbound bank transfer. The flat strategy is
// current policy; the tiered one is the retained historical policy, switchable
// at runtime.
type TransferFeeStrategy interface {
	Name() string
	Fee(amount int64) int64
}

type FlatTransferFee struct{}

func (FlatTransferFee) Name() string { return "flat" }

func (FlatTransferFee) Fee(amount int64) int64 { return FlatTransferFeeAmount }

type TieredTransferFee struct{}

func (TieredTransferFee) Name() string { return "tiered" }

func (TieredTransferFee) Fee(amount int64) int64 {
	switch {
	case amount <= tierOneCeiling:
		return tierOneFee
	case amount <= tierTwoCeiling:
		return tierTwoFee
	default:
		return tierThreeFee
	}
}

// StrategyByName resolves the configured strategy, defaulting to flat.
func StrategyByName(name string) TransferFeeStrategy {
	if strings.EqualFold(name, "tiered") {
		return TieredTransferFee{}
	}
	return FlatTransferFee{}
}

type UtilityService string

const (
	UtilityElectricity UtilityService = "electricity"
	UtilityCable       UtilityService = "cable"
	UtilityWater       UtilityService = "water"
	UtilityInternet    UtilityService = "internet"
)

type Policy struct {
	Transfer TransferFeeStrategy
}

func NewPolicy(strategyName string) Policy {
	return Policy{Transfer: StrategyByName(strategyName)}
}

func (p Policy) BankTransfer(amount int64) Breakdown {
	return breakdown(amount, p.Transfer.Fee(amount), 0)
}

// InternalTransfer moves money between wallets on the platform; free.
func (p Policy) InternalTransfer(amount int64) Breakdown {
	return breakdown(amount, 0, 0)
}

// IncomingTransfer is free up to ₦1,000; past the threshold the fee is 0.5%
// of the full amount, not just the excess.
func (p Policy) IncomingTransfer(amount int64) Breakdown {
	if amount <= IncomingFreeThreshold {
		return breakdown(amount, 0, 0)
	}
	return breakdown(amount, 0, amount*5/1000)
}

// Airtime carries no user-visible fee; the ₦2 margin is a revenue booking.
func (p Policy) Airtime(amount int64) Breakdown {
	return breakdown(amount, 0, 0)
}

// DataMargin is the platform's take on a data bundle: admin selling price
// minus the reseller's retail price, never negative.
func (p Policy) DataMargin(sellingPrice, retailPrice int64) int64 {
	if sellingPrice <= retailPrice {
		return 0
	}
	return sellingPrice - retailPrice
}

// UtilityBill charges a percentage of the amount clamped to per-service
// bounds: electricity 1.5%, everything else 2%, both min ₦25 max ₦500.
func (p Policy) UtilityBill(service UtilityService, amount int64) Breakdown {
	var pct int64
	if service == UtilityElectricity {
		pct = amount * 15 / 1000
	} else {
		pct = amount * 20 / 1000
	}

	if pct < utilityMinFee {
		pct = utilityMinFee
	}
	if pct > utilityMaxFee {
		pct = utilityMaxFee
	}
	return breakdown(amount, 0, pct)
}

// Maintenance returns the monthly fee, or 0 when the balance cannot cover it.
func (p Policy) Maintenance(balance int64) int64 {
	if balance < MaintenanceMinBalance {
		return 0
	}
	return MaintenanceFee
}
