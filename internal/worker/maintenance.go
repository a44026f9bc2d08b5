package worker

import (
	"context"
	"time"

	"github.com/kudichat/kudichat/internal/fees"
	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/pkg/logger"
)

// MaintenanceRunner charges the monthly account maintenance fee on the first
// day of each month. Wallets below the minimum balance are skipped entirely
// rather than pushed negative.
type MaintenanceRunner struct {
	Ledger ledger.Repository
	Fees   fees.Policy

	location *time.Location
}

func NewMaintenanceRunner(ledgerRepo ledger.Repository, policy fees.Policy) *MaintenanceRunner {
	loc, err := time.LoadLocation("Africa/Lagos")
	if err != nil {
		loc = time.UTC
	}
	return &MaintenanceRunner{Ledger: ledgerRepo, Fees: policy, location: loc}
}

func (m *MaintenanceRunner) Run(ctx context.Context) {
	logger.Info("Maintenance fee runner started", nil)

	for {
		next := m.nextRun(time.Now().In(m.location))
		select {
		case <-ctx.Done():
			logger.Info("Maintenance fee runner stopping", nil)
			return
		case <-time.After(time.Until(next)):
			m.ChargeAll(ctx)
		}
	}
}

// nextRun is 03:00 on the first day of the month: the current month when that
// slot has not passed yet, so a restart early on day 1 still runs that month.
func (m *MaintenanceRunner) nextRun(now time.Time) time.Time {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 3, 0, 0, 0, m.location)
	if now.Before(firstOfMonth) {
		return firstOfMonth
	}
	return firstOfMonth.AddDate(0, 1, 0)
}

func (m *MaintenanceRunner) ChargeAll(ctx context.Context) {
	wallets, err := m.Ledger.ListWalletsWithMinBalance(fees.MaintenanceMinBalance)
	if err != nil {
		logger.Error("Maintenance fee wallet listing failed", logger.Fields{logger.ErrorKey: err.Error()})
		return
	}

	charged := 0
	for _, wallet := range wallets {
		fee := m.Fees.Maintenance(wallet.Balance)
		if fee == 0 {
			continue
		}

		_, err := m.Ledger.DebitWallet(wallet.UserID.String(), fee, "Monthly account maintenance", ledger.DebitMeta{
			Category: ledger.CategoryMaintenanceFee,
		})
		if err != nil {
			logger.Warn("Maintenance fee debit failed", logger.Fields{
				logger.UserIdKey: wallet.UserID.String(),
				logger.ErrorKey:  err.Error(),
			})
			continue
		}
		charged++
	}

	logger.Info("Maintenance fee run complete", logger.Fields{
		"eligible": len(wallets),
		"charged":  charged,
	})
}
