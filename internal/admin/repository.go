package admin

import (
	"time"

	"gorm.io/gorm"

	"github.com/kudichat/kudichat/internal/ledger"
)

// DashboardStats is the aggregate view the ops dashboard renders.
type DashboardStats struct {
	TotalUsers       int64 `json:"total_users"`
	ActiveUsers      int64 `json:"active_users"`
	BannedUsers      int64 `json:"banned_users"`
	TotalWalletKobo  int64 `json:"total_wallet_balance"`
	FrozenWallets    int64 `json:"frozen_wallets"`
	PendingTransfers int64 `json:"pending_transfers"`

	TransactionsToday int64 `json:"transactions_today"`
	VolumeTodayKobo   int64 `json:"volume_today"`
	FeesTodayKobo     int64 `json:"fees_today"`
}

type Repository interface {
	Stats() (*DashboardStats, error)
	RevenueSince(since time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Stats() (*DashboardStats, error) {
	stats := &DashboardStats{}
	startOfDay := time.Now().Truncate(24 * time.Hour)

	if err := r.db.Table("users").Count(&stats.TotalUsers).Error; err != nil {
		return nil, err
	}
	r.db.Table("users").Where("is_active = ? AND is_banned = ?", true, false).Count(&stats.ActiveUsers)
	r.db.Table("users").Where("is_banned = ?", true).Count(&stats.BannedUsers)

	r.db.Table("wallets").Select("COALESCE(SUM(balance), 0)").Scan(&stats.TotalWalletKobo)
	r.db.Table("wallets").Where("is_frozen = ?", true).Count(&stats.FrozenWallets)

	r.db.Model(&ledger.Transaction{}).
		Where("status IN ?", []ledger.TransactionStatus{ledger.StatusPending, ledger.StatusProcessing}).
		Count(&stats.PendingTransfers)

	r.db.Model(&ledger.Transaction{}).
		Where("created_at >= ?", startOfDay).
		Count(&stats.TransactionsToday)
	r.db.Model(&ledger.Transaction{}).
		Select("COALESCE(SUM(total_amount), 0)").
		Where("created_at >= ? AND status = ?", startOfDay, ledger.StatusCompleted).
		Scan(&stats.VolumeTodayKobo)
	r.db.Model(&ledger.Transaction{}).
		Select("COALESCE(SUM(fee), 0)").
		Where("created_at >= ? AND status = ?", startOfDay, ledger.StatusCompleted).
		Scan(&stats.FeesTodayKobo)

	return stats, nil
}

// RevenueSince sums fees plus the revenue lines booked in metadata (airtime
// and data margins) for completed transactions.
func (r *repository) RevenueSince(since time.Time) (int64, error) {
	var fromFees int64
	err := r.db.Model(&ledger.Transaction{}).
		Select("COALESCE(SUM(fee), 0)").
		Where("created_at >= ? AND status = ?", since, ledger.StatusCompleted).
		Scan(&fromFees).Error
	if err != nil {
		return 0, err
	}

	var fromMargins int64
	err = r.db.Model(&ledger.Transaction{}).
		Select("COALESCE(SUM((metadata->>'"+ledger.MetaRevenueLine+"')::bigint), 0)").
		Where("created_at >= ? AND status = ? AND jsonb_exists(metadata, '"+ledger.MetaRevenueLine+"')",
			since, ledger.StatusCompleted).
		Scan(&fromMargins).Error
	if err != nil {
		return 0, err
	}

	return fromFees + fromMargins, nil
}
