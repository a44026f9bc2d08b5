package worker

import (
	"context"
	"time"

	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/pkg/cache"
	"github.com/kudichat/kudichat/pkg/logger"
	"github.com/kudichat/kudichat/pkg/money"
)

const (
	sweepInterval = 5 * time.Minute
	stuckAfter    = 30 * time.Minute
	timeoutReason = "Transaction timeout"
)

// StateCache drops cached chat state for the affected users, otherwise the
// next message would be routed against a conversation that still thinks the
// transfer is in flight.
type StateCache interface {
	Delete(ctx context.Context, keys ...string) error
}

// Sweeper fails transactions stuck in pending: a transfer we inserted but
// never heard back about, because the process died mid-flight or the provider
// swallowed the call without a webhook.
type Sweeper struct {
	Ledger   ledger.Repository
	Users    user.Repository
	Cache    StateCache
	Notifier Notifier
}

func NewSweeper(ledgerRepo ledger.Repository, users user.Repository, stateCache StateCache, notifier Notifier) *Sweeper {
	return &Sweeper{Ledger: ledgerRepo, Users: users, Cache: stateCache, Notifier: notifier}
}

func (s *Sweeper) Run(ctx context.Context) {
	logger.Info("Pending sweeper started", nil)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Pending sweeper stopping", nil)
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) {
	failed, err := s.Ledger.FailStuckPending(time.Now().Add(-stuckAfter), timeoutReason)
	if err != nil {
		logger.Error("Stuck pending sweep failed", logger.Fields{logger.ErrorKey: err.Error()})
		return
	}
	if len(failed) == 0 {
		return
	}

	logger.Warn("Timed out stuck pending transactions", logger.Fields{"count": len(failed)})

	for _, txn := range failed {
		usr, err := s.Users.FindByID(txn.UserID.String())
		if err != nil {
			continue
		}
		if err := s.Cache.Delete(ctx, cache.ChatStateKey(usr.PhoneNumber)); err != nil {
			logger.Error("Chat state invalidation failed after sweep", logger.Fields{
				logger.UserIdKey: usr.ID.String(),
				logger.ErrorKey:  err.Error(),
			})
		}
		s.Notifier.SendText(ctx, usr.PhoneNumber,
			"⌛ Your transfer of "+money.FormatNaira(txn.Amount)+
				" timed out before the bank confirmed it. Your wallet was not charged; please try again.")
	}
}
