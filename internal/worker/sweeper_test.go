package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/pkg/cache"
)

type mockSweepLedger struct {
	ledger.Repository
	stuck []ledger.Transaction
	err   error
}

func (m *mockSweepLedger) FailStuckPending(_ time.Time, _ string) ([]ledger.Transaction, error) {
	return m.stuck, m.err
}

type mockStateCache struct {
	deleted []string
}

func (m *mockStateCache) Delete(_ context.Context, keys ...string) error {
	m.deleted = append(m.deleted, keys...)
	return nil
}

func TestSweepFailsStuckAndClearsState(t *testing.T) {
	userID := uuid.New()
	usr := &user.User{ID: userID, PhoneNumber: "2348012345678"}

	ledgerRepo := &mockSweepLedger{stuck: []ledger.Transaction{
		{UserID: userID, Reference: "TXN-STUCK", Amount: 500_000},
	}}
	stateCache := &mockStateCache{}
	notifier := &mockWorkerNotifier{}

	sweeper := NewSweeper(ledgerRepo, &mockWorkerUsers{usr: usr}, stateCache, notifier)
	sweeper.Sweep(context.Background())

	require.Len(t, stateCache.deleted, 1)
	assert.Equal(t, cache.ChatStateKey(usr.PhoneNumber), stateCache.deleted[0])
	require.Len(t, notifier.texts, 1)
	assert.Contains(t, notifier.texts[0], "timed out")
	assert.Contains(t, notifier.texts[0], "₦5,000.00")
}

func TestSweepNothingStuck(t *testing.T) {
	stateCache := &mockStateCache{}
	notifier := &mockWorkerNotifier{}

	sweeper := NewSweeper(&mockSweepLedger{}, &mockWorkerUsers{}, stateCache, notifier)
	sweeper.Sweep(context.Background())

	assert.Empty(t, stateCache.deleted)
	assert.Empty(t, notifier.texts)
}

func TestSweepLedgerError(t *testing.T) {
	stateCache := &mockStateCache{}
	notifier := &mockWorkerNotifier{}

	sweeper := NewSweeper(&mockSweepLedger{err: errors.New("db down")}, &mockWorkerUsers{}, stateCache, notifier)
	sweeper.Sweep(context.Background())

	assert.Empty(t, stateCache.deleted)
	assert.Empty(t, notifier.texts)
}
