package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    TransactionStatus
		to      TransactionStatus
		allowed bool
	}{
		{"pending to processing", StatusPending, StatusProcessing, true},
		{"pending to completed", StatusPending, StatusCompleted, true},
		{"pending to failed", StatusPending, StatusFailed, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"processing to completed", StatusProcessing, StatusCompleted, true},
		{"processing to pending_settlement", StatusProcessing, StatusPendingSettlement, true},
		{"pending_settlement to completed", StatusPendingSettlement, StatusCompleted, true},
		{"completed is terminal", StatusCompleted, StatusFailed, false},
		{"failed is terminal", StatusFailed, StatusCompleted, false},
		{"cancelled is terminal", StatusCancelled, StatusPending, false},
		{"no backward edge to pending", StatusProcessing, StatusPending, false},
		{"completed never reverts to processing", StatusCompleted, StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusForProviderCode(t *testing.T) {
	assert.Equal(t, StatusCompleted, StatusForProviderCode("00"))
	assert.Equal(t, StatusFailed, StatusForProviderCode("14"))
	assert.Equal(t, StatusFailed, StatusForProviderCode("33"))
	assert.Equal(t, StatusPendingSettlement, StatusForProviderCode("34"))
	assert.Equal(t, StatusProcessing, StatusForProviderCode("-1"))
	assert.Equal(t, TransactionStatus(""), StatusForProviderCode("99"))
	assert.Equal(t, TransactionStatus(""), StatusForProviderCode(""))
}

func TestInsufficientFundsShortfall(t *testing.T) {
	err := &InsufficientFundsError{Required: 101_500, Available: 90_000}
	assert.Equal(t, int64(11_500), err.Shortfall())
	assert.True(t, IsInsufficientFunds(err))
}

func TestTransactionVisibility(t *testing.T) {
	visible := Transaction{}
	assert.True(t, visible.IsVisibleToUser())

	hidden := Transaction{Metadata: Metadata{MetaIsVisibleToUser: false, MetaIsPlatformFee: true}}
	assert.False(t, hidden.IsVisibleToUser())
	assert.True(t, hidden.Metadata.Bool(MetaIsPlatformFee))

	flagged := Transaction{Metadata: Metadata{MetaIsVisibleToUser: true}}
	assert.True(t, flagged.IsVisibleToUser())
}
