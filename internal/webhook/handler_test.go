package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kudichat/kudichat/internal/fees"
	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/pkg/config"
)

const testSecret = "whsec_test"

type mockLedger struct {
	ledger.Repository

	reconciled      []ledger.ProviderOutcome
	reconcileResult *ledger.ReconcileResult
	reconcileErr    error

	wallet *ledger.Wallet

	credits       []int64
	creditMeta    []ledger.CreditMeta
	creditResult  *ledger.MutationResult
	debits        []int64
	transactions  map[string]*ledger.Transaction
}

func (m *mockLedger) ReconcileFromProvider(reference string, outcome ledger.ProviderOutcome) (*ledger.ReconcileResult, error) {
	m.reconciled = append(m.reconciled, outcome)
	if m.reconcileErr != nil {
		return nil, m.reconcileErr
	}
	return m.reconcileResult, nil
}

func (m *mockLedger) GetWalletByAccountNumber(accountNumber string) (*ledger.Wallet, error) {
	if m.wallet == nil || *m.wallet.VirtualAccountNumber != accountNumber {
		return nil, ledger.ErrWalletNotFound
	}
	return m.wallet, nil
}

func (m *mockLedger) CreditWallet(userID string, amount int64, description string, meta ledger.CreditMeta) (*ledger.MutationResult, error) {
	m.credits = append(m.credits, amount)
	m.creditMeta = append(m.creditMeta, meta)
	if m.creditResult != nil {
		return m.creditResult, nil
	}
	return &ledger.MutationResult{NewBalance: amount}, nil
}

func (m *mockLedger) DebitWallet(userID string, amount int64, description string, meta ledger.DebitMeta) (*ledger.MutationResult, error) {
	m.debits = append(m.debits, amount)
	return &ledger.MutationResult{}, nil
}

func (m *mockLedger) GetTransactionByReference(ref string) (*ledger.Transaction, error) {
	txn, ok := m.transactions[ref]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	return txn, nil
}

type mockUsers struct {
	user.Repository
	usr *user.User
}

func (m *mockUsers) FindByID(id string) (*user.User, error) {
	if m.usr == nil {
		return nil, ledger.ErrUserNotFound
	}
	return m.usr, nil
}

type mockNotifier struct {
	texts []string
}

func (m *mockNotifier) SendText(_ context.Context, phone, text string) error {
	m.texts = append(m.texts, text)
	return nil
}

type fixture struct {
	handler  *Handler
	ledger   *mockLedger
	notifier *mockNotifier
	userID   uuid.UUID
}

func newFixture(t *testing.T, incomingFee bool) *fixture {
	t.Helper()

	userID := uuid.New()
	account := "9012345678"
	ml := &mockLedger{
		wallet: &ledger.Wallet{
			UserID:               userID,
			VirtualAccountNumber: &account,
		},
		transactions: map[string]*ledger.Transaction{},
	}
	mu := &mockUsers{usr: &user.User{ID: userID, PhoneNumber: "08031234567"}}
	mn := &mockNotifier{}

	cfg := config.Config{ProviderWebhookSecret: testSecret, IncomingFeeEnabled: incomingFee}
	return &fixture{
		handler:  NewHandler(cfg, ml, mu, fees.NewPolicy("flat"), mn),
		ledger:   ml,
		notifier: mn,
		userID:   userID,
	}
}

func (f *fixture) post(t *testing.T, event Event, sign bool) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(event)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewReader(body))
	if sign {
		req.Header.Set(SignatureHeader, Sign(testSecret, body))
	}

	rec := httptest.NewRecorder()
	f.handler.Receive(rec, req)
	return rec
}

func transferEvent(t *testing.T, data transferStatusData) Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Event{Event: EventTransferStatus, Data: raw}
}

func creditEvent(t *testing.T, data accountCreditData) Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Event{Event: EventAccountCredit, Data: raw}
}

func TestRejectsBadSignature(t *testing.T) {
	f := newFixture(t, false)

	rec := f.post(t, transferEvent(t, transferStatusData{Reference: "TXN-1", ResponseCode: "00"}), false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.ledger.reconciled)
}

func TestTransferStatusSuccess(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.reconcileResult = &ledger.ReconcileResult{Applied: true, Status: ledger.StatusCompleted}
	f.ledger.transactions["TXN-1"] = &ledger.Transaction{
		UserID:    f.userID,
		Reference: "TXN-1",
		Amount:    100_000,
		Recipient: ledger.RecipientDetails{AccountName: "ADA OBI"},
	}

	rec := f.post(t, transferEvent(t, transferStatusData{
		Reference:         "TXN-1",
		ResponseCode:      "00",
		ProviderReference: "PRV-9",
		SessionID:         "sess-9",
	}), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.ledger.reconciled, 1)
	assert.Equal(t, "00", f.ledger.reconciled[0].Code)
	assert.Equal(t, "PRV-9", f.ledger.reconciled[0].ProviderReference)

	require.Len(t, f.notifier.texts, 1)
	assert.Contains(t, f.notifier.texts[0], "complete")
	assert.Contains(t, f.notifier.texts[0], "ADA OBI")
}

func TestDuplicateStatusIsSilent(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.reconcileResult = &ledger.ReconcileResult{Applied: false, Duplicate: true, Status: ledger.StatusCompleted}

	rec := f.post(t, transferEvent(t, transferStatusData{Reference: "TXN-1", ResponseCode: "00"}), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.notifier.texts)
}

func TestTransferStatusFailure(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.reconcileResult = &ledger.ReconcileResult{Applied: true, Status: ledger.StatusFailed}
	f.ledger.transactions["TXN-2"] = &ledger.Transaction{
		UserID:    f.userID,
		Reference: "TXN-2",
		Amount:    50_000,
		Recipient: ledger.RecipientDetails{AccountName: "ADA OBI"},
	}

	f.post(t, transferEvent(t, transferStatusData{Reference: "TXN-2", ResponseCode: "14", Message: "account blocked"}), true)

	require.Len(t, f.notifier.texts, 1)
	assert.Contains(t, f.notifier.texts[0], "failed")
	assert.Contains(t, f.notifier.texts[0], "not charged")
}

func TestIncomingCredit(t *testing.T) {
	f := newFixture(t, false)

	rec := f.post(t, creditEvent(t, accountCreditData{
		AccountNumber:     "9012345678",
		Amount:            250_000,
		ProviderReference: "NIP-777",
		SenderName:        "CHIKE EZE",
		SenderBank:        "GTBank",
	}), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.ledger.credits, 1)
	assert.Equal(t, int64(250_000), f.ledger.credits[0])
	assert.Equal(t, ledger.CategoryIncomingTransfer, f.ledger.creditMeta[0].Category)
	assert.Equal(t, "NIP-777", f.ledger.creditMeta[0].ProviderReference)
	assert.Empty(t, f.ledger.debits)

	require.Len(t, f.notifier.texts, 1)
	assert.Contains(t, f.notifier.texts[0], "CHIKE EZE")
	assert.Contains(t, f.notifier.texts[0], "₦2,500.00")
}

func TestIncomingCreditRedelivery(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.creditResult = &ledger.MutationResult{Duplicate: true}

	f.post(t, creditEvent(t, accountCreditData{
		AccountNumber:     "9012345678",
		Amount:            250_000,
		ProviderReference: "NIP-777",
		SenderName:        "CHIKE EZE",
	}), true)

	// the credit path was invoked but deduplicated; the user hears nothing
	assert.Len(t, f.ledger.credits, 1)
	assert.Empty(t, f.notifier.texts)
}

func TestIncomingFeeWhenEnabled(t *testing.T) {
	f := newFixture(t, true)

	f.post(t, creditEvent(t, accountCreditData{
		AccountNumber:     "9012345678",
		Amount:            200_000,
		ProviderReference: "NIP-778",
		SenderName:        "CHIKE EZE",
	}), true)

	// 0.5% of ₦2,000
	require.Len(t, f.ledger.debits, 1)
	assert.Equal(t, int64(1_000), f.ledger.debits[0])
}

func TestUnknownAccountIgnored(t *testing.T) {
	f := newFixture(t, false)

	rec := f.post(t, creditEvent(t, accountCreditData{
		AccountNumber: "0000000000",
		Amount:        100_000,
		SenderName:    "CHIKE EZE",
	}), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.ledger.credits)
}

func TestUnhandledEventAccepted(t *testing.T) {
	f := newFixture(t, false)

	rec := f.post(t, Event{Event: "kyc.updated", Data: json.RawMessage(`{}`)}, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}
