package flow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kudichat/kudichat/internal/catalog"
	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/pkg/cache"
)

type memStore struct {
	data map[string][]byte
	jobs []cache.CompletionJob
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (s *memStore) SetJSON(_ context.Context, key string, v interface{}, _ time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.data[key] = data
	return nil
}

func (s *memStore) GetJSON(_ context.Context, key string, dst interface{}) error {
	data, ok := s.data[key]
	if !ok {
		return errors.New("key not found")
	}
	return json.Unmarshal(data, dst)
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *memStore) EnqueueCompletion(_ context.Context, job cache.CompletionJob) error {
	s.jobs = append(s.jobs, job)
	return nil
}

type mockUsers struct {
	user.Repository
	users map[string]*user.User
	steps []user.OnboardingStep
}

func (m *mockUsers) FindByID(id string) (*user.User, error) {
	usr, ok := m.users[id]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	return usr, nil
}

func (m *mockUsers) SetPersonalDetails(userID, firstName, lastName string) error {
	m.users[userID].FirstName = firstName
	m.users[userID].LastName = lastName
	return nil
}

func (m *mockUsers) SetBVN(userID, bvn string) error {
	m.users[userID].BVN = bvn
	return nil
}

func (m *mockUsers) SetPinHash(userID, pinHash string) error {
	m.users[userID].PinHash = pinHash
	return nil
}

func (m *mockUsers) UpdateOnboardingStep(userID string, step user.OnboardingStep) error {
	m.users[userID].OnboardingStep = step
	m.steps = append(m.steps, step)
	return nil
}

func (m *mockUsers) UpdateKYCStatus(userID string, status user.KYCStatus) error {
	m.users[userID].KYCStatus = status
	return nil
}

type mockLedger struct {
	ledger.Repository
	wallets []*ledger.Wallet
}

func (m *mockLedger) CreateWallet(wallet *ledger.Wallet) error {
	m.wallets = append(m.wallets, wallet)
	return nil
}

type mockKV struct {
	catalog.KVRepository
	overrides catalog.PricingOverrides
}

func (m *mockKV) PricingOverrides() (catalog.PricingOverrides, error) {
	if m.overrides == nil {
		return catalog.PricingOverrides{}, nil
	}
	return m.overrides, nil
}

type mockProvisioner struct {
	begun []string
}

func (m *mockProvisioner) Begin(_ context.Context, usr *user.User) {
	m.begun = append(m.begun, usr.ID.String())
}

type machineFixture struct {
	machine     *Machine
	users       *mockUsers
	ledger      *mockLedger
	store       *memStore
	tokens      *Tokens
	provisioner *mockProvisioner
	userID      string
}

func newMachineFixture(t *testing.T) *machineFixture {
	t.Helper()

	id := uuid.New()
	hash, err := bcrypt.GenerateFromPassword([]byte("1234"), bcrypt.MinCost)
	require.NoError(t, err)

	users := &mockUsers{users: map[string]*user.User{
		id.String(): {
			ID:          id,
			PhoneNumber: "08031234567",
			PinHash:     string(hash),
		},
	}}
	ledgerRepo := &mockLedger{}
	store := newMemStore()
	tokens := NewTokens("test-secret")
	provisioner := &mockProvisioner{}

	machine := NewMachine(users, ledgerRepo, &mockKV{}, NewSessions(store), store, tokens, provisioner)
	return &machineFixture{
		machine:     machine,
		users:       users,
		ledger:      ledgerRepo,
		store:       store,
		tokens:      tokens,
		provisioner: provisioner,
		userID:      id.String(),
	}
}

func (f *machineFixture) token(t *testing.T, flowID string, session map[string]interface{}) string {
	t.Helper()
	token, err := f.tokens.Mint(f.userID, flowID, "chat", session)
	require.NoError(t, err)
	return token
}

func TestPingAnswersActive(t *testing.T) {
	f := newMachineFixture(t)

	resp, err := f.machine.Handle(context.Background(), Request{Action: ActionPing})
	require.NoError(t, err)
	assert.Equal(t, "active", resp.Data["status"])
}

func TestInvalidTokenRejected(t *testing.T) {
	f := newMachineFixture(t)

	_, err := f.machine.Handle(context.Background(), Request{
		Action:    ActionDataExchange,
		Screen:    ScreenBVN,
		FlowToken: "garbage",
	})
	var authErr *ledger.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestOnboardingScreens(t *testing.T) {
	f := newMachineFixture(t)
	token := f.token(t, FlowOnboarding, nil)
	ctx := context.Background()

	resp, err := f.machine.Handle(ctx, Request{
		Action:    ActionDataExchange,
		Screen:    ScreenPersonalDetails,
		FlowToken: token,
		Data:      map[string]interface{}{"first_name": "Ada", "last_name": "Obi"},
	})
	require.NoError(t, err)
	assert.Equal(t, ScreenBVN, resp.Screen)
	assert.Equal(t, "Ada", f.users.users[f.userID].FirstName)

	resp, err = f.machine.Handle(ctx, Request{
		Action:    ActionDataExchange,
		Screen:    ScreenBVN,
		FlowToken: token,
		Data:      map[string]interface{}{"bvn": "12345678901"},
	})
	require.NoError(t, err)
	assert.Equal(t, ScreenPinSetup, resp.Screen)
	assert.Equal(t, user.KYCPending, f.users.users[f.userID].KYCStatus)

	resp, err = f.machine.Handle(ctx, Request{
		Action:    ActionDataExchange,
		Screen:    ScreenPinSetup,
		FlowToken: token,
		Data:      map[string]interface{}{"pin": "4321", "pin_confirmation": "4321"},
	})
	require.NoError(t, err)
	assert.Equal(t, ScreenCompletion, resp.Screen)

	require.Len(t, f.ledger.wallets, 1)
	assert.Equal(t, "NGN", f.ledger.wallets[0].Currency)
	assert.Equal(t, user.StepCompleted, f.users.users[f.userID].OnboardingStep)
	assert.Equal(t, []string{f.userID}, f.provisioner.begun)

	err = bcrypt.CompareHashAndPassword([]byte(f.users.users[f.userID].PinHash), []byte("4321"))
	assert.NoError(t, err)
}

func TestOnboardingValidation(t *testing.T) {
	f := newMachineFixture(t)
	token := f.token(t, FlowOnboarding, nil)
	ctx := context.Background()

	resp, err := f.machine.Handle(ctx, Request{
		Action:    ActionDataExchange,
		Screen:    ScreenBVN,
		FlowToken: token,
		Data:      map[string]interface{}{"bvn": "123"},
	})
	require.NoError(t, err)
	assert.Equal(t, ScreenBVN, resp.Screen)
	assert.Contains(t, resp.Data["error_message"], "11 digits")

	resp, err = f.machine.Handle(ctx, Request{
		Action:    ActionDataExchange,
		Screen:    ScreenPinSetup,
		FlowToken: token,
		Data:      map[string]interface{}{"pin": "4321", "pin_confirmation": "9999"},
	})
	require.NoError(t, err)
	assert.Equal(t, ScreenPinSetup, resp.Screen)
	assert.Contains(t, resp.Data["error_message"], "do not match")
	assert.Empty(t, f.ledger.wallets)
}

func TestDataPurchaseScreens(t *testing.T) {
	f := newMachineFixture(t)
	token := f.token(t, FlowDataPurchase, nil)
	ctx := context.Background()

	resp, err := f.machine.Handle(ctx, Request{
		Action:    ActionDataExchange,
		Screen:    ScreenNetworkSelect,
		FlowToken: token,
		Data:      map[string]interface{}{"network": "MTN"},
	})
	require.NoError(t, err)
	assert.Equal(t, ScreenPhone, resp.Screen)

	resp, err = f.machine.Handle(ctx, Request{
		Action:    ActionDataExchange,
		Screen:    ScreenPhone,
		FlowToken: token,
		Data:      map[string]interface{}{"phone": "08031234567"},
	})
	require.NoError(t, err)
	assert.Equal(t, ScreenPlanSelect, resp.Screen)
	assert.NotEmpty(t, resp.Data["plans"])

	plans := catalog.PlansForNetwork("MTN")
	require.NotEmpty(t, plans)
	planID := plans[0].ID

	resp, err = f.machine.Handle(ctx, Request{
		Action:    ActionDataExchange,
		Screen:    ScreenPlanSelect,
		FlowToken: token,
		Data:      map[string]interface{}{"plan_id": planID},
	})
	require.NoError(t, err)
	assert.Equal(t, ScreenConfirm, resp.Screen)
	assert.Equal(t, "08031234567", resp.Data["phone"])

	resp, err = f.machine.Handle(ctx, Request{
		Action:    ActionNavigate,
		Screen:    ScreenConfirm,
		FlowToken: token,
	})
	require.NoError(t, err)
	assert.Equal(t, ScreenPinVerify, resp.Screen)

	resp, err = f.machine.Handle(ctx, Request{
		Action:    ActionComplete,
		Screen:    ScreenPinVerify,
		FlowToken: token,
		Data:      map[string]interface{}{"pin": "1234"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Screen)
	assert.Empty(t, resp.Data)

	require.Len(t, f.store.jobs, 1)
	job := f.store.jobs[0]
	assert.Equal(t, "data_purchase", job.Kind)
	assert.Equal(t, f.userID, job.UserID)

	var payload DataPurchasePayload
	require.NoError(t, f.store.GetJSON(ctx, job.ProcessingKey, &payload))
	assert.Equal(t, "MTN", payload.Network)
	assert.Equal(t, "08031234567", payload.Phone)
	assert.Equal(t, planID, payload.PlanID)

	// the merged flow session is gone once the job is handed off
	_, err = NewSessions(f.store).Get(ctx, token)
	assert.Error(t, err)
}

func TestDataPurchaseWrongPIN(t *testing.T) {
	f := newMachineFixture(t)
	token := f.token(t, FlowDataPurchase, nil)
	ctx := context.Background()

	_, err := f.machine.Handle(ctx, Request{
		Action:    ActionDataExchange,
		Screen:    ScreenNetworkSelect,
		FlowToken: token,
		Data:      map[string]interface{}{"network": "GLO"},
	})
	require.NoError(t, err)

	resp, err := f.machine.Handle(ctx, Request{
		Action:    ActionComplete,
		Screen:    ScreenPinVerify,
		FlowToken: token,
		Data:      map[string]interface{}{"pin": "0000"},
	})
	require.NoError(t, err)
	assert.Equal(t, ScreenPinVerify, resp.Screen)
	assert.Contains(t, resp.Data["error_message"], "Incorrect PIN")
	assert.Empty(t, f.store.jobs)
}

func TestTransferPinCompletion(t *testing.T) {
	f := newMachineFixture(t)
	token := f.token(t, FlowTransferPin, map[string]interface{}{
		"account_number": "0123456789",
		"bank_code":      "000013",
		"amount":         100000,
		"narration":      "rent",
	})
	ctx := context.Background()

	resp, err := f.machine.Handle(ctx, Request{
		Action:    ActionComplete,
		Screen:    ScreenPinVerify,
		FlowToken: token,
		Data:      map[string]interface{}{"pin": "1234"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Screen)
	assert.Empty(t, resp.Data)

	require.Len(t, f.store.jobs, 1)
	job := f.store.jobs[0]
	assert.Equal(t, "bank_transfer", job.Kind)

	var payload TransferPayload
	require.NoError(t, f.store.GetJSON(ctx, job.ProcessingKey, &payload))
	assert.Equal(t, "0123456789", payload.AccountNumber)
	assert.Equal(t, "000013", payload.BankCode)
	assert.Equal(t, int64(100000), payload.Amount)
	assert.Equal(t, "1234", payload.PIN)
}

func TestTransferPinMissingDetails(t *testing.T) {
	f := newMachineFixture(t)
	token := f.token(t, FlowTransferPin, nil)

	_, err := f.machine.Handle(context.Background(), Request{
		Action:    ActionComplete,
		Screen:    ScreenPinVerify,
		FlowToken: token,
		Data:      map[string]interface{}{"pin": "1234"},
	})
	var valErr *ledger.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Empty(t, f.store.jobs)
}
