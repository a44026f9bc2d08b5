package admin_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kudichat/kudichat/internal/admin"
	"github.com/kudichat/kudichat/internal/auth"
	"github.com/kudichat/kudichat/internal/catalog"
	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/pkg/utils"
)

type mockStats struct {
	stats   *admin.DashboardStats
	revenue int64
}

func (m *mockStats) Stats() (*admin.DashboardStats, error)       { return m.stats, nil }
func (m *mockStats) RevenueSince(since time.Time) (int64, error) { return m.revenue, nil }

type mockAdminLedger struct {
	ledger.Repository

	frozenUser   string
	frozenState  bool
	frozenReason string
	freezeErr    error

	creditedUser   string
	creditedAmount int64
	creditedMeta   ledger.CreditMeta

	transactions []ledger.Transaction
	lastVisible  bool
}

func (m *mockAdminLedger) SetFrozen(userID string, frozen bool, reason string) error {
	if m.freezeErr != nil {
		return m.freezeErr
	}
	m.frozenUser = userID
	m.frozenState = frozen
	m.frozenReason = reason
	return nil
}

func (m *mockAdminLedger) CreditWallet(userID string, amount int64, description string, meta ledger.CreditMeta) (*ledger.MutationResult, error) {
	m.creditedUser = userID
	m.creditedAmount = amount
	m.creditedMeta = meta
	return &ledger.MutationResult{
		Transaction: ledger.Transaction{Reference: "TXN-ADM", Amount: amount},
		NewBalance:  amount,
	}, nil
}

func (m *mockAdminLedger) GetTransactions(userID string, visibleOnly bool, limit, offset int) ([]ledger.Transaction, error) {
	m.lastVisible = visibleOnly
	return m.transactions, nil
}

type mockAdminUsers struct {
	user.Repository

	bannedUser  string
	bannedState bool
	banErr      error
}

func (m *mockAdminUsers) SetBanned(userID string, banned bool) error {
	if m.banErr != nil {
		return m.banErr
	}
	m.bannedUser = userID
	m.bannedState = banned
	return nil
}

type mockAdminKV struct {
	catalog.KVRepository

	overrides catalog.PricingOverrides
	setKey    string
	setPrice  int64
}

func (m *mockAdminKV) PricingOverrides() (catalog.PricingOverrides, error) {
	return m.overrides, nil
}

func (m *mockAdminKV) SetPlanPrice(network, planID string, sellingPrice int64) error {
	m.setKey = network + ":" + planID
	m.setPrice = sellingPrice
	return nil
}

func adminContext(r *http.Request) *http.Request {
	ctx := context.WithValue(r.Context(), utils.AdminKey, auth.AdminClaims{Email: "ops@kudichat.ng", Name: "Ops"})
	return r.WithContext(ctx)
}

func adminPost(target string, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return adminContext(req)
}

func TestDashboard(t *testing.T) {
	stats := &mockStats{
		stats:   &admin.DashboardStats{TotalUsers: 120, TotalWalletKobo: 4_500_000},
		revenue: 250_000,
	}
	h := admin.NewHandler(stats, &mockAdminLedger{}, &mockAdminUsers{}, &mockAdminKV{})

	req := adminContext(httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil))
	rr := httptest.NewRecorder()
	h.Dashboard(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total_users":120`)
	assert.Contains(t, rr.Body.String(), `"revenue_last_month":250000`)
}

func TestFreezeWalletRequiresReason(t *testing.T) {
	ledgerRepo := &mockAdminLedger{}
	h := admin.NewHandler(&mockStats{}, ledgerRepo, &mockAdminUsers{}, &mockAdminKV{})

	req := adminPost("/admin/users/u1/wallet/freeze", `{}`)
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})
	rr := httptest.NewRecorder()
	h.FreezeWallet(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, ledgerRepo.frozenUser)
}

func TestFreezeWallet(t *testing.T) {
	ledgerRepo := &mockAdminLedger{}
	h := admin.NewHandler(&mockStats{}, ledgerRepo, &mockAdminUsers{}, &mockAdminKV{})

	req := adminPost("/admin/users/u1/wallet/freeze", `{"reason": "chargeback dispute"}`)
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})
	rr := httptest.NewRecorder()
	h.FreezeWallet(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "u1", ledgerRepo.frozenUser)
	assert.True(t, ledgerRepo.frozenState)
	assert.Equal(t, "chargeback dispute", ledgerRepo.frozenReason)
}

func TestUnfreezeWallet(t *testing.T) {
	ledgerRepo := &mockAdminLedger{frozenState: true}
	h := admin.NewHandler(&mockStats{}, ledgerRepo, &mockAdminUsers{}, &mockAdminKV{})

	req := adminContext(httptest.NewRequest(http.MethodPost, "/admin/users/u1/wallet/unfreeze", nil))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})
	rr := httptest.NewRecorder()
	h.UnfreezeWallet(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "u1", ledgerRepo.frozenUser)
	assert.False(t, ledgerRepo.frozenState)
}

func TestCreditWallet(t *testing.T) {
	ledgerRepo := &mockAdminLedger{}
	h := admin.NewHandler(&mockStats{}, ledgerRepo, &mockAdminUsers{}, &mockAdminKV{})

	req := adminPost("/admin/users/u1/wallet/credit", `{"amount": 500000, "description": "Refund for failed dispute"}`)
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})
	rr := httptest.NewRecorder()
	h.CreditWallet(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "u1", ledgerRepo.creditedUser)
	assert.Equal(t, int64(500_000), ledgerRepo.creditedAmount)
	assert.Equal(t, ledger.CategoryAdminAdjustment, ledgerRepo.creditedMeta.Category)
	assert.True(t, ledgerRepo.creditedMeta.AdminCredit)
	assert.Equal(t, "ops@kudichat.ng", ledgerRepo.creditedMeta.Metadata["creditedBy"])
}

func TestCreditWalletRejectsNonPositive(t *testing.T) {
	ledgerRepo := &mockAdminLedger{}
	h := admin.NewHandler(&mockStats{}, ledgerRepo, &mockAdminUsers{}, &mockAdminKV{})

	req := adminPost("/admin/users/u1/wallet/credit", `{"amount": -100}`)
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})
	rr := httptest.NewRecorder()
	h.CreditWallet(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, ledgerRepo.creditedUser)
}

func TestBanUser(t *testing.T) {
	users := &mockAdminUsers{}
	h := admin.NewHandler(&mockStats{}, &mockAdminLedger{}, users, &mockAdminKV{})

	req := adminPost("/admin/users/u2/ban", `{"banned": true}`)
	req = mux.SetURLVars(req, map[string]string{"userId": "u2"})
	rr := httptest.NewRecorder()
	h.BanUser(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "u2", users.bannedUser)
	assert.True(t, users.bannedState)
}

func TestUserTransactionsIncludesHidden(t *testing.T) {
	ledgerRepo := &mockAdminLedger{
		lastVisible: true,
		transactions: []ledger.Transaction{
			{Reference: "TXN-1"},
			{Reference: "FEE-1", Metadata: ledger.Metadata{ledger.MetaIsVisibleToUser: false}},
		},
	}
	h := admin.NewHandler(&mockStats{}, ledgerRepo, &mockAdminUsers{}, &mockAdminKV{})

	req := adminContext(httptest.NewRequest(http.MethodGet, "/admin/users/u1/transactions", nil))
	req = mux.SetURLVars(req, map[string]string{"userId": "u1"})
	rr := httptest.NewRecorder()
	h.UserTransactions(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, ledgerRepo.lastVisible, "admin listing must not filter hidden rows")
	assert.Contains(t, rr.Body.String(), "FEE-1")
}

func TestSetPlanPrice(t *testing.T) {
	kv := &mockAdminKV{}
	h := admin.NewHandler(&mockStats{}, &mockAdminLedger{}, &mockAdminUsers{}, kv)

	req := adminPost("/admin/data-pricing/plan", `{"network": "MTN", "plan_id": "mtn-1gb", "price": 70000}`)
	rr := httptest.NewRecorder()
	h.SetPlanPrice(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "MTN:mtn-1gb", kv.setKey)
	assert.Equal(t, int64(70_000), kv.setPrice)
}

func TestSetPlanPriceUnknownPlan(t *testing.T) {
	kv := &mockAdminKV{}
	h := admin.NewHandler(&mockStats{}, &mockAdminLedger{}, &mockAdminUsers{}, kv)

	req := adminPost("/admin/data-pricing/plan", `{"network": "MTN", "plan_id": "mtn-100gb", "price": 70000}`)
	rr := httptest.NewRecorder()
	h.SetPlanPrice(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Empty(t, kv.setKey)
}

func TestPricingAppliesOverrides(t *testing.T) {
	kv := &mockAdminKV{overrides: catalog.PricingOverrides{"MTN": {"mtn-1gb": 75_000}}}
	h := admin.NewHandler(&mockStats{}, &mockAdminLedger{}, &mockAdminUsers{}, kv)

	req := adminContext(httptest.NewRequest(http.MethodGet, "/admin/data-pricing", nil))
	rr := httptest.NewRecorder()
	h.Pricing(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data map[string][]struct {
			ID           string `json:"id"`
			RetailPrice  int64  `json:"retail_price"`
			SellingPrice int64  `json:"selling_price"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	var found bool
	for _, plan := range resp.Data["MTN"] {
		if plan.ID == "mtn-1gb" {
			found = true
			assert.Equal(t, int64(60_000), plan.RetailPrice)
			assert.Equal(t, int64(75_000), plan.SellingPrice)
		}
	}
	assert.True(t, found)
}
