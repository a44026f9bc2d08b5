package admin

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kudichat/kudichat/internal/auth"
	"github.com/kudichat/kudichat/internal/catalog"
	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/pkg/logger"
	"github.com/kudichat/kudichat/pkg/utils"
)

// Handler is the ops dashboard API. Every route here sits behind the admin
// JWT middleware; actions that touch money log the acting admin.
type Handler struct {
	repo   Repository
	ledger ledger.Repository
	users  user.Repository
	kv     catalog.KVRepository
}

func NewHandler(repo Repository, ledgerRepo ledger.Repository, users user.Repository, kv catalog.KVRepository) *Handler {
	return &Handler{repo: repo, ledger: ledgerRepo, users: users, kv: kv}
}

// Dashboard handles GET /admin/dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats()
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to load stats", nil)
		return
	}

	revenue, err := h.repo.RevenueSince(time.Now().AddDate(0, -1, 0))
	if err == nil {
		utils.BuildSuccessResponse(w, http.StatusOK, "Dashboard", map[string]interface{}{
			"stats":              stats,
			"revenue_last_month": revenue,
		})
		return
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Dashboard", map[string]interface{}{"stats": stats})
}

type freezeRequest struct {
	Reason string `json:"reason"`
}

// FreezeWallet handles POST /admin/users/{userId}/wallet/freeze.
func (h *Handler) FreezeWallet(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	var req freezeRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request body", nil)
		return
	}
	if req.Reason == "" {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "A reason is required to freeze a wallet", nil)
		return
	}

	if err := h.ledger.SetFrozen(userID, true, req.Reason); err != nil {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Wallet not found", nil)
		return
	}

	admin, _ := auth.AdminFromContext(r.Context())
	logger.Info("Wallet frozen", logger.Fields{
		logger.UserIdKey: userID,
		"reason":         req.Reason,
		"admin":          admin.Email,
	})
	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet frozen", nil)
}

// UnfreezeWallet handles POST /admin/users/{userId}/wallet/unfreeze.
func (h *Handler) UnfreezeWallet(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	if err := h.ledger.SetFrozen(userID, false, ""); err != nil {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Wallet not found", nil)
		return
	}

	admin, _ := auth.AdminFromContext(r.Context())
	logger.Info("Wallet unfrozen", logger.Fields{
		logger.UserIdKey: userID,
		"admin":          admin.Email,
	})
	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet unfrozen", nil)
}

type creditRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// CreditWallet handles POST /admin/users/{userId}/wallet/credit. Admin
// credits land even on frozen wallets and are flagged in metadata for audit.
func (h *Handler) CreditWallet(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	var req creditRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request body", nil)
		return
	}
	if req.Amount <= 0 {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "A positive amount is required", nil)
		return
	}
	if req.Description == "" {
		req.Description = "Manual adjustment"
	}

	admin, _ := auth.AdminFromContext(r.Context())
	result, err := h.ledger.CreditWallet(userID, req.Amount, req.Description, ledger.CreditMeta{
		Category:    ledger.CategoryAdminAdjustment,
		AdminCredit: true,
		Metadata: ledger.Metadata{
			"creditedBy": admin.Email,
		},
	})
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusUnprocessableEntity, "Credit failed", map[string]string{"error": err.Error()})
		return
	}

	logger.Info("Admin credit applied", logger.Fields{
		logger.UserIdKey:    userID,
		logger.ReferenceKey: result.Transaction.Reference,
		"amount":            req.Amount,
		"admin":             admin.Email,
	})
	utils.BuildSuccessResponse(w, http.StatusOK, "Wallet credited", result)
}

type banRequest struct {
	Banned bool `json:"banned"`
}

// BanUser handles POST /admin/users/{userId}/ban.
func (h *Handler) BanUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	var req banRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request body", nil)
		return
	}

	if err := h.users.SetBanned(userID, req.Banned); err != nil {
		utils.BuildErrorResponse(w, http.StatusNotFound, "User not found", nil)
		return
	}

	admin, _ := auth.AdminFromContext(r.Context())
	logger.Info("User ban state changed", logger.Fields{
		logger.UserIdKey: userID,
		"banned":         req.Banned,
		"admin":          admin.Email,
	})
	utils.BuildSuccessResponse(w, http.StatusOK, "User updated", nil)
}

// UserTransactions handles GET /admin/users/{userId}/transactions, including
// the rows hidden from the user's own history.
func (h *Handler) UserTransactions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	limit, offset, _ := utils.GetPaginationDetails(r)

	txns, err := h.ledger.GetTransactions(userID, false, limit, offset)
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to load transactions", nil)
		return
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Transactions", txns)
}

type pricingRequest struct {
	Network string `json:"network"`
	PlanID  string `json:"plan_id"`
	Price   int64  `json:"price"`
}

// SetPlanPrice handles POST /admin/data-pricing/plan. Overrides are sparse;
// plans without one sell at retail.
func (h *Handler) SetPlanPrice(w http.ResponseWriter, r *http.Request) {
	var req pricingRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request body", nil)
		return
	}

	if _, ok := catalog.FindPlan(req.Network, req.PlanID); !ok {
		utils.BuildErrorResponse(w, http.StatusNotFound, "Unknown plan", nil)
		return
	}
	if req.Price <= 0 {
		utils.BuildErrorResponse(w, http.StatusBadRequest, "Price must be positive", nil)
		return
	}

	if err := h.kv.SetPlanPrice(req.Network, req.PlanID, req.Price); err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to save price", nil)
		return
	}

	admin, _ := auth.AdminFromContext(r.Context())
	logger.Info("Data plan price overridden", logger.Fields{
		"network": req.Network,
		"plan_id": req.PlanID,
		"price":   req.Price,
		"admin":   admin.Email,
	})
	utils.BuildSuccessResponse(w, http.StatusOK, "Price updated", nil)
}

// Pricing handles GET /admin/data-pricing: every plan with retail and
// effective selling price.
func (h *Handler) Pricing(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.kv.PricingOverrides()
	if err != nil {
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Failed to load pricing", nil)
		return
	}

	type pricedPlan struct {
		catalog.Plan
		SellingPrice int64 `json:"selling_price"`
	}

	out := map[string][]pricedPlan{}
	for _, network := range catalog.Networks() {
		for _, plan := range catalog.PlansForNetwork(network) {
			out[network] = append(out[network], pricedPlan{
				Plan:         plan,
				SellingPrice: overrides.EffectivePrice(plan),
			})
		}
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Pricing", out)
}
