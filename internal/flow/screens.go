package flow

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kudichat/kudichat/internal/catalog"
	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/pkg/cache"
	"github.com/kudichat/kudichat/pkg/logger"
)

// Screen names.
const (
	ScreenPersonalDetails = "PERSONAL_DETAILS"
	ScreenBVN             = "BVN"
	ScreenPinSetup        = "PIN_SETUP"
	ScreenCompletion      = "COMPLETION"

	ScreenNetworkSelect = "NETWORK_SELECT"
	ScreenPhone         = "PHONE"
	ScreenPlanSelect    = "PLAN_SELECT"
	ScreenConfirm       = "CONFIRM"
	ScreenPinVerify     = "PIN_VERIFY"
)

// Flow identifiers carried in the flow token.
const (
	FlowOnboarding   = "onboarding"
	FlowDataPurchase = "data_purchase"
	FlowTransferPin  = "transfer_pin"
)

// Actions.
const (
	ActionPing         = "ping"
	ActionDataExchange = "data_exchange"
	ActionNavigate     = "navigate"
	ActionComplete     = "complete"
)

var (
	bvnPattern   = regexp.MustCompile(`^\d{11}$`)
	pinPattern   = regexp.MustCompile(`^\d{4}$`)
	phonePattern = regexp.MustCompile(`^0[789][01]\d{8}$`)
)

type Request struct {
	Version   string                 `json:"version"`
	Action    string                 `json:"action"`
	Screen    string                 `json:"screen"`
	Data      map[string]interface{} `json:"data"`
	FlowToken string                 `json:"flow_token"`
}

type Response struct {
	Screen string                 `json:"screen,omitempty"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// Terminal is the empty response that closes the form on the client.
func Terminal() *Response { return &Response{} }

func errorOn(screen, field, message string) *Response {
	return &Response{Screen: screen, Data: map[string]interface{}{
		"error_message": message,
		"error_field":   field,
	}}
}

// TransferPayload is what a terminal transfer screen hands to the background
// worker, persisted under a processing key with a 300s TTL.
type TransferPayload struct {
	UserID        string `json:"user_id"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Amount        int64  `json:"amount"`
	Narration     string `json:"narration,omitempty"`
	PIN           string `json:"pin"`
}

type DataPurchasePayload struct {
	UserID  string `json:"user_id"`
	Network string `json:"network"`
	Phone   string `json:"phone"`
	PlanID  string `json:"plan_id"`
	PIN     string `json:"pin"`
}

// AccountProvisioner starts virtual-account provisioning once onboarding
// finishes. Asynchronous; failures reach the user through chat.
type AccountProvisioner interface {
	Begin(ctx context.Context, usr *user.User)
}

// Machine drives the named screens. Work that outlives an acceptable screen
// response time is persisted and handed to the background worker; the screen
// closes immediately.
type Machine struct {
	Users     user.Repository
	Ledger    ledger.Repository
	KV        catalog.KVRepository
	Sessions  *Sessions
	Store     Store
	Tokens    *Tokens
	Provision AccountProvisioner
}

func NewMachine(users user.Repository, ledgerRepo ledger.Repository, kv catalog.KVRepository,
	sessions *Sessions, store Store, tokens *Tokens, provision AccountProvisioner) *Machine {
	return &Machine{
		Users:     users,
		Ledger:    ledgerRepo,
		KV:        kv,
		Sessions:  sessions,
		Store:     store,
		Tokens:    tokens,
		Provision: provision,
	}
}

func (m *Machine) Handle(ctx context.Context, req Request) (*Response, error) {
	if req.Action == ActionPing {
		return &Response{Data: map[string]interface{}{"status": "active"}}, nil
	}

	info, _ := m.Tokens.Verify(req.FlowToken)
	if info == nil || !info.Valid {
		return nil, &ledger.AuthError{Reason: "invalid session"}
	}

	switch info.FlowID {
	case FlowOnboarding:
		return m.handleOnboarding(ctx, info, req)
	case FlowDataPurchase:
		return m.handleDataPurchase(ctx, info, req)
	case FlowTransferPin:
		return m.handleTransferPin(ctx, info, req)
	default:
		return nil, &ledger.ValidationError{Field: "flow_id", Message: "unknown flow " + info.FlowID}
	}
}

func (m *Machine) handleOnboarding(ctx context.Context, info *TokenInfo, req Request) (*Response, error) {
	usr, err := m.Users.FindByID(info.UserID)
	if err != nil {
		return nil, err
	}

	switch req.Screen {
	case ScreenPersonalDetails:
		firstName := strings.TrimSpace(stringField(req.Data, "first_name"))
		lastName := strings.TrimSpace(stringField(req.Data, "last_name"))
		if firstName == "" {
			return errorOn(ScreenPersonalDetails, "first_name", "First name is required"), nil
		}
		if lastName == "" {
			return errorOn(ScreenPersonalDetails, "last_name", "Last name is required"), nil
		}

		if err := m.Users.SetPersonalDetails(usr.ID.String(), firstName, lastName); err != nil {
			return nil, err
		}
		if err := m.Users.UpdateOnboardingStep(usr.ID.String(), user.StepPersonalDetails); err != nil {
			return nil, err
		}
		return &Response{Screen: ScreenBVN}, nil

	case ScreenBVN:
		bvn := strings.TrimSpace(stringField(req.Data, "bvn"))
		if !bvnPattern.MatchString(bvn) {
			return errorOn(ScreenBVN, "bvn", "BVN must be exactly 11 digits"), nil
		}

		if err := m.Users.SetBVN(usr.ID.String(), bvn); err != nil {
			return nil, err
		}
		if err := m.Users.UpdateKYCStatus(usr.ID.String(), user.KYCPending); err != nil {
			return nil, err
		}
		if err := m.Users.UpdateOnboardingStep(usr.ID.String(), user.StepBVN); err != nil {
			return nil, err
		}
		return &Response{Screen: ScreenPinSetup}, nil

	case ScreenPinSetup:
		pin := stringField(req.Data, "pin")
		confirmation := stringField(req.Data, "pin_confirmation")
		if !pinPattern.MatchString(pin) {
			return errorOn(ScreenPinSetup, "pin", "PIN must be exactly 4 digits"), nil
		}
		if pin != confirmation {
			return errorOn(ScreenPinSetup, "pin_confirmation", "PINs do not match"), nil
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		if err := m.Users.SetPinHash(usr.ID.String(), string(hash)); err != nil {
			return nil, err
		}
		if err := m.Users.UpdateOnboardingStep(usr.ID.String(), user.StepPinSetup); err != nil {
			return nil, err
		}

		if err := m.Ledger.CreateWallet(&ledger.Wallet{UserID: usr.ID, Currency: "NGN"}); err != nil {
			return nil, err
		}
		if err := m.Users.UpdateOnboardingStep(usr.ID.String(), user.StepCompleted); err != nil {
			return nil, err
		}

		if m.Provision != nil {
			m.Provision.Begin(ctx, usr)
		}
		return &Response{Screen: ScreenCompletion}, nil
	}

	return nil, &ledger.ValidationError{Field: "screen", Message: "unexpected onboarding screen " + req.Screen}
}

func (m *Machine) handleDataPurchase(ctx context.Context, info *TokenInfo, req Request) (*Response, error) {
	switch req.Screen {
	case ScreenNetworkSelect:
		network := stringField(req.Data, "network")
		if !catalog.ValidNetwork(network) {
			return errorOn(ScreenNetworkSelect, "network", "Select a valid network"), nil
		}
		if _, err := m.Sessions.Merge(ctx, req.FlowToken, map[string]interface{}{"network": network}); err != nil {
			return nil, err
		}
		return &Response{Screen: ScreenPhone}, nil

	case ScreenPhone:
		phone := strings.TrimSpace(stringField(req.Data, "phone"))
		if !phonePattern.MatchString(phone) {
			return errorOn(ScreenPhone, "phone", "Enter a valid Nigerian phone number"), nil
		}
		session, err := m.Sessions.Merge(ctx, req.FlowToken, map[string]interface{}{"phone": phone})
		if err != nil {
			return nil, err
		}

		network := stringField(session, "network")
		return &Response{Screen: ScreenPlanSelect, Data: map[string]interface{}{
			"plans": m.planChoices(network),
		}}, nil

	case ScreenPlanSelect:
		session, err := m.Sessions.Get(ctx, req.FlowToken)
		if err != nil {
			return nil, &ledger.AuthError{Reason: "flow session expired"}
		}
		network := stringField(session, "network")

		planID := stringField(req.Data, "plan_id")
		plan, ok := catalog.FindPlan(network, planID)
		if !ok {
			return errorOn(ScreenPlanSelect, "plan_id", "Select a plan from the list"), nil
		}

		price := m.sellingPrice(*plan)
		if _, err := m.Sessions.Merge(ctx, req.FlowToken, map[string]interface{}{
			"plan_id": planID,
			"price":   price,
		}); err != nil {
			return nil, err
		}

		return &Response{Screen: ScreenConfirm, Data: map[string]interface{}{
			"plan_title": plan.Title,
			"network":    network,
			"phone":      stringField(session, "phone"),
			"price":      price,
		}}, nil

	case ScreenConfirm:
		// navigate-only edge into PIN entry
		return &Response{Screen: ScreenPinVerify}, nil

	case ScreenPinVerify:
		if req.Action != ActionComplete {
			return nil, &ledger.ValidationError{Field: "action", Message: "PIN screen only completes"}
		}
		return m.completeDataPurchase(ctx, info, req)
	}

	return nil, &ledger.ValidationError{Field: "screen", Message: "unexpected data purchase screen " + req.Screen}
}

func (m *Machine) completeDataPurchase(ctx context.Context, info *TokenInfo, req Request) (*Response, error) {
	usr, err := m.Users.FindByID(info.UserID)
	if err != nil {
		return nil, err
	}

	pin := stringField(req.Data, "pin")
	if err := bcrypt.CompareHashAndPassword([]byte(usr.PinHash), []byte(pin)); err != nil {
		return errorOn(ScreenPinVerify, "pin", "Incorrect PIN"), nil
	}

	session, err := m.Sessions.Get(ctx, req.FlowToken)
	if err != nil {
		return nil, &ledger.AuthError{Reason: "flow session expired"}
	}

	payload := DataPurchasePayload{
		UserID:  usr.ID.String(),
		Network: stringField(session, "network"),
		Phone:   stringField(session, "phone"),
		PlanID:  stringField(session, "plan_id"),
		PIN:     pin,
	}

	key := cache.DataPurchaseProcessingKey(usr.ID.String(), time.Now().Unix())
	if err := m.dispatch(ctx, "data_purchase", usr.ID.String(), key, payload); err != nil {
		return nil, err
	}

	m.Sessions.Clear(ctx, req.FlowToken)
	return Terminal(), nil
}

func (m *Machine) handleTransferPin(ctx context.Context, info *TokenInfo, req Request) (*Response, error) {
	if req.Screen != ScreenPinVerify || req.Action != ActionComplete {
		return nil, &ledger.ValidationError{Field: "screen", Message: "transfer flow has a single PIN screen"}
	}

	usr, err := m.Users.FindByID(info.UserID)
	if err != nil {
		return nil, err
	}

	pin := stringField(req.Data, "pin")
	if !pinPattern.MatchString(pin) {
		return errorOn(ScreenPinVerify, "pin", "PIN must be exactly 4 digits"), nil
	}

	// transfer details ride in the token's session data, set when the chat
	// side minted the token; the completing payload may override them
	details := map[string]interface{}{}
	for k, v := range info.SessionData {
		details[k] = v
	}
	for k, v := range req.Data {
		details[k] = v
	}

	payload := TransferPayload{
		UserID:        usr.ID.String(),
		AccountNumber: stringField(details, "account_number"),
		BankCode:      stringField(details, "bank_code"),
		Amount:        intField(details, "amount"),
		Narration:     stringField(details, "narration"),
		PIN:           pin,
	}
	if payload.AccountNumber == "" || payload.Amount <= 0 {
		return nil, &ledger.ValidationError{Field: "amount", Message: "transfer details missing from flow session"}
	}

	key := cache.TransferProcessingKey(usr.ID.String(), time.Now().Unix())
	if err := m.dispatch(ctx, "bank_transfer", usr.ID.String(), key, payload); err != nil {
		return nil, err
	}

	return Terminal(), nil
}

// dispatch persists the payload under the processing key and enqueues the
// job. The screen response returns before any money moves.
func (m *Machine) dispatch(ctx context.Context, kind, userID, key string, payload interface{}) error {
	if err := m.Store.SetJSON(ctx, key, payload, cache.ProcessingTTL); err != nil {
		return err
	}
	if err := m.Store.EnqueueCompletion(ctx, cache.CompletionJob{
		Kind:          kind,
		UserID:        userID,
		ProcessingKey: key,
		EnqueuedAt:    time.Now(),
	}); err != nil {
		return err
	}

	logger.Info("Background completion dispatched", logger.Fields{
		logger.UserIdKey: userID,
		"kind":           kind,
		"key":            key,
	})
	return nil
}

func (m *Machine) planChoices(network string) []map[string]interface{} {
	overrides := m.pricingOverrides()
	choices := []map[string]interface{}{}
	for _, plan := range catalog.PlansForNetwork(network) {
		choices = append(choices, map[string]interface{}{
			"id":       plan.ID,
			"title":    fmt.Sprintf("%s (%s)", plan.Title, plan.Validity),
			"price":    overrides.EffectivePrice(plan),
		})
	}
	return choices
}

func (m *Machine) sellingPrice(plan catalog.Plan) int64 {
	return m.pricingOverrides().EffectivePrice(plan)
}

func (m *Machine) pricingOverrides() catalog.PricingOverrides {
	overrides, err := m.KV.PricingOverrides()
	if err != nil {
		logger.Warn("Pricing overrides unavailable, using retail prices", logger.Fields{logger.ErrorKey: err.Error()})
		return catalog.PricingOverrides{}
	}
	return overrides
}

func stringField(data map[string]interface{}, key string) string {
	v, _ := data[key].(string)
	return v
}

func intField(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
