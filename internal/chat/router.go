package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kudichat/kudichat/internal/beneficiary"
	"github.com/kudichat/kudichat/internal/ledger"
	"github.com/kudichat/kudichat/internal/provider"
	"github.com/kudichat/kudichat/internal/user"
	"github.com/kudichat/kudichat/internal/vtu"
	"github.com/kudichat/kudichat/pkg/config"
	"github.com/kudichat/kudichat/pkg/logger"
	"github.com/kudichat/kudichat/pkg/money"
)

// Button ids for the save-beneficiary prompt.
const (
	ButtonSaveYes = "save_beneficiary_yes"
	ButtonSaveNo  = "save_beneficiary_no"
)

var pinText = regexp.MustCompile(`^\d{4}$`)

// networkPrefixes maps Nigerian number prefixes to mobile networks for
// airtime self-recharge. Unknown prefixes make the router ask.
var networkPrefixes = map[string]string{
	"0803": "MTN", "0806": "MTN", "0703": "MTN", "0706": "MTN", "0810": "MTN",
	"0813": "MTN", "0814": "MTN", "0816": "MTN", "0903": "MTN", "0906": "MTN",
	"0802": "AIRTEL", "0808": "AIRTEL", "0708": "AIRTEL", "0812": "AIRTEL",
	"0901": "AIRTEL", "0902": "AIRTEL", "0904": "AIRTEL", "0907": "AIRTEL", "0912": "AIRTEL",
	"0805": "GLO", "0807": "GLO", "0705": "GLO", "0811": "GLO", "0815": "GLO", "0905": "GLO", "0915": "GLO",
	"0809": "9MOBILE", "0817": "9MOBILE", "0818": "9MOBILE", "0908": "9MOBILE", "0909": "9MOBILE",
}

type BankDirectory interface {
	BankList(ctx context.Context) map[string]string
	NameEnquiry(ctx context.Context, accountNumber, institutionCode string) (*provider.NameEnquiryResult, error)
}

type Provisioner interface {
	HasPending(ctx context.Context, phone string) bool
	CompleteWithOTP(ctx context.Context, usr *user.User, otp string) error
}

type AirtimeService interface {
	PurchaseAirtime(ctx context.Context, req vtu.AirtimeRequest) (*vtu.PurchaseReceipt, error)
}

type TokenMinter interface {
	Mint(userID, flowID, source string, sessionData map[string]interface{}) (string, error)
}

type Messenger interface {
	SendText(ctx context.Context, phone, text string) error
	SendFlow(ctx context.Context, phone, flowID, flowToken, screen, cta, body string) error
	SendYesNo(ctx context.Context, phone, body, yesID, noID string) error
}

// Router turns inbound chat messages into actions. It owns the conversation
// state machine; anything needing a PIN goes out as an encrypted form, never
// as a chat question, except the airtime fallback which accepts a PIN reply
// and deletes nothing durable.
type Router struct {
	Cfg           config.Config
	Users         user.Repository
	States        *user.StateStore
	Ledger        ledger.Repository
	Beneficiaries beneficiary.Repository
	Banks         BankDirectory
	Provisioner   Provisioner
	Airtime       AirtimeService
	Tokens        TokenMinter
	Messenger     Messenger
}

// Message is one inbound chat message after webhook unwrapping.
type Message struct {
	Phone    string
	Text     string
	ButtonID string
}

func (r *Router) Handle(ctx context.Context, msg Message) {
	usr, err := r.Users.FindByPhone(msg.Phone)
	if errors.Is(err, ledger.ErrUserNotFound) {
		r.startOnboarding(ctx, msg.Phone)
		return
	}
	if err != nil {
		logger.Error("User lookup failed", logger.Fields{logger.PhoneKey: msg.Phone, logger.ErrorKey: err.Error()})
		return
	}

	if usr.IsBanned {
		r.reply(ctx, usr, "Your account is restricted. Please contact support.")
		return
	}

	if usr.OnboardingStep != user.StepCompleted {
		r.resumeOnboarding(ctx, usr)
		return
	}

	text := strings.TrimSpace(msg.Text)

	if user.IsCancel(text) {
		r.States.Clear(ctx, usr)
		r.reply(ctx, usr, "Okay, cancelled. What would you like to do next?")
		return
	}

	// a pending question always wins over fresh intent parsing
	if state := r.States.Get(ctx, usr); state != nil && state.AwaitingInput != "" {
		r.continueConversation(ctx, usr, state, msg)
		return
	}

	intent := Parse(text)
	switch intent.Kind {
	case KindOTP:
		if r.Provisioner.HasPending(ctx, usr.PhoneNumber) {
			r.completeProvisioning(ctx, usr, text)
			return
		}
		r.reply(ctx, usr, "I wasn't expecting a code. Send *help* to see what I can do.")
	case KindTransfer:
		r.startTransfer(ctx, usr, intent)
	case KindData:
		r.startDataPurchase(ctx, usr)
	case KindAirtime:
		r.startAirtime(ctx, usr, intent)
	case KindBalance:
		r.sendBalance(ctx, usr)
	case KindHistory:
		r.sendHistory(ctx, usr)
	case KindGreeting:
		r.sendMenu(ctx, usr)
	default:
		r.reply(ctx, usr, "I didn't get that. Try *send 1k to mum*, *buy data*, *500 airtime* or *balance*.")
	}
}

func (r *Router) startOnboarding(ctx context.Context, phone string) {
	usr := &user.User{PhoneNumber: phone, OnboardingStep: user.StepIncomplete, KYCStatus: user.KYCIncomplete, IsActive: true}
	if err := r.Users.CreateUser(usr); err != nil {
		logger.Error("Failed to create user", logger.Fields{logger.PhoneKey: phone, logger.ErrorKey: err.Error()})
		return
	}
	r.resumeOnboarding(ctx, usr)
}

func (r *Router) resumeOnboarding(ctx context.Context, usr *user.User) {
	token, err := r.Tokens.Mint(usr.ID.String(), "onboarding", "chat", nil)
	if err != nil {
		logger.Error("Failed to mint onboarding token", logger.Fields{logger.UserIdKey: usr.ID.String(), logger.ErrorKey: err.Error()})
		return
	}

	err = r.Messenger.SendFlow(ctx, usr.PhoneNumber, r.Cfg.OnboardingFlowID, token,
		"PERSONAL_DETAILS", "Open account",
		"Welcome to KudiChat! 🎉 Let's open your wallet. It takes under two minutes.")
	if err != nil {
		logger.Error("Failed to send onboarding flow", logger.Fields{logger.PhoneKey: usr.PhoneNumber, logger.ErrorKey: err.Error()})
	}
}

func (r *Router) continueConversation(ctx context.Context, usr *user.User, state *user.ConversationState, msg Message) {
	switch state.AwaitingInput {
	case user.AwaitingSaveBeneficiary:
		r.handleSaveBeneficiaryReply(ctx, usr, state, msg)
	case user.AwaitingPINForTransfer:
		r.handleAirtimePIN(ctx, usr, state, msg.Text)
	case user.AwaitingAmount:
		r.handleAmountReply(ctx, usr, state, msg.Text)
	default:
		r.States.Clear(ctx, usr)
		r.reply(ctx, usr, "Let's start over. What would you like to do?")
	}
}

func (r *Router) handleSaveBeneficiaryReply(ctx context.Context, usr *user.User, state *user.ConversationState, msg Message) {
	answer := strings.ToLower(strings.TrimSpace(msg.Text))
	yes := msg.ButtonID == ButtonSaveYes || answer == "yes" || answer == "y"
	no := msg.ButtonID == ButtonSaveNo || answer == "no" || answer == "n"

	if !yes && !no {
		r.reply(ctx, usr, "Please reply *yes* or *no*, or send *cancel*.")
		return
	}

	r.States.Clear(ctx, usr)
	if no {
		r.reply(ctx, usr, "No problem, I won't save them.")
		return
	}

	// the orchestrator stashes the recipient under pendingBeneficiary when
	// it asks the question; the map arrives as JSON after the JSONB round trip
	pending, _ := state.Data["pendingBeneficiary"].(map[string]interface{})
	name, _ := pending["name"].(string)
	accountNumber, _ := pending["account_number"].(string)
	bankCode, _ := pending["bank_code"].(string)
	bankName, _ := pending["bank_name"].(string)

	if accountNumber == "" || bankCode == "" {
		logger.Error("Save-beneficiary state missing recipient details", logger.Fields{logger.UserIdKey: usr.ID.String()})
		r.reply(ctx, usr, "I couldn't save them right now, but your transfer went through.")
		return
	}

	if _, err := r.Beneficiaries.AutoSave(usr.ID, nil, name, accountNumber, bankCode, bankName); err != nil {
		logger.Error("Beneficiary save failed", logger.Fields{logger.UserIdKey: usr.ID.String(), logger.ErrorKey: err.Error()})
		r.reply(ctx, usr, "I couldn't save them right now, but your transfer went through.")
		return
	}
	r.reply(ctx, usr, fmt.Sprintf("Saved! Next time just say *send 5k to %s*.", strings.ToLower(firstWord(name))))
}

func (r *Router) handleAirtimePIN(ctx context.Context, usr *user.User, state *user.ConversationState, text string) {
	pin := strings.TrimSpace(text)
	if !pinText.MatchString(pin) {
		r.reply(ctx, usr, "Your PIN is 4 digits. Try again or send *cancel*.")
		return
	}

	amount := int64(0)
	if v, ok := state.Data["amount"].(float64); ok {
		amount = int64(v)
	}
	phone, _ := state.Data["phone"].(string)
	network, _ := state.Data["network"].(string)

	r.States.Clear(ctx, usr)

	receipt, err := r.Airtime.PurchaseAirtime(ctx, vtu.AirtimeRequest{
		UserID:  usr.ID.String(),
		Network: network,
		Phone:   phone,
		Amount:  amount,
		PIN:     pin,
	})
	if err != nil {
		r.reply(ctx, usr, purchaseErrorMessage(err))
		return
	}

	r.reply(ctx, usr, fmt.Sprintf("📱 %s airtime sent to %s.\nRef: %s\nNew balance: %s",
		money.FormatNaira(receipt.Amount), phone, receipt.Reference, money.FormatNaira(receipt.NewBalance)))
}

func (r *Router) handleAmountReply(ctx context.Context, usr *user.User, state *user.ConversationState, text string) {
	amount, ok := ParseAmount(text)
	if !ok {
		r.reply(ctx, usr, "How much? Something like *5000* or *5k*, or send *cancel*.")
		return
	}

	intent := Intent{Kind: KindTransfer, Amount: amount}
	intent.Recipient, _ = state.Data["recipient"].(string)
	intent.AccountNumber, _ = state.Data["account_number"].(string)
	intent.BankHint, _ = state.Data["bank_hint"].(string)

	r.States.Clear(ctx, usr)
	r.startTransfer(ctx, usr, intent)
}

func (r *Router) completeProvisioning(ctx context.Context, usr *user.User, otp string) {
	if err := r.Provisioner.CompleteWithOTP(ctx, usr, otp); err != nil {
		logger.Warn("Virtual account OTP rejected", logger.Fields{logger.UserIdKey: usr.ID.String(), logger.ErrorKey: err.Error()})
		r.reply(ctx, usr, "That code didn't work. Check it and try again.")
	}
	// the provisioner messages the user on success
}

func (r *Router) startTransfer(ctx context.Context, usr *user.User, intent Intent) {
	accountNumber := intent.AccountNumber
	bankCode := ""
	bankName := ""
	accountName := ""

	if accountNumber == "" {
		ben, err := r.Beneficiaries.FindByNickname(usr.ID.String(), intent.Recipient)
		if err != nil || ben == nil {
			r.reply(ctx, usr, fmt.Sprintf(
				"I don't know *%s* yet. Send the transfer as *send %s to <account number> <bank>* and I'll offer to save them.",
				intent.Recipient, money.FormatNaira(intent.Amount)))
			return
		}
		accountNumber = ben.AccountNumber
		bankCode = ben.BankCode
		bankName = ben.BankName
		accountName = ben.Name
	} else {
		code, name, ok := r.resolveBankHint(ctx, intent.BankHint)
		if !ok {
			r.reply(ctx, usr, "Which bank is that? Add the bank name, e.g. *send 1k to 0123456789 gtbank*.")
			return
		}
		bankCode = code
		bankName = name

		enquiry, err := r.Banks.NameEnquiry(ctx, accountNumber, bankCode)
		if err != nil {
			r.reply(ctx, usr, "I couldn't verify that account. Check the number and bank, then try again.")
			return
		}
		accountName = enquiry.AccountName
	}

	token, err := r.Tokens.Mint(usr.ID.String(), "transfer_pin", "chat", map[string]interface{}{
		"account_number": accountNumber,
		"bank_code":      bankCode,
		"bank_name":      bankName,
		"account_name":   accountName,
		"amount":         intent.Amount,
	})
	if err != nil {
		logger.Error("Failed to mint transfer token", logger.Fields{logger.UserIdKey: usr.ID.String(), logger.ErrorKey: err.Error()})
		r.reply(ctx, usr, "Something went wrong on my end. Please try again.")
		return
	}

	body := fmt.Sprintf("You're sending *%s* to *%s*\n%s (%s)\n\nConfirm with your PIN.",
		money.FormatNaira(intent.Amount), accountName, accountNumber, bankName)
	if err := r.Messenger.SendFlow(ctx, usr.PhoneNumber, r.Cfg.TransferPinFlowID, token, "PIN_VERIFY", "Enter PIN", body); err != nil {
		logger.Error("Failed to send PIN flow", logger.Fields{logger.PhoneKey: usr.PhoneNumber, logger.ErrorKey: err.Error()})
	}
}

func (r *Router) startDataPurchase(ctx context.Context, usr *user.User) {
	token, err := r.Tokens.Mint(usr.ID.String(), "data_purchase", "chat", nil)
	if err != nil {
		logger.Error("Failed to mint data purchase token", logger.Fields{logger.UserIdKey: usr.ID.String(), logger.ErrorKey: err.Error()})
		return
	}

	err = r.Messenger.SendFlow(ctx, usr.PhoneNumber, r.Cfg.DataPurchaseFlowID, token,
		"NETWORK_SELECT", "Buy data", "Let's get you a data bundle. 📶")
	if err != nil {
		logger.Error("Failed to send data purchase flow", logger.Fields{logger.PhoneKey: usr.PhoneNumber, logger.ErrorKey: err.Error()})
	}
}

func (r *Router) startAirtime(ctx context.Context, usr *user.User, intent Intent) {
	phone := intent.Phone
	if phone == "" {
		phone = usr.PhoneNumber
	}

	network, ok := networkPrefixes[prefixOf(phone)]
	if !ok {
		r.reply(ctx, usr, "I couldn't tell the network for that number. Try *500 airtime for 0803...* with a number I can recognise.")
		return
	}

	state := &user.ConversationState{
		Intent:        user.IntentAirtimePurchase,
		AwaitingInput: user.AwaitingPINForTransfer,
		Data: map[string]interface{}{
			"amount":  float64(intent.Amount),
			"phone":   phone,
			"network": network,
		},
	}

	if err := r.States.Set(ctx, usr, state); err != nil {
		r.reply(ctx, usr, "Something went wrong on my end. Please try again.")
		return
	}

	r.reply(ctx, usr, fmt.Sprintf("Buying %s %s airtime for %s. Reply with your 4-digit PIN to confirm, or *cancel*.",
		money.FormatNaira(intent.Amount), network, phone))
}

func (r *Router) sendBalance(ctx context.Context, usr *user.User) {
	wallet, err := r.Ledger.GetWalletByUserID(usr.ID.String())
	if err != nil {
		r.reply(ctx, usr, "I couldn't fetch your balance right now. Please try again.")
		return
	}

	text := fmt.Sprintf("💳 Balance: *%s*", money.FormatNaira(wallet.Balance))
	if wallet.VirtualAccountNumber != nil {
		text += fmt.Sprintf("\nAccount: %s", *wallet.VirtualAccountNumber)
	}
	r.reply(ctx, usr, text)
}

func (r *Router) sendHistory(ctx context.Context, usr *user.User) {
	txns, err := r.Ledger.GetTransactions(usr.ID.String(), true, 5, 0)
	if err != nil || len(txns) == 0 {
		r.reply(ctx, usr, "No transactions yet.")
		return
	}

	var b strings.Builder
	b.WriteString("🧾 Last transactions:\n")
	for _, txn := range txns {
		direction := "−"
		if txn.Type == ledger.TransactionCredit {
			direction = "+"
		}
		fmt.Fprintf(&b, "\n%s%s  %s  %s\n  %s\n",
			direction, money.FormatNaira(txn.Amount), txn.Category, txn.Status, txn.Description)
	}
	r.reply(ctx, usr, b.String())
}

func (r *Router) sendMenu(ctx context.Context, usr *user.User) {
	r.reply(ctx, usr, fmt.Sprintf(
		"Hi %s! 👋 Here's what I can do:\n\n"+
			"💸 *send 1k to mum* or *send 5k to 0123456789 gtbank*\n"+
			"📶 *buy data*\n"+
			"📱 *500 airtime*\n"+
			"💳 *balance*\n"+
			"🧾 *history*",
		usr.FirstName))
}

// resolveBankHint maps free text like "gtb" to an institution code via the
// provider's bank directory.
func (r *Router) resolveBankHint(ctx context.Context, hint string) (string, string, bool) {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return "", "", false
	}

	for code, name := range r.Banks.BankList(ctx) {
		if strings.Contains(strings.ToLower(name), hint) {
			return code, name, true
		}
	}
	return "", "", false
}

func (r *Router) reply(ctx context.Context, usr *user.User, text string) {
	if err := r.Messenger.SendText(ctx, usr.PhoneNumber, text); err != nil {
		logger.Warn("Failed to send reply", logger.Fields{logger.PhoneKey: usr.PhoneNumber, logger.ErrorKey: err.Error()})
	}
}

func purchaseErrorMessage(err error) string {
	var insufficient *ledger.InsufficientFundsError
	if errors.As(err, &insufficient) {
		return fmt.Sprintf("You're %s short for that. Top up and try again.", money.FormatNaira(insufficient.Shortfall()))
	}
	var auth *ledger.AuthError
	if errors.As(err, &auth) {
		return "That PIN is incorrect. Start again when you're ready."
	}
	var validation *ledger.ValidationError
	if errors.As(err, &validation) {
		return validation.Message
	}
	return "That didn't go through and you were not charged. Please try again."
}

func prefixOf(phone string) string {
	if len(phone) < 4 {
		return ""
	}
	return phone[:4]
}

func firstWord(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return name
	}
	return fields[0]
}
