package chat

import (
	"regexp"
	"strconv"
	"strings"
)

// Intent kinds the parser can produce.
const (
	KindTransfer = "transfer"
	KindAirtime  = "airtime"
	KindData     = "data"
	KindBalance  = "balance"
	KindHistory  = "history"
	KindGreeting = "greeting"
	KindCancel   = "cancel"
	KindOTP      = "otp"
	KindUnknown  = "unknown"
)

// Intent is the parsed meaning of one inbound message. Amounts are kobo.
type Intent struct {
	Kind string

	Amount        int64
	Recipient     string // nickname or free-text name
	AccountNumber string
	BankHint      string

	Phone   string
	Network string
}

var (
	transferPattern = regexp.MustCompile(`(?i)^(?:send|transfer|pay)\s+(₦?[\d,]+(?:\.\d{1,2})?k?)\s+to\s+(.+)$`)
	airtimePattern  = regexp.MustCompile(`(?i)^(?:buy\s+|recharge\s+)?(₦?[\d,]+(?:\.\d{1,2})?k?)\s+airtime(?:\s+for\s+(0[789][01]\d{8}))?$`)
	airtimeAlt      = regexp.MustCompile(`(?i)^(?:buy\s+|recharge\s+)?airtime\s+(₦?[\d,]+(?:\.\d{1,2})?k?)(?:\s+for\s+(0[789][01]\d{8}))?$`)
	amountPattern   = regexp.MustCompile(`^₦?([\d,]+(?:\.\d{1,2})?)(k?)$`)
	accountPattern  = regexp.MustCompile(`^(\d{10})(?:\s+(.+))?$`)
	otpPattern      = regexp.MustCompile(`^\d{6}$`)

	greetings = map[string]bool{
		"hi": true, "hello": true, "hey": true, "menu": true, "help": true, "start": true,
	}
	balanceWords = map[string]bool{
		"balance": true, "bal": true, "wallet": true,
	}
	historyWords = map[string]bool{
		"history": true, "transactions": true, "statement": true,
	}
)

// Parse maps free text to an intent. It never errors; anything it cannot
// read comes back as KindUnknown and the router asks for clarification.
func Parse(text string) Intent {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	switch {
	case lower == "cancel" || lower == "stop":
		return Intent{Kind: KindCancel}
	case greetings[lower]:
		return Intent{Kind: KindGreeting}
	case balanceWords[lower]:
		return Intent{Kind: KindBalance}
	case historyWords[lower]:
		return Intent{Kind: KindHistory}
	case otpPattern.MatchString(trimmed):
		return Intent{Kind: KindOTP, Recipient: trimmed}
	case lower == "data" || lower == "buy data":
		return Intent{Kind: KindData}
	}

	if m := transferPattern.FindStringSubmatch(trimmed); m != nil {
		amount, ok := ParseAmount(m[1])
		if !ok {
			return Intent{Kind: KindUnknown}
		}

		intent := Intent{Kind: KindTransfer, Amount: amount}
		recipient := strings.TrimSpace(m[2])
		if acc := accountPattern.FindStringSubmatch(recipient); acc != nil {
			intent.AccountNumber = acc[1]
			intent.BankHint = strings.TrimSpace(acc[2])
		} else {
			intent.Recipient = normalizeRecipient(recipient)
		}
		return intent
	}

	for _, pattern := range []*regexp.Regexp{airtimePattern, airtimeAlt} {
		if m := pattern.FindStringSubmatch(trimmed); m != nil {
			amount, ok := ParseAmount(m[1])
			if !ok {
				return Intent{Kind: KindUnknown}
			}
			return Intent{Kind: KindAirtime, Amount: amount, Phone: m[2]}
		}
	}

	return Intent{Kind: KindUnknown}
}

// ParseAmount reads "1k", "₦2,500", "1.5k" as kobo. The k suffix multiplies
// by a thousand naira.
func ParseAmount(raw string) (int64, bool) {
	m := amountPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(raw)))
	if m == nil {
		return 0, false
	}

	number := strings.ReplaceAll(m[1], ",", "")
	naira, err := strconv.ParseFloat(number, 64)
	if err != nil || naira <= 0 {
		return 0, false
	}
	if m[2] == "k" {
		naira *= 1000
	}
	return int64(naira*100 + 0.5), true
}

// normalizeRecipient strips possessives so "my mum" resolves the nickname
// "mum".
func normalizeRecipient(recipient string) string {
	lower := strings.ToLower(recipient)
	for _, prefix := range []string{"my ", "our "} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(recipient[len(prefix):])
		}
	}
	return recipient
}
