package provider

// Static institution-code fallback, used when the provider bank list is
// unreachable and the cache is cold. Codes are the 6-digit NIP identifiers.
var staticBanks = map[string]string{
	"000001": "Sterling Bank",
	"000002": "Keystone Bank",
	"000003": "FCMB",
	"000004": "United Bank for Africa",
	"000007": "Fidelity Bank",
	"000008": "Polaris Bank",
	"000012": "StanbicIBTC Bank",
	"000013": "GTBank",
	"000014": "Access Bank",
	"000015": "Zenith Bank",
	"000016": "First Bank of Nigeria",
	"000017": "Wema Bank",
	"000018": "Union Bank",
	"000023": "Providus Bank",
	"090267": "Kuda Microfinance Bank",
	"100004": "Opay",
	"100033": "Palmpay",
	"090405": "Moniepoint Microfinance Bank",
}

// legacy 3-digit CBN codes seen in chat input, mapped to NIP codes
var legacyBankCodes = map[string]string{
	"010": "000016", // First Bank
	"011": "000016",
	"033": "000004", // UBA
	"044": "000014", // Access
	"057": "000015", // Zenith
	"058": "000013", // GTBank
	"070": "000007", // Fidelity
	"035": "000017", // Wema
	"232": "000001", // Sterling
	"214": "000003", // FCMB
}

// StaticBankName resolves an institution code against the embedded table.
func StaticBankName(code string) (string, bool) {
	name, ok := staticBanks[code]
	return name, ok
}
