package catalog

// Network is a mobile operator the VTU reseller serves.
type Network string

const (
	NetworkMTN     Network = "MTN"
	NetworkAirtel  Network = "AIRTEL"
	NetworkGlo     Network = "GLO"
	Network9Mobile Network = "9MOBILE"
)

func ValidNetwork(n string) bool {
	switch Network(n) {
	case NetworkMTN, NetworkAirtel, NetworkGlo, Network9Mobile:
		return true
	}
	return false
}

type Plan struct {
	ID          string  `json:"id"`
	Network     Network `json:"network"`
	Title       string  `json:"title"`
	RetailPrice int64   `json:"retail_price"` // kobo, what the reseller charges us
	Validity    string  `json:"validity"`
	Type        string  `json:"type"`
}

// Static plan catalogue, versioned with the application. The admin
// selling-price override in kv_store is a sparse overlay on top of this.
var plans = map[Network][]Plan{
	NetworkMTN: {
		{ID: "mtn-500mb", Network: NetworkMTN, Title: "500MB", RetailPrice: 35_000, Validity: "30 days", Type: "SME"},
		{ID: "mtn-1gb", Network: NetworkMTN, Title: "1GB", RetailPrice: 60_000, Validity: "30 days", Type: "SME"},
		{ID: "mtn-2gb", Network: NetworkMTN, Title: "2GB", RetailPrice: 120_000, Validity: "30 days", Type: "SME"},
		{ID: "mtn-5gb", Network: NetworkMTN, Title: "5GB", RetailPrice: 280_000, Validity: "30 days", Type: "SME"},
		{ID: "mtn-10gb", Network: NetworkMTN, Title: "10GB", RetailPrice: 550_000, Validity: "30 days", Type: "SME"},
	},
	NetworkAirtel: {
		{ID: "airtel-500mb", Network: NetworkAirtel, Title: "500MB", RetailPrice: 35_000, Validity: "30 days", Type: "CG"},
		{ID: "airtel-1gb", Network: NetworkAirtel, Title: "1GB", RetailPrice: 65_000, Validity: "30 days", Type: "CG"},
		{ID: "airtel-2gb", Network: NetworkAirtel, Title: "2GB", RetailPrice: 130_000, Validity: "30 days", Type: "CG"},
		{ID: "airtel-5gb", Network: NetworkAirtel, Title: "5GB", RetailPrice: 300_000, Validity: "30 days", Type: "CG"},
	},
	NetworkGlo: {
		{ID: "glo-1gb", Network: NetworkGlo, Title: "1GB", RetailPrice: 55_000, Validity: "30 days", Type: "Gifting"},
		{ID: "glo-2gb", Network: NetworkGlo, Title: "2GB", RetailPrice: 105_000, Validity: "30 days", Type: "Gifting"},
		{ID: "glo-5gb", Network: NetworkGlo, Title: "5GB", RetailPrice: 250_000, Validity: "30 days", Type: "Gifting"},
	},
	Network9Mobile: {
		{ID: "9mobile-1gb", Network: Network9Mobile, Title: "1GB", RetailPrice: 50_000, Validity: "30 days", Type: "Gifting"},
		{ID: "9mobile-2gb", Network: Network9Mobile, Title: "2GB", RetailPrice: 100_000, Validity: "30 days", Type: "Gifting"},
	},
}

// Networks lists operators in a stable display order.
func Networks() []string {
	return []string{string(NetworkMTN), string(NetworkAirtel), string(NetworkGlo), string(Network9Mobile)}
}

func PlansForNetwork(network string) []Plan {
	return plans[Network(network)]
}

func FindPlan(network, planID string) (*Plan, bool) {
	for _, p := range plans[Network(network)] {
		if p.ID == planID {
			return &p, true
		}
	}
	return nil, false
}
