package catalog

import (
	"encoding/json"
	"errors"

	"gorm.io/gorm"
)

// KVEntry is a sparse admin-tunable setting. The only heavy user today is
// data_pricing_overrides.
type KVEntry struct {
	Key   string `gorm:"primaryKey" json:"key"`
	Value string `gorm:"type:jsonb" json:"value"`
}

const PricingOverridesKey = "data_pricing_overrides"

// PricingOverrides is {network: {planId: sellingPrice}} in kobo.
type PricingOverrides map[string]map[string]int64

type KVRepository interface {
	Get(key string) (string, error)
	Set(key, value string) error
	PricingOverrides() (PricingOverrides, error)
	SetPlanPrice(network, planID string, sellingPrice int64) error
}

type kvRepository struct {
	db *gorm.DB
}

func NewKVRepository(db *gorm.DB) KVRepository {
	return &kvRepository{db: db}
}

func (r *kvRepository) Get(key string) (string, error) {
	var entry KVEntry
	if err := r.db.Where("key = ?", key).First(&entry).Error; err != nil {
		return "", err
	}
	return entry.Value, nil
}

func (r *kvRepository) Set(key, value string) error {
	return r.db.Save(&KVEntry{Key: key, Value: value}).Error
}

func (r *kvRepository) PricingOverrides() (PricingOverrides, error) {
	value, err := r.Get(PricingOverridesKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PricingOverrides{}, nil
		}
		return nil, err
	}

	overrides := PricingOverrides{}
	if err := json.Unmarshal([]byte(value), &overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}

func (r *kvRepository) SetPlanPrice(network, planID string, sellingPrice int64) error {
	overrides, err := r.PricingOverrides()
	if err != nil {
		return err
	}

	if overrides[network] == nil {
		overrides[network] = map[string]int64{}
	}
	overrides[network][planID] = sellingPrice

	data, err := json.Marshal(overrides)
	if err != nil {
		return err
	}
	return r.Set(PricingOverridesKey, string(data))
}

// EffectivePrice is the admin override when present, otherwise the retail
// price.
func (o PricingOverrides) EffectivePrice(plan Plan) int64 {
	if byPlan, ok := o[string(plan.Network)]; ok {
		if price, ok := byPlan[plan.ID]; ok {
			return price
		}
	}
	return plan.RetailPrice
}
