package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

// Plan captures the local metadata for a Stripe price.
type Plan struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Name            string                `gorm:"column:name;not null"`
	Price           decimal.Decimal       `gorm:"column:price;type:numeric(12,2);not null"`
	Currency        string                `gorm:"column:currency;not null;default:'usd'"`
	Interval        enums.BillingInterval `gorm:"column:interval;type:text;not null"`
	StripePriceID   string                `gorm:"column:stripe_price_id;not null;uniqueIndex"`
	StripeProductID string                `gorm:"column:stripe_product_id;not null"`
	Translations    json.RawMessage       `gorm:"column:translations;type:jsonb"`
	IsActive        bool                  `gorm:"column:is_active;not null;default:true"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// PlanTranslation is one locale entry of Plan.Translations.
type PlanTranslation struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Translation returns the entry for locale, if present.
func (p Plan) Translation(locale string) (PlanTranslation, bool) {
	if len(p.Translations) == 0 || locale == "" {
		return PlanTranslation{}, false
	}
	var byLocale map[string]PlanTranslation
	if err := json.Unmarshal(p.Translations, &byLocale); err != nil {
		return PlanTranslation{}, false
	}
	entry, ok := byLocale[locale]
	return entry, ok
}
