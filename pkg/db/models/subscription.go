package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

// Subscription mirrors the Stripe subscription for a company; at most one per company.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	CompanyID            uuid.UUID                `gorm:"column:company_id;type:uuid;not null;uniqueIndex:ux_subscriptions_company"`
	PlanID               *uuid.UUID               `gorm:"column:plan_id;type:uuid"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;uniqueIndex"`
	StripeCustomerID     string                   `gorm:"column:stripe_customer_id;not null"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:text;not null"`
	CurrentPeriodStart   time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd     time.Time                `gorm:"column:current_period_end;not null"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`

	Company *Company `gorm:"foreignKey:CompanyID;constraint:OnDelete:CASCADE"`
}

// BlocksOwnerDeletion is true while the subscription is active and not winding down.
func (s Subscription) BlocksOwnerDeletion() bool {
	return s.Status.IsActive() && !s.CancelAtPeriodEnd
}
