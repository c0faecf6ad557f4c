package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

// SubscriptionDTO is the transport shape of a local subscription mirror.
type SubscriptionDTO struct {
	ID                   uuid.UUID                `json:"id"`
	CompanyID            uuid.UUID                `json:"company_id"`
	PlanID               *uuid.UUID               `json:"plan_id,omitempty"`
	StripeSubscriptionID string                   `json:"stripe_subscription_id"`
	Status               enums.SubscriptionStatus `json:"status"`
	CurrentPeriodStart   time.Time                `json:"current_period_start"`
	CurrentPeriodEnd     time.Time                `json:"current_period_end"`
	CancelAtPeriodEnd    bool                     `json:"cancel_at_period_end"`
	CanceledAt           *time.Time               `json:"canceled_at,omitempty"`
	UpdatedAt            time.Time                `json:"updated_at"`
}

func SubscriptionFromModel(s *models.Subscription) *SubscriptionDTO {
	if s == nil {
		return nil
	}
	return &SubscriptionDTO{
		ID:                   s.ID,
		CompanyID:            s.CompanyID,
		PlanID:               s.PlanID,
		StripeSubscriptionID: s.StripeSubscriptionID,
		Status:               s.Status,
		CurrentPeriodStart:   s.CurrentPeriodStart,
		CurrentPeriodEnd:     s.CurrentPeriodEnd,
		CancelAtPeriodEnd:    s.CancelAtPeriodEnd,
		CanceledAt:           s.CanceledAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

// ApplyState copies the processor view onto the local row. Zero periods are ignored.
func ApplyState(sub *models.Subscription, state *SubscriptionState) {
	if sub == nil || state == nil {
		return
	}
	if state.Status.IsValid() {
		sub.Status = state.Status
	}
	sub.CancelAtPeriodEnd = state.CancelAtPeriodEnd
	sub.CanceledAt = state.CanceledAt
	if !state.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = state.CurrentPeriodStart
	}
	if !state.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = state.CurrentPeriodEnd
	}
	if state.CustomerID != "" {
		sub.StripeCustomerID = state.CustomerID
	}
}
