package payloads

import "github.com/google/uuid"

// TenantActivatedEvent is emitted once when a provisional tenant becomes active.
type TenantActivatedEvent struct {
	UserID       uuid.UUID `json:"userId"`
	CompanyID    uuid.UUID `json:"companyId"`
	MembershipID uuid.UUID `json:"membershipId"`
	Email        string    `json:"email"`
	CompanyName  string    `json:"companyName"`
}

// TenantCompensationRequestedEvent asks the worker to remove a tenant whose
// inline cleanup did not finish.
type TenantCompensationRequestedEvent struct {
	UserID           uuid.UUID `json:"userId"`
	CompanyID        uuid.UUID `json:"companyId"`
	MembershipID     uuid.UUID `json:"membershipId"`
	StripeCustomerID string    `json:"stripeCustomerId,omitempty"`
	Reason           string    `json:"reason,omitempty"`
}
