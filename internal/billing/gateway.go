package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

// Metadata keys attached to processor subscriptions so events can be correlated
// back to local rows.
const (
	MetadataUserID       = "userId"
	MetadataCompanyID    = "companyId"
	MetadataMembershipID = "membershipId"
)

// Gateway is the payment processor surface the billing flows depend on.
type Gateway interface {
	CreateCustomer(ctx context.Context, name, email string, metadata map[string]string) (string, error)
	CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (*SubscriptionResult, error)
	GetPlanInfo(ctx context.Context, priceID, productID, locale string) (*PlanInfo, error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionState, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*SubscriptionState, error)
	DeleteCustomer(ctx context.Context, customerID string) error
}

// SubscriptionResult is returned when a new processor subscription is created.
type SubscriptionResult struct {
	ID                 string
	CustomerID         string
	Status             enums.SubscriptionStatus
	ClientSecret       string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// SubscriptionState is the processor's current view of a subscription.
type SubscriptionState struct {
	ID                 string
	CustomerID         string
	PriceID            string
	Status             enums.SubscriptionStatus
	Metadata           map[string]string
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// PlanInfo is the display data for a price.
type PlanInfo struct {
	PriceID         string          `json:"price_id"`
	ProductID       string          `json:"product_id"`
	PlanName        string          `json:"plan_name"`
	Description     string          `json:"description,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Interval        string          `json:"interval,omitempty"`
	FormattedAmount string          `json:"formatted_amount"`
}
