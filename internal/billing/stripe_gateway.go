package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/kitchenops/kitchenops-backend/pkg/enums"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

// stripeAPI is the subset of stripe-go calls used by the gateway.
type stripeAPI interface {
	NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error)
	DeleteCustomer(id string, params *stripe.CustomerParams) (*stripe.Customer, error)
	NewSubscription(params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	GetSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	GetPrice(id string, params *stripe.PriceParams) (*stripe.Price, error)
	GetProduct(id string, params *stripe.ProductParams) (*stripe.Product, error)
	NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

type packageAPI struct{}

func (packageAPI) NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return customer.New(params)
}

func (packageAPI) DeleteCustomer(id string, params *stripe.CustomerParams) (*stripe.Customer, error) {
	return customer.Del(id, params)
}

func (packageAPI) NewSubscription(params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return subscription.New(params)
}

func (packageAPI) GetSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return subscription.Get(id, params)
}

func (packageAPI) UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return subscription.Update(id, params)
}

func (packageAPI) GetPrice(id string, params *stripe.PriceParams) (*stripe.Price, error) {
	return price.Get(id, params)
}

func (packageAPI) GetProduct(id string, params *stripe.ProductParams) (*stripe.Product, error) {
	return product.Get(id, params)
}

func (packageAPI) NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return portalsession.New(params)
}

type StripeGatewayParams struct {
	Logger      *logger.Logger
	CallTimeout time.Duration
	MaxRetries  uint
}

// StripeGateway implements Gateway on top of stripe-go. The api key is installed
// process-wide by pkg/stripe.NewClient.
type StripeGateway struct {
	api         stripeAPI
	logg        *logger.Logger
	callTimeout time.Duration
	maxRetries  uint
	newBackOff  func() backoff.BackOff
}

func NewStripeGateway(params StripeGatewayParams) (*StripeGateway, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return newStripeGateway(packageAPI{}, params), nil
}

func newStripeGateway(api stripeAPI, params StripeGatewayParams) *StripeGateway {
	if params.CallTimeout <= 0 {
		params.CallTimeout = 15 * time.Second
	}
	if params.MaxRetries == 0 {
		params.MaxRetries = 3
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	return &StripeGateway{
		api:         api,
		logg:        params.Logger,
		callTimeout: params.CallTimeout,
		maxRetries:  params.MaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, name, email string, metadata map[string]string) (string, error) {
	key := idempotencyKey("create-customer", metadata)
	cust, err := call(ctx, g, "create customer", func(ctx context.Context) (*stripe.Customer, error) {
		params := &stripe.CustomerParams{
			Name:     stripe.String(name),
			Email:    stripe.String(email),
			Metadata: metadata,
		}
		params.Context = ctx
		params.SetIdempotencyKey(key)
		return g.api.NewCustomer(params)
	})
	if err != nil {
		return "", err
	}
	return cust.ID, nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (*SubscriptionResult, error) {
	key := idempotencyKey("create-subscription:"+customerID, metadata)
	sub, err := call(ctx, g, "create subscription", func(ctx context.Context) (*stripe.Subscription, error) {
		params := &stripe.SubscriptionParams{
			Customer:        stripe.String(customerID),
			Items:           []*stripe.SubscriptionItemsParams{{Price: stripe.String(priceID)}},
			PaymentBehavior: stripe.String("default_incomplete"),
			PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
				SaveDefaultPaymentMethod: stripe.String("on_subscription"),
			},
			Metadata: metadata,
		}
		params.Context = ctx
		params.SetIdempotencyKey(key)
		params.AddExpand("latest_invoice.confirmation_secret")
		return g.api.NewSubscription(params)
	})
	if err != nil {
		return nil, err
	}
	state := subscriptionState(sub)
	result := &SubscriptionResult{
		ID:                 state.ID,
		CustomerID:         state.CustomerID,
		Status:             state.Status,
		CurrentPeriodStart: state.CurrentPeriodStart,
		CurrentPeriodEnd:   state.CurrentPeriodEnd,
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.ConfirmationSecret != nil {
		result.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
	}
	if result.CustomerID == "" {
		result.CustomerID = customerID
	}
	return result, nil
}

func (g *StripeGateway) GetPlanInfo(ctx context.Context, priceID, productID, locale string) (*PlanInfo, error) {
	pr, err := call(ctx, g, "get price", func(ctx context.Context) (*stripe.Price, error) {
		params := &stripe.PriceParams{}
		params.Context = ctx
		return g.api.GetPrice(priceID, params)
	})
	if err != nil {
		return nil, err
	}
	if productID == "" && pr.Product != nil {
		productID = pr.Product.ID
	}
	prod, err := call(ctx, g, "get product", func(ctx context.Context) (*stripe.Product, error) {
		params := &stripe.ProductParams{}
		params.Context = ctx
		return g.api.GetProduct(productID, params)
	})
	if err != nil {
		return nil, err
	}

	currencyCode := string(pr.Currency)
	amount := MinorToMajor(pr.UnitAmount, currencyCode)
	info := &PlanInfo{
		PriceID:         pr.ID,
		ProductID:       prod.ID,
		PlanName:        prod.Name,
		Description:     prod.Description,
		Amount:          amount,
		Currency:        currencyCode,
		FormattedAmount: FormatAmount(amount, currencyCode, locale),
	}
	if pr.Recurring != nil {
		info.Interval = string(pr.Recurring.Interval)
	}
	return info, nil
}

func (g *StripeGateway) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	session, err := call(ctx, g, "create portal session", func(ctx context.Context) (*stripe.BillingPortalSession, error) {
		params := &stripe.BillingPortalSessionParams{
			Customer:  stripe.String(customerID),
			ReturnURL: stripe.String(returnURL),
		}
		params.Context = ctx
		return g.api.NewPortalSession(params)
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

func (g *StripeGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionState, error) {
	sub, err := call(ctx, g, "retrieve subscription", func(ctx context.Context) (*stripe.Subscription, error) {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		return g.api.GetSubscription(subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}
	return subscriptionState(sub), nil
}

func (g *StripeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*SubscriptionState, error) {
	sub, err := call(ctx, g, "cancel subscription", func(ctx context.Context) (*stripe.Subscription, error) {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		params.Context = ctx
		return g.api.UpdateSubscription(subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}
	return subscriptionState(sub), nil
}

func (g *StripeGateway) DeleteCustomer(ctx context.Context, customerID string) error {
	_, err := call(ctx, g, "delete customer", func(ctx context.Context) (*stripe.Customer, error) {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		cust, err := g.api.DeleteCustomer(customerID, params)
		if isStripeNotFound(err) {
			return &stripe.Customer{ID: customerID, Deleted: true}, nil
		}
		return cust, err
	})
	return err
}

// idempotencyKey names one logical create so that retried attempts cannot
// create a second object. Signup calls are keyed by their membership.
func idempotencyKey(operation string, metadata map[string]string) string {
	if id := metadata[MetadataMembershipID]; id != "" {
		return "kitchenops:" + operation + ":" + id
	}
	return "kitchenops:" + operation + ":" + uuid.NewString()
}

// call runs op under the per-call timeout and retries transient processor errors.
func call[T any](ctx context.Context, g *StripeGateway, name string, op func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	attempt := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if !isRetryable(err) {
			return out, backoff.Permanent(err)
		}
		g.logg.Warn(ctx, fmt.Sprintf("stripe %s attempt %d failed: %v", name, attempt, err))
		return out, err
	},
		backoff.WithBackOff(g.newBackOff()),
		backoff.WithMaxTries(g.maxRetries),
	)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("stripe %s: %w", name, err)
	}
	return result, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return true
}

func isStripeNotFound(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound
}

func subscriptionState(sub *stripe.Subscription) *SubscriptionState {
	if sub == nil {
		return &SubscriptionState{}
	}
	state := &SubscriptionState{
		ID:                sub.ID,
		Status:            enums.SubscriptionStatus(sub.Status),
		Metadata:          sub.Metadata,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		state.CustomerID = sub.Customer.ID
	}
	if sub.CanceledAt > 0 {
		canceledAt := time.Unix(sub.CanceledAt, 0).UTC()
		state.CanceledAt = &canceledAt
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		if item.CurrentPeriodStart > 0 {
			state.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		}
		if item.CurrentPeriodEnd > 0 {
			state.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
		if item.Price != nil {
			state.PriceID = item.Price.ID
		}
	}
	return state
}

// SubscriptionStateFromStripe maps a processor subscription embedded in an event.
func SubscriptionStateFromStripe(sub *stripe.Subscription) *SubscriptionState {
	return subscriptionState(sub)
}
