package billing

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/kitchenops/kitchenops-backend/pkg/enums"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

type stubStripeAPI struct {
	customerErrs     []error
	customerKeys     []*string
	subscriptionKeys []*string
	subscriptionErrs []error
	subscription     *stripe.Subscription
	lastSubParams    *stripe.SubscriptionParams
	subCalls         int
	deleteErr        error
	price            *stripe.Price
	product          *stripe.Product
}

func (s *stubStripeAPI) NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	s.customerKeys = append(s.customerKeys, params.IdempotencyKey)
	if len(s.customerErrs) > 0 {
		err := s.customerErrs[0]
		s.customerErrs = s.customerErrs[1:]
		return nil, err
	}
	return &stripe.Customer{ID: "cus_1", Email: *params.Email}, nil
}

func (s *stubStripeAPI) DeleteCustomer(id string, _ *stripe.CustomerParams) (*stripe.Customer, error) {
	if s.deleteErr != nil {
		return nil, s.deleteErr
	}
	return &stripe.Customer{ID: id, Deleted: true}, nil
}

func (s *stubStripeAPI) NewSubscription(params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	s.subCalls++
	s.lastSubParams = params
	s.subscriptionKeys = append(s.subscriptionKeys, params.IdempotencyKey)
	if len(s.subscriptionErrs) > 0 {
		err := s.subscriptionErrs[0]
		s.subscriptionErrs = s.subscriptionErrs[1:]
		return nil, err
	}
	return s.subscription, nil
}

func (s *stubStripeAPI) GetSubscription(string, *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return s.subscription, nil
}

func (s *stubStripeAPI) UpdateSubscription(_ string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	sub := *s.subscription
	sub.CancelAtPeriodEnd = *params.CancelAtPeriodEnd
	sub.CanceledAt = 1700000000
	return &sub, nil
}

func (s *stubStripeAPI) GetPrice(string, *stripe.PriceParams) (*stripe.Price, error) {
	return s.price, nil
}

func (s *stubStripeAPI) GetProduct(string, *stripe.ProductParams) (*stripe.Product, error) {
	return s.product, nil
}

func (s *stubStripeAPI) NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{URL: "https://portal/" + *params.Customer}, nil
}

func newTestGateway(api stripeAPI) *StripeGateway {
	g := newStripeGateway(api, StripeGatewayParams{Logger: logger.Nop(), CallTimeout: time.Second, MaxRetries: 3})
	g.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return g
}

func sampleSubscription() *stripe.Subscription {
	return &stripe.Subscription{
		ID:       "sub_1",
		Status:   stripe.SubscriptionStatusIncomplete,
		Customer: &stripe.Customer{ID: "cus_1"},
		Metadata: map[string]string{MetadataUserID: "u"},
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			CurrentPeriodStart: 1700000000,
			CurrentPeriodEnd:   1702592000,
			Price:              &stripe.Price{ID: "price_1"},
		}}},
		LatestInvoice: &stripe.Invoice{
			ConfirmationSecret: &stripe.InvoiceConfirmationSecret{ClientSecret: "pi_secret"},
		},
	}
}

func TestCreateSubscription_MapsResultAndRequestsIncompletePayment(t *testing.T) {
	api := &stubStripeAPI{subscription: sampleSubscription()}
	g := newTestGateway(api)

	result, err := g.CreateSubscription(context.Background(), "cus_1", "price_1", map[string]string{MetadataCompanyID: "c"})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", result.ID)
	assert.Equal(t, enums.SubscriptionStatusIncomplete, result.Status)
	assert.Equal(t, "pi_secret", result.ClientSecret)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), result.CurrentPeriodStart)

	require.NotNil(t, api.lastSubParams)
	assert.Equal(t, "default_incomplete", *api.lastSubParams.PaymentBehavior)
	assert.Equal(t, "c", api.lastSubParams.Metadata[MetadataCompanyID])
	assert.Contains(t, api.lastSubParams.Expand, stripe.String("latest_invoice.confirmation_secret"))
}

func TestCreateSubscription_RetriesTransientErrors(t *testing.T) {
	api := &stubStripeAPI{
		subscription: sampleSubscription(),
		subscriptionErrs: []error{
			&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests},
			&stripe.Error{HTTPStatusCode: http.StatusBadGateway},
		},
	}
	g := newTestGateway(api)

	_, err := g.CreateSubscription(context.Background(), "cus_1", "price_1", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, api.subCalls)
}

func TestCreateCustomer_ReusesIdempotencyKeyAcrossRetries(t *testing.T) {
	api := &stubStripeAPI{customerErrs: []error{&stripe.Error{HTTPStatusCode: http.StatusServiceUnavailable}}}
	g := newTestGateway(api)

	id, err := g.CreateCustomer(context.Background(), "Bistro", "owner@x.com", map[string]string{MetadataMembershipID: "m-1"})
	require.NoError(t, err)
	assert.Equal(t, "cus_1", id)

	require.Len(t, api.customerKeys, 2)
	require.NotNil(t, api.customerKeys[0])
	assert.Equal(t, "kitchenops:create-customer:m-1", *api.customerKeys[0])
	assert.Equal(t, api.customerKeys[0], api.customerKeys[1])
}

func TestCreateSubscription_ReusesIdempotencyKeyAcrossRetries(t *testing.T) {
	api := &stubStripeAPI{
		subscription:     sampleSubscription(),
		subscriptionErrs: []error{errors.New("connection reset")},
	}
	g := newTestGateway(api)

	_, err := g.CreateSubscription(context.Background(), "cus_1", "price_1", nil)
	require.NoError(t, err)

	require.Len(t, api.subscriptionKeys, 2)
	require.NotNil(t, api.subscriptionKeys[0])
	require.NotNil(t, api.subscriptionKeys[1])
	assert.Equal(t, *api.subscriptionKeys[0], *api.subscriptionKeys[1])
	assert.Contains(t, *api.subscriptionKeys[0], "create-subscription:cus_1")

	first := *api.subscriptionKeys[0]
	_, err = g.CreateSubscription(context.Background(), "cus_1", "price_1", nil)
	require.NoError(t, err)
	require.Len(t, api.subscriptionKeys, 3)
	assert.NotEqual(t, first, *api.subscriptionKeys[2], "separate calls get their own key")
}

func TestCreateSubscription_DoesNotRetryCardErrors(t *testing.T) {
	api := &stubStripeAPI{
		subscription:     sampleSubscription(),
		subscriptionErrs: []error{&stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Msg: "card declined"}},
	}
	g := newTestGateway(api)

	_, err := g.CreateSubscription(context.Background(), "cus_1", "price_1", nil)
	require.Error(t, err)
	assert.Equal(t, 1, api.subCalls)
	var stripeErr *stripe.Error
	assert.True(t, errors.As(err, &stripeErr))
}

func TestCreateSubscription_GivesUpAfterMaxTries(t *testing.T) {
	transient := &stripe.Error{HTTPStatusCode: http.StatusServiceUnavailable}
	api := &stubStripeAPI{subscriptionErrs: []error{transient, transient, transient, transient}}
	g := newTestGateway(api)

	_, err := g.CreateSubscription(context.Background(), "cus_1", "price_1", nil)
	require.Error(t, err)
	assert.Equal(t, 3, api.subCalls)
}

func TestCancelAtPeriodEnd_ReturnsMirroredState(t *testing.T) {
	api := &stubStripeAPI{subscription: sampleSubscription()}
	g := newTestGateway(api)

	state, err := g.CancelAtPeriodEnd(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.True(t, state.CancelAtPeriodEnd)
	require.NotNil(t, state.CanceledAt)
	assert.Equal(t, "cus_1", state.CustomerID)
	assert.Equal(t, "price_1", state.PriceID)
}

func TestDeleteCustomer_TreatsMissingAsDeleted(t *testing.T) {
	api := &stubStripeAPI{deleteErr: &stripe.Error{HTTPStatusCode: http.StatusNotFound}}
	g := newTestGateway(api)

	require.NoError(t, g.DeleteCustomer(context.Background(), "cus_gone"))
}

func TestGetPlanInfo_FormatsAmount(t *testing.T) {
	api := &stubStripeAPI{
		price: &stripe.Price{
			ID:         "price_1",
			UnitAmount: 4900,
			Currency:   stripe.CurrencyUSD,
			Product:    &stripe.Product{ID: "prod_1"},
			Recurring:  &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalMonth},
		},
		product: &stripe.Product{ID: "prod_1", Name: "Kitchen Pro"},
	}
	g := newTestGateway(api)

	info, err := g.GetPlanInfo(context.Background(), "price_1", "", "en-US")
	require.NoError(t, err)
	assert.Equal(t, "Kitchen Pro", info.PlanName)
	assert.Equal(t, "prod_1", info.ProductID)
	assert.Equal(t, "month", info.Interval)
	assert.Equal(t, "49", info.Amount.String())
	assert.Equal(t, "$49.00", info.FormattedAmount)
}
