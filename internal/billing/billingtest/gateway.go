// Package billingtest provides an in-memory billing.Gateway for tests.
package billingtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kitchenops/kitchenops-backend/internal/billing"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

// Gateway records calls and serves subscriptions from memory. Any *Err field
// makes the matching call fail.
type Gateway struct {
	mu sync.Mutex

	CreateCustomerErr     error
	CreateSubscriptionErr error
	RetrieveErr           error
	CancelErr             error
	DeleteCustomerErr     error
	PortalErr             error
	PlanInfoErr           error

	// InitialStatus is the status of new subscriptions; defaults to incomplete.
	InitialStatus enums.SubscriptionStatus
	PlanInfo      *billing.PlanInfo
	PortalURL     string

	Customers        map[string]string
	DeletedCustomers []string
	Subscriptions    map[string]*billing.SubscriptionState
	Calls            []string

	seq int
}

func NewGateway() *Gateway {
	return &Gateway{
		Customers:     map[string]string{},
		Subscriptions: map[string]*billing.SubscriptionState{},
		PortalURL:     "https://billing.example.com/session",
	}
}

func (g *Gateway) record(call string) {
	g.Calls = append(g.Calls, call)
}

func (g *Gateway) CallCount(call string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.Calls {
		if c == call {
			n++
		}
	}
	return n
}

// PutSubscription seeds or replaces a processor subscription.
func (g *Gateway) PutSubscription(state billing.SubscriptionState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := state
	g.Subscriptions[state.ID] = &cp
}

func (g *Gateway) CreateCustomer(ctx context.Context, name, email string, _ map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("CreateCustomer")
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.CreateCustomerErr != nil {
		return "", g.CreateCustomerErr
	}
	g.seq++
	id := fmt.Sprintf("cus_%d", g.seq)
	g.Customers[id] = email
	return id, nil
}

func (g *Gateway) CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (*billing.SubscriptionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("CreateSubscription")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.CreateSubscriptionErr != nil {
		return nil, g.CreateSubscriptionErr
	}
	status := g.InitialStatus
	if status == "" {
		status = enums.SubscriptionStatusIncomplete
	}
	g.seq++
	id := fmt.Sprintf("sub_%d", g.seq)
	now := time.Now().UTC()
	g.Subscriptions[id] = &billing.SubscriptionState{
		ID:                 id,
		CustomerID:         customerID,
		PriceID:            priceID,
		Status:             status,
		Metadata:           metadata,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	return &billing.SubscriptionResult{
		ID:           id,
		CustomerID:   customerID,
		Status:       status,
		ClientSecret: "pi_secret_" + id,
	}, nil
}

func (g *Gateway) GetPlanInfo(_ context.Context, priceID, productID, locale string) (*billing.PlanInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("GetPlanInfo")
	if g.PlanInfoErr != nil {
		return nil, g.PlanInfoErr
	}
	if g.PlanInfo != nil {
		info := *g.PlanInfo
		return &info, nil
	}
	return &billing.PlanInfo{PriceID: priceID, ProductID: productID, PlanName: "Standard"}, nil
}

func (g *Gateway) CreateBillingPortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("CreateBillingPortalSession")
	if g.PortalErr != nil {
		return "", g.PortalErr
	}
	return g.PortalURL + "?customer=" + customerID, nil
}

func (g *Gateway) RetrieveSubscription(_ context.Context, subscriptionID string) (*billing.SubscriptionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("RetrieveSubscription")
	if g.RetrieveErr != nil {
		return nil, g.RetrieveErr
	}
	state, ok := g.Subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", subscriptionID)
	}
	cp := *state
	return &cp, nil
}

func (g *Gateway) CancelAtPeriodEnd(_ context.Context, subscriptionID string) (*billing.SubscriptionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("CancelAtPeriodEnd")
	if g.CancelErr != nil {
		return nil, g.CancelErr
	}
	state, ok := g.Subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", subscriptionID)
	}
	now := time.Now().UTC()
	state.CancelAtPeriodEnd = true
	state.CanceledAt = &now
	cp := *state
	return &cp, nil
}

func (g *Gateway) DeleteCustomer(_ context.Context, customerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("DeleteCustomer")
	if g.DeleteCustomerErr != nil {
		return g.DeleteCustomerErr
	}
	delete(g.Customers, customerID)
	g.DeletedCustomers = append(g.DeletedCustomers, customerID)
	return nil
}

var _ billing.Gateway = (*Gateway)(nil)
