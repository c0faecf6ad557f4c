package onboarding

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kitchenops/kitchenops-backend/internal/billing/billingtest"
	"github.com/kitchenops/kitchenops-backend/internal/identity"
	"github.com/kitchenops/kitchenops-backend/internal/identity/identitytest"
	dbpkg "github.com/kitchenops/kitchenops-backend/pkg/db"
	"github.com/kitchenops/kitchenops-backend/pkg/db/dbtest"
	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
	"github.com/kitchenops/kitchenops-backend/pkg/outbox"
	"github.com/kitchenops/kitchenops-backend/pkg/outbox/payloads"
)

type published struct {
	eventType string
	version   int
	data      []byte
}

type fakePublisher struct {
	err      error
	messages []published
}

func (p *fakePublisher) PublishLifecycle(_ context.Context, eventType string, version int, data []byte) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, published{eventType: eventType, version: version, data: data})
	return "msg-1", nil
}

type handlerFixture struct {
	client     *dbpkg.Client
	identity   *identitytest.Provider
	gateway    *billingtest.Gateway
	publisher  *fakePublisher
	dispatcher *outbox.Dispatcher
	events     *outbox.Service
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	client := dbtest.Open(t)
	f := &handlerFixture{
		client:    client,
		identity:  identitytest.NewProvider(),
		gateway:   billingtest.NewGateway(),
		publisher: &fakePublisher{},
	}
	repo := outbox.NewRepository(client.DB())
	f.events = outbox.NewService(repo, logger.Nop())
	dispatcher, err := outbox.NewDispatcher(outbox.DispatcherParams{
		DB:          client,
		Repo:        repo,
		Logger:      logger.Nop(),
		MaxAttempts: 3,
	})
	require.NoError(t, err)
	handlers, err := NewHandlers(HandlerParams{
		Identity:          f.identity,
		Gateway:           f.gateway,
		Publisher:         f.publisher,
		Logger:            logger.Nop(),
		MagicLinkRedirect: "https://app.example.com/welcome",
	})
	require.NoError(t, err)
	handlers.Register(dispatcher)
	f.dispatcher = dispatcher
	return f
}

func (f *handlerFixture) emit(t *testing.T, event outbox.DomainEvent) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		return f.events.Emit(ctx, tx, event)
	}))
}

func (f *handlerFixture) dispatch(t *testing.T) outbox.BatchResult {
	t.Helper()
	result, err := f.dispatcher.DispatchBatch(context.Background())
	require.NoError(t, err)
	return result
}

func activated(email string) outbox.DomainEvent {
	membershipID := uuid.New()
	return outbox.DomainEvent{
		EventType:     enums.EventTenantActivated,
		AggregateType: enums.AggregateMembership,
		AggregateID:   membershipID,
		Data: payloads.TenantActivatedEvent{
			UserID:       uuid.New(),
			CompanyID:    uuid.New(),
			MembershipID: membershipID,
			Email:        email,
			CompanyName:  "Bistro",
		},
	}
}

func TestHandleTenantActivated_SendsLinkAndPublishes(t *testing.T) {
	f := newHandlerFixture(t)
	f.emit(t, activated("Owner@Example.com"))

	result := f.dispatch(t)
	assert.Equal(t, 1, result.Published)
	assert.Equal(t, 1, f.identity.MagicLinkCount("owner@example.com"))
	require.Len(t, f.publisher.messages, 1)
	assert.Equal(t, string(enums.EventTenantActivated), f.publisher.messages[0].eventType)
	assert.Equal(t, 1, f.publisher.messages[0].version)
	assert.Contains(t, string(f.publisher.messages[0].data), "Owner@Example.com")
}

func TestHandleTenantActivated_RetriesWhenIdentityFails(t *testing.T) {
	f := newHandlerFixture(t)
	f.emit(t, activated("owner@example.com"))
	f.identity.MagicLinkErr = errors.New("identity down")

	result := f.dispatch(t)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, f.publisher.messages)

	f.identity.MagicLinkErr = nil
	result = f.dispatch(t)
	assert.Equal(t, 1, result.Published)
	assert.Equal(t, 1, f.identity.MagicLinkCount("owner@example.com"))
}

func TestHandleTenantActivated_RejectedEmailIsTerminal(t *testing.T) {
	f := newHandlerFixture(t)
	f.emit(t, activated("owner@example.com"))
	f.identity.MagicLinkErr = identity.ErrInvalidEmail

	result := f.dispatch(t)
	assert.Equal(t, 1, result.Terminal)
}

func TestHandleTenantActivated_PublishFailureDoesNotRetry(t *testing.T) {
	f := newHandlerFixture(t)
	f.emit(t, activated("owner@example.com"))
	f.publisher.err = errors.New("pubsub unavailable")

	result := f.dispatch(t)
	assert.Equal(t, 1, result.Published)
	assert.Equal(t, 1, f.identity.MagicLinkCount("owner@example.com"))
}

type pendingTenant struct {
	user       *models.User
	company    *models.Company
	membership *models.Membership
}

func seedPendingTenant(t *testing.T, db *gorm.DB, status enums.CompanyStatus) pendingTenant {
	t.Helper()
	company := dbtest.SeedCompany(t, db, "Bistro", status)
	user := dbtest.SeedUser(t, db, "owner@example.com")
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", false).Error)
	membership := dbtest.SeedMembership(t, db, company.ID, user.ID, enums.MemberRoleOwner)
	return pendingTenant{user: user, company: company, membership: membership}
}

func compensation(p pendingTenant, customerID string) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventTenantCompensationRequested,
		AggregateType: enums.AggregateCompany,
		AggregateID:   p.company.ID,
		Data: payloads.TenantCompensationRequestedEvent{
			UserID:           p.user.ID,
			CompanyID:        p.company.ID,
			MembershipID:     p.membership.ID,
			StripeCustomerID: customerID,
			Reason:           "create subscription: stripe down",
		},
	}
}

func TestHandleCompensation_RemovesTenantAndCustomer(t *testing.T) {
	f := newHandlerFixture(t)
	db := f.client.DB()
	tenant := seedPendingTenant(t, db, enums.CompanyStatusPending)
	f.emit(t, compensation(tenant, "cus_9"))

	result := f.dispatch(t)
	assert.Equal(t, 1, result.Published)
	assert.Zero(t, countRows(t, f.client.DB(), &models.Company{}))
	assert.Zero(t, countRows(t, f.client.DB(), &models.Membership{}))
	assert.Zero(t, countRows(t, f.client.DB(), &models.User{}))
	assert.Equal(t, []string{"cus_9"}, f.gateway.DeletedCustomers)
}

func TestHandleCompensation_LeavesActiveCompany(t *testing.T) {
	f := newHandlerFixture(t)
	tenant := seedPendingTenant(t, f.client.DB(), enums.CompanyStatusActive)
	f.emit(t, compensation(tenant, "cus_9"))

	result := f.dispatch(t)
	assert.Equal(t, 1, result.Published)
	assert.EqualValues(t, 1, countRows(t, f.client.DB(), &models.Company{}))
	assert.EqualValues(t, 1, countRows(t, f.client.DB(), &models.Membership{}))
	assert.Empty(t, f.gateway.DeletedCustomers)
}

func TestHandleCompensation_RetriesCustomerDeletion(t *testing.T) {
	f := newHandlerFixture(t)
	tenant := seedPendingTenant(t, f.client.DB(), enums.CompanyStatusPending)
	f.emit(t, compensation(tenant, "cus_9"))
	f.gateway.DeleteCustomerErr = errors.New("stripe down")

	result := f.dispatch(t)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, countRows(t, f.client.DB(), &models.Company{}))

	f.gateway.DeleteCustomerErr = nil
	result = f.dispatch(t)
	assert.Equal(t, 1, result.Published)
	assert.Equal(t, []string{"cus_9"}, f.gateway.DeletedCustomers)
}
