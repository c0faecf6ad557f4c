package memberships_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchenops/kitchenops-backend/internal/billing"
	"github.com/kitchenops/kitchenops-backend/internal/billing/billingtest"
	"github.com/kitchenops/kitchenops-backend/internal/memberships"
	dbpkg "github.com/kitchenops/kitchenops-backend/pkg/db"
	"github.com/kitchenops/kitchenops-backend/pkg/db/dbtest"
	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

type fixture struct {
	client  *dbpkg.Client
	gateway *billingtest.Gateway
	svc     *memberships.Service

	company *models.Company
	owner   *models.User
	member  *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	gateway := billingtest.NewGateway()
	svc, err := memberships.NewService(memberships.ServiceParams{
		DB:          client,
		Repo:        memberships.NewRepository(client.DB()),
		BillingRepo: billing.NewRepository(client.DB()),
		Gateway:     gateway,
		Logger:      logger.Nop(),
	})
	require.NoError(t, err)

	db := client.DB()
	company := dbtest.SeedCompany(t, db, "Bistro", enums.CompanyStatusActive)
	owner := dbtest.SeedUser(t, db, "owner@x.com")
	member := dbtest.SeedUser(t, db, "cook@x.com")
	dbtest.SeedMembership(t, db, company.ID, owner.ID, enums.MemberRoleOwner)
	dbtest.SeedMembership(t, db, company.ID, member.ID, enums.MemberRoleUser)

	return &fixture{client: client, gateway: gateway, svc: svc, company: company, owner: owner, member: member}
}

func (f *fixture) role(t *testing.T, userID uuid.UUID) enums.MemberRole {
	t.Helper()
	var m models.Membership
	require.NoError(t, f.client.DB().First(&m, "company_id = ? AND user_id = ?", f.company.ID, userID).Error)
	return m.Role
}

func TestTransferOwnership_SwapsRolesAtomically(t *testing.T) {
	f := newFixture(t)

	err := f.svc.TransferOwnership(context.Background(), f.company.ID, f.owner.ID, f.member.ID)
	require.NoError(t, err)

	assert.Equal(t, enums.MemberRoleUser, f.role(t, f.owner.ID))
	assert.Equal(t, enums.MemberRoleOwner, f.role(t, f.member.ID))

	owners, err := f.svc.GetOwners(context.Background(), f.company.ID)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, f.member.ID, owners[0].UserID)
}

func TestTransferOwnership_ConcurrentReadersSeeOneOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	done := make(chan struct{})
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		observed []int
		readErr  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			owners, err := f.svc.GetOwners(ctx, f.company.ID)
			mu.Lock()
			if err != nil {
				readErr = err
				mu.Unlock()
				return
			}
			observed = append(observed, len(owners))
			mu.Unlock()
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	from, to := f.owner.ID, f.member.ID
	for i := 0; i < 20; i++ {
		require.NoError(t, f.svc.TransferOwnership(ctx, f.company.ID, from, to))
		from, to = to, from
	}
	close(done)
	wg.Wait()

	require.NoError(t, readErr)
	require.NotEmpty(t, observed)
	for _, n := range observed {
		assert.Equal(t, 1, n)
	}
	assert.Equal(t, enums.MemberRoleOwner, f.role(t, f.owner.ID))
}

func TestTransferOwnership_ToSelfIsRejectedWithoutChanges(t *testing.T) {
	f := newFixture(t)

	err := f.svc.TransferOwnership(context.Background(), f.company.ID, f.owner.ID, f.owner.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, enums.MemberRoleOwner, f.role(t, f.owner.ID))
}

func TestTransferOwnership_Preconditions(t *testing.T) {
	f := newFixture(t)
	outsider := dbtest.SeedUser(t, f.client.DB(), "outsider@x.com")

	tests := []struct {
		name     string
		from, to uuid.UUID
	}{
		{name: "from is not an owner", from: f.member.ID, to: f.owner.ID},
		{name: "from has no membership", from: outsider.ID, to: f.member.ID},
		{name: "recipient is not a member", from: f.owner.ID, to: outsider.ID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := f.svc.TransferOwnership(context.Background(), f.company.ID, tc.from, tc.to)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
			assert.Equal(t, enums.MemberRoleOwner, f.role(t, f.owner.ID))
			assert.Equal(t, enums.MemberRoleUser, f.role(t, f.member.ID))
		})
	}
}

func TestGetOwners_ReturnsEveryOwner(t *testing.T) {
	f := newFixture(t)
	second := dbtest.SeedUser(t, f.client.DB(), "partner@x.com")
	dbtest.SeedMembership(t, f.client.DB(), f.company.ID, second.ID, enums.MemberRoleOwner)

	owners, err := f.svc.GetOwners(context.Background(), f.company.ID)
	require.NoError(t, err)
	assert.Len(t, owners, 2)
}

func TestListCompanyMembersAndUserCompanies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	members, err := f.svc.ListCompanyMembers(ctx, f.company.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	emails := []string{members[0].Email, members[1].Email}
	assert.ElementsMatch(t, []string{"owner@x.com", "cook@x.com"}, emails)

	companies, err := f.svc.ListUserCompanies(ctx, f.member.ID)
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "Bistro", companies[0].CompanyName)
	assert.Equal(t, enums.MemberRoleUser, companies[0].Role)

	ok, err := f.svc.IsMember(ctx, f.member.ID, f.company.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCancelSubscriptionForUser_MirrorsProcessorState(t *testing.T) {
	f := newFixture(t)
	sub := dbtest.SeedSubscription(t, f.client.DB(), f.company.ID, "sub_1", enums.SubscriptionStatusActive, false)
	f.gateway.PutSubscription(billing.SubscriptionState{ID: "sub_1", Status: enums.SubscriptionStatusActive})

	dto, err := f.svc.CancelSubscriptionForUser(context.Background(), f.owner.ID, f.company.ID)
	require.NoError(t, err)
	assert.True(t, dto.CancelAtPeriodEnd)
	assert.NotNil(t, dto.CanceledAt)
	assert.Equal(t, enums.SubscriptionStatusActive, dto.Status)

	var stored models.Subscription
	require.NoError(t, f.client.DB().First(&stored, "id = ?", sub.ID).Error)
	assert.True(t, stored.CancelAtPeriodEnd)
	assert.NotNil(t, stored.CanceledAt)
}

func TestCancelSubscriptionForUser_RequiresOwner(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedSubscription(t, f.client.DB(), f.company.ID, "sub_1", enums.SubscriptionStatusActive, false)

	_, err := f.svc.CancelSubscriptionForUser(context.Background(), f.member.ID, f.company.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	assert.Zero(t, f.gateway.CallCount("CancelAtPeriodEnd"))
}

func TestCancelSubscriptionForUser_Failures(t *testing.T) {
	t.Run("no subscription", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CancelSubscriptionForUser(context.Background(), f.owner.ID, f.company.ID)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	})

	t.Run("gateway failure leaves row untouched", func(t *testing.T) {
		f := newFixture(t)
		sub := dbtest.SeedSubscription(t, f.client.DB(), f.company.ID, "sub_1", enums.SubscriptionStatusActive, false)
		f.gateway.CancelErr = errors.New("stripe down")

		_, err := f.svc.CancelSubscriptionForUser(context.Background(), f.owner.ID, f.company.ID)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

		var stored models.Subscription
		require.NoError(t, f.client.DB().First(&stored, "id = ?", sub.ID).Error)
		assert.False(t, stored.CancelAtPeriodEnd)
	})
}
