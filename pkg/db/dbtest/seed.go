package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

// SeedUser inserts an active user.
func SeedUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	externalID := "auth-" + uuid.NewString()
	user := &models.User{
		ExternalAuthID: &externalID,
		Email:          email,
		FirstName:      "Test",
		LastName:       "User",
		IsActive:       true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// SeedCompany inserts a company with the given status.
func SeedCompany(t *testing.T, db *gorm.DB, name string, status enums.CompanyStatus) *models.Company {
	t.Helper()
	company := &models.Company{
		Name:               name,
		RegistrationNumber: "REG-" + uuid.NewString()[:8],
		Status:             status,
	}
	require.NoError(t, db.Create(company).Error)
	return company
}

// SeedMembership inserts an ACTIVE membership.
func SeedMembership(t *testing.T, db *gorm.DB, companyID, userID uuid.UUID, role enums.MemberRole) *models.Membership {
	t.Helper()
	membership := &models.Membership{
		CompanyID: companyID,
		UserID:    userID,
		Role:      role,
		Status:    enums.MembershipStatusActive,
	}
	require.NoError(t, db.Create(membership).Error)
	return membership
}

// SeedSubscription inserts a subscription mirror for the company.
func SeedSubscription(t *testing.T, db *gorm.DB, companyID uuid.UUID, stripeID string, status enums.SubscriptionStatus, cancelAtPeriodEnd bool) *models.Subscription {
	t.Helper()
	now := time.Now().UTC()
	sub := &models.Subscription{
		CompanyID:            companyID,
		StripeSubscriptionID: stripeID,
		StripeCustomerID:     "cus_" + stripeID,
		Status:               status,
		CurrentPeriodStart:   now,
		CurrentPeriodEnd:     now.AddDate(0, 1, 0),
		CancelAtPeriodEnd:    cancelAtPeriodEnd,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}
