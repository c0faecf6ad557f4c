// Package accounts decides whether a user may delete their account and performs the deletion.
package accounts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kitchenops/kitchenops-backend/internal/billing"
	"github.com/kitchenops/kitchenops-backend/internal/companies"
	"github.com/kitchenops/kitchenops-backend/internal/identity"
	"github.com/kitchenops/kitchenops-backend/internal/memberships"
	"github.com/kitchenops/kitchenops-backend/internal/users"
	dbpkg "github.com/kitchenops/kitchenops-backend/pkg/db"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

const (
	reasonActiveSubscription = "sole owner of a company with an active subscription"
	reasonSoleOwner          = "sole owner of a company; transfer ownership to keep it managed"
)

// BlockingCompany is a company that would be left without an owner.
// HasActiveSubscription marks the ones that block deletion.
type BlockingCompany struct {
	ID                    uuid.UUID `json:"id"`
	Name                  string    `json:"name"`
	HasActiveSubscription bool      `json:"hasActiveSubscription"`
}

// EligibilityResult tells the caller whether deletion may proceed and which
// remediation applies otherwise.
type EligibilityResult struct {
	Eligible             bool              `json:"eligible"`
	RequiresTransfer     bool              `json:"requiresTransfer"`
	RequiresCancellation bool              `json:"requiresCancellation"`
	Companies            []BlockingCompany `json:"companies"`
	Reason               string            `json:"reason,omitempty"`
}

type database interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	DB       database
	Identity identity.Provider
	Logger   *logger.Logger
}

type Service struct {
	db       database
	identity identity.Provider
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Identity == nil {
		return nil, errors.New("identity provider is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{db: params.DB, identity: params.Identity, logg: params.Logger}, nil
}

// CheckEligibility reports whether the user can be deleted without leaving a
// company ownerless.
func (s *Service) CheckEligibility(ctx context.Context, userID uuid.UUID) (*EligibilityResult, error) {
	conn := s.db.DB()
	if _, err := users.NewRepository(conn).FindByID(ctx, userID); err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	return evaluate(ctx, conn, userID)
}

// RequestDeletion re-checks eligibility and deletes the user with their
// memberships. Signing out the external session is best effort.
func (s *Service) RequestDeletion(ctx context.Context, userID uuid.UUID) error {
	ctx = s.logg.WithUserID(ctx, userID.String())

	var externalID *string
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		userRepo := users.NewRepository(tx)
		user, err := userRepo.FindByIDForUpdate(ctx, userID)
		if err != nil {
			if dbpkg.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
		}

		result, err := evaluate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !result.Eligible {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "account cannot be deleted yet").WithDetails(result)
		}

		if _, err := memberships.NewRepository(tx).DeleteByUser(ctx, userID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete memberships")
		}
		if _, err := userRepo.Delete(ctx, userID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete user")
		}
		externalID = user.ExternalAuthID
		return nil
	})
	if err != nil {
		return err
	}

	if externalID != nil && *externalID != "" {
		if err := s.identity.SignOut(ctx, *externalID); err != nil {
			s.logg.Error(ctx, "sign out after account deletion failed", err)
		}
	}
	s.logg.Info(ctx, "user account deleted")
	return nil
}

func evaluate(ctx context.Context, conn *gorm.DB, userID uuid.UUID) (*EligibilityResult, error) {
	membershipRepo := memberships.NewRepository(conn)
	result := &EligibilityResult{Eligible: true, Companies: []BlockingCompany{}}

	owned, err := membershipRepo.ListOwnedCompanyIDs(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list owned companies")
	}

	var soleOwned []uuid.UUID
	for _, companyID := range owned {
		others, err := membershipRepo.CountOtherOwners(ctx, companyID, userID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count owners")
		}
		if others == 0 {
			soleOwned = append(soleOwned, companyID)
		}
	}
	if len(soleOwned) == 0 {
		return result, nil
	}

	companyRows, err := companies.NewRepository(conn).FindByIDs(ctx, soleOwned)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load companies")
	}
	names := make(map[uuid.UUID]string, len(companyRows))
	for _, c := range companyRows {
		names[c.ID] = c.Name
	}

	subs, err := billing.NewRepository(conn).ListSubscriptionsByCompanies(ctx, soleOwned)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscriptions")
	}
	blocking := make(map[uuid.UUID]bool, len(subs))
	for _, sub := range subs {
		if sub.BlocksOwnerDeletion() {
			blocking[sub.CompanyID] = true
		}
	}

	for _, companyID := range soleOwned {
		active := blocking[companyID]
		result.Companies = append(result.Companies, BlockingCompany{
			ID:                    companyID,
			Name:                  names[companyID],
			HasActiveSubscription: active,
		})
		if active {
			result.RequiresCancellation = true
		}
	}
	result.RequiresTransfer = true

	// Only a live, renewing subscription blocks. Other sole-owned companies
	// are listed so the caller can offer a transfer.
	result.Eligible = !result.RequiresCancellation
	result.Reason = reasonSoleOwner
	if result.RequiresCancellation {
		result.Reason = reasonActiveSubscription
	}
	return result, nil
}
