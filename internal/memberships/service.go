package memberships

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kitchenops/kitchenops-backend/internal/billing"
	dbpkg "github.com/kitchenops/kitchenops-backend/pkg/db"
	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

const defaultGatewayTimeout = 20 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups the membership service dependencies.
type ServiceParams struct {
	DB             txRunner
	Repo           *Repository
	BillingRepo    billing.Repository
	Gateway        billing.Gateway
	Logger         *logger.Logger
	GatewayTimeout time.Duration
}

// Service enforces company role rules.
type Service struct {
	db             txRunner
	repo           *Repository
	billingRepo    billing.Repository
	gateway        billing.Gateway
	logg           *logger.Logger
	gatewayTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Repo == nil {
		return nil, errors.New("membership repo is required")
	}
	if params.BillingRepo == nil {
		return nil, errors.New("billing repo is required")
	}
	if params.Gateway == nil {
		return nil, errors.New("billing gateway is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.GatewayTimeout <= 0 {
		params.GatewayTimeout = defaultGatewayTimeout
	}
	return &Service{
		db:             params.DB,
		repo:           params.Repo,
		billingRepo:    params.BillingRepo,
		gateway:        params.Gateway,
		logg:           params.Logger,
		gatewayTimeout: params.GatewayTimeout,
	}, nil
}

// TransferOwnership demotes fromUserID to USER and promotes toUserID to OWNER
// in a single transaction.
func (s *Service) TransferOwnership(ctx context.Context, companyID, fromUserID, toUserID uuid.UUID) error {
	if fromUserID == toUserID {
		return pkgerrors.New(pkgerrors.CodeValidation, "cannot transfer ownership to self")
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		// Lock in a stable order so two opposite transfers cannot deadlock.
		first, second := fromUserID, toUserID
		if second.String() < first.String() {
			first, second = second, first
		}
		locked := map[uuid.UUID]*models.Membership{}
		for _, userID := range []uuid.UUID{first, second} {
			m, err := repo.GetMembershipForUpdate(ctx, companyID, userID)
			if err != nil {
				if dbpkg.IsNotFound(err) {
					continue
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load membership")
			}
			locked[userID] = m
		}

		from := locked[fromUserID]
		if from == nil || from.Role != enums.MemberRoleOwner {
			return pkgerrors.New(pkgerrors.CodeNotFound, "owner membership not found")
		}
		to := locked[toUserID]
		if to == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "recipient is not a member of the company")
		}

		if err := repo.UpdateRole(ctx, from.ID, enums.MemberRoleUser); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "demote owner")
		}
		if err := repo.UpdateRole(ctx, to.ID, enums.MemberRoleOwner); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "promote recipient")
		}
		if to.Status != enums.MembershipStatusActive {
			if err := repo.Activate(ctx, to.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "activate recipient")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"company_id": companyID.String(),
		"from_user":  fromUserID.String(),
		"to_user":    toUserID.String(),
	}), "company ownership transferred")
	return nil
}

// GetOwners returns every owner of the company.
func (s *Service) GetOwners(ctx context.Context, companyID uuid.UUID) ([]MembershipDTO, error) {
	rows, err := s.repo.ListOwners(ctx, companyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list owners")
	}
	return toDTOs(rows), nil
}

func (s *Service) ListCompanyMembers(ctx context.Context, companyID uuid.UUID) ([]CompanyMemberDTO, error) {
	rows, err := s.repo.ListCompanyMembers(ctx, companyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list company members")
	}
	return rows, nil
}

func (s *Service) ListUserCompanies(ctx context.Context, userID uuid.UUID) ([]MembershipWithCompany, error) {
	rows, err := s.repo.ListUserCompanies(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list user companies")
	}
	return rows, nil
}

// IsMember reports whether the user holds any role in the company.
func (s *Service) IsMember(ctx context.Context, userID, companyID uuid.UUID) (bool, error) {
	return s.HasRole(ctx, userID, companyID, enums.MemberRoleOwner, enums.MemberRoleAdmin, enums.MemberRoleUser)
}

// HasRole reports whether the user holds one of roles in the company.
func (s *Service) HasRole(ctx context.Context, userID, companyID uuid.UUID, roles ...enums.MemberRole) (bool, error) {
	ok, err := s.repo.UserHasRole(ctx, userID, companyID, roles...)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check membership role")
	}
	return ok, nil
}

// CancelSubscriptionForUser schedules the company subscription to end at the
// close of the current period. Only an owner may do this.
func (s *Service) CancelSubscriptionForUser(ctx context.Context, userID, companyID uuid.UUID) (*billing.SubscriptionDTO, error) {
	isOwner, err := s.HasRole(ctx, userID, companyID, enums.MemberRoleOwner)
	if err != nil {
		return nil, err
	}
	if !isOwner {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only an owner can cancel the subscription")
	}

	sub, err := s.billingRepo.FindSubscriptionByCompany(ctx, companyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"company_id":      companyID.String(),
		"user_id":         userID.String(),
		"subscription_id": sub.StripeSubscriptionID,
	})

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	state, err := s.gateway.CancelAtPeriodEnd(callCtx, sub.StripeSubscriptionID)
	cancel()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
	}

	var updated *models.Subscription
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		row, err := repo.FindSubscriptionByCompanyForUpdate(ctx, companyID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock subscription")
		}
		if row == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if state.Status.IsValid() {
			row.Status = state.Status
		}
		row.CancelAtPeriodEnd = state.CancelAtPeriodEnd
		row.CanceledAt = state.CanceledAt
		if err := repo.UpdateSubscription(ctx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mirror cancellation")
		}
		updated = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(ctx, "subscription set to cancel at period end")
	return billing.SubscriptionFromModel(updated), nil
}
