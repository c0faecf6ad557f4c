package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/pkg/enums"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
)

type companyLookup interface {
	BillingCustomerID(ctx context.Context, companyID uuid.UUID) (string, error)
}

type roleChecker interface {
	UserHasRole(ctx context.Context, userID, companyID uuid.UUID, roles ...enums.MemberRole) (bool, error)
}

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo            Repository
	Gateway         Gateway
	Companies       companyLookup
	Roles           roleChecker
	PortalReturnURL string
}

// Service serves plan display data and billing portal sessions.
type Service struct {
	repo            Repository
	gateway         Gateway
	companies       companyLookup
	roles           roleChecker
	portalReturnURL string
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if params.Companies == nil {
		return nil, errors.New("company lookup is required")
	}
	if params.Roles == nil {
		return nil, errors.New("role checker is required")
	}
	return &Service{
		repo:            params.Repo,
		gateway:         params.Gateway,
		companies:       params.Companies,
		roles:           params.Roles,
		portalReturnURL: params.PortalReturnURL,
	}, nil
}

// GetPlanInfo returns processor pricing with the local translation applied when one exists.
func (s *Service) GetPlanInfo(ctx context.Context, priceID, locale string) (*PlanInfo, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price id is required")
	}

	plan, err := s.repo.FindPlanByPriceID(ctx, priceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	productID := ""
	if plan != nil {
		productID = plan.StripeProductID
	}

	info, err := s.gateway.GetPlanInfo(ctx, priceID, productID, locale)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch plan from billing provider")
	}
	if plan != nil {
		if translation, ok := plan.Translation(BaseLocale(locale)); ok && translation.Name != "" {
			info.PlanName = translation.Name
			if translation.Description != "" {
				info.Description = translation.Description
			}
		}
	}
	return info, nil
}

// CreatePortalSession opens a self-service billing portal for an owner or admin.
func (s *Service) CreatePortalSession(ctx context.Context, userID, companyID uuid.UUID) (string, error) {
	allowed, err := s.roles.UserHasRole(ctx, userID, companyID, enums.MemberRoleOwner, enums.MemberRoleAdmin)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check membership")
	}
	if !allowed {
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "only owners and admins can manage billing")
	}

	customerID, err := s.companies.BillingCustomerID(ctx, companyID)
	if err != nil {
		return "", err
	}
	if customerID == "" {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "company has no billing customer")
	}

	url, err := s.gateway.CreateBillingPortalSession(ctx, customerID, s.portalReturnURL)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create billing portal session")
	}
	return url, nil
}
