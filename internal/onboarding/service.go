package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/kitchenops/kitchenops-backend/internal/billing"
	"github.com/kitchenops/kitchenops-backend/internal/companies"
	"github.com/kitchenops/kitchenops-backend/internal/identity"
	"github.com/kitchenops/kitchenops-backend/internal/memberships"
	"github.com/kitchenops/kitchenops-backend/internal/users"
	dbpkg "github.com/kitchenops/kitchenops-backend/pkg/db"
	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
	"github.com/kitchenops/kitchenops-backend/pkg/outbox"
	"github.com/kitchenops/kitchenops-backend/pkg/outbox/payloads"
)

const defaultProvisionTimeout = 30 * time.Second

// CreateSubscriptionInput is the signup payload.
type CreateSubscriptionInput struct {
	Email              string  `json:"email" validate:"required,email"`
	FirstName          string  `json:"first_name" validate:"required,max=100"`
	LastName           string  `json:"last_name" validate:"required,max=100"`
	Phone              *string `json:"phone,omitempty" validate:"omitempty,max=32"`
	CompanyName        string  `json:"company_name" validate:"required,max=200"`
	RegistrationNumber string  `json:"registration_number" validate:"required,max=64"`
	PriceID            string  `json:"price_id,omitempty"`
}

// CreateSubscriptionResult carries the provisional tenant and the secret the
// client needs to confirm the first payment.
type CreateSubscriptionResult struct {
	User         *users.UserDTO             `json:"user"`
	Company      *companies.CompanyDTO      `json:"company"`
	Membership   *memberships.MembershipDTO `json:"membership"`
	Subscription *billing.SubscriptionDTO   `json:"subscription"`
	ClientSecret string                     `json:"client_secret,omitempty"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams groups the orchestrator dependencies.
type ServiceParams struct {
	DB               txRunner
	Gateway          billing.Gateway
	Identity         identity.Provider
	Outbox           eventEmitter
	Logger           *logger.Logger
	DefaultPriceID   string
	ProvisionTimeout time.Duration
}

// Service provisions a tenant and its processor subscription.
type Service struct {
	db               txRunner
	gateway          billing.Gateway
	identity         identity.Provider
	outbox           eventEmitter
	logg             *logger.Logger
	defaultPriceID   string
	provisionTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Gateway == nil {
		return nil, errors.New("billing gateway is required")
	}
	if params.Identity == nil {
		return nil, errors.New("identity provider is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.ProvisionTimeout <= 0 {
		params.ProvisionTimeout = defaultProvisionTimeout
	}
	return &Service{
		db:               params.DB,
		gateway:          params.Gateway,
		identity:         params.Identity,
		outbox:           params.Outbox,
		logg:             params.Logger,
		defaultPriceID:   strings.TrimSpace(params.DefaultPriceID),
		provisionTimeout: params.ProvisionTimeout,
	}, nil
}

type tenant struct {
	user       *models.User
	company    *models.Company
	membership *models.Membership
}

func (t tenant) metadata() map[string]string {
	return map[string]string{
		billing.MetadataUserID:       t.user.ID.String(),
		billing.MetadataCompanyID:    t.company.ID.String(),
		billing.MetadataMembershipID: t.membership.ID.String(),
	}
}

// CreateSubscription creates the identity, the pending tenant rows and the
// processor subscription. A provisioning failure removes the tenant rows again.
func (s *Service) CreateSubscription(ctx context.Context, input CreateSubscriptionInput) (*CreateSubscriptionResult, error) {
	email := users.NormalizeEmail(input.Email)
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if strings.TrimSpace(input.CompanyName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company name is required")
	}
	priceID := strings.TrimSpace(input.PriceID)
	if priceID == "" {
		priceID = s.defaultPriceID
	}
	if priceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price id is required")
	}

	identityResult, err := s.identity.CreateIdentity(ctx, email, map[string]string{
		"first_name": input.FirstName,
		"last_name":  input.LastName,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create identity")
	}

	t, err := s.createTenant(ctx, email, input, identityResult)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":       t.user.ID.String(),
		"company_id":    t.company.ID.String(),
		"membership_id": t.membership.ID.String(),
	})

	sub, clientSecret, customerID, err := s.provision(ctx, t, email, priceID)
	if err != nil {
		s.logg.Error(ctx, "billing provisioning failed, compensating", err)
		s.compensate(context.WithoutCancel(ctx), t, customerID, err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "billing provisioning failed")
	}

	s.logg.Info(ctx, "tenant provisioned, awaiting payment confirmation")
	return &CreateSubscriptionResult{
		User:         users.FromModel(t.user),
		Company:      companies.FromModel(t.company),
		Membership:   memberships.ToDTO(t.membership),
		Subscription: billing.SubscriptionFromModel(sub),
		ClientSecret: clientSecret,
	}, nil
}

func (s *Service) createTenant(ctx context.Context, email string, input CreateSubscriptionInput, identityResult identity.CreateIdentityResult) (tenant, error) {
	var t tenant
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		userRepo := users.NewRepository(tx)
		companyRepo := companies.NewRepository(tx)
		membershipRepo := memberships.NewRepository(tx)

		if _, err := userRepo.FindByEmail(ctx, email); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		} else if !dbpkg.IsNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check user email")
		}
		if identityResult.Kind() == identity.KindAlreadyExists {
			s.logg.Warn(ctx, "identity already existed without a local user; linking it")
		}

		user, err := userRepo.Create(ctx, users.CreateUserDTO{
			ExternalAuthID: identityResult.ExternalID(),
			Email:          email,
			FirstName:      strings.TrimSpace(input.FirstName),
			LastName:       strings.TrimSpace(input.LastName),
			Phone:          input.Phone,
		})
		if err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create user")
		}

		company, err := companyRepo.Create(ctx, strings.TrimSpace(input.CompanyName), strings.TrimSpace(input.RegistrationNumber))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create company")
		}

		membership, err := membershipRepo.CreateMembership(ctx, company.ID, user.ID, enums.MemberRoleOwner, enums.MembershipStatusPending)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create membership")
		}

		t = tenant{user: user, company: company, membership: membership}
		return nil
	})
	return t, err
}

// provision creates the processor customer and subscription and records them.
// customerID is returned even on failure so compensation can remove it.
func (s *Service) provision(ctx context.Context, t tenant, email, priceID string) (*models.Subscription, string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.provisionTimeout)
	defer cancel()

	metadata := t.metadata()
	customerID, err := s.gateway.CreateCustomer(ctx, t.company.Name, email, metadata)
	if err != nil {
		return nil, "", "", fmt.Errorf("create customer: %w", err)
	}

	result, err := s.gateway.CreateSubscription(ctx, customerID, priceID, metadata)
	if err != nil {
		return nil, "", customerID, fmt.Errorf("create subscription: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", customerID, err
	}

	now := time.Now().UTC()
	sub := &models.Subscription{
		CompanyID:            t.company.ID,
		StripeSubscriptionID: result.ID,
		StripeCustomerID:     customerID,
		Status:               result.Status,
		CurrentPeriodStart:   now,
		CurrentPeriodEnd:     now,
	}
	if !result.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = result.CurrentPeriodStart
	}
	if !result.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = result.CurrentPeriodEnd
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		billingRepo := billing.NewRepository(tx)
		if err := companies.NewRepository(tx).SetBillingCustomer(ctx, t.company.ID, customerID); err != nil {
			return fmt.Errorf("set billing customer: %w", err)
		}
		plan, err := billingRepo.FindPlanByPriceID(ctx, priceID)
		if err != nil {
			return fmt.Errorf("find plan: %w", err)
		}
		if plan != nil {
			sub.PlanID = &plan.ID
		}
		if err := billingRepo.CreateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("record subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, "", customerID, err
	}

	t.company.BillingCustomerID = &customerID
	return sub, result.ClientSecret, customerID, nil
}

// compensate removes the provisional tenant. Each step runs on its own so one
// failure does not stop the others; leftovers are queued for the worker.
func (s *Service) compensate(ctx context.Context, t tenant, customerID string, cause error) {
	var errs error

	errs = multierr.Append(errs, s.deleteRow(ctx, "membership", func(tx *gorm.DB) error {
		_, err := memberships.NewRepository(tx).Delete(ctx, t.membership.ID)
		return err
	}))
	errs = multierr.Append(errs, s.deleteRow(ctx, "company", func(tx *gorm.DB) error {
		_, err := companies.NewRepository(tx).Delete(ctx, t.company.ID)
		return err
	}))
	errs = multierr.Append(errs, s.deleteRow(ctx, "user", func(tx *gorm.DB) error {
		_, err := users.NewRepository(tx).Delete(ctx, t.user.ID)
		return err
	}))
	if customerID != "" {
		if err := s.gateway.DeleteCustomer(ctx, customerID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete billing customer: %w", err))
		}
	}

	if errs == nil {
		s.logg.Info(ctx, "provisional tenant removed")
		return
	}

	s.logg.Error(ctx, "compensation incomplete, queueing retry", errs)
	reason := cause.Error()
	if err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTenantCompensationRequested,
			AggregateType: enums.AggregateCompany,
			AggregateID:   t.company.ID,
			Data: payloads.TenantCompensationRequestedEvent{
				UserID:           t.user.ID,
				CompanyID:        t.company.ID,
				MembershipID:     t.membership.ID,
				StripeCustomerID: customerID,
				Reason:           reason,
			},
		})
	}); err != nil {
		s.logg.Error(ctx, "failed to queue compensation", err)
	}
}

func (s *Service) deleteRow(ctx context.Context, what string, fn func(tx *gorm.DB) error) error {
	if err := s.db.WithTx(ctx, fn); err != nil {
		return fmt.Errorf("delete %s: %w", what, err)
	}
	return nil
}
