package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/kitchenops/kitchenops-backend/internal/billing"
	"github.com/kitchenops/kitchenops-backend/internal/companies"
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

// Outcome describes what a delivery did. Every outcome is a success for the sender.
type Outcome string

const (
	OutcomeActivated            Outcome = "activated"
	OutcomeAlreadyActivated     Outcome = "already_activated"
	OutcomeCancellationMirrored Outcome = "cancellation_mirrored"
	OutcomeCleanedUp            Outcome = "cleaned_up"
	OutcomeIgnored              Outcome = "ignored"
	OutcomeNotOurs              Outcome = "not_ours"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type activationEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

type ServiceParams struct {
	DB      txRunner
	Gateway billing.Gateway
	Outbox  activationEmitter
	Logger  *logger.Logger
}

// Service applies processor events to the local tenant state.
type Service struct {
	db      txRunner
	gateway billing.Gateway
	outbox  activationEmitter
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing gateway required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		db:      params.DB,
		gateway: params.Gateway,
		outbox:  params.Outbox,
		logg:    params.Logger,
	}, nil
}

// HandleEvent dispatches a verified processor event. An error means the event
// should be redelivered.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (Outcome, error) {
	if event == nil || event.Data == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithStripeEvent(ctx, event.ID, string(event.Type))

	switch event.Type {
	case stripe.EventTypeInvoicePaymentSucceeded:
		state, outcome, err := s.invoiceSubscription(ctx, event)
		if state == nil {
			return outcome, err
		}
		meta, err := ParseEventMetadata(state.Metadata)
		if err != nil {
			return s.notOurs(ctx, err), nil
		}
		return s.activate(ctx, meta, state)

	case stripe.EventTypeInvoicePaymentFailed:
		state, outcome, err := s.invoiceSubscription(ctx, event)
		if state == nil {
			return outcome, err
		}
		meta, err := ParseEventMetadata(state.Metadata)
		if err != nil {
			return s.notOurs(ctx, err), nil
		}
		return s.cleanup(ctx, meta)

	case stripe.EventTypeCustomerSubscriptionCreated:
		state, err := decodeSubscription(event)
		if err != nil {
			return "", err
		}
		if !state.Status.IsActive() {
			return OutcomeIgnored, nil
		}
		meta, err := ParseEventMetadata(state.Metadata)
		if err != nil {
			return s.notOurs(ctx, err), nil
		}
		return s.activate(ctx, meta, state)

	case stripe.EventTypeCustomerSubscriptionUpdated:
		state, err := decodeSubscription(event)
		if err != nil {
			return "", err
		}
		return s.subscriptionUpdated(ctx, state)

	case stripe.EventTypeCustomerSubscriptionDeleted:
		state, err := decodeSubscription(event)
		if err != nil {
			return "", err
		}
		return s.subscriptionDeleted(ctx, state)

	default:
		return OutcomeIgnored, nil
	}
}

func (s *Service) subscriptionUpdated(ctx context.Context, state *billing.SubscriptionState) (Outcome, error) {
	if state.Status.IsActive() {
		meta, err := ParseEventMetadata(state.Metadata)
		if err == nil {
			outcome, err := s.activate(ctx, meta, state)
			if err != nil || outcome != OutcomeAlreadyActivated {
				return outcome, err
			}
		}
	}

	mirrored, err := s.mirror(ctx, state)
	if err != nil {
		return "", err
	}
	if mirrored {
		return OutcomeCancellationMirrored, nil
	}
	if state.Status.IsActive() {
		if _, err := ParseEventMetadata(state.Metadata); err != nil {
			return s.notOurs(ctx, err), nil
		}
		return OutcomeAlreadyActivated, nil
	}
	return OutcomeIgnored, nil
}

// subscriptionDeleted removes a signup that never completed. Deleting an
// activated subscription is a cancellation and is only mirrored.
func (s *Service) subscriptionDeleted(ctx context.Context, state *billing.SubscriptionState) (Outcome, error) {
	var local *models.Subscription
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		local, err = billing.NewRepository(tx).FindSubscriptionByStripeID(ctx, state.ID)
		return err
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if local == nil {
		return OutcomeIgnored, nil
	}

	if local.Status == enums.SubscriptionStatusIncomplete {
		meta, err := ParseEventMetadata(state.Metadata)
		if err != nil {
			return s.notOurs(ctx, err), nil
		}
		return s.cleanup(ctx, meta)
	}

	mirrored, err := s.mirror(ctx, state)
	if err != nil {
		return "", err
	}
	if mirrored {
		return OutcomeCancellationMirrored, nil
	}
	return OutcomeIgnored, nil
}

// activate moves the tenant to active in one transaction. When every row is
// already active nothing is written. A processor state that is no longer
// active is only mirrored, so a late payment cannot revive a cancellation.
func (s *Service) activate(ctx context.Context, meta EventMetadata, state *billing.SubscriptionState) (Outcome, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":         meta.UserID.String(),
		"company_id":      meta.CompanyID.String(),
		"membership_id":   meta.MembershipID.String(),
		"subscription_id": state.ID,
	})

	if !state.Status.IsActive() {
		if _, err := s.mirror(ctx, state); err != nil {
			return "", err
		}
		s.logg.Info(s.logg.WithField(ctx, "processor_status", string(state.Status)), "activation skipped for inactive subscription")
		return OutcomeIgnored, nil
	}

	outcome := OutcomeActivated
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		userRepo := users.NewRepository(tx)
		companyRepo := companies.NewRepository(tx)
		membershipRepo := memberships.NewRepository(tx)
		billingRepo := billing.NewRepository(tx)

		user, err := userRepo.FindByIDForUpdate(ctx, meta.UserID)
		if err != nil {
			return notFoundAsNotOurs(err, "load user", &outcome)
		}
		company, err := companyRepo.FindByIDForUpdate(ctx, meta.CompanyID)
		if err != nil {
			return notFoundAsNotOurs(err, "load company", &outcome)
		}
		membership, err := membershipRepo.FindByID(ctx, meta.MembershipID)
		if err != nil {
			return notFoundAsNotOurs(err, "load membership", &outcome)
		}
		if membership.UserID != user.ID || membership.CompanyID != company.ID {
			outcome = OutcomeNotOurs
			return nil
		}

		sub, err := billingRepo.FindSubscriptionByCompanyForUpdate(ctx, company.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "subscription not recorded yet")
		}
		if sub.StripeSubscriptionID != state.ID {
			outcome = OutcomeNotOurs
			return nil
		}

		if user.IsActive && company.Status == enums.CompanyStatusActive && sub.Status.IsActive() {
			outcome = OutcomeAlreadyActivated
			return nil
		}

		if err := userRepo.Activate(ctx, user.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "activate user")
		}
		if err := companyRepo.Activate(ctx, company.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "activate company")
		}
		if err := membershipRepo.Activate(ctx, membership.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "activate membership")
		}

		billing.ApplyState(sub, state)
		if err := billingRepo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription")
		}

		if _, err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTenantActivated,
			AggregateType: enums.AggregateMembership,
			AggregateID:   membership.ID,
			Actor:         &outbox.ActorRef{UserID: user.ID, CompanyID: &company.ID},
			Data: payloads.TenantActivatedEvent{
				UserID:       user.ID,
				CompanyID:    company.ID,
				MembershipID: membership.ID,
				Email:        user.Email,
				CompanyName:  company.Name,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue onboarding notification")
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	switch outcome {
	case OutcomeActivated:
		s.logg.Info(ctx, "tenant activated")
	case OutcomeNotOurs:
		s.logg.Warn(ctx, "subscription metadata does not match a local tenant")
	}
	return outcome, nil
}

// mirror copies status and cancellation fields onto an existing local row.
// It reports whether anything changed.
func (s *Service) mirror(ctx context.Context, state *billing.SubscriptionState) (bool, error) {
	changed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := billing.NewRepository(tx)
		sub, err := repo.FindSubscriptionByStripeID(ctx, state.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
		}
		if sub == nil {
			return nil
		}
		if sub.Status == state.Status &&
			sub.CancelAtPeriodEnd == state.CancelAtPeriodEnd &&
			sameTime(sub.CanceledAt, state.CanceledAt) {
			return nil
		}
		if state.Status.IsValid() {
			sub.Status = state.Status
		}
		sub.CancelAtPeriodEnd = state.CancelAtPeriodEnd
		sub.CanceledAt = state.CanceledAt
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mirror subscription")
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.logg.Info(ctx, "subscription state mirrored")
	}
	return changed, nil
}

// cleanup removes the provisional tenant of a failed signup. Activated
// companies are never touched and missing rows count as already removed.
func (s *Service) cleanup(ctx context.Context, meta EventMetadata) (Outcome, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":       meta.UserID.String(),
		"company_id":    meta.CompanyID.String(),
		"membership_id": meta.MembershipID.String(),
	})

	outcome := OutcomeCleanedUp
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		companyRepo := companies.NewRepository(tx)
		membershipRepo := memberships.NewRepository(tx)
		userRepo := users.NewRepository(tx)

		company, err := companyRepo.FindByIDForUpdate(ctx, meta.CompanyID)
		switch {
		case err == nil && company.Status != enums.CompanyStatusPending:
			outcome = OutcomeIgnored
			return nil
		case err != nil && !dbpkg.IsNotFound(err):
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load company")
		}

		if _, err := membershipRepo.Delete(ctx, meta.MembershipID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete membership")
		}
		if _, err := companyRepo.DeleteIfPending(ctx, meta.CompanyID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete company")
		}

		user, err := userRepo.FindByIDForUpdate(ctx, meta.UserID)
		if err != nil {
			if dbpkg.IsNotFound(err) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
		}
		remaining, err := membershipRepo.CountByUser(ctx, user.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count memberships")
		}
		if user.IsActive || remaining > 0 {
			return nil
		}
		if _, err := userRepo.Delete(ctx, user.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete user")
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if outcome == OutcomeCleanedUp {
		s.logg.Info(ctx, "provisional tenant removed after failed signup")
	} else {
		s.logg.Warn(ctx, "cleanup skipped for active company")
	}
	return outcome, nil
}

// invoiceSubscription resolves and fetches the subscription an invoice event
// refers to. A nil state with no error means there is nothing to do.
func (s *Service) invoiceSubscription(ctx context.Context, event *stripe.Event) (*billing.SubscriptionState, Outcome, error) {
	subscriptionID := InvoiceSubscriptionID(event)
	if subscriptionID == "" {
		return nil, OutcomeIgnored, nil
	}
	state, err := s.gateway.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	return state, "", nil
}

func (s *Service) notOurs(ctx context.Context, err error) Outcome {
	s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "event is not for a signup subscription")
	return OutcomeNotOurs
}

// InvoiceSubscriptionID returns the subscription of an invoice event, reading
// the current parent details first and the legacy top-level field second.
func InvoiceSubscriptionID(event *stripe.Event) string {
	if event == nil || event.Data == nil {
		return ""
	}
	object := event.Data.Object
	if object == nil && len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
			return ""
		}
	}
	if parent, ok := object["parent"].(map[string]interface{}); ok {
		if details, ok := parent["subscription_details"].(map[string]interface{}); ok {
			if id := objectID(details["subscription"]); id != "" {
				return id
			}
		}
	}
	return objectID(object["subscription"])
}

// objectID reads an id that may be a plain string or an expanded object.
func objectID(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]interface{}:
		id, _ := v["id"].(string)
		return id
	default:
		return ""
	}
}

func decodeSubscription(event *stripe.Event) (*billing.SubscriptionState, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	if sub.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}
	return billing.SubscriptionStateFromStripe(&sub), nil
}

func notFoundAsNotOurs(err error, what string, outcome *Outcome) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		*outcome = OutcomeNotOurs
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, what)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (o Outcome) String() string {
	return string(o)
}
