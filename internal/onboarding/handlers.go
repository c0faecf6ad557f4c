package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kitchenops/kitchenops-backend/internal/billing"
	"github.com/kitchenops/kitchenops-backend/internal/companies"
	"github.com/kitchenops/kitchenops-backend/internal/identity"
	"github.com/kitchenops/kitchenops-backend/internal/memberships"
	"github.com/kitchenops/kitchenops-backend/internal/users"
	dbpkg "github.com/kitchenops/kitchenops-backend/pkg/db"
	"github.com/kitchenops/kitchenops-backend/pkg/db/models"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
	"github.com/kitchenops/kitchenops-backend/pkg/outbox"
	"github.com/kitchenops/kitchenops-backend/pkg/outbox/payloads"
)

type lifecyclePublisher interface {
	PublishLifecycle(ctx context.Context, eventType string, version int, data []byte) (string, error)
}

type handlerRegistry interface {
	Register(eventType enums.OutboxEventType, handler outbox.Handler)
}

// HandlerParams groups the outbox handler dependencies. Publisher is optional.
type HandlerParams struct {
	Identity          identity.Provider
	Gateway           billing.Gateway
	Publisher         lifecyclePublisher
	Logger            *logger.Logger
	MagicLinkRedirect string
}

// Handlers deliver the side effects of onboarding outside the request path.
type Handlers struct {
	identity    identity.Provider
	gateway     billing.Gateway
	publisher   lifecyclePublisher
	logg        *logger.Logger
	redirectURL string
}

func NewHandlers(params HandlerParams) (*Handlers, error) {
	if params.Identity == nil {
		return nil, errors.New("identity provider is required")
	}
	if params.Gateway == nil {
		return nil, errors.New("billing gateway is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Handlers{
		identity:    params.Identity,
		gateway:     params.Gateway,
		publisher:   params.Publisher,
		logg:        params.Logger,
		redirectURL: strings.TrimSpace(params.MagicLinkRedirect),
	}, nil
}

// Register binds the handlers to their outbox event types.
func (h *Handlers) Register(registry handlerRegistry) {
	registry.Register(enums.EventTenantActivated, outbox.HandlerFunc(h.HandleTenantActivated))
	registry.Register(enums.EventTenantCompensationRequested, outbox.HandlerFunc(h.HandleCompensation))
}

// HandleTenantActivated sends the owner a sign-in link and announces the
// activation on the lifecycle topic. The announcement is best-effort.
func (h *Handlers) HandleTenantActivated(ctx context.Context, _ *gorm.DB, event models.OutboxEvent, envelope outbox.PayloadEnvelope) error {
	var payload payloads.TenantActivatedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("%w: decode tenant activated: %v", outbox.ErrTerminal, err)
	}
	email := users.NormalizeEmail(payload.Email)
	if email == "" {
		return fmt.Errorf("%w: tenant activated without email", outbox.ErrTerminal)
	}
	ctx = h.logg.WithFields(ctx, map[string]any{
		"user_id":    payload.UserID.String(),
		"company_id": payload.CompanyID.String(),
	})

	if err := h.identity.SendMagicLink(ctx, email, h.redirectURL); err != nil {
		if errors.Is(err, identity.ErrInvalidEmail) {
			return fmt.Errorf("%w: %v", outbox.ErrTerminal, err)
		}
		return fmt.Errorf("send magic link: %w", err)
	}
	h.logg.Info(ctx, "welcome magic link sent")

	if h.publisher == nil {
		return nil
	}
	id, err := h.publisher.PublishLifecycle(ctx, string(event.EventType), envelope.Version, event.Payload)
	if err != nil {
		h.logg.Error(ctx, "lifecycle publish failed", err)
		return nil
	}
	h.logg.Info(h.logg.WithField(ctx, "message_id", id), "lifecycle event published")
	return nil
}

// HandleCompensation finishes removing a tenant whose inline compensation
// failed. Rows are deleted inside the dispatcher transaction; the processor
// customer is removed last so a retry repeats only what is left.
func (h *Handlers) HandleCompensation(ctx context.Context, tx *gorm.DB, _ models.OutboxEvent, envelope outbox.PayloadEnvelope) error {
	var payload payloads.TenantCompensationRequestedEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("%w: decode compensation: %v", outbox.ErrTerminal, err)
	}
	ctx = h.logg.WithFields(ctx, map[string]any{
		"user_id":       payload.UserID.String(),
		"company_id":    payload.CompanyID.String(),
		"membership_id": payload.MembershipID.String(),
	})

	companyRepo := companies.NewRepository(tx)
	membershipRepo := memberships.NewRepository(tx)
	userRepo := users.NewRepository(tx)

	company, err := companyRepo.FindByIDForUpdate(ctx, payload.CompanyID)
	switch {
	case err == nil && company.Status != enums.CompanyStatusPending:
		h.logg.Warn(ctx, "compensation skipped for active company")
		return nil
	case err != nil && !dbpkg.IsNotFound(err):
		return fmt.Errorf("load company: %w", err)
	}

	if _, err := membershipRepo.Delete(ctx, payload.MembershipID); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if _, err := companyRepo.DeleteIfPending(ctx, payload.CompanyID); err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	if err := deleteOrphanUser(ctx, userRepo, membershipRepo, payload); err != nil {
		return err
	}

	if payload.StripeCustomerID != "" {
		if err := h.gateway.DeleteCustomer(ctx, payload.StripeCustomerID); err != nil {
			return fmt.Errorf("delete billing customer: %w", err)
		}
	}
	h.logg.Info(ctx, "queued compensation completed")
	return nil
}

func deleteOrphanUser(ctx context.Context, userRepo *users.Repository, membershipRepo *memberships.Repository, payload payloads.TenantCompensationRequestedEvent) error {
	user, err := userRepo.FindByIDForUpdate(ctx, payload.UserID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}
	remaining, err := membershipRepo.CountByUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("count memberships: %w", err)
	}
	if user.IsActive || remaining > 0 {
		return nil
	}
	if _, err := userRepo.Delete(ctx, user.ID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
