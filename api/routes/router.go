package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/api/controllers"
	accountcontrollers "github.com/kitchenops/kitchenops-backend/api/controllers/account"
	billingcontrollers "github.com/kitchenops/kitchenops-backend/api/controllers/billing"
	companycontrollers "github.com/kitchenops/kitchenops-backend/api/controllers/companies"
	onboardingcontrollers "github.com/kitchenops/kitchenops-backend/api/controllers/onboarding"
	webhookcontrollers "github.com/kitchenops/kitchenops-backend/api/controllers/webhooks"
	"github.com/kitchenops/kitchenops-backend/api/middleware"
	stripewebhook "github.com/kitchenops/kitchenops-backend/internal/webhooks/stripe"
	"github.com/kitchenops/kitchenops-backend/pkg/config"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
	"github.com/kitchenops/kitchenops-backend/pkg/redis"
)

// MembershipService is the membership surface the routes need: role checks
// for the middleware plus the company operations.
type MembershipService interface {
	companycontrollers.MembershipService
	HasRole(ctx context.Context, userID, companyID uuid.UUID, roles ...enums.MemberRole) (bool, error)
}

// BillingService serves plan pricing and portal sessions.
type BillingService interface {
	billingcontrollers.PlanService
	billingcontrollers.PortalService
}

type stripeWebhookGuard interface {
	Claim(ctx context.Context, eventID string) (stripewebhook.Claim, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type stripeSigner interface {
	SigningSecret() string
}

type webhookObserver interface {
	Observe(eventType, outcome string)
}

// Dependencies carries everything the router wires into handlers.
type Dependencies struct {
	DB          controllers.Pinger
	Redis       *redis.Client
	Users       middleware.UserResolver
	Onboarding  onboardingcontrollers.SubscriptionService
	Billing     BillingService
	Memberships MembershipService
	Accounts    accountcontrollers.Service

	StripeClient         stripeSigner
	StripeWebhookService webhookcontrollers.StripeWebhookService
	StripeWebhookGuard   stripeWebhookGuard
	WebhookMetrics       webhookObserver

	// Metrics serves the Prometheus scrape endpoint when set.
	Metrics http.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	signupPolicy := middleware.NewRateLimitPolicy(
		"signup",
		cfg.AuthRateLimit.SignupWindow,
		cfg.AuthRateLimit.SignupIPLimit,
		cfg.AuthRateLimit.SignupEmailLimit,
	)

	var idempotencyStore redis.IdempotencyStore
	if deps.Redis != nil {
		idempotencyStore = deps.Redis
	}
	idempotent := middleware.Idempotency(idempotencyStore, logg)

	readiness := map[string]controllers.Pinger{}
	if deps.DB != nil {
		readiness["db"] = deps.DB
	}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhookService, deps.StripeClient, deps.StripeWebhookGuard, deps.WebhookMetrics, logg))
	})

	r.Route("/api/v1/onboarding", func(r chi.Router) {
		r.With(
			middleware.RateLimit(signupPolicy, rateLimitStore(deps.Redis), logg),
			idempotent,
		).Post("/subscriptions", onboardingcontrollers.CreateSubscription(deps.Onboarding, logg))
	})

	r.Get("/api/v1/billing/plans/{priceID}", billingcontrollers.PlanInfo(deps.Billing, logg))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Users, logg))

		r.Route("/api/v1/me", func(r chi.Router) {
			r.Get("/deletion-eligibility", accountcontrollers.DeletionEligibility(deps.Accounts, logg))
			r.Delete("/", accountcontrollers.DeleteAccount(deps.Accounts, logg))
		})

		r.Route("/api/v1/companies/{companyID}", func(r chi.Router) {
			members := middleware.RequireCompanyRoles(deps.Memberships, logg, enums.MemberRoleOwner, enums.MemberRoleAdmin, enums.MemberRoleUser)
			billingAdmins := middleware.RequireCompanyRoles(deps.Memberships, logg, enums.MemberRoleOwner, enums.MemberRoleAdmin)

			r.With(members).Get("/owners", companycontrollers.Owners(deps.Memberships, logg))
			r.With(members).Get("/members", companycontrollers.Members(deps.Memberships, logg))
			r.With(idempotent).Post("/ownership/transfer", companycontrollers.TransferOwnership(deps.Memberships, logg))
			r.With(idempotent).Post("/subscription/cancel", companycontrollers.CancelSubscription(deps.Memberships, logg))
			r.With(billingAdmins, idempotent).Post("/billing/portal", billingcontrollers.BillingPortal(deps.Billing, logg))
		})
	})

	return r
}

// rateLimitStore avoids handing the middleware a typed nil.
func rateLimitStore(client *redis.Client) middleware.RateLimitStore {
	if client == nil {
		return nil
	}
	return client
}
