package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/kitchenops/kitchenops-backend/api/responses"
	stripewebhook "github.com/kitchenops/kitchenops-backend/internal/webhooks/stripe"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

const maxStripePayloadBytes = 64 << 10

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.Outcome, error)
}

type stripeWebhookGuard interface {
	Claim(ctx context.Context, eventID string) (stripewebhook.Claim, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

type deliveryObserver interface {
	Observe(eventType, outcome string)
}

// StripeWebhook verifies and applies Stripe billing events. Business no-ops
// answer 200; only internal failures answer 5xx so Stripe redelivers.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, metrics deliveryObserver, logg *logger.Logger) http.HandlerFunc {
	observe := func(eventType, outcome string) {
		if metrics != nil {
			metrics.Observe(eventType, outcome)
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || client == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook not configured"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStripePayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			observe("unknown", "rejected")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			observe("unknown", "rejected")
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature"))
			return
		}
		eventType := string(event.Type)
		if logg != nil {
			ctx = logg.WithStripeEvent(ctx, event.ID, eventType)
		}

		claim, err := guard.Claim(ctx, event.ID)
		if err != nil {
			observe(eventType, "error")
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		switch claim {
		case stripewebhook.ClaimDuplicate:
			observe(eventType, "duplicate")
			responses.WriteSuccess(w, map[string]string{"outcome": "duplicate"})
			return
		case stripewebhook.ClaimInProgress:
			observe(eventType, "in_progress")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "event is already being processed"))
			return
		}

		outcome, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			if relErr := guard.Release(context.WithoutCancel(ctx), event.ID); relErr != nil && logg != nil {
				logg.Error(ctx, "failed to release webhook idempotency key", relErr)
			}
			observe(eventType, "error")
			if typed := pkgerrors.As(err); typed == nil || !pkgerrors.MetadataFor(typed.Code()).Retryable {
				err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "process stripe event")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := guard.Complete(context.WithoutCancel(ctx), event.ID); err != nil && logg != nil {
			logg.Error(ctx, "failed to mark webhook event complete", err)
		}

		observe(eventType, outcome.String())
		if logg != nil {
			logg.Info(logg.WithField(ctx, "outcome", outcome.String()), "stripe event processed")
		}
		responses.WriteSuccess(w, map[string]string{"outcome": outcome.String()})
	}
}
