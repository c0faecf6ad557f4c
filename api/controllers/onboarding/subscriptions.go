package onboarding

import (
	"context"
	"net/http"

	"github.com/kitchenops/kitchenops-backend/api/responses"
	"github.com/kitchenops/kitchenops-backend/api/validators"
	onboardingsvc "github.com/kitchenops/kitchenops-backend/internal/onboarding"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

// SubscriptionService provisions a tenant and its first subscription.
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, input onboardingsvc.CreateSubscriptionInput) (*onboardingsvc.CreateSubscriptionResult, error)
}

type createSubscriptionRequest struct {
	Email              string  `json:"email" validate:"required,email"`
	FirstName          string  `json:"first_name" validate:"required,max=100"`
	LastName           string  `json:"last_name" validate:"required,max=100"`
	Phone              *string `json:"phone,omitempty" validate:"omitempty,max=32"`
	CompanyName        string  `json:"company_name" validate:"required,max=200"`
	RegistrationNumber string  `json:"registration_number" validate:"required,max=64"`
	PriceID            string  `json:"price_id,omitempty" validate:"omitempty,max=255"`
}

// CreateSubscription answers 201 with the provisional tenant and the client
// secret for the first invoice.
func CreateSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "onboarding service unavailable"))
			return
		}

		var body createSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.CreateSubscription(ctx, onboardingsvc.CreateSubscriptionInput{
			Email:              body.Email,
			FirstName:          validators.SanitizeString(body.FirstName, 100),
			LastName:           validators.SanitizeString(body.LastName, 100),
			Phone:              validators.SanitizeOptional(body.Phone, 32),
			CompanyName:        validators.SanitizeString(body.CompanyName, 200),
			RegistrationNumber: validators.SanitizeString(body.RegistrationNumber, 64),
			PriceID:            validators.SanitizeString(body.PriceID, 255),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
