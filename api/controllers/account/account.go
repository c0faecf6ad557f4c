package account

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/api/controllers/requestctx"
	"github.com/kitchenops/kitchenops-backend/api/responses"
	"github.com/kitchenops/kitchenops-backend/internal/accounts"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

// Service describes the self-service account deletion flow.
type Service interface {
	CheckEligibility(ctx context.Context, userID uuid.UUID) (*accounts.EligibilityResult, error)
	RequestDeletion(ctx context.Context, userID uuid.UUID) error
}

func DeletionEligibility(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		result, err := svc.CheckEligibility(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// DeleteAccount removes the caller. A blocked deletion answers 422 with the
// eligibility result in the error details.
func DeleteAccount(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}
		userID, err := requestctx.ResolveUserID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.RequestDeletion(ctx, userID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}
