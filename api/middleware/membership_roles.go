package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/api/responses"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

// CompanyIDParam is the chi URL parameter holding the company id.
const CompanyIDParam = "companyID"

type MembershipChecker interface {
	HasRole(ctx context.Context, userID, companyID uuid.UUID, roles ...enums.MemberRole) (bool, error)
}

// RequireCompanyRoles admits the caller only when they hold one of allowed in
// the company named by the URL. Callers without any membership get 404 so
// company ids cannot be enumerated.
func RequireCompanyRoles(checker MembershipChecker, logg *logger.Logger, allowed ...enums.MemberRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if checker == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "membership checker unavailable"))
				return
			}
			if len(allowed) == 0 {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "allowed roles missing"))
				return
			}

			userID := UserIDFromContext(ctx)
			if userID == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
				return
			}
			uid, err := uuid.Parse(userID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id"))
				return
			}

			cid, err := uuid.Parse(chi.URLParam(r, CompanyIDParam))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid company id"))
				return
			}

			member, err := checker.HasRole(ctx, uid, cid, enums.MemberRoleOwner, enums.MemberRoleAdmin, enums.MemberRoleUser)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check membership"))
				return
			}
			if !member {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "company not found"))
				return
			}
			ok, err := checker.HasRole(ctx, uid, cid, allowed...)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check membership role"))
				return
			}
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "insufficient company role"))
				return
			}

			ctx = WithCompanyID(ctx, cid.String())
			if logg != nil {
				ctx = logg.WithCompanyID(ctx, cid.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
