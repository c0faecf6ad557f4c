package requestctx

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/api/middleware"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
)

// ResolveUserID extracts the authenticated local user.
func ResolveUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

// ResolveCompanyID extracts the company the membership middleware admitted,
// falling back to the URL parameter on routes the service authorizes itself.
func ResolveCompanyID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.CompanyIDFromContext(r.Context())
	if raw == "" {
		raw = strings.TrimSpace(chi.URLParam(r, middleware.CompanyIDParam))
	}
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "company context required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid company id")
	}
	return id, nil
}

// ResolveUserAndCompany is the common pair for company scoped routes.
func ResolveUserAndCompany(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	userID, err := ResolveUserID(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	companyID, err := ResolveCompanyID(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, companyID, nil
}
