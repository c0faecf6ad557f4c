package billing

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/kitchenops/kitchenops-backend/api/controllers/requestctx"
	"github.com/kitchenops/kitchenops-backend/api/responses"
	billingsvc "github.com/kitchenops/kitchenops-backend/internal/billing"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

const defaultLocale = "en"

// PlanService describes the billing methods used by the HTTP controllers.
type PlanService interface {
	GetPlanInfo(ctx context.Context, priceID, locale string) (*billingsvc.PlanInfo, error)
}

type portalResponse struct {
	URL string `json:"url"`
}

// PlanInfo returns display pricing for a price, localized by Accept-Language.
func PlanInfo(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		priceID := strings.TrimSpace(chi.URLParam(r, "priceID"))
		if priceID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "price id is required"))
			return
		}

		locale := requestLocale(r)
		info, err := svc.GetPlanInfo(ctx, priceID, locale)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		w.Header().Set("Content-Language", locale)
		responses.WriteSuccess(w, info)
	}
}

// requestLocale picks the highest weighted Accept-Language tag.
func requestLocale(r *http.Request) string {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return defaultLocale
	}
	if tags[0] == language.Und {
		return defaultLocale
	}
	return tags[0].String()
}

// PortalService opens processor hosted billing management.
type PortalService interface {
	CreatePortalSession(ctx context.Context, userID, companyID uuid.UUID) (string, error)
}

// BillingPortal returns a one-time portal URL for the company.
func BillingPortal(svc PortalService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		userID, companyID, err := requestctx.ResolveUserAndCompany(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		url, err := svc.CreatePortalSession(ctx, userID, companyID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, portalResponse{URL: url})
	}
}
