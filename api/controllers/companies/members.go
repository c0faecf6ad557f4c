package companies

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kitchenops/kitchenops-backend/api/controllers/requestctx"
	"github.com/kitchenops/kitchenops-backend/api/responses"
	"github.com/kitchenops/kitchenops-backend/api/validators"
	"github.com/kitchenops/kitchenops-backend/internal/billing"
	"github.com/kitchenops/kitchenops-backend/internal/memberships"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

// MembershipService describes the membership methods used by the HTTP controllers.
type MembershipService interface {
	GetOwners(ctx context.Context, companyID uuid.UUID) ([]memberships.MembershipDTO, error)
	ListCompanyMembers(ctx context.Context, companyID uuid.UUID) ([]memberships.CompanyMemberDTO, error)
	TransferOwnership(ctx context.Context, companyID, fromUserID, toUserID uuid.UUID) error
	CancelSubscriptionForUser(ctx context.Context, userID, companyID uuid.UUID) (*billing.SubscriptionDTO, error)
}

type ownersResponse struct {
	Owners []memberships.MembershipDTO `json:"owners"`
}

type membersResponse struct {
	Members []memberships.CompanyMemberDTO `json:"members"`
}

type transferOwnershipRequest struct {
	ToUserID string `json:"to_user_id" validate:"required,uuid"`
}

type transferOwnershipResponse struct {
	CompanyID uuid.UUID `json:"company_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
}

func Owners(svc MembershipService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "membership service unavailable"))
			return
		}
		companyID, err := requestctx.ResolveCompanyID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		owners, err := svc.GetOwners(ctx, companyID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, ownersResponse{Owners: owners})
	}
}

func Members(svc MembershipService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "membership service unavailable"))
			return
		}
		companyID, err := requestctx.ResolveCompanyID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		members, err := svc.ListCompanyMembers(ctx, companyID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, membersResponse{Members: members})
	}
}

// TransferOwnership hands the caller's ownership to another member.
func TransferOwnership(svc MembershipService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "membership service unavailable"))
			return
		}
		userID, companyID, err := requestctx.ResolveUserAndCompany(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body transferOwnershipRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		toUserID, err := uuid.Parse(body.ToUserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid to_user_id"))
			return
		}

		if err := svc.TransferOwnership(ctx, companyID, userID, toUserID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, transferOwnershipResponse{CompanyID: companyID, OwnerID: toUserID})
	}
}

// CancelSubscription schedules the company subscription to end with the
// current period. The service rejects callers who are not owners.
func CancelSubscription(svc MembershipService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "membership service unavailable"))
			return
		}
		userID, companyID, err := requestctx.ResolveUserAndCompany(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		sub, err := svc.CancelSubscriptionForUser(ctx, userID, companyID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}
