package companies

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchenops/kitchenops-backend/api/middleware"
	"github.com/kitchenops/kitchenops-backend/internal/billing"
	"github.com/kitchenops/kitchenops-backend/internal/memberships"
	"github.com/kitchenops/kitchenops-backend/pkg/enums"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
)

type stubMembershipService struct {
	owners      []memberships.MembershipDTO
	members     []memberships.CompanyMemberDTO
	transferErr error
	cancelErr   error

	transferred struct{ company, from, to uuid.UUID }
	canceled    struct{ user, company uuid.UUID }
}

func (s *stubMembershipService) GetOwners(_ context.Context, _ uuid.UUID) ([]memberships.MembershipDTO, error) {
	return s.owners, nil
}

func (s *stubMembershipService) ListCompanyMembers(_ context.Context, _ uuid.UUID) ([]memberships.CompanyMemberDTO, error) {
	return s.members, nil
}

func (s *stubMembershipService) TransferOwnership(_ context.Context, companyID, fromUserID, toUserID uuid.UUID) error {
	s.transferred.company, s.transferred.from, s.transferred.to = companyID, fromUserID, toUserID
	return s.transferErr
}

func (s *stubMembershipService) CancelSubscriptionForUser(_ context.Context, userID, companyID uuid.UUID) (*billing.SubscriptionDTO, error) {
	s.canceled.user, s.canceled.company = userID, companyID
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	return &billing.SubscriptionDTO{CompanyID: companyID, Status: enums.SubscriptionStatusActive, CancelAtPeriodEnd: true}, nil
}

func withCaller(req *http.Request, userID, companyID uuid.UUID) *http.Request {
	ctx := middleware.WithUserID(req.Context(), userID.String())
	if companyID != uuid.Nil {
		ctx = middleware.WithCompanyID(ctx, companyID.String())
	}
	return req.WithContext(ctx)
}

func TestOwnersAndMembers(t *testing.T) {
	companyID := uuid.New()
	svc := &stubMembershipService{
		owners:  []memberships.MembershipDTO{{CompanyID: companyID, Role: enums.MemberRoleOwner}},
		members: []memberships.CompanyMemberDTO{{CompanyID: companyID, Email: "a@example.com"}, {CompanyID: companyID, Email: "b@example.com"}},
	}

	resp := httptest.NewRecorder()
	Owners(svc, nil)(resp, withCaller(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New(), companyID))
	require.Equal(t, http.StatusOK, resp.Code)
	var owners struct {
		Data ownersResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &owners))
	assert.Len(t, owners.Data.Owners, 1)

	resp = httptest.NewRecorder()
	Members(svc, nil)(resp, withCaller(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New(), companyID))
	require.Equal(t, http.StatusOK, resp.Code)
	var members struct {
		Data membersResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &members))
	assert.Len(t, members.Data.Members, 2)
}

func TestTransferOwnershipUsesCallerAsFrom(t *testing.T) {
	caller, companyID, recipient := uuid.New(), uuid.New(), uuid.New()
	svc := &stubMembershipService{}

	body := strings.NewReader(`{"to_user_id":"` + recipient.String() + `"}`)
	resp := httptest.NewRecorder()
	TransferOwnership(svc, nil)(resp, withCaller(httptest.NewRequest(http.MethodPost, "/", body), caller, companyID))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, companyID, svc.transferred.company)
	assert.Equal(t, caller, svc.transferred.from)
	assert.Equal(t, recipient, svc.transferred.to)
}

func TestTransferOwnershipRejectsBadBody(t *testing.T) {
	svc := &stubMembershipService{}
	resp := httptest.NewRecorder()
	TransferOwnership(svc, nil)(resp, withCaller(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"to_user_id":"bob"}`)), uuid.New(), uuid.New()))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, uuid.Nil, svc.transferred.to)
}

func TestTransferOwnershipNotFound(t *testing.T) {
	svc := &stubMembershipService{transferErr: pkgerrors.New(pkgerrors.CodeNotFound, "recipient is not a member of the company")}
	body := strings.NewReader(`{"to_user_id":"` + uuid.NewString() + `"}`)
	resp := httptest.NewRecorder()
	TransferOwnership(svc, nil)(resp, withCaller(httptest.NewRequest(http.MethodPost, "/", body), uuid.New(), uuid.New()))

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCancelSubscriptionReadsCompanyFromURL(t *testing.T) {
	caller, companyID := uuid.New(), uuid.New()
	svc := &stubMembershipService{}
	r := chi.NewRouter()
	r.Post("/api/v1/companies/{companyID}/subscription/cancel", CancelSubscription(svc, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/companies/"+companyID.String()+"/subscription/cancel", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, withCaller(req, caller, uuid.Nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, caller, svc.canceled.user)
	assert.Equal(t, companyID, svc.canceled.company)

	var body struct {
		Data billing.SubscriptionDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.True(t, body.Data.CancelAtPeriodEnd)
}

func TestCancelSubscriptionForbiddenForNonOwner(t *testing.T) {
	svc := &stubMembershipService{cancelErr: pkgerrors.New(pkgerrors.CodeForbidden, "only an owner can cancel the subscription")}
	resp := httptest.NewRecorder()
	CancelSubscription(svc, nil)(resp, withCaller(httptest.NewRequest(http.MethodPost, "/", nil), uuid.New(), uuid.New()))

	assert.Equal(t, http.StatusForbidden, resp.Code)
}
