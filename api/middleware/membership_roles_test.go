package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchenops/kitchenops-backend/pkg/enums"
)

type stubChecker struct {
	roles map[uuid.UUID]enums.MemberRole
}

func (s stubChecker) HasRole(_ context.Context, _ uuid.UUID, companyID uuid.UUID, roles ...enums.MemberRole) (bool, error) {
	role, ok := s.roles[companyID]
	if !ok {
		return false, nil
	}
	return slices.Contains(roles, role), nil
}

func serveCompanyRoute(t *testing.T, checker MembershipChecker, userID, companyID string, allowed ...enums.MemberRole) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	r := chi.NewRouter()
	r.With(RequireCompanyRoles(checker, nil, allowed...)).
		Get("/companies/{companyID}/owners", func(w http.ResponseWriter, r *http.Request) {
			seen = CompanyIDFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})

	req := httptest.NewRequest(http.MethodGet, "/companies/"+companyID+"/owners", nil)
	if userID != "" {
		req = req.WithContext(WithUserID(req.Context(), userID))
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp, seen
}

func TestRequireCompanyRoles(t *testing.T) {
	ownedCompany := uuid.New()
	staffCompany := uuid.New()
	checker := stubChecker{roles: map[uuid.UUID]enums.MemberRole{
		ownedCompany: enums.MemberRoleOwner,
		staffCompany: enums.MemberRoleUser,
	}}
	userID := uuid.NewString()

	tests := []struct {
		name      string
		userID    string
		companyID string
		want      int
	}{
		{"owner allowed", userID, ownedCompany.String(), http.StatusOK},
		{"staff forbidden", userID, staffCompany.String(), http.StatusForbidden},
		{"non member hidden", userID, uuid.NewString(), http.StatusNotFound},
		{"bad company id", userID, "not-a-uuid", http.StatusBadRequest},
		{"missing user", "", ownedCompany.String(), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, seen := serveCompanyRoute(t, checker, tt.userID, tt.companyID, enums.MemberRoleOwner, enums.MemberRoleAdmin)
			require.Equal(t, tt.want, resp.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, tt.companyID, seen)
			}
		})
	}
}
