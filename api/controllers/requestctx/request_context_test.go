package requestctx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchenops/kitchenops-backend/api/middleware"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
)

func TestResolveUserAndCompany(t *testing.T) {
	userID, companyID := uuid.New(), uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := middleware.WithUserID(req.Context(), userID.String())
	ctx = middleware.WithCompanyID(ctx, companyID.String())

	gotUser, gotCompany, err := ResolveUserAndCompany(req.WithContext(ctx))
	require.NoError(t, err)
	assert.Equal(t, userID, gotUser)
	assert.Equal(t, companyID, gotCompany)
}

func TestResolveUserIDMissing(t *testing.T) {
	_, err := ResolveUserID(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestResolveCompanyIDMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	_, _, err := ResolveUserAndCompany(req)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestResolveCompanyIDFromURLParam(t *testing.T) {
	companyID := uuid.New()
	var got uuid.UUID
	var gotErr error
	r := chi.NewRouter()
	r.Post("/companies/{companyID}/subscription/cancel", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = ResolveCompanyID(r)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/companies/"+companyID.String()+"/subscription/cancel", nil))

	require.NoError(t, gotErr)
	assert.Equal(t, companyID, got)
}
