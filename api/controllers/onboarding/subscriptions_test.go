package onboarding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchenops/kitchenops-backend/internal/billing"
	onboardingsvc "github.com/kitchenops/kitchenops-backend/internal/onboarding"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
)

type stubSubscriptionService struct {
	input  onboardingsvc.CreateSubscriptionInput
	calls  int
	result *onboardingsvc.CreateSubscriptionResult
	err    error
}

func (s *stubSubscriptionService) CreateSubscription(_ context.Context, input onboardingsvc.CreateSubscriptionInput) (*onboardingsvc.CreateSubscriptionResult, error) {
	s.calls++
	s.input = input
	return s.result, s.err
}

const validSignup = `{
	"email": "owner@example.com",
	"first_name": " Ada ",
	"last_name": "Lovelace",
	"company_name": "Analytical Bistro",
	"registration_number": "RC-1843",
	"price_id": "price_basic"
}`

func TestCreateSubscriptionCreated(t *testing.T) {
	svc := &stubSubscriptionService{result: &onboardingsvc.CreateSubscriptionResult{
		Subscription: &billing.SubscriptionDTO{ID: uuid.New(), StripeSubscriptionID: "sub_1"},
		ClientSecret: "pi_secret",
	}}

	resp := httptest.NewRecorder()
	CreateSubscription(svc, nil)(resp, httptest.NewRequest(http.MethodPost, "/api/v1/onboarding/subscriptions", strings.NewReader(validSignup)))

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "Ada", svc.input.FirstName)
	assert.Equal(t, "price_basic", svc.input.PriceID)

	var body struct {
		Data struct {
			ClientSecret string `json:"client_secret"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "pi_secret", body.Data.ClientSecret)
}

func TestCreateSubscriptionValidation(t *testing.T) {
	tests := map[string]string{
		"missing email":  `{"first_name":"A","last_name":"B","company_name":"C","registration_number":"R"}`,
		"bad email":      `{"email":"nope","first_name":"A","last_name":"B","company_name":"C","registration_number":"R"}`,
		"unknown field":  `{"email":"a@b.co","first_name":"A","last_name":"B","company_name":"C","registration_number":"R","role":"admin"}`,
		"malformed json": `{"email":`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			svc := &stubSubscriptionService{}
			resp := httptest.NewRecorder()
			CreateSubscription(svc, nil)(resp, httptest.NewRequest(http.MethodPost, "/api/v1/onboarding/subscriptions", strings.NewReader(payload)))

			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Zero(t, svc.calls)
		})
	}
}

func TestCreateSubscriptionMapsServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"duplicate email", pkgerrors.New(pkgerrors.CodeConflict, "email already registered"), http.StatusConflict},
		{"processor down", pkgerrors.New(pkgerrors.CodeDependency, "billing provisioning failed"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubSubscriptionService{err: tt.err}
			resp := httptest.NewRecorder()
			CreateSubscription(svc, nil)(resp, httptest.NewRequest(http.MethodPost, "/api/v1/onboarding/subscriptions", strings.NewReader(validSignup)))
			assert.Equal(t, tt.want, resp.Code)
		})
	}
}
