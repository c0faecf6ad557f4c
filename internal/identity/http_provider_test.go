package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchenops/kitchenops-backend/pkg/config"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewHTTPProvider(config.IdentityConfig{
		BaseURL:    srv.URL + "/auth/v1/",
		ServiceKey: "service-key",
		Timeout:    time.Second,
		MaxRetries: 3,
	}, logger.Nop())
	require.NoError(t, err)
	p.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return p
}

func TestCreateIdentity_Created(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/admin/users", r.URL.Path)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice@x.com", body["email"])
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ext-1", "email": "alice@x.com"})
	})

	result, err := p.CreateIdentity(context.Background(), "alice@x.com", map[string]string{"first_name": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, KindCreated, result.Kind())
	assert.Equal(t, "ext-1", result.ExternalID())
}

func TestCreateIdentity_AlreadyExists(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/admin/users":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"code":422,"error_code":"email_exists","msg":"A user with this email address has already been registered"}`))
		case "/auth/v1/admin/generate_link":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "ext-existing"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	result, err := p.CreateIdentity(context.Background(), "alice@x.com", nil)
	require.NoError(t, err)
	assert.Equal(t, KindAlreadyExists, result.Kind())
	assert.Equal(t, "ext-existing", result.ExternalID())
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "https://app.example.com/welcome", r.URL.Query().Get("redirect_to"))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, p.SendMagicLink(context.Background(), "alice@x.com", "https://app.example.com/welcome"))
	assert.EqualValues(t, 3, calls.Load())
}

func TestDo_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"msg":"invalid email"}`))
	})

	err := p.SendMagicLink(context.Background(), "bad", "")
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "invalid email", statusErr.Message)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSignOut_IgnoresMissingUser(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/admin/users/ext-1/logout", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	require.NoError(t, p.SignOut(context.Background(), "ext-1"))
	require.NoError(t, p.SignOut(context.Background(), ""))
}

func TestNewHTTPProvider_RequiresConfig(t *testing.T) {
	_, err := NewHTTPProvider(config.IdentityConfig{ServiceKey: "k"}, logger.Nop())
	require.Error(t, err)
	_, err = NewHTTPProvider(config.IdentityConfig{BaseURL: "http://x"}, logger.Nop())
	require.Error(t, err)
}
