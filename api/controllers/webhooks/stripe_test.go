package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	stripewebhook "github.com/kitchenops/kitchenops-backend/internal/webhooks/stripe"
	pkgerrors "github.com/kitchenops/kitchenops-backend/pkg/errors"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
	"github.com/kitchenops/kitchenops-backend/pkg/redis"
)

const testSigningSecret = "whsec_test"

type fakeStripeWebhookService struct {
	calls   int
	outcome stripewebhook.Outcome
	err     error
}

func (f *fakeStripeWebhookService) HandleEvent(_ context.Context, _ *stripe.Event) (stripewebhook.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

type fakeSigningClient struct {
	secret string
}

func (c *fakeSigningClient) SigningSecret() string {
	return c.secret
}

type recordingObserver struct {
	outcomes []string
}

func (r *recordingObserver) Observe(_, outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}

type webhookFixture struct {
	service  *fakeStripeWebhookService
	observer *recordingObserver
	redis    *miniredis.Miniredis
	handler  http.HandlerFunc
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewFromAddr(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })

	guard, err := stripewebhook.NewIdempotencyGuard(client, time.Hour, "stripe-webhook")
	require.NoError(t, err)

	f := &webhookFixture{
		service:  &fakeStripeWebhookService{outcome: stripewebhook.OutcomeActivated},
		observer: &recordingObserver{},
		redis:    mr,
	}
	f.handler = StripeWebhook(f.service, &fakeSigningClient{secret: testSigningSecret}, guard, f.observer, logger.Nop())
	return f
}

func (f *webhookFixture) post(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhook_ProcessesOnceAndAcknowledgesReplay(t *testing.T) {
	f := newWebhookFixture(t)
	payload, header := buildSignedEvent(t, "evt_1")

	rec := f.post(payload, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"outcome":"activated"`)

	rec = f.post(payload, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"outcome":"duplicate"`)
	assert.Equal(t, 1, f.service.calls)
	assert.Equal(t, []string{"activated", "duplicate"}, f.observer.outcomes)
}

func TestStripeWebhook_ConcurrentDeliveryAsksForRetry(t *testing.T) {
	f := newWebhookFixture(t)
	payload, header := buildSignedEvent(t, "evt_7")
	require.NoError(t, f.redis.Set("ko:idempotency:stripe-webhook:evt_7", "processing"))

	rec := f.post(payload, header)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, f.service.calls)
	assert.Equal(t, []string{"in_progress"}, f.observer.outcomes)
}

func TestStripeWebhook_NoopOutcomeIsSuccess(t *testing.T) {
	f := newWebhookFixture(t)
	f.service.outcome = stripewebhook.OutcomeNotOurs
	payload, header := buildSignedEvent(t, "evt_2")

	rec := f.post(payload, header)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"not_ours"`)
}

func TestStripeWebhook_RejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)
	payload, _ := buildSignedEvent(t, "evt_3")

	rec := f.post(payload, "t=1,v1=invalid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.post(payload, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.service.calls)
}

func TestStripeWebhook_InternalFailureReleasesKeyForRetry(t *testing.T) {
	f := newWebhookFixture(t)
	f.service.err = pkgerrors.New(pkgerrors.CodeInternal, "db down")
	payload, header := buildSignedEvent(t, "evt_4")

	rec := f.post(payload, header)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, f.redis.Keys(), "key released so the retry is processed")

	f.service.err = nil
	rec = f.post(payload, header)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, f.service.calls)
}

func TestStripeWebhook_UntypedFailureIsServerError(t *testing.T) {
	f := newWebhookFixture(t)
	f.service.err = errors.New("boom")
	payload, header := buildSignedEvent(t, "evt_5")

	rec := f.post(payload, header)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStripeWebhook_DependencyFailureIsServiceUnavailable(t *testing.T) {
	f := newWebhookFixture(t)
	f.service.err = pkgerrors.New(pkgerrors.CodeDependency, "stripe unavailable")
	payload, header := buildSignedEvent(t, "evt_6")

	rec := f.post(payload, header)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func buildSignedEvent(t *testing.T, eventID string) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        string(stripe.EventTypeInvoicePaymentSucceeded),
		"data": map[string]any{
			"object": map[string]any{
				"id":           "in_1",
				"object":       "invoice",
				"subscription": "sub_1",
			},
		},
	})
	require.NoError(t, err)
	return payload, buildStripeSignatureHeader(payload, testSigningSecret, time.Now().Unix())
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
