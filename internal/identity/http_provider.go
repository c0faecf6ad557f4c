package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kitchenops/kitchenops-backend/pkg/config"
	"github.com/kitchenops/kitchenops-backend/pkg/logger"
)

const maxResponseBytes = 1 << 20

// HTTPProvider talks to a GoTrue-compatible admin API with the service role key.
type HTTPProvider struct {
	baseURL    *url.URL
	serviceKey string
	client     *http.Client
	logg       *logger.Logger
	maxRetries uint
	newBackOff func() backoff.BackOff
}

// StatusError is a non-2xx response from the provider.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider returned %d: %s", e.StatusCode, e.Message)
}

func NewHTTPProvider(cfg config.IdentityConfig, logg *logger.Logger) (*HTTPProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("identity base url is required")
	}
	if strings.TrimSpace(cfg.ServiceKey) == "" {
		return nil, errors.New("identity service key is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse identity base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &HTTPProvider{
		baseURL:    base,
		serviceKey: cfg.ServiceKey,
		client:     &http.Client{Timeout: timeout},
		logg:       logg,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 3 * time.Second
			return b
		},
	}, nil
}

type adminUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type errorBody struct {
	Code      any    `json:"code"`
	ErrorCode string `json:"error_code"`
	Msg       string `json:"msg"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

func (p *HTTPProvider) CreateIdentity(ctx context.Context, email string, metadata map[string]string) (CreateIdentityResult, error) {
	body := map[string]any{
		"email":         email,
		"email_confirm": false,
		"user_metadata": metadata,
	}
	var created adminUser
	err := p.do(ctx, http.MethodPost, "/admin/users", body, &created)
	if err == nil {
		if created.ID == "" {
			return CreateIdentityResult{}, errors.New("identity provider returned no user id")
		}
		return Created(created.ID), nil
	}
	if !isEmailExists(err) {
		return CreateIdentityResult{}, err
	}

	existing, err := p.lookupByEmail(ctx, email)
	if err != nil {
		return CreateIdentityResult{}, fmt.Errorf("resolve existing identity: %w", err)
	}
	return AlreadyExists(existing.ID), nil
}

// lookupByEmail resolves an existing account id. generate_link returns the user
// record without sending anything.
func (p *HTTPProvider) lookupByEmail(ctx context.Context, email string) (adminUser, error) {
	var out adminUser
	err := p.do(ctx, http.MethodPost, "/admin/generate_link", map[string]any{
		"type":  "magiclink",
		"email": email,
	}, &out)
	if err != nil {
		return adminUser{}, err
	}
	if out.ID == "" {
		return adminUser{}, errors.New("identity provider returned no user id")
	}
	return out, nil
}

func (p *HTTPProvider) SendMagicLink(ctx context.Context, email, redirectURL string) error {
	path := "/magiclink"
	if redirectURL != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectURL)
	}
	return p.do(ctx, http.MethodPost, path, map[string]any{"email": email}, nil)
}

func (p *HTTPProvider) SignOut(ctx context.Context, externalID string) error {
	if externalID == "" {
		return nil
	}
	err := p.do(ctx, http.MethodPost, "/admin/users/"+url.PathEscape(externalID)+"/logout", nil, nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = encoded
	}
	target := p.baseURL.String() + path

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := p.send(ctx, method, target, payload, out)
		if err == nil {
			return struct{}{}, nil
		}
		if !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		p.logg.Warn(ctx, fmt.Sprintf("identity %s %s attempt %d failed: %v", method, path, attempt, err))
		return struct{}{}, err
	},
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(p.maxRetries),
	)
	return err
}

func (p *HTTPProvider) send(ctx context.Context, method, target string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.serviceKey)
	req.Header.Set("apikey", p.serviceKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeStatusError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func decodeStatusError(status int, raw []byte) *StatusError {
	statusErr := &StatusError{StatusCode: status, Message: http.StatusText(status)}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return statusErr
	}
	switch {
	case body.ErrorCode != "":
		statusErr.Code = body.ErrorCode
	case body.Error != "":
		statusErr.Code = body.Error
	}
	if code, ok := body.Code.(string); ok && statusErr.Code == "" {
		statusErr.Code = code
	}
	for _, msg := range []string{body.Msg, body.Message} {
		if msg != "" {
			statusErr.Message = msg
			break
		}
	}
	return statusErr
}

func isEmailExists(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	if statusErr.Code == "email_exists" || statusErr.Code == "user_already_exists" {
		return true
	}
	return statusErr.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(statusErr.Message), "already been registered")
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= http.StatusInternalServerError
	}
	var syntaxErr *json.SyntaxError
	return !errors.As(err, &syntaxErr)
}

var _ Provider = (*HTTPProvider)(nil)
