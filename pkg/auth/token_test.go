package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchenops/kitchenops-backend/pkg/config"
)

func testConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:   "secret",
		Issuer:   "https://auth.kitchenops.test/auth/v1",
		Audience: "authenticated",
	}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testConfig()
	token, err := MintAccessToken(cfg, time.Now(), time.Hour, AccessTokenPayload{
		ExternalID: "auth-123",
		Email:      "owner@example.com",
		Role:       "authenticated",
	})
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, "auth-123", claims.Subject)
	assert.Equal(t, "owner@example.com", claims.Email)
	assert.Equal(t, cfg.Issuer, claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"authenticated"}, claims.Audience)
}

func TestParseAccessTokenRejects(t *testing.T) {
	cfg := testConfig()
	valid := func(c config.JWTConfig, now time.Time) string {
		token, err := MintAccessToken(c, now, time.Hour, AccessTokenPayload{ExternalID: "auth-123"})
		require.NoError(t, err)
		return token
	}

	otherSecret := cfg
	otherSecret.Secret = "other"
	otherIssuer := cfg
	otherIssuer.Issuer = "https://evil.example.com"
	otherAudience := cfg
	otherAudience.Audience = "service_role"

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "auth-123",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "wrong secret", token: valid(otherSecret, time.Now())},
		{name: "wrong issuer", token: valid(otherIssuer, time.Now())},
		{name: "wrong audience", token: valid(otherAudience, time.Now())},
		{name: "expired", token: valid(cfg, time.Now().Add(-2*time.Hour))},
		{name: "unsigned", token: noneToken},
		{name: "garbage", token: "not-a-jwt"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAccessToken(cfg, tc.token)
			assert.Error(t, err)
		})
	}
}

func TestMintAccessTokenRequiresSubject(t *testing.T) {
	_, err := MintAccessToken(testConfig(), time.Now(), time.Hour, AccessTokenPayload{})
	assert.ErrorIs(t, err, ErrMissingSubject)
}
