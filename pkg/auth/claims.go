package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenClaims are the claims of an identity provider access token.
// Subject carries the provider's user id.
type AccessTokenClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AccessTokenPayload is the data needed to sign a token locally.
type AccessTokenPayload struct {
	ExternalID string
	Email      string
	Role       string
}
