package identity

import (
	"context"
	"errors"
)

// ErrInvalidEmail is returned when the provider refuses the address outright.
var ErrInvalidEmail = errors.New("identity provider rejected email")

// Provider is the external auth collaborator. It owns credentials and sessions.
type Provider interface {
	CreateIdentity(ctx context.Context, email string, metadata map[string]string) (CreateIdentityResult, error)
	SendMagicLink(ctx context.Context, email, redirectURL string) error
	SignOut(ctx context.Context, externalID string) error
}

// ResultKind distinguishes the outcomes of CreateIdentity.
type ResultKind int

const (
	KindCreated ResultKind = iota + 1
	KindAlreadyExists
)

func (k ResultKind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// CreateIdentityResult is either Created(id) or AlreadyExists(id).
type CreateIdentityResult struct {
	kind ResultKind
	id   string
}

func Created(id string) CreateIdentityResult {
	return CreateIdentityResult{kind: KindCreated, id: id}
}

func AlreadyExists(id string) CreateIdentityResult {
	return CreateIdentityResult{kind: KindAlreadyExists, id: id}
}

func (r CreateIdentityResult) Kind() ResultKind { return r.kind }

// ExternalID is the provider's user id for both variants.
func (r CreateIdentityResult) ExternalID() string { return r.id }
