// Package identitytest provides an in-memory identity.Provider for tests.
package identitytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kitchenops/kitchenops-backend/internal/identity"
)

// Provider stores identities by email and records notifications.
type Provider struct {
	mu sync.Mutex

	CreateErr    error
	MagicLinkErr error
	SignOutErr   error

	Identities map[string]string
	MagicLinks []string
	SignedOut  []string

	seq int
}

func NewProvider() *Provider {
	return &Provider{Identities: map[string]string{}}
}

func (p *Provider) CreateIdentity(_ context.Context, email string, _ map[string]string) (identity.CreateIdentityResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateErr != nil {
		return identity.CreateIdentityResult{}, p.CreateErr
	}
	if id, ok := p.Identities[email]; ok {
		return identity.AlreadyExists(id), nil
	}
	p.seq++
	id := fmt.Sprintf("auth-%d", p.seq)
	p.Identities[email] = id
	return identity.Created(id), nil
}

func (p *Provider) SendMagicLink(_ context.Context, email, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.MagicLinkErr != nil {
		return p.MagicLinkErr
	}
	p.MagicLinks = append(p.MagicLinks, email)
	return nil
}

func (p *Provider) SignOut(_ context.Context, externalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SignOutErr != nil {
		return p.SignOutErr
	}
	p.SignedOut = append(p.SignedOut, externalID)
	return nil
}

// MagicLinkCount returns how many notifications were sent to email.
func (p *Provider) MagicLinkCount(email string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, sent := range p.MagicLinks {
		if sent == email {
			n++
		}
	}
	return n
}

var _ identity.Provider = (*Provider)(nil)
