package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// TokenManager owns one SAS token for one scope and renews it lazily.
// Renewal is synchronous: the caller that observes an expired token pays
// for the re-signing. The mutex covers the whole check-then-regenerate
// section so concurrent callers never mint two tokens for the same scope.
type TokenManager struct {
	mu      sync.Mutex
	signer  interfaces.KeySigner
	scope   Scope
	ttl     time.Duration
	keyName string
	token   *Token

	now func() time.Time
}

// NewTokenManager creates a manager minting tokens over the scope with the
// given lifetime. keyName is optional and carried into every token as skn.
func NewTokenManager(signer interfaces.KeySigner, scope Scope, ttl time.Duration, keyName string) (*TokenManager, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: signer is nil", interfaces.ErrInvalidArgument)
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", interfaces.ErrInvalidArgument)
	}

	return &TokenManager{
		signer:  signer,
		scope:   scope,
		ttl:     ttl,
		keyName: keyName,
		now:     time.Now,
	}, nil
}

// Scope returns the scope the manager mints tokens for.
func (m *TokenManager) Scope() Scope {
	return m.scope
}

// Token returns the current token, re-signing first if none exists or the
// cached one is expired. A fresh token is returned as-is without touching
// the signer.
func (m *TokenManager) Token() (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != nil && !m.token.IsExpiredAt(m.now()) {
		return *m.token, nil
	}

	token, err := BuildToken(m.signer, m.scope, m.ttl, m.keyName, m.now())
	if err != nil {
		return Token{}, err
	}
	m.token = &token
	return token, nil
}
