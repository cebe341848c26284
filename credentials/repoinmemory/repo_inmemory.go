package repoinmemory

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-issue-sentinel/credentials"
	internalerrors "github.com/jrsteele09/go-issue-sentinel/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Repo is a thread-safe in-memory implementation of credentials.Repo
type Repo struct {
	mu    sync.RWMutex
	creds map[string]*credentials.Credential
}

var _ credentials.Repo = (*Repo)(nil)

// New creates a new in-memory credential repository
func New() *Repo {
	return &Repo{
		creds: make(map[string]*credentials.Credential),
	}
}

// Upsert stores or replaces the credential for its identity key
func (r *Repo) Upsert(_ context.Context, cred *credentials.Credential) (*credentials.Credential, error) {
	if cred == nil {
		return nil, errors.New("credential cannot be nil")
	}
	if cred.IdentityKey == "" {
		return nil, errors.New("identity key cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := NowTimeFunc()
	stored := copyOf(cred)
	stored.UpdatedAt = now
	if existing, ok := r.creds[cred.IdentityKey]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	r.creds[cred.IdentityKey] = stored

	return copyOf(stored), nil
}

// FindByIdentity retrieves the credential for an identity key
func (r *Repo) FindByIdentity(_ context.Context, identityKey string) (*credentials.Credential, error) {
	if identityKey == "" {
		return nil, errors.New("identity key cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, ok := r.creds[identityKey]
	if !ok {
		return nil, internalerrors.ErrNotFound
	}

	return copyOf(cred), nil
}

// UpdateTokens replaces the access token and expiry for an identity key.
// The refresh token is only replaced when a new one is supplied.
func (r *Repo) UpdateTokens(_ context.Context, identityKey, accessToken string, expiresAt time.Time, refreshToken *string) (int64, error) {
	if identityKey == "" {
		return 0, errors.New("identity key cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cred, ok := r.creds[identityKey]
	if !ok {
		return 0, nil
	}

	cred.AccessToken = accessToken
	cred.ExpiresAt = expiresAt
	if refreshToken != nil {
		cred.RefreshToken = *refreshToken
	}
	cred.UpdatedAt = NowTimeFunc()

	return 1, nil
}

// DeleteByIdentity removes the credential for an identity key
func (r *Repo) DeleteByIdentity(_ context.Context, identityKey string) error {
	if identityKey == "" {
		return errors.New("identity key cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.creds, identityKey)
	return nil
}

// copyOf prevents external modifications of stored state
func copyOf(cred *credentials.Credential) *credentials.Credential {
	c := *cred
	return &c
}
