package credentials

import (
	"context"
	"time"
)

// Repo persists one credential set per identity key. Implementations must
// make every operation atomic with respect to a single identity row.
type Repo interface {
	// Upsert creates the credential for the identity key, or replaces the
	// tenant, tokens and expiry on the existing row. It never creates a
	// duplicate row for the same key.
	Upsert(ctx context.Context, cred *Credential) (*Credential, error)

	// FindByIdentity returns the stored credential, or
	// internal/errors.ErrNotFound when no credential exists for the key.
	FindByIdentity(ctx context.Context, identityKey string) (*Credential, error)

	// UpdateTokens replaces the access token and expiry. The refresh token
	// is replaced only when refreshToken is non-nil; a nil value preserves
	// the previously stored one. Returns the number of rows affected.
	UpdateTokens(ctx context.Context, identityKey, accessToken string, expiresAt time.Time, refreshToken *string) (int64, error)

	// DeleteByIdentity removes the credential. Deleting an absent key is
	// not an error.
	DeleteByIdentity(ctx context.Context, identityKey string) error
}
