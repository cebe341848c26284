package repopostgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-issue-sentinel/credentials"
	internalerrors "github.com/jrsteele09/go-issue-sentinel/internal/errors"
)

// Repo is a Postgres-backed implementation of credentials.Repo. Row-level
// atomicity comes from single-statement upserts and updates; no explicit
// transactions are needed.
type Repo struct {
	pool *pgxpool.Pool
}

var _ credentials.Repo = (*Repo)(nil)

// New creates a Postgres credential repository over an existing pool.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Schema is the table this repository operates on. Applied by the caller
// (deploy tooling or EnsureSchema), never implicitly.
const Schema = `
CREATE TABLE IF NOT EXISTS tracker_credentials (
    identity_key  TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL,
    access_token  TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expires_at    TIMESTAMPTZ NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// EnsureSchema creates the credentials table when it does not exist.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return errors.Wrap(err, "ensure credentials schema")
	}
	return nil
}

// Upsert stores or replaces the credential for its identity key
func (r *Repo) Upsert(ctx context.Context, cred *credentials.Credential) (*credentials.Credential, error) {
	if cred == nil {
		return nil, errors.New("credential cannot be nil")
	}
	if cred.IdentityKey == "" {
		return nil, errors.New("identity key cannot be empty")
	}

	const q = `
INSERT INTO tracker_credentials (identity_key, tenant_id, access_token, refresh_token, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (identity_key) DO UPDATE SET
    tenant_id     = EXCLUDED.tenant_id,
    access_token  = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    expires_at    = EXCLUDED.expires_at,
    updated_at    = now()
RETURNING identity_key, tenant_id, access_token, refresh_token, expires_at, created_at, updated_at`

	row := r.pool.QueryRow(ctx, q, cred.IdentityKey, cred.TenantID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt)
	stored, err := scanCredential(row)
	if err != nil {
		return nil, errors.Wrap(err, "upsert credential")
	}
	return stored, nil
}

// FindByIdentity retrieves the credential for an identity key
func (r *Repo) FindByIdentity(ctx context.Context, identityKey string) (*credentials.Credential, error) {
	if identityKey == "" {
		return nil, errors.New("identity key cannot be empty")
	}

	const q = `
SELECT identity_key, tenant_id, access_token, refresh_token, expires_at, created_at, updated_at
FROM tracker_credentials WHERE identity_key = $1`

	cred, err := scanCredential(r.pool.QueryRow(ctx, q, identityKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, internalerrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find credential")
	}
	return cred, nil
}

// UpdateTokens replaces the access token and expiry for an identity key.
// COALESCE keeps the stored refresh token when no new one is supplied.
func (r *Repo) UpdateTokens(ctx context.Context, identityKey, accessToken string, expiresAt time.Time, refreshToken *string) (int64, error) {
	if identityKey == "" {
		return 0, errors.New("identity key cannot be empty")
	}

	const q = `
UPDATE tracker_credentials SET
    access_token  = $2,
    expires_at    = $3,
    refresh_token = COALESCE($4, refresh_token),
    updated_at    = now()
WHERE identity_key = $1`

	tag, err := r.pool.Exec(ctx, q, identityKey, accessToken, expiresAt, refreshToken)
	if err != nil {
		return 0, errors.Wrap(err, "update tokens")
	}
	return tag.RowsAffected(), nil
}

// DeleteByIdentity removes the credential for an identity key
func (r *Repo) DeleteByIdentity(ctx context.Context, identityKey string) error {
	if identityKey == "" {
		return errors.New("identity key cannot be empty")
	}

	if _, err := r.pool.Exec(ctx, `DELETE FROM tracker_credentials WHERE identity_key = $1`, identityKey); err != nil {
		return errors.Wrap(err, "delete credential")
	}
	return nil
}

func scanCredential(row pgx.Row) (*credentials.Credential, error) {
	var cred credentials.Credential
	err := row.Scan(
		&cred.IdentityKey,
		&cred.TenantID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.ExpiresAt,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}
