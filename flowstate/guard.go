package flowstate

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/pkg/errors"

	internalerrors "github.com/jrsteele09/go-issue-sentinel/internal/errors"
)

const (
	nonceLength = 32 // bytes of entropy per nonce
	flowTimeout = 15 * time.Minute
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Guard issues and validates the single-use state nonce that binds an
// authorization callback to the flow that started it.
type Guard struct {
	repo Repo
}

// NewGuard creates a new anti-CSRF guard backed by the given repository.
func NewGuard(repo Repo) (*Guard, error) {
	if repo == nil {
		return nil, errors.New("[NewGuard] repo is required")
	}
	return &Guard{repo: repo}, nil
}

// Issue generates a cryptographically random, URL-safe nonce bound to the
// given owner context and records it as a pending authorization.
func (g *Guard) Issue(ownerContext string) (string, error) {
	if ownerContext == "" {
		return "", errors.New("owner context cannot be empty")
	}

	nonceBytes := make([]byte, nonceLength)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", errors.Wrap(err, "failed to generate random bytes")
	}
	nonce := base64.RawURLEncoding.EncodeToString(nonceBytes)

	if err := g.repo.Upsert(nonce, &PendingAuthorization{
		Nonce:        nonce,
		OwnerContext: ownerContext,
		IssuedAt:     NowTimeFunc(),
	}); err != nil {
		return "", errors.Wrap(err, "failed to store pending authorization")
	}

	return nonce, nil
}

// Consume validates and destroys a nonce. After a successful call the same
// nonce can never be consumed again. An unknown, replayed, expired or
// mis-owned nonce fails with ErrCsrf.
func (g *Guard) Consume(nonce, ownerContext string) error {
	if nonce == "" {
		return internalerrors.Wrapf(internalerrors.ErrCsrf, "empty state")
	}

	pending, err := g.repo.Take(nonce)
	if err != nil {
		return errors.Wrap(err, "failed to look up pending authorization")
	}
	if pending == nil {
		return internalerrors.Wrapf(internalerrors.ErrCsrf, "unknown or already consumed state")
	}
	if pending.OwnerContext != ownerContext {
		return internalerrors.Wrapf(internalerrors.ErrCsrf, "state bound to a different context")
	}
	if NowTimeFunc().Sub(pending.IssuedAt) > flowTimeout {
		return internalerrors.Wrapf(internalerrors.ErrCsrf, "state expired")
	}

	return nil
}
