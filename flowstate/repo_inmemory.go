package flowstate

import (
	"sync"

	"github.com/pkg/errors"
)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu      sync.Mutex
	pending map[string]*PendingAuthorization
}

var _ Repo = (*InMemoryRepo)(nil)

// NewInMemoryRepo creates a new in-memory pending-authorization repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		pending: make(map[string]*PendingAuthorization),
	}
}

// Upsert stores or updates a pending authorization
func (r *InMemoryRepo) Upsert(nonce string, pending *PendingAuthorization) error {
	if nonce == "" {
		return errors.New("nonce cannot be empty")
	}
	if pending == nil {
		return errors.New("pending authorization cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Copy to prevent external modifications
	r.pending[nonce] = &PendingAuthorization{
		Nonce:        pending.Nonce,
		OwnerContext: pending.OwnerContext,
		IssuedAt:     pending.IssuedAt,
	}

	return nil
}

// Take retrieves and deletes a pending authorization in one step
func (r *InMemoryRepo) Take(nonce string) (*PendingAuthorization, error) {
	if nonce == "" {
		return nil, errors.New("nonce cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pending, ok := r.pending[nonce]
	if !ok {
		return nil, nil
	}
	delete(r.pending, nonce)

	return &PendingAuthorization{
		Nonce:        pending.Nonce,
		OwnerContext: pending.OwnerContext,
		IssuedAt:     pending.IssuedAt,
	}, nil
}

// Delete removes a pending authorization
func (r *InMemoryRepo) Delete(nonce string) error {
	if nonce == "" {
		return errors.New("nonce cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pending, nonce)
	return nil
}
