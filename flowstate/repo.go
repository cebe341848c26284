package flowstate

import "time"

// PendingAuthorization correlates one in-flight authorization attempt.
// It lives from the moment the authorization redirect is issued until the
// callback consumes it, and never longer than the flow timeout.
type PendingAuthorization struct {
	Nonce        string
	OwnerContext string
	IssuedAt     time.Time
}

// Repo stores pending authorizations keyed by nonce.
type Repo interface {
	Upsert(nonce string, pending *PendingAuthorization) error

	// Take atomically retrieves and deletes a pending authorization,
	// guaranteeing single-use semantics. Returns nil when the nonce is
	// unknown or already consumed.
	Take(nonce string) (*PendingAuthorization, error)

	Delete(nonce string) error
}
