package credentials

import "time"

// Credential is the stored OAuth credential set for one identity key.
// There is at most one live credential per identity key; every full
// re-authorization replaces it and every refresh mutates it in place.
type Credential struct {
	IdentityKey  string
	TenantID     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TimeUntilExpiry returns how long the access token remains valid at the
// given instant. Negative when already expired.
func (c *Credential) TimeUntilExpiry(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}
