// Package authority owns the OAuth2 authorization-code and refresh-token
// grants against the tracker's auth host, and keeps the stored credential
// fresh for every consumer that needs a bearer token.
package authority

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/jrsteele09/go-issue-sentinel/credentials"
	"github.com/jrsteele09/go-issue-sentinel/internal/config"
	internalerrors "github.com/jrsteele09/go-issue-sentinel/internal/errors"
)

const (
	authorizePath           = "/authorize"
	tokenPath               = "/oauth/token"
	accessibleResourcesPath = "/oauth/token/accessible-resources"

	defaultHTTPTimeout = 8 * time.Second
	defaultExpiresIn   = 3600 // seconds, when the provider omits expires_in
)

// Grant is the caller-facing result of an authorization-code exchange.
// Token values are deliberately absent; they live only in the store.
type Grant struct {
	TenantID  string `json:"tenantId"`
	ExpiresIn int64  `json:"expiresIn"`
}

// Authority performs the OAuth2 grants and coordinates token refreshes.
type Authority struct {
	cfg        config.OAuthConfig
	apiBaseURL string
	repo       credentials.Repo
	httpClient *http.Client
	nowTime    func() time.Time // injectable for testing

	// refreshGroup collapses concurrent refresh attempts for the same
	// identity key into a single in-flight grant. The provider may rotate
	// the refresh token on first use, so a second concurrent grant with
	// the same refresh token would desynchronise local state.
	refreshGroup singleflight.Group
}

// Option defines a function type to modify the Authority instance.
type Option func(*Authority)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(a *Authority) {
		a.nowTime = nowFunc
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(a *Authority) {
		a.httpClient = client
	}
}

// New initialises a new Authority with required dependencies.
func New(cfg config.OAuthConfig, apiBaseURL string, repo credentials.Repo, options ...Option) (*Authority, error) {
	if repo == nil {
		return nil, errors.New("[authority.New] credentials repo is required")
	}
	if apiBaseURL == "" {
		return nil, errors.New("[authority.New] api base URL is required")
	}

	a := &Authority{
		cfg:        cfg,
		apiBaseURL: apiBaseURL,
		repo:       repo,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		nowTime:    time.Now,
	}

	for _, opt := range options {
		opt(a)
	}

	return a, nil
}

// oauthConfig builds the x/oauth2 configuration for the fixed endpoints.
func (a *Authority) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		RedirectURL:  a.cfg.RedirectURI,
		Scopes:       a.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   a.cfg.AuthBaseURL + authorizePath,
			TokenURL:  a.cfg.AuthBaseURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// BuildAuthorizationURL constructs the provider's authorization endpoint
// URL for the given state nonce. prompt=consent forces refresh-token
// issuance even when the user has already consented.
func (a *Authority) BuildAuthorizationURL(nonce string) (string, error) {
	if a.cfg.ClientID == "" || a.cfg.RedirectURI == "" {
		return "", internalerrors.Wrapf(internalerrors.ErrConfiguration, "client id and redirect URI are required")
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("prompt", "consent"),
	}
	if a.cfg.Audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", a.cfg.Audience))
	}

	return a.oauthConfig().AuthCodeURL(nonce, opts...), nil
}

// ExchangeCode redeems an authorization code, resolves the tenant the
// grant authorises, and persists the resulting credential set under the
// identity key. Only the tenant id and expiry ever leave this layer.
func (a *Authority) ExchangeCode(ctx context.Context, code, identityKey string) (*Grant, error) {
	if a.cfg.ClientID == "" || a.cfg.ClientSecret == "" || a.cfg.RedirectURI == "" {
		return nil, internalerrors.Wrapf(internalerrors.ErrConfiguration, "client id, client secret and redirect URI are required")
	}

	tok, err := a.oauthConfig().Exchange(a.clientContext(ctx), code)
	if err != nil {
		return nil, classifyTokenError(err, internalerrors.ErrProtocol)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, internalerrors.Wrapf(internalerrors.ErrProtocol, "token response missing access or refresh token")
	}

	tenantID, err := a.resolveTenant(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	expiresIn := expiresInSeconds(tok)
	expiresAt := a.nowTime().Add(time.Duration(expiresIn) * time.Second)

	if _, err := a.repo.Upsert(ctx, &credentials.Credential{
		IdentityKey:  identityKey,
		TenantID:     tenantID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
	}); err != nil {
		return nil, errors.Wrap(err, "failed to store credential")
	}

	log.Info().Str("identity", identityKey).Str("tenant", tenantID).Int64("expiresIn", expiresIn).Msg("authorization code exchanged")

	return &Grant{TenantID: tenantID, ExpiresIn: expiresIn}, nil
}

// EnsureFresh returns a credential whose access token is valid for at
// least the configured refresh buffer, refreshing it first if necessary.
// Concurrent calls for the same identity key share one in-flight refresh.
func (a *Authority) EnsureFresh(ctx context.Context, identityKey string) (*credentials.Credential, error) {
	v, err, _ := a.refreshGroup.Do(identityKey, func() (interface{}, error) {
		return a.ensureFresh(ctx, identityKey)
	})
	if err != nil {
		return nil, err
	}
	return v.(*credentials.Credential), nil
}

func (a *Authority) ensureFresh(ctx context.Context, identityKey string) (*credentials.Credential, error) {
	cred, err := a.repo.FindByIdentity(ctx, identityKey)
	if internalerrors.Is(err, internalerrors.ErrNotFound) {
		return nil, internalerrors.Wrapf(internalerrors.ErrNotAuthorized, "identity %q", identityKey)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load credential")
	}

	now := a.nowTime()
	if cred.TimeUntilExpiry(now) >= a.cfg.RefreshBuffer {
		return cred, nil
	}

	log.Debug().Str("identity", identityKey).Time("expiresAt", cred.ExpiresAt).Msg("access token inside refresh buffer, refreshing")

	tok, err := a.oauthConfig().TokenSource(a.clientContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		// The stored credential is left untouched so a later attempt can
		// retry from the last-known-good state.
		return nil, internalerrors.Wrapf(internalerrors.ErrRefreshFailed, "refresh grant for identity %q: %v", identityKey, err)
	}
	if tok.AccessToken == "" {
		return nil, internalerrors.Wrapf(internalerrors.ErrRefreshFailed, "refresh response missing access token for identity %q", identityKey)
	}

	expiresAt := a.nowTime().Add(time.Duration(expiresInSeconds(tok)) * time.Second)

	var newRefreshToken *string
	if tok.RefreshToken != "" {
		newRefreshToken = &tok.RefreshToken
	}

	if _, err := a.repo.UpdateTokens(ctx, identityKey, tok.AccessToken, expiresAt, newRefreshToken); err != nil {
		return nil, errors.Wrap(err, "failed to store refreshed tokens")
	}

	cred.AccessToken = tok.AccessToken
	cred.ExpiresAt = expiresAt
	if newRefreshToken != nil {
		cred.RefreshToken = *newRefreshToken
	}

	log.Info().Str("identity", identityKey).Time("expiresAt", expiresAt).Msg("access token refreshed")

	return cred, nil
}

// resolveTenant lists the resources the new grant authorises and takes
// the first entry's identifier.
func (a *Authority) resolveTenant(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBaseURL+accessibleResourcesPath, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to create accessible-resources request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", internalerrors.Wrapf(internalerrors.ErrUpstream, "accessible-resources request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", internalerrors.Wrapf(internalerrors.ErrUpstream, "accessible-resources response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Debug().Int("status", resp.StatusCode).Bytes("body", body).Msg("accessible-resources request failed")
		return "", internalerrors.Wrapf(internalerrors.ErrUpstream, "accessible-resources returned status %d", resp.StatusCode)
	}

	var resources []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := json.Unmarshal(body, &resources); err != nil {
		log.Debug().Bytes("body", body).Msg("accessible-resources response malformed")
		return "", internalerrors.Wrapf(internalerrors.ErrProtocol, "accessible-resources response malformed: %v", err)
	}
	if len(resources) == 0 {
		return "", internalerrors.Wrapf(internalerrors.ErrAuthorization, "no accessible resource")
	}

	return resources[0].ID, nil
}

// clientContext makes x/oauth2 use the authority's HTTP client (and its
// timeout) for grant requests.
func (a *Authority) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// expiresInSeconds reads the provider's expires_in from the token
// response, falling back to a one hour default when absent.
func expiresInSeconds(tok *oauth2.Token) int64 {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		if v > 0 {
			return int64(v)
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			return n
		}
	}
	return defaultExpiresIn
}

// classifyTokenError maps x/oauth2 failures onto the error taxonomy: a
// non-2xx token endpoint response or a transport failure is an upstream
// error, anything else (such as a 2xx response missing required fields)
// violated the protocol.
func classifyTokenError(err error, contractErr error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		log.Debug().Int("status", retrieveErr.Response.StatusCode).Bytes("body", retrieveErr.Body).Msg("token endpoint rejected grant")
		return internalerrors.Wrapf(internalerrors.ErrUpstream, "token endpoint returned status %d", retrieveErr.Response.StatusCode)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return internalerrors.Wrapf(internalerrors.ErrUpstream, "token endpoint unreachable: %v", urlErr)
	}
	return internalerrors.Wrapf(contractErr, "token response invalid: %v", err)
}
