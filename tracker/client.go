// Package tracker talks to the remote issue tracker's REST API: JQL
// search, field updates, workflow transitions and comments. It also hosts
// the triage pipeline and the post-action executor built on top of those
// calls.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-issue-sentinel/credentials"
	"github.com/jrsteele09/go-issue-sentinel/internal/config"
	internalerrors "github.com/jrsteele09/go-issue-sentinel/internal/errors"
)

const (
	searchPath      = "/rest/api/3/search/jql"
	issuePathPrefix = "/rest/api/3/issue/"

	searchMaxRetries = 3
)

// Client is the HTTP client for the tracker REST API. Reads are retried
// with exponential backoff; writes are single attempts.
type Client struct {
	cfg        config.TrackerConfig
	httpClient *http.Client
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a new tracker API client.
func NewClient(cfg config.TrackerConfig, options ...ClientOption) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
	if c.httpClient.Timeout == 0 {
		c.httpClient.Timeout = 8 * time.Second
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Search runs a JQL query and returns the raw response body. The body is
// handed to the triage pipeline undecoded so that malformed payloads are
// the pipeline's recoverable condition, not a client failure.
func (c *Client) Search(ctx context.Context, cred *credentials.Credential, jql string) (json.RawMessage, error) {
	searchURL := c.resourceURL(cred, searchPath) + "?jql=" + url.QueryEscape(jql)

	var body json.RawMessage
	operation := func() error {
		raw, err := c.do(ctx, cred, http.MethodGet, searchURL, nil)
		if err != nil {
			var transient *transientError
			if errors.As(err, &transient) {
				return err
			}
			return backoff.Permanent(err)
		}
		body = raw
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), searchMaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

// UpdateFields sets issue fields to the given values.
func (c *Client) UpdateFields(ctx context.Context, cred *credentials.Credential, issueKey string, fields map[string]interface{}) error {
	payload := map[string]interface{}{"fields": fields}
	_, err := c.do(ctx, cred, http.MethodPut, c.resourceURL(cred, issuePathPrefix+issueKey), payload)
	return err
}

// Transition applies a workflow transition to an issue.
func (c *Client) Transition(ctx context.Context, cred *credentials.Credential, issueKey, transitionID string) error {
	payload := map[string]interface{}{
		"transition": map[string]string{"id": transitionID},
	}
	_, err := c.do(ctx, cred, http.MethodPost, c.resourceURL(cred, issuePathPrefix+issueKey+"/transitions"), payload)
	return err
}

// Comment adds a comment to an issue. The body is wrapped in the minimal
// document format the v3 API requires.
func (c *Client) Comment(ctx context.Context, cred *credentials.Credential, issueKey, text string) error {
	payload := map[string]interface{}{
		"body": map[string]interface{}{
			"type":    "doc",
			"version": 1,
			"content": []interface{}{
				map[string]interface{}{
					"type": "paragraph",
					"content": []interface{}{
						map[string]interface{}{"type": "text", "text": text},
					},
				},
			},
		},
	}
	_, err := c.do(ctx, cred, http.MethodPost, c.resourceURL(cred, issuePathPrefix+issueKey+"/comment"), payload)
	return err
}

// resourceURL builds the request URL for a tenant-scoped API path. OAuth
// deployments go through the gateway's per-tenant prefix; basic-auth
// deployments address the site directly.
func (c *Client) resourceURL(cred *credentials.Credential, path string) string {
	if c.basicAuthConfigured() {
		return c.cfg.APIBaseURL + path
	}
	return c.cfg.APIBaseURL + "/ex/jira/" + cred.TenantID + path
}

func (c *Client) basicAuthConfigured() bool {
	return c.cfg.BasicAuthUser != "" && c.cfg.BasicAuthToken != ""
}

// transientError marks upstream failures worth retrying on idempotent
// reads: transport errors and 5xx responses.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// do performs one request and classifies failures: transport errors and
// 5xx responses are transient upstream errors, other non-2xx are terminal
// upstream failures.
func (c *Client) do(ctx context.Context, cred *credentials.Credential, method, requestURL string, payload interface{}) (json.RawMessage, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request body")
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.basicAuthConfigured() {
		req.SetBasicAuth(c.cfg.BasicAuthUser, c.cfg.BasicAuthToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transientError{internalerrors.Wrapf(internalerrors.ErrUpstream, "%s %s: %v", method, requestURL, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{internalerrors.Wrapf(internalerrors.ErrUpstream, "%s %s: reading response: %v", method, requestURL, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debug().Int("status", resp.StatusCode).Str("method", method).Str("url", requestURL).Bytes("body", body).Msg("tracker request failed")
		err := internalerrors.Wrapf(internalerrors.ErrUpstream, "%s %s: status %d", method, requestURL, resp.StatusCode)
		if resp.StatusCode >= 500 {
			return nil, &transientError{err}
		}
		return nil, err
	}

	return body, nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}
