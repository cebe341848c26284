package tracker

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-issue-sentinel/credentials"
	"github.com/jrsteele09/go-issue-sentinel/internal/config"
)

// Executor performs the fixed write-back sequence on issues that match
// the open-status policy. The sequence is a best-effort batch, not a
// transaction: a failed step is logged and never aborts or rolls back the
// steps around it.
type Executor struct {
	client *Client
	cfg    config.TrackerConfig
}

// NewExecutor creates a post-action executor over the given client.
func NewExecutor(client *Client, cfg config.TrackerConfig) *Executor {
	return &Executor{client: client, cfg: cfg}
}

// Apply runs the write-back sequence against one issue, in strict order:
// field update, transition A, transition B, comment.
func (e *Executor) Apply(ctx context.Context, cred *credentials.Credential, issueKey string) {
	fields := map[string]interface{}{e.cfg.ActionFieldID: e.cfg.ActionFieldValue}
	if err := e.client.UpdateFields(ctx, cred, issueKey, fields); err != nil {
		log.Warn().Err(err).Str("issue", issueKey).Msg("post-action field update failed")
	}
	if err := e.client.Transition(ctx, cred, issueKey, e.cfg.TransitionA); err != nil {
		log.Warn().Err(err).Str("issue", issueKey).Str("transition", e.cfg.TransitionA).Msg("post-action transition failed")
	}
	if err := e.client.Transition(ctx, cred, issueKey, e.cfg.TransitionB); err != nil {
		log.Warn().Err(err).Str("issue", issueKey).Str("transition", e.cfg.TransitionB).Msg("post-action transition failed")
	}
	if err := e.client.Comment(ctx, cred, issueKey, e.cfg.ActionComment); err != nil {
		log.Warn().Err(err).Str("issue", issueKey).Msg("post-action comment failed")
	}
}

// ApplyMatching runs Apply over every summarised issue whose status
// matches the open-status policy, and returns how many were processed.
// One issue's failures never stop the rest of the batch.
func (e *Executor) ApplyMatching(ctx context.Context, cred *credentials.Credential, items []IssueSummary) int {
	applied := 0
	for _, item := range items {
		if !e.matchesOpenPolicy(item.Status) {
			continue
		}
		e.Apply(ctx, cred, item.Key)
		applied++
	}
	return applied
}

// matchesOpenPolicy reports whether a status counts as "open". The match
// is a substring check against the configured markers, mirroring how the
// upstream workflow names localized open states.
func (e *Executor) matchesOpenPolicy(status string) bool {
	normalized := normalizeStatus(status)
	for _, marker := range e.cfg.OpenStatusMarkers {
		if marker == "" {
			continue
		}
		if strings.Contains(normalized, normalizeStatus(marker)) {
			return true
		}
	}
	return false
}
