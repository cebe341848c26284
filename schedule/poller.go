// Package schedule drives the periodic refresh-check and fetch loops, and
// exposes the same operations for on-demand invocation.
package schedule

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-issue-sentinel/authority"
	"github.com/jrsteele09/go-issue-sentinel/internal/config"
	internalerrors "github.com/jrsteele09/go-issue-sentinel/internal/errors"
	"github.com/jrsteele09/go-issue-sentinel/tracker"
)

// Poller owns the two scheduled loops. A tick failure is logged and never
// stops the schedule; the next tick always runs.
type Poller struct {
	auth       *authority.Authority
	client     *tracker.Client
	pipeline   *tracker.Pipeline
	executor   *tracker.Executor
	cfg        config.ScheduleConfig
	defaultJQL string

	mu   sync.Mutex
	cron *cron.Cron
}

// NewPoller initialises a new Poller with required dependencies.
func NewPoller(
	auth *authority.Authority,
	client *tracker.Client,
	pipeline *tracker.Pipeline,
	executor *tracker.Executor,
	cfg config.ScheduleConfig,
	defaultJQL string,
) (*Poller, error) {
	if auth == nil {
		return nil, errors.New("[NewPoller] authority is required")
	}
	if client == nil {
		return nil, errors.New("[NewPoller] tracker client is required")
	}
	if pipeline == nil {
		return nil, errors.New("[NewPoller] pipeline is required")
	}
	if executor == nil {
		return nil, errors.New("[NewPoller] executor is required")
	}

	return &Poller{
		auth:       auth,
		client:     client,
		pipeline:   pipeline,
		executor:   executor,
		cfg:        cfg,
		defaultJQL: defaultJQL,
	}, nil
}

// Start registers both loops and starts the scheduler. Starting an
// already-running poller is a no-op.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(p.cfg.RefreshSpec, p.refreshTick); err != nil {
		return errors.Wrapf(err, "refresh schedule %q", p.cfg.RefreshSpec)
	}
	if _, err := c.AddFunc(p.cfg.FetchSpec, p.fetchTick); err != nil {
		return errors.Wrapf(err, "fetch schedule %q", p.cfg.FetchSpec)
	}
	c.Start()
	p.cron = c

	log.Info().Str("refresh", p.cfg.RefreshSpec).Str("fetch", p.cfg.FetchSpec).Msg("scheduled loops started")
	return nil
}

// Stop halts the scheduler. Already-running ticks finish on their own.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron == nil {
		return
	}
	p.cron.Stop()
	p.cron = nil

	log.Info().Msg("scheduled loops stopped")
}

// Running reports whether the scheduler is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cron != nil
}

// RunRefresh performs one freshness check for the default identity.
// Returns true when a credential is on file and fresh (or was refreshed),
// false when no credential exists yet.
func (p *Poller) RunRefresh(ctx context.Context) (bool, error) {
	_, err := p.auth.EnsureFresh(ctx, p.cfg.DefaultIdentityKey)
	if internalerrors.Is(err, internalerrors.ErrNotAuthorized) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RunFetch performs one fetch cycle: freshness check, search, triage, then
// the post-action batch over matching issues. Freshness is checked here on
// every cycle, regardless of the separate refresh loop, so a fetch can
// never race a not-yet-run refresh tick.
func (p *Poller) RunFetch(ctx context.Context, identityKey, jql string) (*tracker.TriageResult, error) {
	if identityKey == "" {
		identityKey = p.cfg.DefaultIdentityKey
	}
	if jql == "" {
		jql = p.defaultJQL
	}

	cred, err := p.auth.EnsureFresh(ctx, identityKey)
	if err != nil {
		return nil, err
	}

	raw, err := p.client.Search(ctx, cred, jql)
	if err != nil {
		return nil, err
	}

	result := p.pipeline.Process(raw)

	applied := p.executor.ApplyMatching(ctx, cred, result.Items)
	log.Info().Str("identity", identityKey).Int("total", result.Total).Int("actioned", applied).Msg("fetch cycle complete")

	return result, nil
}

func (p *Poller) refreshTick() {
	if _, err := p.RunRefresh(context.Background()); err != nil {
		log.Error().Err(err).Msg("scheduled refresh failed")
	}
}

func (p *Poller) fetchTick() {
	if _, err := p.RunFetch(context.Background(), "", ""); err != nil {
		log.Error().Err(err).Msg("scheduled fetch failed")
	}
}
