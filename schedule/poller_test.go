package schedule_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-issue-sentinel/authority"
	"github.com/jrsteele09/go-issue-sentinel/credentials"
	"github.com/jrsteele09/go-issue-sentinel/credentials/repoinmemory"
	"github.com/jrsteele09/go-issue-sentinel/internal/config"
	"github.com/jrsteele09/go-issue-sentinel/internal/errors"
	"github.com/jrsteele09/go-issue-sentinel/schedule"
	"github.com/jrsteele09/go-issue-sentinel/tracker"
)

const (
	testIdentityKey = "primary"
	testTenantID    = "T1"
)

// fixture wires a poller against one httptest server that plays both the
// auth host and the tracker API.
type fixture struct {
	repo   *repoinmemory.Repo
	poller *schedule.Poller
	now    time.Time

	mu         sync.Mutex
	calls      []string
	searchBody string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		now:        time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		repo:       repoinmemory.New(),
		searchBody: `{"issues":[{"key":"SUP-1","fields":{"summary":"s","status":{"name":"Open"},"created":"2024-05-01T00:00:00.000+0000"}}]}`,
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		body := f.searchBody
		f.mu.Unlock()

		switch r.URL.Path {
		case "/oauth/token":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"access-2","refresh_token":"refresh-2","expires_in":3600,"token_type":"Bearer"}`)
		case "/ex/jira/" + testTenantID + "/rest/api/3/search/jql":
			fmt.Fprint(w, body)
		default:
			w.WriteHeader(http.StatusNoContent) // post-action writes
		}
	}))
	t.Cleanup(ts.Close)

	oauthCfg := config.OAuthConfig{
		ClientID:      "client-1",
		ClientSecret:  "secret-1",
		RedirectURI:   "http://localhost:3000/callback",
		AuthBaseURL:   ts.URL,
		Scopes:        []string{"read:jira-work", "offline_access"},
		RefreshBuffer: time.Minute,
	}
	auth, err := authority.New(oauthCfg, ts.URL, f.repo, authority.WithNowTime(func() time.Time { return f.now }))
	require.NoError(t, err)

	trackerCfg := config.TrackerConfig{
		APIBaseURL:        ts.URL,
		RequestTimeout:    2 * time.Second,
		OpenStatusMarkers: []string{"open"},
		ActionFieldID:     "customfield_10031",
		ActionFieldValue:  "auto-triaged",
		TransitionA:       "21",
		TransitionB:       "31",
		ActionComment:     "handled",
	}
	client := tracker.NewClient(trackerCfg)
	pipeline := tracker.NewPipeline(nil, tracker.WithNowTime(func() time.Time { return f.now }))
	executor := tracker.NewExecutor(client, trackerCfg)

	scheduleCfg := config.ScheduleConfig{
		FetchSpec:          "@every 1h",
		RefreshSpec:        "@every 1h",
		DefaultIdentityKey: testIdentityKey,
	}
	poller, err := schedule.NewPoller(auth, client, pipeline, executor, scheduleCfg, "project = SUP")
	require.NoError(t, err)
	f.poller = poller

	return f
}

func (f *fixture) seedCredential(t *testing.T, expiresAt time.Time) {
	t.Helper()
	_, err := f.repo.Upsert(context.Background(), &credentials.Credential{
		IdentityKey:  testIdentityKey,
		TenantID:     testTenantID,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    expiresAt,
	})
	require.NoError(t, err)
}

func (f *fixture) recordedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestRunFetchSearchesTriagesAndActions(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, f.now.Add(time.Hour))

	result, err := f.poller.RunFetch(context.Background(), "", "")
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	require.Equal(t, "SUP-1", result.Items[0].Key)
	require.Equal(t, map[string]int{"Open": 1}, result.CountsByStatus)

	calls := f.recordedCalls()
	require.Equal(t, "GET /ex/jira/T1/rest/api/3/search/jql", calls[0])
	require.Contains(t, calls, "PUT /ex/jira/T1/rest/api/3/issue/SUP-1")
	require.Contains(t, calls, "POST /ex/jira/T1/rest/api/3/issue/SUP-1/comment")
	require.Len(t, calls, 5, "search plus four post-action writes")
}

func TestRunFetchRefreshesBeforeSearch(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, f.now.Add(30*time.Second)) // inside the refresh buffer

	_, err := f.poller.RunFetch(context.Background(), "", "")
	require.NoError(t, err)

	calls := f.recordedCalls()
	require.Equal(t, "POST /oauth/token", calls[0], "freshness is checked before the search call")
	require.Equal(t, "GET /ex/jira/T1/rest/api/3/search/jql", calls[1])

	cred, err := f.repo.FindByIdentity(context.Background(), testIdentityKey)
	require.NoError(t, err)
	require.Equal(t, "access-2", cred.AccessToken)
}

func TestRunFetchWithoutCredential(t *testing.T) {
	f := newFixture(t)

	_, err := f.poller.RunFetch(context.Background(), "", "")
	require.ErrorIs(t, err, errors.ErrNotAuthorized)
	require.Empty(t, f.recordedCalls(), "no network call without a credential")
}

func TestRunFetchMalformedSearchPayloadYieldsEmptyResult(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, f.now.Add(time.Hour))
	f.mu.Lock()
	f.searchBody = `{"issues":"not-an-array"}`
	f.mu.Unlock()

	result, err := f.poller.RunFetch(context.Background(), "", "")
	require.NoError(t, err)
	require.Equal(t, 0, result.Total)
	require.Empty(t, result.Items)
}

func TestRunRefreshWithoutCredentialIsNoOp(t *testing.T) {
	f := newFixture(t)

	ok, err := f.poller.RunRefresh(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, f.recordedCalls())
}

func TestRunRefreshFreshCredentialSkipsGrant(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t, f.now.Add(time.Hour))

	ok, err := f.poller.RunRefresh(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, f.recordedCalls())
}

func TestStartStopIdempotent(t *testing.T) {
	f := newFixture(t)

	require.False(t, f.poller.Running())
	require.NoError(t, f.poller.Start())
	require.True(t, f.poller.Running())
	require.NoError(t, f.poller.Start(), "second start is a no-op")

	f.poller.Stop()
	require.False(t, f.poller.Running())
	f.poller.Stop() // second stop is a no-op
}
