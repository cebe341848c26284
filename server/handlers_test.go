package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-issue-sentinel/authority"
	"github.com/jrsteele09/go-issue-sentinel/credentials"
	"github.com/jrsteele09/go-issue-sentinel/credentials/repoinmemory"
	"github.com/jrsteele09/go-issue-sentinel/flowstate"
	"github.com/jrsteele09/go-issue-sentinel/internal/config"
	"github.com/jrsteele09/go-issue-sentinel/schedule"
	"github.com/jrsteele09/go-issue-sentinel/server"
	"github.com/jrsteele09/go-issue-sentinel/tracker"
)

const (
	testIdentityKey = "primary"
	testTenantID    = "T1"
)

type fixture struct {
	srv  *server.Server
	repo *repoinmemory.Repo
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo: repoinmemory.New(),
		now:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"access-1","refresh_token":"refresh-1","expires_in":3600,"token_type":"Bearer"}`)
		case "/oauth/token/accessible-resources":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `[{"id":%q,"name":"Example"}]`, testTenantID)
		case "/ex/jira/" + testTenantID + "/rest/api/3/search/jql":
			fmt.Fprint(w, `{"issues":[{"key":"SUP-1","fields":{"summary":"s","status":{"name":"Open"},"created":"2024-05-01T00:00:00.000+0000"}}]}`)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(upstream.Close)

	cfg := config.Config{
		AppName: "Issue Sentinel",
		Env:     "TEST",
		Port:    ":0",
		OAuth: config.OAuthConfig{
			ClientID:      "client-1",
			ClientSecret:  "secret-1",
			RedirectURI:   "http://localhost:3000/oauth/callback",
			AuthBaseURL:   upstream.URL,
			Audience:      "api.test",
			Scopes:        []string{"read:jira-work", "offline_access"},
			RefreshBuffer: time.Minute,
		},
		Tracker: config.TrackerConfig{
			APIBaseURL:        upstream.URL,
			RequestTimeout:    2 * time.Second,
			DefaultJQL:        "project = SUP",
			OpenStatusMarkers: []string{"open"},
			ActionFieldID:     "customfield_10031",
			ActionFieldValue:  "auto-triaged",
			TransitionA:       "21",
			TransitionB:       "31",
			ActionComment:     "handled",
		},
		Schedule: config.ScheduleConfig{
			FetchSpec:          "@every 1h",
			RefreshSpec:        "@every 1h",
			DefaultIdentityKey: testIdentityKey,
		},
	}

	auth, err := authority.New(cfg.OAuth, upstream.URL, f.repo, authority.WithNowTime(func() time.Time { return f.now }))
	require.NoError(t, err)

	guard, err := flowstate.NewGuard(flowstate.NewInMemoryRepo())
	require.NoError(t, err)

	client := tracker.NewClient(cfg.Tracker)
	pipeline := tracker.NewPipeline(nil, tracker.WithNowTime(func() time.Time { return f.now }))
	executor := tracker.NewExecutor(client, cfg.Tracker)

	poller, err := schedule.NewPoller(auth, client, pipeline, executor, cfg.Schedule, cfg.Tracker.DefaultJQL)
	require.NoError(t, err)

	srv, err := server.New(cfg, auth, guard, poller)
	require.NoError(t, err)
	f.srv = srv

	return f
}

func (f *fixture) seedCredential(t *testing.T) {
	t.Helper()
	_, err := f.repo.Upsert(context.Background(), &credentials.Credential{
		IdentityKey:  testIdentityKey,
		TenantID:     testTenantID,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    f.now.Add(time.Hour),
	})
	require.NoError(t, err)
}

// beginAuthorization drives the begin endpoint and returns the issued
// state and the flow cookie.
func (f *fixture) beginAuthorization(t *testing.T) (state string, cookie *http.Cookie) {
	t.Helper()

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.RouteAuthorizeBegin, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state = location.Query().Get("state")
	require.NotEmpty(t, state)

	for _, c := range rec.Result().Cookies() {
		if c.Name == "auth_flow_owner" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	require.Equal(t, testIdentityKey, cookie.Value)
	return state, cookie
}

func TestBeginAuthorizationRedirects(t *testing.T) {
	f := newFixture(t)

	state, _ := f.beginAuthorization(t)
	require.NotEmpty(t, state)
}

func TestCallbackExchangesCode(t *testing.T) {
	f := newFixture(t)
	state, cookie := f.beginAuthorization(t)

	req := httptest.NewRequest(http.MethodGet, server.RouteCallback+"?code=abc&state="+url.QueryEscape(state), nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var grant struct {
		TenantID  string `json:"tenantId"`
		ExpiresIn int64  `json:"expiresIn"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grant))
	require.Equal(t, testTenantID, grant.TenantID)
	require.EqualValues(t, 3600, grant.ExpiresIn)
	require.NotContains(t, rec.Body.String(), "access-1", "token values never reach the caller")

	cred, err := f.repo.FindByIdentity(context.Background(), testIdentityKey)
	require.NoError(t, err)
	require.Equal(t, "access-1", cred.AccessToken)
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	f := newFixture(t)
	_, cookie := f.beginAuthorization(t)

	req := httptest.NewRequest(http.MethodGet, server.RouteCallback+"?code=abc&state=forged", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackRejectsReplay(t *testing.T) {
	f := newFixture(t)
	state, cookie := f.beginAuthorization(t)

	first := httptest.NewRequest(http.MethodGet, server.RouteCallback+"?code=abc&state="+url.QueryEscape(state), nil)
	first.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	replay := httptest.NewRequest(http.MethodGet, server.RouteCallback+"?code=abc&state="+url.QueryEscape(state), nil)
	replay.AddCookie(cookie)
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, replay)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackMissingParams(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.RouteCallback, nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFetchWithoutCredential(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.RouteFetch, nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFetchReturnsTriageResult(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.RouteFetch, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Total        int                      `json:"total"`
		Issues       []map[string]interface{} `json:"issues"`
		StatusCounts map[string]int           `json:"statusCounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, 1, result.Total)
	require.Equal(t, "SUP-1", result.Issues[0]["key"])
	require.Equal(t, map[string]int{"Open": 1}, result.StatusCounts)
}

func TestRefreshHandlerNoOpWithoutCredential(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, server.RouteRefresh, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"no-op"}`, rec.Body.String())
}

func TestRefreshHandlerWithCredential(t *testing.T) {
	f := newFixture(t)
	f.seedCredential(t)

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, server.RouteRefresh, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCronStartStop(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, server.RouteCronStart, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"started"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, server.RouteCronStop, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"stopped"}`, rec.Body.String())
}
