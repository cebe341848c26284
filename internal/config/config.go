package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds every recognised setting for the service. It is loaded once
// at startup, validated once, and passed by value to the components that
// need it. Nothing else in the codebase reads the environment.
type Config struct {
	AppName     string
	Env         string
	Port        string
	DatabaseURL string

	OAuth    OAuthConfig
	Tracker  TrackerConfig
	Schedule ScheduleConfig
}

// OAuthConfig configures the authorization-code and refresh-token grants
// against the tracker's auth host.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthBaseURL  string
	Audience     string
	Scopes       []string

	// RefreshBuffer is the safety margin before expiry at which an access
	// token is proactively refreshed.
	RefreshBuffer time.Duration
}

// TrackerConfig configures the tracker REST API client, the triage
// pipeline and the post-action batch.
type TrackerConfig struct {
	APIBaseURL     string
	BasicAuthUser  string
	BasicAuthToken string
	DefaultJQL     string
	RequestTimeout time.Duration

	// ExcludedStatuses extends the built-in {resolved, done, cancelled}
	// exclusion set with localized equivalents.
	ExcludedStatuses []string

	// OpenStatusMarkers are the substrings that mark an issue as "open"
	// for the post-action batch.
	OpenStatusMarkers []string

	ActionFieldID    string
	ActionFieldValue string
	TransitionA      string
	TransitionB      string
	ActionComment    string
}

// ScheduleConfig configures the two periodic loops.
type ScheduleConfig struct {
	FetchSpec          string
	RefreshSpec        string
	DefaultIdentityKey string
}

// Load reads the configuration from the environment, applying defaults.
func Load() Config {
	return Config{
		AppName:     GetEnv("APP_NAME", "Issue Sentinel"),
		Env:         GetEnv("ENV", "DEV"),
		Port:        port(),
		DatabaseURL: GetEnv("DATABASE_URL", ""),
		OAuth: OAuthConfig{
			ClientID:      GetEnv("OAUTH_CLIENT_ID", ""),
			ClientSecret:  GetEnv("OAUTH_CLIENT_SECRET", ""),
			RedirectURI:   GetEnv("OAUTH_REDIRECT_URI", ""),
			AuthBaseURL:   GetEnv("OAUTH_AUTH_BASE_URL", "https://auth.atlassian.com"),
			Audience:      GetEnv("OAUTH_AUDIENCE", "api.atlassian.com"),
			Scopes:        envList("OAUTH_SCOPES", []string{"read:jira-work", "write:jira-work", "offline_access"}),
			RefreshBuffer: envDuration("OAUTH_REFRESH_BUFFER", 60*time.Second),
		},
		Tracker: TrackerConfig{
			APIBaseURL:        GetEnv("TRACKER_API_BASE_URL", "https://api.atlassian.com"),
			BasicAuthUser:     GetEnv("TRACKER_BASIC_AUTH_USER", ""),
			BasicAuthToken:    GetEnv("TRACKER_BASIC_AUTH_TOKEN", ""),
			DefaultJQL:        GetEnv("TRACKER_DEFAULT_JQL", "project = SUP ORDER BY created DESC"),
			RequestTimeout:    envDuration("TRACKER_REQUEST_TIMEOUT", 8*time.Second),
			ExcludedStatuses:  envList("TRACKER_EXCLUDED_STATUSES", nil),
			OpenStatusMarkers: envList("TRACKER_OPEN_STATUS_MARKERS", []string{"open"}),
			ActionFieldID:     GetEnv("TRACKER_ACTION_FIELD_ID", "customfield_10031"),
			ActionFieldValue:  GetEnv("TRACKER_ACTION_FIELD_VALUE", "auto-triaged"),
			TransitionA:       GetEnv("TRACKER_TRANSITION_A", "21"),
			TransitionB:       GetEnv("TRACKER_TRANSITION_B", "31"),
			ActionComment:     GetEnv("TRACKER_ACTION_COMMENT", "Processed automatically by Issue Sentinel."),
		},
		Schedule: ScheduleConfig{
			FetchSpec:          GetEnv("SCHEDULE_FETCH_SPEC", "@every 5m"),
			RefreshSpec:        GetEnv("SCHEDULE_REFRESH_SPEC", "@every 1m"),
			DefaultIdentityKey: GetEnv("SCHEDULE_DEFAULT_IDENTITY", "primary"),
		},
	}
}

// Validate fails fast on settings that would otherwise only surface as
// runtime errors much later. OAuth client credentials are deliberately not
// required here: the service can run in basic-auth-only deployments, and
// the token authority reports their absence when an operation needs them.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Port, ":") {
		return fmt.Errorf("port %q must start with ':'", c.Port)
	}
	for name, raw := range map[string]string{
		"OAUTH_AUTH_BASE_URL":  c.OAuth.AuthBaseURL,
		"TRACKER_API_BASE_URL": c.Tracker.APIBaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s %q is not an absolute URL", name, raw)
		}
	}
	if c.OAuth.RefreshBuffer <= 0 {
		return fmt.Errorf("refresh buffer must be positive, got %s", c.OAuth.RefreshBuffer)
	}
	for name, spec := range map[string]string{
		"SCHEDULE_FETCH_SPEC":   c.Schedule.FetchSpec,
		"SCHEDULE_REFRESH_SPEC": c.Schedule.RefreshSpec,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s %q: %w", name, spec, err)
		}
	}
	if c.Schedule.DefaultIdentityKey == "" {
		return fmt.Errorf("default identity key cannot be empty")
	}
	return nil
}

func port() string {
	p := GetEnv("PORT", "8080")
	if !strings.HasPrefix(p, ":") {
		p = ":" + p
	}
	return p
}
