package server

import (
	"net/http"
)

const (
	// flowCookieName tracks which identity key an in-flight authorization
	// belongs to, so the callback can bind the consumed nonce to it.
	flowCookieName   = "auth_flow_owner"
	flowCookieMaxAge = 15 * 60 // seconds, matches the guard's flow timeout
)

// BeginAuthorizationHandler issues a CSRF nonce for the identity key and
// redirects the caller to the provider's consent screen.
func (s *Server) BeginAuthorizationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identityKey := r.URL.Query().Get("identity")
		if identityKey == "" {
			identityKey = s.config.Schedule.DefaultIdentityKey
		}

		nonce, err := s.guard.Issue(identityKey)
		if err != nil {
			writeError(w, err)
			return
		}

		authorizeURL, err := s.auth.BuildAuthorizationURL(nonce)
		if err != nil {
			writeError(w, err)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     flowCookieName,
			Value:    identityKey,
			Path:     "/",
			MaxAge:   flowCookieMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})

		http.Redirect(w, r, authorizeURL, http.StatusFound)
	}
}

// CallbackHandler consumes the state nonce and exchanges the code. On
// success it reports only the tenant id and expiry; tokens stay in the
// store.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		if code == "" || state == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code and state are required"})
			return
		}

		ownerContext := ""
		if cookie, err := r.Cookie(flowCookieName); err == nil {
			ownerContext = cookie.Value
		}

		if err := s.guard.Consume(state, ownerContext); err != nil {
			writeError(w, err)
			return
		}

		grant, err := s.auth.ExchangeCode(r.Context(), code, ownerContext)
		if err != nil {
			writeError(w, err)
			return
		}

		// Flow is complete, drop the correlation cookie.
		http.SetCookie(w, &http.Cookie{Name: flowCookieName, Path: "/", MaxAge: -1})

		writeJSON(w, http.StatusOK, grant)
	}
}

// FetchHandler runs one on-demand fetch cycle.
func (s *Server) FetchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identityKey := r.URL.Query().Get("identity")
		jql := r.URL.Query().Get("query")

		result, err := s.poller.RunFetch(r.Context(), identityKey, jql)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// RefreshHandler runs one on-demand freshness check for the default
// identity.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := s.poller.RunRefresh(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		status := "ok"
		if !ok {
			status = "no-op"
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	}
}

// CronStartHandler starts the scheduled loops.
func (s *Server) CronStartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.poller.Start(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
	}
}

// CronStopHandler stops the scheduled loops.
func (s *Server) CronStopHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.poller.Stop()
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	}
}
