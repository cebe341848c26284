// Package server is the thin HTTP routing layer over the authority, the
// anti-CSRF guard and the poller. It maps the error taxonomy onto status
// codes and never exposes token values outward.
package server

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-issue-sentinel/authority"
	"github.com/jrsteele09/go-issue-sentinel/flowstate"
	"github.com/jrsteele09/go-issue-sentinel/internal/config"
	"github.com/jrsteele09/go-issue-sentinel/schedule"
)

type Server struct {
	env    string // Environment (e.g., "DEV", "production")
	mux    *http.ServeMux
	routes []string
	config config.Config
	auth   *authority.Authority
	guard  *flowstate.Guard
	poller *schedule.Poller
}

func New(cfg config.Config, auth *authority.Authority, guard *flowstate.Guard, poller *schedule.Poller) (*Server, error) {
	if auth == nil {
		return nil, fmt.Errorf("[server.New] authority is required")
	}
	if guard == nil {
		return nil, fmt.Errorf("[server.New] guard is required")
	}
	if poller == nil {
		return nil, fmt.Errorf("[server.New] poller is required")
	}

	s := &Server{
		mux:    http.NewServeMux(),
		config: cfg,
		auth:   auth,
		guard:  guard,
		poller: poller,
		env:    cfg.Env,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) logRoutes() {
	for _, route := range s.routes {
		log.Debug().Str("route", route).Msg("registered")
	}
}
