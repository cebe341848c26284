package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteAuthorizeBegin = "/oauth/authorize/begin"
	RouteCallback       = "/oauth/callback"
	RouteRefresh        = "/oauth/refresh"
	RouteFetch          = "/issues/fetch"
	RouteCronStart      = "/cron/start"
	RouteCronStop       = "/cron/stop"
)

func (s *Server) initRoutes() {
	api := s.APIMiddleware()

	s.RegisterRouteHandler("GET "+RouteAuthorizeBegin, ChainMiddleware(s.BeginAuthorizationHandler(), api...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(), api...))
	s.RegisterRouteHandler("POST "+RouteRefresh, ChainMiddleware(s.RefreshHandler(), api...))
	s.RegisterRouteHandler("GET "+RouteFetch, ChainMiddleware(s.FetchHandler(), api...))
	s.RegisterRouteHandler("POST "+RouteCronStart, ChainMiddleware(s.CronStartHandler(), api...))
	s.RegisterRouteHandler("POST "+RouteCronStop, ChainMiddleware(s.CronStopHandler(), api...))
}
