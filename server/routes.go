package server

import "github.com/prometheus/client_golang/prometheus/promhttp"

func (s *Server) initRoutes() {
	auth := ChainMiddleware(s.auth.ServeHTTP, s.AuthMiddleware()...)

	// AUTH (GET and POST alike; the handoff decides per request)
	s.RegisterRouteHandler("GET "+RouteAuth, auth)
	s.RegisterRouteHandler("POST "+RouteAuth, auth)
	s.RegisterRouteHandler("OPTIONS "+RouteAuth, auth)

	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.Handler())
}
