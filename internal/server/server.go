// Package server is the HTTP surface of the hospital administrator
// authentication service. Handlers decode JSON, call the Engine, and map
// its errors onto status codes; no authentication logic lives here.
package server

import (
	"log/slog"
	"net/http"

	"github.com/MrEthical07/hospitalauth"
	"github.com/MrEthical07/hospitalauth/middleware"
	"github.com/MrEthical07/hospitalauth/token"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures a [Server].
type Options struct {
	// Cookies controls session cookie attributes. Secure should be set
	// outside local development.
	Cookies token.CookieWriter
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// Limiter enforces the route classes. Nil creates one.
	Limiter *RateLimiter
	Logger  *slog.Logger
	// DisableMetrics omits the /metrics route.
	DisableMetrics bool
}

// Server routes HTTP requests to an Engine.
type Server struct {
	engine  *hospitalauth.Engine
	cookies token.CookieWriter
	limiter *RateLimiter
	logger  *slog.Logger
	router  *mux.Router
}

// New builds the router for engine. A zero Options value gets a fresh
// limiter and a discarding logger; cookies are not marked Secure.
func New(engine *hospitalauth.Engine, opts Options) *Server {
	s := &Server{
		engine:  engine,
		cookies: opts.Cookies,
		limiter: opts.Limiter,
		logger:  opts.Logger,
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.router = s.routes(opts)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(opts Options) *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoverPanics, requestContext(opts.TrustProxy), logRequests(s.logger))

	admin := r.PathPrefix("/hospital-admin").Subrouter()
	admin.Handle("/login", s.limited(ClassLogin, s.login)).Methods(http.MethodPost)
	admin.Handle("/login/verify-2fa", s.limited(ClassVerify2FA, s.verify2FA)).Methods(http.MethodPost)
	admin.Handle("/login/resend-2fa", s.limited(ClassVerify2FA, s.resend2FA)).Methods(http.MethodPost)
	admin.Handle("/password-reset/request", s.limited(ClassResetRequest, s.resetRequest)).Methods(http.MethodPost)
	admin.Handle("/password-reset/verify", s.limited(ClassResetVerify, s.resetVerify)).Methods(http.MethodPost)
	admin.Handle("/password-reset/complete", s.limited(ClassResetComplete, s.resetComplete)).Methods(http.MethodPost)
	admin.Handle("/session", middleware.RequireSession(s.engine)(http.HandlerFunc(s.session))).Methods(http.MethodGet)

	r.HandleFunc("/token/refresh", s.refresh).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if !opts.DisableMetrics {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) limited(class RateClass, h http.HandlerFunc) http.Handler {
	return s.limiter.Middleware(class)(h)
}
