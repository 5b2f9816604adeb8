// Package server wires the broker protocol endpoint, the federation
// endpoints, and the browser login pages onto one HTTP surface.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/fedgate/fedgate/pkg/broker"
	"github.com/fedgate/fedgate/pkg/httputil"
	"github.com/fedgate/fedgate/pkg/identity"
	"github.com/fedgate/fedgate/pkg/observability"
	"github.com/fedgate/fedgate/pkg/ratelimit"
	"github.com/fedgate/fedgate/pkg/saml"
)

// Request bodies are tiny form posts; anything larger is abuse.
const maxRequestBody = 1 << 20

// Options carries the collaborators the server routes requests to.
type Options struct {
	Dispatcher *broker.Dispatcher
	Builder    *saml.Builder
	Carrier    saml.RelayCarrier
	Resolver   identity.Resolver
	Sessions   broker.SessionStore
	SessionTTL time.Duration
	// LoginLimiter throttles credential attempts. Nil disables throttling.
	LoginLimiter ratelimit.Limiter
	Metrics      *observability.Metrics
	Log          *logrus.Logger
}

// Server is the application's HTTP front end.
type Server struct {
	router     *mux.Router
	dispatcher *broker.Dispatcher
	builder    *saml.Builder
	carrier    saml.RelayCarrier
	resolver   identity.Resolver
	web        *webSessions
	limiter    ratelimit.Limiter
	metrics    *observability.Metrics
	log        *logrus.Logger
}

// NewServer creates the server and registers all routes.
func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logrus.New()
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = broker.DefaultSessionTTL
	}

	s := &Server{
		router:     mux.NewRouter(),
		dispatcher: opts.Dispatcher,
		builder:    opts.Builder,
		carrier:    opts.Carrier,
		resolver:   opts.Resolver,
		web:        newWebSessions(opts.Sessions, ttl),
		limiter:    opts.LoginLimiter,
		metrics:    opts.Metrics,
		log:        log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Broker protocol: one endpoint, command selected by parameter.
	s.router.HandleFunc("/broker", s.handleBrokerCommand).Methods("GET", "POST")

	// Federation endpoints.
	s.router.HandleFunc("/saml/sso", s.handleAuthnRequest).Methods("GET", "POST")
	s.router.HandleFunc("/saml/relay", s.handleRelay).Methods("GET")

	// Browser login pages.
	s.router.HandleFunc("/login", s.showLogin).Methods("GET")
	s.router.HandleFunc("/login", s.handleLogin).Methods("POST")
	s.router.HandleFunc("/logout", s.handleLogout).Methods("GET")

	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.log),
		httputil.RecoveryMiddleware(s.log),
		httputil.MaxBytesMiddleware(maxRequestBody),
	)
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
