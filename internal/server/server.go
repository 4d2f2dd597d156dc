package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/maltehedderich/rate-governor/internal/auth"
	"github.com/maltehedderich/rate-governor/internal/config"
	"github.com/maltehedderich/rate-governor/internal/health"
	"github.com/maltehedderich/rate-governor/internal/logger"
	"github.com/maltehedderich/rate-governor/internal/metrics"
	"github.com/maltehedderich/rate-governor/internal/middleware"
	"github.com/maltehedderich/rate-governor/internal/ratelimit"
	"github.com/maltehedderich/rate-governor/internal/router"
	"github.com/maltehedderich/rate-governor/internal/tracing"
)

// CheckPath is the decision API for services that are not written in Go.
const CheckPath = "/v1/check"

const maxPathLength = 2048

// Dependencies are the components the server routes requests to
type Dependencies struct {
	Governor *ratelimit.Governor
	Routes   *router.Router
	Identity *auth.Middleware // optional
	Health   *health.Manager
}

// Server serves the check API, the rate limited decision endpoint and
// the operational endpoints
type Server struct {
	config      *config.Config
	deps        Dependencies
	failureMode ratelimit.FailureMode
	httpServer  *http.Server
	logger      *logger.ComponentLogger
}

// New creates a new server instance
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if deps.Governor == nil {
		return nil, errors.New("server: governor is required")
	}
	if deps.Health == nil {
		return nil, errors.New("server: health manager is required")
	}
	if deps.Routes == nil {
		deps.Routes = router.New()
	}

	mode, err := ratelimit.ParseFailureMode(cfg.RateLimit.FailureMode)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	return &Server{
		config:      cfg,
		deps:        deps,
		failureMode: mode,
		logger:      logger.Get().WithComponent("server"),
	}, nil
}

// Handler builds the full handler tree with its middleware chain
func (s *Server) Handler() http.Handler {
	obs := s.config.Observability
	mux := http.NewServeMux()

	mux.HandleFunc(obs.HealthPath, s.deps.Health.HealthHandler())
	mux.HandleFunc(obs.ReadinessPath, s.deps.Health.ReadinessHandler())
	mux.HandleFunc(obs.LivenessPath, s.deps.Health.LivenessHandler())
	if obs.MetricsEnabled {
		mux.Handle(obs.MetricsPath, metrics.Handler())
	}

	mux.Handle(CheckPath, middleware.RequireMethods(http.MethodPost)(http.HandlerFunc(s.handleCheck)))

	limited := ratelimit.Middleware(s.deps.Governor, s.deps.Routes, &s.config.RateLimit, s.failureMode)
	mux.Handle("/", limited(http.HandlerFunc(s.handleDecision)))

	chain := middleware.NewChain(
		middleware.Recovery(),
		middleware.CorrelationID(),
		middleware.Logging(),
		middleware.NoStore(),
		metrics.Middleware(s.routeLabel, obs.MetricsPath),
		tracing.Middleware(s.routeLabel),
		middleware.InputValidation(maxPathLength, s.config.Server.MaxBodyBytes),
	)
	if s.deps.Identity != nil {
		chain = chain.Append(s.deps.Identity.Handler)
	}

	return chain.Then(mux)
}

// routeLabel keeps metric and span names bounded
func (s *Server) routeLabel(r *http.Request) string {
	obs := s.config.Observability
	switch r.URL.Path {
	case CheckPath:
		return "check_api"
	case obs.HealthPath, obs.ReadinessPath, obs.LivenessPath, obs.MetricsPath:
		return r.URL.Path
	}
	if name := s.deps.Routes.RouteName(r); name != "" {
		return name
	}
	return "unmatched"
}

// Start listens on the configured port and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.HTTPPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", logger.Fields{
			"addr": ln.Addr().String(),
		})
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errChan
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	s.logger.Info("server shutdown complete")
	return nil
}

// checkRequest is the body of POST /v1/check
type checkRequest struct {
	Route      string  `json:"route"`
	Identifier string  `json:"identifier"`
	UserID     string  `json:"user_id"`
	WindowMs   int64   `json:"window_ms"`
	Max        float64 `json:"max"`
}

type checkResponse struct {
	*ratelimit.Result
	Degraded bool `json:"degraded,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteJSONError(w, r, http.StatusRequestEntityTooLarge, "body_too_large",
				"Request body exceeds maximum size")
			return
		}
		middleware.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request",
			"Request body must be a JSON object")
		return
	}

	req.Route = strings.TrimSpace(req.Route)
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Route == "" || req.Identifier == "" {
		middleware.WriteJSONError(w, r, http.StatusBadRequest, "invalid_request",
			"route and identifier are required")
		return
	}

	scope := ratelimit.Scope{Route: req.Route, Identifier: req.Identifier, UserID: req.UserID}
	policy := ratelimit.Policy{WindowMs: req.WindowMs, Max: req.Max}

	resp := checkResponse{}
	res, err := s.deps.Governor.Check(r.Context(), scope, policy)
	if err != nil {
		logger.FromContext(r.Context(), "server").Error("check failed", logger.Fields{
			"error":        err.Error(),
			"route":        scope.Route,
			"failure_mode": string(s.failureMode),
		})
		metrics.RecordFallback(string(s.failureMode))
		res = s.failureMode.Fallback(policy, s.deps.Governor.Now())
		resp.Degraded = true
	}
	resp.Result = res

	ratelimit.SetHeaders(w, res)
	status := http.StatusOK
	if res.Blocked {
		status = http.StatusTooManyRequests
	}
	if err := middleware.WriteJSON(w, status, resp); err != nil {
		s.logger.Error("failed to encode check response", logger.Fields{"error": err.Error()})
	}
}

// handleDecision answers requests that passed the rate limit middleware.
// Reverse proxies can use it as a subrequest target: 200 allows, 429 denies.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"allowed": true,
		"path":    r.URL.Path,
	}
	if name := s.deps.Routes.RouteName(r); name != "" {
		resp["route"] = name
	}
	if correlationID := logger.GetCorrelationID(r.Context()); correlationID != "" {
		resp["correlation_id"] = correlationID
	}
	_ = middleware.WriteJSON(w, http.StatusOK, resp)
}
