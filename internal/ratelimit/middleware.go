package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/maltehedderich/rate-governor/internal/config"
	"github.com/maltehedderich/rate-governor/internal/logger"
	"github.com/maltehedderich/rate-governor/internal/metrics"
	"github.com/maltehedderich/rate-governor/internal/router"
)

// GlobalRoute is the scope route for global limits without a route override.
const GlobalRoute = "global"

// Middleware enforces the configured global and per-route limits.
// Limits are checked in order and the first one that blocks ends the
// request with 429. Store failures are resolved with mode, which callers
// parse from cfg.FailureMode up front so a bad value fails at startup.
func Middleware(governor *Governor, routes *router.Router, cfg *config.RateLimitConfig, mode FailureMode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			log := logger.FromContext(r.Context(), "ratelimit")

			var tightest *Result
			for _, limit := range applicableLimits(r, routes, cfg) {
				policy, err := limit.policy()
				if err != nil {
					log.Error("invalid limit definition", logger.Fields{
						"error": err.Error(),
						"route": limit.route,
					})
					continue
				}

				scope, ok := NewScopeResolver(limit.def.Key).Resolve(r, limit.route)
				if !ok {
					log.Debug("limit does not apply to caller", logger.Fields{
						"key":   limit.def.Key,
						"route": limit.route,
					})
					continue
				}

				res, err := governor.Check(r.Context(), scope, policy)
				if err != nil {
					log.Error("rate limit check failed", logger.Fields{
						"error":        err.Error(),
						"route":        scope.Route,
						"failure_mode": string(mode),
					})
					metrics.RecordFallback(string(mode))

					res = mode.Fallback(policy, governor.Now())
					if !res.Blocked {
						continue
					}
				}

				if res.Blocked {
					log.Warn("rate limit exceeded", logger.Fields{
						"route":      scope.Route,
						"identifier": scope.Identifier,
						"hits":       res.Hits,
						"estimate":   res.Estimate,
						"limit":      res.Limit,
					})
					SetHeaders(w, res)
					WriteBlocked(w, r, res)
					return
				}

				if tightest == nil || res.Remaining < tightest.Remaining {
					tightest = res
				}
			}

			if tightest != nil {
				SetHeaders(w, tightest)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type applicableLimit struct {
	def   config.LimitDefinition
	route string
}

func (l applicableLimit) policy() (Policy, error) {
	window, err := l.def.WindowDuration()
	if err != nil {
		return Policy{}, fmt.Errorf("invalid window %q: %w", l.def.Window, err)
	}
	return PolicyFromDuration(window, l.def.Max), nil
}

// applicableLimits returns global limits followed by the matched route's.
func applicableLimits(r *http.Request, routes *router.Router, cfg *config.RateLimitConfig) []applicableLimit {
	limits := make([]applicableLimit, 0, len(cfg.GlobalLimits))

	for _, def := range cfg.GlobalLimits {
		route := def.Route
		if route == "" {
			route = GlobalRoute
		}
		limits = append(limits, applicableLimit{def: def, route: route})
	}

	if routes == nil {
		return limits
	}

	match, err := routes.Match(r)
	if err != nil {
		return limits
	}

	for _, def := range match.Route.RateLimits {
		route := def.Route
		if route == "" {
			route = match.Route.Name
		}
		limits = append(limits, applicableLimit{def: def, route: route})
	}

	return limits
}

// SetHeaders adds the X-RateLimit-* headers, and Retry-After when blocked.
func SetHeaders(w http.ResponseWriter, res *Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatFloat(res.Limit, 'f', -1, 64))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(ceilDiv(res.ResetAt, 1000), 10))

	if res.Blocked && res.RetryAfter > 0 {
		h.Set("Retry-After", strconv.Itoa(res.RetryAfter))
	}
}

// WriteBlocked writes a 429 Too Many Requests JSON response.
func WriteBlocked(w http.ResponseWriter, r *http.Request, res *Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	errorResp := map[string]interface{}{
		"error":          "rate_limited",
		"message":        "Too many requests, please retry later",
		"correlation_id": logger.GetCorrelationID(r.Context()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"path":           r.URL.Path,
		"retry_after":    res.RetryAfter,
		"details": map[string]interface{}{
			"limit":     res.Limit,
			"window_ms": res.WindowMs,
			"reset_at":  res.ResetTime().UTC().Format(time.RFC3339),
		},
	}

	if err := json.NewEncoder(w).Encode(errorResp); err != nil {
		_, _ = fmt.Fprintf(w, "Too many requests\n")
	}
}

// ConfiguredRoutes lists every scope route the configured limits can
// produce. It pairs with RouteLabels to bound metric labels.
func ConfiguredRoutes(routes []config.RouteConfig, cfg *config.RateLimitConfig) []string {
	known := []string{GlobalRoute}
	for _, def := range cfg.GlobalLimits {
		if def.Route != "" {
			known = append(known, def.Route)
		}
	}
	for _, rc := range routes {
		known = append(known, rc.Name)
		for _, def := range rc.RateLimits {
			if def.Route != "" {
				known = append(known, def.Route)
			}
		}
	}
	return known
}
