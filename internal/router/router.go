package router

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/maltehedderich/rate-governor/internal/config"
	"github.com/maltehedderich/rate-governor/internal/logger"
)

// ErrNoRoute is returned by Match when no configured route matches.
var ErrNoRoute = errors.New("no route found")

var (
	paramExtractRegex = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
	paramReplaceRegex = regexp.MustCompile(`\\{[a-zA-Z_][a-zA-Z0-9_]*\\}`)
)

// Router maps requests to the logical routes limits are counted against
type Router struct {
	routes []*Route
	mu     sync.RWMutex
	logger *logger.ComponentLogger
}

// Route is a configured route with its compiled pattern
type Route struct {
	// Name is the logical route used in counter keys
	Name          string
	PathPattern   string
	CompiledRegex *regexp.Regexp
	// Methods is empty when every method matches
	Methods    map[string]bool
	RateLimits []config.LimitDefinition
	Priority   int // Lower number = higher priority
	ParamNames []string
}

// Match represents a successful route match with extracted parameters
type Match struct {
	Route  *Route
	Params map[string]string
}

// New creates a new router instance
func New() *Router {
	return &Router{
		routes: make([]*Route, 0),
		logger: logger.Get().WithComponent("router"),
	}
}

// LoadRoutes replaces the routing table
func (r *Router) LoadRoutes(routes []config.RouteConfig) error {
	compiled := make([]*Route, 0, len(routes))

	for i, routeConfig := range routes {
		route, err := compileRoute(routeConfig)
		if err != nil {
			return fmt.Errorf("failed to compile route %d (%s): %w", i, routeConfig.PathPattern, err)
		}
		compiled = append(compiled, route)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority < compiled[j].Priority
	})

	r.mu.Lock()
	r.routes = compiled
	r.mu.Unlock()

	r.logger.Info("routes loaded", logger.Fields{
		"count": len(compiled),
	})

	return nil
}

func compileRoute(cfg config.RouteConfig) (*Route, error) {
	pattern, paramNames := patternToRegex(cfg.PathPattern)

	compiledRegex, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return nil, fmt.Errorf("invalid path pattern: %w", err)
	}

	methods := make(map[string]bool, len(cfg.Methods))
	for _, method := range cfg.Methods {
		methods[strings.ToUpper(method)] = true
	}

	name := cfg.Name
	if name == "" {
		name = cfg.PathPattern
	}

	return &Route{
		Name:          name,
		PathPattern:   cfg.PathPattern,
		CompiledRegex: compiledRegex,
		Methods:       methods,
		RateLimits:    cfg.RateLimits,
		Priority:      calculatePriority(cfg.PathPattern),
		ParamNames:    paramNames,
	}, nil
}

// patternToRegex converts a path pattern to a regex pattern
// Supports:
// - Exact match: /v1/waitlist
// - Named parameters: /v1/puzzles/{id}/hints
// - Wildcards: /v1/*
// - Prefix match: /v1/**
func patternToRegex(pattern string) (string, []string) {
	paramNames := make([]string, 0)
	for _, match := range paramExtractRegex.FindAllStringSubmatch(pattern, -1) {
		paramNames = append(paramNames, match[1])
	}

	result := regexp.QuoteMeta(pattern)
	result = paramReplaceRegex.ReplaceAllString(result, `([^/]+)`)
	result = strings.ReplaceAll(result, `\*\*`, `.*`)
	result = strings.ReplaceAll(result, `\*`, `[^/]*`)

	return result, paramNames
}

// calculatePriority ranks exact paths first, then parameters, then single
// and double wildcards. Longer patterns win within a class.
func calculatePriority(pattern string) int {
	priority := 1000 - len(pattern)

	if strings.Contains(pattern, "**") {
		priority += 10000
	} else if strings.Contains(pattern, "*") {
		priority += 5000
	}

	priority += strings.Count(pattern, "{") * 1000

	return priority
}

// Match finds a matching route for the given request
func (r *Router) Match(req *http.Request) (*Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	path := req.URL.Path
	method := req.Method

	for _, route := range r.routes {
		if len(route.Methods) > 0 && !route.Methods[method] {
			continue
		}

		matches := route.CompiledRegex.FindStringSubmatch(path)
		if matches == nil {
			continue
		}

		params := make(map[string]string, len(route.ParamNames))
		for i, paramName := range route.ParamNames {
			if i+1 < len(matches) {
				params[paramName] = matches[i+1]
			}
		}

		r.logger.Debug("route matched", logger.Fields{
			"path":    path,
			"method":  method,
			"pattern": route.PathPattern,
			"route":   route.Name,
		})

		return &Match{Route: route, Params: params}, nil
	}

	return nil, fmt.Errorf("%w for %s %s", ErrNoRoute, method, path)
}

// RouteName returns the matched route's name or "" when nothing matches
func (r *Router) RouteName(req *http.Request) string {
	m, err := r.Match(req)
	if err != nil {
		return ""
	}
	return m.Route.Name
}

// GetRoutes returns all registered routes in match order
func (r *Router) GetRoutes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]*Route, len(r.routes))
	copy(routes, r.routes)
	return routes
}
