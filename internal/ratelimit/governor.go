package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/maltehedderich/rate-governor/internal/audit"
	"github.com/maltehedderich/rate-governor/internal/logger"
	"github.com/maltehedderich/rate-governor/internal/metrics"
	"github.com/maltehedderich/rate-governor/internal/tracing"
)

// Auditor accepts audit records without blocking. Submit reports whether
// the record was accepted.
type Auditor interface {
	Submit(rec audit.Record) bool
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// WithAuditor sets where blocked requests are reported.
func WithAuditor(a Auditor) Option {
	return func(g *Governor) {
		g.auditor = a
	}
}

// WithMetricsLabel sets the route label recorded in metrics for a scope.
// Scope routes can come from callers, so the label function is where their
// cardinality is bounded. Without it the scope route is used as is.
func WithMetricsLabel(label func(Scope) string) Option {
	return func(g *Governor) {
		g.label = label
	}
}

// OtherRoute is the metrics label for routes outside the known set.
const OtherRoute = "other"

// RouteLabels returns a label function that keeps the known routes and
// folds every other route into OtherRoute.
func RouteLabels(known ...string) func(Scope) string {
	set := make(map[string]struct{}, len(known))
	for _, r := range known {
		set[r] = struct{}{}
	}
	return func(s Scope) string {
		if _, ok := set[s.Route]; ok {
			return s.Route
		}
		return OtherRoute
	}
}

// Governor decides whether a request exceeds its scope's limit using a
// weighted estimate over the current and previous fixed buckets.
//
// A Governor keeps no per-request state and is safe for concurrent use.
type Governor struct {
	store   CounterStore
	auditor Auditor
	now     func() time.Time
	label   func(Scope) string
	logger  *logger.ComponentLogger
}

// New creates a Governor over store.
func New(store CounterStore, opts ...Option) *Governor {
	g := &Governor{
		store:  store,
		now:    time.Now,
		logger: logger.Get().WithComponent("ratelimit"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Now returns the governor's current time.
func (g *Governor) Now() time.Time {
	return g.now()
}

// Check counts one request against scope and reports whether it is over
// policy. A store failure is returned wrapped in ErrStoreUnavailable.
func (g *Governor) Check(ctx context.Context, scope Scope, policy Policy) (*Result, error) {
	start := time.Now()
	policy = policy.Normalize()

	ctx, span := tracing.Tracer().Start(ctx, "ratelimit.check")
	defer span.End()
	span.SetAttributes(
		attribute.String("ratelimit.route", scope.Route),
		attribute.Int64("ratelimit.window_ms", policy.WindowMs),
		attribute.Float64("ratelimit.max", policy.Max),
	)

	route := g.metricsRoute(scope)

	res, err := g.check(ctx, scope, policy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "counter store unavailable")
		metrics.RecordRateLimitCheck(route, "error", time.Since(start))
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("ratelimit.blocked", res.Blocked),
		attribute.Int64("ratelimit.hits", res.Hits),
	)

	decision := "allowed"
	if res.Blocked {
		decision = "blocked"
	}
	metrics.RecordRateLimitCheck(route, decision, time.Since(start))
	if policy.Max > 0 {
		metrics.RecordRateLimitUtilization(route, res.Estimate/policy.Max*100)
	}

	return res, nil
}

func (g *Governor) metricsRoute(scope Scope) string {
	if g.label == nil {
		return scope.Route
	}
	return g.label(scope)
}

func (g *Governor) check(ctx context.Context, scope Scope, policy Policy) (*Result, error) {
	log := g.logger.WithContext(ctx)

	now := g.now().UnixMilli()
	bucket := BucketIndex(now, policy.WindowMs)
	currentKey := BucketKey(scope.Route, scope.Identifier, bucket)
	previousKey := BucketKey(scope.Route, scope.Identifier, bucket-1)

	hits, err := g.store.Incr(ctx, currentKey)
	if err != nil {
		metrics.RecordStoreError("incr")
		return nil, fmt.Errorf("%w: incr %s: %w", ErrStoreUnavailable, currentKey, err)
	}

	if hits == 1 {
		ttl := time.Duration(2*policy.WindowSeconds()) * time.Second
		if err := g.store.Expire(ctx, currentKey, ttl); err != nil {
			// The counter stays usable; it only outlives its bucket.
			metrics.RecordStoreError("expire")
			log.Warn("failed to set bucket expiry", logger.Fields{
				"key":   currentKey,
				"error": err.Error(),
			})
		}
	}

	prevHits, _, err := g.store.Get(ctx, previousKey)
	if err != nil {
		metrics.RecordStoreError("get")
		return nil, fmt.Errorf("%w: get %s: %w", ErrStoreUnavailable, previousKey, err)
	}

	timeInto := now % policy.WindowMs
	prevWeight := float64(policy.WindowMs-timeInto) / float64(policy.WindowMs)
	effective := float64(hits) + float64(prevHits)*prevWeight

	blocked := effective > policy.Max
	resetAt := now - timeInto + policy.WindowMs

	res := &Result{
		Blocked:  blocked,
		Hits:     hits,
		ResetAt:  resetAt,
		WindowMs: policy.WindowMs,
		Limit:    policy.Max,
		Estimate: effective,
	}

	if blocked {
		res.RetryAfter = int(ceilDiv(resetAt-now, 1000))
		g.report(ctx, scope, policy, hits+prevHits)
	} else {
		res.Remaining = int64(math.Max(0, math.Floor(policy.Max-effective)))
	}

	return res, nil
}

func (g *Governor) report(ctx context.Context, scope Scope, policy Policy, hits int64) {
	if g.auditor == nil {
		return
	}

	rec := audit.NewRecord(scope.UserID, scope.Route, hits, policy.WindowSeconds(), g.now())
	if !g.auditor.Submit(rec) {
		g.logger.WithContext(ctx).Warn("audit record not accepted", logger.Fields{
			"route": scope.Route,
			"hits":  hits,
		})
	}
}
