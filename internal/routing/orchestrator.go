package routing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"travel-router/internal/cache"
	"travel-router/internal/models"
)

const (
	minStops = 2
	maxStops = 5

	routeKeyPrecision = 5

	defaultAttemptTimeout = 12 * time.Second
	defaultCacheSize      = 512
	defaultCacheTTL       = 10 * time.Minute
)

// MetricsRecorder receives route orchestration outcomes
type MetricsRecorder interface {
	RecordRouteServed(provider string, relaxed bool)
	RecordProviderCall(provider, outcome string)
	RecordCacheLookup(cache string, hit bool)
	SetBreakerOpen(open bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordRouteServed(string, bool)      {}
func (noopMetrics) RecordProviderCall(string, string) {}
func (noopMetrics) RecordCacheLookup(string, bool)      {}
func (noopMetrics) SetBreakerOpen(bool)                 {}

// Config wires an Orchestrator. Secondary is optional.
type Config struct {
	Primary        Provider
	Secondary      Provider
	AttemptTimeout time.Duration
	CacheSize      int
	CacheTTL       time.Duration
	Clock          cache.Clock
	Metrics        MetricsRecorder
}

// Usage is a snapshot of provider-usage counters
type Usage struct {
	ServedBy  map[string]int64 `json:"served_by"`
	Relaxed   int64            `json:"relaxed"`
	Fallbacks int64            `json:"fallbacks"`
	CacheHits int64            `json:"cache_hits"`
	Failures  int64            `json:"failures"`
	Rejected  int64            `json:"rejected"`
}

// Orchestrator computes routes through a cache, a circuit breaker and an
// ordered list of provider attempts.
type Orchestrator struct {
	primary   Provider
	secondary Provider
	timeout   time.Duration
	cache     *cache.LRUCache[models.RouteResult]
	breaker   *Breaker
	metrics   MetricsRecorder
	group     singleflight.Group

	mu    sync.Mutex
	usage Usage
}

type attempt struct {
	provider   Provider
	honorAvoid bool
}

// NewOrchestrator creates a route orchestrator
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Primary == nil {
		return nil, errors.New("primary routing provider is required")
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}

	routeCache, err := cache.NewLRU[models.RouteResult](cfg.CacheSize, cfg.CacheTTL, cfg.Clock)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		timeout:   cfg.AttemptTimeout,
		cache:     routeCache,
		breaker:   NewBreaker(cfg.Clock),
		metrics:   cfg.Metrics,
		usage:     Usage{ServedBy: make(map[string]int64)},
	}, nil
}

// Breaker exposes the circuit breaker for health reporting
func (o *Orchestrator) Breaker() *Breaker {
	return o.breaker
}

// Usage returns a copy of the provider-usage counters
func (o *Orchestrator) Usage() Usage {
	o.mu.Lock()
	defer o.mu.Unlock()
	snapshot := o.usage
	snapshot.ServedBy = make(map[string]int64, len(o.usage.ServedBy))
	for k, v := range o.usage.ServedBy {
		snapshot.ServedBy[k] = v
	}
	return snapshot
}

func (o *Orchestrator) count(fn func(u *Usage)) {
	o.mu.Lock()
	fn(&o.usage)
	o.mu.Unlock()
}

// RouteKey builds the cache key for a request
func RouteKey(req models.RouteRequest) string {
	parts := make([]string, len(req.Stops))
	for i, s := range req.Stops {
		parts[i] = s.KeyString(routeKeyPrecision)
	}
	return fmt.Sprintf("%s|%s|%s", req.Mode, strings.Join(parts, ";"), req.Avoid.Key())
}

func validateRoute(req models.RouteRequest) error {
	if len(req.Stops) < minStops || len(req.Stops) > maxStops {
		return models.InvalidRequest("route needs %d to %d stops, got %d", minStops, maxStops, len(req.Stops))
	}
	for i, s := range req.Stops {
		if err := s.Validate(); err != nil {
			return models.InvalidRequest("stop %d: %v", i, err)
		}
	}
	return nil
}

// plan returns the ordered attempts for a request. The primary provider is
// called at most twice.
func (o *Orchestrator) plan(avoid models.AvoidSet) []attempt {
	attempts := make([]attempt, 0, 3)
	if len(avoid) > 0 && o.secondary != nil {
		attempts = append(attempts, attempt{provider: o.secondary, honorAvoid: true})
	}
	return append(attempts,
		attempt{provider: o.primary, honorAvoid: true},
		attempt{provider: o.primary, honorAvoid: false},
	)
}

// ComputeRoute returns a route through req.Stops
func (o *Orchestrator) ComputeRoute(ctx context.Context, req models.RouteRequest) (*models.RouteResult, error) {
	if err := validateRoute(req); err != nil {
		return nil, err
	}
	req.Mode = models.ParseTravelMode(string(req.Mode))

	key := RouteKey(req)
	if cached, ok := o.cache.Get(key); ok {
		o.metrics.RecordCacheLookup("route", true)
		o.count(func(u *Usage) { u.CacheHits++ })
		result := cached
		return &result, nil
	}
	o.metrics.RecordCacheLookup("route", false)

	if o.breaker.IsOpen() {
		o.metrics.SetBreakerOpen(true)
		o.count(func(u *Usage) { u.Rejected++ })
		until := o.breaker.OpenUntil()
		log.Printf("[ROUTE] Breaker open, rejecting: until=%s", until.Format(time.RFC3339))
		return nil, models.NewError(models.CodeProviderUnavailable,
			fmt.Sprintf("routing temporarily unavailable until %s", until.UTC().Format(time.RFC3339)), nil)
	}
	o.metrics.SetBreakerOpen(false)

	if err := ctx.Err(); err != nil {
		return nil, cancelledError(err)
	}

	ctx, span := otel.Tracer("travel-router/routing").Start(ctx, "routing.ComputeRoute")
	defer span.End()
	span.SetAttributes(
		attribute.Int("stops", len(req.Stops)),
		attribute.String("mode", string(req.Mode)),
		attribute.String("avoid", req.Avoid.Key()),
	)

	// Concurrent misses on the same key share one attempt chain. The chain is
	// detached from any single caller and bounded by the attempt timeouts.
	ch := o.group.DoChan(key, func() (interface{}, error) {
		return o.resolve(context.WithoutCancel(ctx), req, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return nil, res.Err
		}
		result := *res.Val.(*models.RouteResult)
		span.SetAttributes(attribute.String("provider_used", result.ProviderUsed), attribute.Bool("constraint_relaxed", result.ConstraintRelaxed))
		return &result, nil
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return nil, cancelledError(ctx.Err())
	}
}

// resolve walks the provider plan until one attempt succeeds. When every
// attempt fails, the breaker opens for the longest cooldown any primary
// failure calls for.
func (o *Orchestrator) resolve(ctx context.Context, req models.RouteRequest, key string) (*models.RouteResult, error) {
	var lastErr error
	var cooldown time.Duration
	for _, a := range o.plan(req.Avoid) {
		var avoid models.AvoidSet
		if a.honorAvoid {
			avoid = req.Avoid
		}

		route, err := o.call(ctx, a.provider, req, avoid)
		if err != nil {
			if a.provider == o.secondary {
				o.count(func(u *Usage) { u.Fallbacks++ })
				log.Printf("[ROUTE] Secondary failed, falling back: provider=%s err=%v", a.provider.Name(), err)
				continue
			}
			lastErr = err
			cooldown = max(cooldown, cooldownFor(err))
			continue
		}

		relaxed := a.provider == o.primary && !a.honorAvoid && len(req.Avoid) > 0
		result := models.RouteResult{
			DistanceM:         int(math.Round(route.DistanceM)),
			DurationS:         int(math.Round(route.DurationS)),
			Geometry:          route.Geometry,
			ProviderUsed:      a.provider.Name(),
			ConstraintRelaxed: relaxed,
		}
		o.cache.Set(key, result)
		o.count(func(u *Usage) {
			u.ServedBy[result.ProviderUsed]++
			if relaxed {
				u.Relaxed++
			}
		})
		o.metrics.RecordRouteServed(result.ProviderUsed, relaxed)
		log.Printf("[ROUTE] Served: provider=%s distance_m=%d duration_s=%d relaxed=%v", result.ProviderUsed, result.DistanceM, result.DurationS, relaxed)
		return &result, nil
	}

	o.count(func(u *Usage) { u.Failures++ })

	if cooldown > 0 {
		o.breaker.Trip(cooldown)
		o.metrics.SetBreakerOpen(true)
		log.Printf("[ROUTE] Breaker tripped: cooldown=%v err=%v", cooldown, lastErr)
	}

	if isTimeout(lastErr) {
		return nil, models.NewError(models.CodeProviderTimeout, "routing provider timed out", lastErr)
	}
	log.Printf("[ERROR] Route computation failed: stops=%d mode=%s err=%v", len(req.Stops), req.Mode, lastErr)
	return nil, models.NewError(models.CodeProviderError, "routing provider failed", lastErr)
}

// call runs one attempt under its own deadline
func (o *Orchestrator) call(ctx context.Context, p Provider, req models.RouteRequest, avoid models.AvoidSet) (*ProviderRoute, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	route, err := p.Route(callCtx, req.Stops, req.Mode, avoid)
	switch {
	case err == nil:
		o.metrics.RecordProviderCall(p.Name(), "ok")
	case isTimeout(err):
		o.metrics.RecordProviderCall(p.Name(), "timeout")
	default:
		o.metrics.RecordProviderCall(p.Name(), "error")
	}
	return route, err
}

func asProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func isTimeout(err error) bool {
	if pe, ok := asProviderError(err); ok && pe.Timeout {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func cancelledError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewError(models.CodeProviderTimeout, "request deadline exceeded", err)
	}
	return models.NewError(models.CodeProviderError, "request cancelled", err)
}
