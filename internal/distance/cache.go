package distance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"travel-router/internal/cache"
	"travel-router/internal/models"
)

const (
	// matrixCacheTTL applies regardless of the time bucket
	matrixCacheTTL = 60 * time.Second

	// matrixBucket trades routing freshness for cache hit-rate
	matrixBucket = 5 * time.Minute

	// departureFloor keeps provider departure times in the near future
	departureFloor = 60 * time.Second

	matrixKeyPrecision = 4
)

// MetricsRecorder receives cache and provider outcome counts
type MetricsRecorder interface {
	RecordCacheLookup(cache string, hit bool)
	RecordProviderCall(provider, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) RecordCacheLookup(string, bool)      {}
func (noopMetrics) RecordProviderCall(string, string) {}

// MatrixCache fronts a matrix Provider with a short-TTL cache keyed by mode,
// rounded points and departure time bucket.
type MatrixCache struct {
	provider Provider
	entries  *cache.TTLCache[*models.MatrixResult]
	group    singleflight.Group
	now      cache.Clock
	timeout  time.Duration
	metrics  MetricsRecorder
}

// Option configures a MatrixCache
type Option func(*MatrixCache)

// WithClock overrides the time source used for TTL and bucketing
func WithClock(now cache.Clock) Option {
	return func(m *MatrixCache) { m.now = now }
}

// WithTimeout bounds every provider call
func WithTimeout(d time.Duration) Option {
	return func(m *MatrixCache) { m.timeout = d }
}

// WithMetrics records cache and provider outcomes
func WithMetrics(r MetricsRecorder) Option {
	return func(m *MatrixCache) {
		if r != nil {
			m.metrics = r
		}
	}
}

// NewMatrixCache wraps provider with the travel matrix cache
func NewMatrixCache(provider Provider, opts ...Option) *MatrixCache {
	m := &MatrixCache{
		provider: provider,
		now:      time.Now,
		timeout:  10 * time.Second,
		metrics:  noopMetrics{},
	}
	for _, o := range opts {
		o(m)
	}
	m.entries = cache.NewTTL[*models.MatrixResult](matrixCacheTTL, m.now)
	return m
}

// Key builds the cache key for a request
func (m *MatrixCache) Key(points []models.GeoPoint, mode models.TravelMode, departure *time.Time) string {
	ref := m.now()
	if departure != nil {
		ref = *departure
	}
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = p.KeyString(matrixKeyPrecision)
	}
	bucket := ref.Unix() / int64(matrixBucket/time.Second)
	return fmt.Sprintf("%s|%s|%d", mode, strings.Join(parts, ";"), bucket)
}

// GetTravelMatrix returns the duration/distance matrix for points. The returned
// value may be shared with other callers and must not be modified.
func (m *MatrixCache) GetTravelMatrix(ctx context.Context, points []models.GeoPoint, mode models.TravelMode, departure *time.Time) (*models.MatrixResult, error) {
	if len(points) < 2 {
		return nil, models.InvalidRequest("matrix needs at least 2 points, got %d", len(points))
	}
	if len(points) > maxMatrixPoints {
		return nil, models.InvalidRequest("matrix accepts at most %d points, got %d", maxMatrixPoints, len(points))
	}
	for i, p := range points {
		if err := p.Validate(); err != nil {
			return nil, models.InvalidRequest("point %d: %v", i, err)
		}
	}

	key := m.Key(points, mode, departure)
	if cached, ok := m.entries.Get(key); ok {
		m.metrics.RecordCacheLookup("matrix", true)
		return cached, nil
	}
	m.metrics.RecordCacheLookup("matrix", false)

	// Concurrent misses on the same key share one provider call. The shared
	// call is detached from any single caller and bounded by m.timeout only;
	// each caller still gives up when its own context ends.
	ch := m.group.DoChan(key, func() (interface{}, error) {
		result, err := m.fetch(context.WithoutCancel(ctx), points, mode, departure)
		if err != nil {
			return nil, err
		}
		m.entries.Set(key, result)
		return result, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.MatrixResult), nil
	case <-ctx.Done():
		return nil, callerGone(ctx.Err())
	}
}

// Len returns the number of cached matrices
func (m *MatrixCache) Len() int {
	return m.entries.Len()
}

func callerGone(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewError(models.CodeProviderTimeout, "matrix request deadline exceeded", err)
	}
	return models.NewError(models.CodeProviderError, "matrix request cancelled", err)
}

func (m *MatrixCache) fetch(ctx context.Context, points []models.GeoPoint, mode models.TravelMode, departure *time.Time) (*models.MatrixResult, error) {
	ctx, span := otel.Tracer("travel-router/distance").Start(ctx, "distance.GetTravelMatrix")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", m.provider.Name()),
		attribute.Int("points", len(points)),
		attribute.String("mode", string(mode)),
	)

	dep := m.now().Add(departureFloor)
	if departure != nil && departure.After(dep) {
		dep = *departure
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	result, err := m.provider.Matrix(callCtx, points, mode, dep)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.DeadlineExceeded) {
			m.metrics.RecordProviderCall(m.provider.Name(), "timeout")
			log.Printf("[MATRIX] Provider timeout: provider=%s points=%d timeout=%v", m.provider.Name(), len(points), m.timeout)
			return nil, models.NewError(models.CodeProviderTimeout, "matrix provider timed out", err)
		}
		m.metrics.RecordProviderCall(m.provider.Name(), "error")
		log.Printf("[ERROR] Matrix computation failed: provider=%s points=%d err=%v", m.provider.Name(), len(points), err)
		return nil, models.NewError(models.CodeMatrixError, "matrix computation failed", err)
	}

	m.metrics.RecordProviderCall(m.provider.Name(), "ok")
	log.Printf("[MATRIX] Cache miss served: provider=%s points=%d mode=%s elapsed=%v cached=%d", m.provider.Name(), len(points), mode, time.Since(start).Round(time.Millisecond), m.entries.Len())
	return result, nil
}
