package places

import (
	"context"
	"errors"
	"log"
	"time"

	"travel-router/internal/cache"
	"travel-router/internal/models"
)

const defaultDetailsTTL = 24 * time.Hour

// DetailsStore persists place details across restarts
type DetailsStore interface {
	Get(ctx context.Context, placeID string, maxAge time.Duration) (*models.PlaceDetails, error)
	Put(ctx context.Context, placeID string, details *models.PlaceDetails) error
}

// MetricsRecorder receives details cache outcomes
type MetricsRecorder interface {
	RecordCacheLookup(cache string, hit bool)
	RecordProviderCall(provider, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) RecordCacheLookup(string, bool)      {}
func (noopMetrics) RecordProviderCall(string, string) {}

// Service bounds every provider call with a timeout and caches details
// in memory and, when a store is configured, on disk.
type Service struct {
	inner      Searcher
	store      DetailsStore
	memo       *cache.TTLCache[*models.PlaceDetails]
	detailsTTL time.Duration
	timeout    time.Duration
	metrics    MetricsRecorder
}

// Option configures a Service
type Option func(*Service)

// WithDetailsStore enables the persistent details cache
func WithDetailsStore(store DetailsStore, ttl time.Duration) Option {
	return func(s *Service) {
		s.store = store
		if ttl > 0 {
			s.detailsTTL = ttl
		}
	}
}

// WithTimeout bounds each provider call
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithMetrics records cache and provider outcomes
func WithMetrics(r MetricsRecorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// NewService wraps a Searcher
func NewService(inner Searcher, opts ...Option) *Service {
	s := &Service{
		inner:      inner,
		detailsTTL: defaultDetailsTTL,
		timeout:    8 * time.Second,
		metrics:    noopMetrics{},
	}
	for _, o := range opts {
		o(s)
	}
	s.memo = cache.NewTTL[*models.PlaceDetails](s.detailsTTL, time.Now)
	return s
}

func (s *Service) Name() string { return s.inner.Name() }

func (s *Service) record(err error) {
	switch {
	case err == nil:
		s.metrics.RecordProviderCall(s.inner.Name(), "ok")
	case errors.Is(err, context.DeadlineExceeded):
		s.metrics.RecordProviderCall(s.inner.Name(), "timeout")
	default:
		s.metrics.RecordProviderCall(s.inner.Name(), "error")
	}
}

func (s *Service) TextSearch(ctx context.Context, query string, bias *models.GeoPoint, radiusM int) ([]models.POICandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	results, err := s.inner.TextSearch(ctx, query, bias, radiusM)
	s.record(err)
	return results, err
}

func (s *Service) Nearby(ctx context.Context, center models.GeoPoint, placeType string, radiusM int) ([]models.POICandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	results, err := s.inner.Nearby(ctx, center, placeType, radiusM)
	s.record(err)
	return results, err
}

// Details checks the in-memory cache, then the store, then the provider
func (s *Service) Details(ctx context.Context, placeID string) (*models.PlaceDetails, error) {
	if d, ok := s.memo.Get(placeID); ok {
		s.metrics.RecordCacheLookup("details", true)
		return d, nil
	}

	if s.store != nil {
		d, err := s.store.Get(ctx, placeID, s.detailsTTL)
		if err != nil {
			log.Printf("[ERROR] Details store read failed: place_id=%s err=%v", placeID, err)
		} else if d != nil {
			s.metrics.RecordCacheLookup("details", true)
			s.memo.Set(placeID, d)
			return d, nil
		}
	}
	s.metrics.RecordCacheLookup("details", false)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	d, err := s.inner.Details(callCtx, placeID)
	if errors.Is(err, ErrDetailsUnsupported) {
		return nil, err
	}
	s.record(err)
	if err != nil {
		return nil, err
	}

	s.memo.Set(placeID, d)
	if s.store != nil {
		if err := s.store.Put(ctx, placeID, d); err != nil {
			log.Printf("[ERROR] Details store write failed: place_id=%s err=%v", placeID, err)
		}
	}
	return d, nil
}
