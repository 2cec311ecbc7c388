// Package sar finds points of interest reachable within a bounded detour
// from a route.
package sar

import (
	"context"
	"errors"
	"log"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"travel-router/internal/models"
	"travel-router/internal/places"
)

const (
	maxSamples    = 20
	maxCandidates = 50
	maxEnriched   = 6

	searchConcurrency = 4
	detourConcurrency = 8

	DefaultMaxDetourMin = 10
	DefaultMaxResults   = 10
)

// Searcher is the subset of places.Searcher used by the engine
type Searcher interface {
	TextSearch(ctx context.Context, query string, bias *models.GeoPoint, radiusM int) ([]models.POICandidate, error)
	Details(ctx context.Context, placeID string) (*models.PlaceDetails, error)
}

// MatrixSource returns travel matrices, normally a *distance.MatrixCache
type MatrixSource interface {
	GetTravelMatrix(ctx context.Context, points []models.GeoPoint, mode models.TravelMode, departure *time.Time) (*models.MatrixResult, error)
}

// Request describes one search along a route
type Request struct {
	Query        string
	Stops        []models.GeoPoint
	Mode         models.TravelMode
	MaxDetourMin *int // nil means DefaultMaxDetourMin; 0 keeps only zero-detour stops
	MaxResults   int
	Departure    *time.Time
}

// Engine runs searches along routes
type Engine struct {
	places  Searcher
	matrix  MatrixSource
	radiusM int
}

// NewEngine creates a search-along-route engine
func NewEngine(searcher Searcher, matrix MatrixSource) *Engine {
	return &Engine{places: searcher, matrix: matrix, radiusM: places.BiasRadiusM}
}

// Downsample picks at most max points at a uniform stride, always keeping
// the first and last point.
func Downsample(stops []models.GeoPoint, max int) []models.GeoPoint {
	n := len(stops)
	if n <= max || max < 2 {
		return append([]models.GeoPoint(nil), stops...)
	}
	out := make([]models.GeoPoint, max)
	for i := 0; i < max; i++ {
		out[i] = stops[i*(n-1)/(max-1)]
	}
	return out
}

// SearchAlongRoute returns candidates matching req.Query whose detour from the
// route's origin to its destination is at most the requested detour in minutes,
// ordered by detour, then score, then place id.
func (e *Engine) SearchAlongRoute(ctx context.Context, req Request) ([]models.POICandidate, error) {
	if req.Query == "" {
		return nil, models.InvalidRequest("query is required")
	}
	if len(req.Stops) < 2 {
		return nil, models.InvalidRequest("search along route needs at least 2 stops, got %d", len(req.Stops))
	}
	for i, s := range req.Stops {
		if err := s.Validate(); err != nil {
			return nil, models.InvalidRequest("stop %d: %v", i, err)
		}
	}
	maxDetour := DefaultMaxDetourMin
	if req.MaxDetourMin != nil {
		if *req.MaxDetourMin < 0 {
			return nil, models.InvalidRequest("max detour must not be negative, got %d", *req.MaxDetourMin)
		}
		maxDetour = *req.MaxDetourMin
	}
	if req.MaxResults <= 0 {
		req.MaxResults = DefaultMaxResults
	}
	req.Mode = models.ParseTravelMode(string(req.Mode))

	ctx, span := otel.Tracer("travel-router/sar").Start(ctx, "sar.SearchAlongRoute")
	defer span.End()
	span.SetAttributes(attribute.String("query", req.Query), attribute.Int("stops", len(req.Stops)))

	start := time.Now()
	samples := Downsample(req.Stops, maxSamples)

	candidates, err := e.collect(ctx, req.Query, samples)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	origin := req.Stops[0]
	destination := req.Stops[len(req.Stops)-1]
	scored, err := e.detours(ctx, candidates, origin, destination, req.Mode, req.Departure)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	kept := lo.Filter(scored, func(c models.POICandidate, _ int) bool {
		return *c.DetourMin <= maxDetour
	})
	Sort(kept)
	if len(kept) > req.MaxResults {
		kept = kept[:req.MaxResults]
	}

	e.enrich(ctx, kept)

	span.SetAttributes(attribute.Int("results", len(kept)))
	log.Printf("[SAR] Search complete: query=%s samples=%d candidates=%d results=%d elapsed=%v",
		req.Query, len(samples), len(candidates), len(kept), time.Since(start).Round(time.Millisecond))
	return kept, nil
}

// collect runs one biased text search per sample and merges the results in
// sample order, deduplicated by place id, up to maxCandidates.
func (e *Engine) collect(ctx context.Context, query string, samples []models.GeoPoint) ([]models.POICandidate, error) {
	perSample := make([][]models.POICandidate, len(samples))
	failures := make([]error, len(samples))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchConcurrency)
	for i, p := range samples {
		i, p := i, p
		g.Go(func() error {
			results, err := e.places.TextSearch(gctx, query, &p, e.radiusM)
			if err != nil {
				log.Printf("[SAR] Sample search failed: sample=%d err=%v", i, err)
				failures[i] = err
				return nil
			}
			perSample[i] = results
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	failed := lo.CountBy(failures, func(err error) bool { return err != nil })
	if failed == len(samples) {
		return nil, models.NewError(models.CodeProviderError, "every places search failed", errors.Join(failures...))
	}

	merged := lo.Filter(lo.Flatten(perSample), func(c models.POICandidate, _ int) bool { return c.PlaceID != "" })
	unique := lo.UniqBy(merged, func(c models.POICandidate) string { return c.PlaceID })
	if len(unique) > maxCandidates {
		unique = unique[:maxCandidates]
	}
	return unique, nil
}

// detours computes the detour of every candidate. Candidates with an
// unreachable leg are dropped.
func (e *Engine) detours(ctx context.Context, candidates []models.POICandidate, origin, destination models.GeoPoint, mode models.TravelMode, departure *time.Time) ([]models.POICandidate, error) {
	scored := make([]*models.POICandidate, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detourConcurrency)
	for i := range candidates {
		i := i
		g.Go(func() error {
			c := candidates[i]
			m, err := e.matrix.GetTravelMatrix(gctx, []models.GeoPoint{origin, c.Location, destination}, mode, departure)
			if err != nil {
				return err
			}
			detourS, ok := Detour(m)
			if !ok {
				return nil
			}
			detourMin := int(math.Round(detourS / 60))
			c.DetourS = &detourS
			c.DetourMin = &detourMin
			scored[i] = &c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var typed *models.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		return nil, models.NewError(models.CodeMatrixError, "detour computation failed", err)
	}

	out := make([]models.POICandidate, 0, len(scored))
	for _, c := range scored {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

// Detour returns origin→candidate + candidate→destination − origin→destination
// in seconds for a [origin, candidate, destination] matrix, clamped at zero.
// ok is false when any leg is unreachable.
func Detour(m *models.MatrixResult) (float64, bool) {
	toCandidate := m.DurationS[0][1]
	toDestination := m.DurationS[1][2]
	direct := m.DurationS[0][2]
	if math.IsInf(toCandidate, 0) || math.IsInf(toDestination, 0) || math.IsInf(direct, 0) {
		return 0, false
	}
	return math.Max(toCandidate+toDestination-direct, 0), true
}

// Sort orders candidates by detour ascending, score descending, place id ascending
func Sort(candidates []models.POICandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		da, db := detourOf(a), detourOf(b)
		if da != db {
			return da < db
		}
		if sa, sb := a.Score(), b.Score(); sa != sb {
			return sa > sb
		}
		return a.PlaceID < b.PlaceID
	})
}

func detourOf(c models.POICandidate) int {
	if c.DetourMin == nil {
		return 0
	}
	return *c.DetourMin
}

// enrich attaches details to the first few results; failures are ignored
func (e *Engine) enrich(ctx context.Context, candidates []models.POICandidate) {
	n := min(len(candidates), maxEnriched)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			d, err := e.places.Details(ctx, candidates[i].PlaceID)
			if err != nil {
				if !errors.Is(err, places.ErrDetailsUnsupported) {
					log.Printf("[SAR] Enrichment skipped: place_id=%s err=%v", candidates[i].PlaceID, err)
				}
				return nil
			}
			candidates[i].Details = d
			return nil
		})
	}
	g.Wait()
}

func cancelled(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewError(models.CodeProviderTimeout, "search deadline exceeded", err)
	}
	return models.NewError(models.CodeProviderError, "search cancelled", err)
}
