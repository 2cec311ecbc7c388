// Package planner assembles multi-stop day plans from places, travel
// matrices and searches along the resulting route.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"travel-router/internal/models"
	"travel-router/internal/places"
	"travel-router/internal/sar"
)

const (
	DefaultNearbyLimit   = 6
	MaxNearbyLimit       = 8
	DefaultNearbyRadiusM = 3000
	maxEnrichedStops     = 3
)

var defaultNearbyTypes = []string{"tourist_attraction"}

// Searcher is the subset of places.Searcher used by the planner
type Searcher interface {
	TextSearch(ctx context.Context, query string, bias *models.GeoPoint, radiusM int) ([]models.POICandidate, error)
	Nearby(ctx context.Context, center models.GeoPoint, placeType string, radiusM int) ([]models.POICandidate, error)
	Details(ctx context.Context, placeID string) (*models.PlaceDetails, error)
}

// AlongRoute runs searches along an ordered stop sequence
type AlongRoute interface {
	SearchAlongRoute(ctx context.Context, req sar.Request) ([]models.POICandidate, error)
}

// PointSpec identifies a plan endpoint by coordinates or by a text query
type PointSpec struct {
	Location *models.GeoPoint `json:"location,omitempty"`
	Query    string           `json:"query,omitempty"`
}

// NearOrigin asks for candidate stops around the origin
type NearOrigin struct {
	Types   []string `json:"types,omitempty"`
	RadiusM int      `json:"radius_m,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// SARSpec asks for supplementary points of interest along the planned route
type SARSpec struct {
	Query        string `json:"query"`
	MaxDetourMin *int   `json:"max_detour_min,omitempty"`
	MaxResults   int    `json:"max_results,omitempty"`
}

// Request is the input of PlanDay
type Request struct {
	Origin      PointSpec         `json:"origin"`
	Destination *PointSpec        `json:"destination,omitempty"`
	Mode        models.TravelMode `json:"mode,omitempty"`
	NearOrigin  *NearOrigin       `json:"near_origin,omitempty"`
	SAR         *SARSpec          `json:"sar,omitempty"`
	Departure   *time.Time        `json:"departure,omitempty"`
}

// Planner builds day plans
type Planner struct {
	places Searcher
	matrix sar.MatrixSource
	sar    AlongRoute
}

// New creates a planner. alongRoute may be nil, in which case SAR specs produce a warning.
func New(searcher Searcher, matrix sar.MatrixSource, alongRoute AlongRoute) *Planner {
	return &Planner{places: searcher, matrix: matrix, sar: alongRoute}
}

// PlanDay resolves the endpoints, gathers candidates near the origin, orders
// them greedily by travel time and builds the timeline.
func (p *Planner) PlanDay(ctx context.Context, req Request) (*models.Plan, error) {
	ctx, span := otel.Tracer("travel-router/planner").Start(ctx, "planner.PlanDay")
	defer span.End()

	start := time.Now()
	mode := models.ParseTravelMode(string(req.Mode))

	origin, err := p.resolve(ctx, req.Origin, models.SourceCurrent, models.SourceHotel)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	plan := &models.Plan{
		OK:       true,
		Mode:     models.PlanModeNearby,
		Origin:   *origin,
		Order:    []models.PlanStop{},
		Timeline: []models.Leg{},
	}

	if req.Destination != nil {
		dest, err := p.resolve(ctx, *req.Destination, models.SourceCurrent, models.SourceQuery)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		plan.Mode = models.PlanModeA2B
		plan.Destination = *dest
	} else {
		plan.Destination = models.ResolvedPoint{Location: origin.Location, Source: models.SourceOrigin, Name: origin.Name, PlaceID: origin.PlaceID}
	}
	span.SetAttributes(attribute.String("plan_mode", string(plan.Mode)), attribute.String("mode", string(mode)))

	var candidates []models.POICandidate
	if req.NearOrigin != nil {
		candidates, err = p.gather(ctx, origin, *req.NearOrigin)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if len(candidates) == 0 {
			log.Printf("[PLAN] No candidates near origin: lat=%.5f lon=%.5f", origin.Location.Lat, origin.Location.Lon)
			return plan, nil
		}
	} else if plan.Mode == models.PlanModeNearby {
		return plan, nil
	}

	stops := make([]models.PlanStop, 0, len(candidates)+2)
	stops = append(stops, models.PlanStop{Kind: models.StopOrigin, Location: origin.Location, Name: origin.Name, PlaceID: origin.PlaceID})
	for i := range candidates {
		c := candidates[i]
		stops = append(stops, models.PlanStop{Kind: models.StopPOI, Location: c.Location, Name: c.Name, PlaceID: c.PlaceID, POI: &c})
	}
	stops = append(stops, models.PlanStop{Kind: models.StopDestination, Location: plan.Destination.Location, Name: plan.Destination.Name, PlaceID: plan.Destination.PlaceID})

	points := lo.Map(stops, func(s models.PlanStop, _ int) models.GeoPoint { return s.Location })
	matrix, err := p.matrix.GetTravelMatrix(ctx, points, mode, req.Departure)
	if err != nil {
		span.RecordError(err)
		var typed *models.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, models.NewError(models.CodeMatrixError, "travel matrix failed", err)
	}

	order := GreedyOrder(matrix.DurationS)
	for _, idx := range order {
		plan.Order = append(plan.Order, stops[idx])
	}
	plan.Timeline = BuildTimeline(stops, order, matrix.DurationS)
	plan.Count = len(candidates)

	if req.SAR != nil {
		p.alongRoute(ctx, plan, mode, *req.SAR, req.Departure)
	}

	p.enrich(ctx, plan)

	log.Printf("[PLAN] Plan built: mode=%s stops=%d legs=%d along_route=%d warnings=%d elapsed=%v",
		plan.Mode, len(plan.Order), len(plan.Timeline), len(plan.AlongRoute), len(plan.Warnings), time.Since(start).Round(time.Millisecond))
	return plan, nil
}

// resolve turns a PointSpec into a point, preferring coordinates over the query
func (p *Planner) resolve(ctx context.Context, spec PointSpec, coordSource, querySource models.PointSource) (*models.ResolvedPoint, error) {
	if spec.Location != nil {
		if err := spec.Location.Validate(); err != nil {
			return nil, models.InvalidRequest("invalid location: %v", err)
		}
		return &models.ResolvedPoint{Location: *spec.Location, Source: coordSource}, nil
	}
	if spec.Query == "" {
		return nil, models.InvalidRequest("either coordinates or a query is required")
	}

	results, err := p.places.TextSearch(ctx, spec.Query, nil, 0)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, models.NewError(models.CodeProviderTimeout, "place lookup timed out", err)
		}
		return nil, models.NewError(models.CodeProviderError, fmt.Sprintf("could not look up %q", spec.Query), err)
	}
	if len(results) == 0 {
		return nil, models.InvalidRequest("no place found for %q", spec.Query)
	}

	top := results[0]
	return &models.ResolvedPoint{Location: top.Location, Source: querySource, Name: top.Name, PlaceID: top.PlaceID}, nil
}

// gather collects candidates of each requested type around the origin,
// deduplicated by place id and ranked by score
func (p *Planner) gather(ctx context.Context, origin *models.ResolvedPoint, spec NearOrigin) ([]models.POICandidate, error) {
	types := spec.Types
	if len(types) == 0 {
		types = defaultNearbyTypes
	}
	radius := spec.RadiusM
	if radius <= 0 {
		radius = DefaultNearbyRadiusM
	}
	limit := spec.Limit
	if limit <= 0 {
		limit = DefaultNearbyLimit
	}
	if limit > MaxNearbyLimit {
		limit = MaxNearbyLimit
	}

	perType := make([][]models.POICandidate, len(types))
	failures := make([]error, len(types))

	var g errgroup.Group
	for i, placeType := range types {
		i, placeType := i, placeType
		g.Go(func() error {
			results, err := p.places.Nearby(ctx, origin.Location, placeType, radius)
			if err != nil {
				log.Printf("[PLAN] Nearby search failed: type=%s err=%v", placeType, err)
				failures[i] = err
				return nil
			}
			perType[i] = results
			return nil
		})
	}
	g.Wait()

	if lo.EveryBy(failures, func(err error) bool { return err != nil }) {
		return nil, models.NewError(models.CodeProviderError, "nearby search failed", errors.Join(failures...))
	}

	all := lo.Filter(lo.Flatten(perType), func(c models.POICandidate, _ int) bool {
		return c.PlaceID != "" && c.PlaceID != origin.PlaceID
	})
	unique := lo.UniqBy(all, func(c models.POICandidate) string { return c.PlaceID })

	sort.SliceStable(unique, func(i, j int) bool {
		si, sj := unique[i].Score(), unique[j].Score()
		if si != sj {
			return si > sj
		}
		return unique[i].PlaceID < unique[j].PlaceID
	})
	if len(unique) > limit {
		unique = unique[:limit]
	}
	return unique, nil
}

// alongRoute layers SAR results onto the plan; failures become warnings
func (p *Planner) alongRoute(ctx context.Context, plan *models.Plan, mode models.TravelMode, spec SARSpec, departure *time.Time) {
	if p.sar == nil {
		plan.Warnings = append(plan.Warnings, "search along route is not configured")
		return
	}

	stops := lo.Map(plan.Order, func(s models.PlanStop, _ int) models.GeoPoint { return s.Location })
	results, err := p.sar.SearchAlongRoute(ctx, sar.Request{
		Query:        spec.Query,
		Stops:        stops,
		Mode:         mode,
		MaxDetourMin: spec.MaxDetourMin,
		MaxResults:   spec.MaxResults,
		Departure:    departure,
	})
	if err != nil {
		log.Printf("[PLAN] Search along route failed: query=%s err=%v", spec.Query, err)
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("search along route failed: %s", models.CodeOf(err)))
		return
	}
	plan.AlongRoute = results
}

// enrich attaches details to the first few POI stops. Order and Timeline
// share the same candidate pointers, so both views see the details.
func (p *Planner) enrich(ctx context.Context, plan *models.Plan) {
	pois := lo.Filter(plan.Order, func(s models.PlanStop, _ int) bool { return s.Kind == models.StopPOI && s.POI != nil })
	if len(pois) > maxEnrichedStops {
		pois = pois[:maxEnrichedStops]
	}

	var g errgroup.Group
	for _, stop := range pois {
		poi := stop.POI
		g.Go(func() error {
			d, err := p.places.Details(ctx, poi.PlaceID)
			if err != nil {
				if !errors.Is(err, places.ErrDetailsUnsupported) {
					log.Printf("[PLAN] Enrichment skipped: place_id=%s err=%v", poi.PlaceID, err)
				}
				return nil
			}
			poi.Details = d
			return nil
		})
	}
	g.Wait()
}
