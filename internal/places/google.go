package places

import (
	"context"
	"fmt"
	"log"
	"math"

	"googlemaps.github.io/maps"

	"travel-router/internal/models"
)

type googlePlaces struct {
	client *maps.Client
}

var detailFields = []maps.PlaceDetailsFieldMask{
	maps.PlaceDetailsFieldMaskFormattedAddress,
	maps.PlaceDetailsFieldMaskWebsite,
	maps.PlaceDetailsFieldMaskFormattedPhoneNumber,
	maps.PlaceDetailsFieldMaskOpeningHours,
}

// NewGooglePlaces creates a Searcher backed by the Google Places API
func NewGooglePlaces(apiKey string, opts ...maps.ClientOption) (Searcher, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &googlePlaces{client: client}, nil
}

func (g *googlePlaces) Name() string { return "google" }

func (g *googlePlaces) TextSearch(ctx context.Context, query string, bias *models.GeoPoint, radiusM int) ([]models.POICandidate, error) {
	req := &maps.TextSearchRequest{Query: query}
	if bias != nil {
		req.Location = &maps.LatLng{Lat: bias.Lat, Lng: bias.Lon}
		req.Radius = uint(radiusM)
		if req.Radius == 0 {
			req.Radius = BiasRadiusM
		}
	}

	resp, err := g.client.TextSearch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("google text search: %w", ctx.Err())
		}
		log.Printf("[ERROR] Google text search failed: query=%s err=%v", query, err)
		return nil, &ErrSearchFailed{Provider: g.Name(), Query: query, Reason: err.Error()}
	}

	log.Printf("[PLACES] Google text search: query=%s results=%d", query, len(resp.Results))
	return fromGoogleResults(resp.Results), nil
}

func (g *googlePlaces) Nearby(ctx context.Context, center models.GeoPoint, placeType string, radiusM int) ([]models.POICandidate, error) {
	req := &maps.NearbySearchRequest{
		Location: &maps.LatLng{Lat: center.Lat, Lng: center.Lon},
		Radius:   uint(radiusM),
	}
	if pt, err := maps.ParsePlaceType(placeType); err == nil {
		req.Type = pt
	} else {
		req.Keyword = placeType
	}

	resp, err := g.client.NearbySearch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("google nearby search: %w", ctx.Err())
		}
		log.Printf("[ERROR] Google nearby search failed: type=%s err=%v", placeType, err)
		return nil, &ErrSearchFailed{Provider: g.Name(), Query: placeType, Reason: err.Error()}
	}

	log.Printf("[PLACES] Google nearby search: type=%s radius=%d results=%d", placeType, radiusM, len(resp.Results))
	return fromGoogleResults(resp.Results), nil
}

func (g *googlePlaces) Details(ctx context.Context, placeID string) (*models.PlaceDetails, error) {
	result, err := g.client.PlaceDetails(ctx, &maps.PlaceDetailsRequest{PlaceID: placeID, Fields: detailFields})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("google place details: %w", ctx.Err())
		}
		return nil, &ErrSearchFailed{Provider: g.Name(), Query: placeID, Reason: err.Error()}
	}

	details := &models.PlaceDetails{
		Address: result.FormattedAddress,
		Website: result.Website,
		Phone:   result.FormattedPhoneNumber,
	}
	if result.OpeningHours != nil {
		details.Hours = result.OpeningHours.WeekdayText
	}
	return details, nil
}

func fromGoogleResults(results []maps.PlacesSearchResult) []models.POICandidate {
	candidates := make([]models.POICandidate, 0, len(results))
	for _, r := range results {
		if r.PlaceID == "" {
			continue
		}
		candidates = append(candidates, models.POICandidate{
			PlaceID:     r.PlaceID,
			Name:        r.Name,
			Rating:      math.Round(float64(r.Rating)*10) / 10,
			ReviewCount: r.UserRatingsTotal,
			Location:    models.GeoPoint{Lat: r.Geometry.Location.Lat, Lon: r.Geometry.Location.Lng},
			Types:       r.Types,
		})
	}
	return candidates
}
