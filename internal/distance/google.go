package distance

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"travel-router/internal/models"
)

// maxGoogleElements is the per-request element limit of the Distance Matrix API
const maxGoogleElements = 100

type googleProvider struct {
	client *maps.Client
}

// NewGoogleProvider creates a traffic-aware matrix provider backed by the
// Google Distance Matrix API.
func NewGoogleProvider(apiKey string, opts ...maps.ClientOption) (Provider, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &googleProvider{client: client}, nil
}

func (p *googleProvider) Name() string { return "google" }

func googleMode(mode models.TravelMode) maps.Mode {
	switch mode {
	case models.TravelModeWalk:
		return maps.TravelModeWalking
	case models.TravelModeBicycle:
		return maps.TravelModeBicycling
	case models.TravelModeTransit:
		return maps.TravelModeTransit
	default:
		return maps.TravelModeDriving
	}
}

func (p *googleProvider) Matrix(ctx context.Context, points []models.GeoPoint, mode models.TravelMode, departure time.Time) (*models.MatrixResult, error) {
	n := len(points)
	locations := make([]string, n)
	for i, pt := range points {
		locations[i] = (&maps.LatLng{Lat: pt.Lat, Lng: pt.Lon}).String()
	}

	// Rows are requested in chunks so every call stays within the element limit.
	rowsPerRequest := maxGoogleElements / n
	if rowsPerRequest < 1 {
		rowsPerRequest = 1
	}

	result := models.NewMatrixResult(points)
	for start := 0; start < n; start += rowsPerRequest {
		end := start + rowsPerRequest
		if end > n {
			end = n
		}

		req := &maps.DistanceMatrixRequest{
			Origins:       locations[start:end],
			Destinations:  locations,
			Mode:          googleMode(mode),
			DepartureTime: strconv.FormatInt(departure.Unix(), 10),
			Units:         maps.UnitsMetric,
		}
		if req.Mode == maps.TravelModeDriving {
			req.TrafficModel = maps.TrafficModelBestGuess
		}

		resp, err := p.client.DistanceMatrix(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("google distance matrix: %w", ctx.Err())
			}
			log.Printf("[ERROR] Google distance matrix failed: rows=%d-%d err=%v", start, end, err)
			return nil, &ErrMatrixFailed{Provider: p.Name(), Reason: err.Error()}
		}
		if len(resp.Rows) != end-start {
			return nil, &ErrMatrixFailed{Provider: p.Name(), Reason: fmt.Sprintf("expected %d rows, got %d", end-start, len(resp.Rows))}
		}

		for r, row := range resp.Rows {
			i := start + r
			for j, el := range row.Elements {
				if i == j || j >= n || el == nil || el.Status != "OK" {
					continue
				}
				dur := el.Duration
				if el.DurationInTraffic > 0 {
					dur = el.DurationInTraffic
				}
				result.DurationS[i][j] = dur.Seconds()
				result.DistanceM[i][j] = float64(el.Distance.Meters)
			}
		}
	}

	log.Printf("[GOOGLE] Distance matrix response: points=%d mode=%s", n, mode)
	return result, nil
}
