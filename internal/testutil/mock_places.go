package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"travel-router/internal/models"
)

// MockPlaces is an in-memory places searcher for tests
type MockPlaces struct {
	mu sync.Mutex

	// TextFunc, when set, answers TextSearch instead of TextResults
	TextFunc      func(query string, bias *models.GeoPoint) ([]models.POICandidate, error)
	TextResults   map[string][]models.POICandidate
	NearbyResults map[string][]models.POICandidate
	NearbyErr     error
	DetailsErr    error
	Delay         time.Duration

	details      map[string]*models.PlaceDetails
	textCalls    int
	nearbyCalls  int
	detailsCalls int
}

// NewMockPlaces creates an empty mock
func NewMockPlaces() *MockPlaces {
	return &MockPlaces{
		TextResults:   make(map[string][]models.POICandidate),
		NearbyResults: make(map[string][]models.POICandidate),
		details:       make(map[string]*models.PlaceDetails),
	}
}

// SetDetails registers the details returned for placeID
func (m *MockPlaces) SetDetails(placeID string, d *models.PlaceDetails) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[placeID] = d
}

func (m *MockPlaces) TextCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.textCalls
}

func (m *MockPlaces) NearbyCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nearbyCalls
}

func (m *MockPlaces) DetailsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detailsCalls
}

func (m *MockPlaces) Name() string { return "mock" }

func (m *MockPlaces) wait(ctx context.Context) error {
	if m.Delay == 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockPlaces) TextSearch(ctx context.Context, query string, bias *models.GeoPoint, _ int) ([]models.POICandidate, error) {
	m.mu.Lock()
	m.textCalls++
	fn := m.TextFunc
	results := m.TextResults[query]
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(query, bias)
	}
	return append([]models.POICandidate(nil), results...), nil
}

func (m *MockPlaces) Nearby(ctx context.Context, _ models.GeoPoint, placeType string, _ int) ([]models.POICandidate, error) {
	m.mu.Lock()
	m.nearbyCalls++
	results := m.NearbyResults[placeType]
	err := m.NearbyErr
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return append([]models.POICandidate(nil), results...), nil
}

func (m *MockPlaces) Details(ctx context.Context, placeID string) (*models.PlaceDetails, error) {
	m.mu.Lock()
	m.detailsCalls++
	d, ok := m.details[placeID]
	err := m.DetailsErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no details for %s", placeID)
	}
	copied := *d
	return &copied, nil
}

// Candidate builds a POI candidate for tests
func Candidate(id string, lat, lon, rating float64, reviews int) models.POICandidate {
	return models.POICandidate{
		PlaceID:     id,
		Name:        "Place " + id,
		Rating:      rating,
		ReviewCount: reviews,
		Location:    models.GeoPoint{Lat: lat, Lon: lon},
	}
}
