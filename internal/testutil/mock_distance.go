package testutil

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"travel-router/internal/models"
)

// MatrixCall records one call to MockMatrixProvider
type MatrixCall struct {
	Points    []models.GeoPoint
	Mode      models.TravelMode
	Departure time.Time
}

// MockMatrixProvider is a deterministic matrix provider for tests.
// Durations default to scaled Euclidean distance at 50 km/h; individual pairs
// can be overridden or marked unreachable.
type MockMatrixProvider struct {
	mu sync.Mutex

	ScaleFactor float64
	Overrides   map[string]float64
	Unreachable map[string]bool
	Err         error
	Calls       []MatrixCall
}

// NewMockMatrixProvider creates a mock with 1 degree ≈ 111 km
func NewMockMatrixProvider() *MockMatrixProvider {
	return &MockMatrixProvider{
		ScaleFactor: 111000,
		Overrides:   make(map[string]float64),
		Unreachable: make(map[string]bool),
	}
}

func pairKey(origin, dest models.GeoPoint) string {
	return fmt.Sprintf("%.5f,%.5f->%.5f,%.5f", origin.Lat, origin.Lon, dest.Lat, dest.Lon)
}

// SetDuration fixes the duration in seconds for a directed pair
func (m *MockMatrixProvider) SetDuration(origin, dest models.GeoPoint, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Overrides[pairKey(origin, dest)] = seconds
}

// SetUnreachable marks a directed pair as unreachable
func (m *MockMatrixProvider) SetUnreachable(origin, dest models.GeoPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unreachable[pairKey(origin, dest)] = true
}

// CallCount returns the number of Matrix calls made
func (m *MockMatrixProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func (m *MockMatrixProvider) Name() string { return "mock" }

func (m *MockMatrixProvider) Matrix(ctx context.Context, points []models.GeoPoint, mode models.TravelMode, departure time.Time) (*models.MatrixResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MatrixCall{Points: append([]models.GeoPoint(nil), points...), Mode: mode, Departure: departure})
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := models.NewMatrixResult(points)
	for i, a := range points {
		for j, b := range points {
			if i == j {
				continue
			}
			key := pairKey(a, b)
			if m.Unreachable[key] {
				continue
			}
			dLat := b.Lat - a.Lat
			dLon := b.Lon - a.Lon
			dist := math.Sqrt(dLat*dLat+dLon*dLon) * m.ScaleFactor
			dur := dist / 50000 * 3600
			if override, ok := m.Overrides[key]; ok {
				dur = override
			}
			result.DurationS[i][j] = dur
			result.DistanceM[i][j] = dist
		}
	}
	return result, nil
}
