package distance

import (
	"context"
	"fmt"
	"time"

	"travel-router/internal/models"
)

// maxMatrixPoints bounds a single matrix request
const maxMatrixPoints = 25

// Provider computes a full travel-time/distance matrix for an ordered point list.
// Unreachable pairs must be reported as +Inf cells, not as an error.
type Provider interface {
	Name() string
	Matrix(ctx context.Context, points []models.GeoPoint, mode models.TravelMode, departure time.Time) (*models.MatrixResult, error)
}

// ErrMatrixFailed is returned when a matrix provider call fails
type ErrMatrixFailed struct {
	Provider   string
	StatusCode int
	Reason     string
}

func (e *ErrMatrixFailed) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s matrix failed: HTTP %d: %s", e.Provider, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s matrix failed: %s", e.Provider, e.Reason)
}

// OSRMProfile maps a travel mode onto an OSRM routing profile.
// OSRM has no transit graph, so TRANSIT falls back to driving.
func OSRMProfile(mode models.TravelMode) string {
	switch mode {
	case models.TravelModeWalk:
		return "foot"
	case models.TravelModeBicycle:
		return "bike"
	default:
		return "driving"
	}
}
