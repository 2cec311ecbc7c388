package places

import (
	"context"
	"errors"
	"fmt"

	"travel-router/internal/models"
)

// BiasRadiusM is the default search bias radius around a point
const BiasRadiusM = 2000

// Searcher finds places and fetches their details
type Searcher interface {
	Name() string
	// TextSearch returns ranked candidates for query, biased towards bias when set
	TextSearch(ctx context.Context, query string, bias *models.GeoPoint, radiusM int) ([]models.POICandidate, error)
	// Nearby returns candidates of placeType within radiusM of center
	Nearby(ctx context.Context, center models.GeoPoint, placeType string, radiusM int) ([]models.POICandidate, error)
	Details(ctx context.Context, placeID string) (*models.PlaceDetails, error)
}

// ErrDetailsUnsupported is returned by providers without a details lookup
var ErrDetailsUnsupported = errors.New("place details not supported by provider")

// ErrSearchFailed is returned when a places provider call fails
type ErrSearchFailed struct {
	Provider string
	Query    string
	Reason   string
}

func (e *ErrSearchFailed) Error() string {
	return fmt.Sprintf("%s search failed for %q: %s", e.Provider, e.Query, e.Reason)
}
