package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"travel-router/internal/models"
)

// ProviderRoute is a route normalized from a provider response, before rounding
type ProviderRoute struct {
	DistanceM float64
	DurationS float64
	Geometry  string
}

// Provider computes a single route through the given stops. A nil or empty
// avoid set means no exclusions are requested.
type Provider interface {
	Name() string
	Route(ctx context.Context, stops []models.GeoPoint, mode models.TravelMode, avoid models.AvoidSet) (*ProviderRoute, error)
}

// ErrUnsupportedMode is returned by providers that have no profile for a travel mode
var ErrUnsupportedMode = errors.New("travel mode not supported by provider")

// ProviderError describes a failed provider call
type ProviderError struct {
	Provider   string
	StatusCode int
	Timeout    bool
	Network    bool
	NoRoute    bool
	Reason     string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: request timed out", e.Provider)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ServerError reports a 5xx response
func (e *ProviderError) ServerError() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// transportError classifies an http.Client.Do failure
func transportError(ctx context.Context, provider string, err error) *ProviderError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Timeout: true, Reason: err.Error(), Err: context.DeadlineExceeded}
	}
	return &ProviderError{Provider: provider, Network: true, Reason: err.Error(), Err: err}
}
