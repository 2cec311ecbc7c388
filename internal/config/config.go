// Package config loads and validates environment-based configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: field %q: %s", e.Field, e.Message)
}

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	Addr string

	// Upstream providers. An empty Google key switches places search to
	// Nominatim and the matrix provider to OSRM; an empty ORS key disables
	// the constraint-aware secondary routing provider.
	GoogleAPIKey     string
	OSRMBaseURL      string
	ORSAPIKey        string
	ORSBaseURL       string
	NominatimBaseURL string

	RouteTimeout   time.Duration
	MatrixTimeout  time.Duration
	PlacesTimeout  time.Duration
	RequestTimeout time.Duration

	RouteCacheSize int
	RouteCacheTTL  time.Duration

	// Place details cache. Empty path disables persistence.
	DetailsDBPath   string
	DetailsCacheTTL time.Duration

	TracingEnabled     bool
	TracingExporter    string
	TracingEndpoint    string
	TracingSampleRatio float64
}

// Load reads and validates environment variables.
// Returns a ConfigError for any invalid value.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:             getEnv("SERVER_ADDR", "127.0.0.1:8080"),
		GoogleAPIKey:     os.Getenv("GOOGLE_MAPS_API_KEY"),
		OSRMBaseURL:      strings.TrimRight(getEnv("OSRM_BASE_URL", "https://router.project-osrm.org"), "/"),
		ORSAPIKey:        os.Getenv("ORS_API_KEY"),
		ORSBaseURL:       strings.TrimRight(getEnv("ORS_BASE_URL", "https://api.openrouteservice.org"), "/"),
		NominatimBaseURL: strings.TrimRight(getEnv("NOMINATIM_BASE_URL", "https://nominatim.openstreetmap.org"), "/"),
		DetailsDBPath:    os.Getenv("DETAILS_DB_PATH"),
		TracingEnabled:   strings.EqualFold(os.Getenv("TRACING_ENABLED"), "true"),
		TracingExporter:  strings.ToLower(getEnv("TRACING_EXPORTER", "stdout")),
		TracingEndpoint:  os.Getenv("TRACING_ENDPOINT"),
	}

	var err error
	if cfg.RouteTimeout, err = parseDurationEnv("ROUTE_TIMEOUT", 12*time.Second); err != nil {
		return nil, err
	}
	if cfg.MatrixTimeout, err = parseDurationEnv("MATRIX_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PlacesTimeout, err = parseDurationEnv("PLACES_TIMEOUT", 8*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = parseDurationEnv("REQUEST_TIMEOUT", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.RouteCacheTTL, err = parseDurationEnv("ROUTE_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DetailsCacheTTL, err = parseDurationEnv("DETAILS_CACHE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RouteCacheSize, err = parseIntEnv("ROUTE_CACHE_SIZE", 512); err != nil {
		return nil, err
	}

	cfg.TracingSampleRatio = 1.0
	if raw := os.Getenv("TRACING_SAMPLE_RATIO"); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &ConfigError{Field: "TRACING_SAMPLE_RATIO", Message: "must be a number"}
		}
		cfg.TracingSampleRatio = ratio
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate re-checks fields on an already-constructed Config.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, &ConfigError{Field: "SERVER_ADDR", Message: "cannot be empty"})
	}
	if c.OSRMBaseURL == "" {
		errs = append(errs, &ConfigError{Field: "OSRM_BASE_URL", Message: "cannot be empty"})
	}
	for field, d := range map[string]time.Duration{
		"ROUTE_TIMEOUT":     c.RouteTimeout,
		"MATRIX_TIMEOUT":    c.MatrixTimeout,
		"PLACES_TIMEOUT":    c.PlacesTimeout,
		"REQUEST_TIMEOUT":   c.RequestTimeout,
		"ROUTE_CACHE_TTL":   c.RouteCacheTTL,
		"DETAILS_CACHE_TTL": c.DetailsCacheTTL,
	} {
		if d <= 0 {
			errs = append(errs, &ConfigError{Field: field, Message: "must be positive"})
		}
	}
	if c.RouteCacheSize < 1 {
		errs = append(errs, &ConfigError{Field: "ROUTE_CACHE_SIZE", Message: "must be at least 1"})
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		errs = append(errs, &ConfigError{Field: "TRACING_SAMPLE_RATIO", Message: "must be between 0 and 1"})
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDurationEnv reads a Go duration string such as "12s" or "10m".
func parseDurationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be a duration like 12s or 10m"}
	}
	return d, nil
}

func parseIntEnv(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be a valid integer"}
	}
	return v, nil
}
