package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"travel-router/internal/models"
)

const (
	nominatimLimit      = 20
	nominatimMaxRetries = 2
)

type nominatimPlaces struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *time.Ticker
	backoff     time.Duration
}

type nominatimResponse struct {
	OSMType     string `json:"osm_type"`
	OSMID       int64  `json:"osm_id"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Class       string `json:"class"`
	Type        string `json:"type"`
}

// NewNominatimPlaces creates a Searcher backed by OpenStreetMap Nominatim.
// Nominatim has no ratings or details lookup; it is the fallback when no
// Google key is configured. Requests are limited to one per second.
func NewNominatimPlaces(baseURL string) Searcher {
	return &nominatimPlaces{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		rateLimiter: time.NewTicker(1 * time.Second),
		backoff:     time.Second,
	}
}

func (n *nominatimPlaces) Name() string { return "nominatim" }

func (n *nominatimPlaces) TextSearch(ctx context.Context, query string, bias *models.GeoPoint, radiusM int) ([]models.POICandidate, error) {
	params := url.Values{}
	params.Set("q", query)
	if bias != nil {
		if radiusM <= 0 {
			radiusM = BiasRadiusM
		}
		params.Set("viewbox", viewbox(*bias, radiusM))
	}
	return n.searchWithRetry(ctx, query, params)
}

func (n *nominatimPlaces) Nearby(ctx context.Context, center models.GeoPoint, placeType string, radiusM int) ([]models.POICandidate, error) {
	params := url.Values{}
	params.Set("q", strings.ReplaceAll(placeType, "_", " "))
	params.Set("viewbox", viewbox(center, radiusM))
	params.Set("bounded", "1")
	return n.searchWithRetry(ctx, placeType, params)
}

func (n *nominatimPlaces) Details(ctx context.Context, placeID string) (*models.PlaceDetails, error) {
	return nil, ErrDetailsUnsupported
}

// viewbox returns the "left,top,right,bottom" box of radiusM around center
func viewbox(center models.GeoPoint, radiusM int) string {
	dLat := float64(radiusM) / 111320
	dLon := dLat / math.Max(math.Cos(center.Lat*math.Pi/180), 0.01)
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", center.Lon-dLon, center.Lat+dLat, center.Lon+dLon, center.Lat-dLat)
}

func (n *nominatimPlaces) searchWithRetry(ctx context.Context, query string, params url.Values) ([]models.POICandidate, error) {
	var lastErr error

	for i := 0; i < nominatimMaxRetries; i++ {
		results, retryable, err := n.search(ctx, query, params)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if !retryable {
			break
		}

		if i < nominatimMaxRetries-1 {
			backoff := n.backoff * time.Duration(1<<uint(i))
			log.Printf("[PLACES] Nominatim retry %d/%d: query=%s backoff=%v err=%v", i+1, nominatimMaxRetries, query, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	log.Printf("[ERROR] Nominatim search failed: query=%s err=%v", query, lastErr)
	return nil, lastErr
}

func (n *nominatimPlaces) search(ctx context.Context, query string, params url.Values) ([]models.POICandidate, bool, error) {
	select {
	case <-n.rateLimiter.C:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(nominatimLimit))
	queryURL := fmt.Sprintf("%s/search?%s", n.baseURL, params.Encode())
	log.Printf("[PLACES] Nominatim request: query=%s url=%s", query, queryURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, false, &ErrSearchFailed{Provider: n.Name(), Query: query, Reason: err.Error()}
	}
	req.Header.Set("User-Agent", "TravelRouter/1.0")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, &ErrSearchFailed{Provider: n.Name(), Query: query, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, &ErrSearchFailed{
			Provider: n.Name(),
			Query:    query,
			Reason:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}

	var results []nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, false, &ErrSearchFailed{Provider: n.Name(), Query: query, Reason: err.Error()}
	}

	candidates := make([]models.POICandidate, 0, len(results))
	for _, r := range results {
		lat, err := strconv.ParseFloat(r.Lat, 64)
		if err != nil {
			log.Printf("[ERROR] Invalid latitude in nominatim response: query=%s lat=%s", query, r.Lat)
			continue
		}
		lon, err := strconv.ParseFloat(r.Lon, 64)
		if err != nil {
			log.Printf("[ERROR] Invalid longitude in nominatim response: query=%s lon=%s", query, r.Lon)
			continue
		}

		name := r.Name
		if name == "" {
			name = strings.SplitN(r.DisplayName, ",", 2)[0]
		}
		candidates = append(candidates, models.POICandidate{
			PlaceID:  fmt.Sprintf("osm:%s/%d", r.OSMType, r.OSMID),
			Name:     name,
			Location: models.GeoPoint{Lat: lat, Lon: lon},
			Types:    []string{r.Type},
		})
	}

	log.Printf("[PLACES] Nominatim response: query=%s results=%d", query, len(candidates))
	return candidates, false, nil
}
