package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"travel-router/internal/models"
)

var orsAvoidFeatures = map[models.AvoidTerm]string{
	models.AvoidTolls:    "tollways",
	models.AvoidFerries:  "ferries",
	models.AvoidHighways: "highways",
}

type orsRouter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type orsRequest struct {
	Coordinates [][2]float64 `json:"coordinates"`
	Options     *orsOptions  `json:"options,omitempty"`
}

type orsOptions struct {
	AvoidFeatures []string `json:"avoid_features,omitempty"`
}

type orsResponse struct {
	Routes []struct {
		Summary struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"summary"`
		Geometry string `json:"geometry"`
	} `json:"routes"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewORSRouter creates the constraint-aware secondary provider backed by OpenRouteService
func NewORSRouter(baseURL, apiKey string, httpClient *http.Client) Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &orsRouter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (r *orsRouter) Name() string { return "openrouteservice" }

func orsProfile(mode models.TravelMode) (string, bool) {
	switch mode {
	case models.TravelModeDrive, models.TravelModeTwoWheeler:
		return "driving-car", true
	case models.TravelModeWalk:
		return "foot-walking", true
	case models.TravelModeBicycle:
		return "cycling-regular", true
	default:
		return "", false
	}
}

func (r *orsRouter) Route(ctx context.Context, stops []models.GeoPoint, mode models.TravelMode, avoid models.AvoidSet) (*ProviderRoute, error) {
	profile, ok := orsProfile(mode)
	if !ok {
		return nil, &ProviderError{Provider: r.Name(), Reason: fmt.Sprintf("no profile for %s", mode), Err: ErrUnsupportedMode}
	}

	payload := orsRequest{Coordinates: make([][2]float64, len(stops))}
	for i, s := range stops {
		payload.Coordinates[i] = [2]float64{s.Lon, s.Lat}
	}
	if len(avoid) > 0 {
		features := make([]string, 0, len(avoid))
		for _, term := range avoid {
			features = append(features, orsAvoidFeatures[term])
		}
		payload.Options = &orsOptions{AvoidFeatures: features}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProviderError{Provider: r.Name(), Reason: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/v2/directions/%s", r.baseURL, profile), bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: r.Name(), Reason: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.Printf("[ERROR] ORS directions request failed: profile=%s err=%v", profile, err)
		return nil, transportError(ctx, r.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, r.Name(), err)
	}

	var orsResp orsResponse
	decodeErr := json.Unmarshal(respBody, &orsResp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := strings.TrimSpace(string(respBody))
		if decodeErr == nil && orsResp.Error != nil {
			reason = fmt.Sprintf("%d: %s", orsResp.Error.Code, orsResp.Error.Message)
		}
		return nil, &ProviderError{Provider: r.Name(), StatusCode: resp.StatusCode, Reason: reason}
	}
	if decodeErr != nil {
		return nil, &ProviderError{Provider: r.Name(), Reason: fmt.Sprintf("malformed response: %v", decodeErr), Err: decodeErr}
	}
	if len(orsResp.Routes) == 0 {
		return nil, &ProviderError{Provider: r.Name(), NoRoute: true, Reason: "no routes returned"}
	}

	best := orsResp.Routes[0]
	return &ProviderRoute{
		DistanceM: best.Summary.Distance,
		DurationS: best.Summary.Duration,
		Geometry:  best.Geometry,
	}, nil
}
