package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"travel-router/internal/distance"
	"travel-router/internal/models"
)

// osrmExclusions maps avoid terms onto OSRM exclude classes
var osrmExclusions = map[models.AvoidTerm]string{
	models.AvoidTolls:    "toll",
	models.AvoidFerries:  "ferry",
	models.AvoidHighways: "motorway",
}

type osrmRouter struct {
	baseURL    string
	httpClient *http.Client
}

type osrmRouteResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry string  `json:"geometry"`
	} `json:"routes"`
}

// NewOSRMRouter creates the primary turn-by-turn provider backed by the OSRM route service
func NewOSRMRouter(baseURL string, httpClient *http.Client) Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &osrmRouter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (r *osrmRouter) Name() string { return "osrm" }

func (r *osrmRouter) Route(ctx context.Context, stops []models.GeoPoint, mode models.TravelMode, avoid models.AvoidSet) (*ProviderRoute, error) {
	coords := make([]string, len(stops))
	for i, s := range stops {
		coords[i] = fmt.Sprintf("%.6f,%.6f", s.Lon, s.Lat)
	}

	params := url.Values{}
	params.Set("overview", "full")
	params.Set("geometries", "polyline")
	if len(avoid) > 0 {
		classes := make([]string, 0, len(avoid))
		for _, term := range avoid {
			if c, ok := osrmExclusions[term]; ok {
				classes = append(classes, c)
			}
		}
		params.Set("exclude", strings.Join(classes, ","))
	}

	queryURL := fmt.Sprintf("%s/route/v1/%s/%s?%s", r.baseURL, distance.OSRMProfile(mode), strings.Join(coords, ";"), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, &ProviderError{Provider: r.Name(), Reason: err.Error(), Err: err}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.Printf("[ERROR] OSRM route request failed: stops=%d err=%v", len(stops), err)
		return nil, transportError(ctx, r.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, r.Name(), err)
	}

	var routeResp osrmRouteResponse
	decodeErr := json.Unmarshal(body, &routeResp)

	if resp.StatusCode != http.StatusOK {
		reason := strings.TrimSpace(string(body))
		if decodeErr == nil && routeResp.Code != "" {
			reason = fmt.Sprintf("%s: %s", routeResp.Code, routeResp.Message)
		}
		log.Printf("[ERROR] OSRM route error: status=%d reason=%s", resp.StatusCode, reason)
		return nil, &ProviderError{
			Provider:   r.Name(),
			StatusCode: resp.StatusCode,
			NoRoute:    routeResp.Code == "NoRoute",
			Reason:     reason,
		}
	}
	if decodeErr != nil {
		return nil, &ProviderError{Provider: r.Name(), Reason: fmt.Sprintf("malformed response: %v", decodeErr), Err: decodeErr}
	}
	if routeResp.Code != "Ok" || len(routeResp.Routes) == 0 {
		return nil, &ProviderError{
			Provider: r.Name(),
			NoRoute:  true,
			Reason:   fmt.Sprintf("code=%s routes=%d", routeResp.Code, len(routeResp.Routes)),
		}
	}

	best := routeResp.Routes[0]
	return &ProviderRoute{
		DistanceM: best.Distance,
		DurationS: best.Duration,
		Geometry:  best.Geometry,
	}, nil
}
