package distance

import (
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

type osrmProvider struct {
	baseURL    string
	httpClient *http.Client
}

type osrmTableResponse struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

// NewOSRMProvider creates a matrix provider backed by the OSRM table service.
// OSRM is not traffic-aware, so the departure time is ignored.
func NewOSRMProvider(baseURL string, httpClient *http.Client) Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &osrmProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (p *osrmProvider) Name() string { return "osrm" }

func (p *osrmProvider) Matrix(ctx context.Context, points []models.GeoPoint, mode models.TravelMode, _ time.Time) (*models.MatrixResult, error) {
	n := len(points)
	coords := make([]string, n)
	for i, pt := range points {
		coords[i] = fmt.Sprintf("%.6f,%.6f", pt.Lon, pt.Lat)
	}

	queryURL := fmt.Sprintf("%s/table/v1/%s/%s?annotations=duration,distance", p.baseURL, OSRMProfile(mode), strings.Join(coords, ";"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, &ErrMatrixFailed{Provider: p.Name(), Reason: err.Error()}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Printf("[ERROR] OSRM table request failed: points=%d err=%v", n, err)
		return nil, fmt.Errorf("osrm table: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("[ERROR] OSRM table error: points=%d status=%d body=%s", n, resp.StatusCode, string(body))
		return nil, &ErrMatrixFailed{Provider: p.Name(), StatusCode: resp.StatusCode, Reason: string(body)}
	}

	var tableResp osrmTableResponse
	if err := json.NewDecoder(resp.Body).Decode(&tableResp); err != nil {
		log.Printf("[ERROR] Failed to decode OSRM table response: points=%d err=%v", n, err)
		return nil, &ErrMatrixFailed{Provider: p.Name(), Reason: err.Error()}
	}

	if tableResp.Code != "Ok" {
		log.Printf("[ERROR] OSRM table returned error code: points=%d code=%s", n, tableResp.Code)
		return nil, &ErrMatrixFailed{Provider: p.Name(), Reason: fmt.Sprintf("OSRM error: %s %s", tableResp.Code, tableResp.Message)}
	}
	if len(tableResp.Durations) != n {
		return nil, &ErrMatrixFailed{Provider: p.Name(), Reason: fmt.Sprintf("expected %d duration rows, got %d", n, len(tableResp.Durations))}
	}

	result := models.NewMatrixResult(points)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			dur := cell(tableResp.Durations, i, j)
			dist := cell(tableResp.Distances, i, j)
			if dur == nil || dist == nil {
				continue // unreachable stays +Inf
			}
			result.DurationS[i][j] = *dur
			result.DistanceM[i][j] = *dist
		}
	}

	log.Printf("[OSRM] Table response: points=%d profile=%s", n, OSRMProfile(mode))
	return result, nil
}

func cell(grid [][]*float64, i, j int) *float64 {
	if i >= len(grid) || j >= len(grid[i]) {
		return nil
	}
	return grid[i][j]
}
