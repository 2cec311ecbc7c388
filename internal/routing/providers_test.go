package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-router/internal/models"
)

func TestOSRMRouter_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/route/v1/driving/34.781800,32.085300;34.855500,32.109300", r.URL.Path)
		assert.Equal(t, "full", r.URL.Query().Get("overview"))
		assert.Equal(t, "polyline", r.URL.Query().Get("geometries"))
		assert.Equal(t, "ferry,toll", r.URL.Query().Get("exclude"))
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":12000.4,"duration":900.2,"geometry":"abc"}]}`))
	}))
	defer server.Close()

	router := NewOSRMRouter(server.URL, server.Client())
	route, err := router.Route(context.Background(), []models.GeoPoint{telAviv, ramatGan}, models.TravelModeDrive, models.ParseAvoid([]string{"tolls", "ferries"}))
	require.NoError(t, err)

	assert.Equal(t, 12000.4, route.DistanceM)
	assert.Equal(t, 900.2, route.DurationS)
	assert.Equal(t, "abc", route.Geometry)
}

func TestOSRMRouter_NoExcludeWithoutAvoid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.URL.Query()["exclude"]
		assert.False(t, present)
		assert.Contains(t, r.URL.Path, "/route/v1/foot/")
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":1,"duration":1,"geometry":""}]}`))
	}))
	defer server.Close()

	router := NewOSRMRouter(server.URL, server.Client())
	_, err := router.Route(context.Background(), []models.GeoPoint{telAviv, ramatGan}, models.TravelModeWalk, nil)
	require.NoError(t, err)
}

func TestOSRMRouter_Failures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantStatus  int
		wantNoRoute bool
		wantTrip    time.Duration
	}{
		{"no route code", http.StatusOK, `{"code":"NoRoute","routes":[]}`, 0, true, 0},
		{"zero routes", http.StatusOK, `{"code":"Ok","routes":[]}`, 0, true, 0},
		{"no route 400", http.StatusBadRequest, `{"code":"NoRoute","message":"Impossible route"}`, 400, true, 0},
		{"malformed", http.StatusOK, `not json`, 0, false, 0},
		{"server error", http.StatusServiceUnavailable, `overloaded`, 503, false, serverErrorCooldown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			router := NewOSRMRouter(server.URL, server.Client())
			_, err := router.Route(context.Background(), []models.GeoPoint{telAviv, ramatGan}, models.TravelModeDrive, nil)
			require.Error(t, err)

			pe, ok := asProviderError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantStatus, pe.StatusCode)
			assert.Equal(t, tt.wantNoRoute, pe.NoRoute)
			assert.Equal(t, tt.wantTrip, cooldownFor(err))
		})
	}
}

func TestOSRMRouter_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	router := NewOSRMRouter(server.URL, server.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := router.Route(ctx, []models.GeoPoint{telAviv, ramatGan}, models.TravelModeDrive, nil)
	require.Error(t, err)
	assert.True(t, isTimeout(err))
	assert.Equal(t, networkCooldown, cooldownFor(err))
}

func TestOSRMRouter_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	router := NewOSRMRouter(url, nil)
	_, err := router.Route(context.Background(), []models.GeoPoint{telAviv, ramatGan}, models.TravelModeDrive, nil)
	pe, ok := asProviderError(err)
	require.True(t, ok)
	assert.True(t, pe.Network)
	assert.Equal(t, networkCooldown, cooldownFor(err))
}

func TestORSRouter_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/directions/driving-car", r.URL.Path)
		assert.Equal(t, "ors-key", r.Header.Get("Authorization"))

		var body orsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, [][2]float64{{34.7818, 32.0853}, {34.8555, 32.1093}}, body.Coordinates)
		require.NotNil(t, body.Options)
		assert.Equal(t, []string{"highways", "tollways"}, body.Options.AvoidFeatures)

		w.Write([]byte(`{"routes":[{"summary":{"distance":13000.2,"duration":980.7},"geometry":"xyz"}]}`))
	}))
	defer server.Close()

	router := NewORSRouter(server.URL, "ors-key", server.Client())
	route, err := router.Route(context.Background(), []models.GeoPoint{telAviv, ramatGan}, models.TravelModeDrive, models.ParseAvoid([]string{"tolls", "highways"}))
	require.NoError(t, err)

	assert.Equal(t, 13000.2, route.DistanceM)
	assert.Equal(t, 980.7, route.DurationS)
	assert.Equal(t, "xyz", route.Geometry)
}

func TestORSRouter_ErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":2010,"message":"Could not find routable point"}}`))
	}))
	defer server.Close()

	router := NewORSRouter(server.URL, "ors-key", server.Client())
	_, err := router.Route(context.Background(), []models.GeoPoint{telAviv, ramatGan}, models.TravelModeBicycle, models.ParseAvoid([]string{"ferries"}))

	pe, ok := asProviderError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, pe.StatusCode)
	assert.Contains(t, pe.Reason, "2010")
}

func TestORSRouter_TransitUnsupported(t *testing.T) {
	router := NewORSRouter("http://127.0.0.1:1", "ors-key", nil)
	_, err := router.Route(context.Background(), []models.GeoPoint{telAviv, ramatGan}, models.TravelModeTransit, models.ParseAvoid([]string{"tolls"}))
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	assert.Equal(t, time.Duration(0), cooldownFor(err))
}

func TestOrchestrator_WithHTTPProviders(t *testing.T) {
	var osrmCalls int
	osrm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		osrmCalls++
		if r.URL.Query().Get("exclude") != "" {
			w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
			return
		}
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":12000,"duration":900,"geometry":"g"}]}`))
	}))
	defer osrm.Close()

	ors := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer ors.Close()

	o, err := NewOrchestrator(Config{
		Primary:   NewOSRMRouter(osrm.URL, osrm.Client()),
		Secondary: NewORSRouter(ors.URL, "k", ors.Client()),
	})
	require.NoError(t, err)

	result, err := o.ComputeRoute(context.Background(), routeReq("ferries"))
	require.NoError(t, err)

	assert.Equal(t, "osrm", result.ProviderUsed)
	assert.True(t, result.ConstraintRelaxed)
	assert.Equal(t, 2, osrmCalls)

	usage := o.Usage()
	assert.Equal(t, int64(1), usage.Fallbacks)
	assert.Equal(t, int64(1), usage.Relaxed)
}
