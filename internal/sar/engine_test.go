package sar

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-router/internal/distance"
	"travel-router/internal/models"
	"travel-router/internal/testutil"
)

var (
	origin      = models.GeoPoint{Lat: 32.0000, Lon: 34.8000}
	destination = models.GeoPoint{Lat: 32.2000, Lon: 34.8000}
)

func minutes(n int) *int { return &n }

func newTestEngine(places *testutil.MockPlaces, matrix *testutil.MockMatrixProvider) *Engine {
	return NewEngine(places, distance.NewMatrixCache(matrix))
}

func TestDetourExample(t *testing.T) {
	candidate := testutil.Candidate("c1", 32.1, 34.85, 4.5, 100)

	matrix := testutil.NewMockMatrixProvider()
	matrix.SetDuration(origin, destination, 600)
	matrix.SetDuration(origin, candidate.Location, 300)
	matrix.SetDuration(candidate.Location, destination, 400)

	places := testutil.NewMockPlaces()
	places.TextResults["gas station"] = []models.POICandidate{candidate}

	results, err := newTestEngine(places, matrix).SearchAlongRoute(context.Background(), Request{
		Query: "gas station",
		Stops: []models.GeoPoint{origin, destination},
		Mode:  models.TravelModeDrive,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.NotNil(t, results[0].DetourS)
	assert.Equal(t, 100.0, *results[0].DetourS)
	assert.Equal(t, 2, *results[0].DetourMin)
}

func TestSearchAlongRoute_ZeroMaxDetourKeepsOnlyOnRouteStops(t *testing.T) {
	detour := testutil.Candidate("detour", 32.1, 34.85, 4.5, 100)
	onRoute := testutil.Candidate("on-route", 32.1, 34.80, 3.0, 10)

	matrix := testutil.NewMockMatrixProvider()
	matrix.SetDuration(origin, destination, 600)
	matrix.SetDuration(origin, detour.Location, 500)
	matrix.SetDuration(detour.Location, destination, 400) // 300s -> 5 min
	matrix.SetDuration(origin, onRoute.Location, 300)
	matrix.SetDuration(onRoute.Location, destination, 310) // 10s -> 0 min

	places := testutil.NewMockPlaces()
	places.TextResults["fuel"] = []models.POICandidate{detour, onRoute}

	results, err := newTestEngine(places, matrix).SearchAlongRoute(context.Background(), Request{
		Query:        "fuel",
		Stops:        []models.GeoPoint{origin, destination},
		MaxDetourMin: minutes(0),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "on-route", results[0].PlaceID)
	assert.Equal(t, 0, *results[0].DetourMin)
}

func TestSearchAlongRoute_DefaultMaxDetour(t *testing.T) {
	c := testutil.Candidate("c1", 32.1, 34.85, 4.5, 100)

	matrix := testutil.NewMockMatrixProvider()
	matrix.SetDuration(origin, destination, 600)
	matrix.SetDuration(origin, c.Location, 800)
	matrix.SetDuration(c.Location, destination, 400) // 600s -> 10 min

	places := testutil.NewMockPlaces()
	places.TextResults["fuel"] = []models.POICandidate{c}

	results, err := newTestEngine(places, matrix).SearchAlongRoute(context.Background(), Request{
		Query: "fuel",
		Stops: []models.GeoPoint{origin, destination},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, DefaultMaxDetourMin, *results[0].DetourMin)
}

func TestSearchAlongRoute_NegativeMaxDetourRejected(t *testing.T) {
	places := testutil.NewMockPlaces()
	_, err := newTestEngine(places, testutil.NewMockMatrixProvider()).SearchAlongRoute(context.Background(), Request{
		Query:        "fuel",
		Stops:        []models.GeoPoint{origin, destination},
		MaxDetourMin: minutes(-1),
	})
	assert.Equal(t, models.CodeInvalidRequest, models.CodeOf(err))
	assert.Equal(t, 0, places.TextCalls())
}

func TestSearchAlongRoute_FiltersDedupesAndSorts(t *testing.T) {
	near := testutil.Candidate("near", 32.10, 34.80, 3.0, 10)
	nearBetter := testutil.Candidate("near-better", 32.11, 34.80, 4.8, 500)
	far := testutil.Candidate("far", 32.10, 35.50, 5.0, 1000)
	mid := testutil.Candidate("mid", 32.12, 34.81, 4.0, 50)

	matrix := testutil.NewMockMatrixProvider()
	matrix.SetDuration(origin, destination, 1200)
	for _, c := range []models.POICandidate{near, nearBetter, far, mid} {
		matrix.SetDuration(origin, c.Location, 600)
	}
	matrix.SetDuration(near.Location, destination, 620)       // 20s -> 0 min
	matrix.SetDuration(nearBetter.Location, destination, 610) // 10s -> 0 min
	matrix.SetDuration(mid.Location, destination, 900)        // 300s -> 5 min
	matrix.SetDuration(far.Location, destination, 1500)       // 900s -> 15 min

	places := testutil.NewMockPlaces()
	// Every sample returns overlapping results.
	places.TextFunc = func(string, *models.GeoPoint) ([]models.POICandidate, error) {
		return []models.POICandidate{near, far, nearBetter, mid, near}, nil
	}

	results, err := newTestEngine(places, matrix).SearchAlongRoute(context.Background(), Request{
		Query:        "cafe",
		Stops:        []models.GeoPoint{origin, {Lat: 32.1, Lon: 34.8}, destination},
		MaxDetourMin: minutes(10),
	})
	require.NoError(t, err)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.PlaceID
		assert.LessOrEqual(t, *r.DetourMin, 10)
	}
	assert.Equal(t, []string{"near-better", "near", "mid"}, ids)
	assert.Equal(t, 3, places.TextCalls(), "one search per sample")
}

func TestSearchAlongRoute_NegativeDetourClamped(t *testing.T) {
	c := testutil.Candidate("on-route", 32.1, 34.8, 4, 10)

	matrix := testutil.NewMockMatrixProvider()
	matrix.SetDuration(origin, destination, 700)
	matrix.SetDuration(origin, c.Location, 340)
	matrix.SetDuration(c.Location, destination, 350)

	places := testutil.NewMockPlaces()
	places.TextResults["x"] = []models.POICandidate{c}

	results, err := newTestEngine(places, matrix).SearchAlongRoute(context.Background(), Request{Query: "x", Stops: []models.GeoPoint{origin, destination}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.0, *results[0].DetourS)
	assert.Equal(t, 0, *results[0].DetourMin)
}

func TestSearchAlongRoute_UnreachableDropped(t *testing.T) {
	island := testutil.Candidate("island", 32.1, 34.9, 5, 1000)
	ok := testutil.Candidate("ok", 32.1, 34.8, 3, 10)

	matrix := testutil.NewMockMatrixProvider()
	matrix.SetUnreachable(island.Location, destination)

	places := testutil.NewMockPlaces()
	places.TextResults["x"] = []models.POICandidate{island, ok}

	results, err := newTestEngine(places, matrix).SearchAlongRoute(context.Background(), Request{Query: "x", Stops: []models.GeoPoint{origin, destination}, MaxDetourMin: minutes(60)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].PlaceID)
}

func TestSearchAlongRoute_CapsAt50Candidates(t *testing.T) {
	var many []models.POICandidate
	for i := 0; i < 80; i++ {
		many = append(many, testutil.Candidate(fmt.Sprintf("p%02d", i), 32.1, 34.8+float64(i)*0.0001, 4, 10))
	}

	matrix := testutil.NewMockMatrixProvider()
	places := testutil.NewMockPlaces()
	places.TextResults["x"] = many

	_, err := newTestEngine(places, matrix).SearchAlongRoute(context.Background(), Request{Query: "x", Stops: []models.GeoPoint{origin, destination}, MaxResults: 100, MaxDetourMin: minutes(1000)})
	require.NoError(t, err)
	assert.Equal(t, 50, matrix.CallCount(), "one detour matrix per unique candidate")
}

func TestSearchAlongRoute_TruncatesAndEnriches(t *testing.T) {
	var many []models.POICandidate
	for i := 0; i < 12; i++ {
		many = append(many, testutil.Candidate(fmt.Sprintf("p%02d", i), 32.1, 34.8, float64(i%5), i))
	}

	places := testutil.NewMockPlaces()
	places.TextResults["x"] = many
	for _, c := range many {
		places.SetDetails(c.PlaceID, &models.PlaceDetails{Address: "addr " + c.PlaceID})
	}

	results, err := newTestEngine(places, testutil.NewMockMatrixProvider()).SearchAlongRoute(context.Background(), Request{Query: "x", Stops: []models.GeoPoint{origin, destination}, MaxDetourMin: minutes(1000)})
	require.NoError(t, err)
	require.Len(t, results, DefaultMaxResults)

	for i, r := range results {
		if i < maxEnriched {
			require.NotNil(t, r.Details, "result %d should be enriched", i)
			assert.Equal(t, "addr "+r.PlaceID, r.Details.Address)
		} else {
			assert.Nil(t, r.Details)
		}
	}
	assert.Equal(t, maxEnriched, places.DetailsCalls())
}

func TestSearchAlongRoute_EnrichmentFailureKeepsCandidate(t *testing.T) {
	places := testutil.NewMockPlaces()
	places.TextResults["x"] = []models.POICandidate{testutil.Candidate("a", 32.1, 34.8, 4, 4)}
	places.DetailsErr = errors.New("details down")

	results, err := newTestEngine(places, testutil.NewMockMatrixProvider()).SearchAlongRoute(context.Background(), Request{Query: "x", Stops: []models.GeoPoint{origin, destination}, MaxDetourMin: minutes(1000)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Details)
}

func TestSearchAlongRoute_MatrixFailureIsFatal(t *testing.T) {
	matrix := testutil.NewMockMatrixProvider()
	matrix.Err = errors.New("matrix down")

	places := testutil.NewMockPlaces()
	places.TextResults["x"] = []models.POICandidate{testutil.Candidate("a", 32.1, 34.8, 4, 4)}

	_, err := newTestEngine(places, matrix).SearchAlongRoute(context.Background(), Request{Query: "x", Stops: []models.GeoPoint{origin, destination}})
	require.Error(t, err)
	assert.Equal(t, models.CodeMatrixError, models.CodeOf(err))
}

func TestSearchAlongRoute_SearchFailures(t *testing.T) {
	var calls atomic.Int32
	places := testutil.NewMockPlaces()
	places.TextFunc = func(string, *models.GeoPoint) ([]models.POICandidate, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("flaky")
		}
		return []models.POICandidate{testutil.Candidate("a", 32.1, 34.8, 4, 4)}, nil
	}

	engine := newTestEngine(places, testutil.NewMockMatrixProvider())
	results, err := engine.SearchAlongRoute(context.Background(), Request{Query: "x", Stops: []models.GeoPoint{origin, destination}, MaxDetourMin: minutes(1000)})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	allFail := testutil.NewMockPlaces()
	allFail.TextFunc = func(string, *models.GeoPoint) ([]models.POICandidate, error) {
		return nil, errors.New("down")
	}
	_, err = newTestEngine(allFail, testutil.NewMockMatrixProvider()).SearchAlongRoute(context.Background(), Request{Query: "x", Stops: []models.GeoPoint{origin, destination}})
	assert.Equal(t, models.CodeProviderError, models.CodeOf(err))
}

func TestSearchAlongRoute_InvalidRequest(t *testing.T) {
	engine := newTestEngine(testutil.NewMockPlaces(), testutil.NewMockMatrixProvider())
	ctx := context.Background()

	_, err := engine.SearchAlongRoute(ctx, Request{Query: "", Stops: []models.GeoPoint{origin, destination}})
	assert.Equal(t, models.CodeInvalidRequest, models.CodeOf(err))

	_, err = engine.SearchAlongRoute(ctx, Request{Query: "x", Stops: []models.GeoPoint{origin}})
	assert.Equal(t, models.CodeInvalidRequest, models.CodeOf(err))
}

func TestDownsample(t *testing.T) {
	stops := make([]models.GeoPoint, 57)
	for i := range stops {
		stops[i] = models.GeoPoint{Lat: float64(i), Lon: 0}
	}

	sampled := Downsample(stops, 20)
	require.Len(t, sampled, 20)
	assert.Equal(t, stops[0], sampled[0])
	assert.Equal(t, stops[56], sampled[19])
	for i := 1; i < len(sampled); i++ {
		assert.Greater(t, sampled[i].Lat, sampled[i-1].Lat)
	}

	short := Downsample(stops[:5], 20)
	assert.Equal(t, stops[:5], short)
}

func TestDetour_Unreachable(t *testing.T) {
	m := models.NewMatrixResult([]models.GeoPoint{origin, {Lat: 1, Lon: 1}, destination})
	m.DurationS[0][1] = 100
	m.DurationS[0][2] = 100
	_, ok := Detour(m)
	assert.False(t, ok)

	m.DurationS[1][2] = 50
	d, ok := Detour(m)
	assert.True(t, ok)
	assert.Equal(t, 50.0, d)
	assert.False(t, math.IsInf(d, 0))
}
