package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-router/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type providerCall struct {
	Avoid models.AvoidSet
	Mode  models.TravelMode
}

// scriptedProvider returns responses in order; the last one repeats
type scriptedProvider struct {
	name      string
	mu        sync.Mutex
	calls     []providerCall
	responses []func(ctx context.Context) (*ProviderRoute, error)
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Route(ctx context.Context, _ []models.GeoPoint, mode models.TravelMode, avoid models.AvoidSet) (*ProviderRoute, error) {
	p.mu.Lock()
	idx := len(p.calls)
	p.calls = append(p.calls, providerCall{Avoid: avoid, Mode: mode})
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	respond := p.responses[idx]
	p.mu.Unlock()
	return respond(ctx)
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func ok(distance, duration float64) func(context.Context) (*ProviderRoute, error) {
	return func(context.Context) (*ProviderRoute, error) {
		return &ProviderRoute{DistanceM: distance, DurationS: duration, Geometry: "_p~iF~ps|U"}, nil
	}
}

func fail(err error) func(context.Context) (*ProviderRoute, error) {
	return func(context.Context) (*ProviderRoute, error) { return nil, err }
}

func hang(ctx context.Context) (*ProviderRoute, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

var (
	telAviv  = models.GeoPoint{Lat: 32.0853, Lon: 34.7818}
	ramatGan = models.GeoPoint{Lat: 32.1093, Lon: 34.8555}
)

func newTestOrchestrator(t *testing.T, clock *fakeClock, primary, secondary Provider) *Orchestrator {
	t.Helper()
	cfg := Config{Primary: primary, AttemptTimeout: time.Second, Clock: clock.Now}
	if secondary != nil {
		cfg.Secondary = secondary
	}
	o, err := NewOrchestrator(cfg)
	require.NoError(t, err)
	return o
}

func routeReq(avoid ...string) models.RouteRequest {
	return models.RouteRequest{
		Stops: []models.GeoPoint{telAviv, ramatGan},
		Mode:  models.TravelModeDrive,
		Avoid: models.ParseAvoid(avoid),
	}
}

func TestComputeRoute_Basic(t *testing.T) {
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){ok(12000, 900)}}
	o := newTestOrchestrator(t, newFakeClock(), primary, nil)

	result, err := o.ComputeRoute(context.Background(), routeReq())
	require.NoError(t, err)

	assert.Equal(t, 12000, result.DistanceM)
	assert.Equal(t, 900, result.DurationS)
	assert.Equal(t, "osrm", result.ProviderUsed)
	assert.False(t, result.ConstraintRelaxed)
	assert.Equal(t, 1, primary.callCount())
}

func TestComputeRoute_RoundsToIntegers(t *testing.T) {
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){ok(12000.6, 899.4)}}
	o := newTestOrchestrator(t, newFakeClock(), primary, nil)

	result, err := o.ComputeRoute(context.Background(), routeReq())
	require.NoError(t, err)
	assert.Equal(t, 12001, result.DistanceM)
	assert.Equal(t, 899, result.DurationS)
}

func TestComputeRoute_CacheHit(t *testing.T) {
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){ok(12000, 900)}}
	o := newTestOrchestrator(t, newFakeClock(), primary, nil)
	ctx := context.Background()

	first, err := o.ComputeRoute(ctx, routeReq())
	require.NoError(t, err)

	// Coordinates equal after 5-decimal rounding share the entry.
	req := routeReq()
	req.Stops[0].Lat += 0.000001
	second, err := o.ComputeRoute(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, *first, *second)
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, int64(1), o.Usage().CacheHits)
}

func TestComputeRoute_CacheKeyIncludesAvoidAndMode(t *testing.T) {
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){ok(12000, 900)}}
	o := newTestOrchestrator(t, newFakeClock(), primary, nil)
	ctx := context.Background()

	_, err := o.ComputeRoute(ctx, routeReq())
	require.NoError(t, err)
	_, err = o.ComputeRoute(ctx, routeReq("tolls"))
	require.NoError(t, err)

	walk := routeReq()
	walk.Mode = models.TravelModeWalk
	_, err = o.ComputeRoute(ctx, walk)
	require.NoError(t, err)

	assert.Equal(t, 3, primary.callCount())
}

func TestComputeRoute_CacheExpires(t *testing.T) {
	clock := newFakeClock()
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){ok(12000, 900)}}
	o := newTestOrchestrator(t, clock, primary, nil)
	ctx := context.Background()

	_, err := o.ComputeRoute(ctx, routeReq())
	require.NoError(t, err)
	clock.Advance(11 * time.Minute)
	_, err = o.ComputeRoute(ctx, routeReq())
	require.NoError(t, err)

	assert.Equal(t, 2, primary.callCount())
}

func TestComputeRoute_RelaxesAvoidOnNoRoute(t *testing.T) {
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){
		fail(&ProviderError{Provider: "osrm", NoRoute: true, Reason: "code=NoRoute"}),
		ok(15000, 1100),
	}}
	o := newTestOrchestrator(t, newFakeClock(), primary, nil)

	result, err := o.ComputeRoute(context.Background(), routeReq("tolls", "ferries"))
	require.NoError(t, err)

	assert.True(t, result.ConstraintRelaxed)
	require.Len(t, primary.calls, 2)
	assert.Equal(t, models.AvoidSet{models.AvoidFerries, models.AvoidTolls}, primary.calls[0].Avoid)
	assert.Empty(t, primary.calls[1].Avoid)
	assert.Equal(t, int64(1), o.Usage().Relaxed)
	assert.False(t, o.Breaker().IsOpen())
}

func TestComputeRoute_NoAvoidNeverRelaxed(t *testing.T) {
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){
		fail(&ProviderError{Provider: "osrm", NoRoute: true, Reason: "code=NoRoute"}),
		ok(15000, 1100),
	}}
	o := newTestOrchestrator(t, newFakeClock(), primary, nil)

	result, err := o.ComputeRoute(context.Background(), routeReq())
	require.NoError(t, err)
	assert.False(t, result.ConstraintRelaxed)
	assert.Equal(t, 2, primary.callCount())
}

func TestComputeRoute_AtMostTwoPrimaryCalls(t *testing.T) {
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){
		fail(&ProviderError{Provider: "osrm", StatusCode: 400, Reason: "InvalidQuery"}),
	}}
	o := newTestOrchestrator(t, newFakeClock(), primary, nil)

	_, err := o.ComputeRoute(context.Background(), routeReq("highways"))
	require.Error(t, err)
	assert.Equal(t, models.CodeProviderError, models.CodeOf(err))
	assert.Equal(t, 2, primary.callCount())

	// 4xx failures do not open the breaker
	assert.False(t, o.Breaker().IsOpen())
}

func TestComputeRoute_SecondaryHonoursAvoid(t *testing.T) {
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){ok(1, 1)}}
	secondary := &scriptedProvider{name: "openrouteservice", responses: []func(context.Context) (*ProviderRoute, error){ok(13000, 980)}}
	o := newTestOrchestrator(t, newFakeClock(), primary, secondary)

	result, err := o.ComputeRoute(context.Background(), routeReq("tolls"))
	require.NoError(t, err)

	assert.Equal(t, "openrouteservice", result.ProviderUsed)
	assert.False(t, result.ConstraintRelaxed)
	assert.Equal(t, 0, primary.callCount())
	assert.Equal(t, models.AvoidSet{models.AvoidTolls}, secondary.calls[0].Avoid)
}

func TestComputeRoute_SecondarySkippedWithoutAvoid(t *testing.T) {
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){ok(12000, 900)}}
	secondary := &scriptedProvider{name: "openrouteservice", responses: []func(context.Context) (*ProviderRoute, error){ok(1, 1)}}
	o := newTestOrchestrator(t, newFakeClock(), primary, secondary)

	result, err := o.ComputeRoute(context.Background(), routeReq())
	require.NoError(t, err)
	assert.Equal(t, "osrm", result.ProviderUsed)
	assert.Equal(t, 0, secondary.callCount())
}

func TestComputeRoute_SecondaryFallsBackToPrimary(t *testing.T) {
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){ok(12000, 900)}}
	secondary := &scriptedProvider{name: "openrouteservice", responses: []func(context.Context) (*ProviderRoute, error){
		fail(&ProviderError{Provider: "openrouteservice", StatusCode: 503, Reason: "down"}),
	}}
	o := newTestOrchestrator(t, newFakeClock(), primary, secondary)

	result, err := o.ComputeRoute(context.Background(), routeReq("tolls"))
	require.NoError(t, err)

	assert.Equal(t, "osrm", result.ProviderUsed)
	assert.False(t, result.ConstraintRelaxed, "primary honoured the exclusion natively")
	assert.Equal(t, int64(1), o.Usage().Fallbacks)
	assert.Equal(t, int64(1), o.Usage().ServedBy["osrm"])
	// A recovered secondary failure is not a classified failure.
	assert.False(t, o.Breaker().IsOpen())
}

func TestComputeRoute_ServerErrorOpensBreaker(t *testing.T) {
	clock := newFakeClock()
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){
		fail(&ProviderError{Provider: "osrm", StatusCode: 502, Reason: "bad gateway"}),
		fail(&ProviderError{Provider: "osrm", StatusCode: 502, Reason: "bad gateway"}),
		ok(12000, 900),
	}}
	o := newTestOrchestrator(t, clock, primary, nil)
	ctx := context.Background()

	_, err := o.ComputeRoute(ctx, routeReq())
	assert.Equal(t, models.CodeProviderError, models.CodeOf(err))
	assert.Equal(t, clock.Now().Add(60*time.Second), o.Breaker().OpenUntil())

	clock.Advance(59 * time.Second)
	_, err = o.ComputeRoute(ctx, routeReq())
	assert.Equal(t, models.CodeProviderUnavailable, models.CodeOf(err))
	assert.Equal(t, 2, primary.callCount(), "no provider call while open")

	clock.Advance(2 * time.Second)
	result, err := o.ComputeRoute(ctx, routeReq())
	require.NoError(t, err)
	assert.Equal(t, 12000, result.DistanceM)
	assert.Equal(t, 3, primary.callCount())
}

func TestComputeRoute_BreakerUsesLongestPrimaryCooldown(t *testing.T) {
	clock := newFakeClock()
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){
		fail(&ProviderError{Provider: "osrm", StatusCode: 503, Reason: "unavailable"}),
		fail(&ProviderError{Provider: "osrm", NoRoute: true, Reason: "code=NoRoute"}),
	}}
	o := newTestOrchestrator(t, clock, primary, nil)

	_, err := o.ComputeRoute(context.Background(), routeReq("tolls"))
	assert.Equal(t, models.CodeProviderError, models.CodeOf(err))
	assert.Equal(t, 2, primary.callCount())
	assert.True(t, o.Breaker().IsOpen())
	assert.Equal(t, clock.Now().Add(60*time.Second), o.Breaker().OpenUntil())
}

func TestComputeRoute_TimeoutOpensBreakerForThirtySeconds(t *testing.T) {
	clock := newFakeClock()
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){hang}}
	o, err := NewOrchestrator(Config{Primary: primary, AttemptTimeout: 20 * time.Millisecond, Clock: clock.Now})
	require.NoError(t, err)

	_, err = o.ComputeRoute(context.Background(), routeReq())
	require.Error(t, err)
	assert.Equal(t, models.CodeProviderTimeout, models.CodeOf(err))
	assert.Equal(t, 2, primary.callCount())
	assert.Equal(t, clock.Now().Add(30*time.Second), o.Breaker().OpenUntil())
}

func TestComputeRoute_NetworkErrorOpensBreaker(t *testing.T) {
	clock := newFakeClock()
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){
		fail(&ProviderError{Provider: "osrm", Network: true, Reason: "connection refused"}),
	}}
	o := newTestOrchestrator(t, clock, primary, nil)

	_, err := o.ComputeRoute(context.Background(), routeReq())
	assert.Equal(t, models.CodeProviderError, models.CodeOf(err))
	assert.Equal(t, clock.Now().Add(30*time.Second), o.Breaker().OpenUntil())
}

func TestComputeRoute_CacheHitSkipsOpenBreaker(t *testing.T) {
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){ok(12000, 900)}}
	o := newTestOrchestrator(t, newFakeClock(), primary, nil)
	ctx := context.Background()

	_, err := o.ComputeRoute(ctx, routeReq())
	require.NoError(t, err)

	o.Breaker().Trip(time.Minute)
	result, err := o.ComputeRoute(ctx, routeReq())
	require.NoError(t, err)
	assert.Equal(t, 12000, result.DistanceM)
}

func TestComputeRoute_CancelledContext(t *testing.T) {
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){ok(12000, 900)}}
	o := newTestOrchestrator(t, newFakeClock(), primary, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.ComputeRoute(ctx, routeReq())
	require.Error(t, err)
	assert.Equal(t, 0, primary.callCount())
	assert.False(t, o.Breaker().IsOpen())
}

func TestComputeRoute_InvalidRequest(t *testing.T) {
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){ok(1, 1)}}
	o := newTestOrchestrator(t, newFakeClock(), primary, nil)

	tests := []struct {
		name  string
		stops []models.GeoPoint
	}{
		{"one stop", []models.GeoPoint{telAviv}},
		{"six stops", []models.GeoPoint{telAviv, ramatGan, telAviv, ramatGan, telAviv, ramatGan}},
		{"bad longitude", []models.GeoPoint{telAviv, {Lat: 10, Lon: 200}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.ComputeRoute(context.Background(), models.RouteRequest{Stops: tt.stops})
			assert.Equal(t, models.CodeInvalidRequest, models.CodeOf(err))
		})
	}
	assert.Equal(t, 0, primary.callCount())
}

func TestNewOrchestrator_RequiresPrimary(t *testing.T) {
	_, err := NewOrchestrator(Config{})
	require.Error(t, err)
}

func TestComputeRoute_ConcurrentMissesShareOneCall(t *testing.T) {
	started := make(chan struct{}, 8)
	release := make(chan struct{})
	primary := &scriptedProvider{name: "osrm", responses: []func(context.Context) (*ProviderRoute, error){
		func(ctx context.Context) (*ProviderRoute, error) {
			started <- struct{}{}
			select {
			case <-release:
				return &ProviderRoute{DistanceM: 12000, DurationS: 900}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}}
	o, err := NewOrchestrator(Config{Primary: primary, AttemptTimeout: 5 * time.Second, Clock: newFakeClock().Now})
	require.NoError(t, err)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := o.ComputeRoute(leaderCtx, routeReq())
		leaderErr <- err
	}()
	<-started

	results := make(chan *models.RouteResult, 3)
	errs := make(chan error, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := o.ComputeRoute(context.Background(), routeReq())
			if err != nil {
				errs <- err
				return
			}
			results <- result
		}()
	}
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	assert.Equal(t, models.CodeProviderError, models.CodeOf(<-leaderErr))

	close(release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("caller with a live context failed: %v", err)
	}
	served := 0
	for r := range results {
		assert.Equal(t, 12000, r.DistanceM)
		served++
	}
	assert.Equal(t, 3, served)
	assert.Equal(t, 1, primary.callCount())
	assert.False(t, o.Breaker().IsOpen())
}
