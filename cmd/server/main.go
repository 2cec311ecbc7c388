package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"travel-router/internal/config"
	"travel-router/internal/distance"
	"travel-router/internal/handlers"
	"travel-router/internal/observability"
	"travel-router/internal/places"
	"travel-router/internal/planner"
	"travel-router/internal/routing"
	"travel-router/internal/sar"
	"travel-router/internal/server"
	"travel-router/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.TracingEnabled,
		ServiceName: "travel-router",
		Exporter:    cfg.TracingExporter,
		Endpoint:    cfg.TracingEndpoint,
		SampleRatio: cfg.TracingSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	// Matrix: traffic-aware Google when a key is configured, OSRM otherwise
	var matrixProvider distance.Provider
	if cfg.GoogleAPIKey != "" {
		matrixProvider, err = distance.NewGoogleProvider(cfg.GoogleAPIKey)
		if err != nil {
			return fmt.Errorf("failed to create google matrix provider: %w", err)
		}
	} else {
		matrixProvider = distance.NewOSRMProvider(cfg.OSRMBaseURL, httpClient)
	}
	matrix := distance.NewMatrixCache(matrixProvider,
		distance.WithTimeout(cfg.MatrixTimeout),
		distance.WithMetrics(metrics),
	)
	log.Printf("[MATRIX] Using provider: %s", matrixProvider.Name())

	routingCfg := routing.Config{
		Primary:        routing.NewOSRMRouter(cfg.OSRMBaseURL, httpClient),
		AttemptTimeout: cfg.RouteTimeout,
		CacheSize:      cfg.RouteCacheSize,
		CacheTTL:       cfg.RouteCacheTTL,
		Metrics:        metrics,
	}
	if cfg.ORSAPIKey != "" {
		routingCfg.Secondary = routing.NewORSRouter(cfg.ORSBaseURL, cfg.ORSAPIKey, httpClient)
	} else {
		log.Printf("[ROUTE] ORS_API_KEY not set; avoid constraints are served by the primary provider only")
	}
	orchestrator, err := routing.NewOrchestrator(routingCfg)
	if err != nil {
		return fmt.Errorf("failed to create route orchestrator: %w", err)
	}

	var searcher places.Searcher
	if cfg.GoogleAPIKey != "" {
		searcher, err = places.NewGooglePlaces(cfg.GoogleAPIKey)
		if err != nil {
			return fmt.Errorf("failed to create google places client: %w", err)
		}
	} else {
		searcher = places.NewNominatimPlaces(cfg.NominatimBaseURL)
	}

	placeOpts := []places.Option{
		places.WithTimeout(cfg.PlacesTimeout),
		places.WithMetrics(metrics),
	}
	var shutdownHooks []func() error
	var store *sqlite.Store
	if cfg.DetailsDBPath != "" {
		log.Printf("Initializing place details store...")
		store, err = sqlite.New(cfg.DetailsDBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize place details store: %w", err)
		}
		placeOpts = append(placeOpts, places.WithDetailsStore(store.PlaceDetails(), cfg.DetailsCacheTTL))

		pruneCtx, stopPrune := context.WithCancel(ctx)
		pruneDone := make(chan struct{})
		go func() {
			defer close(pruneDone)
			store.PruneDetailsEvery(pruneCtx, 24*time.Hour, cfg.DetailsCacheTTL)
		}()
		// The pruning loop must stop before the database closes.
		shutdownHooks = append(shutdownHooks, func() error {
			stopPrune()
			<-pruneDone
			return nil
		}, store.Close)
	}
	placeService := places.NewService(searcher, placeOpts...)
	log.Printf("[PLACES] Using provider: %s", placeService.Name())

	engine := sar.NewEngine(placeService, matrix)

	handler := &handlers.Handler{
		Routes:  orchestrator,
		Matrix:  matrix,
		SAR:     engine,
		Planner: planner.New(placeService, matrix, engine),
	}
	if store != nil {
		handler.Store = store
	}

	srv := server.New(server.Config{
		Addr:           cfg.Addr,
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        metrics,
		OnShutdown:     shutdownHooks,
	}, handler)

	if _, err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	log.Printf("Received signal %v, starting graceful shutdown", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("could not gracefully shutdown the server: %w", err)
	}
	observability.ShutdownWithTimeout(shutdownCtx, shutdownTracing)

	log.Println("Server stopped")
	return nil
}
