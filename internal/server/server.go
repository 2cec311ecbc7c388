package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"travel-router/internal/handlers"
	"travel-router/internal/observability"
)

const defaultRequestTimeout = 30 * time.Second

// Server wraps the HTTP server and all dependencies
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	listener   net.Listener
	addr       string
	onShutdown []func() error
}

// Config holds server configuration
type Config struct {
	Addr           string // e.g., "127.0.0.1:8080" or "127.0.0.1:0" for random port
	RequestTimeout time.Duration
	Metrics        *observability.Collector

	// OnShutdown hooks run after the HTTP server stops, in order
	OnShutdown []func() error
}

// New creates and initializes a new server (does not start it)
func New(cfg Config, handler *handlers.Handler) *Server {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	engine := setupRoutes(handler, cfg.Metrics, timeout)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: timeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		engine:     engine,
		addr:       cfg.Addr,
		onShutdown: cfg.OnShutdown,
	}
}

// Handler returns the configured HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start starts the server and returns the actual address (useful for random port)
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}

	s.listener = listener
	actualAddr := listener.Addr().String()
	log.Printf("Starting server on %s", actualAddr)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	return actualAddr, nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	for _, fn := range s.onShutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// setupRoutes configures all HTTP routes
func setupRoutes(handler *handlers.Handler, metrics *observability.Collector, timeout time.Duration) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(Logging(metrics))

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api/v1")
	api.GET("/health", handler.HandleHealthCheck)

	compute := api.Group("")
	compute.Use(Timeout(timeout))
	{
		compute.POST("/routes", handler.HandleComputeRoute)
		compute.POST("/matrix", handler.HandleComputeMatrix)
		compute.POST("/sar", handler.HandleSearchAlongRoute)
		compute.POST("/plan", handler.HandlePlanDay)
	}

	return router
}
