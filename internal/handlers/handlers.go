package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"travel-router/internal/models"
	"travel-router/internal/planner"
	"travel-router/internal/routing"
	"travel-router/internal/sar"
)

// RouteComputer is the route orchestrator as seen by the HTTP layer
type RouteComputer interface {
	ComputeRoute(ctx context.Context, req models.RouteRequest) (*models.RouteResult, error)
	Usage() routing.Usage
	Breaker() *routing.Breaker
}

// MatrixComputer returns cached travel matrices
type MatrixComputer interface {
	GetTravelMatrix(ctx context.Context, points []models.GeoPoint, mode models.TravelMode, departure *time.Time) (*models.MatrixResult, error)
}

// AlongRouteSearcher runs searches along a route
type AlongRouteSearcher interface {
	SearchAlongRoute(ctx context.Context, req sar.Request) ([]models.POICandidate, error)
}

// DayPlanner builds day plans
type DayPlanner interface {
	PlanDay(ctx context.Context, req planner.Request) (*models.Plan, error)
}

// HealthChecker reports whether a backing store is usable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler provides common handler utilities and dependencies
type Handler struct {
	Routes  RouteComputer
	Matrix  MatrixComputer
	SAR     AlongRouteSearcher
	Planner DayPlanner
	Store   HealthChecker
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusFor maps an error code to its HTTP status
func StatusFor(code models.ErrorCode) int {
	switch code {
	case models.CodeInvalidRequest:
		return http.StatusBadRequest
	case models.CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	case models.CodeProviderTimeout:
		return http.StatusGatewayTimeout
	case models.CodeProviderError, models.CodeMatrixError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response for err
func (h *Handler) writeError(c *gin.Context, err error) {
	code := models.CodeOf(err)
	status := StatusFor(code)

	message := err.Error()
	var typed *models.Error
	if errors.As(err, &typed) {
		message = typed.Message
	}
	if status == http.StatusInternalServerError {
		log.Printf("[ERROR] Internal error: path=%s err=%v", c.Request.URL.Path, err)
		message = "An error occurred. Please try again."
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    string(code),
			Message: message,
		},
	})
}

// handleValidationError handles 400 errors
func (h *Handler) handleValidationError(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    string(models.CodeInvalidRequest),
			Message: message,
		},
	})
}

// HandleHealthCheck handles GET /api/v1/health
func (h *Handler) HandleHealthCheck(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}

	if h.Routes != nil {
		breaker := h.Routes.Breaker()
		breakerInfo := gin.H{"open": breaker.IsOpen()}
		if breaker.IsOpen() {
			breakerInfo["open_until"] = breaker.OpenUntil().UTC().Format(time.RFC3339)
		}
		body["breaker"] = breakerInfo
		body["usage"] = h.Routes.Usage()
	}

	if h.Store != nil {
		if err := h.Store.HealthCheck(c.Request.Context()); err != nil {
			log.Printf("[ERROR] Store health check failed: err=%v", err)
			body["status"] = "degraded"
			body["store"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			body["store"] = "ok"
		}
	}

	c.JSON(status, body)
}
