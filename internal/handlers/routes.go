package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"travel-router/internal/models"
)

// ComputeRouteRequest represents the request for route computation
type ComputeRouteRequest struct {
	Stops []models.GeoPoint `json:"stops"`
	Mode  string            `json:"mode"`
	Avoid []string          `json:"avoid"`
}

// ComputeMatrixRequest represents the request for a travel matrix
type ComputeMatrixRequest struct {
	Points    []models.GeoPoint `json:"points"`
	Mode      string            `json:"mode"`
	Departure *time.Time        `json:"departure,omitempty"`
}

// HandleComputeRoute handles POST /api/v1/routes
func (h *Handler) HandleComputeRoute(c *gin.Context) {
	var req ComputeRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[HTTP] POST /api/v1/routes: invalid_json err=%v", err)
		h.handleValidationError(c, "Invalid request body")
		return
	}

	log.Printf("[HTTP] POST /api/v1/routes: stops=%d mode=%s avoid=%v", len(req.Stops), req.Mode, req.Avoid)

	result, err := h.Routes.ComputeRoute(c.Request.Context(), models.RouteRequest{
		Stops: req.Stops,
		Mode:  models.ParseTravelMode(req.Mode),
		Avoid: models.ParseAvoid(req.Avoid),
	})
	if err != nil {
		log.Printf("[ERROR] Route computation failed: code=%s err=%v", models.CodeOf(err), err)
		h.writeError(c, err)
		return
	}

	log.Printf("[HTTP] POST /api/v1/routes: provider=%s distance_m=%d duration_s=%d relaxed=%v",
		result.ProviderUsed, result.DistanceM, result.DurationS, result.ConstraintRelaxed)
	c.JSON(http.StatusOK, result)
}

// HandleComputeMatrix handles POST /api/v1/matrix
func (h *Handler) HandleComputeMatrix(c *gin.Context) {
	var req ComputeMatrixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[HTTP] POST /api/v1/matrix: invalid_json err=%v", err)
		h.handleValidationError(c, "Invalid request body")
		return
	}

	log.Printf("[HTTP] POST /api/v1/matrix: points=%d mode=%s", len(req.Points), req.Mode)

	result, err := h.Matrix.GetTravelMatrix(c.Request.Context(), req.Points, models.ParseTravelMode(req.Mode), req.Departure)
	if err != nil {
		log.Printf("[ERROR] Matrix computation failed: code=%s err=%v", models.CodeOf(err), err)
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
