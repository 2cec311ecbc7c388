package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"travel-router/internal/models"
	"travel-router/internal/planner"
	"travel-router/internal/sar"
)

// SearchAlongRouteRequest represents the request for a search along a route
type SearchAlongRouteRequest struct {
	Query        string            `json:"query"`
	Stops        []models.GeoPoint `json:"stops"`
	Mode         string            `json:"mode"`
	MaxDetourMin *int              `json:"max_detour_min"`
	MaxResults   int               `json:"max_results"`
	Departure    *time.Time        `json:"departure,omitempty"`
}

// SearchAlongRouteResponse wraps the ranked candidates
type SearchAlongRouteResponse struct {
	Count   int                   `json:"count"`
	Results []models.POICandidate `json:"results"`
}

// HandleSearchAlongRoute handles POST /api/v1/sar
func (h *Handler) HandleSearchAlongRoute(c *gin.Context) {
	var req SearchAlongRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[HTTP] POST /api/v1/sar: invalid_json err=%v", err)
		h.handleValidationError(c, "Invalid request body")
		return
	}

	maxDetour := "default"
	if req.MaxDetourMin != nil {
		maxDetour = strconv.Itoa(*req.MaxDetourMin)
	}
	log.Printf("[HTTP] POST /api/v1/sar: query=%s stops=%d max_detour_min=%s", req.Query, len(req.Stops), maxDetour)

	results, err := h.SAR.SearchAlongRoute(c.Request.Context(), sar.Request{
		Query:        req.Query,
		Stops:        req.Stops,
		Mode:         models.ParseTravelMode(req.Mode),
		MaxDetourMin: req.MaxDetourMin,
		MaxResults:   req.MaxResults,
		Departure:    req.Departure,
	})
	if err != nil {
		log.Printf("[ERROR] Search along route failed: query=%s code=%s err=%v", req.Query, models.CodeOf(err), err)
		h.writeError(c, err)
		return
	}

	if results == nil {
		results = []models.POICandidate{}
	}
	c.JSON(http.StatusOK, SearchAlongRouteResponse{Count: len(results), Results: results})
}

// HandlePlanDay handles POST /api/v1/plan
func (h *Handler) HandlePlanDay(c *gin.Context) {
	var req planner.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[HTTP] POST /api/v1/plan: invalid_json err=%v", err)
		h.handleValidationError(c, "Invalid request body")
		return
	}

	plan, err := h.Planner.PlanDay(c.Request.Context(), req)
	if err != nil {
		log.Printf("[ERROR] Day plan failed: code=%s err=%v", models.CodeOf(err), err)
		h.writeError(c, err)
		return
	}

	log.Printf("[HTTP] POST /api/v1/plan: mode=%s count=%d warnings=%d", plan.Mode, plan.Count, len(plan.Warnings))
	c.JSON(http.StatusOK, plan)
}
