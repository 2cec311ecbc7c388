package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"travel-router/internal/handlers"
	"travel-router/internal/models"
	"travel-router/internal/observability"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// RequestID reuses the caller's X-Request-ID or assigns a new one
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Logging logs each request and records it in the collector
func Logging(metrics *observability.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		metrics.ObserveHTTP(c.Request.Method, c.FullPath(), status, elapsed)
		log.Printf("[HTTP] %s %s %d %v request_id=%s", c.Request.Method, c.Request.URL.Path, status, elapsed, c.GetString(requestIDKey))
	}
}

// Timeout attaches a deadline to the request context. The chain runs
// synchronously; a handler that returns without writing after the deadline
// gets a provider_timeout response.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if ctx.Err() != nil && !c.Writer.Written() {
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, handlers.ErrorResponse{
				Error: handlers.ErrorDetail{
					Code:    string(models.CodeProviderTimeout),
					Message: "request timed out",
				},
			})
		}
	}
}
