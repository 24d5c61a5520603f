package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/axiomme/axiomme/internal/outbox"
	"github.com/axiomme/axiomme/internal/store"
)

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status string             `json:"status"`
	Store  *store.HealthStatus `json:"store"`
	Outbox outbox.WorkerHealth `json:"outbox"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	storeHealth, err := s.store.Health(ctx)
	resp := HealthResponse{Status: "healthy", Store: storeHealth}
	if s.worker != nil {
		resp.Outbox = s.worker.Health()
	}

	if err != nil {
		resp.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
