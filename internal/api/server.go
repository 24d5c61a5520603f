// Package api provides the ambient, read-only HTTP operability surface:
// health, metrics passthrough, a find debug endpoint, and a trace lookup.
// It deliberately does not expose write endpoints for ingest, commit, or
// promotion; those are driven by the agent runtime that embeds this module,
// not by this HTTP surface.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	gmetrics "github.com/axiomme/axiomme/internal/metrics"
	"github.com/axiomme/axiomme/internal/outbox"
	"github.com/axiomme/axiomme/internal/retrieval"
	"github.com/axiomme/axiomme/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	store     *store.Store
	retrieval *retrieval.Engine
	worker    *outbox.Worker
}

// NewServer builds a Server and registers its routes.
func NewServer(st *store.Store, ret *retrieval.Engine, worker *outbox.Worker) *Server {
	s := &Server{store: st, retrieval: ret, worker: worker}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), securityHeaders())
	s.router = router
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", gin.WrapH(gmetrics.Handler()))

	v1 := s.router.Group("/v1")
	v1.POST("/find", s.findHandler)
	v1.GET("/traces/:id", s.traceHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
