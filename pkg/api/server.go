// Package api exposes the pipeline's HTTP surface: run lifecycle, resume
// plans, exports, user decisions, and worker visibility. The API never
// performs Agent work itself; it only reads and mutates the shared store.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reachvector/leadpipe/pkg/config"
	"github.com/reachvector/leadpipe/pkg/delivery"
	"github.com/reachvector/leadpipe/pkg/store"
)

// Server is the HTTP API server.
type Server struct {
	store    *store.Store
	cfg      *config.PipelineConfig
	notifier *delivery.Notifier
	logger   *slog.Logger

	engine *gin.Engine
	http   *http.Server
}

// NewServer constructs the API server and registers routes. notifier may
// be nil.
func NewServer(st *store.Store, cfg *config.PipelineConfig, notifier *delivery.Notifier) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		store:    st,
		cfg:      cfg,
		notifier: notifier,
		logger:   slog.Default().With("component", "api"),
		engine:   engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/runs", s.handleCreateRun)
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.GET("/runs/:id/resume-plan", s.handleResumePlan)
		v1.GET("/runs/:id/export", s.handleExport)
		v1.POST("/runs/:id/decision", s.handleDecision)
		v1.POST("/runs/:id/archive", s.handleArchive)
		v1.POST("/runs/:id/unarchive", s.handleUnarchive)
		v1.GET("/workers", s.handleListWorkers)
	}
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving on addr. Blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
