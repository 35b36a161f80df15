// Package api serves the admin and status API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/wirelessalien/moviesync/internal/api/auth"
	"github.com/wirelessalien/moviesync/internal/api/handler"
	"github.com/wirelessalien/moviesync/internal/config"
	"github.com/wirelessalien/moviesync/internal/engine"
)

type Server struct {
	cfg          *config.Config
	ginEngine    *gin.Engine
	engine       *engine.Engine
	authProvider *auth.APIKeyProvider
	httpServer   *http.Server
}

func New(cfg *config.Config, e *engine.Engine, debug bool) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if e == nil {
		return nil, fmt.Errorf("engine is required")
	}

	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery(), requestLogger())
	ginEngine.Use(gzip.Gzip(gzip.DefaultCompression))

	s := &Server{
		cfg:          cfg,
		ginEngine:    ginEngine,
		engine:       e,
		authProvider: auth.NewAPIKeyProvider(cfg.APIKey),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	h := handler.New(s.engine)

	s.ginEngine.GET("/health", h.Health)

	api := s.ginEngine.Group("/api")
	api.Use(s.authProvider.RequireAuth())

	api.GET("/jobs", h.GetJobs)
	api.POST("/jobs/:id/run", h.RunJob)
	api.GET("/stats", h.GetStats)
	api.GET("/calendar", h.GetCalendar)
	api.GET("/details/:kind/:id", h.GetDetails)
	api.DELETE("/cache", h.ClearCache)
}

// Handler returns the http handler of the server.
func (s *Server) Handler() http.Handler {
	return s.ginEngine
}

// Run serves until ctx is cancelled and then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func requestLogger() gin.HandlerFunc {
	logger := log.Default().WithPrefix("api")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
