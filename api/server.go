// Package api assembles the HTTP surface: routes, middleware, CORS,
// and the server lifecycle.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/agenttic/agenttic/api/handlers"
	"github.com/agenttic/agenttic/api/middleware"
	"github.com/agenttic/agenttic/pkg/config"
	"github.com/agenttic/agenttic/pkg/log"
)

type Server struct {
	router *gin.Engine
	server *http.Server
	logger *log.Logger
}

// NewServer wires the handler onto a configured gin engine.
func NewServer(cfg config.ServerConfig, h *handlers.Handler) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := log.WithModule("server")

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", "X-Session-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/health", h.Health)

	router.POST("/agenttic-ingest", h.AgentticIngest)
	router.POST("/ingest", h.StreamIngest)
	router.POST("/query", h.Query)

	collections := router.Group("/collections")
	{
		collections.GET("", h.ListCollections)
		collections.GET("/:id", h.GetCollection)
		collections.POST("/query", h.QueryCollection)
		collections.POST("/query-stream", h.StreamQueryCollection)
		collections.DELETE("/:id", h.DeleteCollection)
	}

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/documents/:id", h.DocumentStatus)
		apiGroup.DELETE("/documents/:id", h.DeleteDocument)
		apiGroup.POST("/session/cleanup", h.CleanupSession)
		apiGroup.GET("/config", h.ListConfigOverrides)
		apiGroup.PUT("/config", h.SetConfigOverride)
	}

	return &Server{
		router: router,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Minute, // SSE streams stay open through long ingests
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks serving requests until the listener fails or Stop is
// called. SIGINT and SIGTERM trigger a graceful shutdown.
func (s *Server) Start() error {
	go s.handleShutdown()

	s.logger.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Stop drains in-flight requests with a 30s grace period.
func (s *Server) Stop() error {
	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := s.Stop(); err != nil {
		s.logger.Error("shutdown error", "error", err)
	}
}
