// Package server exposes the HTTP API consumed by the Obsidian plugin:
// generation endpoints that assemble vault context into prompts, a search
// endpoint over the retrieval pipeline, and health checks.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inkwell-dev/inkwell/internal/config"
	"github.com/inkwell-dev/inkwell/internal/llm"
	"github.com/inkwell-dev/inkwell/internal/retrieval"
	"github.com/inkwell-dev/inkwell/internal/vault"
)

// Services are the wired dependencies the handlers use.
type Services struct {
	Config *config.Config

	// Engine runs retrieval searches. Required.
	Engine *retrieval.Engine

	// Reranker re-scores shortlists when configured. Optional; rerank
	// failures fall back to the fused order.
	Reranker *retrieval.Reranker

	// Aggregator reads standing context from the vault. Required for the
	// generation endpoints.
	Aggregator *vault.Aggregator

	// Generator produces text. Required for the generation endpoints.
	Generator llm.Client
}

// Server is the inkwell HTTP server.
type Server struct {
	services Services
	router   *gin.Engine
	server   *http.Server
}

// New creates a server instance. Call Setup before Start.
func New(services Services) *Server {
	return &Server{services: services}
}

// Setup builds the router, middleware, and routes.
func (s *Server) Setup() {
	if !strings.EqualFold(s.services.Config.Server.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(requestLogMiddleware())
	s.router.Use(corsMiddleware())

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.services.Config.Server.Host, s.services.Config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/search", s.handleSearch)

		generate := api.Group("/generate")
		{
			generate.POST("/chapter", s.handleGenerateChapter)
			generate.POST("/micro-edit", s.handleMicroEdit)
		}

		api.POST("/extract/characters", s.handleExtractCharacters)
	}
}

// Router returns the configured router. Exposed for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
