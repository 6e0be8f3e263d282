// Package server provides the HTTP API for vecstore.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/vecstore/internal/config"
	"github.com/hyperjump/vecstore/internal/service"
	"github.com/hyperjump/vecstore/pkg/utils"
)

// maxUploadBytes bounds multipart uploads held in memory; larger parts spill to disk.
const maxUploadBytes = 32 << 20

// Server is the HTTP server for the vecstore API.
type Server struct {
	svc    *service.Service
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server on top of svc.
func NewServer(svc *service.Service, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		svc:    svc,
		config: cfg,
		logger: utils.OrNop(logger),
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// The websocket route must not pass through Timeout or Compress.
	r.Get("/ws/jobs", s.handleJobsSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Get("/health", s.handleHealth)

		r.Route("/stores", func(r chi.Router) {
			r.Get("/list", s.handleListStores)
			r.Post("/create", s.handleCreateStore)
			r.Get("/info/{name}", s.handleStoreInfo)
			r.Get("/{name}/entries", s.handleEntries)
			r.Post("/add_text", s.handleAddTexts)
			r.Post("/add_texts", s.handleAddTexts)
			r.Post("/delete_text", s.handleDeleteText)
			r.Post("/delete/{name}", s.handleDeleteStore)
			r.Post("/upload_file", s.handleUploadFile)
			r.Post("/build_graph", s.handleBuildGraph)
		})

		r.Post("/search", s.handleSearch)
		r.Post("/graph_search", s.handleGraphSearch)
		r.Post("/interpolate", s.handleInterpolate)

		r.Get("/jobs", s.handleJobs)
		r.Get("/jobs/{id}", s.handleJob)

		r.Get("/models/catalog", s.handleModelCatalog)
		r.Get("/models/local", s.handleModelLocal)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
