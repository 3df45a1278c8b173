// Package server provides the HTTP API for kura.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/ingest"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/search"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/transform"
	"go.uber.org/zap"
)

// Ingester is the ingestion surface the API exposes.
type Ingester interface {
	Ingest(ctx context.Context, req *models.IngestRequest) (*ingest.Result, error)
	Transform(ctx context.Context, sourceID string, ids []string) (*transform.Batch, error)
	Embed(ctx context.Context, sourceID string) (int, error)
	Delete(ctx context.Context, sourceID string) error
	Similar(ctx context.Context, query string, limit int) ([]storage.ScoredChunk, error)
}

// Server is the HTTP server for the kura API.
type Server struct {
	ingester  Ingester
	store     storage.Store
	index     keyword.Index
	suggester *keyword.Suggester
	search    *search.Engine
	cfg       *config.Config
	uploadDir string
	logger    *zap.Logger
	server    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithKeywordIndex enables keyword search. suggester may be nil.
func WithKeywordIndex(idx keyword.Index, suggester *keyword.Suggester) Option {
	return func(s *Server) {
		s.index = idx
		s.suggester = suggester
	}
}

// WithUploadDir sets where uploaded files are written before ingestion.
func WithUploadDir(dir string) Option {
	return func(s *Server) { s.uploadDir = dir }
}

// NewServer creates a server with the given dependencies.
func NewServer(ing Ingester, store storage.Store, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ingester:  ing,
		store:     store,
		cfg:       cfg,
		uploadDir: os.TempDir(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	searchOpts := []search.Option{search.WithRetriever(ing)}
	if s.index != nil {
		searchOpts = append(searchOpts, search.WithKeywordIndex(s.index, s.suggester))
	}
	s.search = search.NewEngine(store, cfg.Search, searchOpts...)
	return s
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/status", s.handleStatus)
		api.Get("/search", s.handleSearch)

		api.Route("/sources", func(src chi.Router) {
			src.Get("/", s.handleListSources)
			src.Post("/", s.handleIngest)
			src.Post("/upload", s.handleUpload)
			src.Get("/{id}", s.handleGetSource)
			src.Delete("/{id}", s.handleDeleteSource)
			src.Get("/{id}/insights", s.handleListInsights)
			src.Post("/{id}/transformations", s.handleApplyTransformations)
			src.Post("/{id}/embed", s.handleEmbed)
		})

		api.Get("/transformations", s.handleListTransformations)
		api.Put("/transformations/{id}", s.handleSaveTransformation)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
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
