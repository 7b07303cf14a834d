// Package server provides the HTTP API for shiru.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hyperjump/shiru/internal/config"
	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/pkg/utils"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies, including raw text sent to /ingest/text.
const maxBodyBytes = 32 << 20

// Pipeline is the ingestion and retrieval surface the server exposes.
type Pipeline interface {
	Ingest(ctx context.Context, docs []models.Document, sourceTag string) (models.IngestReport, error)
	IngestLocator(ctx context.Context, locator, sourceTag string) (models.IngestReport, error)
	RetryPending(ctx context.Context) (models.IngestReport, error)
	Query(ctx context.Context, question string, k int) ([]*models.SearchResult, error)
	HybridQuery(ctx context.Context, question string, k int) ([]*models.SearchResult, error)
	Ask(ctx context.Context, question string, k int) (*models.Answer, error)
	Clear(ctx context.Context) error
	ClearCache()
	Status(ctx context.Context) (models.Status, error)
}

// WatchService manages watched directories at runtime.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the shiru API.
type Server struct {
	pipeline Pipeline
	cfg      *config.Config
	logger   *zap.Logger
	validate *validator.Validate
	server   *http.Server

	watch      WatchService
	configPath string
	configMu   sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithWatch enables the watch directory endpoints. When configPath is set, directory changes
// are written back to the config file.
func WithWatch(watch WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = watch
		s.configPath = configPath
	}
}

// NewServer creates a server. cfg supplies listen address, timeouts and query defaults.
func NewServer(p Pipeline, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		pipeline: p,
		cfg:      cfg,
		logger:   utils.OrNop(logger),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with all middleware and routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	timeout := time.Duration(s.cfg.Server.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))
	origins := s.cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/ingest/text", s.handleIngestText)
		r.Post("/ingest/urls", s.handleIngestURLs)
		r.Post("/ingest/retry", s.handleRetry)
		r.Post("/query", s.handleQuery)
		r.Post("/ask", s.handleAsk)
		r.Delete("/index", s.handleClearIndex)
		r.Delete("/cache", s.handleClearCache)
		r.Get("/status", s.handleStatus)
		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// requestID assigns a UUID to requests that arrive without an X-Request-Id header and echoes
// the id back to the client.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(middleware.RequestIDHeader, id)
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
