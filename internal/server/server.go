// Package server exposes the gateway's HTTP surface: overview and
// series lookups, the real-time price WebSocket, health and metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kis-quote-gateway/internal/logger"
	"kis-quote-gateway/internal/quote"
	"kis-quote-gateway/internal/store"
	"kis-quote-gateway/internal/types"
)

// quoteService is the slice of the quote layer the handlers call.
type quoteService interface {
	Overview(ctx context.Context, code string) (types.Overview, error)
	Series(ctx context.Context, client, code, rng, from, to string, bypass bool) (types.Series, error)
}

// streamer produces real-time ticks for one code until ctx is cancelled.
type streamer interface {
	Stream(ctx context.Context, code string, out chan<- types.Tick) error
}

// Server is the gateway HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	svc    quoteService
	stream streamer
}

func New(cfg *store.Config, svc quoteService, stream streamer) *Server {
	s := &Server{
		router: chi.NewRouter(),
		svc:    svc,
		stream: stream,
	}

	s.setupMiddleware(cfg.CORSOriginList())
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold the connection open
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(origins []string) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.router.Route("/api/stocks", func(r chi.Router) {
		r.Get("/ws/current", s.handleStream)
		r.Get("/{code}/overview", s.handleOverview)
		r.Get("/{code}/series", s.handleSeries)
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving requests until the listener fails or Shutdown is
// called.
func (s *Server) Start(ctx context.Context) error {
	logger.Info(ctx, "HTTP server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

var _ quoteService = (*quote.Service)(nil)
