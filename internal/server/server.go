// Package server provides the HTTP API and webhook endpoints for tsunagu.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/tsunagu/internal/app"
	"github.com/hyperjump/tsunagu/internal/config"
	"go.uber.org/zap"
)

// Server is the HTTP server for the tsunagu API and webhooks.
type Server struct {
	app           *app.App
	config        *config.ServerConfig
	allowedOrigin string
	logger        *zap.Logger
	server        *http.Server

	// feedback is processed after the response is sent
	background sync.WaitGroup
}

// NewServer creates a server with the given dependencies.
func NewServer(a *app.App, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		app:           a,
		config:        cfg,
		allowedOrigin: a.Config.Site.AllowedOrigin,
		logger:        logger,
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/robots.txt", s.handleRobots)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/runs/dedupe", s.handleStartDedupe)
		r.Post("/runs/sync", s.handleStartSync)
		r.Get("/events", s.handleListEvents)
		r.Get("/help/search", s.handleHelpSearch)
	})

	r.Post("/callback/", s.handleIntercomCallback)
	r.Post("/blog-callback/", s.handleBlogCallback)
	r.Get("/deploy-hook/", s.handleDeployHook)
	r.Post("/deploy-hook/", s.handleDeployHook)
	r.Post("/help-feedback/", s.handleHelpFeedback)
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
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server and waits for queued feedback.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.background.Wait()
	return err
}
