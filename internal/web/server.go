// Package web serves the task API and the live event stream.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/database"
	"github.com/saltyorg/subextract/internal/scheduler"
	"github.com/saltyorg/subextract/internal/web/handlers"
	"github.com/saltyorg/subextract/internal/web/middleware"
	"github.com/saltyorg/subextract/internal/web/sse"
)

const requestTimeout = 60 * time.Second

// Options configures the web server
type Options struct {
	Bind       string
	Port       int
	AllowedNet *net.IPNet
	Keys       middleware.KeyValidator
	Version    string
}

// Server represents the web server
type Server struct {
	addr      string
	router    *chi.Mux
	sseBroker *sse.Broker
	opts      Options
}

// NewServer creates a new web server over the scheduler
func NewServer(opts Options, sched *scheduler.Manager, db *database.Manager, broker *sse.Broker) *Server {
	addr := fmt.Sprintf(":%d", opts.Port)
	if opts.Bind != "" {
		addr = net.JoinHostPort(opts.Bind, fmt.Sprint(opts.Port))
	}

	s := &Server{
		addr:      addr,
		router:    chi.NewRouter(),
		sseBroker: broker,
		opts:      opts,
	}
	s.setupRoutes(handlers.New(sched, db, opts.Version))
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) setupRoutes(h *handlers.Handlers) {
	r := s.router

	r.Use(chimiddleware.RequestID)
	// AllowSubnet must come BEFORE RealIP so we check the actual connection source
	r.Use(middleware.AllowSubnet(s.opts.AllowedNet))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// SSE endpoint - no timeout (long-lived connections)
	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(s.opts.Keys))
		r.Get("/api/events", s.sseBroker.ServeHTTP)
	})

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(requestTimeout))
		r.Get("/api/health", h.Health)
	})

	r.Route("/api/tasks", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(requestTimeout))
		r.Use(middleware.APIKey(s.opts.Keys))

		r.Get("/", h.ListTasks)
		r.Route("/{key}", func(r chi.Router) {
			r.Get("/", h.GetTask)
			r.Post("/run", h.RunTask)
			r.Post("/cancel", h.CancelTask)
			r.Get("/runs", h.ListRuns)
			r.Get("/triggers", h.GetTriggers)
			r.Put("/triggers", h.PutTriggers)
			r.Get("/extractions", h.ListExtractions)
		})
	})
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:        s.addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout disabled (0) to allow SSE long-lived connections
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		// Stop SSE broker first to close all client connections gracefully
		s.sseBroker.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
