// Package server provides the HTTP server and routing for the engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	pairshandlers "github.com/calculated-finance/calc-go/internal/modules/pairs/handlers"
	triggershandlers "github.com/calculated-finance/calc-go/internal/modules/triggers/handlers"
	vaultshandlers "github.com/calculated-finance/calc-go/internal/modules/vaults/handlers"
)

// Config holds server configuration
type Config struct {
	Port            int
	Log             zerolog.Logger
	VaultHandlers   *vaultshandlers.VaultHandlers
	TriggerHandlers *triggershandlers.TriggerHandlers
	AdminHandlers   *pairshandlers.AdminHandlers
}

// Server is the engine's HTTP front end.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// New builds the router and server.
func New(cfg Config) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		cfg.VaultHandlers.RegisterRoutes(r)
		cfg.TriggerHandlers.RegisterRoutes(r)
		cfg.AdminHandlers.RegisterRoutes(r)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		log: cfg.Log.With().Str("component", "server").Logger(),
	}
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
