// Package server exposes the event engine's HTTP boundary: event
// ingestion and history for consumers, job introspection and manual
// triggers for operators (spec §6).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/eventmanager"
	"github.com/bobmcallan/offerengine/internal/interfaces"
)

// Server wraps the HTTP server and the components it routes to.
type Server struct {
	config       *common.Config
	logger       *common.Logger
	storage      interfaces.StorageManager
	eventStore   interfaces.EventStore
	eventManager interfaces.EventManager
	registry     *eventmanager.Registry
	scheduler    interfaces.JobScheduler

	httpServer *http.Server
}

// New creates a Server bound to config.Server.Host/Port.
func New(
	config *common.Config,
	logger *common.Logger,
	storage interfaces.StorageManager,
	eventManager interfaces.EventManager,
	registry *eventmanager.Registry,
	scheduler interfaces.JobScheduler,
) *Server {
	s := &Server{
		config:       config,
		logger:       logger,
		storage:      storage,
		eventStore:   storage.EventStore(),
		eventManager: eventManager,
		registry:     registry,
		scheduler:    scheduler,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	handler := applyMiddleware(mux, logger, config)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Starting event engine HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new requests and waits for in-flight ones to
// finish, the first step of spec §5's shutdown sequence.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
