// Package rest serves the read-only series query API.
package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/fortuna/aegis/internal/metrics"
)

// Server represents the REST API server
type Server struct {
	addr   string
	server *http.Server
	logger zerolog.Logger
}

// NewRouter builds the routes and middleware around handler. backfillHandler
// may be nil when no archive is configured.
func NewRouter(handler *Handler, backfillHandler *BackfillHandler, m *metrics.Manager, logger zerolog.Logger) http.Handler {
	router := mux.NewRouter()

	router.Use(RequestIDMiddleware(logger, m))
	router.Use(RecoveryMiddleware(logger))

	router.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	router.Handle("/metrics", m.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	// Series
	api.HandleFunc("/series/live", handler.GetLiveSeries).Methods("GET")
	api.HandleFunc("/series/history", handler.GetSeriesHistory).Methods("GET")
	api.HandleFunc("/series/{seriesID}", handler.GetSeries).Methods("GET")

	// Matches
	api.HandleFunc("/matches/{matchID}", handler.GetMatch).Methods("GET")

	// Poller
	api.HandleFunc("/poller", handler.GetPollerStatus).Methods("GET")

	// Backfill operations
	if backfillHandler != nil {
		api.HandleFunc("/backfill", backfillHandler.HandleBackfillRequest).Methods("POST")
		api.HandleFunc("/backfill/status", backfillHandler.HandleBackfillStatus).Methods("GET")
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "Route not found", nil)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-ID"},
	})
	return c.Handler(router)
}

// NewServer creates a new REST API server
func NewServer(addr string, handler *Handler, backfillHandler *BackfillHandler, m *metrics.Manager, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "rest").Logger()
	return &Server{
		addr:   addr,
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(handler, backfillHandler, m, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("REST API listening")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("REST API stopped")
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
