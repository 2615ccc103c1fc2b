// Package websocket pushes tracker events to connected dashboards.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fortuna/aegis/internal/reconciliation"
	"github.com/fortuna/aegis/internal/service"
)

// ErrBroadcastFull is returned by Handle when the hub queue is full.
var ErrBroadcastFull = errors.New("websocket broadcast queue full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LiveSource supplies the snapshot sent to a client when it connects.
type LiveSource interface {
	Live(ctx context.Context) []service.SeriesView
}

// Message is the frame written to clients. Snapshot frames carry Series;
// event frames carry Event.
type Message struct {
	Type   string                `json:"type"`
	Series []service.SeriesView  `json:"series,omitempty"`
	Event  *reconciliation.Event `json:"event,omitempty"`
	At     time.Time             `json:"at"`
}

// Server represents the WebSocket server
type Server struct {
	addr   string
	server *http.Server
	hub    *Hub
	live   LiveSource
	logger zerolog.Logger
}

// NewServer creates a new WebSocket server. live may be nil, in which case
// clients receive events only.
func NewServer(addr string, live LiveSource, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "websocket").Logger()
	s := &Server{
		addr:   addr,
		hub:    NewHub(logger),
		live:   live,
		logger: logger,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes returns the HTTP handler serving the feed.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/series/live", s.handleLiveSeries)
	mux.HandleFunc("/ws/health", s.handleHealth)
	return mux
}

// Hub exposes the client hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go s.hub.Run()
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("WebSocket server listening")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("WebSocket server stopped")
		}
	}()
	return nil
}

// Name identifies the sink to the dispatcher.
func (s *Server) Name() string {
	return "websocket"
}

// Handle broadcasts one tracker event to every client.
func (s *Server) Handle(_ context.Context, ev reconciliation.Event) error {
	data, err := json.Marshal(Message{Type: string(ev.Type), Event: &ev, At: ev.At})
	if err != nil {
		return err
	}
	if !s.hub.Broadcast(data) {
		return ErrBroadcastFull
	}
	return nil
}

func (s *Server) handleLiveSeries(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	if s.live != nil {
		snapshot, err := json.Marshal(Message{Type: "snapshot", Series: s.live.Live(r.Context()), At: time.Now().UTC()})
		if err == nil {
			client.send <- snapshot
		}
	}

	if !s.hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "healthy",
		"clients": s.hub.ClientCount(),
	})
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
