// Package ws handles WebSocket connection management: upgrading HTTP
// requests on the room endpoint, reading frames on a goroutine per
// connection, and handing complete messages to the connection's relay
// session.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/toxiguard/chat-relay/internal/metrics"
	"github.com/toxiguard/chat-relay/internal/relay"
	"github.com/toxiguard/chat-relay/internal/room"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	MaxMessageSize int64         // largest accepted inbound message in bytes
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 100000,
		MaxMessageSize: 64 << 10,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// RoomCounter reports room occupancy across relay instances.
type RoomCounter interface {
	Members(ctx context.Context, room string) (int64, error)
}

// Server upgrades HTTP requests on /ws/chat/{room}/ to WebSocket and runs
// one read loop per connection.
type Server struct {
	config     ServerConfig
	relay      *relay.Relay
	conns      *ConnectionManager
	log        zerolog.Logger
	httpServer *http.Server
	done       chan struct{}
	startedAt  time.Time

	roomCounter      RoomCounter
	classifierStatus func() bool
}

// NewServer creates a Server that hands accepted connections to r.
func NewServer(config ServerConfig, r *relay.Relay, log zerolog.Logger) *Server {
	return &Server{
		config:    config,
		relay:     r,
		conns:     NewConnectionManager(),
		log:       log,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

// SetRoomCounter makes /health report cluster-wide room occupancy.
func (s *Server) SetRoomCounter(rc RoomCounter) {
	s.roomCounter = rc
}

// SetClassifierStatus registers a check reporting whether the classifier
// model is loaded.
func (s *Server) SetClassifierStatus(fn func() bool) {
	s.classifierStatus = fn
}

// Handler returns the HTTP routes served by the relay.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/chat/{room...}", s.handleUpgrade)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start begins accepting connections and blocks until the server is shut
// down.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	StartHeartbeat(s, s.config.Heartbeat)

	s.log.Info().
		Str("addr", s.config.ListenAddr).
		Int("max_conns", s.config.MaxConnections).
		Msg("server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade validates the room, joins it and only then upgrades the
// request. The request goroutine then becomes the connection's read loop.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(r.PathValue("room"), "/")
	if !room.ValidName(name) {
		http.Error(w, "invalid room name", http.StatusBadRequest)
		return
	}

	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	connID := uuid.New().String()
	sess := s.relay.NewSession(connID, name)

	var (
		conn      *Connection
		attempted bool
	)
	err := sess.Open(func() (relay.Transport, error) {
		attempted = true
		netConn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return nil, err
		}
		conn = newConnection(connID, name, netConn, s.config.WriteTimeout)
		return conn, nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("conn", connID).Str("room", name).Msg("connection rejected")
		if !attempted {
			// Joining failed before the handshake, so the response is still ours.
			http.Error(w, "unable to join room", http.StatusServiceUnavailable)
		}
		return
	}

	s.conns.Add(conn)
	s.log.Info().Str("conn", connID).Str("room", name).Int("total", s.conns.Count()).Msg("new connection")

	s.readLoop(conn, sess)
}

// readLoop reads frames until the client goes away or the session closes.
// Messages are handed to the session one at a time, which keeps each
// client's messages in order.
func (s *Server) readLoop(c *Connection, sess *relay.Session) {
	defer s.removeConnection(c, sess, relay.CloseNormal, "")

	for {
		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			s.log.Debug().Err(err).Str("conn", c.ID).Msg("read failed")
			return
		}

		// Any frame proves the connection is alive.
		c.touch()

		if header.OpCode.IsControl() {
			payload, err := io.ReadAll(reader)
			if err != nil {
				return
			}
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				if err := c.writePong(payload); err != nil {
					return
				}
			}
			continue
		}

		data, err := io.ReadAll(io.LimitReader(reader, s.config.MaxMessageSize+1))
		if err != nil {
			s.log.Debug().Err(err).Str("conn", c.ID).Msg("read payload failed")
			return
		}
		if int64(len(data)) > s.config.MaxMessageSize {
			s.removeConnection(c, sess, int(ws.StatusMessageTooBig), "message too big")
			return
		}

		if err := sess.HandleMessage(data); err != nil {
			return
		}
	}
}

// removeConnection closes the session (which closes the transport) and drops
// the connection from the registry. Safe to call more than once.
func (s *Server) removeConnection(c *Connection, sess *relay.Session, code int, reason string) {
	sess.Close(code, reason)
	if s.conns.Remove(c.ID) {
		s.log.Info().Str("conn", c.ID).Int("total", s.conns.Count()).Msg("connection closed")
	}
}

// evict closes a connection from outside its read loop, e.g. on heartbeat
// timeout. Closing the socket unblocks the read loop, which then cleans up.
func (s *Server) evict(c *Connection, code int, reason string) {
	if sess := s.relay.Session(c.ID); sess != nil {
		sess.Close(code, reason)
		return
	}
	_ = c.Close(code, reason)
}

// handleHealth responds with the server's health status as JSON. With
// ?room=<name> it also reports that room's occupancy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
		Classifier  string `json:"classifier,omitempty"`
		Room        string `json:"room,omitempty"`
		Members     *int64 `json:"members,omitempty"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	if s.classifierStatus != nil {
		resp.Classifier = "ready"
		if !s.classifierStatus() {
			resp.Classifier = "degraded"
		}
	}

	if name := r.URL.Query().Get("room"); name != "" {
		if !room.ValidName(name) {
			http.Error(w, "invalid room name", http.StatusBadRequest)
			return
		}
		resp.Room = name
		n := int64(s.relay.InRoom(name))
		if s.roomCounter != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			if total, err := s.roomCounter.Members(ctx, name); err == nil {
				n = total
			} else {
				s.log.Warn().Err(err).Str("room", name).Msg("room counter unavailable")
			}
			cancel()
		}
		resp.Members = &n
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener and closes every session with a
// going-away status.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down server")

	select {
	case <-s.done:
	default:
		close(s.done)
	}

	var err error
	if s.httpServer != nil {
		if err = s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("http shutdown error")
		}
	}

	s.relay.Shutdown()
	for _, c := range s.conns.All() {
		_ = c.Close(relay.CloseGoingAway, "server shutting down")
		s.conns.Remove(c.ID)
	}

	s.log.Info().Msg("server stopped, all connections closed")
	return err
}
