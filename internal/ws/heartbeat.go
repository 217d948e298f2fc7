package ws

import (
	"time"

	"github.com/toxiguard/chat-relay/internal/relay"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically sends
// WebSocket ping frames to all connections, closes those that have gone
// stale, and refreshes presence for the rest. It returns immediately; the
// goroutine exits when the server shuts down.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server, config)
				server.relay.RefreshPresence()
			}
		}
	}()
}

// checkConnections evicts connections with no frame received within
// Interval + Timeout and pings the others. Browsers answer pings
// automatically, so a live client always refreshes its activity time.
func checkConnections(server *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range server.Connections().All() {
		idle := now.Sub(c.LastActive())
		if idle > deadline {
			server.log.Info().
				Str("conn", c.ID).
				Dur("idle", idle.Round(time.Second)).
				Msg("heartbeat timeout")
			server.evict(c, relay.CloseGoingAway, "heartbeat timeout")
			continue
		}

		if err := c.WritePing(); err != nil {
			server.log.Warn().Err(err).Str("conn", c.ID).Msg("heartbeat ping failed")
			server.evict(c, relay.CloseGoingAway, "")
		}
	}
}
