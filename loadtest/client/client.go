// Package client provides a reusable WebSocket load test client for the chat
// relay. It connects using gobwas/ws (the same library the server uses), joins
// a room by URL, and tracks per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// TypeReport and TypeReportConfirmation mirror the relay's wire constants.
const (
	TypeReport             = "report"
	TypeReportConfirmation = "report_confirmation"
)

// stampPrefix marks chat text carrying a send timestamp, so that the sender
// can measure round-trip latency from its own echo.
const stampPrefix = "lt:"

// Broadcast is a chat line as delivered to every member of a room.
type Broadcast struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	IsToxic  bool   `json:"is_toxic"`
	Warning  string `json:"warning"`
}

// Confirmation is the private reply to a report.
type Confirmation struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	ToxicReceived    int
	Errors           int
}

// Client represents a single simulated user in one room.
type Client struct {
	conn     net.Conn
	room     string
	username string

	mu      sync.Mutex
	metrics Metrics

	onBroadcast    func(Broadcast, time.Duration)
	onConfirmation func(Confirmation)

	done      chan struct{}
	closeOnce sync.Once
}

// RoomURL builds the room endpoint from a base URL such as
// ws://localhost:8080.
func RoomURL(base, room string) string {
	return strings.TrimSuffix(base, "/") + "/ws/chat/" + room + "/"
}

// Dial joins room on the relay at base as username. Handlers must be
// registered with On* before Start is called.
func Dial(ctx context.Context, base, room, username string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, RoomURL(base, room))
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		room:     room,
		username: username,
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)
	return c, nil
}

// OnBroadcast registers the chat handler. latency is non-zero only for this
// client's own stamped messages.
func (c *Client) OnBroadcast(fn func(b Broadcast, latency time.Duration)) {
	c.onBroadcast = fn
}

// OnConfirmation registers the report confirmation handler.
func (c *Client) OnConfirmation(fn func(Confirmation)) {
	c.onConfirmation = fn
}

// Start begins reading messages in the background.
func (c *Client) Start() {
	go c.readLoop()
}

// SendChat sends a chat line stamped with the current time.
func (c *Client) SendChat(text string) error {
	stamped := stampPrefix + strconv.FormatInt(time.Now().UnixNano(), 10) + " " + text
	return c.send(map[string]string{"username": c.username, "message": stamped})
}

// SendReport files a report against reported.
func (c *Client) SendReport(text, reportType, reported string) error {
	return c.send(map[string]interface{}{
		"type":              TypeReport,
		"message_text":      text,
		"report_type":       reportType,
		"reporter_username": c.username,
		"reported_username": reported,
	})
}

func (c *Client) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Done is closed when the connection ends for any reason.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Username returns the name this client chats under.
func (c *Client) Username() string {
	return c.username
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Closed on purpose; not an error.
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		if envelope.Type == TypeReportConfirmation {
			var conf Confirmation
			if err := json.Unmarshal(data, &conf); err == nil && c.onConfirmation != nil {
				c.onConfirmation(conf)
			}
			continue
		}

		var b Broadcast
		if err := json.Unmarshal(data, &b); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		if b.IsToxic {
			c.metrics.ToxicReceived++
		}
		c.mu.Unlock()

		var latency time.Duration
		if b.Username == c.username {
			latency = stampLatency(b.Message)
		}
		if c.onBroadcast != nil {
			c.onBroadcast(b, latency)
		}
	}
}

// stampLatency returns the time since the stamp embedded by SendChat, or zero
// when the text carries none.
func stampLatency(text string) time.Duration {
	rest, ok := strings.CutPrefix(text, stampPrefix)
	if !ok {
		return 0
	}
	raw, _, _ := strings.Cut(rest, " ")
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return time.Since(time.Unix(0, ns))
}
