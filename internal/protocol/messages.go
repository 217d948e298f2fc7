// Package protocol defines the WebSocket wire format spoken between chat
// clients and the relay. Every frame is a single JSON object. Inbound frames
// are decoded into a closed set of client messages (chat or report) and
// validated before anything else in the relay sees them.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// Message type discriminators. Chat frames carry no "type" key at all.
const (
	TypeReport             = "report"
	TypeReportConfirmation = "report_confirmation"
)

// Fixed human-readable strings sent to clients.
const (
	ToxicWarning    = "Warning: Toxic content detected!"
	ReportSucceeded = "Report submitted successfully"
	ReportFailed    = "Failed to submit report"
)

// ErrProtocol marks a malformed or incomplete inbound frame. A connection that
// produces one is closed.
var ErrProtocol = errors.New("protocol: invalid client message")

// ---------------------------------------------------------------------------
// Client -> Server messages
// ---------------------------------------------------------------------------

// ClientMessage is the tagged union of every inbound message kind. The only
// implementations are ChatMsg and ReportMsg.
type ClientMessage interface {
	isClientMessage()
}

// ChatMsg is a chat line to be classified and broadcast to the room.
type ChatMsg struct {
	Username string
	Message  string
}

// ReportMsg flags a message for human review. ReportType is kept in its
// textual form; interpreting it is the report sink's job.
type ReportMsg struct {
	MessageID        json.RawMessage // opaque, echoed nowhere
	MessageText      string
	ReportType       string
	ReporterUsername string
	ReportedUsername *string // nil when the client omitted it
}

func (ChatMsg) isClientMessage()   {}
func (ReportMsg) isClientMessage() {}

// envelope extracts the discriminator. A missing or null "type" selects the
// chat path.
type envelope struct {
	Type *string `json:"type"`
}

type chatWire struct {
	Username *string `json:"username"`
	Message  *string `json:"message"`
}

type reportWire struct {
	MessageID        json.RawMessage `json:"message_id"`
	MessageText      *string         `json:"message_text"`
	ReportType       *rawScalar      `json:"report_type"`
	ReporterUsername *string         `json:"reporter_username"`
	ReportedUsername *string         `json:"reported_username"`
}

// rawScalar accepts either a JSON string or any other JSON literal and keeps
// its textual form, so "2" and 2 both arrive as "2".
type rawScalar string

func (r *rawScalar) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = rawScalar(s)
		return nil
	}
	*r = rawScalar(bytes.TrimSpace(data))
	return nil
}

// ParseClientMessage decodes one inbound frame. Every failure wraps
// ErrProtocol: malformed JSON, a non-object payload, an unknown "type", a
// missing required key, or a required key of the wrong JSON type.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if env.Type == nil {
		return parseChat(data)
	}
	if *env.Type == TypeReport {
		return parseReport(data)
	}
	return nil, fmt.Errorf("%w: unknown message type %q", ErrProtocol, *env.Type)
}

func parseChat(data []byte) (ClientMessage, error) {
	var w chatWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: chat: %v", ErrProtocol, err)
	}
	if w.Username == nil {
		return nil, fmt.Errorf("%w: chat: missing %q", ErrProtocol, "username")
	}
	if w.Message == nil {
		return nil, fmt.Errorf("%w: chat: missing %q", ErrProtocol, "message")
	}
	return ChatMsg{Username: *w.Username, Message: *w.Message}, nil
}

func parseReport(data []byte) (ClientMessage, error) {
	var w reportWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: report: %v", ErrProtocol, err)
	}

	switch {
	case w.MessageText == nil:
		return nil, fmt.Errorf("%w: report: missing %q", ErrProtocol, "message_text")
	case w.ReportType == nil:
		return nil, fmt.Errorf("%w: report: missing %q", ErrProtocol, "report_type")
	case w.ReporterUsername == nil:
		return nil, fmt.Errorf("%w: report: missing %q", ErrProtocol, "reporter_username")
	}

	return ReportMsg{
		MessageID:        w.MessageID,
		MessageText:      *w.MessageText,
		ReportType:       string(*w.ReportType),
		ReporterUsername: *w.ReporterUsername,
		ReportedUsername: w.ReportedUsername,
	}, nil
}

// ---------------------------------------------------------------------------
// Group bus payload
// ---------------------------------------------------------------------------

// ChatEvent is what a session publishes to its room group: the chat line plus
// the verdict that was attached before broadcast.
type ChatEvent struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	IsToxic  bool   `json:"is_toxic"`
}

// EncodeChatEvent serializes a ChatEvent for the group bus.
func EncodeChatEvent(ev ChatEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal chat event: %w", err)
	}
	return data, nil
}

// DecodeChatEvent parses a group bus payload.
func DecodeChatEvent(data []byte) (ChatEvent, error) {
	var ev ChatEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ChatEvent{}, fmt.Errorf("protocol: unmarshal chat event: %w", err)
	}
	return ev, nil
}

// ---------------------------------------------------------------------------
// Server -> Client messages
// ---------------------------------------------------------------------------

// ChatBroadcast is the outbound shape of a chat line. The warning text is
// derived from the verdict and cannot be set on its own.
type ChatBroadcast struct {
	username string
	message  string
	toxic    bool
}

// NewChatBroadcast builds the outbound form of a chat event.
func NewChatBroadcast(ev ChatEvent) ChatBroadcast {
	return ChatBroadcast{username: ev.Username, message: ev.Message, toxic: ev.IsToxic}
}

// Warning returns ToxicWarning for toxic messages and "" otherwise.
func (b ChatBroadcast) Warning() string {
	if b.toxic {
		return ToxicWarning
	}
	return ""
}

// MarshalJSON renders {username, message, is_toxic, warning}.
func (b ChatBroadcast) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Username string `json:"username"`
		Message  string `json:"message"`
		IsToxic  bool   `json:"is_toxic"`
		Warning  string `json:"warning"`
	}{
		Username: b.username,
		Message:  b.message,
		IsToxic:  b.toxic,
		Warning:  b.Warning(),
	})
}

// ReportConfirmationMsg is sent privately to the reporter once a report has
// been processed, whatever the outcome.
type ReportConfirmationMsg struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewReportConfirmation encodes a report_confirmation frame. The message text
// is one of two fixed strings so that no internal error detail leaks.
func NewReportConfirmation(success bool) ([]byte, error) {
	text := ReportFailed
	if success {
		text = ReportSucceeded
	}
	return NewServerMessage(TypeReportConfirmation, ReportConfirmationMsg{
		Success: success,
		Message: text,
	})
}

// NewServerMessage creates a JSON-encoded byte slice for a typed server
// message. msgType is injected under the "type" key regardless of what the
// payload carries.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
