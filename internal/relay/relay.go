// Package relay implements the per-connection chat session: joining a room,
// classifying and broadcasting chat lines, filing reports, and delivering
// room traffic back to the client. It knows nothing about WebSocket framing;
// the ws package drives sessions through the Transport interface.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/toxiguard/chat-relay/internal/moderation"
	"github.com/toxiguard/chat-relay/internal/report"
	"github.com/toxiguard/chat-relay/internal/room"
	"github.com/toxiguard/chat-relay/internal/workerpool"
)

// Classifier returns a toxicity verdict for a chat line. *moderation.Gate
// implements it.
type Classifier interface {
	Classify(ctx context.Context, text string) moderation.Verdict
}

// ReportSubmitter persists a report. *report.Sink implements it.
type ReportSubmitter interface {
	Submit(ctx context.Context, s report.Submission) error
}

// Presence is the optional cross-instance presence registry.
// *presence.Store implements it.
type Presence interface {
	Create(ctx context.Context, connID, room string) error
	SetUsername(ctx context.Context, connID, username string) error
	Refresh(ctx context.Context, connID, room string) error
	Delete(ctx context.Context, connID, room string) error
}

// presenceTimeout bounds each best-effort presence call.
const presenceTimeout = 2 * time.Second

// Config wires a Relay's dependencies. Presence may be nil.
type Config struct {
	Classifier Classifier
	Reports    ReportSubmitter
	Rooms      *room.Membership
	Pool       *workerpool.Pool
	Presence   Presence
	Log        zerolog.Logger
}

// Relay owns every live session on this instance.
type Relay struct {
	classifier Classifier
	reports    ReportSubmitter
	rooms      *room.Membership
	pool       *workerpool.Pool
	presence   Presence
	log        zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates a Relay.
func New(config Config) *Relay {
	pool := config.Pool
	if pool == nil {
		pool = workerpool.New(0)
	}
	return &Relay{
		classifier: config.Classifier,
		reports:    config.Reports,
		rooms:      config.Rooms,
		pool:       pool,
		presence:   config.Presence,
		log:        config.Log,
		sessions:   make(map[string]*Session),
	}
}

// NewSession creates a session in the Connecting state. Nothing is joined or
// accepted until Open is called.
func (r *Relay) NewSession(connID, roomName string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     connID,
		room:   roomName,
		relay:  r,
		log:    r.log.With().Str("conn", connID).Str("room", roomName).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	r.mu.Lock()
	r.sessions[connID] = s
	r.mu.Unlock()
	return s
}

// Session returns the live session for connID, or nil.
func (r *Relay) Session(connID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[connID]
}

// Count returns the number of sessions that have not yet closed.
func (r *Relay) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// InRoom returns the number of joined sessions in room on this instance.
func (r *Relay) InRoom(name string) int {
	n := 0
	for _, s := range r.All() {
		if s.room == name && s.State() == Joined {
			n++
		}
	}
	return n
}

// All returns a snapshot of the live sessions.
func (r *Relay) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// RefreshPresence extends the presence TTL of every joined session.
func (r *Relay) RefreshPresence() {
	if r.presence == nil {
		return
	}
	for _, s := range r.All() {
		if s.State() != Joined {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		if err := r.presence.Refresh(ctx, s.id, s.room); err != nil {
			s.log.Warn().Err(err).Msg("presence refresh failed")
		}
		cancel()
	}
}

// Shutdown closes every session with a going-away status.
func (r *Relay) Shutdown() {
	for _, s := range r.All() {
		s.Close(CloseGoingAway, "server shutting down")
	}
}

func (r *Relay) forget(connID string) {
	r.mu.Lock()
	delete(r.sessions, connID)
	r.mu.Unlock()
}
