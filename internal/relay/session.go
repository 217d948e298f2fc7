package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/toxiguard/chat-relay/internal/metrics"
	"github.com/toxiguard/chat-relay/internal/moderation"
	"github.com/toxiguard/chat-relay/internal/protocol"
	"github.com/toxiguard/chat-relay/internal/report"
	"github.com/toxiguard/chat-relay/internal/workerpool"
)

// WebSocket close codes used by sessions.
const (
	CloseNormal         = 1000
	CloseGoingAway      = 1001
	CloseInvalidPayload = 1007
	CloseInternalError  = 1011
)

var (
	// ErrNotJoined is returned when a session is asked to send or handle a
	// message before it has joined or after it has closed.
	ErrNotJoined = errors.New("relay: session not joined")
	// ErrClosed is returned by Open when the session closed while the
	// transport was being accepted.
	ErrClosed = errors.New("relay: session closed")
)

// State is a session's lifecycle stage.
type State int32

const (
	Connecting State = iota
	Joined
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Transport is the accepted client connection. WriteMessage must be safe for
// concurrent use.
type Transport interface {
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// Session is one client connection bound to one room.
type Session struct {
	id    string
	room  string
	relay *Relay
	log   zerolog.Logger

	// ctx is cancelled on Close; in-flight classification or report work is
	// abandoned with it.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	transport Transport
	username  string

	closeOnce sync.Once
}

// ID returns the connection ID.
func (s *Session) ID() string { return s.id }

// Room returns the room name fixed at connect time.
func (s *Session) Room() string { return s.room }

// Username returns the username of the last chat line sent, if any.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Open joins the room and then accepts the transport. If joining fails the
// transport is never accepted; if accepting fails the room is left again.
// Either way the session ends up Closed.
func (s *Session) Open(accept func() (Transport, error)) error {
	if err := s.relay.rooms.Join(s.room, s.id, s.deliver); err != nil {
		s.log.Warn().Err(err).Msg("join failed")
		s.Close(CloseInternalError, "")
		return fmt.Errorf("relay: join: %w", err)
	}

	t, err := accept()
	if err != nil {
		s.log.Warn().Err(err).Msg("accept failed")
		s.Close(CloseInternalError, "")
		return fmt.Errorf("relay: accept: %w", err)
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		_ = t.Close(CloseGoingAway, "")
		return ErrClosed
	}
	s.transport = t
	s.state = Joined
	s.mu.Unlock()

	metrics.ConnectionsTotal.Inc()
	if p := s.relay.presence; p != nil {
		ctx, cancel := context.WithTimeout(s.ctx, presenceTimeout)
		if err := p.Create(ctx, s.id, s.room); err != nil {
			s.log.Warn().Err(err).Msg("presence create failed")
		}
		cancel()
	}

	s.log.Info().Msg("session joined")
	return nil
}

// HandleMessage processes one inbound frame. Messages of a session are meant
// to be handled one at a time, in arrival order. A non-nil error means the
// session has been closed and no further frames should be read.
func (s *Session) HandleMessage(data []byte) error {
	if s.State() != Joined {
		return ErrNotJoined
	}

	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		metrics.ProtocolErrorsTotal.Inc()
		s.log.Warn().Err(err).Msg("protocol error")
		s.Close(CloseInvalidPayload, "invalid message")
		return err
	}

	switch m := msg.(type) {
	case protocol.ChatMsg:
		return s.handleChat(m)
	case protocol.ReportMsg:
		return s.handleReport(m)
	}
	return nil
}

func (s *Session) handleChat(m protocol.ChatMsg) error {
	verdict, err := workerpool.Run(s.ctx, s.relay.pool, func(ctx context.Context) moderation.Verdict {
		return s.relay.classifier.Classify(ctx, m.Message)
	})
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if err != nil {
		s.log.Error().Err(err).Msg("classification task failed")
		verdict = moderation.NotToxic
	}

	s.trackUsername(m.Username)

	payload, err := protocol.EncodeChatEvent(protocol.ChatEvent{
		Username: m.Username,
		Message:  m.Message,
		IsToxic:  verdict == moderation.Toxic,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("encode chat event failed")
		return nil
	}

	if err := s.relay.rooms.Publish(s.ctx, s.room, payload); err != nil {
		s.log.Error().Err(err).Msg("publish failed")
		s.Close(CloseInternalError, "")
		return fmt.Errorf("relay: publish: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(verdict.String()).Inc()
	return nil
}

func (s *Session) handleReport(m protocol.ReportMsg) error {
	err := s.relay.pool.Do(s.ctx, func(ctx context.Context) error {
		return s.relay.reports.Submit(ctx, report.Submission{
			MessageText:      m.MessageText,
			ReportType:       m.ReportType,
			ReporterUsername: m.ReporterUsername,
			ReportedUsername: m.ReportedUsername,
		})
	})
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("report rejected")
	}

	data, err2 := protocol.NewReportConfirmation(err == nil)
	if err2 != nil {
		s.log.Error().Err(err2).Msg("build report confirmation failed")
		return nil
	}
	return s.send(data)
}

// deliver is the room bus callback. It runs on whichever goroutine the bus
// delivers on.
func (s *Session) deliver(payload []byte) {
	if s.State() != Joined {
		return
	}

	ev, err := protocol.DecodeChatEvent(payload)
	if err != nil {
		s.log.Error().Err(err).Msg("undecodable room payload")
		return
	}
	data, err := json.Marshal(protocol.NewChatBroadcast(ev))
	if err != nil {
		s.log.Error().Err(err).Msg("encode chat broadcast failed")
		return
	}
	_ = s.send(data)
}

// send writes data to the client. A failed write closes the session.
func (s *Session) send(data []byte) error {
	s.mu.Lock()
	if s.state != Joined {
		s.mu.Unlock()
		return ErrNotJoined
	}
	t := s.transport
	s.mu.Unlock()

	if err := t.WriteMessage(data); err != nil {
		s.log.Warn().Err(err).Msg("write failed")
		s.Close(CloseGoingAway, "")
		return fmt.Errorf("relay: write: %w", err)
	}
	return nil
}

func (s *Session) trackUsername(name string) {
	s.mu.Lock()
	changed := s.username != name
	s.username = name
	s.mu.Unlock()

	p := s.relay.presence
	if !changed || p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, presenceTimeout)
	defer cancel()
	if err := p.SetUsername(ctx, s.id, name); err != nil {
		s.log.Warn().Err(err).Msg("presence username update failed")
	}
}

// Close leaves the room, abandons in-flight work and closes the transport
// with code. Only the first call has any effect.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = Closed
		t := s.transport
		s.mu.Unlock()

		s.cancel()
		s.relay.rooms.Leave(s.id)
		s.relay.forget(s.id)

		if t != nil {
			if err := t.Close(code, reason); err != nil {
				s.log.Debug().Err(err).Msg("transport close")
			}
		}

		if prev == Joined {
			metrics.ConnectionsTotal.Dec()
			if p := s.relay.presence; p != nil {
				ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
				if err := p.Delete(ctx, s.id, s.room); err != nil {
					s.log.Warn().Err(err).Msg("presence delete failed")
				}
				cancel()
			}
		}

		s.log.Info().Int("code", code).Str("from", prev.String()).Msg("session closed")
	})
}
