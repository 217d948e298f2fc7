package room

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/rs/zerolog"
)

// GroupPrefix is prepended to a room name to form its bus group key.
const GroupPrefix = "chat_"

var (
	// ErrAlreadyJoined is returned when a connection tries to join a second,
	// different room.
	ErrAlreadyJoined = errors.New("room: connection already joined another room")
	// ErrInvalidName is returned for names that are not 1 to 100 word
	// characters.
	ErrInvalidName = errors.New("room: invalid room name")
)

// namePattern accepts Unicode letters, digits and underscore.
var namePattern = regexp.MustCompile(`^[\p{L}\p{N}_]{1,100}$`)

// ValidName reports whether name is an acceptable room name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// GroupKey returns the bus group for a room.
func GroupKey(name string) string {
	return GroupPrefix + name
}

// Membership tracks which group each connection is subscribed to so that
// Leave needs only the connection ID.
type Membership struct {
	bus Bus
	log zerolog.Logger

	mu     sync.Mutex
	joined map[string]string // connID -> group
}

// NewMembership creates a Membership over bus.
func NewMembership(bus Bus, log zerolog.Logger) *Membership {
	return &Membership{
		bus:    bus,
		log:    log,
		joined: make(map[string]string),
	}
}

// Join subscribes connID to the room's group. deliver is invoked for every
// payload published to the room, including the connection's own. Joining the
// same room again is a no-op.
func (m *Membership) Join(name, connID string, deliver Handler) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	group := GroupKey(name)

	m.mu.Lock()
	if current, ok := m.joined[connID]; ok {
		m.mu.Unlock()
		if current == group {
			return nil
		}
		return ErrAlreadyJoined
	}
	m.joined[connID] = group
	m.mu.Unlock()

	if err := m.bus.Subscribe(group, connID, deliver); err != nil {
		m.mu.Lock()
		delete(m.joined, connID)
		m.mu.Unlock()
		return fmt.Errorf("room: join %s: %w", group, err)
	}

	m.log.Debug().Str("conn", connID).Str("group", group).Msg("joined")
	return nil
}

// Leave unsubscribes connID from its group. It is safe to call more than once
// and for connections that never joined.
func (m *Membership) Leave(connID string) {
	m.mu.Lock()
	group, ok := m.joined[connID]
	delete(m.joined, connID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := m.bus.Unsubscribe(group, connID); err != nil {
		m.log.Warn().Err(err).Str("conn", connID).Str("group", group).Msg("unsubscribe failed")
		return
	}
	m.log.Debug().Str("conn", connID).Str("group", group).Msg("left")
}

// Publish sends payload to every member of the room.
func (m *Membership) Publish(ctx context.Context, name string, payload []byte) error {
	if err := m.bus.Publish(ctx, GroupKey(name), payload); err != nil {
		return fmt.Errorf("room: publish %s: %w", GroupKey(name), err)
	}
	return nil
}

// Joined returns the number of connections currently joined through m.
func (m *Membership) Joined() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.joined)
}
