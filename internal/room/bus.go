// Package room maps chat rooms onto a group message bus. A room is never
// materialized: it exists only as the group key its members subscribe to.
package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives one payload published to a group the connection belongs to.
type Handler func(payload []byte)

// Bus is a publish/subscribe primitive keyed by group. Implementations must
// deliver a single publisher's payloads to each subscriber in publish order.
type Bus interface {
	Subscribe(group, connID string, h Handler) error
	Unsubscribe(group, connID string) error
	Publish(ctx context.Context, group string, payload []byte) error
}

// LocalBus is an in-process Bus. Publish delivers synchronously on the
// caller's goroutine to a snapshot of the group's subscribers.
type LocalBus struct {
	mu     sync.RWMutex
	groups map[string]map[string]Handler
	log    zerolog.Logger
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus(log zerolog.Logger) *LocalBus {
	return &LocalBus{
		groups: make(map[string]map[string]Handler),
		log:    log,
	}
}

func (b *LocalBus) Subscribe(group, connID string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.groups[group]
	if !ok {
		members = make(map[string]Handler)
		b.groups[group] = members
	}
	if _, exists := members[connID]; exists {
		return fmt.Errorf("room: %s already subscribed to %s", connID, group)
	}
	members[connID] = h
	return nil
}

func (b *LocalBus) Unsubscribe(group, connID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.groups[group]
	if !ok {
		return nil
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(b.groups, group)
	}
	return nil
}

func (b *LocalBus) Publish(_ context.Context, group string, payload []byte) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.groups[group]))
	for _, h := range b.groups[group] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
	return nil
}

// Members returns the number of subscribers in group.
func (b *LocalBus) Members(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}
