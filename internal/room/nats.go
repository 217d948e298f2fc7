package room

import (
	"context"

	"github.com/toxiguard/chat-relay/internal/messaging"
)

// NATSBus spreads groups across relay instances via NATS subjects. NATS
// delivers each subscription's messages in order on a dedicated goroutine.
type NATSBus struct {
	client *messaging.NATSClient
}

// NewNATSBus wraps a connected NATS client.
func NewNATSBus(client *messaging.NATSClient) *NATSBus {
	return &NATSBus{client: client}
}

func (b *NATSBus) Subscribe(group, connID string, h Handler) error {
	return b.client.SubscribeToGroup(group, connID, h)
}

// Unsubscribe drops the connection's subscription. Subscriptions are keyed by
// connection, so group is not needed.
func (b *NATSBus) Unsubscribe(_ string, connID string) error {
	return b.client.UnsubscribeFromGroup(connID)
}

func (b *NATSBus) Publish(_ context.Context, group string, payload []byte) error {
	return b.client.PublishToGroup(group, payload)
}
