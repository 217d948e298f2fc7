package room

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toxiguard/chat-relay/internal/logger"
	"github.com/toxiguard/chat-relay/internal/messaging"
)

// newTestNATSBus connects to NATS_URL (or the local default). Tests using it
// are skipped when no server is reachable.
func newTestNATSBus(t *testing.T) *NATSBus {
	t.Helper()
	config := messaging.DefaultNATSConfig()
	if url := os.Getenv("NATS_URL"); url != "" {
		config.URL = url
	}
	config.MaxReconnects = 0

	client, err := messaging.NewNATSClient(config, logger.Nop())
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(client.Close)
	return NewNATSBus(client)
}

func TestNATSBus_DeliversInOrderAndLeaves(t *testing.T) {
	bus := newTestNATSBus(t)
	m := NewMembership(bus, logger.Nop())

	got := make(chan string, 10)
	require.NoError(t, m.Join("nats_test_room", "A", func(p []byte) { got <- string(p) }))

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, m.Publish(context.Background(), "nats_test_room", []byte(msg)))
	}
	for _, want := range []string{"one", "two", "three"} {
		select {
		case msg := <-got:
			assert.Equal(t, want, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	m.Leave("A")
	require.NoError(t, m.Publish(context.Background(), "nats_test_room", []byte("late")))
	select {
	case msg := <-got:
		t.Fatalf("delivery after leave: %q", msg)
	case <-time.After(200 * time.Millisecond):
	}
}
