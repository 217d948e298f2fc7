package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toxiguard/chat-relay/internal/logger"
)

// inbox collects deliveries for one connection.
type inbox struct {
	mu   sync.Mutex
	msgs []string
}

func (in *inbox) deliver(p []byte) {
	in.mu.Lock()
	in.msgs = append(in.msgs, string(p))
	in.mu.Unlock()
}

func (in *inbox) got() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.msgs...)
}

func newMembership() (*Membership, *LocalBus) {
	bus := NewLocalBus(logger.Nop())
	return NewMembership(bus, logger.Nop()), bus
}

func TestValidName(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"lobby", true},
		{"room_42", true},
		{"café", true},
		{strings.Repeat("a", 100), true},
		{strings.Repeat("a", 101), false},
		{"", false},
		{"two words", false},
		{"dash-ed", false},
		{"a/b", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ValidName(tc.name), "name=%q", tc.name)
	}
}

func TestGroupKey(t *testing.T) {
	assert.Equal(t, "chat_lobby", GroupKey("lobby"))
}

func TestMembership_BroadcastStaysInRoom(t *testing.T) {
	m, _ := newMembership()
	var a, b, c inbox

	require.NoError(t, m.Join("lobby", "A", a.deliver))
	require.NoError(t, m.Join("lobby", "B", b.deliver))
	require.NoError(t, m.Join("other", "C", c.deliver))

	require.NoError(t, m.Publish(context.Background(), "lobby", []byte("hello")))

	assert.Equal(t, []string{"hello"}, a.got(), "publisher receives its own message")
	assert.Equal(t, []string{"hello"}, b.got())
	assert.Empty(t, c.got())
}

func TestMembership_LeaveStopsDelivery(t *testing.T) {
	m, bus := newMembership()
	var a, b inbox

	require.NoError(t, m.Join("lobby", "A", a.deliver))
	require.NoError(t, m.Join("lobby", "B", b.deliver))

	m.Leave("B")
	m.Leave("B")
	m.Leave("never-joined")

	require.NoError(t, m.Publish(context.Background(), "lobby", []byte("after")))
	assert.Equal(t, []string{"after"}, a.got())
	assert.Empty(t, b.got())
	assert.Equal(t, 1, bus.Members(GroupKey("lobby")))
	assert.Equal(t, 1, m.Joined())
}

func TestMembership_JoinRules(t *testing.T) {
	m, bus := newMembership()
	var a inbox

	require.NoError(t, m.Join("lobby", "A", a.deliver))
	require.NoError(t, m.Join("lobby", "A", a.deliver), "rejoining the same room is a no-op")
	assert.ErrorIs(t, m.Join("other", "A", a.deliver), ErrAlreadyJoined)
	assert.ErrorIs(t, m.Join("bad room", "B", a.deliver), ErrInvalidName)
	assert.Equal(t, 1, bus.Members(GroupKey("lobby")))
	assert.Zero(t, bus.Members(GroupKey("other")))
}

type brokenBus struct{ Bus }

func (brokenBus) Subscribe(string, string, Handler) error { return errors.New("bus down") }

func TestMembership_JoinFailureLeavesNoTrace(t *testing.T) {
	m := NewMembership(brokenBus{}, logger.Nop())
	err := m.Join("lobby", "A", func([]byte) {})
	require.Error(t, err)
	assert.Zero(t, m.Joined())
}

func TestMembership_PerPublisherOrder(t *testing.T) {
	m, _ := newMembership()
	var a, b inbox
	require.NoError(t, m.Join("lobby", "A", a.deliver))
	require.NoError(t, m.Join("lobby", "B", b.deliver))

	var want []string
	for i := 0; i < 100; i++ {
		msg := fmt.Sprintf("m%d", i)
		want = append(want, msg)
		require.NoError(t, m.Publish(context.Background(), "lobby", []byte(msg)))
	}

	assert.Equal(t, want, a.got())
	assert.Equal(t, want, b.got())
}

func TestMembership_ConcurrentJoinLeavePublish(t *testing.T) {
	m, bus := newMembership()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			var in inbox
			assert.NoError(t, m.Join("lobby", id, in.deliver))
			assert.NoError(t, m.Publish(context.Background(), "lobby", []byte(id)))
			m.Leave(id)
		}(fmt.Sprintf("conn-%d", i))
	}
	wg.Wait()

	assert.Zero(t, m.Joined())
	assert.Zero(t, bus.Members(GroupKey("lobby")))
}
