package client

import (
	"strconv"
	"testing"
	"time"
)

func TestRoomURL(t *testing.T) {
	for _, base := range []string{"ws://localhost:8080", "ws://localhost:8080/"} {
		if got := RoomURL(base, "lobby"); got != "ws://localhost:8080/ws/chat/lobby/" {
			t.Errorf("RoomURL(%q) = %q", base, got)
		}
	}
}

func TestStampLatency(t *testing.T) {
	sent := time.Now().Add(-50 * time.Millisecond)
	text := stampPrefix + strconv.FormatInt(sent.UnixNano(), 10) + " hello"

	if got := stampLatency(text); got < 50*time.Millisecond || got > 5*time.Second {
		t.Errorf("stampLatency = %v, want about 50ms", got)
	}
	if got := stampLatency("hello"); got != 0 {
		t.Errorf("unstamped text: got %v, want 0", got)
	}
	if got := stampLatency(stampPrefix + "garbage hello"); got != 0 {
		t.Errorf("bad stamp: got %v, want 0", got)
	}
}
