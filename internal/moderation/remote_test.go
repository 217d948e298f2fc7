package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toxiguard/chat-relay/internal/logger"
)

// loopback answers requests in-process with a moderator-side gate.
type loopback struct {
	gate    *Gate
	subject string
	err     error
}

func (l *loopback) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	l.subject = subject
	if l.err != nil {
		return nil, l.err
	}
	return HandleCheck(ctx, l.gate, data), nil
}

func TestRemoteLoader_RoundTrip(t *testing.T) {
	backend := &loopback{gate: NewGate(staticLoader(keywordModel{}), logger.Nop())}
	g := NewGate(RemoteLoader{Client: backend, Subject: "moderation.check", Timeout: time.Second}, logger.Nop())

	assert.Equal(t, Toxic, g.Classify(context.Background(), "you idiot"))
	assert.Equal(t, NotToxic, g.Classify(context.Background(), "hello"))
	assert.Equal(t, "moderation.check", backend.subject)
}

func TestRemoteLoader_TransportErrorFailsOpen(t *testing.T) {
	backend := &loopback{err: errors.New("nats: timeout")}
	g := NewGate(RemoteLoader{Client: backend, Subject: "moderation.check"}, logger.Nop())

	assert.Equal(t, NotToxic, g.Classify(context.Background(), "you idiot"))
	assert.False(t, g.Degraded())
}

func TestRemoteLoader_NoClientDegrades(t *testing.T) {
	g := NewGate(RemoteLoader{}, logger.Nop())
	assert.True(t, g.Degraded())
}

func TestHandleCheck_InvalidRequest(t *testing.T) {
	g := NewGate(staticLoader(keywordModel{}), logger.Nop())
	out := HandleCheck(context.Background(), g, []byte("{"))

	m := &remoteModel{client: replyWith(out)}
	_, err := m.Predict(context.Background(), Features{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request")
}

type replyWith []byte

func (r replyWith) Request(context.Context, string, []byte) ([]byte, error) { return r, nil }

func TestRemoteModel_InternalErrorReplyFailsOpen(t *testing.T) {
	m := &remoteModel{client: replyWith(internalErrorReply)}
	_, err := m.Predict(context.Background(), Features{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "internal")

	g := NewGate(LoaderFunc(func() (Model, FeatureExtractor, error) { return m, RawText{}, nil }), logger.Nop())
	assert.Equal(t, NotToxic, g.Classify(context.Background(), "you idiot"))
}
