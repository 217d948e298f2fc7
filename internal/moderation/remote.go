package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Requester is the request/reply half of the NATS client.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// RemoteLoader builds a model that forwards raw text to a moderator service
// and waits for its verdict.
type RemoteLoader struct {
	Client  Requester
	Subject string
	Timeout time.Duration // per request; zero means the caller's context only
}

// Load implements Loader.
func (l RemoteLoader) Load() (Model, FeatureExtractor, error) {
	if l.Client == nil {
		return nil, nil, fmt.Errorf("%w: no moderator connection", ErrArtifactMissing)
	}
	return &remoteModel{client: l.Client, subject: l.Subject, timeout: l.Timeout}, RawText{}, nil
}

// RawText is a FeatureExtractor that passes text through untouched.
type RawText struct{}

func (RawText) Transform(text string) (Features, error) {
	return Features{Text: text}, nil
}

type remoteModel struct {
	client  Requester
	subject string
	timeout time.Duration
}

func (m *remoteModel) Predict(ctx context.Context, f Features) (bool, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	req, err := json.Marshal(CheckRequest{Text: f.Text})
	if err != nil {
		return false, fmt.Errorf("moderation: marshal request: %w", err)
	}

	data, err := m.client.Request(ctx, m.subject, req)
	if err != nil {
		return false, err
	}

	var res CheckResult
	if err := json.Unmarshal(data, &res); err != nil {
		return false, fmt.Errorf("moderation: decode reply: %w", err)
	}
	if res.Error != "" {
		return false, errors.New("moderation: remote: " + res.Error)
	}
	return res.Toxic, nil
}

var internalErrorReply = []byte(`{"error":"internal"}`)

// HandleCheck answers one encoded CheckRequest with g's verdict. It is the
// responder side of RemoteLoader.
func HandleCheck(ctx context.Context, g *Gate, data []byte) []byte {
	var req CheckRequest
	var res CheckResult
	if err := json.Unmarshal(data, &req); err != nil {
		res.Error = "invalid request"
	} else {
		res.Toxic = g.Classify(ctx, req.Text) == Toxic
		res.Degraded = g.Degraded()
	}

	out, err := json.Marshal(res)
	if err != nil {
		return internalErrorReply
	}
	return out
}
