// Package moderation screens chat messages for toxic content before they are
// broadcast. The Gate wraps a pluggable model that is loaded lazily, once per
// process. When the model cannot be loaded, or a single prediction fails, the
// gate fails open and reports the message as not toxic.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/toxiguard/chat-relay/internal/metrics"
)

// Artifact errors returned by loaders.
var (
	ErrArtifactMissing = errors.New("moderation: classifier artifact missing")
	ErrArtifactCorrupt = errors.New("moderation: classifier artifact corrupt")
)

// Verdict is the outcome of classifying one message.
type Verdict bool

const (
	NotToxic Verdict = false
	Toxic    Verdict = true
)

func (v Verdict) String() string {
	if v {
		return "toxic"
	}
	return "clean"
}

// Features is the model input derived from raw text. Vector is nil for
// extractors that leave feature extraction to the model.
type Features struct {
	Text   string
	Vector SparseVector
}

// FeatureExtractor turns raw text into model features.
type FeatureExtractor interface {
	Transform(text string) (Features, error)
}

// Model predicts whether a feature set is toxic.
type Model interface {
	Predict(ctx context.Context, f Features) (bool, error)
}

// Loader produces a model and its matching feature extractor.
type Loader interface {
	Load() (Model, FeatureExtractor, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func() (Model, FeatureExtractor, error)

func (f LoaderFunc) Load() (Model, FeatureExtractor, error) { return f() }

// Gate is the process-wide classifier handle. It is safe for concurrent use.
type Gate struct {
	loader Loader
	log    zerolog.Logger

	once     sync.Once
	model    Model
	features FeatureExtractor
	degraded bool
}

// NewGate returns a gate that loads its model through loader on first use.
func NewGate(loader Loader, log zerolog.Logger) *Gate {
	return &Gate{loader: loader, log: log}
}

// Disabled returns a gate that never loads anything and classifies every
// message as NotToxic.
func Disabled(log zerolog.Logger) *Gate {
	return NewGate(LoaderFunc(func() (Model, FeatureExtractor, error) {
		return nil, nil, fmt.Errorf("%w: classifier disabled", ErrArtifactMissing)
	}), log)
}

// Warm forces the one-time load and reports whether a model is available.
func (g *Gate) Warm() bool {
	g.once.Do(g.load)
	return !g.degraded
}

// Degraded reports whether the gate is running without a model. It triggers
// the load if it has not happened yet.
func (g *Gate) Degraded() bool {
	return !g.Warm()
}

func (g *Gate) load() {
	defer func() {
		if r := recover(); r != nil {
			g.degrade(fmt.Errorf("moderation: loader panicked: %v", r))
		}
	}()

	model, features, err := g.loader.Load()
	if err == nil && (model == nil || features == nil) {
		err = fmt.Errorf("%w: loader returned no model", ErrArtifactMissing)
	}
	if err != nil {
		g.degrade(err)
		return
	}

	g.model, g.features = model, features
	metrics.ClassifierDegraded.Set(0)
	g.log.Info().Msg("classifier loaded")
}

func (g *Gate) degrade(err error) {
	g.model, g.features = nil, nil
	g.degraded = true
	metrics.ClassifierDegraded.Set(1)
	g.log.Error().Err(err).Msg("classifier unavailable, all messages will pass as not toxic")
}

// Classify returns the verdict for text. It never fails: any load error,
// prediction error or panic yields NotToxic.
func (g *Gate) Classify(ctx context.Context, text string) (verdict Verdict) {
	g.once.Do(g.load)
	if g.degraded {
		return NotToxic
	}

	start := time.Now()
	defer func() {
		metrics.ClassificationLatency.Observe(time.Since(start).Seconds())
	}()
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Interface("panic", r).Msg("classification panicked")
			verdict = NotToxic
		}
	}()

	f, err := g.features.Transform(text)
	if err != nil {
		g.log.Error().Err(err).Msg("feature extraction failed")
		return NotToxic
	}

	toxic, err := g.model.Predict(ctx, f)
	if err != nil {
		g.log.Error().Err(err).Msg("prediction failed")
		return NotToxic
	}
	return Verdict(toxic)
}
