package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toxiguard/chat-relay/internal/logger"
)

// keywordModel flags any text containing "idiot".
type keywordModel struct{}

func (keywordModel) Predict(_ context.Context, f Features) (bool, error) {
	for _, w := range tokenPattern.FindAllString(f.Text, -1) {
		if w == "idiot" {
			return true, nil
		}
	}
	return false, nil
}

type modelFunc func(ctx context.Context, f Features) (bool, error)

func (fn modelFunc) Predict(ctx context.Context, f Features) (bool, error) { return fn(ctx, f) }

func staticLoader(m Model) Loader {
	return LoaderFunc(func() (Model, FeatureExtractor, error) { return m, RawText{}, nil })
}

// writeArtifact writes a two-term vectorizer and model to a temp directory.
// "idiot" pushes the decision positive, "hello" pushes it negative.
func writeArtifact(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, VectorizerFile), map[string]interface{}{
		"vocabulary": map[string]int{"hello": 0, "idiot": 1},
		"idf":        []float64{1, 1},
	})
	writeJSON(t, filepath.Join(dir, ModelFile), map[string]interface{}{
		"coef":      []float64{-1, 2},
		"intercept": -0.1,
	})
	return dir
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// ---------------------------------------------------------------------------
// Test: Loaded gate
// ---------------------------------------------------------------------------

func TestGate_ClassifiesWithArtifact(t *testing.T) {
	g := NewGate(FileLoader{Dir: writeArtifact(t), Log: logger.Nop()}, logger.Nop())

	require.True(t, g.Warm())
	assert.Equal(t, Toxic, g.Classify(context.Background(), "you IDIOT"))
	assert.Equal(t, NotToxic, g.Classify(context.Background(), "hello there"))
	assert.Equal(t, NotToxic, g.Classify(context.Background(), ""))
}

func TestGate_LoadsOnceUnderConcurrency(t *testing.T) {
	var loads int32
	g := NewGate(LoaderFunc(func() (Model, FeatureExtractor, error) {
		atomic.AddInt32(&loads, 1)
		return keywordModel{}, RawText{}, nil
	}), logger.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, Toxic, g.Classify(context.Background(), "idiot"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

// ---------------------------------------------------------------------------
// Test: Degraded mode
// ---------------------------------------------------------------------------

func TestGate_DegradedOnMissingArtifact(t *testing.T) {
	var loads int32
	fl := FileLoader{Dir: filepath.Join(t.TempDir(), "nope"), Log: logger.Nop()}
	g := NewGate(LoaderFunc(func() (Model, FeatureExtractor, error) {
		atomic.AddInt32(&loads, 1)
		return fl.Load()
	}), logger.Nop())

	for i := 0; i < 3; i++ {
		assert.Equal(t, NotToxic, g.Classify(context.Background(), "you idiot"))
	}
	assert.True(t, g.Degraded())
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads), "load must not be retried")
}

func TestGate_DegradedOnCorruptArtifact(t *testing.T) {
	dir := writeArtifact(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ModelFile), []byte("{not json"), 0o644))

	g := NewGate(FileLoader{Dir: dir, Log: logger.Nop()}, logger.Nop())
	assert.Equal(t, NotToxic, g.Classify(context.Background(), "idiot"))
	assert.True(t, g.Degraded())
}

func TestGate_DegradedOnLoaderPanic(t *testing.T) {
	g := NewGate(LoaderFunc(func() (Model, FeatureExtractor, error) {
		panic("boom")
	}), logger.Nop())

	assert.Equal(t, NotToxic, g.Classify(context.Background(), "idiot"))
	assert.True(t, g.Degraded())
}

func TestGate_DegradedOnNilModel(t *testing.T) {
	g := NewGate(LoaderFunc(func() (Model, FeatureExtractor, error) {
		return nil, nil, nil
	}), logger.Nop())
	assert.False(t, g.Warm())
}

func TestDisabled(t *testing.T) {
	g := Disabled(logger.Nop())
	assert.Equal(t, NotToxic, g.Classify(context.Background(), "idiot"))
	assert.True(t, g.Degraded())
}

// ---------------------------------------------------------------------------
// Test: Per-call failures fail open
// ---------------------------------------------------------------------------

func TestGate_FailsOpenPerCall(t *testing.T) {
	cases := []struct {
		name  string
		model Model
	}{
		{"prediction error", modelFunc(func(context.Context, Features) (bool, error) {
			return true, errors.New("backend down")
		})},
		{"prediction panic", modelFunc(func(context.Context, Features) (bool, error) {
			panic("index out of range")
		})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGate(staticLoader(tc.model), logger.Nop())
			assert.Equal(t, NotToxic, g.Classify(context.Background(), "idiot"))
			assert.False(t, g.Degraded(), "a single failed call does not degrade the gate")
		})
	}
}

func TestVerdict_String(t *testing.T) {
	assert.Equal(t, "toxic", Toxic.String())
	assert.Equal(t, "clean", NotToxic.String())
}
