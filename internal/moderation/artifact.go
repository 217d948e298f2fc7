package moderation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Artifact file names inside the artifact directory.
const (
	VectorizerFile = "vectorizer.json"
	ModelFile      = "model.json"
)

// FileLoader reads a TF-IDF vectorizer and linear model from Dir.
type FileLoader struct {
	Dir string
	Log zerolog.Logger
}

// Load implements Loader. A missing file yields ErrArtifactMissing; unreadable
// JSON or mismatched shapes yield ErrArtifactCorrupt.
func (l FileLoader) Load() (Model, FeatureExtractor, error) {
	vecPath := filepath.Join(l.Dir, VectorizerFile)
	modelPath := filepath.Join(l.Dir, ModelFile)

	l.Log.Debug().
		Str("dir", l.Dir).
		Str("vectorizer", vecPath).
		Bool("vectorizer_exists", exists(vecPath)).
		Str("model", modelPath).
		Bool("model_exists", exists(modelPath)).
		Msg("loading classifier artifact")

	var vec Vectorizer
	if err := readJSON(vecPath, &vec); err != nil {
		return nil, nil, err
	}
	if err := vec.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", vecPath, err)
	}

	var model LinearModel
	if err := readJSON(modelPath, &model); err != nil {
		return nil, nil, err
	}
	if len(model.Coef) != len(vec.IDF) {
		return nil, nil, fmt.Errorf("%w: model has %d weights, vectorizer has %d features",
			ErrArtifactCorrupt, len(model.Coef), len(vec.IDF))
	}

	return &model, &vec, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrArtifactCorrupt, path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrArtifactCorrupt, path, err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
