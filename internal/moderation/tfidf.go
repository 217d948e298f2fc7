package moderation

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// SparseVector maps a vocabulary index to its weight.
type SparseVector map[int]float64

// tokenPattern matches runs of two or more word characters.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Vectorizer is a fitted TF-IDF transform. Field names follow the
// vectorizer.json artifact.
type Vectorizer struct {
	Vocabulary  map[string]int `json:"vocabulary"`
	IDF         []float64      `json:"idf"`
	Lowercase   *bool          `json:"lowercase,omitempty"`   // default true
	NgramRange  [2]int         `json:"ngram_range,omitempty"` // default [1,1]
	Norm        *string        `json:"norm,omitempty"`        // "l2" (default), "l1" or ""
	SublinearTF bool           `json:"sublinear_tf,omitempty"`
}

// Validate checks that the vectorizer is internally consistent and fills in
// defaults.
func (v *Vectorizer) Validate() error {
	if len(v.Vocabulary) == 0 {
		return fmt.Errorf("%w: empty vocabulary", ErrArtifactCorrupt)
	}
	if len(v.IDF) != len(v.Vocabulary) {
		return fmt.Errorf("%w: %d idf weights for %d terms", ErrArtifactCorrupt, len(v.IDF), len(v.Vocabulary))
	}
	for term, idx := range v.Vocabulary {
		if idx < 0 || idx >= len(v.IDF) {
			return fmt.Errorf("%w: term %q has index %d out of range", ErrArtifactCorrupt, term, idx)
		}
	}

	if v.NgramRange == [2]int{} {
		v.NgramRange = [2]int{1, 1}
	}
	if v.NgramRange[0] < 1 || v.NgramRange[0] > v.NgramRange[1] {
		return fmt.Errorf("%w: bad ngram_range %v", ErrArtifactCorrupt, v.NgramRange)
	}

	if v.Norm == nil {
		l2 := "l2"
		v.Norm = &l2
	}
	switch *v.Norm {
	case "l2", "l1", "":
	default:
		return fmt.Errorf("%w: unknown norm %q", ErrArtifactCorrupt, *v.Norm)
	}
	return nil
}

func (v *Vectorizer) lowercase() bool {
	return v.Lowercase == nil || *v.Lowercase
}

// Tokens splits text into the n-grams the vocabulary was built from.
func (v *Vectorizer) Tokens(text string) []string {
	if v.lowercase() {
		text = strings.ToLower(text)
	}
	words := tokenPattern.FindAllString(text, -1)

	minN, maxN := v.NgramRange[0], v.NgramRange[1]
	if minN == 0 {
		minN, maxN = 1, 1
	}

	var grams []string
	if minN == 1 {
		grams = append(grams, words...)
		minN = 2
	}
	for n := minN; n <= maxN; n++ {
		for i := 0; i+n <= len(words); i++ {
			grams = append(grams, strings.Join(words[i:i+n], " "))
		}
	}
	return grams
}

// Transform implements FeatureExtractor.
func (v *Vectorizer) Transform(text string) (Features, error) {
	counts := make(map[int]float64)
	for _, gram := range v.Tokens(text) {
		if idx, ok := v.Vocabulary[gram]; ok {
			counts[idx]++
		}
	}

	vec := make(SparseVector, len(counts))
	for idx, tf := range counts {
		if v.SublinearTF {
			tf = 1 + math.Log(tf)
		}
		vec[idx] = tf * v.IDF[idx]
	}

	var norm float64
	switch {
	case v.Norm == nil || *v.Norm == "l2":
		for _, w := range vec {
			norm += w * w
		}
		norm = math.Sqrt(norm)
	case *v.Norm == "l1":
		for _, w := range vec {
			norm += math.Abs(w)
		}
	}
	if norm > 0 {
		for idx := range vec {
			vec[idx] /= norm
		}
	}

	return Features{Text: text, Vector: vec}, nil
}

// LinearModel is a binary linear classifier. A message is toxic when the
// decision value w·x + b is positive.
type LinearModel struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

// Decision returns w·x + b.
func (m *LinearModel) Decision(x SparseVector) (float64, error) {
	score := m.Intercept
	for idx, w := range x {
		if idx < 0 || idx >= len(m.Coef) {
			return 0, fmt.Errorf("moderation: feature %d outside model of %d weights", idx, len(m.Coef))
		}
		score += m.Coef[idx] * w
	}
	return score, nil
}

// Predict implements Model.
func (m *LinearModel) Predict(_ context.Context, f Features) (bool, error) {
	score, err := m.Decision(f.Vector)
	if err != nil {
		return false, err
	}
	return score > 0, nil
}
