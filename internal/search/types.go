// Package search implements the hybrid query engine: full-text candidates
// re-scored with vector similarity and a cross-reference boost.
package search

import (
	"fmt"
	"time"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/store"
)

// Mode tells the caller which signals contributed to a result set.
type Mode string

const (
	// ModeHybrid blends keyword, vector and cross-reference scores.
	ModeHybrid Mode = "hybrid"

	// ModeKeyword means no query vector was available; only keyword and
	// cross-reference scores contributed.
	ModeKeyword Mode = "keyword"
)

// Weights configures the blend of the three signals.
type Weights struct {
	Keyword float64
	Vector  float64
	Xref    float64
}

// DefaultWeights returns the default 0.4 / 0.5 / 0.1 blend.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.4, Vector: 0.5, Xref: 0.1}
}

// Validate checks every weight is in [0,1] and they do not all vanish.
func (w Weights) Validate() error {
	for _, c := range []struct {
		name string
		v    float64
	}{{"keyword", w.Keyword}, {"vector", w.Vector}, {"xref", w.Xref}} {
		if c.v < 0 || c.v > 1 {
			return serrors.New(serrors.ErrCodeConfigInvalid, fmt.Sprintf("%s weight %.3f outside [0,1]", c.name, c.v), nil)
		}
	}
	if w.Keyword+w.Vector+w.Xref <= 0 {
		return serrors.New(serrors.ErrCodeConfigInvalid, "search weights sum to zero", nil)
	}
	return nil
}

// keywordOnly drops the vector term and rescales the other two to keep
// their ratio and sum to 1.
func (w Weights) keywordOnly() Weights {
	sum := w.Keyword + w.Xref
	if sum <= 0 {
		return Weights{Keyword: 1}
	}
	return Weights{Keyword: w.Keyword / sum, Xref: w.Xref / sum}
}

// Options configures one query.
type Options struct {
	// SourceTypes restricts results; empty means every corpus.
	SourceTypes []store.SourceType

	// Limit is the maximum number of results (default from Config).
	Limit int

	// KeywordOnly skips the query embedding even when an embedder exists.
	KeywordOnly bool
}

// Result is one ranked chunk.
type Result struct {
	Chunk *store.Chunk

	// Score is the blended score in [0,1].
	Score float64

	// KeywordScore, VectorScore and XrefScore are the normalised
	// components before weighting.
	KeywordScore float64
	VectorScore  float64
	XrefScore    float64

	// MatchedTerms lists the query terms found in the chunk.
	MatchedTerms []string
}

// Response is a ranked result set and how it was produced.
type Response struct {
	Query   string
	Mode    Mode
	Weights Weights
	Results []*Result

	// Candidates is the size of the keyword candidate pool.
	Candidates int

	// DegradedReason says why Mode is ModeKeyword, when it is.
	DegradedReason string

	Took time.Duration
}
