// Package matcher scores probe embeddings against stored representatives.
package matcher

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/faceauth/internal/vecmath"
)

// ErrNoCandidates is returned by Best when the representative holds no vectors.
var ErrNoCandidates = errors.New("no candidate vectors")

// DegenerateVectorError reports an embedding with a zero or non-finite
// norm. It points at an
// upstream detector anomaly and fails only the comparison it occurred in.
type DegenerateVectorError struct {
	Which string // "probe" or "candidate"
	Index int    // candidate index, -1 for the probe
}

func (e *DegenerateVectorError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("degenerate %s vector at index %d: zero or non-finite norm", e.Which, e.Index)
	}
	return fmt.Sprintf("degenerate %s vector: zero or non-finite norm", e.Which)
}

// Unwrap lets callers match with errors.Is(err, vecmath.ErrDegenerateVector).
func (e *DegenerateVectorError) Unwrap() error { return vecmath.ErrDegenerateVector }

// Match is the outcome of comparing one probe against a set of candidates.
type Match struct {
	Score float64 // best cosine similarity
	Index int     // index of the candidate that produced Score
}

// Score returns the cosine similarity of a and b in [-1, 1].
// A zero or non-finite norm fails with *DegenerateVectorError instead of
// yielding 0 or NaN.
func Score(a, b []float32) (float64, error) {
	if !vecmath.Usable(a) {
		return 0, &DegenerateVectorError{Which: "probe", Index: -1}
	}
	if !vecmath.Usable(b) {
		return 0, &DegenerateVectorError{Which: "candidate", Index: -1}
	}
	return vecmath.Cosine(a, b)
}

// Best compares probe against every candidate and keeps the maximum:
// a probe only needs to match one captured pose.
func Best(probe []float32, candidates [][]float32) (Match, error) {
	if len(candidates) == 0 {
		return Match{}, ErrNoCandidates
	}
	if !vecmath.Usable(probe) {
		return Match{}, &DegenerateVectorError{Which: "probe", Index: -1}
	}

	best := Match{Index: -1}
	for i, c := range candidates {
		if !vecmath.Usable(c) {
			return Match{}, &DegenerateVectorError{Which: "candidate", Index: i}
		}
		s, err := vecmath.Cosine(probe, c)
		if err != nil {
			return Match{}, fmt.Errorf("candidate %d: %w", i, err)
		}
		if best.Index == -1 || s > best.Score {
			best = Match{Score: s, Index: i}
		}
	}
	return best, nil
}
