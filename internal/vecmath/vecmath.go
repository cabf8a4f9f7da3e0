// Package vecmath implements the small set of vector operations the
// embedding pipeline needs. Vectors are float32 (the storage precision);
// all accumulation happens in float64.
package vecmath

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDegenerateVector is returned when a vector has a zero or
	// non-finite norm.
	ErrDegenerateVector = errors.New("degenerate vector: zero or non-finite norm")
	// ErrDimensionMismatch is returned when two vectors differ in length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrEmpty is returned when an operation needs at least one vector.
	ErrEmpty = errors.New("no vectors")
)

// Dot returns the inner product of a and b. Lengths must match.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	return math.Sqrt(Dot(v, v))
}

// Usable reports whether v has a finite, non-zero norm. NaN or Inf
// components make the norm non-finite.
func Usable(v []float32) bool {
	n := Norm(v)
	return n > 0 && !math.IsInf(n, 0)
}

// Cosine returns dot(a,b) / (|a| |b|), clamped to [-1, 1].
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if !Usable(a) || !Usable(b) {
		return 0, ErrDegenerateVector
	}
	na, nb := Norm(a), Norm(b)
	sim := Dot(a, b) / (na * nb)
	// Clamp to [-1, 1] to handle floating point errors
	return max(-1, min(1, sim)), nil
}

// Mean returns the element-wise arithmetic mean of vs.
func Mean(vs [][]float32) ([]float32, error) {
	if len(vs) == 0 {
		return nil, ErrEmpty
	}
	dim := len(vs[0])
	acc := make([]float64, dim)
	for _, v := range vs {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(v), dim)
		}
		for i, x := range v {
			acc[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	n := float64(len(vs))
	for i := range acc {
		out[i] = float32(acc[i] / n)
	}
	return out, nil
}

// Clone returns a copy of v.
func Clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
