// Package aggregate reduces the accepted detections of one registration
// into a Representative: outlier rejection first, then selection.
package aggregate

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/faceauth/internal/types"
)

// ErrNoValidFace is matched by every NoValidFaceError.
var ErrNoValidFace = errors.New("no valid face")

// NoValidFaceError means nothing survived the quality gate, so there is
// nothing to aggregate.
type NoValidFaceError struct {
	Reason string
}

func (e *NoValidFaceError) Error() string {
	if e.Reason == "" {
		return ErrNoValidFace.Error()
	}
	return fmt.Sprintf("%s: %s", ErrNoValidFace, e.Reason)
}

func (e *NoValidFaceError) Is(target error) bool { return target == ErrNoValidFace }

// EmbeddingSet is the request-local collection of accepted embeddings.
// Poses, when present, are index-aligned with Vectors.
type EmbeddingSet struct {
	Vectors [][]float32
	Poses   []types.Pose
}

// FromDetections collects the embeddings and poses of dets in order.
func FromDetections(dets []types.RawDetection) EmbeddingSet {
	var s EmbeddingSet
	for _, d := range dets {
		s.Add(d.Embedding, d.Pose)
	}
	return s
}

func (s *EmbeddingSet) Add(v []float32, p types.Pose) {
	s.Vectors = append(s.Vectors, v)
	s.Poses = append(s.Poses, p)
}

func (s EmbeddingSet) Len() int { return len(s.Vectors) }

// HasPoses reports whether every vector has a pose.
func (s EmbeddingSet) HasPoses() bool {
	return len(s.Poses) == len(s.Vectors) && len(s.Vectors) > 0
}

// subset returns the elements at idx, in order.
func (s EmbeddingSet) subset(idx []int) EmbeddingSet {
	out := EmbeddingSet{Vectors: make([][]float32, 0, len(idx))}
	withPoses := s.HasPoses()
	for _, i := range idx {
		out.Vectors = append(out.Vectors, s.Vectors[i])
		if withPoses {
			out.Poses = append(out.Poses, s.Poses[i])
		}
	}
	return out
}
