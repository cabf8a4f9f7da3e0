// Package quality gates raw detections before they contribute to an
// embedding set.
package quality

import (
	"math"

	"github.com/andresmejia3/faceauth/internal/types"
)

// Policy is one pass of the quality gate.
type Policy struct {
	MinConfidence float64
	MaxAbsYaw     float64 // +Inf disables the yaw bound
	Stride        int     // sample every Nth frame
}

// DefaultPolicy is the primary registration pass.
func DefaultPolicy() Policy {
	return Policy{MinConfidence: 0.6, MaxAbsYaw: 30, Stride: 3}
}

// FallbackPolicy is applied only when the primary pass accepts nothing.
func FallbackPolicy() Policy {
	return Policy{MinConfidence: 0.1, MaxAbsYaw: math.Inf(1), Stride: 1}
}

// Accept reports whether conf >= minConfidence and |yaw| <= maxAbsYaw.
// A bound of 0 admits only frontal faces; pass math.Inf(1) for no bound.
// A NaN yaw never passes.
func Accept(det types.RawDetection, minConfidence, maxAbsYaw float64) bool {
	if det.Confidence < minConfidence {
		return false
	}
	if !(math.Abs(det.Pose.Yaw) <= maxAbsYaw) {
		return false
	}
	return len(det.Embedding) > 0
}

func (p Policy) Accept(det types.RawDetection) bool {
	return Accept(det, p.MinConfidence, p.MaxAbsYaw)
}

// Largest returns the detection with the biggest bounding box area.
// Ties keep the first one reported.
func Largest(dets []types.RawDetection) (types.RawDetection, bool) {
	if len(dets) == 0 {
		return types.RawDetection{}, false
	}
	best := 0
	for i := 1; i < len(dets); i++ {
		if dets[i].BBox.Area() > dets[best].BBox.Area() {
			best = i
		}
	}
	return dets[best], true
}

// Pick applies the per-frame rule: the largest face is chosen first and
// then gated. A smaller face never stands in for a rejected larger one.
func (p Policy) Pick(dets []types.RawDetection) (types.RawDetection, bool) {
	det, ok := Largest(dets)
	if !ok || !p.Accept(det) {
		return types.RawDetection{}, false
	}
	return det, true
}

// Filter runs Pick over a sequence of frames and returns the accepted
// detections in frame order.
func Filter(p Policy, frames [][]types.RawDetection) []types.RawDetection {
	var out []types.RawDetection
	for _, dets := range frames {
		if det, ok := p.Pick(dets); ok {
			out = append(out, det)
		}
	}
	return out
}
