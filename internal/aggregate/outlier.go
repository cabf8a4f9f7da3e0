package aggregate

import (
	"github.com/andresmejia3/faceauth/internal/vecmath"
)

// DefaultOutlierMinSimilarity is the cosine a member needs to the centroid.
const DefaultOutlierMinSimilarity = 0.6

// OutlierReport summarizes one rejection pass.
type OutlierReport struct {
	Input    int
	Kept     int
	Restored bool // nothing passed, the input was returned unchanged
}

// RejectOutliers drops members whose cosine similarity to the set's
// centroid is below minSimilarity. If no member passes, the input is
// returned unchanged, so a non-empty set never comes back empty.
func RejectOutliers(set EmbeddingSet, minSimilarity float64) (EmbeddingSet, OutlierReport) {
	report := OutlierReport{Input: set.Len()}
	if set.Len() == 0 {
		return set, report
	}

	centroid, err := vecmath.Mean(set.Vectors)
	if err != nil {
		report.Kept, report.Restored = set.Len(), true
		return set, report
	}

	var keep []int
	for i, v := range set.Vectors {
		sim, err := vecmath.Cosine(v, centroid)
		if err != nil {
			continue
		}
		if sim >= minSimilarity {
			keep = append(keep, i)
		}
	}

	if len(keep) == 0 {
		report.Kept, report.Restored = set.Len(), true
		return set, report
	}
	report.Kept = len(keep)
	return set.subset(keep), report
}
