package aggregate

import (
	"fmt"

	"github.com/andresmejia3/faceauth/internal/codec"
	"github.com/andresmejia3/faceauth/internal/config"
	"github.com/andresmejia3/faceauth/internal/vecmath"
)

// Strategy names a representative selection rule.
type Strategy string

const (
	Mean    Strategy = "mean"
	Cluster Strategy = "cluster"
)

// ParseStrategy accepts "mean" or "cluster".
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case Mean, Cluster:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown selector strategy %q", s)
}

// Space is the feature space clustering runs in.
type Space string

const (
	EmbeddingSpace Space = "embedding"
	PoseSpace      Space = "pose"
)

// Selection is the output of a Selector.
type Selection struct {
	Representative codec.Representative
	Strategy       Strategy // strategy that actually produced Representative
	FellBack       bool     // clustering failed and Mean was used instead
	FallbackReason error
}

// Selector turns a non-empty embedding set into a Representative.
type Selector interface {
	Select(set EmbeddingSet) (Selection, error)
}

// MeanSelector averages the set into a single vector.
type MeanSelector struct{}

func (MeanSelector) Select(set EmbeddingSet) (Selection, error) {
	if set.Len() == 0 {
		return Selection{}, &NoValidFaceError{Reason: "empty embedding set"}
	}
	m, err := vecmath.Mean(set.Vectors)
	if err != nil {
		return Selection{}, err
	}
	return Selection{Representative: codec.NewSingle(m), Strategy: Mean}, nil
}

// ClusterSelector keeps up to K vectors, one per pose cluster: the member
// nearest each k-means centroid. With Collapse set the chosen members are
// averaged into one vector.
type ClusterSelector struct {
	K        int
	Space    Space
	Collapse bool
	Seed     int64
	MaxIter  int
}

func (s ClusterSelector) Select(set EmbeddingSet) (Selection, error) {
	if set.Len() == 0 {
		return Selection{}, &NoValidFaceError{Reason: "empty embedding set"}
	}

	rep, err := s.cluster(set)
	if err != nil {
		sel, merr := MeanSelector{}.Select(set)
		if merr != nil {
			return Selection{}, merr
		}
		sel.FellBack = true
		sel.FallbackReason = err
		return sel, nil
	}
	return Selection{Representative: rep, Strategy: Cluster}, nil
}

func (s ClusterSelector) cluster(set EmbeddingSet) (codec.Representative, error) {
	points, err := s.points(set)
	if err != nil {
		return codec.Representative{}, err
	}

	k := min(max(s.K, 1), set.Len())
	cl, err := KMeans(points, k, s.Seed, s.MaxIter)
	if err != nil {
		return codec.Representative{}, err
	}

	var chosen [][]float32
	for c, centroid := range cl.Centroids {
		members := cl.Members(c)
		if len(members) == 0 {
			continue
		}
		best, bestD := members[0], sqDist(points[members[0]], centroid)
		for _, m := range members[1:] {
			if d := sqDist(points[m], centroid); d < bestD {
				best, bestD = m, d
			}
		}
		chosen = append(chosen, vecmath.Clone(set.Vectors[best]))
	}

	if s.Collapse && len(chosen) > 1 {
		m, err := vecmath.Mean(chosen)
		if err != nil {
			return codec.Representative{}, err
		}
		return codec.NewSingle(m), nil
	}
	return codec.Representative{Vectors: chosen}, nil
}

func (s ClusterSelector) points(set EmbeddingSet) ([][]float64, error) {
	points := make([][]float64, set.Len())
	switch s.Space {
	case PoseSpace:
		if !set.HasPoses() {
			return nil, fmt.Errorf("pose clustering needs a pose for every embedding")
		}
		for i, p := range set.Poses {
			points[i] = []float64{p.Yaw, p.Pitch, p.Roll}
		}
	case EmbeddingSpace, "":
		for i, v := range set.Vectors {
			pt := make([]float64, len(v))
			for j, x := range v {
				pt[j] = float64(x)
			}
			points[i] = pt
		}
	default:
		return nil, fmt.Errorf("unknown cluster space %q", s.Space)
	}
	return points, nil
}

// NewSelector builds the configured selector.
func NewSelector(cfg config.AggregateConfig) (Selector, error) {
	strategy, err := ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if strategy == Mean {
		return MeanSelector{}, nil
	}
	return ClusterSelector{
		K:        cfg.ClusterCount,
		Space:    Space(cfg.ClusterSpace),
		Collapse: cfg.ClusterCollapse,
		Seed:     cfg.ClusterSeed,
		MaxIter:  cfg.ClusterMaxIter,
	}, nil
}
