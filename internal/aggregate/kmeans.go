package aggregate

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

var (
	// ErrTooFewPoints means there are fewer distinct points than clusters.
	ErrTooFewPoints = errors.New("fewer distinct points than clusters")
	// ErrEmptyInput means KMeans was called with no points.
	ErrEmptyInput = errors.New("no points to cluster")
)

// Clustering is the result of one KMeans run.
type Clustering struct {
	Centroids  [][]float64
	Assign     []int // cluster index per point
	Iterations int
}

// Members returns the point indices assigned to cluster c.
func (cl Clustering) Members(c int) []int {
	var out []int
	for i, a := range cl.Assign {
		if a == c {
			out = append(out, i)
		}
	}
	return out
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func distinctCount(points [][]float64, limit int) int {
	var seen [][]float64
outer:
	for _, p := range points {
		for _, q := range seen {
			if sqDist(p, q) == 0 {
				continue outer
			}
		}
		seen = append(seen, p)
		if len(seen) >= limit {
			break
		}
	}
	return len(seen)
}

// KMeans partitions points into k clusters using Lloyd's algorithm with
// k-means++ seeding. The same seed always yields the same clustering.
func KMeans(points [][]float64, k int, seed int64, maxIter int) (Clustering, error) {
	if len(points) == 0 {
		return Clustering{}, ErrEmptyInput
	}
	if k < 1 {
		return Clustering{}, fmt.Errorf("k must be >= 1, got %d", k)
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return Clustering{}, fmt.Errorf("point %d has dim %d, want %d", i, len(p), dim)
		}
	}
	if n := distinctCount(points, k); n < k {
		return Clustering{}, fmt.Errorf("%w: %d distinct, k=%d", ErrTooFewPoints, n, k)
	}
	if maxIter < 1 {
		maxIter = 100
	}

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	centroids := seedPlusPlus(points, k, rng)
	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}

	iter := 0
	for iter < maxIter {
		iter++
		changed := false
		for i, p := range points {
			best, bestD := 0, sqDist(p, centroids[0])
			for c := 1; c < k; c++ {
				if d := sqDist(p, centroids[c]); d < bestD {
					best, bestD = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			c := assign[i]
			counts[c]++
			for j, x := range p {
				sums[c][j] += x
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Re-seed an empty cluster with the point farthest from its centroid.
				far := farthest(points, centroids, assign)
				centroids[c] = clone64(points[far])
				assign[far] = c
				continue
			}
			for j := range sums[c] {
				sums[c][j] /= float64(counts[c])
			}
			centroids[c] = sums[c]
		}
	}

	return Clustering{Centroids: centroids, Assign: assign, Iterations: iter}, nil
}

func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone64(points[rng.IntN(len(points))]))

	dists := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			d := sqDist(p, centroids[0])
			for _, c := range centroids[1:] {
				d = min(d, sqDist(p, c))
			}
			dists[i] = d
			total += d
		}

		// total > 0 because there are at least k distinct points.
		target := rng.Float64() * total
		pick := len(points) - 1
		for i, d := range dists {
			if d == 0 {
				continue
			}
			target -= d
			if target <= 0 {
				pick = i
				break
			}
		}
		for dists[pick] == 0 {
			pick--
		}
		centroids = append(centroids, clone64(points[pick]))
	}
	return centroids
}

func farthest(points, centroids [][]float64, assign []int) int {
	best, bestD := 0, -1.0
	for i, p := range points {
		if d := sqDist(p, centroids[assign[i]]); d > bestD {
			best, bestD = i, d
		}
	}
	return best
}

func clone64(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
