// Package index supports 1:N identification: an HNSW graph over every
// representative vector narrows the candidates, then each candidate is
// rescored exactly.
package index

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/andresmejia3/faceauth/internal/codec"
	"github.com/andresmejia3/faceauth/internal/logger"
	"github.com/andresmejia3/faceauth/internal/matcher"
	"github.com/andresmejia3/faceauth/internal/store"
	"github.com/andresmejia3/faceauth/internal/vecmath"
	"github.com/coder/hnsw"
	"go.uber.org/zap"
)

const (
	// MaxNeighbors (M) is the maximum number of neighbors per node.
	MaxNeighbors = 16
	// EfSearch is the search candidate pool size.
	EfSearch = 100
	// SearchMultiplier widens the ANN query because several nodes can
	// belong to one identity.
	SearchMultiplier = 3
)

// ErrDimensionMismatch is returned when a representative's dimension
// differs from the vectors already indexed.
var ErrDimensionMismatch = errors.New("representative dimension differs from index")

// Candidate is one identity returned by Search.
type Candidate struct {
	UserID string
	Match  matcher.Match
}

// Index maps node keys "userID#k" to the k-th vector of that user.
// reps is authoritative; the graph is only ever appended to and is
// rebuilt from reps after a replace or remove.
type Index struct {
	mu    sync.Mutex
	graph *hnsw.Graph[string]
	dirty bool
	reps  map[string]codec.Representative
	dim   int
}

func New() *Index {
	return &Index{reps: make(map[string]codec.Representative)}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = MaxNeighbors
	g.Ml = 1.0 / float64(MaxNeighbors) // Standard HNSW formula
	g.EfSearch = EfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

func nodeKey(userID string, k int) string {
	return userID + "#" + strconv.Itoa(k)
}

func userOf(key string) string {
	if i := strings.LastIndexByte(key, '#'); i >= 0 {
		return key[:i]
	}
	return key
}

// Add indexes rep under userID, replacing any previous representative.
// Vectors with a zero or non-finite norm are skipped; they can never match.
func (ix *Index) Add(userID string, rep codec.Representative) error {
	if err := rep.Validate(); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dim != 0 && rep.Dim() != ix.dim {
		return fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, rep.Dim(), ix.dim)
	}
	if ix.removeLocked(userID) || ix.graph == nil {
		ix.dirty = true
	}
	ix.reps[userID] = rep
	ix.dim = rep.Dim()
	if !ix.dirty {
		addNodes(ix.graph, userID, rep)
	}
	return nil
}

func addNodes(g *hnsw.Graph[string], userID string, rep codec.Representative) {
	for k, v := range rep.Vectors {
		if !vecmath.Usable(v) {
			continue
		}
		g.Add(hnsw.MakeNode(nodeKey(userID, k), vecmath.Clone(v)))
	}
}

// rebuildLocked recreates the graph from reps. hnsw deletes leave
// dangling layer links that break later inserts, so nodes are never
// deleted in place.
func (ix *Index) rebuildLocked() {
	g := newGraph()
	ids := make([]string, 0, len(ix.reps))
	for id := range ix.reps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		addNodes(g, id, ix.reps[id])
	}
	ix.graph = g
	ix.dirty = false
}

// Remove drops userID from the index. It reports whether it was present.
func (ix *Index) Remove(userID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.removeLocked(userID)
}

func (ix *Index) removeLocked(userID string) bool {
	if _, ok := ix.reps[userID]; !ok {
		return false
	}
	delete(ix.reps, userID)
	ix.dirty = true
	return true
}

// Len returns the number of indexed identities.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.reps)
}

// Search returns up to k identities ordered by descending exact score.
func (ix *Index) Search(probe []float32, k int) ([]Candidate, error) {
	if !vecmath.Usable(probe) {
		return nil, &matcher.DegenerateVectorError{Which: "probe", Index: -1}
	}
	if k < 1 {
		k = 1
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(ix.reps) == 0 {
		return nil, nil
	}
	if ix.dirty || ix.graph == nil {
		ix.rebuildLocked()
	}
	if ix.graph.Len() == 0 {
		return nil, nil
	}
	if len(probe) != ix.dim {
		return nil, fmt.Errorf("%w: probe %d vs %d", ErrDimensionMismatch, len(probe), ix.dim)
	}

	neighbors := ix.graph.Search(probe, k*SearchMultiplier)

	seen := make(map[string]bool, len(neighbors))
	var out []Candidate
	for _, n := range neighbors {
		uid := userOf(n.Key)
		if seen[uid] {
			continue
		}
		seen[uid] = true

		m, err := matcher.Best(probe, ix.reps[uid].Vectors)
		if err != nil {
			var dv *matcher.DegenerateVectorError
			if errors.As(err, &dv) {
				continue // a degenerate stored vector fails only its own comparison
			}
			return nil, err
		}
		out = append(out, Candidate{UserID: uid, Match: m})
	}

	slices.SortFunc(out, func(a, b Candidate) int {
		switch {
		case a.Match.Score > b.Match.Score:
			return -1
		case a.Match.Score < b.Match.Score:
			return 1
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// BuildReport summarizes a Build.
type BuildReport struct {
	Indexed int
	Skipped int // records that failed to decode or index
}

// Build decodes every stored record and indexes it. Records that fail to
// decode are logged and skipped so one corrupt row cannot take
// identification down.
func Build(ctx context.Context, st store.Store, c *codec.Codec) (*Index, BuildReport, error) {
	recs, err := st.List(ctx)
	if err != nil {
		return nil, BuildReport{}, err
	}

	ix := New()
	var report BuildReport
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}
		rep, err := c.Decode(rec.Blob)
		if err == nil {
			err = ix.Add(rec.UserID, rep)
		}
		if err != nil {
			report.Skipped++
			logger.Warn("skipping identity in index", zap.String("user_id", rec.UserID), zap.Error(err))
			continue
		}
		report.Indexed++
	}
	return ix, report, nil
}
