// Package graphindex maintains the directed labeled association graph of
// spec §4.3: an in-memory adjacency map guarded by its own RWMutex (never
// held together with the Tier-1 writer lock, per spec §5), persisted to an
// `edges` table for crash recovery. No graph library appears anywhere in
// the retrieval pack, so the adjacency map follows the same
// RWMutex-guarded-map concurrency idiom the teacher uses for its other
// in-memory stores.
package graphindex

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/ckoons/katra/internal/katraerr"
	"github.com/ckoons/katra/internal/types"
)

// Graph is the directed labeled association graph keyed by record_id.
type Graph struct {
	mu    sync.RWMutex
	db    *sql.DB
	edges map[string][]types.Edge // src_id -> outgoing edges

	// neighbors is the undirected adjacency view driving centrality: a
	// one-way SEQUENTIAL edge still makes its destination a neighbor of
	// its source for "connections(r) counts distinct neighbors" (spec
	// §4.3), so both endpoints of every edge are registered here.
	neighbors map[string]map[string]bool

	maxConnectionsObserved int
}

// Open returns a Graph backed by db, loading any persisted edges. db is
// the same SQLite connection Tier 1 and the vector index share.
func Open(ctx context.Context, db *sql.DB) (*Graph, error) {
	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}
	g := &Graph{
		db:        db,
		edges:     make(map[string][]types.Edge),
		neighbors: make(map[string]map[string]bool),
	}
	if err := g.loadFromDB(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) loadFromDB(ctx context.Context) error {
	rows, err := g.db.QueryContext(ctx, `SELECT src_id, dst_id, label, reason, weight FROM edges`)
	if err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "load edges", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e types.Edge
		var label string
		if err := rows.Scan(&e.SrcID, &e.DstID, &label, &e.Reason, &e.Weight); err != nil {
			return katraerr.Wrap(katraerr.KindSystemFile, "scan edge", err)
		}
		e.Label = types.EdgeLabel(label)
		g.edges[e.SrcID] = append(g.edges[e.SrcID], e)
		g.registerNeighbors(e.SrcID, e.DstID)
	}
	return katraerr.Wrap(katraerr.KindSystemFile, "iterate edges", rows.Err())
}

// AddEdge inserts a single directed edge (src -> dst), rejecting
// self-edges per spec §4.3's implicit "id != R" exclusion. Idempotent:
// re-adding an identical edge does not duplicate it.
func (g *Graph) AddEdge(ctx context.Context, e types.Edge) error {
	if e.SrcID == "" || e.DstID == "" {
		return katraerr.New(katraerr.KindInputNull, "edge src_id and dst_id are required")
	}
	if e.SrcID == e.DstID {
		return katraerr.New(katraerr.KindInvariantViolation, "self-edges are not allowed")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, existing := range g.edges[e.SrcID] {
		if existing.DstID == e.DstID && existing.Label == e.Label {
			return nil // already present
		}
	}

	_, err := g.db.ExecContext(ctx, `
		INSERT INTO edges (src_id, dst_id, label, reason, weight) VALUES (?, ?, ?, ?, ?)
	`, e.SrcID, e.DstID, string(e.Label), e.Reason, e.Weight)
	if err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "persist edge", err)
	}

	g.edges[e.SrcID] = append(g.edges[e.SrcID], e)
	g.registerNeighbors(e.SrcID, e.DstID)
	return nil
}

// registerNeighbors records src and dst as each other's neighbor and
// refreshes maxConnectionsObserved for both sides. Must be called with
// g.mu held for writing.
func (g *Graph) registerNeighbors(srcID, dstID string) {
	if g.neighbors[srcID] == nil {
		g.neighbors[srcID] = make(map[string]bool)
	}
	if g.neighbors[dstID] == nil {
		g.neighbors[dstID] = make(map[string]bool)
	}
	g.neighbors[srcID][dstID] = true
	g.neighbors[dstID][srcID] = true

	for _, id := range [2]string{srcID, dstID} {
		if n := len(g.neighbors[id]); n > g.maxConnectionsObserved {
			g.maxConnectionsObserved = n
		}
	}
}

// neighborSet must be called with g.mu held (read or write).
func (g *Graph) neighborSet(recordID string) map[string]bool {
	return g.neighbors[recordID]
}

// SimilarCandidate is one similarity-search hit used to drive automatic
// SIMILAR edge creation.
type SimilarCandidate struct {
	RecordID   string
	Similarity float64
}

// ApplyAutoEdges runs spec §4.3's automatic edge-creation rules for newly
// stored record R:
//  1. For each similar candidate with similarity >= similarityThreshold
//     and id != R (capped at maxSimilarEdges candidates, by the caller),
//     insert bidirectional SIMILAR edges weighted by similarity.
//  2. If mostRecentPrior is non-nil and within temporalWindow of r's
//     timestamp, insert a single prior -> r SEQUENTIAL edge, weight 1.
func (g *Graph) ApplyAutoEdges(
	ctx context.Context,
	r *types.Record,
	similar []SimilarCandidate,
	similarityThreshold float64,
	mostRecentPriorID string,
	mostRecentPriorTimestamp time.Time,
	temporalWindow time.Duration,
) error {
	for _, c := range similar {
		if c.RecordID == r.RecordID || c.Similarity < similarityThreshold {
			continue
		}
		if err := g.AddEdge(ctx, types.Edge{
			SrcID: r.RecordID, DstID: c.RecordID, Label: types.EdgeSimilar,
			Reason: "vector similarity", Weight: c.Similarity,
		}); err != nil {
			return err
		}
		if err := g.AddEdge(ctx, types.Edge{
			SrcID: c.RecordID, DstID: r.RecordID, Label: types.EdgeSimilar,
			Reason: "vector similarity", Weight: c.Similarity,
		}); err != nil {
			return err
		}
	}

	if mostRecentPriorID != "" && mostRecentPriorID != r.RecordID && !mostRecentPriorTimestamp.IsZero() {
		if r.Timestamp.Sub(mostRecentPriorTimestamp) <= temporalWindow {
			if err := g.AddEdge(ctx, types.Edge{
				SrcID: mostRecentPriorID, DstID: r.RecordID, Label: types.EdgeSequential,
				Reason: "temporal adjacency", Weight: 1,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Neighbors returns the outgoing edges from recordID.
func (g *Graph) Neighbors(recordID string) []types.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]types.Edge, len(g.edges[recordID]))
	copy(out, g.edges[recordID])
	return out
}

// Centrality computes connections(r) / max_connections_observed, per spec
// §4.3. It is always derived on demand, never cached or persisted as an
// authoritative field (spec.md §9, Open Question (b)).
func (g *Graph) Centrality(recordID string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.maxConnectionsObserved == 0 {
		return 0
	}
	return float64(len(g.neighborSet(recordID))) / float64(g.maxConnectionsObserved)
}

// HubScore pairs a record_id with its on-demand centrality.
type HubScore struct {
	RecordID   string
	Centrality float64
}

// Hubs returns the top-n records by centrality, for metacognitive
// "what's central to my memory" queries.
func (g *Graph) Hubs(n int) []HubScore {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var hubs []HubScore
	for recordID, set := range g.neighbors {
		c := float64(len(set))
		if g.maxConnectionsObserved > 0 {
			c /= float64(g.maxConnectionsObserved)
		}
		hubs = append(hubs, HubScore{RecordID: recordID, Centrality: c})
	}
	sort.Slice(hubs, func(i, j int) bool { return hubs[i].Centrality > hubs[j].Centrality })
	if n > 0 && len(hubs) > n {
		hubs = hubs[:n]
	}
	return hubs
}
