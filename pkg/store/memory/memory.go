// Package memory keeps the graph and the vector index in process. It backs
// tests and single-process local runs.
package memory

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/store"
)

type node struct {
	entity common.Entity
	docs   map[string]struct{}
}

type Store struct {
	mu        sync.RWMutex
	nodes     map[string]*node
	relations []common.Relation
	relKeys   map[string]struct{}
	passages  map[string]store.PassageVector
	entities  map[string]store.EntityVector
}

// New returns an empty store usable as both store.GraphStore and
// store.VectorStore.
func New() *Store {
	return &Store{
		nodes:    make(map[string]*node),
		relKeys:  make(map[string]struct{}),
		passages: make(map[string]store.PassageVector),
		entities: make(map[string]store.EntityVector),
	}
}

func (s *Store) UpsertGraph(ctx context.Context, docID string, g common.Graph, overwrite bool) (store.UpsertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats store.UpsertStats
	if overwrite {
		d := s.deleteDocLocked(docID)
		stats.RelationsFreed = d.Relations
		stats.NodesDetached = d.Detached
		stats.NodesRemoved = d.Nodes
	}

	for _, e := range g.Entities {
		n, ok := s.nodes[e.ID]
		if !ok {
			n = &node{entity: e, docs: make(map[string]struct{})}
			n.entity.Properties = cloneProperties(e.Properties)
			s.nodes[e.ID] = n
		} else {
			if n.entity.Description == "" {
				n.entity.Description = e.Description
			}
			if n.entity.Type == "" || n.entity.Type == "Entity" {
				n.entity.Type = e.Type
			}
			n.entity.Properties = mergeProperties(n.entity.Properties, e.Properties)
		}
		n.docs[docID] = struct{}{}
		for _, d := range e.DocIDs {
			n.docs[d] = struct{}{}
		}
		stats.Nodes++
	}

	for _, r := range g.Relations {
		if r.Source == r.Target || s.nodes[r.Source] == nil || s.nodes[r.Target] == nil {
			continue
		}
		r.DocID = docID
		key := relationKey(r)
		if _, ok := s.relKeys[key]; ok {
			continue
		}
		s.relKeys[key] = struct{}{}
		s.relations = append(s.relations, r)
		stats.Relations++
	}
	return stats, nil
}

func (s *Store) QueryNeighborhood(ctx context.Context, nodeID string, hops int) (common.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.nodes[nodeID] == nil {
		return common.Graph{}, nil
	}
	if hops < 1 {
		hops = 1
	}

	adj := make(map[string][]int)
	for i, r := range s.relations {
		adj[r.Source] = append(adj[r.Source], i)
		adj[r.Target] = append(adj[r.Target], i)
	}

	visited := map[string]struct{}{nodeID: {}}
	order := []string{nodeID}
	frontier := []string{nodeID}
	for range hops {
		var next []string
		for _, id := range frontier {
			for _, ei := range adj[id] {
				r := s.relations[ei]
				other := r.Target
				if other == id {
					other = r.Source
				}
				if _, ok := visited[other]; ok {
					continue
				}
				visited[other] = struct{}{}
				order = append(order, other)
				next = append(next, other)
			}
		}
		frontier = next
	}

	var out common.Graph
	for _, id := range order {
		out.Entities = append(out.Entities, s.entityLocked(id))
	}
	for _, r := range s.relations {
		_, src := visited[r.Source]
		_, tgt := visited[r.Target]
		if src && tgt {
			out.Relations = append(out.Relations, r)
		}
	}
	return out, nil
}

func (s *Store) GetNode(ctx context.Context, id string) (*common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.nodes[id] == nil {
		return nil, nil
	}
	e := s.entityLocked(id)
	return &e, nil
}

func (s *Store) FindNodes(ctx context.Context, mention string, limit int) ([]common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if mention == "" {
		return nil, nil
	}
	var out []common.Entity
	for id := range s.nodes {
		if strings.Contains(id, mention) || strings.Contains(mention, id) {
			out = append(out, s.entityLocked(id))
		}
	}
	slices.SortFunc(out, func(a, b common.Entity) int {
		if c := cmp.Compare(b.Degree, a.Degree); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteByDoc(ctx context.Context, docID string) (store.DeleteStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteDocLocked(docID), nil
}

func (s *Store) DeleteVectors(ctx context.Context, docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, p := range s.passages {
		if p.DocID == docID {
			delete(s.passages, id)
			n++
		}
	}
	for id, e := range s.entities {
		if e.DocID == docID {
			delete(s.entities, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Stats(ctx context.Context) (store.GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.GraphStats{Nodes: len(s.nodes), Relations: len(s.relations)}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return nil
}

func relationKey(r common.Relation) string {
	return r.Source + "\x00" + r.Label + "\x00" + r.Target + "\x00" + r.DocID
}

func (s *Store) deleteDocLocked(docID string) store.DeleteStats {
	var stats store.DeleteStats
	kept := s.relations[:0]
	for _, r := range s.relations {
		if r.DocID == docID {
			delete(s.relKeys, relationKey(r))
			stats.Relations++
			continue
		}
		kept = append(kept, r)
	}
	s.relations = kept

	for id, n := range s.nodes {
		if _, ok := n.docs[docID]; !ok {
			continue
		}
		delete(n.docs, docID)
		stats.Detached++
		if len(n.docs) == 0 {
			delete(s.nodes, id)
			stats.Nodes++
		}
	}

	// Relations left pointing at removed nodes belong to other documents
	// that never declared the node; drop them with the node.
	kept = s.relations[:0]
	for _, r := range s.relations {
		if s.nodes[r.Source] == nil || s.nodes[r.Target] == nil {
			delete(s.relKeys, relationKey(r))
			stats.Relations++
			continue
		}
		kept = append(kept, r)
	}
	s.relations = kept
	return stats
}

// entityLocked returns a copy of the node with its degree counted over the
// stored relations.
func (s *Store) entityLocked(id string) common.Entity {
	n := s.nodes[id]
	e := n.entity
	e.Properties = cloneProperties(n.entity.Properties)
	e.DocIDs = make([]string, 0, len(n.docs))
	for d := range n.docs {
		e.DocIDs = append(e.DocIDs, d)
	}
	slices.Sort(e.DocIDs)
	e.Degree = 0
	for _, r := range s.relations {
		if r.Source == id || r.Target == id {
			e.Degree++
		}
	}
	return e
}

func (s *Store) UpsertPassages(ctx context.Context, passages []store.PassageVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range passages {
		s.passages[p.ID] = p
	}
	return nil
}

func (s *Store) UpsertEntities(ctx context.Context, entities []store.EntityVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		s.entities[e.ID] = e
	}
	return nil
}

func (s *Store) SearchPassages(ctx context.Context, embedding []float32, topK int, docID string) ([]common.Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.Passage
	for _, p := range s.passages {
		if docID != "" && p.DocID != docID {
			continue
		}
		out = append(out, common.Passage{
			ID:         p.ID,
			DocID:      p.DocID,
			ChunkIndex: p.ChunkIndex,
			Text:       p.Text,
			Score:      cosine(embedding, p.Embedding),
		})
	}
	slices.SortFunc(out, func(a, b common.Passage) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return limit(out, topK), nil
}

func (s *Store) SearchEntities(ctx context.Context, embedding []float32, topK int) ([]common.EntityMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.EntityMatch
	for _, e := range s.entities {
		out = append(out, common.EntityMatch{
			ID:          e.EntityID,
			DocID:       e.DocID,
			Label:       e.Label,
			Type:        e.Type,
			Description: e.Description,
			Score:       cosine(embedding, e.Embedding),
		})
	}
	slices.SortFunc(out, func(a, b common.EntityMatch) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return limit(out, topK), nil
}

func (s *Store) Count(ctx context.Context, docID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.passages {
		if docID == "" || p.DocID == docID {
			n++
		}
	}
	return n, nil
}

func limit[T any](in []T, k int) []T {
	if k > 0 && len(in) > k {
		return in[:k]
	}
	return in
}

// cosine returns the cosine similarity of a and b, 0 when either is zero
// or their lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func cloneProperties(p map[string][]string) map[string][]string {
	out := make(map[string][]string, len(p))
	for k, v := range p {
		out[k] = slices.Clone(v)
	}
	return out
}

func mergeProperties(dst, src map[string][]string) map[string][]string {
	if dst == nil {
		dst = make(map[string][]string)
	}
	for k, vs := range src {
		for _, v := range vs {
			if !slices.Contains(dst[k], v) {
				dst[k] = append(dst[k], v)
			}
		}
	}
	return dst
}
