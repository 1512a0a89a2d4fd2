package graph

import (
	"sort"

	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
)

const (
	// IslandRelation links an island to a main-component node of the same type.
	IslandRelation = "相关"
	// IslandFallbackRelation links an island to the most connected main node.
	IslandFallbackRelation = "提及"

	coreNodeCount = 3
)

// unionFind is an array-backed disjoint set with path compression and
// union by rank.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range u.parent {
		u.parent[i] = i
	}
	return u
}

func (u *unionFind) find(x int) int {
	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[x] != root {
		next := u.parent[x]
		u.parent[x] = root
		x = next
	}
	return root
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}

// components groups the declared entity names into connected components.
// Components are ordered by size, largest first; ties keep the order in
// which their first node was declared. Nodes inside a component keep
// declaration order.
func components(names []string, relations []common.RawRelation) [][]string {
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}

	uf := newUnionFind(len(names))
	for _, r := range relations {
		s, okS := index[r.Source]
		t, okT := index[r.Target]
		if okS && okT {
			uf.union(s, t)
		}
	}

	byRoot := make(map[int]int)
	var comps [][]string
	for i, n := range names {
		root := uf.find(i)
		ci, ok := byRoot[root]
		if !ok {
			ci = len(comps)
			byRoot[root] = ci
			comps = append(comps, nil)
		}
		comps[ci] = append(comps[ci], n)
	}

	sort.SliceStable(comps, func(i, j int) bool {
		return len(comps[i]) > len(comps[j])
	})
	return comps
}

func relationDegrees(relations []common.RawRelation) map[string]int {
	deg := make(map[string]int)
	for _, r := range relations {
		deg[r.Source]++
		deg[r.Target]++
	}
	return deg
}

func byDegree(nodes []string, deg map[string]int) []string {
	out := append([]string(nil), nodes...)
	sort.SliceStable(out, func(i, j int) bool {
		return deg[out[i]] > deg[out[j]]
	})
	return out
}

// RepairIslands connects every component other than the largest one to the
// largest component. The island's highest-degree node is linked to the first
// of the main component's three highest-degree nodes with the same type
// (IslandRelation), or else to the single highest-degree main node
// (IslandFallbackRelation). Synthetic relations never duplicate an existing
// source-relation-target key.
func RepairIslands(res common.ExtractionResult) common.ExtractionResult {
	names := make([]string, 0, len(res.Entities))
	types := make(map[string]string, len(res.Entities))
	for _, e := range res.Entities {
		if _, ok := types[e.Name]; ok {
			continue
		}
		names = append(names, e.Name)
		types[e.Name] = entityTypeOrDefault(e.Type)
	}
	if len(names) == 0 {
		return res
	}

	comps := components(names, res.Relations)
	if len(comps) <= 1 {
		return res
	}

	deg := relationDegrees(res.Relations)
	core := byDegree(comps[0], deg)
	if len(core) > coreNodeCount {
		core = core[:coreNodeCount]
	}

	seen := make(map[string]struct{}, len(res.Relations))
	for _, r := range res.Relations {
		seen[relationKey(r)] = struct{}{}
	}

	relations := append([]common.RawRelation(nil), res.Relations...)
	add := func(r common.RawRelation) bool {
		key := relationKey(r)
		if _, ok := seen[key]; ok {
			return false
		}
		seen[key] = struct{}{}
		relations = append(relations, r)
		return true
	}

	added := 0
	for _, island := range comps[1:] {
		connector := byDegree(island, deg)[0]

		connected := false
		for _, c := range core {
			if types[c] != types[connector] {
				continue
			}
			if add(common.RawRelation{Source: connector, Target: c, Relation: IslandRelation}) {
				connected = true
				added++
				break
			}
		}
		if connected {
			continue
		}
		if add(common.RawRelation{Source: connector, Target: core[0], Relation: IslandFallbackRelation}) {
			added++
		}
	}

	logger.Debug("[Graph] Connected islands",
		"components", len(comps), "core", core, "relations_added", added)

	return common.ExtractionResult{
		Entities:  res.Entities,
		Relations: relations,
	}
}
