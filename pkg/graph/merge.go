package graph

import (
	"strings"

	"github.com/OFFIS-RIT/kgqa/pkg/common"
)

// DefaultEntityType is used for entities without a usable type.
const DefaultEntityType = "Entity"

func relationKey(r common.RawRelation) string {
	return r.Source + "-" + r.Relation + "->" + r.Target
}

func entityTypeOrDefault(t string) string {
	if strings.TrimSpace(t) == "" {
		return DefaultEntityType
	}
	return t
}

// MergeResults combines per-chunk results into one. Entities are keyed by
// exact name: the first type seen wins and the first non-empty description
// is kept. Relations are keyed by the exact (source, relation, target)
// triple. With connectIslands the merged result is passed through RepairIslands.
func MergeResults(results []common.ExtractionResult, connectIslands bool) common.ExtractionResult {
	var entities []common.RawEntity
	byName := make(map[string]int)
	var relations []common.RawRelation
	seen := make(map[string]struct{})

	for _, res := range results {
		for _, e := range res.Entities {
			name := strings.TrimSpace(e.Name)
			if name == "" {
				continue
			}
			if i, ok := byName[name]; ok {
				if entities[i].Description == "" && e.Description != "" {
					entities[i].Description = e.Description
				}
				continue
			}
			byName[name] = len(entities)
			entities = append(entities, common.RawEntity{
				Name:        name,
				Type:        entityTypeOrDefault(e.Type),
				Description: e.Description,
			})
		}

		for _, r := range res.Relations {
			r = common.RawRelation{
				Source:   strings.TrimSpace(r.Source),
				Target:   strings.TrimSpace(r.Target),
				Relation: strings.TrimSpace(r.Relation),
			}
			if r.Source == "" || r.Target == "" || r.Relation == "" {
				continue
			}
			key := relationKey(r)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			relations = append(relations, r)
		}
	}

	merged := common.ExtractionResult{
		Entities:  entities,
		Relations: relations,
	}
	if connectIslands {
		merged = RepairIslands(merged)
	}
	return merged
}

// ToGraph converts a merged result into nodes and edges. Self-loops are
// skipped, relation endpoints that were never declared become nodes of type
// DefaultEntityType, and every node's degree is counted from the edges.
func ToGraph(res common.ExtractionResult) common.Graph {
	g := common.Graph{
		Entities:  make([]common.Entity, 0, len(res.Entities)),
		Relations: make([]common.Relation, 0, len(res.Relations)),
	}
	ids := make(map[string]int)

	addNode := func(name, typ, desc string) {
		ids[name] = len(g.Entities)
		g.Entities = append(g.Entities, common.Entity{
			ID:          name,
			Label:       name,
			Type:        entityTypeOrDefault(typ),
			Description: desc,
			Properties:  map[string][]string{},
		})
	}

	for _, e := range res.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		if _, ok := ids[name]; ok {
			continue
		}
		addNode(name, e.Type, e.Description)
	}

	for _, r := range res.Relations {
		src := strings.TrimSpace(r.Source)
		tgt := strings.TrimSpace(r.Target)
		if src == "" || tgt == "" || src == tgt {
			continue
		}
		if _, ok := ids[src]; !ok {
			addNode(src, DefaultEntityType, "")
		}
		if _, ok := ids[tgt]; !ok {
			addNode(tgt, DefaultEntityType, "")
		}
		g.Relations = append(g.Relations, common.Relation{
			Source: src,
			Target: tgt,
			Label:  strings.TrimSpace(r.Relation),
			Weight: 1,
		})
	}

	for _, r := range g.Relations {
		g.Entities[ids[r.Source]].Degree++
		g.Entities[ids[r.Target]].Degree++
	}

	return g
}
