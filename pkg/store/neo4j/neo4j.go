// Package neo4j implements store.GraphStore on Neo4j. Nodes carry the
// :Entity label; relationship types come from store.RelationType and the
// canonical label is kept in the relationship's label property.
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
	"github.com/OFFIS-RIT/kgqa/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	nodeBatch     = 500
	relationBatch = 500
)

type GraphStore struct {
	driver   neo4j.DriverWithContext
	database string
}

type NewGraphStoreParams struct {
	URI      string
	User     string
	Password string
	Database string
	// MaxPoolSize defaults to 50.
	MaxPoolSize int
	Timeout     time.Duration
}

// NewGraphStore connects to Neo4j, verifies connectivity and creates the
// id uniqueness constraint.
func NewGraphStore(ctx context.Context, params NewGraphStoreParams) (*GraphStore, error) {
	if params.URI == "" {
		return nil, fmt.Errorf("neo4j: uri required")
	}
	user := params.User
	if user == "" {
		user = "neo4j"
	}
	maxPool := params.MaxPoolSize
	if maxPool <= 0 {
		maxPool = 50
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(params.URI, neo4j.BasicAuth(user, params.Password, ""), func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = maxPool
		cfg.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	s := &GraphStore{driver: driver, database: params.Database}
	if _, err := neo4j.ExecuteQuery(ctx, driver,
		`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		nil, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(params.Database),
	); err != nil {
		logger.Warn("[Store] Neo4j schema init failed (continuing)", "err", err)
	}
	return s, nil
}

func (s *GraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *GraphStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

func (s *GraphStore) UpsertGraph(
	ctx context.Context,
	docID string,
	g common.Graph,
	overwrite bool,
) (store.UpsertStats, error) {
	var stats store.UpsertStats

	if overwrite {
		d, err := s.DeleteByDoc(ctx, docID)
		if err != nil {
			return stats, &store.StoreError{Op: "overwrite graph", Stats: stats, Err: err}
		}
		stats.RelationsFreed = d.Relations
		stats.NodesDetached = d.Detached
		stats.NodesRemoved = d.Nodes
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	err := store.ChunkRange(len(g.Entities), nodeBatch, func(start, end int) error {
		nodes := make([]map[string]any, 0, end-start)
		for _, e := range g.Entities[start:end] {
			props, err := json.Marshal(e.Properties)
			if err != nil {
				return err
			}
			nodes = append(nodes, map[string]any{
				"id":          e.ID,
				"label":       e.Label,
				"type":        e.Type,
				"description": e.Description,
				"properties":  string(props),
			})
		}
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (e:Entity {id: n.id})
ON CREATE SET e.label = n.label, e.type = n.type, e.description = n.description,
              e.properties_json = n.properties, e.doc_ids = [$doc]
ON MATCH SET e.description = CASE WHEN coalesce(e.description, '') = '' THEN n.description ELSE e.description END,
             e.type = CASE WHEN coalesce(e.type, 'Entity') = 'Entity' THEN n.type ELSE e.type END,
             e.doc_ids = CASE WHEN $doc IN e.doc_ids THEN e.doc_ids ELSE e.doc_ids + $doc END
`, map[string]any{"nodes": nodes, "doc": docID})
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return err
		}
		stats.Nodes += end - start
		return nil
	})
	if err != nil {
		return stats, &store.StoreError{Op: "upsert entities", Stats: stats, Err: err}
	}

	// Relationship types cannot be parameters; group by type and splice the
	// identifier, which RelationType restricts to [A-Za-z0-9_].
	byType := make(map[string][]map[string]any)
	var order []string
	for _, r := range g.Relations {
		t := store.RelationType(r.Label)
		if _, ok := byType[t]; !ok {
			order = append(order, t)
		}
		weight := r.Weight
		if weight == 0 {
			weight = 1
		}
		byType[t] = append(byType[t], map[string]any{
			"source": r.Source,
			"target": r.Target,
			"label":  r.Label,
			"weight": weight,
		})
	}
	for _, t := range order {
		rels := byType[t]
		err := store.ChunkRange(len(rels), relationBatch, func(start, end int) error {
			created, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
				res, err := tx.Run(ctx, fmt.Sprintf(`
UNWIND $rels AS r
MATCH (a:Entity {id: r.source})
MATCH (b:Entity {id: r.target})
MERGE (a)-[rel:%s {label: r.label, doc_id: $doc}]->(b)
ON CREATE SET rel.weight = r.weight
`, t), map[string]any{"rels": rels[start:end], "doc": docID})
				if err != nil {
					return nil, err
				}
				summary, err := res.Consume(ctx)
				if err != nil {
					return nil, err
				}
				return summary.Counters().RelationshipsCreated(), nil
			})
			if err != nil {
				return err
			}
			stats.Relations += created.(int)
			return nil
		})
		if err != nil {
			return stats, &store.StoreError{Op: "upsert relations", Stats: stats, Err: err}
		}
	}
	logger.Debug("[Store] Neo4j graph upserted", "doc", docID, "nodes", stats.Nodes, "relations", stats.Relations)
	return stats, nil
}

const nodeProjection = `{id: n.id, label: n.label, type: n.type, description: n.description,
	properties: n.properties_json, doc_ids: n.doc_ids, degree: size([(n)--() | 1])}`

func (s *GraphStore) QueryNeighborhood(ctx context.Context, nodeID string, hops int) (common.Graph, error) {
	if hops < 1 {
		hops = 1
	}
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(`
MATCH (s:Entity {id: $id})
OPTIONAL MATCH (s)-[*1..%d]-(m:Entity)
WITH s, collect(DISTINCT m) AS ms
UNWIND [s] + ms AS n
WITH DISTINCT n
RETURN %s AS node
`, hops, nodeProjection), map[string]any{"id": nodeID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		var g common.Graph
		ids := make([]string, 0, len(records))
		for _, rec := range records {
			e, err := entityFromRecord(rec, "node")
			if err != nil {
				return nil, err
			}
			g.Entities = append(g.Entities, e)
			ids = append(ids, e.ID)
		}
		if len(ids) == 0 {
			return g, nil
		}

		res, err = tx.Run(ctx, `
MATCH (a:Entity)-[r]->(b:Entity)
WHERE a.id IN $ids AND b.id IN $ids
RETURN a.id AS source, b.id AS target, r.label AS label, r.weight AS weight, r.doc_id AS doc_id
`, map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		records, err = res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			g.Relations = append(g.Relations, relationFromRecord(rec))
		}
		return g, nil
	})
	if err != nil {
		return common.Graph{}, fmt.Errorf("neighborhood of %s: %w", nodeID, err)
	}
	return out.(common.Graph), nil
}

func (s *GraphStore) GetNode(ctx context.Context, id string) (*common.Entity, error) {
	res, err := neo4j.ExecuteQuery(ctx, s.driver,
		`MATCH (n:Entity {id: $id}) RETURN `+nodeProjection+` AS node`,
		map[string]any{"id": id}, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database), neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, nil
	}
	e, err := entityFromRecord(res.Records[0], "node")
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *GraphStore) FindNodes(ctx context.Context, mention string, limit int) ([]common.Entity, error) {
	if mention == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	res, err := neo4j.ExecuteQuery(ctx, s.driver, `
MATCH (n:Entity)
WHERE n.id CONTAINS $m OR $m CONTAINS n.id
WITH n, size([(n)--() | 1]) AS degree
ORDER BY degree DESC, n.id
LIMIT $limit
RETURN `+nodeProjection+` AS node`,
		map[string]any{"m": mention, "limit": limit}, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database), neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, err
	}
	out := make([]common.Entity, 0, len(res.Records))
	for _, rec := range res.Records {
		e, err := entityFromRecord(rec, "node")
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *GraphStore) DeleteByDoc(ctx context.Context, docID string) (store.DeleteStats, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var stats store.DeleteStats

		res, err := tx.Run(ctx, `MATCH ()-[r {doc_id: $doc}]->() DELETE r`, map[string]any{"doc": docID})
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		stats.Relations = summary.Counters().RelationshipsDeleted()

		res, err = tx.Run(ctx, `
MATCH (n:Entity) WHERE $doc IN n.doc_ids
SET n.doc_ids = [d IN n.doc_ids WHERE d <> $doc]
RETURN count(n) AS detached`, map[string]any{"doc": docID})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		detached, _, err := neo4j.GetRecordValue[int64](rec, "detached")
		if err != nil {
			return nil, err
		}
		stats.Detached = int(detached)

		res, err = tx.Run(ctx, `
MATCH (n:Entity) WHERE size(n.doc_ids) = 0
DETACH DELETE n`, nil)
		if err != nil {
			return nil, err
		}
		summary, err = res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		stats.Nodes = summary.Counters().NodesDeleted()
		stats.Relations += summary.Counters().RelationshipsDeleted()
		return stats, nil
	})
	if err != nil {
		return store.DeleteStats{}, err
	}
	return out.(store.DeleteStats), nil
}

func (s *GraphStore) Stats(ctx context.Context) (store.GraphStats, error) {
	res, err := neo4j.ExecuteQuery(ctx, s.driver, `
MATCH (n:Entity)
WITH count(n) AS nodes
OPTIONAL MATCH (:Entity)-[r]->(:Entity)
RETURN nodes, count(r) AS relations`,
		nil, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database), neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return store.GraphStats{}, err
	}
	if len(res.Records) == 0 {
		return store.GraphStats{}, nil
	}
	nodes, _, _ := neo4j.GetRecordValue[int64](res.Records[0], "nodes")
	rels, _, _ := neo4j.GetRecordValue[int64](res.Records[0], "relations")
	return store.GraphStats{Nodes: int(nodes), Relations: int(rels)}, nil
}

func entityFromRecord(rec *neo4j.Record, key string) (common.Entity, error) {
	raw, ok := rec.Get(key)
	if !ok {
		return common.Entity{}, fmt.Errorf("record has no %q", key)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return common.Entity{}, fmt.Errorf("unexpected %q value %T", key, raw)
	}
	return entityFromMap(m)
}

func entityFromMap(m map[string]any) (common.Entity, error) {
	e := common.Entity{
		ID:          asString(m["id"]),
		Label:       asString(m["label"]),
		Type:        asString(m["type"]),
		Description: asString(m["description"]),
		Degree:      int(asInt(m["degree"])),
		Properties:  map[string][]string{},
	}
	if e.Label == "" {
		e.Label = e.ID
	}
	if raw := asString(m["properties"]); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &e.Properties); err != nil {
			return e, fmt.Errorf("decode properties of %s: %w", e.ID, err)
		}
	}
	if docs, ok := m["doc_ids"].([]any); ok {
		for _, d := range docs {
			e.DocIDs = append(e.DocIDs, asString(d))
		}
	}
	return e, nil
}

func relationFromRecord(rec *neo4j.Record) common.Relation {
	get := func(k string) any {
		v, _ := rec.Get(k)
		return v
	}
	r := common.Relation{
		Source: asString(get("source")),
		Target: asString(get("target")),
		Label:  asString(get("label")),
		DocID:  asString(get("doc_id")),
	}
	switch w := get("weight").(type) {
	case float64:
		r.Weight = w
	case int64:
		r.Weight = float64(w)
	default:
		r.Weight = 1
	}
	return r
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
