package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kgqa/internal/util"
	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
	"github.com/OFFIS-RIT/kgqa/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const upsertEntitySQL = `
INSERT INTO kg_entities (id, label, type, description, properties, doc_ids)
VALUES ($1, $2, $3, $4, $5, ARRAY[$6]::text[])
ON CONFLICT (id) DO UPDATE
SET description = CASE WHEN kg_entities.description = '' THEN EXCLUDED.description ELSE kg_entities.description END,
    type        = CASE WHEN kg_entities.type IN ('', 'Entity') THEN EXCLUDED.type ELSE kg_entities.type END,
    properties  = EXCLUDED.properties || kg_entities.properties,
    doc_ids     = ARRAY(SELECT DISTINCT d FROM unnest(kg_entities.doc_ids || EXCLUDED.doc_ids) AS d ORDER BY d);
`

const insertRelationSQL = `
INSERT INTO kg_relations (source, target, label, weight, doc_id)
SELECT $1, $2, $3, $4, $5
WHERE EXISTS (SELECT 1 FROM kg_entities WHERE id = $1)
  AND EXISTS (SELECT 1 FROM kg_entities WHERE id = $2)
ON CONFLICT (source, target, label, doc_id) DO NOTHING;
`

const neighborhoodSQL = `
WITH RECURSIVE walk(id, depth) AS (
    SELECT $1::text, 0
    UNION
    SELECT CASE WHEN r.source = w.id THEN r.target ELSE r.source END, w.depth + 1
    FROM walk w
    JOIN kg_relations r ON r.source = w.id OR r.target = w.id
    WHERE w.depth < $2
)
SELECT id, MIN(depth) AS depth FROM walk GROUP BY id ORDER BY depth, id;
`

const entityColumns = `
SELECT e.id, e.label, e.type, e.description, e.properties, e.doc_ids,
       (SELECT count(*) FROM kg_relations r WHERE r.source = e.id OR r.target = e.id) AS degree
FROM kg_entities e
`

func (s *GraphDBStorage) UpsertGraph(
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

	err := store.ChunkRange(len(g.Entities), entityBatch, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, e := range g.Entities[start:end] {
			props, err := json.Marshal(propertiesOrEmpty(e.Properties))
			if err != nil {
				return err
			}
			batch.Queue(
				upsertEntitySQL,
				util.SanitizePostgresText(e.ID),
				util.SanitizePostgresText(e.Label),
				e.Type,
				util.SanitizePostgresText(e.Description),
				props,
				docID,
			)
		}
		if err := s.sendBatch(ctx, batch); err != nil {
			return err
		}
		stats.Nodes += end - start
		logger.Debug("[Store] Upserted entities", "doc", docID, "count", end-start)
		return nil
	})
	if err != nil {
		return stats, &store.StoreError{Op: "upsert entities", Stats: stats, Err: err}
	}

	err = store.ChunkRange(len(g.Relations), relationBatch, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, r := range g.Relations[start:end] {
			weight := r.Weight
			if weight == 0 {
				weight = 1
			}
			batch.Queue(
				insertRelationSQL,
				util.SanitizePostgresText(r.Source),
				util.SanitizePostgresText(r.Target),
				r.Label,
				weight,
				docID,
			)
		}
		n, err := s.sendBatchCount(ctx, batch)
		stats.Relations += n
		return err
	})
	if err != nil {
		return stats, &store.StoreError{Op: "upsert relations", Stats: stats, Err: err}
	}
	return stats, nil
}

func (s *GraphDBStorage) sendBatch(ctx context.Context, batch *pgxv5.Batch) error {
	_, err := s.sendBatchCount(ctx, batch)
	return err
}

// sendBatchCount runs batch in one transaction and returns the number of
// affected rows.
func (s *GraphDBStorage) sendBatchCount(ctx context.Context, batch *pgxv5.Batch) (int, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	affected := 0
	for range batch.Len() {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, err
		}
		affected += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *GraphDBStorage) QueryNeighborhood(ctx context.Context, nodeID string, hops int) (common.Graph, error) {
	if hops < 1 {
		hops = 1
	}

	rows, err := s.conn.Query(ctx, neighborhoodSQL, nodeID, hops)
	if err != nil {
		return common.Graph{}, fmt.Errorf("neighborhood of %s: %w", nodeID, err)
	}
	type reached struct {
		id    string
		depth int
	}
	found, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (reached, error) {
		var r reached
		err := row.Scan(&r.id, &r.depth)
		return r, err
	})
	if err != nil {
		return common.Graph{}, err
	}

	ids := make([]string, 0, len(found))
	for _, r := range found {
		ids = append(ids, r.id)
	}

	entities, err := s.entitiesByID(ctx, ids)
	if err != nil {
		return common.Graph{}, err
	}
	if len(entities) == 0 {
		return common.Graph{}, nil
	}

	rows, err = s.conn.Query(ctx, `
SELECT source, target, label, weight, doc_id FROM kg_relations
WHERE source = ANY($1) AND target = ANY($1)
ORDER BY id`, ids)
	if err != nil {
		return common.Graph{}, err
	}
	relations, err := pgxv5.CollectRows(rows, scanRelation)
	if err != nil {
		return common.Graph{}, err
	}
	return common.Graph{Entities: entities, Relations: relations}, nil
}

func (s *GraphDBStorage) GetNode(ctx context.Context, id string) (*common.Entity, error) {
	row, err := s.conn.Query(ctx, entityColumns+"WHERE e.id = $1", id)
	if err != nil {
		return nil, err
	}
	e, err := pgxv5.CollectExactlyOneRow(row, scanEntity)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *GraphDBStorage) FindNodes(ctx context.Context, mention string, limit int) ([]common.Entity, error) {
	if mention == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.conn.Query(ctx, `
SELECT * FROM (`+entityColumns+`
WHERE strpos(e.id, $1) > 0 OR strpos($1, e.id) > 0
) AS m ORDER BY degree DESC, id LIMIT $2`, mention, limit)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, scanEntity)
}

// DeleteByDoc removes the document's relations, detaches it from its
// entities and deletes entities no document references anymore.
func (s *GraphDBStorage) DeleteByDoc(ctx context.Context, docID string) (store.DeleteStats, error) {
	var stats store.DeleteStats

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM kg_relations WHERE doc_id = $1`, docID)
	if err != nil {
		return stats, err
	}
	stats.Relations = int(tag.RowsAffected())

	tag, err = tx.Exec(ctx, `
UPDATE kg_entities SET doc_ids = array_remove(doc_ids, $1)
WHERE $1 = ANY(doc_ids)`, docID)
	if err != nil {
		return stats, err
	}
	stats.Detached = int(tag.RowsAffected())

	tag, err = tx.Exec(ctx, `
DELETE FROM kg_relations
WHERE source IN (SELECT id FROM kg_entities WHERE cardinality(doc_ids) = 0)
   OR target IN (SELECT id FROM kg_entities WHERE cardinality(doc_ids) = 0)`)
	if err != nil {
		return stats, err
	}
	stats.Relations += int(tag.RowsAffected())

	tag, err = tx.Exec(ctx, `DELETE FROM kg_entities WHERE cardinality(doc_ids) = 0`)
	if err != nil {
		return stats, err
	}
	stats.Nodes = int(tag.RowsAffected())

	if err := tx.Commit(ctx); err != nil {
		return stats, err
	}
	logger.Debug("[Store] Deleted document graph", "doc", docID, "relations", stats.Relations, "nodes", stats.Nodes)
	return stats, nil
}

func (s *GraphDBStorage) Stats(ctx context.Context) (store.GraphStats, error) {
	var stats store.GraphStats
	err := s.conn.QueryRow(ctx, `
SELECT (SELECT count(*) FROM kg_entities), (SELECT count(*) FROM kg_relations)`).
		Scan(&stats.Nodes, &stats.Relations)
	return stats, err
}

// Close is a no-op; the pool is owned by the caller.
func (s *GraphDBStorage) Close(ctx context.Context) error {
	return nil
}

func (s *GraphDBStorage) entitiesByID(ctx context.Context, ids []string) ([]common.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, entityColumns+"WHERE e.id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	found, err := pgxv5.CollectRows(rows, scanEntity)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]common.Entity, len(found))
	for _, e := range found {
		byID[e.ID] = e
	}
	out := make([]common.Entity, 0, len(found))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func scanEntity(row pgxv5.CollectableRow) (common.Entity, error) {
	var e common.Entity
	var props []byte
	if err := row.Scan(&e.ID, &e.Label, &e.Type, &e.Description, &props, &e.DocIDs, &e.Degree); err != nil {
		return e, err
	}
	e.Properties = map[string][]string{}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &e.Properties); err != nil {
			return e, fmt.Errorf("decode properties of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func scanRelation(row pgxv5.CollectableRow) (common.Relation, error) {
	var r common.Relation
	err := row.Scan(&r.Source, &r.Target, &r.Label, &r.Weight, &r.DocID)
	return r, err
}

func propertiesOrEmpty(p map[string][]string) map[string][]string {
	if p == nil {
		return map[string][]string{}
	}
	return p
}
