package pgx

import (
	"context"

	"github.com/OFFIS-RIT/kgqa/internal/util"
	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

func (s *VectorDBStorage) UpsertPassages(ctx context.Context, passages []store.PassageVector) error {
	return store.ChunkRange(len(passages), vectorBatch, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, p := range passages[start:end] {
			batch.Queue(`
INSERT INTO kg_passages (id, doc_id, chunk_index, text, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET text = EXCLUDED.text, chunk_index = EXCLUDED.chunk_index, embedding = EXCLUDED.embedding`,
				p.ID, p.DocID, p.ChunkIndex, util.SanitizePostgresText(p.Text), pgvector.NewVector(p.Embedding))
		}
		return s.exec(ctx, batch)
	})
}

func (s *VectorDBStorage) UpsertEntities(ctx context.Context, entities []store.EntityVector) error {
	return store.ChunkRange(len(entities), vectorBatch, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, e := range entities[start:end] {
			batch.Queue(`
INSERT INTO kg_entity_vectors (id, doc_id, entity_id, label, type, description, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET label = EXCLUDED.label, type = EXCLUDED.type,
    description = EXCLUDED.description, embedding = EXCLUDED.embedding`,
				e.ID, e.DocID, util.SanitizePostgresText(e.EntityID), util.SanitizePostgresText(e.Label),
				e.Type, util.SanitizePostgresText(e.Description), pgvector.NewVector(e.Embedding))
		}
		return s.exec(ctx, batch)
	})
}

func (s *VectorDBStorage) exec(ctx context.Context, batch *pgxv5.Batch) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *VectorDBStorage) SearchPassages(
	ctx context.Context,
	embedding []float32,
	topK int,
	docID string,
) ([]common.Passage, error) {
	rows, err := s.conn.Query(ctx, `
SELECT id, doc_id, chunk_index, text, 1 - (embedding <=> $1) AS score
FROM kg_passages
WHERE $3 = '' OR doc_id = $3
ORDER BY embedding <=> $1
LIMIT $2`, pgvector.NewVector(embedding), topK, docID)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Passage, error) {
		var p common.Passage
		err := row.Scan(&p.ID, &p.DocID, &p.ChunkIndex, &p.Text, &p.Score)
		return p, err
	})
}

func (s *VectorDBStorage) SearchEntities(ctx context.Context, embedding []float32, topK int) ([]common.EntityMatch, error) {
	rows, err := s.conn.Query(ctx, `
SELECT entity_id, doc_id, label, type, description, 1 - (embedding <=> $1) AS score
FROM kg_entity_vectors
ORDER BY embedding <=> $1
LIMIT $2`, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.EntityMatch, error) {
		var m common.EntityMatch
		err := row.Scan(&m.ID, &m.DocID, &m.Label, &m.Type, &m.Description, &m.Score)
		return m, err
	})
}

func (s *VectorDBStorage) DeleteVectors(ctx context.Context, docID string) (int, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	n := 0
	for _, q := range []string{
		`DELETE FROM kg_passages WHERE doc_id = $1`,
		`DELETE FROM kg_entity_vectors WHERE doc_id = $1`,
	} {
		tag, err := tx.Exec(ctx, q, docID)
		if err != nil {
			return 0, err
		}
		n += int(tag.RowsAffected())
	}
	return n, tx.Commit(ctx)
}

func (s *VectorDBStorage) Count(ctx context.Context, docID string) (int, error) {
	var n int
	err := s.conn.QueryRow(ctx, `
SELECT count(*) FROM kg_passages WHERE $1 = '' OR doc_id = $1`, docID).Scan(&n)
	return n, err
}
