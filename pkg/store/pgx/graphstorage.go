// Package pgx stores the knowledge graph and the passage/entity vectors in
// PostgreSQL. Vectors use the pgvector extension; neighborhoods are
// resolved with recursive CTEs.
package pgx

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const (
	entityBatch   = 250
	relationBatch = 500
	vectorBatch   = 200
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// NewPool connects to databaseURL and registers the pgvector types on every
// connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// GraphDBStorage implements store.GraphStore on the kg_entities and
// kg_relations tables.
type GraphDBStorage struct {
	conn pgxIConn
}

func NewGraphDBStorage(conn pgxIConn) *GraphDBStorage {
	return &GraphDBStorage{conn: conn}
}

// VectorDBStorage implements store.VectorStore on the kg_passages and
// kg_entity_vectors tables.
type VectorDBStorage struct {
	conn pgxIConn
}

func NewVectorDBStorage(conn pgxIConn) *VectorDBStorage {
	return &VectorDBStorage{conn: conn}
}
