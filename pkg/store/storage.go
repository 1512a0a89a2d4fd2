package store

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kgqa/pkg/common"
)

// GraphStore persists normalized graphs and answers bounded neighborhood
// queries. Implementations merge nodes by id and keep, per node, the set of
// documents that mention it.
type GraphStore interface {
	// UpsertGraph merges g into the store on behalf of docID. With overwrite
	// the document's previous relations are removed first, the document is
	// detached from its nodes and nodes no other document references are
	// deleted.
	UpsertGraph(ctx context.Context, docID string, g common.Graph, overwrite bool) (UpsertStats, error)
	// QueryNeighborhood returns every node within hops edges of nodeID,
	// ignoring edge direction, and the relations between them. An unknown
	// node yields an empty graph.
	QueryNeighborhood(ctx context.Context, nodeID string, hops int) (common.Graph, error)
	GetNode(ctx context.Context, id string) (*common.Entity, error)
	// FindNodes returns nodes whose id contains mention or is contained in
	// it, highest degree first.
	FindNodes(ctx context.Context, mention string, limit int) ([]common.Entity, error)
	DeleteByDoc(ctx context.Context, docID string) (DeleteStats, error)
	Stats(ctx context.Context) (GraphStats, error)
	Close(ctx context.Context) error
}

// VectorStore stores passage and entity embeddings. Scores returned from
// searches are 1 - cosine distance.
type VectorStore interface {
	UpsertPassages(ctx context.Context, passages []PassageVector) error
	UpsertEntities(ctx context.Context, entities []EntityVector) error
	// SearchPassages returns the topK nearest passages. An empty docID
	// searches every document.
	SearchPassages(ctx context.Context, embedding []float32, topK int, docID string) ([]common.Passage, error)
	SearchEntities(ctx context.Context, embedding []float32, topK int) ([]common.EntityMatch, error)
	DeleteVectors(ctx context.Context, docID string) (int, error)
	Count(ctx context.Context, docID string) (int, error)
}

// PassageVector is a document chunk with its embedding.
type PassageVector struct {
	ID         string
	DocID      string
	ChunkIndex int
	Text       string
	Embedding  []float32
}

// EntityVector is the embedding of an entity's label and description.
type EntityVector struct {
	ID          string
	DocID       string
	EntityID    string
	Label       string
	Type        string
	Description string
	Embedding   []float32
}

type UpsertStats struct {
	Nodes          int `json:"nodes"`
	Relations      int `json:"relations"`
	Passages       int `json:"passages"`
	EntityVectors  int `json:"entity_vectors"`
	NodesDetached  int `json:"nodes_detached,omitempty"`
	NodesRemoved   int `json:"nodes_removed,omitempty"`
	RelationsFreed int `json:"relations_removed,omitempty"`
}

type DeleteStats struct {
	Relations int `json:"relations"`
	Nodes     int `json:"nodes"`
	Detached  int `json:"detached"`
	Vectors   int `json:"vectors"`
}

type GraphStats struct {
	Nodes     int `json:"nodes"`
	Relations int `json:"relations"`
}

// StoreError is returned when a write fails part way. Stats holds what was
// written before the failure; written items are not rolled back.
type StoreError struct {
	Op    string
	Stats UpsertStats
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
