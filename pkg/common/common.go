package common

// Chunk represents a contiguous slice of a document submitted as one
// extraction unit. Chunks are identified by their position within a single
// pass over the document and never change after the chunker produced them.
type Chunk struct {
	Index  int    `json:"index"`
	Text   string `json:"text"`
	Length int    `json:"length"`
}

// RawEntity is an entity exactly as the language model reported it. It has
// not been filtered or normalized and carries no uniqueness guarantee.
type RawEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// RawRelation references two RawEntity names. The referenced names are not
// guaranteed to be declared as entities.
type RawRelation struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

// ExtractionResult is the structured record parsed from one model response
// (or the merge of many). The zero value is a valid, empty result.
type ExtractionResult struct {
	Entities  []RawEntity   `json:"entities"`
	Relations []RawRelation `json:"relations"`
}

// IsEmpty reports whether the result carries neither entities nor relations.
func (r ExtractionResult) IsEmpty() bool {
	return len(r.Entities) == 0 && len(r.Relations) == 0
}

// Graph is the canonical node/edge representation handed to the graph store.
//
// Invariants after normalization:
//   - every Entity.ID is unique
//   - no Relation has Source == Target
//   - both endpoints of every Relation exist in Entities
//   - Entity.Degree equals the number of relations touching the entity
type Graph struct {
	Entities  []Entity   `json:"nodes"`
	Relations []Relation `json:"edges"`
}

// Entity is a canonical graph node. Its ID is the canonical name.
type Entity struct {
	ID          string              `json:"id"`
	Label       string              `json:"label"`
	Type        string              `json:"type"`
	Description string              `json:"description"`
	Properties  map[string][]string `json:"properties"`
	Degree      int                 `json:"degree"`
	DocIDs      []string            `json:"doc_ids,omitempty"`
}

// Relation is a directed canonical edge between two entity IDs.
type Relation struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
	DocID  string  `json:"doc_id,omitempty"`
}

// EntityByID returns the entity with the given id.
func (g Graph) EntityByID(id string) (Entity, bool) {
	for _, e := range g.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

// NormalizeStats reports node and edge counts before and after
// normalization.
type NormalizeStats struct {
	OriginalNodes   int `json:"original_nodes"`
	NormalizedNodes int `json:"normalized_nodes"`
	OriginalEdges   int `json:"original_edges"`
	NormalizedEdges int `json:"normalized_edges"`
}

// Passage is a chunk of document text stored in (and returned from) the
// vector index.
type Passage struct {
	ID         string  `json:"id"`
	DocID      string  `json:"doc_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// EntityMatch is an entity returned from a similarity search over entity
// embeddings.
type EntityMatch struct {
	ID          string  `json:"id"`
	DocID       string  `json:"doc_id"`
	Label       string  `json:"label"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}
