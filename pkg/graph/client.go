package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"
	"github.com/OFFIS-RIT/kgqa/pkg/checkpoint"
	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
	"github.com/OFFIS-RIT/kgqa/pkg/progress"
	"github.com/OFFIS-RIT/kgqa/pkg/store"

	"github.com/pkoukk/tiktoken-go"
)

// GraphClient turns documents into normalized graphs and persists them.
// It composes the chunker, the extractor, the merger and the normalizer.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	aiClient    ai.GraphAIClient
	extractor   *Extractor
	normalizer  *Normalizer
	graphStore  store.GraphStore
	vectorStore store.VectorStore
	checkpoints checkpoint.Store
	progress    progress.Tracker

	tokenEncoder       string
	chunkSize          int
	overlapRatio       float64
	parallelAiRequests int

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// TokenEncoder names the tiktoken encoding used for chunk statistics.
// ParallelAiRequests bounds concurrent extraction calls and embedding
// batches. GraphStore, VectorStore, Checkpoints and Progress are optional;
// SaveGraph needs a GraphStore.
type NewGraphClientParams struct {
	AIClient    ai.GraphAIClient
	GraphStore  store.GraphStore
	VectorStore store.VectorStore
	Checkpoints checkpoint.Store
	Progress    progress.Tracker

	TokenEncoder       string
	ChunkSize          int
	OverlapRatio       float64
	ParallelAiRequests int
	MaxRetries         int
	RetryBase          time.Duration
	GenerateOptions    []ai.GenerateOption
	Normalizer         *NormalizerConfig
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		AIClient:           aiClient,
//		GraphStore:         graphStore,
//		VectorStore:        vectorStore,
//		TokenEncoder:       "o200k_base",
//		ParallelAiRequests: 5,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.AIClient == nil {
		return nil, errors.New("graph client needs an ai client")
	}
	chunkSize := params.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	overlap := params.OverlapRatio
	if overlap < 0 || overlap >= 1 {
		overlap = DefaultOverlapRatio
	}
	parallel := params.ParallelAiRequests
	if parallel <= 0 {
		parallel = 5
	}
	normCfg := DefaultNormalizerConfig()
	if params.Normalizer != nil {
		normCfg = *params.Normalizer
	}

	return &GraphClient{
		aiClient: params.AIClient,
		extractor: NewExtractor(ExtractorParams{
			AIClient:         params.AIClient,
			Checkpoints:      params.Checkpoints,
			Progress:         params.Progress,
			ConcurrencyLimit: parallel,
			MaxRetries:       params.MaxRetries,
			RetryBase:        params.RetryBase,
			GenerateOptions:  params.GenerateOptions,
		}),
		normalizer:         NewNormalizer(normCfg),
		graphStore:         params.GraphStore,
		vectorStore:        params.VectorStore,
		checkpoints:        params.Checkpoints,
		progress:           params.Progress,
		tokenEncoder:       params.TokenEncoder,
		chunkSize:          chunkSize,
		overlapRatio:       overlap,
		parallelAiRequests: parallel,
	}, nil
}

// Document is the text of one source file.
type Document struct {
	ID       string
	Filename string
	Text     string
}

// BuildOptions controls BuildGraph. Resume reuses checkpoints of an earlier
// interrupted run; Stream refreshes the extraction context between waves.
// Islands are always connected on the full-document path; ConnectIslands
// turns that on for Stream as well.
type BuildOptions struct {
	Resume         bool
	ConnectIslands bool
	Stream         bool
}

type BuildStats struct {
	Chunks       int                   `json:"chunks"`
	Tokens       int                   `json:"tokens"`
	RawEntities  int                   `json:"raw_entities"`
	RawRelations int                   `json:"raw_relations"`
	Normalize    common.NormalizeStats `json:"normalize"`
	Topic        string                `json:"topic,omitempty"`
	Duration     time.Duration         `json:"duration"`
}

type BuildResult struct {
	Graph  common.Graph
	Stats  BuildStats
	Chunks []common.Chunk
}

func (c *GraphClient) encoder() *tiktoken.Tiktoken {
	c.encOnce.Do(func() {
		if c.tokenEncoder == "" {
			return
		}
		enc, err := tiktoken.GetEncoding(c.tokenEncoder)
		if err != nil {
			logger.Warn("[Graph] Token encoder unavailable, counting runes", "encoder", c.tokenEncoder, "err", err)
			return
		}
		c.enc = enc
	})
	return c.enc
}

// BuildGraph chunks doc, extracts every chunk and merges and normalizes the
// results into one graph. Every entity and relation is tagged with doc.ID.
//
// A cancelled ctx, or a cancellation already flagged in the tracker, yields
// an *InterruptedError; completed chunks stay checkpointed and a later call
// with Resume continues from them.
func (c *GraphClient) BuildGraph(ctx context.Context, doc Document, opts BuildOptions) (BuildResult, error) {
	start := time.Now()

	chunks := SplitText(doc.Text, c.chunkSize, c.overlapRatio)
	stats := BuildStats{Chunks: len(chunks), Tokens: countChunkTokens(chunks, c.encoder())}
	logger.Info("[Graph] Document chunked", "doc", doc.ID, "chunks", stats.Chunks, "tokens", stats.Tokens)

	if len(chunks) == 0 {
		stats.Duration = time.Since(start)
		return BuildResult{Stats: stats}, nil
	}

	if c.progress != nil {
		cancelled := c.trackChunks(ctx, doc, len(chunks))
		if cancelled {
			logger.Info("[Graph] Document cancelled before extraction", "doc", doc.ID)
			return BuildResult{Stats: stats, Chunks: chunks}, &InterruptedError{
				Total: len(chunks),
				Cause: progress.ErrCancelled,
			}
		}
	}

	stats.Topic = c.extractor.DocumentTopic(ctx, doc.Text)
	extractOpts := ExtractOptions{Resume: opts.Resume, Topic: stats.Topic}

	var results []common.ExtractionResult
	var err error
	if opts.Stream {
		results, err = c.extractor.ExtractStream(ctx, doc.ID, chunks, extractOpts)
	} else {
		results, err = c.extractor.Extract(ctx, doc.ID, chunks, extractOpts)
	}
	if err != nil {
		return BuildResult{Stats: stats, Chunks: chunks}, err
	}

	c.extractor.report(ctx, doc.ID, len(chunks), progress.StageMerging)
	merged := MergeResults(results, !opts.Stream || opts.ConnectIslands)
	stats.RawEntities = len(merged.Entities)
	stats.RawRelations = len(merged.Relations)

	g, nstats := c.normalizer.Normalize(ToGraph(merged))
	stats.Normalize = nstats
	for i := range g.Entities {
		g.Entities[i].DocIDs = []string{doc.ID}
	}
	for i := range g.Relations {
		g.Relations[i].DocID = doc.ID
	}

	stats.Duration = time.Since(start)
	logger.Info(
		"[Graph] Graph built",
		"doc", doc.ID,
		"nodes", nstats.NormalizedNodes,
		"edges", nstats.NormalizedEdges,
		"duration", stats.Duration.Round(time.Millisecond),
	)
	return BuildResult{Graph: g, Stats: stats, Chunks: chunks}, nil
}

// trackChunks records the chunk count of doc. A processing or cancelled
// record left by the caller is only resized, so a cancellation requested in
// the meantime survives. It reports whether that cancellation is set.
func (c *GraphClient) trackChunks(ctx context.Context, doc Document, total int) bool {
	rec, err := c.progress.Get(ctx, doc.ID)
	if err != nil {
		logger.Warn("[Graph] Progress lookup failed", "doc", doc.ID, "err", err)
	}
	if rec == nil || rec.Status == progress.StatusCompleted || rec.Status == progress.StatusFailed {
		if err := c.progress.Start(ctx, doc.ID, doc.Filename, total); err != nil {
			logger.Warn("[Graph] Progress start failed", "doc", doc.ID, "err", err)
		}
		return false
	}
	if err := c.progress.SetTotal(ctx, doc.ID, total); err != nil {
		logger.Warn("[Graph] Progress update failed", "doc", doc.ID, "err", err)
	}
	cancelled, err := c.progress.IsCancelled(ctx, doc.ID)
	if err != nil {
		logger.Warn("[Graph] Cancellation check failed", "doc", doc.ID, "err", err)
		return false
	}
	return cancelled
}

// SaveGraph writes g to the graph store, then stores the chunk passages and
// entity embeddings in the vector store when one is configured. Passage ids
// are {doc}_chunk_{i}, entity vector ids {doc}_entity_{id}.
//
// Failures are returned as *store.StoreError carrying what was written so
// far; nothing is rolled back.
func (c *GraphClient) SaveGraph(
	ctx context.Context,
	docID string,
	g common.Graph,
	chunks []common.Chunk,
	overwrite bool,
) (store.UpsertStats, error) {
	if c.graphStore == nil {
		return store.UpsertStats{}, errors.New("graph client has no graph store")
	}
	c.extractor.report(ctx, docID, len(chunks), progress.StageSaving)

	stats, err := c.graphStore.UpsertGraph(ctx, docID, g, overwrite)
	if err != nil {
		var se *store.StoreError
		if errors.As(err, &se) {
			return se.Stats, err
		}
		return stats, &store.StoreError{Op: "upsert graph", Stats: stats, Err: err}
	}

	if c.vectorStore == nil {
		return stats, nil
	}
	if overwrite {
		if _, err := c.vectorStore.DeleteVectors(ctx, docID); err != nil {
			return stats, &store.StoreError{Op: "delete vectors", Stats: stats, Err: err}
		}
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Text
		}
		embs, err := store.GenerateEmbeddings(ctx, c.aiClient, texts, c.parallelAiRequests)
		if err != nil {
			return stats, &store.StoreError{Op: "embed passages", Stats: stats, Err: err}
		}
		passages := make([]store.PassageVector, len(chunks))
		for i, ch := range chunks {
			passages[i] = store.PassageVector{
				ID:         fmt.Sprintf("%s_chunk_%d", docID, ch.Index),
				DocID:      docID,
				ChunkIndex: ch.Index,
				Text:       ch.Text,
				Embedding:  embs[i],
			}
		}
		if err := c.vectorStore.UpsertPassages(ctx, passages); err != nil {
			return stats, &store.StoreError{Op: "upsert passages", Stats: stats, Err: err}
		}
		stats.Passages = len(passages)
	}

	if len(g.Entities) > 0 {
		texts := make([]string, len(g.Entities))
		for i, e := range g.Entities {
			texts[i] = entityEmbeddingText(e)
		}
		embs, err := store.GenerateEmbeddings(ctx, c.aiClient, texts, c.parallelAiRequests)
		if err != nil {
			return stats, &store.StoreError{Op: "embed entities", Stats: stats, Err: err}
		}
		vectors := make([]store.EntityVector, len(g.Entities))
		for i, e := range g.Entities {
			vectors[i] = store.EntityVector{
				ID:          fmt.Sprintf("%s_entity_%s", docID, e.ID),
				DocID:       docID,
				EntityID:    e.ID,
				Label:       e.Label,
				Type:        e.Type,
				Description: e.Description,
				Embedding:   embs[i],
			}
		}
		if err := c.vectorStore.UpsertEntities(ctx, vectors); err != nil {
			return stats, &store.StoreError{Op: "upsert entity vectors", Stats: stats, Err: err}
		}
		stats.EntityVectors = len(vectors)
	}

	logger.Info(
		"[Graph] Graph saved",
		"doc", docID,
		"nodes", stats.Nodes,
		"relations", stats.Relations,
		"passages", stats.Passages,
		"entity_vectors", stats.EntityVectors,
	)
	return stats, nil
}

func entityEmbeddingText(e common.Entity) string {
	if e.Description == "" {
		return e.Label
	}
	return e.Label + ": " + e.Description
}

// DeleteDocument removes the document from the graph store, its vectors and
// any checkpoints left from an interrupted extraction.
func (c *GraphClient) DeleteDocument(ctx context.Context, docID string) (store.DeleteStats, error) {
	var stats store.DeleteStats
	if c.graphStore != nil {
		s, err := c.graphStore.DeleteByDoc(ctx, docID)
		if err != nil {
			return stats, fmt.Errorf("delete graph of %s: %w", docID, err)
		}
		stats = s
	}
	if c.vectorStore != nil {
		n, err := c.vectorStore.DeleteVectors(ctx, docID)
		if err != nil {
			return stats, fmt.Errorf("delete vectors of %s: %w", docID, err)
		}
		stats.Vectors = n
	}
	if c.checkpoints != nil {
		if err := c.checkpoints.Clear(ctx, docID); err != nil {
			logger.Warn("[Checkpoint] Failed to clear checkpoints", "doc", docID, "err", err)
		}
	}
	logger.Info("[Graph] Document deleted", "doc", docID, "nodes", stats.Nodes, "relations", stats.Relations, "vectors", stats.Vectors)
	return stats, nil
}
