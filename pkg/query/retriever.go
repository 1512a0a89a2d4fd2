package query

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"
	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
	"github.com/OFFIS-RIT/kgqa/pkg/store"
)

const (
	defaultTopK = 5
	defaultHops = 1

	// fallbackThreshold is the number of entities (or passages) below which a
	// graph-first (or vector-first) strategy consults the other source too.
	fallbackThreshold = 2

	findNodesLimit    = 5
	entityVectorLimit = 2
	entityContextHops = 2
	entityContextTopK = 3
)

// Retriever collects graph and passage context for a question.
type Retriever struct {
	aiClient    ai.GraphAIClient
	graphStore  store.GraphStore
	vectorStore store.VectorStore
	strategies  map[Intent]Strategy
	topK        int
	hops        int
	tracer      Tracer
}

type NewRetrieverParams struct {
	AIClient    ai.GraphAIClient
	GraphStore  store.GraphStore
	VectorStore store.VectorStore
	// Strategies overrides entries of DefaultStrategies.
	Strategies map[Intent]Strategy
	TopK       int
	Hops       int
	Tracer     Tracer
}

func NewRetriever(params NewRetrieverParams) (*Retriever, error) {
	if params.AIClient == nil {
		return nil, fmt.Errorf("retriever requires an ai client")
	}
	if params.GraphStore == nil && params.VectorStore == nil {
		return nil, fmt.Errorf("retriever requires a graph or vector store")
	}

	strategies := make(map[Intent]Strategy, len(DefaultStrategies))
	for i, s := range DefaultStrategies {
		strategies[i] = s
	}
	for i, s := range params.Strategies {
		strategies[i] = s
	}

	topK := params.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	hops := params.Hops
	if hops <= 0 {
		hops = defaultHops
	}

	return &Retriever{
		aiClient:    params.AIClient,
		graphStore:  params.GraphStore,
		vectorStore: params.VectorStore,
		strategies:  strategies,
		topK:        topK,
		hops:        hops,
		tracer:      params.Tracer,
	}, nil
}

// RetrieveOptions tunes a single retrieval. Zero values fall back to the
// retriever defaults.
type RetrieveOptions struct {
	// Mode is ModeAuto (or empty) to classify the question, or a Strategy.
	Mode  string
	Hops  int
	TopK  int
	DocID string
	// Tracer receives events in addition to the retriever's tracer.
	Tracer Tracer
}

// Result is everything retrieved for one question.
type Result struct {
	Question         string            `json:"question"`
	Intent           Intent            `json:"intent"`
	Strategy         Strategy          `json:"strategy"`
	QuestionEntities []string          `json:"question_entities"`
	Anchors          []string          `json:"anchors"`
	Entities         []common.Entity   `json:"entities"`
	Relations        []common.Relation `json:"relations"`
	Passages         []common.Passage  `json:"passages"`
	NoInformation    bool              `json:"no_information"`
}

// Retrieve classifies question (unless opts.Mode names a strategy) and runs
// the selected strategy. Finding nothing is not an error; the result then
// has NoInformation set.
func (r *Retriever) Retrieve(ctx context.Context, question string, opts RetrieveOptions) (Result, error) {
	tracer := r.tracerFor(opts)
	res := Result{Question: question}

	if opts.Mode == "" || opts.Mode == ModeAuto {
		res.Intent = Classify(ctx, r.aiClient, question)
		res.Strategy = r.strategies[res.Intent]
		if res.Strategy == "" {
			res.Strategy = StrategyHybrid
		}
	} else {
		s, ok := ParseStrategy(opts.Mode)
		if !ok {
			return res, fmt.Errorf("unknown retrieval mode %q", opts.Mode)
		}
		res.Strategy = s
	}
	RecordStrategy(tracer, res.Intent, res.Strategy)
	logger.Debug("[Retrieve] Strategy selected", "intent", res.Intent, "strategy", res.Strategy)

	hops := opts.Hops
	if hops <= 0 {
		hops = r.hops
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = r.topK
	}

	traversed := false
	searched := false

	if res.Strategy.usesGraph() {
		if err := r.traverse(ctx, &res, hops, tracer); err != nil {
			return res, err
		}
		traversed = true
	}
	if res.Strategy.usesPassages() {
		if err := r.search(ctx, &res, topK, opts.DocID, tracer); err != nil {
			return res, err
		}
		searched = true
	}

	switch res.Strategy {
	case StrategyKGFirst:
		if !searched && len(res.Entities) < fallbackThreshold {
			logger.Debug("[Retrieve] Few entities, adding passage search", "entities", len(res.Entities))
			if err := r.search(ctx, &res, topK, opts.DocID, tracer); err != nil {
				return res, err
			}
		}
	case StrategyRAGFirst:
		if !traversed && len(res.Passages) < fallbackThreshold {
			logger.Debug("[Retrieve] Few passages, adding graph traversal", "passages", len(res.Passages))
			if err := r.traverse(ctx, &res, hops, tracer); err != nil {
				return res, err
			}
		}
	}

	res.NoInformation = len(res.Entities) == 0 && len(res.Passages) == 0
	return res, nil
}

func (r *Retriever) tracerFor(opts RetrieveOptions) Tracer {
	switch {
	case opts.Tracer == nil:
		return r.tracer
	case r.tracer == nil:
		return opts.Tracer
	default:
		return MultiTracer{r.tracer, opts.Tracer}
	}
}

func (r *Retriever) traverse(ctx context.Context, res *Result, hops int, tracer Tracer) error {
	if r.graphStore == nil {
		return nil
	}
	if res.QuestionEntities == nil {
		res.QuestionEntities = ExtractQuestionEntities(ctx, r.aiClient, res.Question)
	}
	if len(res.QuestionEntities) == 0 {
		return nil
	}

	anchors, err := r.Anchor(ctx, res.QuestionEntities)
	if err != nil {
		return err
	}
	res.Anchors = anchors
	RecordAnchoredEntityIDs(tracer, anchors...)
	if len(anchors) == 0 {
		return nil
	}

	g, err := r.Traverse(ctx, anchors, hops)
	if err != nil {
		return err
	}
	res.Entities = g.Entities
	res.Relations = g.Relations

	types := make([]string, 0, len(g.Entities))
	for _, e := range g.Entities {
		types = append(types, e.Type)
	}
	RecordQueriedEntityTypes(tracer, types...)
	return nil
}

func (r *Retriever) search(ctx context.Context, res *Result, topK int, docID string, tracer Tracer) error {
	if r.vectorStore == nil {
		return nil
	}
	passages, err := r.SearchPassages(ctx, res.Question, topK, docID)
	if err != nil {
		return err
	}
	res.Passages = passages

	ids := make([]string, 0, len(passages))
	for _, p := range passages {
		ids = append(ids, p.ID)
	}
	RecordConsideredPassageIDs(tracer, ids...)
	return nil
}

// Anchor resolves question mentions to graph node ids. Each mention is tried
// as an exact id, then by substring containment, then against the entity
// embeddings; only vector matches that exist in the graph are kept.
func (r *Retriever) Anchor(ctx context.Context, mentions []string) ([]string, error) {
	var anchors []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		anchors = append(anchors, id)
	}

	for _, m := range mentions {
		node, err := r.graphStore.GetNode(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("get node %q: %w", m, err)
		}
		if node != nil {
			add(node.ID)
			continue
		}

		nodes, err := r.graphStore.FindNodes(ctx, m, findNodesLimit)
		if err != nil {
			return nil, fmt.Errorf("find nodes %q: %w", m, err)
		}
		if len(nodes) > 0 {
			for _, n := range nodes {
				add(n.ID)
			}
			continue
		}

		if r.vectorStore == nil {
			continue
		}
		emb, err := r.aiClient.GenerateEmbedding(ctx, []byte(m))
		if err != nil {
			logger.Warn("[Retrieve] Mention embedding failed", "mention", m, "err", err)
			continue
		}
		matches, err := r.vectorStore.SearchEntities(ctx, emb, entityVectorLimit)
		if err != nil {
			return nil, fmt.Errorf("search entities %q: %w", m, err)
		}
		for _, match := range matches {
			node, err := r.graphStore.GetNode(ctx, match.ID)
			if err != nil {
				return nil, fmt.Errorf("get node %q: %w", match.ID, err)
			}
			if node != nil {
				add(node.ID)
			}
		}
	}

	return anchors, nil
}

// Traverse unions the hops-neighborhoods of anchors. Edges are deduplicated
// by endpoint pair and entities are ordered by degree, highest first.
func (r *Retriever) Traverse(ctx context.Context, anchors []string, hops int) (common.Graph, error) {
	var out common.Graph
	nodes := make(map[string]struct{})
	edges := make(map[string]struct{})

	for _, id := range anchors {
		g, err := r.graphStore.QueryNeighborhood(ctx, id, hops)
		if err != nil {
			return common.Graph{}, fmt.Errorf("query neighborhood %q: %w", id, err)
		}
		for _, e := range g.Entities {
			if _, ok := nodes[e.ID]; ok {
				continue
			}
			nodes[e.ID] = struct{}{}
			out.Entities = append(out.Entities, e)
		}
		for _, rel := range g.Relations {
			key := rel.Source + "->" + rel.Target
			if _, ok := edges[key]; ok {
				continue
			}
			edges[key] = struct{}{}
			out.Relations = append(out.Relations, rel)
		}
	}

	slices.SortStableFunc(out.Entities, func(a, b common.Entity) int {
		return cmp.Compare(b.Degree, a.Degree)
	})
	return out, nil
}

// SearchPassages embeds text and returns the topK nearest passages,
// optionally restricted to docID.
func (r *Retriever) SearchPassages(ctx context.Context, text string, topK int, docID string) ([]common.Passage, error) {
	emb, err := r.aiClient.GenerateEmbedding(ctx, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	passages, err := r.vectorStore.SearchPassages(ctx, emb, topK, docID)
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	return passages, nil
}

// EntityContext is the neighborhood of one entity and the passages most
// similar to its name.
type EntityContext struct {
	Entity    common.Entity     `json:"entity"`
	Related   []common.Entity   `json:"related_entities"`
	Relations []common.Relation `json:"relations"`
	Passages  []common.Passage  `json:"passages"`
}

// EntityContext resolves name like a question mention and gathers its two
// hop neighborhood. It returns nil when no node matches.
func (r *Retriever) EntityContext(ctx context.Context, name string) (*EntityContext, error) {
	if r.graphStore == nil {
		return nil, nil
	}
	anchors, err := r.Anchor(ctx, []string{name})
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 {
		return nil, nil
	}

	g, err := r.graphStore.QueryNeighborhood(ctx, anchors[0], entityContextHops)
	if err != nil {
		return nil, fmt.Errorf("query neighborhood %q: %w", anchors[0], err)
	}

	out := &EntityContext{Relations: g.Relations}
	found := false
	for _, e := range g.Entities {
		if e.ID == anchors[0] {
			out.Entity = e
			found = true
			continue
		}
		out.Related = append(out.Related, e)
	}
	if !found {
		node, err := r.graphStore.GetNode(ctx, anchors[0])
		if err != nil {
			return nil, fmt.Errorf("get node %q: %w", anchors[0], err)
		}
		if node == nil {
			return nil, nil
		}
		out.Entity = *node
	}
	slices.SortStableFunc(out.Related, func(a, b common.Entity) int {
		return cmp.Compare(b.Degree, a.Degree)
	})

	if r.vectorStore != nil {
		passages, err := r.SearchPassages(ctx, out.Entity.Label, entityContextTopK, "")
		if err != nil {
			logger.Warn("[Retrieve] Entity passage search failed", "entity", out.Entity.ID, "err", err)
		} else {
			out.Passages = passages
		}
	}
	return out, nil
}
