package query

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"
	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
	"github.com/OFFIS-RIT/kgqa/pkg/store"
)

const (
	answerTemperature = 0.3
	answerMaxTokens   = 1000

	summaryTemperature = 0.3
	summaryMaxTokens   = 200
	summaryRelated     = 5

	maxSourceEntities  = 5
	maxSourceRelations = 10
	maxSourcePassages  = 5
	maxDescriptionLen  = 100
	maxPassageLen      = 200
)

// Answers returned without asking the model.
const (
	NoGraphInformation    = "抱歉，在知识图谱中没有找到相关信息。"
	NoPassageInformation  = "抱歉，在文档中没有找到相关信息。"
	NoInformation         = "抱歉，没有找到相关信息。"
	NoInformationAnywhere = "抱歉，没有找到相关信息。请尝试上传相关文档或调整问题。"
)

// Engine answers questions from retrieved context.
type Engine struct {
	retriever *Retriever
	aiClient  ai.GraphAIClient
	model     string
}

type NewEngineParams struct {
	Retriever *Retriever
	AIClient  ai.GraphAIClient
	// Model overrides the client's default chat model.
	Model string
}

func NewEngine(params NewEngineParams) (*Engine, error) {
	if params.Retriever == nil {
		return nil, fmt.Errorf("engine requires a retriever")
	}
	client := params.AIClient
	if client == nil {
		client = params.Retriever.aiClient
	}
	return &Engine{
		retriever: params.Retriever,
		aiClient:  client,
		model:     params.Model,
	}, nil
}

type SourceEntity struct {
	Label       string `json:"label"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type SourceRelation struct {
	Source   string `json:"source"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
}

type SourcePassage struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	DocID string  `json:"doc_id"`
}

// Sources is the truncated context shown next to an answer.
type Sources struct {
	Entities  []SourceEntity   `json:"entities"`
	Relations []SourceRelation `json:"relations"`
	Passages  []SourcePassage  `json:"passages"`
}

type Answer struct {
	Question      string            `json:"question"`
	Text          string            `json:"answer"`
	Sources       Sources           `json:"sources"`
	Intent        Intent            `json:"intent,omitempty"`
	Strategy      Strategy          `json:"strategy"`
	Entities      []common.Entity   `json:"entities"`
	Relations     []common.Relation `json:"relations"`
	Passages      []common.Passage  `json:"passages"`
	NoInformation bool              `json:"no_information"`
}

// Ask retrieves context for question and lets the model answer from it.
// When nothing was retrieved the answer is a fixed message and the model is
// not called.
func (e *Engine) Ask(ctx context.Context, question string, opts RetrieveOptions) (Answer, error) {
	res, err := e.retriever.Retrieve(ctx, question, opts)
	if err != nil {
		return Answer{}, err
	}

	ans := Answer{
		Question:      question,
		Intent:        res.Intent,
		Strategy:      res.Strategy,
		Entities:      res.Entities,
		Relations:     res.Relations,
		Passages:      res.Passages,
		Sources:       BuildSources(res.Entities, res.Relations, res.Passages),
		NoInformation: res.NoInformation,
	}

	prompt, fallback := answerPrompt(res)
	if prompt == "" {
		ans.Text = fallback
		ans.NoInformation = true
		return ans, nil
	}

	ids := make([]string, 0, len(res.Passages))
	for _, p := range res.Passages {
		ids = append(ids, p.ID)
	}
	RecordUsedPassageIDs(e.retriever.tracerFor(opts), ids...)

	text, err := e.generate(ctx, prompt, ai.AnswerSystemPrompt, answerTemperature, answerMaxTokens)
	if err != nil {
		return ans, fmt.Errorf("generate answer: %w", err)
	}
	ans.Text = text
	return ans, nil
}

// answerPrompt picks the prompt for the retrieved context. An empty prompt
// means there is nothing to answer from and fallback is the reply.
func answerPrompt(res Result) (prompt string, fallback string) {
	hasGraph := len(res.Entities) > 0 || len(res.Relations) > 0
	hasPassages := len(res.Passages) > 0
	q := res.Question

	switch res.Strategy {
	case StrategyKGOnly:
		if !hasGraph {
			return "", NoGraphInformation
		}
		return kgAnswerPrompt(q, res.Entities, res.Relations), ""
	case StrategyRAGOnly:
		if !hasPassages {
			return "", NoPassageInformation
		}
		return ragAnswerPrompt(q, res.Passages), ""
	case StrategyKGFirst:
		switch {
		case hasGraph && hasPassages:
			return hybridAnswerPrompt(q, res.Entities, res.Relations, res.Passages), ""
		case hasGraph:
			return kgAnswerPrompt(q, res.Entities, res.Relations), ""
		case hasPassages:
			return ragAnswerPrompt(q, res.Passages), ""
		}
		return "", NoInformation
	case StrategyRAGFirst:
		switch {
		case hasPassages && hasGraph:
			return hybridAnswerPrompt(q, res.Entities, res.Relations, res.Passages), ""
		case hasPassages:
			return ragAnswerPrompt(q, res.Passages), ""
		case hasGraph:
			return kgAnswerPrompt(q, res.Entities, res.Relations), ""
		}
		return "", NoInformation
	default:
		if !hasGraph && !hasPassages {
			return "", NoInformationAnywhere
		}
		return hybridAnswerPrompt(q, res.Entities, res.Relations, res.Passages), ""
	}
}

func (e *Engine) generate(
	ctx context.Context,
	prompt, system string,
	temperature float64,
	maxTokens int,
) (string, error) {
	opts := []ai.GenerateOption{
		ai.WithSystemPrompts(system),
		ai.WithTemperature(temperature),
		ai.WithMaxTokens(maxTokens),
	}
	if e.model != "" {
		opts = append(opts, ai.WithModel(e.model))
	}
	text, err := e.aiClient.GenerateCompletion(ctx, prompt, opts...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// BuildSources truncates retrieved context for display.
func BuildSources(entities []common.Entity, relations []common.Relation, passages []common.Passage) Sources {
	src := Sources{
		Entities:  []SourceEntity{},
		Relations: []SourceRelation{},
		Passages:  []SourcePassage{},
	}
	for _, e := range entities[:min(len(entities), maxSourceEntities)] {
		label := e.Label
		if label == "" {
			label = e.ID
		}
		typ := e.Type
		if typ == "" {
			typ = "Entity"
		}
		src.Entities = append(src.Entities, SourceEntity{
			Label:       label,
			Type:        typ,
			Description: truncateRunes(e.Description, maxDescriptionLen, ""),
		})
	}
	for _, r := range relations[:min(len(relations), maxSourceRelations)] {
		src.Relations = append(src.Relations, SourceRelation{
			Source:   r.Source,
			Relation: r.Label,
			Target:   r.Target,
		})
	}
	for _, p := range passages[:min(len(passages), maxSourcePassages)] {
		src.Passages = append(src.Passages, SourcePassage{
			Text:  truncateRunes(p.Text, maxPassageLen, "..."),
			Score: math.Round(p.Score*1000) / 1000,
			DocID: p.DocID,
		})
	}
	return src
}

func truncateRunes(s string, n int, suffix string) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + suffix
}

// SearchType selects what Search looks at.
type SearchType string

const (
	SearchAll      SearchType = "all"
	SearchPassages SearchType = "chunks"
	SearchEntities SearchType = "entities"
)

type SearchResult struct {
	Query    string               `json:"query"`
	Passages []common.Passage     `json:"chunks"`
	Entities []common.EntityMatch `json:"entities"`
}

// Search is a plain similarity search over passages and entity embeddings
// without classification or answering.
func (e *Engine) Search(ctx context.Context, text string, typ SearchType, topK int) (SearchResult, error) {
	out := SearchResult{
		Query:    text,
		Passages: []common.Passage{},
		Entities: []common.EntityMatch{},
	}
	vs := e.retriever.vectorStore
	if vs == nil {
		return out, nil
	}
	if topK <= 0 {
		topK = 10
	}

	emb, err := e.aiClient.GenerateEmbedding(ctx, []byte(text))
	if err != nil {
		return out, fmt.Errorf("embed query: %w", err)
	}
	if typ == SearchAll || typ == SearchPassages {
		p, err := vs.SearchPassages(ctx, emb, topK, "")
		if err != nil {
			return out, fmt.Errorf("search passages: %w", err)
		}
		out.Passages = append(out.Passages, p...)
	}
	if typ == SearchAll || typ == SearchEntities {
		m, err := vs.SearchEntities(ctx, emb, topK)
		if err != nil {
			return out, fmt.Errorf("search entities: %w", err)
		}
		out.Entities = append(out.Entities, m...)
	}
	return out, nil
}

// EntityDetail is an entity's context with a short generated introduction.
type EntityDetail struct {
	EntityContext
	Summary string `json:"summary"`
}

// EntityDetail returns nil when no entity matches name.
func (e *Engine) EntityDetail(ctx context.Context, name string) (*EntityDetail, error) {
	ec, err := e.retriever.EntityContext(ctx, name)
	if err != nil || ec == nil {
		return nil, err
	}

	related := ec.Related[:min(len(ec.Related), summaryRelated)]
	labels := make([]string, 0, len(related))
	for _, r := range related {
		labels = append(labels, r.Label)
	}
	lines := make([]string, 0, summaryRelated)
	for _, r := range ec.Relations[:min(len(ec.Relations), summaryRelated)] {
		lines = append(lines, fmt.Sprintf("- %s -> %s -> %s", r.Source, r.Label, r.Target))
	}

	prompt := fmt.Sprintf(
		ai.EntitySummaryPrompt,
		ec.Entity.Label,
		ec.Entity.Type,
		ec.Entity.Description,
		strings.Join(labels, ", "),
		strings.Join(lines, "\n"),
	)
	summary, err := e.generate(ctx, prompt, ai.EntitySummarySystemPrompt, summaryTemperature, summaryMaxTokens)
	if err != nil {
		logger.Warn("[Retrieve] Entity summary failed", "entity", ec.Entity.ID, "err", err)
		summary = ec.Entity.Description
	}
	return &EntityDetail{EntityContext: *ec, Summary: summary}, nil
}

// GraphStats exposes the size of the underlying graph.
func (e *Engine) GraphStats(ctx context.Context) (store.GraphStats, error) {
	if e.retriever.graphStore == nil {
		return store.GraphStats{}, nil
	}
	return e.retriever.graphStore.Stats(ctx)
}
