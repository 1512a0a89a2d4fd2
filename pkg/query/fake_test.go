package query

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"
	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/store"
	"github.com/OFFIS-RIT/kgqa/pkg/store/memory"
)

// fakeOracle routes requests by their system prompt.
type fakeOracle struct {
	intent      string
	classifyErr error
	entities    []string
	structured  bool
	answer      string
	summary     string
	summaryErr  error

	mu         sync.Mutex
	prompts    map[string][]string
	embeddings int
}

func newFakeOracle(intent string, entities ...string) *fakeOracle {
	return &fakeOracle{
		intent:     intent,
		entities:   entities,
		structured: true,
		answer:     "这是答案",
		summary:    "这是摘要",
		prompts:    make(map[string][]string),
	}
}

func (f *fakeOracle) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	o := ai.ApplyOptions(ai.GenerateOptions{}, opts...)
	system := ""
	if len(o.SystemPrompts) > 0 {
		system = o.SystemPrompts[0]
	}

	f.mu.Lock()
	f.prompts[system] = append(f.prompts[system], prompt)
	f.mu.Unlock()

	switch system {
	case ai.ClassificationSystemPrompt:
		return f.intent, f.classifyErr
	case ai.QuestionEntitySystemPrompt:
		if len(f.entities) == 0 {
			return "无", nil
		}
		return strings.Join(f.entities, "，"), nil
	case ai.EntitySummarySystemPrompt:
		return f.summary, f.summaryErr
	case ai.AnswerSystemPrompt:
		return f.answer, nil
	}
	return "", errors.New("unexpected prompt")
}

func (f *fakeOracle) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	if !f.structured {
		return errors.New("structured output not supported")
	}
	qe, ok := out.(*questionEntities)
	if !ok {
		return errors.New("unexpected output type")
	}
	qe.Entities = append([]string(nil), f.entities...)
	return nil
}

func (f *fakeOracle) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	f.mu.Lock()
	f.embeddings++
	f.mu.Unlock()
	return fakeEmbedding(string(input)), nil
}

func (f *fakeOracle) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = fakeEmbedding(in)
	}
	return out, nil
}

func (f *fakeOracle) ResetMetrics() {}

func (f *fakeOracle) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func (f *fakeOracle) promptsFor(system string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts[system]...)
}

func (f *fakeOracle) embeddingCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embeddings
}

func fakeEmbedding(s string) []float32 {
	v := make([]float32, 4)
	for i, r := range s {
		v[i%4] += float32(r % 7)
	}
	return v
}

// bookGraph is 李笑来 -著作-> 让时间陪你慢慢变富 -主张-> 定投.
func bookGraph() common.Graph {
	return common.Graph{
		Entities: []common.Entity{
			{ID: "李笑来", Label: "李笑来", Type: "Person", Description: "作者"},
			{ID: "让时间陪你慢慢变富", Label: "让时间陪你慢慢变富", Type: "Book", Description: "讲定投的书"},
			{ID: "定投", Label: "定投", Type: "Strategy", Description: "定期定额投资"},
		},
		Relations: []common.Relation{
			{Source: "李笑来", Target: "让时间陪你慢慢变富", Label: "著作", Weight: 1},
			{Source: "让时间陪你慢慢变富", Target: "定投", Label: "主张", Weight: 1},
		},
	}
}

var bookPassages = []string{
	"李笑来在书中反复强调长期定投指数基金。",
	"定投的关键在于坚持，而不是择时。",
	"这本书出版于2019年。",
}

// newBookStore returns a memory store holding bookGraph and, with
// withPassages, the passages of bookPassages.
func newBookStore(t *testing.T, withPassages bool) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	if _, err := s.UpsertGraph(ctx, "book", bookGraph(), false); err != nil {
		t.Fatal(err)
	}
	if !withPassages {
		return s
	}
	var passages []store.PassageVector
	for i, text := range bookPassages {
		passages = append(passages, store.PassageVector{
			ID:         "book_chunk_" + string(rune('0'+i)),
			DocID:      "book",
			ChunkIndex: i,
			Text:       text,
			Embedding:  fakeEmbedding(text),
		})
	}
	if err := s.UpsertPassages(ctx, passages); err != nil {
		t.Fatal(err)
	}
	return s
}

func newTestRetriever(t *testing.T, oracle *fakeOracle, s *memory.Store) *Retriever {
	t.Helper()
	r, err := NewRetriever(NewRetrieverParams{
		AIClient:    oracle,
		GraphStore:  s,
		VectorStore: s,
	})
	if err != nil {
		t.Fatalf("NewRetriever() error = %v", err)
	}
	return r
}
