package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"
	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/store/memory"
)

func newTestEngine(t *testing.T, oracle *fakeOracle, s *memory.Store) *Engine {
	t.Helper()
	e, err := NewEngine(NewEngineParams{Retriever: newTestRetriever(t, oracle, s)})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestAskRelational(t *testing.T) {
	oracle := newFakeOracle("RELATIONAL", "李笑来", "定投")
	e := newTestEngine(t, oracle, newBookStore(t, true))

	ans, err := e.Ask(context.Background(), "李笑来和定投有什么关系？", RetrieveOptions{Mode: ModeAuto})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if ans.Text != oracle.answer || ans.Strategy != StrategyKGOnly || ans.NoInformation {
		t.Fatalf("answer = %+v", ans)
	}
	if len(ans.Passages) != 0 || len(ans.Sources.Passages) != 0 {
		t.Fatalf("graph-only answer has passages: %+v", ans.Sources)
	}

	prompts := oracle.promptsFor(ai.AnswerSystemPrompt)
	if len(prompts) != 1 {
		t.Fatalf("answer prompts = %d", len(prompts))
	}
	for _, want := range []string{
		"- **定投** (Strategy): 定期定额投资",
		"- 李笑来 --[著作]--> 让时间陪你慢慢变富",
		"李笑来和定投有什么关系？",
	} {
		if !strings.Contains(prompts[0], want) {
			t.Fatalf("prompt misses %q:\n%s", want, prompts[0])
		}
	}
	if strings.Contains(prompts[0], "片段") {
		t.Fatalf("graph prompt mentions passages:\n%s", prompts[0])
	}
}

func TestAskHybridTracesPassages(t *testing.T) {
	oracle := newFakeOracle("ANALYTICAL", "定投")
	e := newTestEngine(t, oracle, newBookStore(t, true))
	trace := NewQueryTrace()

	ans, err := e.Ask(context.Background(), "为什么要定投？", RetrieveOptions{Tracer: trace})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if ans.Strategy != StrategyHybrid || len(ans.Entities) != 2 || len(ans.Passages) != 3 {
		t.Fatalf("answer = %+v", ans)
	}
	prompt := oracle.promptsFor(ai.AnswerSystemPrompt)[0]
	if !strings.Contains(prompt, "[片段 1] (相关度: ") || !strings.Contains(prompt, "**定投**") {
		t.Fatalf("hybrid prompt:\n%s", prompt)
	}
	snap := trace.Snapshot()
	if len(snap.UsedPassageIDs) != 3 || len(snap.ConsideredPassageIDs) != 3 {
		t.Fatalf("trace = %+v", snap)
	}
}

func TestAskNoInformation(t *testing.T) {
	tests := []struct {
		mode string
		want string
	}{
		{ModeAuto, NoInformationAnywhere},
		{"kg_only", NoGraphInformation},
		{"rag_only", NoPassageInformation},
		{"kg_first", NoInformation},
		{"rag_first", NoInformation},
		{"hybrid", NoInformationAnywhere},
	}
	for _, tt := range tests {
		oracle := newFakeOracle("ANALYTICAL", "李笑来")
		e := newTestEngine(t, oracle, memory.New())

		ans, err := e.Ask(context.Background(), "李笑来是谁？", RetrieveOptions{Mode: tt.mode})
		if err != nil {
			t.Fatalf("Ask(%s) error = %v", tt.mode, err)
		}
		if ans.Text != tt.want || !ans.NoInformation {
			t.Fatalf("Ask(%s) = %q, noInfo %v", tt.mode, ans.Text, ans.NoInformation)
		}
		if n := len(oracle.promptsFor(ai.AnswerSystemPrompt)); n != 0 {
			t.Fatalf("Ask(%s) called the model %d times", tt.mode, n)
		}
	}
}

func TestBuildSources(t *testing.T) {
	long := strings.Repeat("长", 250)
	var entities []common.Entity
	for range 7 {
		entities = append(entities, common.Entity{ID: "e", Description: long})
	}
	var relations []common.Relation
	for range 12 {
		relations = append(relations, common.Relation{Source: "a", Target: "b", Label: "包含"})
	}
	passages := []common.Passage{
		{Text: long, Score: 0.123456, DocID: "doc"},
		{Text: "短", Score: 0.5},
	}

	src := BuildSources(entities, relations, passages)
	if len(src.Entities) != 5 || len(src.Relations) != 10 || len(src.Passages) != 2 {
		t.Fatalf("sources = %d/%d/%d", len(src.Entities), len(src.Relations), len(src.Passages))
	}
	if e := src.Entities[0]; e.Label != "e" || e.Type != "Entity" || len([]rune(e.Description)) != 100 {
		t.Fatalf("entity source = %+v", e)
	}
	p := src.Passages[0]
	if len([]rune(p.Text)) != 203 || !strings.HasSuffix(p.Text, "...") || p.Score != 0.123 || p.DocID != "doc" {
		t.Fatalf("passage source = %q %v", p.Text, p.Score)
	}
	if src.Passages[1].Text != "短" {
		t.Fatalf("short passage changed: %q", src.Passages[1].Text)
	}

	empty := BuildSources(nil, nil, nil)
	if empty.Entities == nil || empty.Relations == nil || empty.Passages == nil {
		t.Fatalf("empty sources must be empty lists: %+v", empty)
	}
}

func TestFormatHelpers(t *testing.T) {
	if FormatEntities(nil) != "无相关实体" || FormatRelations(nil) != "无相关关系" || FormatPassages(nil) != "无相关文档片段" {
		t.Fatalf("empty placeholders changed")
	}
	got := FormatPassages([]common.Passage{{Text: "甲", Score: 0.876}, {Text: "乙", Score: 0.5}})
	want := "[片段 1] (相关度: 0.88)\n甲\n\n[片段 2] (相关度: 0.50)\n乙"
	if got != want {
		t.Fatalf("FormatPassages() = %q, want %q", got, want)
	}
	if got := FormatEntities([]common.Entity{{ID: "定投"}}); got != "- **定投** (Entity)" {
		t.Fatalf("FormatEntities() = %q", got)
	}
}

func TestEntityDetail(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle("FACTUAL")
	e := newTestEngine(t, oracle, newBookStore(t, true))

	d, err := e.EntityDetail(ctx, "李笑来")
	if err != nil || d == nil {
		t.Fatalf("EntityDetail() = %v, %v", d, err)
	}
	if d.Entity.ID != "李笑来" || len(d.Related) != 2 || len(d.Relations) != 2 || len(d.Passages) != 3 {
		t.Fatalf("detail = %+v", d)
	}
	if d.Summary != oracle.summary {
		t.Fatalf("summary = %q", d.Summary)
	}
	prompt := oracle.promptsFor(ai.EntitySummarySystemPrompt)[0]
	if !strings.Contains(prompt, "让时间陪你慢慢变富, 定投") || !strings.Contains(prompt, "- 李笑来 -> 著作 -> 让时间陪你慢慢变富") {
		t.Fatalf("summary prompt:\n%s", prompt)
	}

	oracle.summaryErr = errors.New("rate limited")
	d, err = e.EntityDetail(ctx, "定投")
	if err != nil || d.Summary != "定期定额投资" {
		t.Fatalf("fallback summary = %+v, %v", d, err)
	}

	d, err = e.EntityDetail(ctx, "不存在的东西")
	if err != nil || d != nil {
		t.Fatalf("unknown entity = %+v, %v", d, err)
	}
}

func TestSearch(t *testing.T) {
	e := newTestEngine(t, newFakeOracle("FACTUAL"), newBookStore(t, true))
	res, err := e.Search(context.Background(), "定投", SearchAll, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(res.Passages) != 2 || len(res.Entities) != 0 {
		t.Fatalf("Search() = %+v", res)
	}
	res, _ = e.Search(context.Background(), "定投", SearchEntities, 2)
	if len(res.Passages) != 0 {
		t.Fatalf("entity search returned passages")
	}
}
