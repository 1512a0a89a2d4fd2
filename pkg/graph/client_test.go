package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kgqa/pkg/checkpoint"
	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/progress"
	"github.com/OFFIS-RIT/kgqa/pkg/store"
	"github.com/OFFIS-RIT/kgqa/pkg/store/memory"
)

func markedDocument(id string, n int) Document {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("这是第%d段。chunk-%d", i, i)
	}
	return Document{ID: id, Filename: id + ".txt", Text: strings.Join(parts, "\n\n")}
}

func newTestClient(t *testing.T, oracle *fakeOracle, mem *memory.Store, tracker progress.Tracker) *GraphClient {
	t.Helper()
	c, err := NewGraphClient(NewGraphClientParams{
		AIClient:           oracle,
		GraphStore:         mem,
		VectorStore:        mem,
		Checkpoints:        checkpoint.NewFileStore(t.TempDir()),
		Progress:           tracker,
		ChunkSize:          20,
		ParallelAiRequests: 2,
	})
	if err != nil {
		t.Fatalf("NewGraphClient() error = %v", err)
	}
	return c
}

func TestBuildAndSaveGraph(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	tracker := progress.NewMemoryTracker()
	oracle := newFakeOracle()
	c := newTestClient(t, oracle, mem, tracker)

	res, err := c.BuildGraph(ctx, markedDocument("doc", 3), BuildOptions{ConnectIslands: true})
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	if res.Stats.Chunks != 3 || len(res.Chunks) != 3 || res.Stats.Topic != oracle.topic {
		t.Fatalf("stats = %+v", res.Stats)
	}
	// 实体0 - 实体1 - 实体2 - 实体3
	if len(res.Graph.Entities) != 4 || len(res.Graph.Relations) != 3 {
		t.Fatalf("graph = %+v", res.Graph)
	}
	for _, e := range res.Graph.Entities {
		if len(e.DocIDs) != 1 || e.DocIDs[0] != "doc" {
			t.Fatalf("entity %s doc ids = %v", e.ID, e.DocIDs)
		}
	}

	stats, err := c.SaveGraph(ctx, "doc", res.Graph, res.Chunks, false)
	if err != nil {
		t.Fatalf("SaveGraph() error = %v", err)
	}
	if stats.Nodes != 4 || stats.Relations != 3 || stats.Passages != 3 || stats.EntityVectors != 4 {
		t.Fatalf("save stats = %+v", stats)
	}
	if n, _ := mem.Count(ctx, "doc"); n != 3 {
		t.Fatalf("passages stored = %d", n)
	}
	passages, _ := mem.SearchPassages(ctx, fakeEmbedding(res.Chunks[1].Text), 1, "doc")
	if len(passages) != 1 || passages[0].ID != "doc_chunk_1" {
		t.Fatalf("nearest passage = %+v", passages)
	}
	matches, _ := mem.SearchEntities(ctx, fakeEmbedding("实体2"), 10)
	if len(matches) != 4 {
		t.Fatalf("entity vectors = %+v", matches)
	}

	rec, _ := tracker.Get(ctx, "doc")
	if rec == nil || rec.Stage != progress.StageSaving || rec.Total != 3 {
		t.Fatalf("progress = %+v", rec)
	}

	del, err := c.DeleteDocument(ctx, "doc")
	if err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if del.Nodes != 4 || del.Relations != 3 || del.Vectors != 7 {
		t.Fatalf("delete stats = %+v", del)
	}
	if st, _ := mem.Stats(ctx); st.Nodes != 0 || st.Relations != 0 {
		t.Fatalf("store not empty: %+v", st)
	}
}

func TestBuildGraphEmptyDocument(t *testing.T) {
	oracle := newFakeOracle()
	c := newTestClient(t, oracle, memory.New(), nil)
	res, err := c.BuildGraph(context.Background(), Document{ID: "doc", Text: " \n\n "}, BuildOptions{})
	if err != nil || res.Stats.Chunks != 0 || len(res.Graph.Entities) != 0 {
		t.Fatalf("BuildGraph(empty) = %+v, %v", res, err)
	}
	if oracle.calls.Load() != 0 {
		t.Fatalf("model called for an empty document")
	}
}

func TestBuildGraphInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestClient(t, newFakeOracle(), memory.New(), nil)

	_, err := c.BuildGraph(ctx, markedDocument("doc", 3), BuildOptions{})
	var interrupted *InterruptedError
	if !errors.As(err, &interrupted) || interrupted.Total != 3 {
		t.Fatalf("BuildGraph() error = %v", err)
	}
}

type failingVectors struct {
	*memory.Store
}

func (failingVectors) UpsertEntities(ctx context.Context, entities []store.EntityVector) error {
	return errors.New("disk full")
}

func TestSaveGraphPartialFailure(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	c, err := NewGraphClient(NewGraphClientParams{
		AIClient:    newFakeOracle(),
		GraphStore:  mem,
		VectorStore: failingVectors{mem},
	})
	if err != nil {
		t.Fatal(err)
	}

	g := ToGraph(common.ExtractionResult{
		Entities:  []common.RawEntity{{Name: "A"}, {Name: "B"}},
		Relations: []common.RawRelation{{Source: "A", Target: "B", Relation: "包含"}},
	})
	chunks := []common.Chunk{{Index: 0, Text: "A 包含 B"}}

	stats, err := c.SaveGraph(ctx, "doc", g, chunks, false)
	var se *store.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("SaveGraph() error = %v, want *store.StoreError", err)
	}
	if se.Op != "upsert entity vectors" || se.Stats.Nodes != 2 || se.Stats.Passages != 1 || stats != se.Stats {
		t.Fatalf("partial stats = %+v", se)
	}
	if st, _ := mem.Stats(ctx); st.Nodes != 2 {
		t.Fatalf("graph write was rolled back: %+v", st)
	}
}

func TestNewGraphClientRequiresOracle(t *testing.T) {
	if _, err := NewGraphClient(NewGraphClientParams{}); err == nil {
		t.Fatalf("expected error without an ai client")
	}
}

func graphComponents(g common.Graph) int {
	names := make([]string, 0, len(g.Entities))
	for _, e := range g.Entities {
		names = append(names, e.ID)
	}
	relations := make([]common.RawRelation, 0, len(g.Relations))
	for _, r := range g.Relations {
		relations = append(relations, common.RawRelation{Source: r.Source, Target: r.Target, Relation: r.Label})
	}
	return len(components(names, relations))
}

func TestBuildGraphConnectsIslandsByDefault(t *testing.T) {
	// 实体0 - 实体1 and 实体5 - 实体6 share no entity
	doc := Document{ID: "doc", Text: "这是第0段。chunk-0\n\n这是第5段。chunk-5"}

	tests := []struct {
		name string
		opts BuildOptions
		want int
	}{
		{"full document", BuildOptions{}, 1},
		{"stream", BuildOptions{Stream: true}, 2},
		{"stream with islands", BuildOptions{Stream: true, ConnectIslands: true}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, newFakeOracle(), memory.New(), nil)
			res, err := c.BuildGraph(context.Background(), doc, tt.opts)
			if err != nil {
				t.Fatalf("BuildGraph() error = %v", err)
			}
			if res.Stats.Chunks != 2 || len(res.Graph.Entities) != 4 {
				t.Fatalf("graph = %+v", res.Graph)
			}
			if n := graphComponents(res.Graph); n != tt.want {
				t.Fatalf("components = %d, want %d", n, tt.want)
			}
		})
	}
}

func TestBuildGraphKeepsPendingCancellation(t *testing.T) {
	ctx := context.Background()
	tracker := progress.NewMemoryTracker()
	if err := tracker.Start(ctx, "doc", "doc.txt", 0); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Cancel(ctx, "doc"); err != nil {
		t.Fatal(err)
	}

	oracle := newFakeOracle()
	c := newTestClient(t, oracle, memory.New(), tracker)
	watched, stop := progress.WatchCancellation(ctx, tracker, "doc", time.Hour)
	defer stop()

	_, err := c.BuildGraph(watched, markedDocument("doc", 3), BuildOptions{})
	var interrupted *InterruptedError
	if !errors.As(err, &interrupted) || interrupted.Total != 3 {
		t.Fatalf("BuildGraph() error = %v, want *InterruptedError", err)
	}
	if !errors.Is(err, progress.ErrCancelled) {
		t.Fatalf("error %v does not carry the cancellation", err)
	}
	if n := oracle.calls.Load(); n != 0 {
		t.Fatalf("model called %d times for a cancelled document", n)
	}
	if cancelled, _ := tracker.IsCancelled(ctx, "doc"); !cancelled {
		t.Fatalf("cancellation flag was cleared")
	}
	if rec, _ := tracker.Get(ctx, "doc"); rec == nil || rec.Total != 3 {
		t.Fatalf("progress = %+v", rec)
	}
}

func TestBuildGraphRestartsFinishedRecord(t *testing.T) {
	ctx := context.Background()
	tracker := progress.NewMemoryTracker()
	_ = tracker.Start(ctx, "doc", "doc.txt", 1)
	_ = tracker.Complete(ctx, "doc", nil)

	c := newTestClient(t, newFakeOracle(), memory.New(), tracker)
	if _, err := c.BuildGraph(ctx, markedDocument("doc", 2), BuildOptions{}); err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	rec, _ := tracker.Get(ctx, "doc")
	if rec == nil || rec.Status != progress.StatusProcessing || rec.Total != 2 {
		t.Fatalf("progress = %+v", rec)
	}
}
