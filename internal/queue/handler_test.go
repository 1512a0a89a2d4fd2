package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kgqa/pkg/checkpoint"
	"github.com/OFFIS-RIT/kgqa/pkg/graph"
	"github.com/OFFIS-RIT/kgqa/pkg/leaselock"
	loaderio "github.com/OFFIS-RIT/kgqa/pkg/loader/io"
	"github.com/OFFIS-RIT/kgqa/pkg/progress"
	"github.com/OFFIS-RIT/kgqa/pkg/query"
	"github.com/OFFIS-RIT/kgqa/pkg/store/memory"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

const book = "李笑来写了《让时间陪你慢慢变富》。\n\n" +
	"书中主张长期定投指数基金。\n\n" +
	"定投的关键在于坚持，而不是择时。"

type testEnv struct {
	handler *Handler
	mem     *memory.Store
	tracker *progress.StoreTracker
	locks   *leaselock.Client
	oracle  *fakeOracle
	root    string
}

func newTestEnv(t *testing.T, oracle *fakeOracle) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	root := t.TempDir()
	mem := memory.New()
	tracker := progress.NewMemoryTracker()
	locks := leaselock.NewRedis(rdb)

	gc, err := graph.NewGraphClient(graph.NewGraphClientParams{
		AIClient:           oracle,
		GraphStore:         mem,
		VectorStore:        mem,
		Checkpoints:        checkpoint.NewFileStore(t.TempDir()),
		Progress:           tracker,
		ChunkSize:          20,
		ParallelAiRequests: 1,
	})
	if err != nil {
		t.Fatalf("NewGraphClient() error = %v", err)
	}
	retriever, err := query.NewRetriever(query.NewRetrieverParams{
		AIClient:    oracle,
		GraphStore:  mem,
		VectorStore: mem,
	})
	if err != nil {
		t.Fatalf("NewRetriever() error = %v", err)
	}
	engine, err := query.NewEngine(query.NewEngineParams{Retriever: retriever, AIClient: oracle})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	h, err := NewHandler(NewHandlerParams{
		GraphClient: gc,
		Engine:      engine,
		Progress:    tracker,
		Locks:       locks,
		Files:       loaderio.NewIOGraphFileLoader(root),
		CancelPoll:  5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	return &testEnv{handler: h, mem: mem, tracker: tracker, locks: locks, oracle: oracle, root: root}
}

func (e *testEnv) writeFile(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.root, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExtractQueryDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeOracle{answer: "定投需要长期坚持。"})
	env.writeFile(t, "book.txt", book)

	if err := env.handler.ProcessExtract(ctx, []byte(`{"doc_id":"book","file_key":"book.txt"}`)); err != nil {
		t.Fatalf("ProcessExtract() error = %v", err)
	}

	stats, _ := env.mem.Stats(ctx)
	if stats.Nodes != 2 || stats.Relations != 1 {
		t.Fatalf("graph stats = %+v", stats)
	}
	rec, err := env.tracker.Get(ctx, "book")
	if err != nil || rec == nil {
		t.Fatalf("progress = %+v, %v", rec, err)
	}
	if rec.Status != progress.StatusCompleted || rec.Stats["nodes"] != 2 {
		t.Fatalf("progress record = %+v", rec)
	}
	passages, _ := env.mem.Count(ctx, "book")
	if passages == 0 || rec.Stats["passages"] != passages {
		t.Fatalf("passages = %d, stats = %v", passages, rec.Stats)
	}

	body, err := env.handler.ProcessQuery(ctx, []byte(`{"question":"定投的关键是什么？","mode":"rag_only","doc_id":"book"}`))
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v", err)
	}
	var reply QueryReply
	if err := json.Unmarshal(body, &reply); err != nil {
		t.Fatalf("reply %s: %v", body, err)
	}
	if reply.TraceID == "" || reply.Answer.Text != "定投需要长期坚持。" || reply.Answer.Strategy != query.StrategyRAGOnly {
		t.Fatalf("reply = %+v", reply)
	}
	if len(reply.Trace.UsedPassageIDs) == 0 || !strings.HasPrefix(reply.Trace.UsedPassageIDs[0], "book_chunk_") {
		t.Fatalf("trace = %+v", reply.Trace)
	}

	if err := env.handler.ProcessDelete(ctx, []byte(`{"doc_id":"book"}`)); err != nil {
		t.Fatalf("ProcessDelete() error = %v", err)
	}
	stats, _ = env.mem.Stats(ctx)
	if stats.Nodes != 0 || stats.Relations != 0 {
		t.Fatalf("graph after delete = %+v", stats)
	}
	if n, _ := env.mem.Count(ctx, "book"); n != 0 {
		t.Fatalf("passages after delete = %d", n)
	}
	if rec, _ := env.tracker.Get(ctx, "book"); rec != nil {
		t.Fatalf("progress after delete = %+v", rec)
	}
}

func TestExtractRejectsInvalidMessages(t *testing.T) {
	env := newTestEnv(t, &fakeOracle{})
	env.writeFile(t, "scan.pdf", "%PDF-1.4")

	tests := []struct {
		name string
		body string
	}{
		{"not json", `doc`},
		{"missing doc id", `{"file_key":"book.txt"}`},
		{"missing source", `{"doc_id":"book"}`},
		{"bad url", `{"doc_id":"book","url":"not a url"}`},
		{"no web loader", `{"doc_id":"book","url":"https://example.com/a"}`},
		{"unsupported format", `{"doc_id":"scan","file_key":"scan.pdf"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.handler.ProcessExtract(context.Background(), []byte(tt.body))
			if !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("ProcessExtract() error = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestExtractBusyDocument(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeOracle{})
	env.writeFile(t, "book.txt", book)

	lease, err := env.locks.Acquire(ctx, leaselock.DocumentKey("book"), leaselock.Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lease.Release(ctx)

	err = env.handler.ProcessExtract(ctx, []byte(`{"doc_id":"book","file_key":"book.txt"}`))
	if !errors.Is(err, leaselock.ErrBusy) {
		t.Fatalf("ProcessExtract() error = %v, want ErrBusy", err)
	}
	if stats, _ := env.mem.Stats(ctx); stats.Nodes != 0 {
		t.Fatalf("graph written while locked: %+v", stats)
	}
}

func TestExtractCancelled(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{block: make(chan struct{})}
	env := newTestEnv(t, oracle)
	env.writeFile(t, "book.txt", book)

	done := make(chan error, 1)
	go func() {
		done <- env.handler.ProcessExtract(ctx, []byte(`{"doc_id":"book","file_key":"book.txt"}`))
	}()

	// wait until the graph client registered the chunks
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, _ := env.tracker.Get(ctx, "book")
		if rec != nil && rec.Total > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("extraction did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := env.handler.ProcessCancel(ctx, []byte(`{"doc_id":"book"}`)); err != nil {
		t.Fatalf("ProcessCancel() error = %v", err)
	}
	// give the watcher time to cancel before the in-flight chunk finishes
	time.Sleep(100 * time.Millisecond)
	close(oracle.block)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ProcessExtract() error = %v, want nil for a cancelled document", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("extraction did not stop")
	}

	rec, _ := env.tracker.Get(ctx, "book")
	if rec == nil || rec.Status != progress.StatusCancelled {
		t.Fatalf("progress = %+v", rec)
	}
	if stats, _ := env.mem.Stats(ctx); stats.Nodes != 0 {
		t.Fatalf("cancelled document was saved: %+v", stats)
	}
}

func TestQueryWithoutEngine(t *testing.T) {
	h := &Handler{}
	if _, err := h.ProcessQuery(context.Background(), []byte(`{"question":"q"}`)); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("ProcessQuery() error = %v", err)
	}
}
