package progress

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()

	if err := tr.Update(ctx, "unknown", 3, StageExtracting); err != nil {
		t.Fatalf("Update() on unknown doc error = %v", err)
	}
	if rec, _ := tr.Get(ctx, "unknown"); rec != nil {
		t.Fatalf("Update() created a record for an unknown doc")
	}

	if err := tr.Start(ctx, "doc", "", 8); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	rec, err := tr.Get(ctx, "doc")
	if err != nil || rec == nil {
		t.Fatalf("Get() = %v, %v", rec, err)
	}
	if rec.Filename != "doc" || rec.Status != StatusProcessing || rec.Stage != StageChunked {
		t.Fatalf("started record = %+v", rec)
	}

	if err := tr.Update(ctx, "doc", 2, StageExtracting); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	rec, _ = tr.Get(ctx, "doc")
	if rec.Current != 2 || rec.Percent != 25 || rec.Stage != StageExtracting {
		t.Fatalf("updated record = %+v", rec)
	}

	if err := tr.Update(ctx, "doc", 3, ""); err != nil {
		t.Fatal(err)
	}
	rec, _ = tr.Get(ctx, "doc")
	if rec.Stage != StageExtracting {
		t.Fatalf("empty stage replaced %q", rec.Stage)
	}

	if err := tr.Complete(ctx, "doc", map[string]any{"nodes": 3}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	rec, _ = tr.Get(ctx, "doc")
	if rec.Status != StatusCompleted || rec.Percent != 100 || rec.FinishedAt == nil || rec.Stats["nodes"] != 3 {
		t.Fatalf("completed record = %+v", rec)
	}

	if err := tr.Delete(ctx, "doc"); err != nil {
		t.Fatal(err)
	}
	if rec, _ := tr.Get(ctx, "doc"); rec != nil {
		t.Fatalf("record survived Delete()")
	}
}

func TestTrackerFailAndCancel(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()

	_ = tr.Start(ctx, "a", "a.txt", 4)
	if err := tr.Fail(ctx, "a", "boom"); err != nil {
		t.Fatal(err)
	}
	rec, _ := tr.Get(ctx, "a")
	if rec.Status != StatusFailed || rec.Error != "boom" {
		t.Fatalf("failed record = %+v", rec)
	}

	_ = tr.Start(ctx, "b", "b.txt", 4)
	if err := tr.Cancel(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := tr.IsCancelled(ctx, "b"); !ok {
		t.Fatalf("IsCancelled() = false after Cancel()")
	}
	// A late progress update must not hide the cancellation.
	_ = tr.Update(ctx, "b", 1, StageExtracting)
	rec, _ = tr.Get(ctx, "b")
	if rec.Status != StatusCancelled {
		t.Fatalf("status = %q, want cancelled", rec.Status)
	}

	_ = tr.Start(ctx, "b", "b.txt", 4)
	if ok, _ := tr.IsCancelled(ctx, "b"); ok {
		t.Fatalf("Start() did not reset the cancellation flag")
	}

	if err := tr.Cancel(ctx, "missing"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := tr.IsCancelled(ctx, "missing"); ok {
		t.Fatalf("unknown document flagged as cancelled")
	}
}

func TestWatchCancellation(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	_ = tr.Start(ctx, "doc", "doc.txt", 10)

	watched, stop := WatchCancellation(ctx, tr, "doc", 5*time.Millisecond)
	defer stop()

	select {
	case <-watched.Done():
		t.Fatalf("context cancelled before Cancel()")
	case <-time.After(20 * time.Millisecond):
	}

	_ = tr.Cancel(ctx, "doc")
	select {
	case <-watched.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("context not cancelled after Cancel()")
	}
	if !errors.Is(context.Cause(watched), ErrCancelled) {
		t.Fatalf("cause = %v, want ErrCancelled", context.Cause(watched))
	}
}

func TestWatchCancellationStop(t *testing.T) {
	watched, stop := WatchCancellation(context.Background(), NewMemoryTracker(), "doc", time.Millisecond)
	stop()
	<-watched.Done()
	if errors.Is(context.Cause(watched), ErrCancelled) {
		t.Fatalf("stop() reported a user cancellation")
	}
}

func TestSetTotalKeepsCancellation(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	_ = tr.Start(ctx, "doc", "doc.txt", 0)
	_ = tr.Update(ctx, "doc", 2, StageExtracting)
	_ = tr.Cancel(ctx, "doc")

	if err := tr.SetTotal(ctx, "doc", 4); err != nil {
		t.Fatalf("SetTotal() error = %v", err)
	}
	rec, _ := tr.Get(ctx, "doc")
	if rec.Total != 4 || rec.Percent != 50 || rec.Status != StatusCancelled {
		t.Fatalf("record = %+v", rec)
	}
	if cancelled, _ := tr.IsCancelled(ctx, "doc"); !cancelled {
		t.Fatalf("SetTotal cleared the cancellation")
	}

	_ = tr.Start(ctx, "doc", "doc.txt", 4)
	if cancelled, _ := tr.IsCancelled(ctx, "doc"); cancelled {
		t.Fatalf("Start kept the cancellation")
	}
	if err := tr.SetTotal(ctx, "unknown", 3); err != nil {
		t.Fatalf("SetTotal(unknown) error = %v", err)
	}
}
