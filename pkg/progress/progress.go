// Package progress tracks the processing state of documents and carries the
// user's request to cancel one.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgqa/internal/util"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

const (
	StageChunked    = "chunked"
	StageResumed    = "resumed"
	StageExtracting = "extracting"
	StageMerging    = "merging"
	StageSaving     = "saving"
	StageCompleted  = "completed"
	StageFailed     = "failed"
	StageCancelled  = "cancelled"
)

// ErrCancelled is the cancellation cause set by WatchCancellation.
var ErrCancelled = errors.New("document processing cancelled")

// Record is the progress of one document.
type Record struct {
	DocID      string         `json:"doc_id"`
	Filename   string         `json:"filename"`
	Status     Status         `json:"status"`
	Current    int            `json:"current"`
	Total      int            `json:"total"`
	Stage      string         `json:"stage"`
	Percent    int            `json:"progress"`
	StartedAt  time.Time      `json:"started_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	Stats      map[string]any `json:"stats,omitempty"`
}

// Tracker records document progress. Operations on an unknown document
// other than Start are no-ops.
type Tracker interface {
	Start(ctx context.Context, docID string, filename string, total int) error
	SetTotal(ctx context.Context, docID string, total int) error
	Update(ctx context.Context, docID string, current int, stage string) error
	Complete(ctx context.Context, docID string, stats map[string]any) error
	Fail(ctx context.Context, docID string, reason string) error
	Cancel(ctx context.Context, docID string) error
	Get(ctx context.Context, docID string) (*Record, error)
	IsCancelled(ctx context.Context, docID string) (bool, error)
	Delete(ctx context.Context, docID string) error
}

// RecordStore persists records for a StoreTracker. The cancellation flag is
// kept apart from the record so that a concurrent Update cannot overwrite it.
// Load returns nil, nil for unknown documents.
type RecordStore interface {
	Load(ctx context.Context, docID string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Remove(ctx context.Context, docID string) error
	SetCancelled(ctx context.Context, docID string, cancelled bool) error
	Cancelled(ctx context.Context, docID string) (bool, error)
}

// StoreTracker implements Tracker on top of a RecordStore.
type StoreTracker struct {
	store RecordStore
	now   func() time.Time
}

func NewTracker(store RecordStore) *StoreTracker {
	return &StoreTracker{store: store, now: time.Now}
}

func (t *StoreTracker) Start(ctx context.Context, docID string, filename string, total int) error {
	if filename == "" {
		filename = docID
	}
	now := t.now()
	if err := t.store.SetCancelled(ctx, docID, false); err != nil {
		return fmt.Errorf("reset cancellation: %w", err)
	}
	return t.store.Save(ctx, &Record{
		DocID:     docID,
		Filename:  filename,
		Status:    StatusProcessing,
		Total:     total,
		Stage:     StageChunked,
		StartedAt: now,
		UpdatedAt: now,
	})
}

func (t *StoreTracker) modify(ctx context.Context, docID string, fn func(*Record)) error {
	rec, err := t.store.Load(ctx, docID)
	if err != nil {
		return fmt.Errorf("load progress: %w", err)
	}
	if rec == nil {
		return nil
	}
	fn(rec)
	rec.UpdatedAt = t.now()
	if err := t.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// SetTotal changes the number of steps of a running document and leaves the
// cancellation flag alone.
func (t *StoreTracker) SetTotal(ctx context.Context, docID string, total int) error {
	return t.modify(ctx, docID, func(r *Record) {
		r.Total = total
		r.Percent = util.ProgressPercent(r.Current, total)
	})
}

func (t *StoreTracker) Update(ctx context.Context, docID string, current int, stage string) error {
	return t.modify(ctx, docID, func(r *Record) {
		r.Current = current
		r.Percent = util.ProgressPercent(current, r.Total)
		if stage != "" {
			r.Stage = stage
		}
	})
}

func (t *StoreTracker) Complete(ctx context.Context, docID string, stats map[string]any) error {
	return t.modify(ctx, docID, func(r *Record) {
		now := t.now()
		r.Status = StatusCompleted
		r.Current = r.Total
		r.Percent = 100
		r.Stage = StageCompleted
		r.FinishedAt = &now
		if stats != nil {
			r.Stats = stats
		}
	})
}

func (t *StoreTracker) Fail(ctx context.Context, docID string, reason string) error {
	return t.modify(ctx, docID, func(r *Record) {
		now := t.now()
		r.Status = StatusFailed
		r.Stage = StageFailed
		r.Error = reason
		r.FinishedAt = &now
	})
}

// Cancel flags the document. Running extractions observe the flag through
// IsCancelled or WatchCancellation.
func (t *StoreTracker) Cancel(ctx context.Context, docID string) error {
	rec, err := t.store.Load(ctx, docID)
	if err != nil {
		return fmt.Errorf("load progress: %w", err)
	}
	if rec == nil {
		return nil
	}
	if err := t.store.SetCancelled(ctx, docID, true); err != nil {
		return fmt.Errorf("set cancellation: %w", err)
	}
	return t.modify(ctx, docID, func(r *Record) {
		now := t.now()
		r.Status = StatusCancelled
		r.Stage = StageCancelled
		r.FinishedAt = &now
	})
}

// Get returns the record of docID, or nil when the document is unknown.
// A set cancellation flag always shows as StatusCancelled.
func (t *StoreTracker) Get(ctx context.Context, docID string) (*Record, error) {
	rec, err := t.store.Load(ctx, docID)
	if err != nil || rec == nil {
		return rec, err
	}
	cancelled, err := t.store.Cancelled(ctx, docID)
	if err != nil {
		return nil, err
	}
	if cancelled {
		rec.Status = StatusCancelled
	}
	return rec, nil
}

func (t *StoreTracker) IsCancelled(ctx context.Context, docID string) (bool, error) {
	return t.store.Cancelled(ctx, docID)
}

func (t *StoreTracker) Delete(ctx context.Context, docID string) error {
	if err := t.store.SetCancelled(ctx, docID, false); err != nil {
		return err
	}
	return t.store.Remove(ctx, docID)
}
