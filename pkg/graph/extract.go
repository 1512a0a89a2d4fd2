package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/OFFIS-RIT/kgqa/internal/util"
	"github.com/OFFIS-RIT/kgqa/pkg/ai"
	"github.com/OFFIS-RIT/kgqa/pkg/checkpoint"
	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
	"github.com/OFFIS-RIT/kgqa/pkg/progress"

	"golang.org/x/sync/errgroup"
)

const (
	maxCoreEntities     = 10
	maxCoreEntityLength = 10
	topicSampleRunes    = 1000
)

// ErrInterrupted is matched by every *InterruptedError.
var ErrInterrupted = errors.New("extraction interrupted")

// InterruptedError reports a cancelled extraction and how far it got.
// Checkpoints of the completed chunks are kept for a later resume. Cause is
// the cancellation cause of the context, if any.
type InterruptedError struct {
	Completed int
	Total     int
	Cause     error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("extraction interrupted after %d/%d chunks", e.Completed, e.Total)
}

func (e *InterruptedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrInterrupted}
	}
	return []error{ErrInterrupted, e.Cause}
}

// CheckpointError reports a run stopped by a failed checkpoint write.
// Completed counts the chunks finished before the failure.
type CheckpointError struct {
	Completed int
	Total     int
	Err       error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("extraction stopped after %d/%d chunks: %v", e.Completed, e.Total, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// Extractor runs the model over the chunks of a document with bounded
// concurrency, per-chunk retries and checkpointing.
type Extractor struct {
	client      ai.GraphAIClient
	checkpoints checkpoint.Store
	progress    progress.Tracker
	concurrency int
	maxRetries  int
	retryBase   time.Duration
	genOpts     []ai.GenerateOption
}

// ExtractorParams configures an Extractor.
//
// MaxRetries is the number of model calls made for one chunk before it is
// given up; RetryBase is the backoff unit (attempt i waits RetryBase*2^i).
// Checkpoints and Progress are optional.
type ExtractorParams struct {
	AIClient         ai.GraphAIClient
	Checkpoints      checkpoint.Store
	Progress         progress.Tracker
	ConcurrencyLimit int
	MaxRetries       int
	RetryBase        time.Duration
	GenerateOptions  []ai.GenerateOption
}

func NewExtractor(params ExtractorParams) *Extractor {
	concurrency := params.ConcurrencyLimit
	if concurrency <= 0 {
		concurrency = 5
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Extractor{
		client:      params.AIClient,
		checkpoints: params.Checkpoints,
		progress:    params.Progress,
		concurrency: concurrency,
		maxRetries:  maxRetries,
		retryBase:   params.RetryBase,
		genOpts:     params.GenerateOptions,
	}
}

// ExtractOptions controls a single extraction run. Topic is the one-line
// document summary from DocumentTopic and may be empty.
type ExtractOptions struct {
	Resume bool
	Topic  string
}

// DocumentTopic asks the model for a one-sentence summary of the beginning
// of text. Failures are logged and yield an empty topic.
func (e *Extractor) DocumentTopic(ctx context.Context, text string) string {
	sample := util.TruncateRunes(strings.TrimSpace(text), topicSampleRunes)
	if sample == "" {
		return ""
	}
	topic, err := e.client.GenerateCompletion(ctx, fmt.Sprintf(ai.DocumentTopicPrompt, sample), e.genOpts...)
	if err != nil {
		logger.Warn("[Extract] Document topic failed", "err", err)
		return ""
	}
	return strings.TrimSpace(topic)
}

// CoreEntities collects up to limit distinct short entity names from results
// in first-seen order. Nil results are skipped.
func CoreEntities(results []*common.ExtractionResult, limit int) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, ent := range r.Entities {
			if len(names) >= limit {
				return names
			}
			name := strings.TrimSpace(ent.Name)
			if name == "" || util.RuneLen(name) > maxCoreEntityLength {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// RenderContext builds the text prepended to a chunk from the document topic
// and the core entities known so far.
func RenderContext(topic string, core []string) string {
	var b strings.Builder
	if topic != "" {
		fmt.Fprintf(&b, ai.DocumentTopicLine, topic)
	}
	if len(core) > 0 {
		fmt.Fprintf(&b, ai.CoreEntitiesLine, strings.Join(core, "、"))
	}
	return b.String()
}

// Extract processes every chunk and returns one result per chunk, in chunk
// order. All chunks share the context known before dispatch.
//
// At most ConcurrencyLimit model calls run at once. A chunk whose calls all
// fail yields an empty result. Each successful chunk is checkpointed right
// away and a failed write stops the run with a *CheckpointError; with opts.Resume checkpointed chunks are not sent again. When ctx is
// cancelled no further chunks are dispatched, in-flight chunks finish, and
// an *InterruptedError is returned. Checkpoints are cleared only after a
// complete run.
func (e *Extractor) Extract(
	ctx context.Context,
	docID string,
	chunks []common.Chunk,
	opts ExtractOptions,
) ([]common.ExtractionResult, error) {
	return e.run(ctx, docID, chunks, opts, 0)
}

// ExtractStream behaves like Extract but dispatches chunks in waves of
// ConcurrencyLimit and refreshes the core entities of the context between
// waves, so later chunks see what earlier chunks found.
func (e *Extractor) ExtractStream(
	ctx context.Context,
	docID string,
	chunks []common.Chunk,
	opts ExtractOptions,
) ([]common.ExtractionResult, error) {
	return e.run(ctx, docID, chunks, opts, e.concurrency)
}

func (e *Extractor) run(
	ctx context.Context,
	docID string,
	chunks []common.Chunk,
	opts ExtractOptions,
	wave int,
) ([]common.ExtractionResult, error) {
	total := len(chunks)
	if total == 0 {
		return nil, nil
	}

	results := make([]*common.ExtractionResult, total)
	if opts.Resume {
		e.loadCheckpoints(ctx, docID, results)
	}

	var completed atomic.Int64
	completed.Store(int64(checkpoint.Completed(results)))
	if n := completed.Load(); n > 0 {
		logger.Info("[Extract] Resuming from checkpoints", "doc", docID, "completed", util.ProgressStep(int(n), total))
		e.report(ctx, docID, int(n), progress.StageResumed)
	}

	var pending []int
	for i, r := range results {
		if r == nil {
			pending = append(pending, i)
		}
	}
	if wave <= 0 {
		wave = len(pending)
	}

	// In-flight chunks run to completion even when ctx is cancelled.
	taskCtx := context.WithoutCancel(ctx)

	for start := 0; start < len(pending); start += wave {
		if ctx.Err() != nil {
			break
		}
		end := min(start+wave, len(pending))
		prefix := RenderContext(opts.Topic, CoreEntities(results, maxCoreEntities))

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)
		for _, i := range pending[start:end] {
			chunk := chunks[i]
			g.Go(func() error {
				select {
				case <-gCtx.Done():
					return nil
				default:
				}
				res, ok := e.extractChunk(taskCtx, docID, chunk, prefix)
				if ok && e.checkpoints != nil {
					if err := e.checkpoints.Put(taskCtx, docID, i, res); err != nil {
						return fmt.Errorf("checkpoint chunk %d: %w", i, err)
					}
				}
				results[i] = &res
				n := completed.Add(1)
				e.report(taskCtx, docID, int(n), progress.StageExtracting)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, &CheckpointError{Completed: int(completed.Load()), Total: total, Err: err}
		}
	}

	done := int(completed.Load())
	if done < total {
		logger.Warn("[Extract] Extraction interrupted", "doc", docID, "completed", util.ProgressStep(done, total))
		return nil, &InterruptedError{Completed: done, Total: total, Cause: context.Cause(ctx)}
	}

	if e.checkpoints != nil {
		if err := e.checkpoints.Clear(taskCtx, docID); err != nil {
			logger.Warn("[Checkpoint] Failed to clear checkpoints", "doc", docID, "err", err)
		}
	}

	out := make([]common.ExtractionResult, total)
	for i, r := range results {
		out[i] = *r
	}
	return out, nil
}

// extractChunk calls the model with retries. ok is false when every attempt
// failed, in which case the returned result is empty.
func (e *Extractor) extractChunk(
	ctx context.Context,
	docID string,
	chunk common.Chunk,
	prefix string,
) (common.ExtractionResult, bool) {
	prompt := fmt.Sprintf(ai.ExtractPrompt, prefix+chunk.Text)

	attempt := 0
	text, err := util.RetryWithBackoff(ctx, e.maxRetries, e.retryBase, func(ctx context.Context) (string, error) {
		attempt++
		out, err := e.client.GenerateCompletion(ctx, prompt, e.genOpts...)
		if err != nil {
			logger.Debug("[Extract] Model call failed", "doc", docID, "chunk", chunk.Index, "attempt", attempt, "err", err)
		}
		return out, err
	})
	if err != nil {
		logger.Warn("[Extract] Giving up on chunk", "doc", docID, "chunk", chunk.Index, "attempts", attempt, "err", err)
		return common.ExtractionResult{}, false
	}

	return ParseResponse(text), true
}

func (e *Extractor) loadCheckpoints(ctx context.Context, docID string, results []*common.ExtractionResult) {
	if e.checkpoints == nil {
		return
	}
	cached, err := e.checkpoints.GetAll(ctx, docID, len(results))
	if err != nil {
		logger.Warn("[Checkpoint] Failed to load checkpoints, starting over", "doc", docID, "err", err)
		return
	}
	copy(results, cached)
}

func (e *Extractor) report(ctx context.Context, docID string, current int, stage string) {
	if e.progress == nil {
		return
	}
	if err := e.progress.Update(ctx, docID, current, stage); err != nil {
		logger.Warn("[Extract] Progress update failed", "doc", docID, "err", err)
	}
}
