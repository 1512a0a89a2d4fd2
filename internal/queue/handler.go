package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgqa/pkg/graph"
	"github.com/OFFIS-RIT/kgqa/pkg/leaselock"
	"github.com/OFFIS-RIT/kgqa/pkg/loader"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
	"github.com/OFFIS-RIT/kgqa/pkg/progress"
	"github.com/OFFIS-RIT/kgqa/pkg/query"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	defaultLeaseTTL    = 10 * time.Minute
	defaultCancelPoll  = time.Second
	deleteLeaseTimeout = 30 * time.Minute
)

// Handler processes the bodies of queue messages.
type Handler struct {
	graphClient *graph.GraphClient
	engine      *query.Engine
	progress    progress.Tracker
	locks       *leaselock.Client
	files       loader.GraphFileLoader
	web         loader.GraphFileLoader
	leaseTTL    time.Duration
	cancelPoll  time.Duration
}

type NewHandlerParams struct {
	GraphClient *graph.GraphClient
	Engine      *query.Engine
	Progress    progress.Tracker
	// Locks is optional; without it documents are not guarded against
	// concurrent extraction by several workers.
	Locks *leaselock.Client
	// Files loads extract messages by file_key, Web by url.
	Files      loader.GraphFileLoader
	Web        loader.GraphFileLoader
	LeaseTTL   time.Duration
	CancelPoll time.Duration
}

func NewHandler(params NewHandlerParams) (*Handler, error) {
	if params.GraphClient == nil {
		return nil, errors.New("handler requires a graph client")
	}
	if params.Progress == nil {
		params.Progress = progress.NewMemoryTracker()
	}
	if params.LeaseTTL <= 0 {
		params.LeaseTTL = defaultLeaseTTL
	}
	if params.CancelPoll <= 0 {
		params.CancelPoll = defaultCancelPoll
	}
	return &Handler{
		graphClient: params.GraphClient,
		engine:      params.Engine,
		progress:    params.Progress,
		locks:       params.Locks,
		files:       params.Files,
		web:         params.Web,
		leaseTTL:    params.LeaseTTL,
		cancelPoll:  params.CancelPoll,
	}, nil
}

func (h *Handler) withDocumentLease(
	ctx context.Context,
	docID, op string,
	wait bool,
	fn func(ctx context.Context) error,
) error {
	if h.locks == nil {
		return fn(ctx)
	}
	return h.locks.WithLease(ctx, leaselock.DocumentKey(docID), leaselock.Options{
		TTL:         h.leaseTTL,
		Wait:        wait,
		WaitJitter:  100 * time.Millisecond,
		TokenPrefix: fmt.Sprintf("%s/%s/", op, docID),
	}, fn)
}

func (h *Handler) loadDocument(ctx context.Context, msg QueueExtractMsg) (graph.Document, error) {
	file := loader.GraphFile{ID: msg.DocID, Path: msg.FileKey, Filename: msg.Filename, Loader: h.files}
	if msg.URL != "" {
		file.Path = msg.URL
		file.Loader = h.web
	}
	if file.Loader == nil {
		return graph.Document{}, fmt.Errorf("%w: no loader for %q", ErrInvalidMessage, file.Path)
	}
	if file.Filename == "" && msg.URL == "" {
		file.Filename = msg.FileKey
	}

	text, err := file.GetText(ctx)
	if f, ok := file.Loader.(loader.Forgetter); ok {
		f.Forget(file)
	}
	if err != nil {
		if errors.Is(err, loader.ErrUnsupportedFormat) {
			return graph.Document{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return graph.Document{}, fmt.Errorf("load document %s: %w", msg.DocID, err)
	}
	name := file.Filename
	if name == "" {
		name = file.Path
	}
	return graph.Document{ID: msg.DocID, Filename: name, Text: text}, nil
}

// ProcessExtract builds and stores the graph of one document. A document
// cancelled through the cancel queue is reported as processed so that the
// message is not retried; it can be resumed with a later message that sets
// resume.
func (h *Handler) ProcessExtract(ctx context.Context, body []byte) error {
	msg, err := decodeExtractMsg(body)
	if err != nil {
		return err
	}

	doc, err := h.loadDocument(ctx, msg)
	if err != nil {
		return err
	}

	return h.withDocumentLease(ctx, msg.DocID, "extract", false, func(ctx context.Context) error {
		// clears a cancellation left over from an earlier run
		if err := h.progress.Start(ctx, doc.ID, doc.Filename, 0); err != nil {
			logger.Warn("[Queue] Progress start failed", "doc", doc.ID, "err", err)
		}

		watched, stop := progress.WatchCancellation(ctx, h.progress, doc.ID, h.cancelPoll)
		defer stop()

		res, err := h.graphClient.BuildGraph(watched, doc, graph.BuildOptions{
			Resume:         msg.Resume,
			Stream:         msg.Stream,
			ConnectIslands: msg.ConnectIslands,
		})
		if err != nil {
			var interrupted *graph.InterruptedError
			if errors.As(err, &interrupted) && errors.Is(err, progress.ErrCancelled) {
				logger.Info(
					"[Queue] Extraction cancelled",
					"doc", doc.ID,
					"completed", interrupted.Completed,
					"total", interrupted.Total,
				)
				return nil
			}
			h.fail(ctx, doc.ID, err)
			return err
		}

		saved, err := h.graphClient.SaveGraph(ctx, doc.ID, res.Graph, res.Chunks, msg.Overwrite)
		if err != nil {
			h.fail(ctx, doc.ID, err)
			return err
		}

		stats := map[string]any{
			"chunks":      res.Stats.Chunks,
			"tokens":      res.Stats.Tokens,
			"nodes":       saved.Nodes,
			"relations":   saved.Relations,
			"passages":    saved.Passages,
			"duration_ms": res.Stats.Duration.Milliseconds(),
		}
		if err := h.progress.Complete(ctx, doc.ID, stats); err != nil {
			logger.Warn("[Queue] Progress complete failed", "doc", doc.ID, "err", err)
		}
		logger.Info("[Queue] Extraction completed", "doc", doc.ID, "nodes", saved.Nodes, "relations", saved.Relations)
		return nil
	})
}

func (h *Handler) fail(ctx context.Context, docID string, cause error) {
	if err := h.progress.Fail(context.WithoutCancel(ctx), docID, cause.Error()); err != nil {
		logger.Warn("[Queue] Progress fail failed", "doc", docID, "err", err)
	}
}

// ProcessDelete removes a document from the stores. It waits for a running
// extraction of the same document to finish.
func (h *Handler) ProcessDelete(ctx context.Context, body []byte) error {
	var msg QueueDeleteMsg
	if err := decodeMsg(body, &msg); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, deleteLeaseTimeout)
	defer cancel()

	start := time.Now()
	return h.withDocumentLease(waitCtx, msg.DocID, "delete", true, func(ctx context.Context) error {
		stats, err := h.graphClient.DeleteDocument(ctx, msg.DocID)
		if err != nil {
			return err
		}
		if err := h.progress.Delete(ctx, msg.DocID); err != nil {
			logger.Warn("[Queue] Progress delete failed", "doc", msg.DocID, "err", err)
		}
		logger.Info(
			"[Queue] Delete completed",
			"doc", msg.DocID,
			"nodes", stats.Nodes,
			"relations", stats.Relations,
			"vectors", stats.Vectors,
			"duration_sec", time.Since(start).Seconds(),
		)
		return nil
	})
}

// ProcessCancel flags a running extraction for cancellation.
func (h *Handler) ProcessCancel(ctx context.Context, body []byte) error {
	var msg QueueCancelMsg
	if err := decodeMsg(body, &msg); err != nil {
		return err
	}
	if err := h.progress.Cancel(ctx, msg.DocID); err != nil {
		return fmt.Errorf("cancel %s: %w", msg.DocID, err)
	}
	logger.Info("[Queue] Cancellation requested", "doc", msg.DocID)
	return nil
}

// QueryReply is the JSON body sent back for a query message.
type QueryReply struct {
	TraceID string                   `json:"trace_id"`
	Answer  query.Answer             `json:"answer"`
	Trace   query.QueryTraceSnapshot `json:"trace"`
}

// ProcessQuery answers a question and returns the encoded QueryReply.
func (h *Handler) ProcessQuery(ctx context.Context, body []byte) ([]byte, error) {
	if h.engine == nil {
		return nil, fmt.Errorf("%w: queries are not served by this worker", ErrInvalidMessage)
	}
	var msg QueueQueryMsg
	if err := decodeMsg(body, &msg); err != nil {
		return nil, err
	}

	traceID, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	trace := query.NewQueryTrace()
	ans, err := h.engine.Ask(ctx, msg.Question, query.RetrieveOptions{
		Mode:   msg.Mode,
		Hops:   msg.Hops,
		TopK:   msg.TopK,
		DocID:  msg.DocID,
		Tracer: trace,
	})
	if err != nil {
		return nil, fmt.Errorf("answer question: %w", err)
	}

	logger.Info(
		"[Queue] Question answered",
		"trace_id", traceID,
		"strategy", ans.Strategy,
		"entities", len(ans.Entities),
		"passages", len(ans.Passages),
		"no_information", ans.NoInformation,
	)
	return json.Marshal(QueryReply{TraceID: traceID, Answer: ans, Trace: trace.Snapshot()})
}
