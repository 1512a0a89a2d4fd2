package query

import (
	"slices"
	"sync"
)

type TraceEventKind string

const (
	TraceEventStrategy             TraceEventKind = "strategy"
	TraceEventConsideredPassageIDs TraceEventKind = "considered_passage_ids"
	TraceEventUsedPassageIDs       TraceEventKind = "used_passage_ids"
	TraceEventAnchoredEntityIDs    TraceEventKind = "anchored_entity_ids"
	TraceEventQueriedEntityTypes   TraceEventKind = "queried_entity_types"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	Intent      Intent
	Strategy    Strategy
	PassageIDs  []string
	EntityIDs   []string
	EntityTypes []string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordStrategy(t Tracer, intent Intent, strategy Strategy) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventStrategy, Intent: intent, Strategy: strategy})
}

func RecordConsideredPassageIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredPassageIDs, PassageIDs: ids})
}

func RecordUsedPassageIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventUsedPassageIDs, PassageIDs: ids})
}

func RecordAnchoredEntityIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventAnchoredEntityIDs, EntityIDs: ids})
}

func RecordQueriedEntityTypes(t Tracer, types ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedEntityTypes, EntityTypes: types})
}

// QueryTrace collects which strategy ran and which entities and passages
// were considered and used while answering one question.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	intent             Intent
	strategy           Strategy
	consideredPassages map[string]struct{}
	usedPassages       map[string]struct{}
	anchoredEntities   map[string]struct{}
	queriedEntityTypes map[string]struct{}
}

type QueryTraceSnapshot struct {
	Intent               Intent   `json:"intent,omitempty"`
	Strategy             Strategy `json:"strategy,omitempty"`
	ConsideredPassageIDs []string `json:"considered_passage_ids"`
	UsedPassageIDs       []string `json:"used_passage_ids"`
	AnchoredEntityIDs    []string `json:"anchored_entity_ids"`
	QueriedEntityTypes   []string `json:"queried_entity_types"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		consideredPassages: make(map[string]struct{}),
		usedPassages:       make(map[string]struct{}),
		anchoredEntities:   make(map[string]struct{}),
		queriedEntityTypes: make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventStrategy:
		t.intent = event.Intent
		t.strategy = event.Strategy
	case TraceEventConsideredPassageIDs:
		addAll(t.consideredPassages, event.PassageIDs)
	case TraceEventUsedPassageIDs:
		addAll(t.usedPassages, event.PassageIDs)
	case TraceEventAnchoredEntityIDs:
		addAll(t.anchoredEntities, event.EntityIDs)
	case TraceEventQueriedEntityTypes:
		addAll(t.queriedEntityTypes, event.EntityTypes)
	}
}

func addAll(set map[string]struct{}, values []string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return QueryTraceSnapshot{
		Intent:               t.intent,
		Strategy:             t.strategy,
		ConsideredPassageIDs: sortedKeys(t.consideredPassages),
		UsedPassageIDs:       sortedKeys(t.usedPassages),
		AnchoredEntityIDs:    sortedKeys(t.anchoredEntities),
		QueriedEntityTypes:   sortedKeys(t.queriedEntityTypes),
	}
}
