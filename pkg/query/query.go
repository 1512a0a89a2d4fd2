// Package query answers natural-language questions over the knowledge graph
// and the passage index. A question is classified into an Intent, the
// intent selects a retrieval Strategy and the retrieved entities, relations
// and passages are fused into the prompt of the answering model.
package query

import "strings"

type Intent string

const (
	IntentFactual     Intent = "FACTUAL"
	IntentExploratory Intent = "EXPLORATORY"
	IntentAnalytical  Intent = "ANALYTICAL"
	IntentRelational  Intent = "RELATIONAL"
)

type Strategy string

const (
	StrategyKGFirst  Strategy = "kg_first"
	StrategyRAGFirst Strategy = "rag_first"
	StrategyHybrid   Strategy = "hybrid"
	StrategyKGOnly   Strategy = "kg_only"
	StrategyRAGOnly  Strategy = "rag_only"
)

// ModeAuto classifies the question and picks the strategy for its intent.
const ModeAuto = "auto"

// DefaultStrategies maps every intent to its retrieval strategy.
var DefaultStrategies = map[Intent]Strategy{
	IntentFactual:     StrategyKGFirst,
	IntentExploratory: StrategyRAGFirst,
	IntentAnalytical:  StrategyHybrid,
	IntentRelational:  StrategyKGOnly,
}

// ParseIntent matches s case-insensitively against the known intents.
func ParseIntent(s string) (Intent, bool) {
	switch i := Intent(strings.ToUpper(strings.TrimSpace(s))); i {
	case IntentFactual, IntentExploratory, IntentAnalytical, IntentRelational:
		return i, true
	}
	return "", false
}

func ParseStrategy(s string) (Strategy, bool) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyKGFirst, StrategyRAGFirst, StrategyHybrid, StrategyKGOnly, StrategyRAGOnly:
		return st, true
	}
	return "", false
}

func (s Strategy) usesGraph() bool {
	return s == StrategyKGFirst || s == StrategyHybrid || s == StrategyKGOnly
}

func (s Strategy) usesPassages() bool {
	return s == StrategyRAGFirst || s == StrategyHybrid || s == StrategyRAGOnly
}
