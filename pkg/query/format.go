package query

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"
	"github.com/OFFIS-RIT/kgqa/pkg/common"
)

// FormatEntities renders entities as a markdown list for answer prompts.
func FormatEntities(entities []common.Entity) string {
	if len(entities) == 0 {
		return "无相关实体"
	}
	lines := make([]string, 0, len(entities))
	for _, e := range entities {
		label := e.Label
		if label == "" {
			label = e.ID
		}
		typ := e.Type
		if typ == "" {
			typ = "Entity"
		}
		line := fmt.Sprintf("- **%s** (%s)", label, typ)
		if e.Description != "" {
			line += ": " + e.Description
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func FormatRelations(relations []common.Relation) string {
	if len(relations) == 0 {
		return "无相关关系"
	}
	lines := make([]string, 0, len(relations))
	for _, r := range relations {
		lines = append(lines, fmt.Sprintf("- %s --[%s]--> %s", r.Source, r.Label, r.Target))
	}
	return strings.Join(lines, "\n")
}

// FormatPassages numbers passages from 1 and shows their similarity.
func FormatPassages(passages []common.Passage) string {
	if len(passages) == 0 {
		return "无相关文档片段"
	}
	parts := make([]string, 0, len(passages))
	for i, p := range passages {
		parts = append(parts, fmt.Sprintf("[片段 %d] (相关度: %.2f)\n%s", i+1, p.Score, p.Text))
	}
	return strings.Join(parts, "\n\n")
}

func kgAnswerPrompt(question string, entities []common.Entity, relations []common.Relation) string {
	return fmt.Sprintf(ai.KGAnswerPrompt, FormatEntities(entities), FormatRelations(relations), question)
}

func ragAnswerPrompt(question string, passages []common.Passage) string {
	return fmt.Sprintf(ai.RAGAnswerPrompt, FormatPassages(passages), question)
}

func hybridAnswerPrompt(
	question string,
	entities []common.Entity,
	relations []common.Relation,
	passages []common.Passage,
) string {
	return fmt.Sprintf(
		ai.HybridAnswerPrompt,
		FormatEntities(entities),
		FormatRelations(relations),
		FormatPassages(passages),
		question,
	)
}
