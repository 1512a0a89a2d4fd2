package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
)

// noEntities is the model's answer for a question without entity mentions.
const noEntities = "无"

// Classify asks the model for the intent of question. Failures and replies
// outside the known intents yield IntentAnalytical.
func Classify(ctx context.Context, client ai.GraphAIClient, question string) Intent {
	reply, err := client.GenerateCompletion(
		ctx,
		fmt.Sprintf(ai.QueryClassificationPrompt, question),
		ai.WithSystemPrompts(ai.ClassificationSystemPrompt),
		ai.WithTemperature(0),
		ai.WithMaxTokens(20),
	)
	if err != nil {
		logger.Warn("[Retrieve] Query classification failed", "err", err)
		return IntentAnalytical
	}
	intent, ok := ParseIntent(reply)
	if !ok {
		logger.Debug("[Retrieve] Unknown query class", "reply", reply)
		return IntentAnalytical
	}
	return intent
}

type questionEntities struct {
	Entities []string `json:"entities" jsonschema:"description=Entity or concept names mentioned in the question"`
}

// ExtractQuestionEntities returns the entity mentions of question. It asks
// for structured output first and falls back to a plain comma separated
// reply. Failures yield no entities.
func ExtractQuestionEntities(ctx context.Context, client ai.GraphAIClient, question string) []string {
	prompt := fmt.Sprintf(ai.QuestionEntityPrompt, question)
	opts := []ai.GenerateOption{
		ai.WithSystemPrompts(ai.QuestionEntitySystemPrompt),
		ai.WithTemperature(0),
		ai.WithMaxTokens(100),
	}

	var out questionEntities
	err := client.GenerateCompletionWithFormat(
		ctx,
		"question_entities",
		"Entity names mentioned in a question",
		prompt,
		&out,
		opts...,
	)
	if err == nil {
		return cleanMentions(out.Entities)
	}
	logger.Debug("[Retrieve] Structured entity extraction failed, falling back", "err", err)

	reply, err := client.GenerateCompletion(ctx, prompt, opts...)
	if err != nil {
		logger.Warn("[Retrieve] Question entity extraction failed", "err", err)
		return nil
	}
	return ParseEntityList(reply)
}

// ParseEntityList splits a comma separated model reply into names. The
// reply 无 means no entities.
func ParseEntityList(reply string) []string {
	reply = strings.TrimSpace(reply)
	if reply == "" || reply == noEntities {
		return nil
	}
	parts := strings.FieldsFunc(reply, func(r rune) bool {
		return r == ',' || r == '，' || r == '、' || r == '\n'
	})
	return cleanMentions(parts)
}

func cleanMentions(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.Trim(strings.TrimSpace(s), `"'“”`)
		if s == "" || s == noEntities {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
