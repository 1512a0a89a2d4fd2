package graph

import (
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
)

const forbiddenNameChars = "!@#$%^&*()+=[]{}|\\:;\"'<>?/"

const titleBrackets = "《》「」“”"

// GenericRelation replaces vague relation words during filtering.
const GenericRelation = "RELATES"

var genericRelations = toSet(
	"relates", "related_to", "关联", "相关", "涉及", "关于", "有关", "连接",
)

// ShouldFilter reports whether an entity name is too vague or malformed to
// become a node. The decision depends on the name alone.
func ShouldFilter(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return true
	}

	// Length limits apply to the name without title brackets.
	runes := []rune(strings.Trim(name, titleBrackets))
	switch DetectLanguage(name) {
	case LanguageZH:
		if _, ok := stopEntitiesZH[name]; ok {
			return true
		}
		if len(runes) > maxNameLengthZH {
			return true
		}
	default:
		if _, ok := stopWordsEN[strings.ToLower(name)]; ok {
			return true
		}
		if len(runes) > maxNameLengthEN || len(strings.Fields(name)) > maxNameWordsEN {
			return true
		}
	}

	if len(runes) <= 1 || len(runes) > maxNameLength {
		return true
	}
	if isDigits(name) {
		return true
	}
	return strings.ContainsAny(name, forbiddenNameChars)
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// FilterEntities drops entities rejected by ShouldFilter and returns the
// survivors together with the number removed.
func FilterEntities(entities []common.RawEntity) ([]common.RawEntity, int) {
	kept := make([]common.RawEntity, 0, len(entities))
	removed := 0
	for _, e := range entities {
		if ShouldFilter(e.Name) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	return kept, removed
}

// FilterRelations keeps relations whose source and target are both in valid.
func FilterRelations(relations []common.RawRelation, valid map[string]struct{}) ([]common.RawRelation, int) {
	kept := make([]common.RawRelation, 0, len(relations))
	removed := 0
	for _, r := range relations {
		_, okS := valid[r.Source]
		_, okT := valid[r.Target]
		if !okS || !okT {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	return kept, removed
}

// NormalizeRelationType maps vague relation words to GenericRelation and
// returns every other label unchanged.
func NormalizeRelationType(relation string) string {
	if _, ok := genericRelations[strings.ToLower(strings.TrimSpace(relation))]; ok {
		return GenericRelation
	}
	return relation
}

// FilterResult applies the entity filter, drops relations that lost an
// endpoint and marks vague relation words as generic.
func FilterResult(res common.ExtractionResult) common.ExtractionResult {
	entities, removedEntities := FilterEntities(res.Entities)

	valid := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		valid[e.Name] = struct{}{}
	}
	relations, removedRelations := FilterRelations(res.Relations, valid)
	for i := range relations {
		relations[i].Relation = NormalizeRelationType(relations[i].Relation)
	}

	if removedEntities > 0 || removedRelations > 0 {
		logger.Debug("[Extract] Filtered low quality items",
			"entities", removedEntities, "relations", removedRelations)
	}

	return common.ExtractionResult{
		Entities:  entities,
		Relations: relations,
	}
}
