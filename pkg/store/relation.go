package store

import "strings"

// DefaultRelationType is used for labels without a mapping.
const DefaultRelationType = "RELATES"

var relationTypes = map[string]string{
	"著作":  "AUTHORED",
	"主张":  "ADVOCATES",
	"属于":  "BELONGS_TO",
	"包含":  "CONTAINS",
	"适用于": "APPLIES_TO",
	"影响":  "INFLUENCES",
	"依赖":  "DEPENDS_ON",
	"对比":  "CONTRASTS_WITH",
	"推荐":  "RECOMMENDS",
	"特点":  "HAS_FEATURE",
	"反例":  "COUNTER_EXAMPLE",
	"决定":  "DETERMINES",
	"解决":  "SOLVES",
	"面临":  "FACES",
	"类似":  "SIMILAR_TO",
	"通过":  "THROUGH",
	"具有":  "HAS",
	"计算":  "CALCULATES",
	"相关":  "RELATES",
	"提及":  "MENTIONS",
}

// RelationType maps a canonical relation label to the relationship type
// used by stores that need identifier-safe types (Neo4j). Labels that are
// already upper-case identifiers are kept.
func RelationType(label string) string {
	if t, ok := relationTypes[label]; ok {
		return t
	}
	if isIdentifier(label) {
		return strings.ToUpper(label)
	}
	return DefaultRelationType
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
