package graph

import "strings"

// Language is the ruleset selector for names: LanguageZH for text that is
// dominantly CJK, LanguageEN for everything else.
type Language string

const (
	LanguageZH Language = "zh"
	LanguageEN Language = "en"
)

const (
	maxNameLengthZH = 10
	maxNameLengthEN = 30
	maxNameWordsEN  = 5
	maxNameLength   = 50
)

func isCJK(r rune) bool {
	return r >= '一' && r <= '鿿'
}

// DetectLanguage reports LanguageZH when more than half of the runes of the
// trimmed text are CJK ideographs. Blank text is LanguageEN.
func DetectLanguage(text string) Language {
	text = strings.TrimSpace(text)
	if text == "" {
		return LanguageEN
	}
	total, cjk := 0, 0
	for _, r := range text {
		total++
		if isCJK(r) {
			cjk++
		}
	}
	if float64(cjk)/float64(total) > 0.5 {
		return LanguageZH
	}
	return LanguageEN
}

var stopEntitiesZH = toSet(
	"人", "事", "物", "时", "地", "年", "月", "日",
	"个", "种", "类", "次", "度", "量", "值", "率",
	"主动", "被动", "积极", "消极", "重要", "次要",
	"大", "小", "多", "少", "高", "低", "快", "慢",
	"好", "坏", "新", "旧", "长", "短", "期限",
	"我", "你", "他", "她", "它", "我们", "你们", "他们",
	"这", "那", "这个", "那个", "这些", "那些",
	"现在", "过去", "未来", "当前", "之前", "之后",
	"今天", "明天", "昨天",
)

var stopWordsEN = toSet(
	"a", "an", "the",
	"i", "you", "he", "she", "it", "we", "they",
	"me", "him", "her", "us", "them",
	"my", "your", "his", "its", "our", "their",
	"mine", "yours", "hers", "ours", "theirs",
	"this", "that", "these", "those",
	"be", "is", "am", "are", "was", "were", "been", "being",
	"do", "does", "did", "have", "has", "had",
	"will", "would", "shall", "should", "can", "could", "may", "might", "must",
	"in", "on", "at", "by", "for", "with", "about", "to", "from", "of",
	"and", "or", "but", "if", "because", "as", "while", "when",
	"not", "no", "yes", "so", "very", "just", "now", "then", "here", "there",
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
