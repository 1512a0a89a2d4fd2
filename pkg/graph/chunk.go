package graph

import (
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/kgqa/internal/util"
	"github.com/OFFIS-RIT/kgqa/pkg/common"

	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultChunkSize    = 800
	DefaultOverlapRatio = 0.5
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// chunkPiece is a unit the chunker never splits further. sep is what joins
// the piece to its predecessor inside one chunk.
type chunkPiece struct {
	text []rune
	sep  string
}

// SplitText splits text into chunks of at most maxSize runes. Paragraphs
// (separated by blank lines) are kept whole when they fit; longer paragraphs
// are split on sentence terminators, and a single sentence longer than
// maxSize is cut hard.
//
// With overlapRatio > 0 every chunk after the first starts with the trailing
// overlapRatio fraction of the previous chunk. The seed shrinks when it would
// push the chunk past maxSize. Empty or blank text returns nil.
func SplitText(text string, maxSize int, overlapRatio float64) []common.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}
	if overlapRatio < 0 || overlapRatio >= 1 {
		overlapRatio = 0
	}

	pieces := splitPieces(text, maxSize)

	var chunks []common.Chunk
	emit := func(buf []rune) {
		t := strings.TrimSpace(string(buf))
		if t == "" {
			return
		}
		chunks = append(chunks, common.Chunk{
			Index:  len(chunks),
			Text:   t,
			Length: util.RuneLen(t),
		})
	}

	var cur []rune
	// fresh is true once cur holds text beyond the overlap seed.
	fresh := false
	for _, p := range pieces {
		sep := []rune(p.sep)
		if len(cur) == 0 {
			sep = nil
		}
		if fresh && len(cur)+len(sep)+len(p.text) > maxSize {
			emit(cur)
			keep := int(float64(len(cur)) * overlapRatio)
			cur = append([]rune(nil), cur[len(cur)-keep:]...)
			fresh = false

			sep = []rune(p.sep)
			room := maxSize - len(p.text) - len(sep)
			if room <= 0 || len(cur) == 0 {
				cur = cur[:0]
				sep = nil
			} else if len(cur) > room {
				cur = cur[len(cur)-room:]
			}
		}
		cur = append(cur, sep...)
		cur = append(cur, p.text...)
		fresh = true
	}
	if fresh {
		emit(cur)
	}

	return chunks
}

func splitPieces(text string, maxSize int) []chunkPiece {
	var pieces []chunkPiece
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		r := []rune(para)
		if len(r) <= maxSize {
			pieces = append(pieces, chunkPiece{text: r, sep: "\n\n"})
			continue
		}

		sep := "\n\n"
		for _, sentence := range splitSentences(para) {
			sr := []rune(sentence)
			for len(sr) > maxSize {
				pieces = append(pieces, chunkPiece{text: sr[:maxSize], sep: sep})
				sr = sr[maxSize:]
				sep = ""
			}
			if len(sr) > 0 {
				pieces = append(pieces, chunkPiece{text: sr, sep: sep})
				sep = ""
			}
		}
	}
	return pieces
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	}
	return false
}

// splitSentences cuts after every terminator. Concatenating the result
// yields the input again, minus whitespace-only fragments.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if !isSentenceEnd(r) {
			continue
		}
		end := i + len(string(r))
		if s := text[start:end]; strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
		start = end
	}
	if s := text[start:]; strings.TrimSpace(s) != "" {
		out = append(out, s)
	}
	return out
}

// CountTokens counts the tokens of text with enc. Without an encoder the
// rune count is used as an approximation.
func CountTokens(text string, enc *tiktoken.Tiktoken) int {
	if enc == nil {
		return util.RuneLen(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// countChunkTokens sums CountTokens over chunks.
func countChunkTokens(chunks []common.Chunk, enc *tiktoken.Tiktoken) int {
	total := 0
	for _, c := range chunks {
		total += CountTokens(c.Text, enc)
	}
	return total
}
