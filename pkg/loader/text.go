package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DocumentText decodes data as UTF-8 text of the format implied by
// filename. Line endings are normalized to \n; HTML is reduced to its
// visible text with block elements separated by blank lines.
func DocumentText(data []byte, filename string) (string, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return "", fmt.Errorf("%s: %w", filename, err)
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s: document is not valid UTF-8", filename)
	}

	text := string(data)
	if format == FormatHTML {
		text, err = HTMLText(text)
		if err != nil {
			return "", fmt.Errorf("%s: %w", filename, err)
		}
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text), nil
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Tr: true, atom.Section: true, atom.Article: true, atom.Blockquote: true, atom.Pre: true,
}

var skippedElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Head: true, atom.Template: true,
}

// HTMLText returns the visible text of an HTML document.
func HTMLText(doc string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(doc))

	var paragraphs []string
	var cur strings.Builder
	skip := 0
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			paragraphs = append(paragraphs, s)
		}
		cur.Reset()
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", err
			}
			flush()
			return strings.Join(paragraphs, "\n\n"), nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tt := z.Token()
			a := tt.DataAtom
			if skippedElements[a] && tt.Type == html.StartTagToken {
				skip++
			}
			if blockElements[a] {
				flush()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skippedElements[a] && skip > 0 {
				skip--
			}
			if blockElements[a] {
				flush()
			}
		case html.TextToken:
			if skip == 0 {
				cur.Write(z.Text())
				cur.WriteByte(' ')
			}
		}
	}
}
