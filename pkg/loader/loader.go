// Package loader fetches source documents and turns them into the plain
// text handed to the chunker.
package loader

import (
	"context"
	"errors"
	"path"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported document format")

// GraphFile is a document to be turned into a graph. Path is interpreted by
// the Loader: a file path, an object key or a URL.
type GraphFile struct {
	ID       string
	Path     string
	Filename string
	Loader   GraphFileLoader
}

// GraphFileLoader loads the raw bytes of a GraphFile. Implementations may
// load files from disk, object storage or the web.
type GraphFileLoader interface {
	GetFileText(ctx context.Context, file GraphFile) ([]byte, error)
}

// Forgetter is implemented by loaders that cache fetched files. Forget
// drops the cached bytes of file.
type Forgetter interface {
	Forget(file GraphFile)
}

// GetText loads the file and decodes it into plain text.
func (f GraphFile) GetText(ctx context.Context) (string, error) {
	if f.Loader == nil {
		return "", errors.New("graph file has no loader")
	}
	data, err := f.Loader.GetFileText(ctx, f)
	if err != nil {
		return "", err
	}
	name := f.Filename
	if name == "" {
		name = f.Path
	}
	return DocumentText(data, name)
}

// CacheKey generates a unique cache key for a GraphFile based on its ID and path.
func CacheKey(file GraphFile) string {
	return file.ID + ":" + file.Path
}

// Format is the text format of a document, derived from its file name.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// DetectFormat maps a file name to its Format. Names without an extension
// are treated as plain text.
func DetectFormat(filename string) (Format, error) {
	switch ext := strings.ToLower(path.Ext(filename)); ext {
	case "", ".txt", ".text":
		return FormatText, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	case ".html", ".htm":
		return FormatHTML, nil
	default:
		return "", ErrUnsupportedFormat
	}
}
