package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/OFFIS-RIT/kgqa/pkg/loader"

	"codeberg.org/readeck/go-readability/v2"
)

// WebGraphLoader loads content from web URLs and extracts readable text.
// For HTML pages, it uses readability to extract the main content; other
// content types are returned as fetched.
type WebGraphLoader struct {
	client *http.Client
	cache  *loader.Cache
}

// NewWebGraphLoader creates a web loader. A nil client uses
// http.DefaultClient.
func NewWebGraphLoader(client *http.Client) *WebGraphLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebGraphLoader{
		client: client,
		cache:  loader.NewCache(),
	}
}

// GetFileText fetches file.Path. Results are cached.
func (l *WebGraphLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.Get(loader.CacheKey(file), func() ([]byte, error) {
		u, err := url.Parse(file.Path)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("invalid document url %q", file.Path)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch url: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: unexpected status %s", file.Path, resp.Status)
		}

		if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			article, err := readability.FromReader(resp.Body, u)
			if err != nil {
				return nil, fmt.Errorf("failed to parse html: %w", err)
			}
			var builder strings.Builder
			if err := article.RenderText(&builder); err != nil {
				return nil, fmt.Errorf("failed to render article text: %w", err)
			}
			return []byte(builder.String()), nil
		}

		return io.ReadAll(resp.Body)
	})
}

func (l *WebGraphLoader) Forget(file loader.GraphFile) {
	l.cache.Forget(loader.CacheKey(file))
}
