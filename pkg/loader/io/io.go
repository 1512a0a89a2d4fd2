package io

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/OFFIS-RIT/kgqa/pkg/loader"
)

// IOGraphFileLoader loads files directly from the local filesystem with caching.
// With a root, paths are resolved against it and may not leave it.
type IOGraphFileLoader struct {
	root  string
	cache *loader.Cache
}

// NewIOGraphFileLoader creates a new filesystem-based file loader.
func NewIOGraphFileLoader(root string) *IOGraphFileLoader {
	return &IOGraphFileLoader{
		root:  root,
		cache: loader.NewCache(),
	}
}

// GetFileText reads the file content from the filesystem. Results are cached.
func (l *IOGraphFileLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.Get(loader.CacheKey(file), func() ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := file.Path
		if l.root != "" {
			if !filepath.IsLocal(p) {
				return nil, fmt.Errorf("path %q is outside the document root", file.Path)
			}
			p = filepath.Join(l.root, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file.Path, err)
		}
		return data, nil
	})
}

func (l *IOGraphFileLoader) Forget(file loader.GraphFile) {
	l.cache.Forget(loader.CacheKey(file))
}
