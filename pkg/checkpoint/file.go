package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"
)

// FileStore keeps one JSON file per chunk under {root}/{docID}/chunk_{i}.json.
type FileStore struct {
	root string
}

// NewFileStore returns a FileStore rooted at dir. The directory is created
// lazily on the first Put.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

func (s *FileStore) docDir(docID string) (string, error) {
	if docID == "" || !filepath.IsLocal(docID) {
		return "", fmt.Errorf("invalid document id %q", docID)
	}
	return filepath.Join(s.root, docID), nil
}

func chunkFile(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%d.json", index))
}

// Put writes the result to a temporary file and renames it into place, so
// readers never observe a partially written checkpoint.
func (s *FileStore) Put(ctx context.Context, docID string, index int, result common.ExtractionResult) error {
	dir, err := s.docDir(docID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".chunk_%d-*.tmp", index))
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), chunkFile(dir, index)); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) GetAll(ctx context.Context, docID string, count int) ([]*common.ExtractionResult, error) {
	dir, err := s.docDir(docID)
	if err != nil {
		return nil, err
	}

	out := make([]*common.ExtractionResult, max(count, 0))
	for i := range out {
		data, err := os.ReadFile(chunkFile(dir, i))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read checkpoint %d: %w", i, err)
		}
		var res common.ExtractionResult
		if err := json.Unmarshal(data, &res); err != nil {
			logger.Warn("[Checkpoint] Ignoring unreadable checkpoint", "doc", docID, "chunk", i, "err", err)
			continue
		}
		out[i] = &res
	}
	return out, nil
}

func (s *FileStore) Clear(ctx context.Context, docID string) error {
	dir, err := s.docDir(docID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	return nil
}
