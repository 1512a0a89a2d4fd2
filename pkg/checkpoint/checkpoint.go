// Package checkpoint persists per-chunk extraction results so that an
// interrupted document can be resumed without calling the model again for
// chunks that already succeeded.
package checkpoint

import (
	"context"

	"github.com/OFFIS-RIT/kgqa/pkg/common"
)

// Store is a keyed blob store for extraction results of in-flight documents.
//
// Put overwrites the result stored for (docID, index). GetAll returns a slice
// of length count in which missing or unreadable entries are nil. Clear
// removes every entry of a document. Concurrent Put calls for distinct
// indexes of the same document must be safe.
type Store interface {
	Put(ctx context.Context, docID string, index int, result common.ExtractionResult) error
	GetAll(ctx context.Context, docID string, count int) ([]*common.ExtractionResult, error)
	Clear(ctx context.Context, docID string) error
}

// Completed counts the non-nil entries of a GetAll result.
func Completed(results []*common.ExtractionResult) int {
	n := 0
	for _, r := range results {
		if r != nil {
			n++
		}
	}
	return n
}
