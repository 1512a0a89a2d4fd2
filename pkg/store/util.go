package store

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kgqa/pkg/ai"
	"golang.org/x/sync/errgroup"
)

const embeddingBatchSize = 64

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// GenerateEmbeddings embeds inputs in batches, at most parallel batches at a
// time, and returns the vectors in input order.
func GenerateEmbeddings(
	ctx context.Context,
	client ai.GraphAIClient,
	inputs []string,
	parallel int,
) ([][]float32, error) {
	if client == nil {
		return nil, fmt.Errorf("ai client is nil")
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	if parallel <= 0 {
		parallel = 1
	}

	out := make([][]float32, len(inputs))

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(parallel)
	_ = ChunkRange(len(inputs), embeddingBatchSize, func(start, end int) error {
		eg.Go(func() error {
			embs, err := client.GenerateEmbeddings(ectx, inputs[start:end])
			if err != nil {
				return err
			}
			if len(embs) != end-start {
				return fmt.Errorf("embedding batch returned %d vectors for %d inputs", len(embs), end-start)
			}
			copy(out[start:end], embs)
			return nil
		})
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}
