// Package redis stores checkpoints in one Redis hash per document.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/OFFIS-RIT/kgqa/pkg/common"
	"github.com/OFFIS-RIT/kgqa/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "kgqa:checkpoint:"

// Store keeps the checkpoints of a document in the hash
// kgqa:checkpoint:{docID}, one field per chunk index. The hash expires
// after TTL without writes so abandoned documents do not accumulate.
type Store struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

type NewStoreParams struct {
	Client goredis.UniversalClient
	TTL    time.Duration
}

func NewStore(params NewStoreParams) *Store {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Store{client: params.Client, ttl: ttl}
}

func key(docID string) string {
	return keyPrefix + docID
}

func (s *Store) Put(ctx context.Context, docID string, index int, result common.ExtractionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key(docID), strconv.Itoa(index), data)
	pipe.Expire(ctx, key(docID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write checkpoint %s/%d: %w", docID, index, err)
	}
	return nil
}

func (s *Store) GetAll(ctx context.Context, docID string, count int) ([]*common.ExtractionResult, error) {
	fields, err := s.client.HGetAll(ctx, key(docID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read checkpoints %s: %w", docID, err)
	}

	out := make([]*common.ExtractionResult, max(count, 0))
	for field, value := range fields {
		i, err := strconv.Atoi(field)
		if err != nil || i < 0 || i >= len(out) {
			continue
		}
		var res common.ExtractionResult
		if err := json.Unmarshal([]byte(value), &res); err != nil {
			logger.Warn("[Checkpoint] Ignoring unreadable checkpoint", "doc", docID, "chunk", i, "err", err)
			continue
		}
		out[i] = &res
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context, docID string) error {
	if err := s.client.Del(ctx, key(docID)).Err(); err != nil {
		return fmt.Errorf("clear checkpoints %s: %w", docID, err)
	}
	return nil
}
