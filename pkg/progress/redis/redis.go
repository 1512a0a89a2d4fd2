// Package redis implements progress.RecordStore on Redis so that workers and
// the process that requests cancellation can share document state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgqa/pkg/progress"

	goredis "github.com/redis/go-redis/v9"
)

const (
	recordPrefix = "kgqa:progress:"
	cancelPrefix = "kgqa:cancel:"
)

type Store struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

type NewStoreParams struct {
	Client goredis.UniversalClient
	// TTL bounds how long finished or abandoned records are kept.
	TTL time.Duration
}

func NewStore(params NewStoreParams) *Store {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Store{client: params.Client, ttl: ttl}
}

// NewTracker returns a progress.Tracker persisted in Redis.
func NewTracker(params NewStoreParams) *progress.StoreTracker {
	return progress.NewTracker(NewStore(params))
}

func (s *Store) Load(ctx context.Context, docID string) (*progress.Record, error) {
	data, err := s.client.Get(ctx, recordPrefix+docID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress %s: %w", docID, err)
	}
	var rec progress.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode progress %s: %w", docID, err)
	}
	return &rec, nil
}

func (s *Store) Save(ctx context.Context, rec *progress.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := s.client.Set(ctx, recordPrefix+rec.DocID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("write progress %s: %w", rec.DocID, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, docID string) error {
	return s.client.Del(ctx, recordPrefix+docID).Err()
}

func (s *Store) SetCancelled(ctx context.Context, docID string, cancelled bool) error {
	if !cancelled {
		return s.client.Del(ctx, cancelPrefix+docID).Err()
	}
	return s.client.Set(ctx, cancelPrefix+docID, "1", s.ttl).Err()
}

func (s *Store) Cancelled(ctx context.Context, docID string) (bool, error) {
	n, err := s.client.Exists(ctx, cancelPrefix+docID).Result()
	if err != nil {
		return false, fmt.Errorf("read cancellation %s: %w", docID, err)
	}
	return n > 0, nil
}
