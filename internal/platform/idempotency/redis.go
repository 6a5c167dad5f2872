package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries in Redis so that replays work across replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: "hms:idempotency:", ttl: ttl}
}

func (s *RedisStore) Reserve(ctx context.Context, key, method, path string) (*Entry, bool, error) {
	now := time.Now().UTC()
	pending := &Entry{
		Key:       key,
		Method:    method,
		Path:      path,
		Pending:   true,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	raw, err := json.Marshal(pending)
	if err != nil {
		return nil, false, fmt.Errorf("encode idempotency entry: %w", err)
	}

	// SET NX GET claims the key and returns any previous value in one step.
	existing, err := s.client.SetArgs(ctx, s.prefix+key, raw, redis.SetArgs{
		Mode: "NX",
		TTL:  s.ttl,
		Get:  true,
	}).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(existing, &entry); err != nil {
		return nil, false, fmt.Errorf("decode idempotency entry: %w", err)
	}
	return &entry, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, entry *Entry) error {
	cp := copyEntry(entry)
	cp.Pending = false
	cp.ExpiresAt = time.Now().UTC().Add(s.ttl)

	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+entry.Key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotency entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
