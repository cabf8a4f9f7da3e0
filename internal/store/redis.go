package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const upsertRetries = 5

// Redis stores each identity as a JSON document under prefix+userID.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects using a redis:// URL.
func NewRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return NewRedisWithClient(client, prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (s *Redis) key(userID string) string { return s.prefix + userID }

func (s *Redis) Get(ctx context.Context, userID string) (Record, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load identity %s: %w", userID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("corrupt identity record %s: %w", userID, err)
	}
	return rec, nil
}

func (s *Redis) Insert(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(rec.UserID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to insert identity %s: %w", rec.UserID, err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// Upsert uses WATCH so a concurrent write to the same key retries instead
// of losing the original CreatedAt.
func (s *Redis) Upsert(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	key := s.key(rec.UserID)

	txf := func(tx *redis.Tx) error {
		now := time.Now().UTC()
		rec.CreatedAt, rec.UpdatedAt = now, now
		prev, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var old Record
			if json.Unmarshal(prev, &old) == nil && !old.CreatedAt.IsZero() {
				rec.CreatedAt = old.CreatedAt
			}
		case !errors.Is(err, redis.Nil):
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for range upsertRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to upsert identity %s: %w", rec.UserID, err)
		}
		return nil
	}
	return fmt.Errorf("failed to upsert identity %s: %w", rec.UserID, redis.TxFailedErr)
}

func (s *Redis) Delete(ctx context.Context, userID string) error {
	n, err := s.client.Del(ctx, s.key(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete identity %s: %w", userID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Redis) keys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (s *Redis) List(ctx context.Context) ([]Record, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}

	out := make([]Record, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // deleted between SCAN and MGET
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("corrupt identity record %s: %w", keys[i], err)
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.UserID, b.UserID) })
	return out, nil
}

func (s *Redis) Reset(ctx context.Context) error {
	keys, err := s.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *Redis) Close() error { return s.client.Close() }
