package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var identityBucket = []byte("identities")

// Bolt is a single-file store for single-node deployments and development.
type Bolt struct {
	db *bbolt.DB
}

// NewBolt opens (or creates) the database file at path.
func NewBolt(path string) (*Bolt, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(identityBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (s *Bolt) Get(_ context.Context, userID string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(identityBucket).Get([]byte(userID))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	return rec, err
}

func (s *Bolt) put(rec Record, overwrite bool) error {
	if err := validate(rec); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(identityBucket)
		key := []byte(rec.UserID)
		now := time.Now().UTC()
		rec.CreatedAt, rec.UpdatedAt = now, now

		if prev := b.Get(key); prev != nil {
			if !overwrite {
				return ErrAlreadyExists
			}
			var old Record
			if json.Unmarshal(prev, &old) == nil && !old.CreatedAt.IsZero() {
				rec.CreatedAt = old.CreatedAt
			}
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *Bolt) Insert(_ context.Context, rec Record) error { return s.put(rec, false) }
func (s *Bolt) Upsert(_ context.Context, rec Record) error { return s.put(rec, true) }

func (s *Bolt) Delete(_ context.Context, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(identityBucket)
		if b.Get([]byte(userID)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(userID))
	})
}

// List walks the bucket in key order, which is user id order.
// Respects context cancellation during iteration.
func (s *Bolt) List(ctx context.Context) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(identityBucket).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt identity record %s: %w", k, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func (s *Bolt) Reset(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(identityBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(identityBucket)
		return err
	})
}

func (s *Bolt) Close() error { return s.db.Close() }
