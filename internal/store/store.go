// Package store persists encrypted identity records. Backends only ever
// see the opaque blob; encryption happens in the codec before storage.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/faceauth/internal/config"
)

var (
	// ErrNotFound means no record exists for the user id.
	ErrNotFound = errors.New("user not found")
	// ErrAlreadyExists is returned by Insert when the user id is taken.
	ErrAlreadyExists = errors.New("user already registered")
)

// Record is one identity. Blob is the codec's base64 ciphertext; Count
// and Dim describe its shape for listing without decryption.
type Record struct {
	UserID    string    `json:"user_id"`
	ConcertID string    `json:"concert_id,omitempty"`
	Blob      string    `json:"embedding"`
	Count     int       `json:"count"`
	Dim       int       `json:"dim"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the identity storage contract. Implementations are safe for
// concurrent use and serialize writes per user id.
type Store interface {
	Get(ctx context.Context, userID string) (Record, error)
	// Insert fails with ErrAlreadyExists if userID is present.
	Insert(ctx context.Context, rec Record) error
	// Upsert creates or replaces the record, keeping the original CreatedAt.
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, userID string) error
	// List returns every record ordered by user id.
	List(ctx context.Context) ([]Record, error)
	// Reset removes every record.
	Reset(ctx context.Context) error
	Close() error
}

func validate(rec Record) error {
	if rec.UserID == "" {
		return errors.New("record has no user id")
	}
	if rec.Blob == "" {
		return errors.New("record has no embedding")
	}
	return nil
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "postgres", "":
		return NewPostgres(ctx, cfg.DatabaseURL)
	case "redis":
		return NewRedis(ctx, cfg.RedisURL, cfg.KeyPrefix)
	case "bolt":
		return NewBolt(cfg.BoltPath)
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
