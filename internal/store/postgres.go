package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores identities in a single table keyed by user id.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres establishes a connection pool and ensures the schema is initialized.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// initSchema creates the identity table if it doesn't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS face_identities (
			user_id TEXT PRIMARY KEY,
			concert_id TEXT NOT NULL DEFAULT '',
			embedding TEXT NOT NULL,
			vector_count INT NOT NULL,
			dim INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS face_identities_concert_id_idx ON face_identities (concert_id);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the database connections.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

const selectColumns = `user_id, concert_id, embedding, vector_count, dim, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(&r.UserID, &r.ConcertID, &r.Blob, &r.Count, &r.Dim, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Postgres) Get(ctx context.Context, userID string) (Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM face_identities WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load identity %s: %w", userID, err)
	}
	return rec, nil
}

func (s *Postgres) Insert(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO face_identities (user_id, concert_id, embedding, vector_count, dim)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING
	`, rec.UserID, rec.ConcertID, rec.Blob, rec.Count, rec.Dim)
	if err != nil {
		return fmt.Errorf("failed to insert identity %s: %w", rec.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Upsert replaces the stored blob. The row lock taken by ON CONFLICT
// serializes concurrent registrations of the same user.
func (s *Postgres) Upsert(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO face_identities (user_id, concert_id, embedding, vector_count, dim)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			concert_id = EXCLUDED.concert_id,
			embedding = EXCLUDED.embedding,
			vector_count = EXCLUDED.vector_count,
			dim = EXCLUDED.dim,
			updated_at = NOW()
	`, rec.UserID, rec.ConcertID, rec.Blob, rec.Count, rec.Dim)
	if err != nil {
		return fmt.Errorf("failed to upsert identity %s: %w", rec.UserID, err)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM face_identities WHERE user_id = $1", userID)
	if err != nil {
		return fmt.Errorf("failed to delete identity %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM face_identities ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Reset drops the identity table; the next NewPostgres recreates it.
// This is useful for development to force a schema refresh without migrations.
func (s *Postgres) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS face_identities CASCADE`)
	if err != nil {
		return err
	}
	return initSchema(ctx, s.pool)
}
