package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/readaloud/pkg/backend"
)

// Schema is the SQL DDL for the speech_exports table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS speech_exports (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    content_type TEXT NOT NULL,
    voice        TEXT NOT NULL DEFAULT '',
    chunks       INTEGER NOT NULL DEFAULT 0,
    size         INTEGER NOT NULL,
    payload      BYTEA NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_speech_exports_created ON speech_exports(created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL table.
type PostgresStore struct {
	db   DB
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over db. The caller is responsible for
// calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// OpenPostgres connects a pool to dsn, verifies the connection and migrates
// the schema. Close releases the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("export: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("export: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("export: ping: %w", err)
	}
	s := NewPostgresStore(pool)
	s.pool = pool
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool opened by [OpenPostgres]. It is a no-op
// for stores created with [NewPostgresStore].
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("export: migrate: %w", err)
	}
	return nil
}

// Save inserts the payload and its record.
func (s *PostgresStore) Save(ctx context.Context, a backend.Audio, meta Meta) (Record, error) {
	if len(a.Data) == 0 {
		return Record{}, ErrEmpty
	}
	rec := newRecord(uuid.NewString(), a, meta, s.now())

	const query = `
		INSERT INTO speech_exports (id, name, content_type, voice, chunks, size, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err := s.db.Exec(ctx, query,
		rec.ID, rec.Name, rec.ContentType, rec.Voice, rec.Chunks, rec.Size, a.Data, rec.CreatedAt,
	); err != nil {
		return Record{}, fmt.Errorf("export: save: %w", err)
	}
	return rec, nil
}

// Get returns the record and payload for id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Record, []byte, error) {
	const query = `
		SELECT id, name, content_type, voice, chunks, size, created_at, payload
		FROM speech_exports
		WHERE id = $1`

	var (
		rec     Record
		payload []byte
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Name, &rec.ContentType, &rec.Voice, &rec.Chunks, &rec.Size, &rec.CreatedAt, &payload,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, nil, ErrNotFound
		}
		return Record{}, nil, fmt.Errorf("export: get %q: %w", id, err)
	}
	return rec, payload, nil
}

// List returns every record, newest first. Payloads are not loaded.
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	const query = `
		SELECT id, name, content_type, voice, chunks, size, created_at
		FROM speech_exports
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("export: list: %w", err)
	}
	defer rows.Close()

	recs := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.Name, &rec.ContentType, &rec.Voice, &rec.Chunks, &rec.Size, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("export: list scan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("export: list: %w", err)
	}
	return recs, nil
}

// Ping runs a trivial query.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("export: ping: %w", err)
	}
	return nil
}
