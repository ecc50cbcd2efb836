// Package postgres implements [recording.Store] on PostgreSQL using pgx.
//
// Chunks live in their own table keyed by (recording_id, seq) so appends
// never rewrite earlier data. Appends use the COPY protocol.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxlink/pkg/recording"
)

// Schema is the SQL DDL for the recording tables. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS recordings (
    id         TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
    chunks     INTEGER NOT NULL DEFAULT 0,
    bytes      BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_recordings_created_at ON recordings(created_at DESC);

CREATE TABLE IF NOT EXISTS recording_chunks (
    recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
    seq          INTEGER NOT NULL,
    data         BYTEA NOT NULL,
    PRIMARY KEY (recording_id, seq)
);
`

// DB is the database interface used by [Store]. *pgxpool.Pool satisfies it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Compile-time interface check.
var _ recording.Store = (*Store)(nil)

// Store is a [recording.Store] backed by PostgreSQL. It is safe for
// concurrent use.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// New wraps an existing connection or pool. The caller is responsible for
// calling [Store.Migrate].
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects to the database at dsn, verifies the connection and applies
// [Schema].
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("recording postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("recording postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("recording postgres: ping: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [Schema]. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("recording postgres: migrate: %w", err)
	}
	return nil
}

// Ping verifies database connectivity. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool opened by [Open]. It is a no-op for stores created
// with [New].
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateRecording implements [recording.Store].
func (s *Store) CreateRecording(ctx context.Context, id string) (recording.Recording, error) {
	if id == "" {
		id = recording.NewID()
	}
	rec := recording.Recording{ID: id}
	err := s.db.QueryRow(ctx,
		`INSERT INTO recordings (id) VALUES ($1) RETURNING created_at`, id,
	).Scan(&rec.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return recording.Recording{}, recording.ErrExists
		}
		return recording.Recording{}, fmt.Errorf("recording postgres: create %q: %w", id, err)
	}
	return rec, nil
}

// AppendChunks implements [recording.Store]. The recording row is locked for
// the duration of the append so concurrent appends stay ordered.
func (s *Store) AppendChunks(ctx context.Context, id string, chunks [][]byte) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("recording postgres: append %q: begin: %w", id, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var next int
	err = tx.QueryRow(ctx,
		`SELECT chunks FROM recordings WHERE id = $1 FOR UPDATE`, id,
	).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return recording.ErrNotFound
		}
		return fmt.Errorf("recording postgres: append %q: lock: %w", id, err)
	}
	if len(chunks) == 0 {
		return tx.Commit(ctx)
	}

	var size int64
	rows := make([][]any, len(chunks))
	for i, c := range chunks {
		rows[i] = []any{id, next + i, c}
		size += int64(len(c))
	}
	if _, err = tx.CopyFrom(ctx,
		pgx.Identifier{"recording_chunks"},
		[]string{"recording_id", "seq", "data"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("recording postgres: append %q: copy: %w", id, err)
	}
	if _, err = tx.Exec(ctx,
		`UPDATE recordings SET chunks = chunks + $2, bytes = bytes + $3 WHERE id = $1`,
		id, len(chunks), size,
	); err != nil {
		return fmt.Errorf("recording postgres: append %q: update: %w", id, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("recording postgres: append %q: commit: %w", id, err)
	}
	return nil
}

// ListRecordings implements [recording.Store].
func (s *Store) ListRecordings(ctx context.Context) ([]recording.Recording, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, created_at, chunks, bytes FROM recordings ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("recording postgres: list: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecording)
	if err != nil {
		return nil, fmt.Errorf("recording postgres: list: %w", err)
	}
	return recs, nil
}

// GetRecording implements [recording.Store].
func (s *Store) GetRecording(ctx context.Context, id string) (recording.Recording, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, created_at, chunks, bytes FROM recordings WHERE id = $1`, id)
	if err != nil {
		return recording.Recording{}, fmt.Errorf("recording postgres: get %q: %w", id, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecording)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return recording.Recording{}, recording.ErrNotFound
		}
		return recording.Recording{}, fmt.Errorf("recording postgres: get %q: %w", id, err)
	}
	return rec, nil
}

func scanRecording(row pgx.CollectableRow) (recording.Recording, error) {
	var r recording.Recording
	err := row.Scan(&r.ID, &r.CreatedAt, &r.Chunks, &r.Bytes)
	return r, err
}

// Chunks implements [recording.Store].
func (s *Store) Chunks(ctx context.Context, id string) ([][]byte, error) {
	if _, err := s.GetRecording(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT data FROM recording_chunks WHERE recording_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("recording postgres: chunks %q: %w", id, err)
	}
	chunks, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("recording postgres: chunks %q: %w", id, err)
	}
	return chunks, nil
}

// DeleteRecording implements [recording.Store]. Chunks are removed by the
// foreign key cascade.
func (s *Store) DeleteRecording(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("recording postgres: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return recording.ErrNotFound
	}
	return nil
}

// ClearAll implements [recording.Store].
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `TRUNCATE recording_chunks, recordings`); err != nil {
		return fmt.Errorf("recording postgres: clear: %w", err)
	}
	return nil
}

// isDuplicateKeyError reports whether err is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
