// Package store persists the gateway's Postgres-backed tables: settings
// sections, batch-task refresh progress, and the request log the stats
// endpoint reads from. Built in pgxpool's standard
// connect-once/query-with-context idiom.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and verifies the schema exists, creating it if
// not (idempotent, safe to call on every process start).
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS refresh_progress (
			task_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0,
			ok_count INTEGER NOT NULL DEFAULT 0,
			fail_count INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS token_refresh_progress (
			id SMALLINT PRIMARY KEY DEFAULT 1,
			running BOOLEAN NOT NULL DEFAULT false,
			current INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT token_refresh_progress_singleton CHECK (id = 1)
		)`,
		`CREATE TABLE IF NOT EXISTS request_log (
			id BIGSERIAL PRIMARY KEY,
			model TEXT NOT NULL,
			status INTEGER NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			ip TEXT NOT NULL DEFAULT '',
			key_name TEXT NOT NULL DEFAULT '',
			token_suffix TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS request_log_created_at_idx ON request_log (created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// RequestLogEntry is one row of the request log.
type RequestLogEntry struct {
	Model            string
	Status           int
	PromptTokens     int
	CompletionTokens int
	DurationMS       int64
	IP               string
	KeyName          string
	TokenSuffix      string
	Error            string
	CreatedAt        time.Time
}

// RecordRequest appends one request log row.
func (s *Store) RecordRequest(ctx context.Context, e RequestLogEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO request_log (model, status, prompt_tokens, completion_tokens, duration_ms, ip, key_name, token_suffix, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.Model, e.Status, e.PromptTokens, e.CompletionTokens, e.DurationMS, e.IP, e.KeyName, e.TokenSuffix, e.Error)
	if err != nil {
		return fmt.Errorf("store: record request: %w", err)
	}
	return nil
}

// PruneRequestLogsOlderThan deletes request_log rows older than cutoff,
// returning the number of rows removed.
func (s *Store) PruneRequestLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM request_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RequestLogSince returns every request_log row at or after since,
// oldest first, for statslog bucketization.
func (s *Store) RequestLogSince(ctx context.Context, since time.Time) ([]RequestLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT model, status, prompt_tokens, completion_tokens, duration_ms, ip, key_name, token_suffix, error, created_at
		 FROM request_log WHERE created_at >= $1 ORDER BY created_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("store: query request log: %w", err)
	}
	defer rows.Close()

	var out []RequestLogEntry
	for rows.Next() {
		var e RequestLogEntry
		if err := rows.Scan(&e.Model, &e.Status, &e.PromptTokens, &e.CompletionTokens, &e.DurationMS, &e.IP, &e.KeyName, &e.TokenSuffix, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan request log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveSettingsSections upserts one row per section key in a single atomic
// batch, all sharing one updated_at epoch timestamp rather than each
// acquiring its own at commit time.
func (s *Store) SaveSettingsSections(ctx context.Context, sections map[string][]byte) error {
	now := time.Now().Unix()
	keys := make([]string, 0, len(sections))
	for k := range sections {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := &pgx.Batch{}
	for _, k := range keys {
		batch.Queue(
			`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			k, string(sections[k]), now)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range keys {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: save settings section: %w", err)
		}
	}
	return nil
}

// LoadSettingsSections returns every persisted settings row keyed by
// section name, or an empty map if none has ever been saved.
func (s *Store) LoadSettingsSections(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("store: load settings sections: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("store: scan settings section: %w", err)
		}
		out[key] = []byte(value)
	}
	return out, rows.Err()
}

// TokenRefreshProgress mirrors the singleton token_refresh_progress row.
type TokenRefreshProgress struct {
	Running   bool
	Current   int
	Total     int
	Success   int
	Failed    int
	UpdatedAt time.Time
}

// UpdateTokenRefreshProgress applies a partial update to the singleton
// token_refresh_progress row (id=1): any nil field preserves its prior
// value via COALESCE instead of being overwritten. Every call bumps
// updated_at regardless of which fields were supplied.
func (s *Store) UpdateTokenRefreshProgress(ctx context.Context, running *bool, current, total, success, failed *int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_refresh_progress (id, running, current, total, success, failed, updated_at)
		 VALUES (1, COALESCE($1, false), COALESCE($2, 0), COALESCE($3, 0), COALESCE($4, 0), COALESCE($5, 0), now())
		 ON CONFLICT (id) DO UPDATE SET
		   running = COALESCE($1, token_refresh_progress.running),
		   current = COALESCE($2, token_refresh_progress.current),
		   total = COALESCE($3, token_refresh_progress.total),
		   success = COALESCE($4, token_refresh_progress.success),
		   failed = COALESCE($5, token_refresh_progress.failed),
		   updated_at = now()`,
		running, current, total, success, failed)
	if err != nil {
		return fmt.Errorf("store: update token refresh progress: %w", err)
	}
	return nil
}

// LoadTokenRefreshProgress returns the singleton progress row, or a
// zero-value snapshot if it has never been written.
func (s *Store) LoadTokenRefreshProgress(ctx context.Context) (TokenRefreshProgress, error) {
	var p TokenRefreshProgress
	err := s.pool.QueryRow(ctx,
		`SELECT running, current, total, success, failed, updated_at FROM token_refresh_progress WHERE id = 1`,
	).Scan(&p.Running, &p.Current, &p.Total, &p.Success, &p.Failed, &p.UpdatedAt)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return TokenRefreshProgress{}, nil
		}
		return TokenRefreshProgress{}, fmt.Errorf("store: load token refresh progress: %w", err)
	}
	return p, nil
}

// SaveRefreshProgress upserts one batch task's progress snapshot so it
// survives a process restart mid-run.
func (s *Store) SaveRefreshProgress(ctx context.Context, taskID, kind, status string, processed, total, ok, fail int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO refresh_progress (task_id, kind, status, processed, total, ok_count, fail_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (task_id) DO UPDATE SET
		   status = EXCLUDED.status, processed = EXCLUDED.processed, total = EXCLUDED.total,
		   ok_count = EXCLUDED.ok_count, fail_count = EXCLUDED.fail_count, updated_at = now()`,
		taskID, kind, status, processed, total, ok, fail)
	if err != nil {
		return fmt.Errorf("store: save refresh progress: %w", err)
	}
	return nil
}
