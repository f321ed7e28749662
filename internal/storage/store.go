// Package storage persists prebuilt task contexts in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/model"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// DefaultPath is the database location relative to the project root.
const DefaultPath = ".devscontext/cache.db"

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrCorruptRecord is returned when a stored row cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt prebuilt context record")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage closed")
)

// openDB is swapped in tests.
var openDB = sql.Open

const schema = `
CREATE TABLE IF NOT EXISTS prebuilt_context (
	task_id               TEXT PRIMARY KEY,
	synthesized           TEXT NOT NULL,
	sources_used          TEXT NOT NULL,
	context_quality_score REAL NOT NULL,
	gaps                  TEXT NOT NULL,
	built_at              TEXT NOT NULL,
	expires_at            TEXT NOT NULL,
	source_data_hash      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prebuilt_expires ON prebuilt_context(expires_at);
`

// Summary is a listing row without the synthesized text.
type Summary struct {
	TaskID       string    `json:"task_id"`
	QualityScore float64   `json:"quality_score"`
	BuiltAt      time.Time `json:"built_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	GapsCount    int       `json:"gaps_count"`
}

// Stats describes the store for status output.
type Stats struct {
	Total      int     `json:"total"`
	Active     int     `json:"active"`
	Expired    int     `json:"expired"`
	AvgQuality float64 `json:"avg_quality"`
	Path       string  `json:"db_path"`
}

// Store is a SQLite-backed table of prebuilt contexts keyed by task id.
// Writes are atomic upserts; concurrent writers for one task id resolve
// to the last committed write.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
	now    func() time.Time
	closed atomic.Bool
}

// Open creates the database file and schema if needed.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	logger.Info("storage initialized", zap.String("db_path", path))
	return &Store{db: db, path: path, logger: logger, now: time.Now}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Store inserts or replaces the result for its task id.
func (s *Store) Store(ctx context.Context, r *model.SynthesizedResult) error {
	if s.closed.Load() {
		return ErrClosed
	}
	sources, err := json.Marshal(nonNil(r.SourcesUsed))
	if err != nil {
		return fmt.Errorf("storage: encode sources: %w", err)
	}
	gaps, err := json.Marshal(nonNil(r.Gaps))
	if err != nil {
		return fmt.Errorf("storage: encode gaps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prebuilt_context
			(task_id, synthesized, sources_used, context_quality_score, gaps, built_at, expires_at, source_data_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			synthesized = excluded.synthesized,
			sources_used = excluded.sources_used,
			context_quality_score = excluded.context_quality_score,
			gaps = excluded.gaps,
			built_at = excluded.built_at,
			expires_at = excluded.expires_at,
			source_data_hash = excluded.source_data_hash`,
		r.TaskID, r.Synthesized, string(sources), r.QualityScore, string(gaps),
		formatTime(r.BuiltAt), formatTime(r.ExpiresAt), r.SourceDataHash,
	)
	if err != nil {
		return fmt.Errorf("storage: store %s: %w", r.TaskID, err)
	}
	s.logger.Info("stored prebuilt context",
		zap.String("task_id", r.TaskID),
		zap.Float64("quality_score", r.QualityScore),
		zap.Int("gaps_count", len(r.Gaps)))
	return nil
}

// Get returns the stored result, expired or not. A missing task yields
// (nil, nil).
func (s *Store) Get(ctx context.Context, taskID string) (*model.SynthesizedResult, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, synthesized, sources_used, context_quality_score, gaps, built_at, expires_at, source_data_hash
		FROM prebuilt_context WHERE task_id = ?`, taskID)

	var (
		r                          model.SynthesizedResult
		sources, gaps, built, expi string
	)
	err := row.Scan(&r.TaskID, &r.Synthesized, &sources, &r.QualityScore, &gaps, &built, &expi, &r.SourceDataHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", taskID, err)
	}

	if err := json.Unmarshal([]byte(sources), &r.SourcesUsed); err != nil {
		return nil, fmt.Errorf("%w: %s sources_used: %v", ErrCorruptRecord, taskID, err)
	}
	if err := json.Unmarshal([]byte(gaps), &r.Gaps); err != nil {
		return nil, fmt.Errorf("%w: %s gaps: %v", ErrCorruptRecord, taskID, err)
	}
	if r.BuiltAt, err = parseTime(built); err != nil {
		return nil, fmt.Errorf("%w: %s built_at: %v", ErrCorruptRecord, taskID, err)
	}
	if r.ExpiresAt, err = parseTime(expi); err != nil {
		return nil, fmt.Errorf("%w: %s expires_at: %v", ErrCorruptRecord, taskID, err)
	}
	return &r, nil
}

// IsStale reports whether the stored hash differs from hash. A missing
// task is stale.
func (s *Store) IsStale(ctx context.Context, taskID, hash string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT source_data_hash FROM prebuilt_context WHERE task_id = ?`, taskID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: staleness of %s: %w", taskID, err)
	}
	return stored != hash, nil
}

// Delete removes a task and reports whether it existed.
func (s *Store) Delete(ctx context.Context, taskID string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM prebuilt_context WHERE task_id = ?`, taskID)
	if err != nil {
		return false, fmt.Errorf("storage: delete %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: delete %s: %w", taskID, err)
	}
	if n > 0 {
		s.logger.Info("deleted prebuilt context", zap.String("task_id", taskID))
	}
	return n > 0, nil
}

// DeleteExpired removes every entry whose expiry has passed and returns
// how many were removed.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM prebuilt_context WHERE expires_at <= ?`, formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("storage: delete expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: delete expired: %w", err)
	}
	if n > 0 {
		s.logger.Info("deleted expired contexts", zap.Int64("count", n))
	}
	return int(n), nil
}

// ListAll returns summaries, newest build first.
func (s *Store) ListAll(ctx context.Context) ([]Summary, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, context_quality_score, built_at, expires_at, gaps
		FROM prebuilt_context ORDER BY built_at DESC, task_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum                Summary
			built, expi, gapsJ string
			gaps               []string
		)
		if err := rows.Scan(&sum.TaskID, &sum.QualityScore, &built, &expi, &gapsJ); err != nil {
			return nil, fmt.Errorf("storage: list: %w", err)
		}
		if err := json.Unmarshal([]byte(gapsJ), &gaps); err != nil {
			return nil, fmt.Errorf("%w: %s gaps: %v", ErrCorruptRecord, sum.TaskID, err)
		}
		if sum.BuiltAt, err = parseTime(built); err != nil {
			return nil, fmt.Errorf("%w: %s built_at: %v", ErrCorruptRecord, sum.TaskID, err)
		}
		if sum.ExpiresAt, err = parseTime(expi); err != nil {
			return nil, fmt.Errorf("%w: %s expires_at: %v", ErrCorruptRecord, sum.TaskID, err)
		}
		sum.GapsCount = len(gaps)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Stats counts active and expired entries and averages quality.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Path: s.path}
	if s.closed.Load() {
		return st, ErrClosed
	}
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN expires_at > ? THEN 1 ELSE 0 END), 0),
		       AVG(context_quality_score)
		FROM prebuilt_context`, formatTime(s.now())).Scan(&st.Total, &st.Active, &avg)
	if err != nil {
		return st, fmt.Errorf("storage: stats: %w", err)
	}
	st.Expired = st.Total - st.Active
	if avg.Valid {
		st.AvgQuality = avg.Float64
	}
	return st, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return s.db.Close()
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		// Rows written by other tools may use plain RFC 3339.
		return time.Parse(time.RFC3339Nano, v)
	}
	return t, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
