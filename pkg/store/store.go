// Package store persists pipeline runs, the deployment policy, and raw
// scanner report artifacts in a local SQLite database. Runs and the policy
// are stored as JSON documents; report blobs are compressed before they are
// written since raw scanner JSON dominates storage.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/sentinelops/sentinel/pkg/compress"
	"github.com/sentinelops/sentinel/pkg/errors"
	"github.com/sentinelops/sentinel/pkg/policy"
	"github.com/sentinelops/sentinel/pkg/tracker"
)

// ReportKind identifies a stored report artifact.
type ReportKind string

const (
	ReportBandit   ReportKind = "bandit"
	ReportTrivy    ReportKind = "trivy"
	ReportDecision ReportKind = "decision"
)

// Config configures the store.
type Config struct {
	// DatabasePath is the SQLite database file. Defaults to
	// sentinel.db in the working directory.
	DatabasePath string

	// Compressor compresses report blobs. Defaults to ZSTD.
	Compressor *compress.Compressor
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "sentinel.db",
	}
}

// Store is a SQLite-backed store. It implements policy.Store and the
// tracker's RunStore.
type Store struct {
	db         *sql.DB
	mu         sync.RWMutex
	compressor *compress.Compressor
}

// New opens (creating if needed) the database at cfg.DatabasePath.
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	path := cfg.DatabasePath
	if path == "" {
		path = "sentinel.db"
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	compressor := cfg.Compressor
	if compressor == nil {
		compressor = compress.NewCompressor(compress.AlgorithmZSTD, compress.LevelDefault)
	}

	s := &Store{db: db, compressor: compressor}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policy (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		doc TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		triggered_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		doc TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reports (
		run_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		data BLOB NOT NULL,
		original_size INTEGER NOT NULL,
		compression_algo TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, kind),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_triggered_at ON runs(triggered_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ============================================================================
// Policy
// ============================================================================

// LoadPolicy returns the stored policy document.
func (s *Store) LoadPolicy(ctx context.Context) (*policy.Policy, error) {
	const op = "store.LoadPolicy"

	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM policy WHERE id = 1`).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, errors.E(op, errors.KindNotFound, "no policy stored")
	}
	if err != nil {
		return nil, errors.E(op, errors.KindInternal, err)
	}

	var p policy.Policy
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, errors.E(op, errors.KindInternal, fmt.Errorf("decode policy: %w", err))
	}
	return &p, nil
}

// SavePolicy replaces the stored policy document.
func (s *Store) SavePolicy(ctx context.Context, p *policy.Policy) error {
	const op = "store.SavePolicy"

	doc, err := json.Marshal(p)
	if err != nil {
		return errors.E(op, errors.KindInternal, fmt.Errorf("encode policy: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policy (id, doc, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`, string(doc), time.Now().UTC())
	if err != nil {
		return errors.E(op, errors.KindInternal, err)
	}
	return nil
}

// ============================================================================
// Runs
// ============================================================================

// SaveRun upserts a run document.
func (s *Store) SaveRun(ctx context.Context, run *tracker.PipelineRun) error {
	const op = "store.SaveRun"

	doc, err := json.Marshal(run)
	if err != nil {
		return errors.E(op, errors.KindInternal, fmt.Errorf("encode run: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, triggered_at, status, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			doc = excluded.doc
	`, run.ID, run.TriggeredAt, string(run.Status), string(doc))
	if err != nil {
		return errors.E(op, errors.KindInternal, err)
	}
	return nil
}

// DeleteRun removes a run and its report artifacts.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	const op = "store.DeleteRun"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE run_id = ?`, id); err != nil {
		return errors.E(op, errors.KindInternal, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return errors.E(op, errors.KindInternal, err)
	}
	return nil
}

// ListRuns returns stored runs, most recently triggered first. A limit of 0
// or less returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*tracker.PipelineRun, error) {
	const op = "store.ListRuns"

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT doc FROM runs ORDER BY triggered_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.E(op, errors.KindInternal, err)
	}
	defer rows.Close()

	var runs []*tracker.PipelineRun
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, errors.E(op, errors.KindInternal, err)
		}
		var run tracker.PipelineRun
		if err := json.Unmarshal([]byte(doc), &run); err != nil {
			return nil, errors.E(op, errors.KindInternal, fmt.Errorf("decode run: %w", err))
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.E(op, errors.KindInternal, err)
	}
	return runs, nil
}

// ============================================================================
// Report artifacts
// ============================================================================

// SaveReport stores a raw report blob for a run, compressed.
func (s *Store) SaveReport(ctx context.Context, runID string, kind ReportKind, data []byte) error {
	const op = "store.SaveReport"

	compressed, err := s.compressor.Compress(data)
	if err != nil {
		return errors.E(op, errors.KindInternal, fmt.Errorf("compress report: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (run_id, kind, data, original_size, compression_algo, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, kind) DO UPDATE SET
			data = excluded.data,
			original_size = excluded.original_size,
			compression_algo = excluded.compression_algo,
			created_at = excluded.created_at
	`, runID, string(kind), compressed, len(data), string(s.compressor.Algorithm()), time.Now().UTC())
	if err != nil {
		return errors.E(op, errors.KindInternal, err)
	}
	return nil
}

// GetReport returns the decompressed report blob for a run.
func (s *Store) GetReport(ctx context.Context, runID string, kind ReportKind) ([]byte, error) {
	const op = "store.GetReport"

	s.mu.RLock()
	var blob []byte
	var algo string
	err := s.db.QueryRowContext(ctx, `
		SELECT data, compression_algo FROM reports WHERE run_id = ? AND kind = ?
	`, runID, string(kind)).Scan(&blob, &algo)
	s.mu.RUnlock()

	if err == sql.ErrNoRows {
		return nil, errors.E(op, errors.KindNotFound,
			fmt.Sprintf("no %s report for run %q", kind, runID))
	}
	if err != nil {
		return nil, errors.E(op, errors.KindInternal, err)
	}

	data, err := compress.NewCompressor(compress.Algorithm(algo), compress.LevelDefault).Decompress(blob)
	if err != nil {
		return nil, errors.E(op, errors.KindInternal, fmt.Errorf("decompress report: %w", err))
	}
	return data, nil
}

// Ping verifies the database connection. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
