// Package store implements the relational store for ppmcore on SQLite.
// One PPMStore owns all tables: projects and portfolios, financial facts,
// roles, alerts, schedules, embeddings and the append-only audit logs.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"ppmcore/internal/logging"
)

// PPMStore is the single SQLite-backed store behind every business component.
//
// Concurrency: SQLite is opened with a single connection and WAL mode; the
// RWMutex serializes writers while allowing concurrent readers within the
// process. Upserts on embeddings are last-writer-wins at the store level.
type PPMStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec vec0 virtual tables available
}

// Open initializes the SQLite database at the given path.
// ":memory:" yields an ephemeral store for tests.
func Open(path string) (*PPMStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening PPMStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	s := &PPMStore{db: db, dbPath: path}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected; native vector search enabled")
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension not available; falling back to in-process similarity")
	}

	logging.Store("PPMStore initialization complete")
	return s, nil
}

// Close closes the database connection.
func (s *PPMStore) Close() error {
	logging.Store("Closing PPMStore database connection")
	return s.db.Close()
}

// DB returns the underlying SQL database connection.
func (s *PPMStore) DB() *sql.DB {
	return s.db
}

// HasVectorExt reports whether native vec0 virtual tables are usable.
func (s *PPMStore) HasVectorExt() bool {
	return s.vectorExt
}

// detectVecExtension attempts to create a vec0 virtual table to see if
// sqlite-vec is linked into the driver.
func (s *PPMStore) detectVecExtension() {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

// GetStats returns row counts per table.
func (s *PPMStore) GetStats() (map[string]int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetStats")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{
		"portfolios", "projects", "commitments", "actuals",
		"financial_tracking", "threshold_rules", "variance_alerts",
		"roles", "user_roles", "embeddings", "ai_operation_logs",
		"ai_feedback", "ab_tests", "conversations", "schedules",
		"tasks", "wbs_elements", "import_audit_logs", "audit_events",
	}
	for _, table := range tables {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			logging.StoreDebug("Table %s count failed (may not exist): %v", table, err)
			continue
		}
		stats[table] = count
	}
	return stats, nil
}

// isUniqueViolation reports whether an error is a SQLite unique-constraint
// failure. Used by best-effort creates that refetch on conflict.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsUniqueViolation exposes the unique-constraint check to callers that
// seed rows idempotently.
func IsUniqueViolation(err error) bool { return isUniqueViolation(err) }
