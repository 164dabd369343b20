package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
)

// Store persists plans, tokens and executions in sqlite. Writes take a file
// lock so operational CLI invocations and the server can share one database.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS tokens (
			address TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			name TEXT NOT NULL,
			decimals INTEGER NOT NULL,
			is_wrapped INTEGER NOT NULL DEFAULT 0,
			wrapped_name TEXT,
			wrapped_symbol TEXT,
			original_address TEXT,
			price TEXT,
			fdv TEXT,
			marketcap TEXT,
			volume_24h TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS plans (
			plan_hash TEXT PRIMARY KEY,
			user_wallet TEXT NOT NULL,
			token_out_address TEXT NOT NULL,
			recipient TEXT NOT NULL,
			amount_in TEXT NOT NULL,
			frequency_seconds INTEGER NOT NULL,
			last_executed_at INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			last_activated_at INTEGER,
			deleted_at INTEGER
		);`,
		"CREATE INDEX IF NOT EXISTS idx_plans_user_token ON plans(user_wallet, token_out_address);",
		// Executions deliberately carry no foreign key: they outlive
		// soft-deleted plans.
		`CREATE TABLE IF NOT EXISTS executions (
			tx_hash TEXT PRIMARY KEY,
			plan_hash TEXT NOT NULL,
			amount_in TEXT NOT NULL,
			amount_out TEXT NOT NULL,
			fee_amount TEXT NOT NULL,
			token_out_address TEXT NOT NULL,
			executed_at INTEGER NOT NULL,
			needs_reconciliation INTEGER NOT NULL DEFAULT 0
		);`,
		"CREATE INDEX IF NOT EXISTS idx_executions_plan ON executions(plan_hash, executed_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath), now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) acquireLock(ctx context.Context) (func(), error) {
	locked, err := s.lock.TryLockContext(ctx, 5*time.Second)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "lock store", err)
	}
	if !locked {
		return nil, apperr.New(apperr.KindStorageUnavailable, "timeout acquiring store lock")
	}
	return func() { _ = s.lock.Unlock() }, nil
}

// isConstraintViolation matches sqlite constraint failures. modernc/sqlite
// surfaces them as plain errors, so the message is the contract.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
