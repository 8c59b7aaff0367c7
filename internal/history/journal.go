package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/nerrad567/isy-shadow/internal/infrastructure/config"
	"github.com/nerrad567/isy-shadow/internal/shadow"
)

// Journal configuration constants.
const (
	// dirPermissions is the permission mode for the journal directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the journal file.
	filePermissions = 0600

	// busyTimeoutMs is the maximum time to wait for a database lock.
	busyTimeoutMs = 5000

	// connectionTimeout bounds the connectivity check on open.
	connectionTimeout = 5 * time.Second

	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

// Sentinel errors for journal operations.
var (
	// ErrDisabled indicates the history journal is disabled in config.
	ErrDisabled = errors.New("history: disabled in configuration")

	// ErrOpenFailed indicates the journal database could not be opened.
	ErrOpenFailed = errors.New("history: open failed")
)

// Logger is the minimal logging interface the journal requires.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Entry is one recorded status transition.
type Entry struct {
	ID         int64
	Address    string
	Kind       string
	Key        string
	Value      string
	Formatted  string
	UOM        string
	RecordedAt time.Time
}

// Journal is an on-disk log of entity status transitions.
//
// It records transitions, not state: the shadow tree is never restored
// from the journal. Timestamps are stored as RFC3339 UTC strings so
// retention pruning can compare them lexicographically.
type Journal struct {
	db     *sql.DB
	path   string
	logger Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS status_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	address     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	prop_key    TEXT NOT NULL,
	value       TEXT NOT NULL,
	formatted   TEXT NOT NULL DEFAULT '',
	uom         TEXT NOT NULL DEFAULT '',
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status_history_address ON status_history(address, recorded_at);
CREATE INDEX IF NOT EXISTS idx_status_history_recorded ON status_history(recorded_at);
`

// Open creates or opens the journal database.
//
// It creates the directory if missing, opens the file with WAL mode
// and a busy timeout, creates the schema if absent, and verifies the
// connection. Returns ErrDisabled when the journal is off in config.
func Open(cfg config.HistoryConfig, logger Logger) (*Journal, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = noopLogger{}
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("%w: creating directory: %w", ErrOpenFailed, err)
	}

	// See: https://github.com/mattn/go-sqlite3#connection-string
	connStr := fmt.Sprintf(
		"file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		cfg.Path, busyTimeoutMs,
	)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: verifying connection: %w", ErrOpenFailed, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %w", ErrOpenFailed, err)
	}

	// Owner read/write only. File might not exist yet on first run.
	_ = os.Chmod(cfg.Path, filePermissions)

	logger.Info("history journal opened", "path", cfg.Path)

	return &Journal{db: db, path: cfg.Path, logger: logger}, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("history: closing journal: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the journal file.
func (j *Journal) Path() string {
	return j.path
}

// Record appends one status transition to the journal.
// The never-reported unit sentinel is stored as an empty string.
func (j *Journal) Record(ctx context.Context, change shadow.StatusChange) error {
	uom := change.New.UOM
	if uom == shadow.UOMNotSet {
		uom = ""
	}
	at := change.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO status_history (address, kind, prop_key, value, formatted, uom, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(change.Address),
		string(change.Kind),
		change.Key,
		change.New.Value,
		change.New.Formatted,
		uom,
		at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("history: inserting transition: %w", err)
	}
	return nil
}

// Recent returns the latest transitions for an entity, newest first.
// A non-positive limit defaults to 50; the ceiling is 200.
func (j *Journal) Recent(ctx context.Context, address string, limit int) ([]Entry, error) {
	if address == "" {
		return nil, fmt.Errorf("history: address is required")
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, address, kind, prop_key, value, formatted, uom, recorded_at
		 FROM status_history
		 WHERE address = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		address, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: querying transitions: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var recordedAt string
		if err := rows.Scan(&e.ID, &e.Address, &e.Kind, &e.Key, &e.Value, &e.Formatted, &e.UOM, &recordedAt); err != nil {
			return nil, fmt.Errorf("history: scanning transition: %w", err)
		}
		e.RecordedAt, err = time.Parse(time.RFC3339, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("history: parsing recorded_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating transitions: %w", err)
	}

	return entries, nil
}

// Prune deletes transitions older than the given duration and returns
// the number of rows removed.
func (j *Journal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := j.db.ExecContext(ctx,
		"DELETE FROM status_history WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("history: pruning transitions: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: checking rows affected: %w", err)
	}
	if removed > 0 {
		j.logger.Info("history pruned", "removed", removed)
	}
	return removed, nil
}

// HealthCheck verifies the journal is accessible.
func (j *Journal) HealthCheck(ctx context.Context) error {
	var one int
	if err := j.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("history: health check failed: %w", err)
	}
	return nil
}
