// Package diag is the best-effort diagnostic log sink. Events that are
// silently tolerated by the core (unknown ids, storage degradation,
// maintenance summaries) leave a trace here. Append failures never propagate
// to the triggering operation.
package diag

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Recorder is the sink interface consumed by the core. Appends are fire and
// forget.
type Recorder interface {
	Append(message, sourceIP, stack string)
}

// Nop is a Recorder that discards everything.
type Nop struct{}

func (Nop) Append(string, string, string) {}

// Entry is one persisted diagnostic record.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	SourceIP  string    `json:"source_ip,omitempty"`
	Stack     string    `json:"stack,omitempty"`
}

// Sink stores diagnostics in SQLite.
type Sink struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open initializes the SQLite database and runs migrations.
func Open(dbPath string, log zerolog.Logger) (*Sink, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open diagnostics database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping diagnostics database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("diagnostics database initialized")
	return &Sink{db: db, log: log}, nil
}

func runMigrations(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS diagnostics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL,
			message TEXT NOT NULL,
			source_ip TEXT,
			stack TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diagnostics_ts ON diagnostics(ts DESC)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Append records a diagnostic message. Failures are logged and swallowed.
func (s *Sink) Append(message, sourceIP, stack string) {
	_, err := s.db.Exec(
		`INSERT INTO diagnostics (ts, message, source_ip, stack) VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), message, sourceIP, stack,
	)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to append diagnostic entry")
	}
}

// Recent returns the newest entries, most recent first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, message, COALESCE(source_ip, ''), COALESCE(stack, '')
		 FROM diagnostics
		 ORDER BY ts DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnostics: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Message, &e.SourceIP, &e.Stack); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune removes entries older than the retention period.
func (s *Sink) Prune(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	if _, err := s.db.Exec(`DELETE FROM diagnostics WHERE ts < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune diagnostics: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Sink) Close() error {
	return s.db.Close()
}
