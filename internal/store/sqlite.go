// ABOUTME: SQLite persistence backend using modernc.org/sqlite
// ABOUTME: One snapshot row per conversation, schema created on open

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend implements Backend over a single-table snapshot store.
// It preserves the FileBackend's read/write contract: whole-conversation
// records keyed by id.
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteBackend opens (or creates) the database at path. Parent
// directories are created if needed and the schema is applied on open.
func NewSQLiteBackend(path string, logger *slog.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sqlitestore")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps debounced writes off the read path
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			snapshot   TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("sqlite backend initialized", "path", path)
	return &SQLiteBackend{db: db, logger: logger}, nil
}

// LoadAll reads every conversation snapshot. A row that fails to decode is
// logged and skipped, matching the file backend's tolerance for individual
// corrupt records.
func (b *SQLiteBackend) LoadAll(ctx context.Context) ([]*Conversation, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id, snapshot FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var id, snapshot string
		if err := rows.Scan(&id, &snapshot); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		var conv Conversation
		if err := json.Unmarshal([]byte(snapshot), &conv); err != nil {
			b.logger.Warn("skipping corrupt conversation row", "conversation_id", id, "error", err)
			continue
		}
		out = append(out, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading conversation rows: %w", err)
	}
	return out, nil
}

// Save upserts one conversation snapshot
func (b *SQLiteBackend) Save(ctx context.Context, conv *Conversation) error {
	snapshot, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encoding conversation %s: %w", conv.ID, err)
	}

	query := `
		INSERT INTO conversations (id, snapshot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`
	if _, err := b.db.ExecContext(ctx, query,
		conv.ID, string(snapshot), conv.Updated.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("saving conversation %s: %w", conv.ID, err)
	}
	return nil
}

// Delete removes one conversation row; unknown ids are a no-op
func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// DeleteAll removes every conversation row
func (b *SQLiteBackend) DeleteAll(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clearing conversations: %w", err)
	}
	return nil
}

// Ping probes database liveness
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close releases the database handle
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
