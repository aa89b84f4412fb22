// ABOUTME: File-per-conversation JSON persistence backend
// ABOUTME: Atomic write-via-rename, corrupt records skipped on load

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileBackend stores each conversation as one JSON file under a data
// directory. It is the reference Backend implementation.
type FileBackend struct {
	dir    string
	logger *slog.Logger
}

// NewFileBackend creates the data directory if needed and returns a backend
// rooted there.
func NewFileBackend(dir string, logger *slog.Logger) (*FileBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &FileBackend{
		dir:    dir,
		logger: logger.With("component", "filestore"),
	}, nil
}

// path returns the snapshot file for a conversation id. Ids are sanitized
// so a hostile id cannot escape the data directory.
func (b *FileBackend) path(id string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
	return filepath.Join(b.dir, safe+".json")
}

// LoadAll reads every conversation file in the data directory. A file that
// cannot be read or parsed is logged and skipped; it never fails the load
// of the others.
func (b *FileBackend) LoadAll(ctx context.Context) ([]*Conversation, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("reading data directory: %w", err)
	}

	var out []*Conversation
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(b.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			b.logger.Warn("skipping unreadable conversation file", "path", path, "error", err)
			continue
		}
		var conv Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			b.logger.Warn("skipping corrupt conversation file", "path", path, "error", err)
			continue
		}
		if conv.ID == "" {
			b.logger.Warn("skipping conversation file without id", "path", path)
			continue
		}
		out = append(out, &conv)
	}
	return out, nil
}

// Save writes one conversation snapshot atomically: write to a temp file in
// the same directory, then rename over the target.
func (b *FileBackend) Save(ctx context.Context, conv *Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding conversation %s: %w", conv.ID, err)
	}

	target := b.path(conv.ID)
	tmp, err := os.CreateTemp(b.dir, ".conv-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing conversation %s: %w", conv.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming conversation %s: %w", conv.ID, err)
	}
	return nil
}

// Delete removes a conversation's snapshot file. Deleting a conversation
// that was never persisted is a no-op.
func (b *FileBackend) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(b.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// DeleteAll removes every conversation snapshot in the data directory
func (b *FileBackend) DeleteAll(ctx context.Context) error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("reading data directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(filepath.Join(b.dir, entry.Name())); err != nil {
			return fmt.Errorf("deleting %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Ping verifies the data directory is still present and writable
func (b *FileBackend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(b.dir)
	if err != nil {
		return fmt.Errorf("data directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data path %s is not a directory", b.dir)
	}
	return nil
}

// Close is a no-op for the file backend
func (b *FileBackend) Close() error {
	return nil
}
