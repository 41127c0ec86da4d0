package storage

import (
	"context"
	"errors"
	"strings"

	"notifyd/internal/delivery"
)

var (
	ErrClosed = errors.New("storage closed")
	// ErrDurablePath rejects sqlite paths that would write to disk.
	ErrDurablePath = errors.New("storage: sqlite path must be in-memory")
)

// IsMemoryPath reports whether an sqlite DSN stays in process memory:
// empty, ":memory:", "file::memory:..." or a file: URI with mode=memory.
func IsMemoryPath(path string) bool {
	path = strings.TrimSpace(path)
	switch {
	case path == "", path == ":memory:":
		return true
	case strings.HasPrefix(path, "file::memory:"):
		return true
	case strings.HasPrefix(path, "file:"):
		_, query, ok := strings.Cut(path, "?")
		if !ok {
			return false
		}
		for _, kv := range strings.Split(query, "&") {
			if kv == "mode=memory" {
				return true
			}
		}
	}
	return false
}

// Config configures storage.
//
// Driver values:
//   - "memory" (default): in-process map
//   - "sqlite": in-memory SQLite database; Path defaults to ":memory:"
type Config struct {
	Driver string
	Path   string
}

// Store keeps the canonical copy of every delivery record.
//
// Put inserts or wholesale-replaces the record with the same ID. Get and
// List return copies. List preserves first-insertion order; replacing a
// record keeps its position.
type Store interface {
	Put(ctx context.Context, rec delivery.Record) error
	Get(ctx context.Context, id string) (rec delivery.Record, ok bool, err error)
	List(ctx context.Context) ([]delivery.Record, error)
	Close() error
}
