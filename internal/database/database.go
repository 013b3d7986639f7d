// Package database provides the local store: schema, persistence and the
// typed query API for tasks, notes, sketches, feeds and settings.
package database

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bryan-buckman/tabink/internal/storage"
)

// DB is the typed query API over a Coordinator.
type DB struct {
	c     *Coordinator
	newID func() string
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New wraps an initialized coordinator.
func New(c *Coordinator) *DB {
	return &DB{c: c, newID: newTimeOrderedID}
}

// Open creates a coordinator over adapter, initializes it and wraps it.
func Open(ctx context.Context, adapter storage.Adapter, opts ...Option) (*DB, error) {
	c := NewCoordinator(adapter, opts...)
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return New(c), nil
}

// Coordinator returns the underlying coordinator.
func (db *DB) Coordinator() *Coordinator {
	return db.c
}

// Close closes the database.
func (db *DB) Close() error {
	return db.c.Close()
}

// Export returns a snapshot of the whole database.
func (db *DB) Export(ctx context.Context) ([]byte, error) {
	return db.c.Export(ctx)
}

// Import replaces the whole database with a snapshot.
func (db *DB) Import(ctx context.Context, data []byte) error {
	return db.c.Import(ctx, data)
}

// Flush retries persisting the current state.
func (db *DB) Flush(ctx context.Context) error {
	return db.c.Flush(ctx)
}

// Status reports the durability status.
func (db *DB) Status() Status {
	return db.c.Status()
}

// newTimeOrderedID returns a UUIDv7, which sorts by creation time.
func newTimeOrderedID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime accepts the stored layout and the date formats feeds commonly
// carry. Unparseable values read as the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC1123Z, time.RFC1123, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullIfEmpty stores empty optional text as NULL.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
