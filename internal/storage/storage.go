// Package storage persists the serialized database as a single named record.
//
// An Adapter knows nothing about the schema: it loads and saves opaque bytes.
// There are no transactions across calls; the latest Save wins.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	apperrors "github.com/bryan-buckman/tabink/internal/errors"
)

// DefaultRecord is the record name used when none is configured.
const DefaultRecord = "tabink"

// Adapter loads and saves the durable database record.
type Adapter interface {
	// Load returns the stored bytes, or (nil, nil) if nothing was saved yet.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored bytes.
	Save(ctx context.Context, data []byte) error
}

// FileStore keeps the record as a file inside a data directory.
// Writes go through a temp file and rename, so a crash mid-write leaves the
// previous record intact.
type FileStore struct {
	dir  string
	name string

	// Quota caps the record size in bytes. Zero means unlimited.
	Quota int64
}

var _ Adapter = (*FileStore)(nil)

// NewFileStore returns a FileStore for record name in dir.
func NewFileStore(dir, name string) *FileStore {
	if name == "" {
		name = DefaultRecord
	}
	return &FileStore{dir: dir, name: name}
}

// Path returns the file holding the record.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, s.name+".sqlite")
}

// Load reads the record file.
func (s *FileStore) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "read record "+s.Path(), err)
	}
	return data, nil
}

// Save atomically replaces the record file.
func (s *FileStore) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Quota > 0 && int64(len(data)) > s.Quota {
		return apperrors.New(apperrors.ErrStorageUnavailable,
			fmt.Sprintf("record of %d bytes exceeds quota of %d bytes", len(data), s.Quota))
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "create data directory", err)
	}
	if err := atomic.WriteFile(s.Path(), bytes.NewReader(data)); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "write record "+s.Path(), err)
	}
	return nil
}

// MemoryStore keeps the record in process memory. It is used for
// memory-only sessions and in tests, where LoadErr and SaveErr inject
// adapter failures.
type MemoryStore struct {
	mu      sync.Mutex
	data    []byte
	present bool
	saves   int

	LoadErr error
	SaveErr error
}

var _ Adapter = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored bytes.
func (s *MemoryStore) Load(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "load record", s.LoadErr)
	}
	if !s.present {
		return nil, nil
	}
	return bytes.Clone(s.data), nil
}

// Save stores a copy of data.
func (s *MemoryStore) Save(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "save record", s.SaveErr)
	}
	s.data = bytes.Clone(data)
	s.present = true
	s.saves++
	return nil
}

// Saves returns the number of successful saves.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// SetFailures replaces the injected load and save errors.
func (s *MemoryStore) SetFailures(loadErr, saveErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoadErr = loadErr
	s.SaveErr = saveErr
}
