// Package engine binds an in-memory SQLite database that can be serialized
// to and restored from a byte image.
//
// The engine is a capability, not a service: it is not safe for concurrent
// use and callers must serialize access (see database.Coordinator).
package engine

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"

	apperrors "github.com/bryan-buckman/tabink/internal/errors"
)

// headerMagic starts every SQLite database image.
var headerMagic = []byte("SQLite format 3\x00")

const headerSize = 100

// serializer and restorer are implemented by the modernc.org/sqlite driver
// connection.
type serializer interface {
	Serialize() ([]byte, error)
}

type restorer interface {
	NewRestore(srcURI string) (*sqlite.Backup, error)
}

// Engine is a single in-memory SQLite database pinned to one connection.
type Engine struct {
	db   *sqlx.DB
	conn *sqlx.Conn
}

// Result holds the columns and rows returned by Exec.
type Result struct {
	Columns []string `json:"columns"`
	Values  [][]any  `json:"values"`
}

// RunResult describes the effect of a mutating statement.
type RunResult struct {
	LastInsertID int64
	RowsAffected int64
}

// New creates a fresh, empty in-memory database.
func New(ctx context.Context) (*Engine, error) {
	// Every connection to :memory: is its own database, so the engine keeps
	// exactly one connection for its whole life.
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Connx(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Engine{db: db, conn: conn}, nil
}

// FromBytes creates an in-memory database from a serialized image.
// It fails with a CorruptStateError if data is not a valid database.
func FromBytes(ctx context.Context, data []byte) (*Engine, error) {
	if len(data) < headerSize || !bytes.HasPrefix(data, headerMagic) {
		return nil, apperrors.New(apperrors.ErrCorruptState, "not a sqlite database image")
	}
	image := bytes.Clone(data)
	// Images written in WAL mode cannot be opened from memory; mark them as
	// rollback-journal images. Offsets 18 and 19 are the read/write versions.
	if image[18] == 2 || image[19] == 2 {
		image[18], image[19] = 1, 1
	}

	e, err := New(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.restore(image); err != nil {
		e.Close()
		return nil, apperrors.Wrap(apperrors.ErrCorruptState, "restore database", err)
	}
	if err := e.verify(ctx); err != nil {
		e.Close()
		return nil, apperrors.Wrap(apperrors.ErrCorruptState, "verify database", err)
	}
	return e, nil
}

// restore copies image into the engine's database with SQLite's backup API.
// The image is staged in a temporary file, which is removed afterwards.
func (e *Engine) restore(image []byte) error {
	f, err := os.CreateTemp("", "tabink-restore-*.sqlite")
	if err != nil {
		return fmt.Errorf("stage image: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.Write(image); err != nil {
		f.Close()
		return fmt.Errorf("stage image: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("stage image: %w", err)
	}

	return e.conn.Raw(func(driverConn any) error {
		r, ok := driverConn.(restorer)
		if !ok {
			return fmt.Errorf("driver %T cannot restore", driverConn)
		}
		bck, err := r.NewRestore(path)
		if err != nil {
			return err
		}
		for {
			more, err := bck.Step(-1)
			if err != nil {
				bck.Finish()
				return err
			}
			if !more {
				return bck.Finish()
			}
		}
	})
}

// verify runs an integrity check over the whole image.
func (e *Engine) verify(ctx context.Context) error {
	var results []string
	if err := e.conn.SelectContext(ctx, &results, "PRAGMA quick_check"); err != nil {
		return err
	}
	if len(results) != 1 || results[0] != "ok" {
		return fmt.Errorf("integrity check failed: %s", strings.Join(results, "; "))
	}
	return nil
}

// Exec runs any statement and returns the rows it produced, if any.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	rows, err := e.conn.QueryxContext(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}
	res := Result{Columns: cols}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return Result{}, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = bytes.Clone(b)
			}
		}
		res.Values = append(res.Values, vals)
	}
	return res, rows.Err()
}

// Run executes a mutating statement.
func (e *Engine) Run(ctx context.Context, query string, args ...any) (RunResult, error) {
	res, err := e.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return RunResult{}, err
	}
	id, _ := res.LastInsertId()
	affected, _ := res.RowsAffected()
	return RunResult{LastInsertID: id, RowsAffected: affected}, nil
}

// Select scans all rows of query into dest, a pointer to a slice.
func (e *Engine) Select(ctx context.Context, dest any, query string, args ...any) error {
	return e.conn.SelectContext(ctx, dest, query, args...)
}

// Get scans the first row of query into dest. It reports false if the query
// returned no rows.
func (e *Engine) Get(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	err := e.conn.GetContext(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Tables returns the names of all user tables, sorted.
func (e *Engine) Tables(ctx context.Context) ([]string, error) {
	var names []string
	err := e.conn.SelectContext(ctx, &names,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	return names, err
}

// Serialize returns a point-in-time copy of the database image.
func (e *Engine) Serialize(ctx context.Context) ([]byte, error) {
	var image []byte
	err := e.conn.Raw(func(driverConn any) error {
		s, ok := driverConn.(serializer)
		if !ok {
			return fmt.Errorf("driver %T cannot serialize", driverConn)
		}
		b, err := s.Serialize()
		if err != nil {
			return err
		}
		image = bytes.Clone(b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("serialize database: %w", err)
	}
	return image, nil
}

// Close releases the connection and the database.
func (e *Engine) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	connErr := e.conn.Close()
	dbErr := e.db.Close()
	e.db, e.conn = nil, nil
	return errors.Join(connErr, dbErr)
}

// IsNoSuchTable reports whether err is SQLite's missing-table error for table.
func IsNoSuchTable(err error, table string) bool {
	return err != nil && strings.Contains(err.Error(), "no such table: "+table)
}
