package database

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bryan-buckman/tabink/internal/engine"
	apperrors "github.com/bryan-buckman/tabink/internal/errors"
	"github.com/bryan-buckman/tabink/internal/storage"
)

// State is the lifecycle state of a Coordinator.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Status reports the coordinator's durability situation.
type Status struct {
	State            string    `json:"state"`
	Degraded         bool      `json:"degraded"`
	MemoryOnly       bool      `json:"memoryOnly"`
	LastPersistError string    `json:"lastPersistError,omitempty"`
	LastPersisted    time.Time `json:"lastPersisted,omitempty"`
}

// Statement is one SQL statement with its arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Stmt builds a Statement.
func Stmt(query string, args ...any) Statement {
	return Statement{SQL: query, Args: args}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator owns the single engine instance. It restores the database from
// the durable store on Init and writes the whole database back after every
// mutation.
//
// A persistence failure never undoes a mutation: the change stays visible
// for the session, the coordinator is marked degraded and the next successful
// save clears the flag.
type Coordinator struct {
	// mu serializes every engine call and is held across serialize and save,
	// so a snapshot never observes a half-applied mutation and an older
	// snapshot never overwrites a newer one.
	mu      sync.Mutex
	adapter storage.Adapter
	eng     *engine.Engine
	state   State
	closed  bool
	ready   chan struct{}

	log *slog.Logger
	now func() time.Time

	memoryOnly    bool
	degraded      bool
	lastErr       error
	lastPersisted time.Time
}

// NewCoordinator returns an uninitialized coordinator persisting through
// adapter.
func NewCoordinator(adapter storage.Adapter, opts ...Option) *Coordinator {
	c := &Coordinator{
		adapter: adapter,
		ready:   make(chan struct{}),
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init restores the database from the durable store, or creates a fresh one.
// Calling Init on a ready coordinator does nothing. Corrupt or missing state
// is not an error; only failing to create even an empty database is.
func (c *Coordinator) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateReady || c.closed {
		return nil
	}
	c.state = StateInitializing

	eng, persist, err := c.restore(ctx)
	if err != nil {
		c.state = StateUninitialized
		return err
	}
	c.eng = eng
	c.state = StateReady
	if persist {
		// Persist right away so a crash after the first run still leaves a
		// valid empty schema behind.
		_ = c.persistLocked(ctx)
	}
	close(c.ready)
	return nil
}

// restore builds the engine for Init and reports whether it must be
// persisted immediately.
func (c *Coordinator) restore(ctx context.Context) (*engine.Engine, bool, error) {
	// A retried Init starts from a clean slate.
	c.memoryOnly, c.degraded, c.lastErr = false, false, nil

	data, err := c.adapter.Load(ctx)
	if err != nil {
		// The record may exist but be unreadable; writing an empty database
		// over it would destroy it, so the session stays in memory.
		c.memoryOnly = true
		c.degraded = true
		c.lastErr = err
		c.log.Warn("durable store unavailable, running in memory only", "error", err)
		data = nil
	}

	if data != nil {
		eng, created, err := restoreImage(ctx, data)
		if err == nil {
			c.log.Info("database restored", "bytes", len(data), "tables_created", created)
			return eng, len(created) > 0, nil
		}
		c.log.Error("persisted database is corrupt, starting with an empty database; data not exported before is lost",
			"error", err, "bytes", len(data))
	}

	eng, err := engine.New(ctx)
	if err != nil {
		return nil, false, err
	}
	if _, err := EnsureSchema(ctx, eng); err != nil {
		eng.Close()
		return nil, false, err
	}
	c.log.Info("database created")
	return eng, true, nil
}

// restoreImage builds an engine from a persisted image and brings its schema
// up to date.
func restoreImage(ctx context.Context, data []byte) (*engine.Engine, []string, error) {
	eng, err := engine.FromBytes(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	created, err := EnsureSchema(ctx, eng)
	if err != nil {
		eng.Close()
		return nil, nil, apperrors.Wrap(apperrors.ErrCorruptState, "migrate restored database", err)
	}
	return eng, created, nil
}

// Ready returns a channel closed once Init has succeeded.
func (c *Coordinator) Ready() <-chan struct{} {
	return c.ready
}

// Wait blocks until Init has succeeded or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now returns the current time from the coordinator's clock.
func (c *Coordinator) Now() time.Time {
	return c.now()
}

// Run executes a mutating statement and persists the whole database.
func (c *Coordinator) Run(ctx context.Context, query string, args ...any) (engine.RunResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return engine.RunResult{}, err
	}

	res, err := c.eng.Run(ctx, query, args...)
	if err != nil {
		return res, queryError(err)
	}
	_ = c.persistLocked(ctx)
	return res, nil
}

// RunBatch executes statements in order and persists once. It stops at the
// first failing statement; statements already applied are kept and persisted.
func (c *Coordinator) RunBatch(ctx context.Context, stmts ...Statement) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return err
	}

	var runErr error
	applied := 0
	for _, st := range stmts {
		if _, err := c.eng.Run(ctx, st.SQL, st.Args...); err != nil {
			runErr = queryError(err)
			break
		}
		applied++
	}
	if applied > 0 {
		_ = c.persistLocked(ctx)
	}
	return runErr
}

// Exec runs any statement, returning its rows, and persists afterwards in
// case it changed the database.
func (c *Coordinator) Exec(ctx context.Context, query string, args ...any) (engine.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return engine.Result{}, err
	}

	res, err := c.eng.Exec(ctx, query, args...)
	if err != nil {
		return res, queryError(err)
	}
	_ = c.persistLocked(ctx)
	return res, nil
}

// All scans every row of a read-only query into dest, a pointer to a slice.
func (c *Coordinator) All(ctx context.Context, dest any, query string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return err
	}

	if err := c.eng.Select(ctx, dest, query, args...); err != nil {
		return queryError(err)
	}
	return nil
}

// Get scans the first row of a read-only query into dest and reports whether
// there was one.
func (c *Coordinator) Get(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return false, err
	}

	found, err := c.eng.Get(ctx, dest, query, args...)
	if err != nil {
		return false, queryError(err)
	}
	return found, nil
}

// TableNames returns the tables currently present.
func (c *Coordinator) TableNames(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return nil, err
	}

	names, err := c.eng.Tables(ctx)
	if err != nil {
		return nil, queryError(err)
	}
	return names, nil
}

// Export returns a snapshot of the database in SQLite's file format.
func (c *Coordinator) Export(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return nil, err
	}
	return c.eng.Serialize(ctx)
}

// Import replaces the database with a snapshot and persists it. The snapshot
// is fully validated first; if it is rejected the current database is kept.
func (c *Coordinator) Import(ctx context.Context, data []byte) error {
	candidate, err := engine.FromBytes(ctx, data)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrImportFailed, "snapshot rejected, current database kept", err)
	}
	if _, err := EnsureSchema(ctx, candidate); err != nil {
		candidate.Close()
		return apperrors.Wrap(apperrors.ErrImportFailed, "snapshot schema update failed, current database kept", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		candidate.Close()
		return err
	}

	old := c.eng
	c.eng = candidate
	if err := old.Close(); err != nil {
		c.log.Warn("closing replaced database", "error", err)
	}
	c.log.Info("database imported", "bytes", len(data))
	_ = c.persistLocked(ctx)
	return nil
}

// Flush persists the current state again, returning any failure. It is the
// way to retry after the coordinator became degraded.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.readyLocked(); err != nil {
		return err
	}
	if c.memoryOnly {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "session is memory only", c.lastErr)
	}
	return c.persistLocked(ctx)
}

// Status returns the current durability status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:         c.state.String(),
		Degraded:      c.degraded,
		MemoryOnly:    c.memoryOnly,
		LastPersisted: c.lastPersisted,
	}
	if c.lastErr != nil {
		st.LastPersistError = c.lastErr.Error()
	}
	return st
}

// Close releases the engine. The coordinator cannot be used afterwards.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.eng == nil {
		return nil
	}
	err := c.eng.Close()
	c.eng = nil
	return err
}

func (c *Coordinator) readyLocked() error {
	if c.closed {
		return apperrors.New(apperrors.ErrNotReady, "database closed")
	}
	if c.state != StateReady {
		return apperrors.New(apperrors.ErrNotReady, "database not initialized")
	}
	return nil
}

// persistLocked serializes the engine and saves it through the adapter.
// Failures are logged and recorded, never returned to mutation callers.
func (c *Coordinator) persistLocked(ctx context.Context) error {
	if c.memoryOnly {
		return nil
	}

	image, err := c.eng.Serialize(ctx)
	if err == nil {
		err = c.adapter.Save(ctx, image)
	}
	if err != nil {
		c.degraded = true
		c.lastErr = err
		c.log.Warn("persisting database failed, changes are kept in memory only", "error", err)
		return err
	}

	if c.degraded {
		c.log.Info("persisting database recovered")
	}
	c.degraded = false
	c.lastErr = nil
	c.lastPersisted = c.now()
	c.log.Debug("database persisted", "bytes", len(image))
	return nil
}

func queryError(err error) error {
	return apperrors.Wrap(apperrors.ErrQuery, "query failed", err)
}
