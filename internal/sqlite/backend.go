// Package sqlite implements the embedded relational backend.
//
// Classified statements are forwarded nearly verbatim after a token-level
// dialect rewrite; intents built without statement text are rendered with
// squirrel. Writes are serialized on the backend; reads run concurrently
// against the WAL-mode database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// Backend executes intents against a SQLite database file.
type Backend struct {
	mu     sync.Mutex // Serializes writers.
	db     *sql.DB
	path   string
	log    zerolog.Logger
	closed atomic.Bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for statement tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// Open opens (creating if needed) the database at cfg.Path and ensures the
// entity schema exists. Existing data is kept.
func Open(ctx context.Context, cfg types.SQLiteConfig, opts ...Option) (*Backend, error) {
	b := &Backend{path: cfg.Path, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	if b.path == "" {
		b.path = types.DefaultSQLiteFile
	}

	memory := b.path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		b.path, cfg.GetBusyTimeout().Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", b.path, err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", b.path, err)
	}
	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	b.db = db
	b.log.Debug().Str("path", b.path).Msg("sqlite backend ready")
	return b, nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ddl := range schemaDDL() {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schema: %w", err)
	}
	return nil
}

// Engine reports types.EngineSQLite.
func (b *Backend) Engine() string { return types.EngineSQLite }

// Path returns the database file path.
func (b *Backend) Path() string { return b.path }

// Close releases the database. Close is idempotent.
func (b *Backend) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.db.Close()
}
