// Package quire is the public entry point of the query adapter. Open picks a
// backend (MongoDB or SQLite) from the configuration and returns a DB that
// accepts the CMS statement dialect, or intents built with package query,
// and returns rows of the same shape on either engine.
//
// Example:
//
//	db, err := quire.Open(ctx, types.Config{Mongo: types.MongoConfig{URI: uri}})
//	if err != nil {
//	    return err
//	}
//	defer db.Close(ctx)
//	rows, err := db.Query(ctx, "SELECT * FROM articles WHERE status = ?", "published")
package quire

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/quire/internal/adapter"
	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// Backend is a live storage engine handle.
type Backend = adapter.Backend

// Dialer initializes a storage engine.
type Dialer = adapter.Dialer

type options struct {
	log        zerolog.Logger
	images     types.ImageStore
	document   Dialer
	relational Dialer
	lazy       bool
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger for selection, classification misses, and
// backend errors.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithImageStore sets where uploaded article images are written.
func WithImageStore(s types.ImageStore) Option {
	return func(o *options) { o.images = s }
}

// WithDocumentDialer replaces the MongoDB connection step.
func WithDocumentDialer(d Dialer) Option {
	return func(o *options) { o.document = d }
}

// WithRelationalDialer replaces the SQLite open step.
func WithRelationalDialer(d Dialer) Option {
	return func(o *options) { o.relational = d }
}

// Lazy defers backend selection to the first statement.
func Lazy() Option {
	return func(o *options) { o.lazy = true }
}

// DB runs statements on the selected backend. It is safe for concurrent
// use.
type DB struct {
	adapter *adapter.Adapter
}

// Open validates cfg and selects a backend. Unless Lazy is given, the
// selection happens here and a failure is returned as types.ErrConnection.
func Open(ctx context.Context, cfg types.Config, opts ...Option) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	selOpts := []adapter.SelectorOption{adapter.WithSelectorLogger(o.log)}
	if o.document != nil {
		selOpts = append(selOpts, adapter.WithDocumentDialer(o.document))
	}
	if o.relational != nil {
		selOpts = append(selOpts, adapter.WithRelationalDialer(o.relational))
	}
	aOpts := []adapter.Option{adapter.WithLogger(o.log)}
	if o.images != nil {
		aOpts = append(aOpts, adapter.WithImageStore(o.images))
	}

	db := &DB{adapter: adapter.New(adapter.NewSelector(cfg, selOpts...), cfg, aOpts...)}
	if o.lazy {
		return db, nil
	}
	if _, err := db.adapter.Backend(ctx); err != nil {
		return nil, fmt.Errorf("opening quire: %w", err)
	}
	return db, nil
}

// Query runs a read statement. Unrecognized reads return no rows unless
// strict statements are configured.
func (db *DB) Query(ctx context.Context, stmt string, params ...any) ([]types.Row, error) {
	return db.adapter.Query(ctx, stmt, params...)
}

// Exec runs a write statement.
func (db *DB) Exec(ctx context.Context, stmt string, params ...any) (types.MutationResult, error) {
	return db.adapter.Exec(ctx, stmt, params...)
}

// Fetch runs a read built with package query.
func (db *DB) Fetch(ctx context.Context, in *query.Intent) ([]types.Row, error) {
	return db.adapter.Fetch(ctx, in)
}

// Apply runs a write built with package query.
func (db *DB) Apply(ctx context.Context, in *query.Intent) (types.MutationResult, error) {
	return db.adapter.Apply(ctx, in)
}

// SoftDelete marks an article deleted.
func (db *DB) SoftDelete(ctx context.Context, id int64) (types.MutationResult, error) {
	return db.adapter.SoftDelete(ctx, id)
}

// Restore returns a deleted article to draft.
func (db *DB) Restore(ctx context.Context, id int64) (types.MutationResult, error) {
	return db.adapter.Restore(ctx, id)
}

// HardDelete removes a record permanently.
func (db *DB) HardDelete(ctx context.Context, e types.Entity, id int64) (types.MutationResult, error) {
	return db.adapter.HardDelete(ctx, e, id)
}

// SetImage replaces an article's featured image.
func (db *DB) SetImage(ctx context.Context, id int64, src types.ImageSource) (types.MutationResult, error) {
	return db.adapter.SetImage(ctx, id, src)
}

// Backend returns the selected engine handle.
func (db *DB) Backend(ctx context.Context) (Backend, error) {
	return db.adapter.Backend(ctx)
}

// Engine names the selected engine, or "" if none could be selected.
func (db *DB) Engine(ctx context.Context) string {
	b, err := db.adapter.Backend(ctx)
	if err != nil {
		return ""
	}
	return b.Engine()
}

// Close releases the backend. The DB is unusable afterwards.
func (db *DB) Close(ctx context.Context) error {
	return db.adapter.Close(ctx)
}
