// Package adapter is the polyglot query adapter: it takes caller
// statements or built intents, runs them on whichever backend the Selector
// chose, and returns normalized results.
//
// Reads go through Query (statement text) or Fetch (built intent); writes
// go through Exec or Apply. Article updates pass the status lifecycle
// check before they reach the engine.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/quire/internal/normalize"
	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// Backend is a live storage engine. Query returns raw rows and Get a raw
// record; the adapter normalizes both.
type Backend interface {
	Engine() string
	Query(ctx context.Context, in *query.Intent) ([]map[string]any, error)
	Exec(ctx context.Context, in *query.Intent) (types.MutationResult, error)
	Get(ctx context.Context, e types.Entity, id int64) (map[string]any, error)
	Close(ctx context.Context) error
}

// Adapter executes statements and intents on the selected backend.
type Adapter struct {
	selector *Selector
	strict   bool
	mode     string
	images   types.ImageStore
	log      zerolog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

// WithImageStore sets where uploaded article images are stored.
func WithImageStore(s types.ImageStore) Option {
	return func(a *Adapter) { a.images = s }
}

// New returns an adapter over sel configured from cfg.
func New(sel *Selector, cfg types.Config, opts ...Option) *Adapter {
	a := &Adapter{
		selector: sel,
		strict:   cfg.StrictStatements,
		mode:     cfg.GetJSONFields(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Backend returns the selected backend, selecting it if needed.
func (a *Adapter) Backend(ctx context.Context) (Backend, error) {
	return a.selector.Acquire(ctx)
}

// Close closes the selected backend, if one was selected.
func (a *Adapter) Close(ctx context.Context) error {
	return a.selector.Close(ctx)
}

// Query classifies a read statement and runs it. A statement outside the
// recognized dialect returns no rows, or a *types.ClassificationError when
// strict statements are configured.
func (a *Adapter) Query(ctx context.Context, stmt string, params ...any) ([]types.Row, error) {
	in, err := query.Classify(stmt, params)
	if err != nil {
		return nil, err
	}
	if in.Unclassified && !in.Mutating() {
		a.log.Warn().Str("statement", stmt).Str("reason", in.Reason).Msg("unrecognized statement")
		if a.strict {
			return nil, &types.ClassificationError{Statement: stmt, Reason: in.Reason}
		}
		return []types.Row{}, nil
	}
	return a.Fetch(ctx, in)
}

// Fetch runs a read intent.
func (a *Adapter) Fetch(ctx context.Context, in *query.Intent) ([]types.Row, error) {
	if in.Unclassified {
		return nil, &types.ClassificationError{Statement: in.Statement, Reason: in.Reason}
	}
	if in.Operation != query.OpSelect {
		return nil, fmt.Errorf("%w: %s is not a read", types.ErrInvalidValue, in.Operation)
	}
	b, err := a.Backend(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := b.Query(ctx, in)
	if err != nil {
		return nil, a.backendError(b, "query", err)
	}
	rows, err := normalize.Rows(in, raw, a.mode)
	if err != nil {
		return nil, a.backendError(b, "normalize", err)
	}
	return rows, nil
}

// Exec classifies a write statement and runs it. Unrecognized writes are
// always errors.
func (a *Adapter) Exec(ctx context.Context, stmt string, params ...any) (types.MutationResult, error) {
	in, err := query.Classify(stmt, params)
	if err != nil {
		return types.MutationResult{}, err
	}
	return a.Apply(ctx, in)
}

// Apply runs a write intent.
func (a *Adapter) Apply(ctx context.Context, in *query.Intent) (types.MutationResult, error) {
	if in.Unclassified {
		a.log.Warn().Str("statement", in.Statement).Str("reason", in.Reason).Msg("unrecognized write")
		return types.MutationResult{}, &types.ClassificationError{Statement: in.Statement, Reason: in.Reason}
	}
	if !in.Mutating() {
		return types.MutationResult{}, fmt.Errorf("%w: %s is not a write", types.ErrInvalidValue, in.Operation)
	}
	b, err := a.Backend(ctx)
	if err != nil {
		return types.MutationResult{}, err
	}
	if in.Entity == types.EntityArticle && in.Operation == query.OpUpdate {
		if in, err = a.checkStatus(ctx, b, in); err != nil {
			return types.MutationResult{}, err
		}
	}
	res, err := b.Exec(ctx, in)
	if err != nil {
		return types.MutationResult{}, a.backendError(b, in.Operation.String(), err)
	}
	return res, nil
}

// backendError wraps an engine failure and logs it. Lifecycle and lookup
// errors raised by the adapter itself are returned unchanged.
func (a *Adapter) backendError(b Backend, op string, err error) error {
	var be *types.BackendError
	if errors.As(err, &be) || errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrInvalidTransition) {
		return err
	}
	a.log.Error().Err(err).Str("engine", b.Engine()).Str("op", op).Msg("backend error")
	return &types.BackendError{Backend: b.Engine(), Op: op, Err: err}
}
