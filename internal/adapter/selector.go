package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/quire/internal/docstore"
	"github.com/mesh-intelligence/quire/internal/sqlite"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// Dialer initializes one engine.
type Dialer func(ctx context.Context) (Backend, error)

// errSelectTimeout reports a document store that did not connect within
// the selection timeout.
var errSelectTimeout = errors.New("document store did not connect in time")

// Selector picks the backend once and hands the same handle to every
// caller for its lifetime. There is no failback: a selector that fell back
// to the relational store keeps it even if the document store recovers.
type Selector struct {
	mode       string
	timeout    time.Duration
	document   Dialer
	relational Dialer
	log        zerolog.Logger

	mu      sync.Mutex
	done    chan struct{} // Closed once backend and err are set.
	backend Backend
	err     error
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithDocumentDialer replaces the MongoDB dialer.
func WithDocumentDialer(d Dialer) SelectorOption {
	return func(s *Selector) { s.document = d }
}

// WithRelationalDialer replaces the SQLite dialer.
func WithRelationalDialer(d Dialer) SelectorOption {
	return func(s *Selector) { s.relational = d }
}

// WithSelectorLogger sets the logger for selection events.
func WithSelectorLogger(l zerolog.Logger) SelectorOption {
	return func(s *Selector) { s.log = l }
}

// NewSelector returns a selector for cfg. Nothing is dialed until the first
// Acquire.
func NewSelector(cfg types.Config, opts ...SelectorOption) *Selector {
	s := &Selector{
		mode:    cfg.GetBackend(),
		timeout: cfg.GetSelectTimeout(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.document == nil {
		s.document = func(ctx context.Context) (Backend, error) {
			b, err := docstore.Connect(ctx, cfg.Mongo,
				docstore.WithIDStrategy(cfg.GetIDStrategy()),
				docstore.WithLogger(s.log))
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	}
	if s.relational == nil {
		s.relational = func(ctx context.Context) (Backend, error) {
			b, err := sqlite.Open(ctx, cfg.SQLite, sqlite.WithLogger(s.log))
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	}
	return s
}

// Acquire returns the selected backend, selecting it on the first call.
// Concurrent first callers share one selection. The selection is detached
// from the caller's context and bounded by the selection timeout, so a
// caller that gives up early gets its own context error while the outcome
// is still memoized for everyone else. A failed selection is memoized too
// and reported as types.ErrConnection.
func (s *Selector) Acquire(ctx context.Context) (Backend, error) {
	done := s.start(ctx)
	select {
	case <-done:
		return s.backend, s.err
	default:
	}
	select {
	case <-done:
		return s.backend, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Selector) start(ctx context.Context) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
		go s.run(context.WithoutCancel(ctx))
	}
	return s.done
}

func (s *Selector) run(ctx context.Context) {
	b, err := s.choose(ctx)
	if err == nil {
		s.log.Info().Str("engine", b.Engine()).Str("mode", s.mode).Msg("backend selected")
	}
	s.backend, s.err = b, err
	close(s.done)
}

// Close closes the selected backend, waiting for a selection in flight. A
// selector closed before its first Acquire never dials, and later Acquire
// calls fail with types.ErrClosed.
func (s *Selector) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.done == nil {
		s.done = make(chan struct{})
		s.err = types.ErrClosed
		close(s.done)
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.backend == nil {
		return nil
	}
	return s.backend.Close(ctx)
}

func (s *Selector) choose(ctx context.Context) (Backend, error) {
	switch s.mode {
	case types.BackendRelational:
		b, err := s.relational(ctx)
		if err != nil {
			return nil, errors.Join(types.ErrConnection, err)
		}
		return b, nil

	case types.BackendDocument:
		b, err := s.race(ctx)
		if err != nil {
			return nil, errors.Join(types.ErrConnection, err)
		}
		return b, nil
	}

	b, derr := s.race(ctx)
	if derr == nil {
		return b, nil
	}
	s.log.Warn().Err(derr).Msg("document store unavailable, falling back to sqlite")
	b, rerr := s.relational(ctx)
	if rerr != nil {
		return nil, errors.Join(types.ErrConnection, derr, rerr)
	}
	return b, nil
}

type dialResult struct {
	backend Backend
	err     error
}

// race dials the document store under the selection timeout. A client
// that connects after the race was lost is closed.
func (s *Selector) race(ctx context.Context) (Backend, error) {
	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan dialResult, 1)
	go func() {
		b, err := s.document(dctx)
		done <- dialResult{b, err}
	}()

	select {
	case r := <-done:
		return r.backend, r.err
	case <-dctx.Done():
		go s.discard(done)
		return nil, fmt.Errorf("%w after %s", errSelectTimeout, s.timeout)
	}
}

func (s *Selector) discard(done <-chan dialResult) {
	r := <-done
	if r.err != nil || r.backend == nil {
		return
	}
	if err := r.backend.Close(context.Background()); err != nil {
		s.log.Warn().Err(err).Msg("closing late document client")
		return
	}
	s.log.Debug().Msg("closed late document client")
}
