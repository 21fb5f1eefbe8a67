package adapter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

type stubBackend struct {
	engine string
	closed chan struct{}
	once   sync.Once
}

func newStub(engine string) *stubBackend {
	return &stubBackend{engine: engine, closed: make(chan struct{})}
}

func (s *stubBackend) Engine() string { return s.engine }

func (s *stubBackend) Query(context.Context, *query.Intent) ([]map[string]any, error) {
	return nil, nil
}

func (s *stubBackend) Exec(context.Context, *query.Intent) (types.MutationResult, error) {
	return types.MutationResult{}, nil
}

func (s *stubBackend) Get(context.Context, types.Entity, int64) (map[string]any, error) {
	return nil, types.ErrNotFound
}

func (s *stubBackend) Close(context.Context) error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func dialer(b Backend, err error, calls *atomic.Int32) Dialer {
	return func(context.Context) (Backend, error) {
		if calls != nil {
			calls.Add(1)
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func TestSelectorModes(t *testing.T) {
	errDown := errors.New("down")
	tests := []struct {
		name     string
		mode     string
		docErr   error
		relErr   error
		want     string
		wantErr  []error
		docDials int32
		relDials int32
	}{
		{name: "auto prefers documents", mode: types.BackendAuto, want: types.EngineMongoDB, docDials: 1},
		{name: "auto falls back", mode: types.BackendAuto, docErr: errDown, want: types.EngineSQLite, docDials: 1, relDials: 1},
		{name: "relational only", mode: types.BackendRelational, want: types.EngineSQLite, relDials: 1},
		{name: "document only", mode: types.BackendDocument, docErr: errDown, wantErr: []error{types.ErrConnection, errDown}, docDials: 1},
		{name: "relational fails", mode: types.BackendRelational, relErr: errDown, wantErr: []error{types.ErrConnection, errDown}, relDials: 1},
		{
			name: "both fail", mode: types.BackendAuto,
			docErr: errDown, relErr: types.ErrInvalidValue,
			wantErr:  []error{types.ErrConnection, errDown, types.ErrInvalidValue},
			docDials: 1, relDials: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var docCalls, relCalls atomic.Int32
			s := NewSelector(types.Config{Backend: tt.mode},
				WithDocumentDialer(dialer(newStub(types.EngineMongoDB), tt.docErr, &docCalls)),
				WithRelationalDialer(dialer(newStub(types.EngineSQLite), tt.relErr, &relCalls)))

			b, err := s.Acquire(context.Background())
			if len(tt.wantErr) > 0 {
				require.Error(t, err)
				for _, want := range tt.wantErr {
					assert.ErrorIs(t, err, want)
				}
				assert.Nil(t, b)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, b.Engine())
			}

			// The outcome is memoized, failures included.
			_, err2 := s.Acquire(context.Background())
			assert.Equal(t, err, err2)
			assert.Equal(t, tt.docDials, docCalls.Load())
			assert.Equal(t, tt.relDials, relCalls.Load())
		})
	}
}

func TestSelectorTimeoutClosesLateClient(t *testing.T) {
	late := newStub(types.EngineMongoDB)
	release := make(chan struct{})
	slow := func(ctx context.Context) (Backend, error) {
		<-release // ignores ctx, like a driver stuck in a handshake
		return late, nil
	}
	s := NewSelector(types.Config{Backend: types.BackendAuto, SelectTimeout: 20 * time.Millisecond},
		WithDocumentDialer(slow),
		WithRelationalDialer(dialer(newStub(types.EngineSQLite), nil, nil)))

	start := time.Now()
	b, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.EngineSQLite, b.Engine())
	assert.Less(t, time.Since(start), 2*time.Second)

	close(release)
	select {
	case <-late.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("late document client was not closed")
	}

	b, err = s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.EngineSQLite, b.Engine(), "no failback once selected")
}

func TestSelectorDocumentTimeout(t *testing.T) {
	block := func(ctx context.Context) (Backend, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := NewSelector(types.Config{Backend: types.BackendDocument, SelectTimeout: 10 * time.Millisecond},
		WithDocumentDialer(block))
	_, err := s.Acquire(context.Background())
	assert.ErrorIs(t, err, types.ErrConnection)
	assert.ErrorIs(t, err, errSelectTimeout)
}

func TestSelectorCallerCancel(t *testing.T) {
	t.Run("canceled before the first call", func(t *testing.T) {
		doc := newStub(types.EngineMongoDB)
		release := make(chan struct{})
		s := NewSelector(types.Config{Backend: types.BackendDocument},
			WithDocumentDialer(func(context.Context) (Backend, error) {
				<-release
				return doc, nil
			}))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.Acquire(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, types.ErrConnection)

		close(release)
		b, err := s.Acquire(context.Background())
		require.NoError(t, err)
		assert.Same(t, doc, b)
	})

	t.Run("short first deadline does not pick the fallback", func(t *testing.T) {
		var docCalls, relCalls atomic.Int32
		doc := newStub(types.EngineMongoDB)
		s := NewSelector(types.Config{Backend: types.BackendAuto, SelectTimeout: time.Second},
			WithDocumentDialer(func(ctx context.Context) (Backend, error) {
				docCalls.Add(1)
				select {
				case <-time.After(50 * time.Millisecond):
					return doc, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}),
			WithRelationalDialer(dialer(newStub(types.EngineSQLite), nil, &relCalls)))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		_, err := s.Acquire(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		b, err := s.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.EngineMongoDB, b.Engine())
		assert.Equal(t, int32(1), docCalls.Load())
		assert.Zero(t, relCalls.Load())
	})
}

func TestSelectorConcurrentAcquire(t *testing.T) {
	var calls atomic.Int32
	doc := newStub(types.EngineMongoDB)
	s := NewSelector(types.Config{},
		WithDocumentDialer(func(context.Context) (Backend, error) {
			calls.Add(1)
			time.Sleep(5 * time.Millisecond)
			return doc, nil
		}))

	var wg sync.WaitGroup
	got := make([]Backend, 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := s.Acquire(context.Background())
			assert.NoError(t, err)
			got[i] = b
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, b := range got {
		assert.Same(t, doc, b)
	}
}

func TestSelectorClose(t *testing.T) {
	t.Run("before acquire", func(t *testing.T) {
		var calls atomic.Int32
		s := NewSelector(types.Config{}, WithDocumentDialer(dialer(newStub(types.EngineMongoDB), nil, &calls)))
		require.NoError(t, s.Close(context.Background()))
		_, err := s.Acquire(context.Background())
		assert.ErrorIs(t, err, types.ErrClosed)
		assert.Zero(t, calls.Load())
	})

	t.Run("after acquire", func(t *testing.T) {
		doc := newStub(types.EngineMongoDB)
		s := NewSelector(types.Config{}, WithDocumentDialer(dialer(doc, nil, nil)))
		_, err := s.Acquire(context.Background())
		require.NoError(t, err)
		require.NoError(t, s.Close(context.Background()))
		select {
		case <-doc.closed:
		default:
			t.Fatal("backend not closed")
		}
	})

	t.Run("during selection", func(t *testing.T) {
		doc := newStub(types.EngineMongoDB)
		release := make(chan struct{})
		s := NewSelector(types.Config{Backend: types.BackendDocument},
			WithDocumentDialer(func(context.Context) (Backend, error) {
				<-release
				return doc, nil
			}))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.Acquire(ctx)
		require.ErrorIs(t, err, context.Canceled)

		close(release)
		require.NoError(t, s.Close(context.Background()))
		select {
		case <-doc.closed:
		default:
			t.Fatal("backend selected in flight was not closed")
		}
	})
}
