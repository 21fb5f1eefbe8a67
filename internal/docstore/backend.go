package docstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// Backend executes intents against a document database.
type Backend struct {
	db       Database
	ids      *Allocator
	strategy string
	log      zerolog.Logger

	writeMu    sync.Mutex // Held across legacy id allocation and insert.
	disconnect func(context.Context) error
	closed     atomic.Bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for pipeline tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// WithIDStrategy selects types.IDStrategyCounter (the default) or
// types.IDStrategyLegacy.
func WithIDStrategy(s string) Option {
	return func(b *Backend) { b.strategy = s }
}

// New returns a backend over db and ensures the unique indexes on id and
// on every unique field exist.
func New(ctx context.Context, db Database, opts ...Option) (*Backend, error) {
	b := &Backend{db: db, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	b.ids = NewAllocator(db, b.strategy)

	for _, table := range types.StandardTableNames {
		schema := types.SchemaFor(types.EntityForTable(table))
		c := db.Collection(table)
		for _, f := range schema.Fields {
			if f.Name != "id" && !f.Unique {
				continue
			}
			if err := c.CreateUniqueIndex(ctx, f.Name); err != nil {
				return nil, fmt.Errorf("creating %s.%s index: %w", table, f.Name, err)
			}
		}
	}
	b.log.Debug().Str("id_strategy", b.ids.Strategy()).Msg("document backend ready")
	return b, nil
}

// Connect dials the deployment in cfg and returns a backend over its
// database. Close disconnects the client.
func Connect(ctx context.Context, cfg types.MongoConfig, opts ...Option) (*Backend, error) {
	client, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b, err := New(ctx, Wrap(client.Database(cfg.GetDatabase())), opts...)
	if err != nil {
		client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	b.disconnect = client.Disconnect
	return b, nil
}

// Engine reports types.EngineMongoDB.
func (b *Backend) Engine() string { return types.EngineMongoDB }

// Close disconnects from the deployment. Close is idempotent.
func (b *Backend) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.disconnect == nil {
		return nil
	}
	return b.disconnect(ctx)
}

// Query runs a read intent and returns the raw documents with _id removed.
func (b *Backend) Query(ctx context.Context, in *query.Intent) ([]map[string]any, error) {
	if b.closed.Load() {
		return nil, types.ErrClosed
	}
	p, err := BuildPipeline(in)
	if err != nil {
		return nil, err
	}
	if e := b.log.Debug(); e.Enabled() {
		e.Str("collection", in.Table).Str("pipeline", fmt.Sprint(p)).Msg("aggregate")
	}

	docs, err := b.db.Collection(in.Table).Aggregate(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", in.Table, err)
	}
	rows := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, row(d))
	}
	if in.CountAs != "" && len(rows) == 0 {
		rows = append(rows, map[string]any{in.CountAs: int64(0)})
	}
	if in.Group != nil {
		if err := b.countArticles(ctx, in, rows); err != nil {
			return nil, err
		}
	}

	inMemory, err := windowInMemory(in)
	if err != nil {
		return nil, err
	}
	if inMemory {
		return applyWindow(in, rows)
	}
	return rows, nil
}

// countArticles adds the grouped article count to each category row.
func (b *Backend) countArticles(ctx context.Context, in *query.Intent, rows []map[string]any) error {
	g := in.Group
	articles := &query.Intent{Entity: types.EntityArticle, Table: types.TableArticles, Params: in.Params}
	var conds bson.D
	for _, c := range g.Filter {
		d, err := condition(articles, c)
		if err != nil {
			return err
		}
		conds = append(conds, d...)
	}

	coll := b.db.Collection(types.TableArticles)
	for _, r := range rows {
		f := append(bson.D{{Key: "category_id", Value: r["id"]}}, conds...)
		n, err := coll.CountDocuments(ctx, f)
		if err != nil {
			return fmt.Errorf("counting articles: %w", err)
		}
		r[g.CountAs] = n
	}
	return nil
}

// applyWindow sorts rows and applies OFFSET and LIMIT after the pipeline.
func applyWindow(in *query.Intent, rows []map[string]any) ([]map[string]any, error) {
	if len(in.Sort) > 0 {
		slices.SortStableFunc(rows, func(a, b map[string]any) int {
			for _, s := range in.Sort {
				c := compareValues(a[s.Field], b[s.Field])
				if s.Desc {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}
	skip, limit, err := window(in)
	if err != nil {
		return nil, err
	}
	if skip >= int64(len(rows)) {
		return rows[:0], nil
	}
	rows = rows[skip:]
	if limit >= 0 && limit < int64(len(rows)) {
		rows = rows[:limit]
	}
	return rows, nil
}

// rank orders values of different types the way the engine does: null,
// numbers, strings, booleans, dates.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int, int32, int64, float64:
		return 1
	case string:
		return 2
	case bool:
		return 3
	case bson.DateTime:
		return 4
	}
	return 5
}

func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case 1:
		return cmp.Compare(number(a), number(b))
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 3:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case 4:
		return cmp.Compare(a.(bson.DateTime), b.(bson.DateTime))
	}
	return 0
}

func number(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// Exec runs a write intent.
func (b *Backend) Exec(ctx context.Context, in *query.Intent) (types.MutationResult, error) {
	if b.closed.Load() {
		return types.MutationResult{}, types.ErrClosed
	}
	b.log.Debug().Str("collection", in.Table).Stringer("op", in.Operation).Msg("exec")

	switch in.Operation {
	case query.OpInsert:
		return b.insert(ctx, in)
	case query.OpUpdate:
		return b.update(ctx, in)
	case query.OpDelete:
		return b.remove(ctx, in)
	}
	return types.MutationResult{}, fmt.Errorf("%w: %s is not a write", types.ErrInvalidValue, in.Operation)
}
