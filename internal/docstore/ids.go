package docstore

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/mesh-intelligence/quire/internal/normalize"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// Allocator hands out integer ids for new documents.
//
// The counter strategy keeps one sequence document per table in the
// counters collection and increments it atomically; the sequence is seeded
// from the highest stored id the first time a table is used. The legacy
// strategy derives the next id from the collection itself: document count
// plus one for articles and users, highest id plus one for categories.
// Legacy ids are only unique while a single writer inserts and nothing is
// hard-deleted.
type Allocator struct {
	db       Database
	strategy string

	mu     sync.Mutex
	seeded map[string]bool
}

// NewAllocator returns an allocator using strategy, one of
// types.IDStrategyCounter or types.IDStrategyLegacy.
func NewAllocator(db Database, strategy string) *Allocator {
	if strategy == "" {
		strategy = types.IDStrategyCounter
	}
	return &Allocator{db: db, strategy: strategy, seeded: make(map[string]bool)}
}

// Strategy returns the allocation strategy in use.
func (a *Allocator) Strategy() string { return a.strategy }

// Next returns the id for the next document of e.
func (a *Allocator) Next(ctx context.Context, e types.Entity) (int64, error) {
	table := e.Table()
	if table == "" {
		return 0, fmt.Errorf("%w: no collection for entity %s", types.ErrInvalidValue, e)
	}
	if a.strategy == types.IDStrategyLegacy {
		return a.legacy(ctx, e)
	}

	if err := a.seed(ctx, table); err != nil {
		return 0, err
	}
	doc, err := a.db.Collection(CountersCollection).FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: table}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		true)
	if err != nil {
		return 0, fmt.Errorf("allocating %s id: %w", e, err)
	}
	id, err := normalize.Int(doc["seq"])
	if err != nil {
		return 0, fmt.Errorf("allocating %s id: %w", e, err)
	}
	return id, nil
}

// Observe records an id supplied explicitly by a caller so later
// allocations stay above it.
func (a *Allocator) Observe(ctx context.Context, e types.Entity, id int64) error {
	if a.strategy == types.IDStrategyLegacy {
		return nil
	}
	return a.raise(ctx, e.Table(), id)
}

func (a *Allocator) seed(ctx context.Context, table string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seeded[table] {
		return nil
	}
	top, err := maxID(ctx, a.db.Collection(table))
	if err != nil {
		return err
	}
	if err := a.raise(ctx, table, top); err != nil {
		return err
	}
	a.seeded[table] = true
	return nil
}

// raise moves the table's sequence up to at least id.
func (a *Allocator) raise(ctx context.Context, table string, id int64) error {
	_, err := a.db.Collection(CountersCollection).FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: table}},
		bson.D{{Key: "$max", Value: bson.D{{Key: "seq", Value: id}}}},
		true)
	if err != nil {
		return fmt.Errorf("seeding %s counter: %w", table, err)
	}
	return nil
}

func (a *Allocator) legacy(ctx context.Context, e types.Entity) (int64, error) {
	c := a.db.Collection(e.Table())
	if e == types.EntityCategory {
		top, err := maxID(ctx, c)
		if err != nil {
			return 0, err
		}
		return top + 1, nil
	}
	n, err := c.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", e.Table(), err)
	}
	return n + 1, nil
}

// maxID returns the highest id stored in c, or zero when c is empty.
func maxID(ctx context.Context, c Collection) (int64, error) {
	docs, err := c.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "id", Value: -1}}}},
		{{Key: "$limit", Value: int64(1)}},
		{{Key: "$project", Value: bson.D{{Key: "_id", Value: 0}, {Key: "id", Value: 1}}}},
	})
	if err != nil {
		return 0, fmt.Errorf("reading highest id: %w", err)
	}
	if len(docs) == 0 || docs[0]["id"] == nil {
		return 0, nil
	}
	id, err := normalize.Int(docs[0]["id"])
	if err != nil {
		return 0, fmt.Errorf("reading highest id: %w", err)
	}
	return id, nil
}
