package docstore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/mesh-intelligence/quire/internal/normalize"
	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// insert writes a complete record: assigned fields from the intent, the
// schema default for every other field, and an allocated id unless the
// caller supplied one.
func (b *Backend) insert(ctx context.Context, in *query.Intent) (types.MutationResult, error) {
	schema := in.Schema()
	if schema == nil {
		return types.MutationResult{}, fmt.Errorf("%w: no schema for %s", types.ErrInvalidValue, in.Table)
	}
	assigned := make(map[string]query.Assignment, len(in.Assignments))
	for _, a := range in.Assignments {
		assigned[a.Field] = a
	}

	if b.ids.Strategy() == types.IDStrategyLegacy {
		// Legacy ids are read from the collection, so allocation and the
		// write must not interleave.
		b.writeMu.Lock()
		defer b.writeMu.Unlock()
	}

	ts := now()
	doc := make(bson.D, 0, len(schema.Fields)+1)
	var id int64
	for _, f := range schema.Fields {
		var v any
		a, ok := assigned[f.Name]
		switch {
		case ok:
			var err error
			if v, err = operand(in, f.Name, a.Value); err != nil {
				return types.MutationResult{}, fmt.Errorf("%s: %w", f.Name, err)
			}
		case f.DefaultNow:
			v = ts
		default:
			v = f.Default
		}
		if f.Required && v == nil {
			return types.MutationResult{}, fmt.Errorf("%w: %s.%s is required", types.ErrInvalidValue, in.Table, f.Name)
		}
		if f.Name == "id" {
			continue
		}
		doc = append(doc, bson.E{Key: f.Name, Value: v})
	}

	if a, ok := assigned["id"]; ok {
		v, err := operand(in, "id", a.Value)
		if err != nil {
			return types.MutationResult{}, err
		}
		if id, err = normalize.Int(v); err != nil {
			return types.MutationResult{}, err
		}
		if err := b.ids.Observe(ctx, in.Entity, id); err != nil {
			return types.MutationResult{}, err
		}
	} else {
		var err error
		if id, err = b.ids.Next(ctx, in.Entity); err != nil {
			return types.MutationResult{}, err
		}
	}
	doc = append(bson.D{{Key: "id", Value: id}}, doc...)

	if err := b.db.Collection(in.Table).InsertOne(ctx, doc); err != nil {
		if in.IgnoreConflict && mongo.IsDuplicateKeyError(err) {
			b.log.Debug().Str("collection", in.Table).Msg("conflicting insert ignored")
			return types.MutationResult{}, nil
		}
		return types.MutationResult{}, fmt.Errorf("insert %s: %w", in.Table, err)
	}
	return normalize.Mutation(query.OpInsert, id, 1), nil
}

// targetFilter addresses the intent's target document, restricted by any
// guards.
func targetFilter(in *query.Intent, guarded bool) (bson.D, error) {
	id, err := in.TargetID()
	if err != nil {
		return nil, err
	}
	f := bson.D{{Key: "id", Value: id}}
	if !guarded {
		return f, nil
	}
	for _, c := range in.Guard {
		d, err := condition(in, c)
		if err != nil {
			return nil, err
		}
		f = append(f, d...)
	}
	return f, nil
}

// update merges the intent's assignments onto the target document. Fields
// the intent does not name are left alone, as are preserve-on-empty fields
// given an empty value and keep-if-null fields given NULL.
func (b *Backend) update(ctx context.Context, in *query.Intent) (types.MutationResult, error) {
	schema := in.Schema()
	if schema == nil {
		return types.MutationResult{}, fmt.Errorf("%w: no schema for %s", types.ErrInvalidValue, in.Table)
	}
	filter, err := targetFilter(in, true)
	if err != nil {
		return types.MutationResult{}, err
	}

	set := bson.D{}
	inc := bson.D{}
	all := make([]query.Assignment, 0, len(in.Assignments)+len(in.Derived))
	all = append(append(all, in.Assignments...), in.Derived...)
	for _, a := range all {
		if a.Increment != 0 {
			inc = append(inc, bson.E{Key: a.Field, Value: a.Increment})
			continue
		}
		v, err := operand(in, a.Field, a.Value)
		if err != nil {
			return types.MutationResult{}, fmt.Errorf("%s: %w", a.Field, err)
		}
		f, _ := schema.Field(a.Field)
		if v == nil && (a.KeepIfNull || f.PreserveOnEmpty) {
			continue
		}
		set = append(set, bson.E{Key: a.Field, Value: v})
	}

	coll := b.db.Collection(in.Table)
	if len(set) == 0 && len(inc) == 0 {
		n, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return types.MutationResult{}, fmt.Errorf("update %s: %w", in.Table, err)
		}
		return normalize.Mutation(query.OpUpdate, 0, n), nil
	}

	doc := bson.D{}
	if len(set) > 0 {
		doc = append(doc, bson.E{Key: "$set", Value: set})
	}
	if len(inc) > 0 {
		doc = append(doc, bson.E{Key: "$inc", Value: inc})
	}
	matched, err := coll.UpdateOne(ctx, filter, doc)
	if err != nil {
		return types.MutationResult{}, fmt.Errorf("update %s: %w", in.Table, err)
	}
	return normalize.Mutation(query.OpUpdate, 0, matched), nil
}

func (b *Backend) remove(ctx context.Context, in *query.Intent) (types.MutationResult, error) {
	filter, err := targetFilter(in, false)
	if err != nil {
		return types.MutationResult{}, err
	}
	n, err := b.db.Collection(in.Table).DeleteOne(ctx, filter)
	if err != nil {
		return types.MutationResult{}, fmt.Errorf("delete %s: %w", in.Table, err)
	}
	return normalize.Mutation(query.OpDelete, 0, n), nil
}

// Get returns the raw document of e with the given id, or
// types.ErrNotFound.
func (b *Backend) Get(ctx context.Context, e types.Entity, id int64) (map[string]any, error) {
	if b.closed.Load() {
		return nil, types.ErrClosed
	}
	doc, err := b.db.Collection(e.Table()).FindOne(ctx, bson.D{{Key: "id", Value: id}})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s %d: %w", e, id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %d: %w", e, id, err)
	}
	return row(doc), nil
}
