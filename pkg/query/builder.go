package query

import (
	"fmt"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// Builders construct intents without statement text. Values passed to a
// builder become positional parameters of the intent, so both engines
// receive them exactly as they would receive caller parameters.
//
// Builders record the first invalid field they see; Build reports it.

type builder struct {
	in  *Intent
	err error
}

func newBuilder(e types.Entity, op Operation) builder {
	b := builder{in: &Intent{Entity: e, Operation: op, Table: e.Table()}}
	if e == types.EntityOther {
		b.err = fmt.Errorf("%w: no schema for entity %s", types.ErrInvalidValue, e)
	}
	return b
}

func (b *builder) field(name string) bool {
	if b.err != nil {
		return false
	}
	if !b.in.Schema().Has(name) {
		b.err = fmt.Errorf("%w: unknown field %q on %s", types.ErrInvalidValue, name, b.in.Table)
		return false
	}
	return true
}

// param appends v to the intent's parameters and binds it to field.
func (b *builder) param(field string, v any) Value {
	val := P(b.in.placeholders)
	b.in.placeholders++
	b.in.Params = append(b.in.Params, v)
	b.in.bind(val, field)
	return val
}

func (b *builder) cond(field string, op CompareOp, v any) (Cond, bool) {
	if !b.field(field) {
		return Cond{}, false
	}
	if op == CmpIsNull || op == CmpNotNull {
		return Cond{Field: field, Op: op, Value: Lit(nil)}, true
	}
	return Cond{Field: field, Op: op, Value: b.param(field, v)}, true
}

func (b *builder) build() (*Intent, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.in, nil
}

// SelectBuilder builds a read intent.
type SelectBuilder struct {
	builder
}

// Select starts a read of every column of e.
func Select(e types.Entity) *SelectBuilder {
	b := &SelectBuilder{newBuilder(e, OpSelect)}
	b.in.AllColumns = true
	return b
}

// Columns restricts the projection to the named fields.
func (b *SelectBuilder) Columns(fields ...string) *SelectBuilder {
	b.in.AllColumns = false
	for _, f := range fields {
		if b.field(f) {
			b.in.Columns = append(b.in.Columns, Column{Field: f})
		}
	}
	return b
}

// Where adds a conjunct comparing field against v.
func (b *SelectBuilder) Where(field string, op CompareOp, v any) *SelectBuilder {
	if c, ok := b.cond(field, op, v); ok {
		b.in.Where = append(b.in.Where, Predicate{AnyOf: []Cond{c}})
	}
	return b
}

// WhereAny adds a conjunct that holds when field equals any of values.
func (b *SelectBuilder) WhereAny(field string, values ...any) *SelectBuilder {
	var p Predicate
	for _, v := range values {
		c, ok := b.cond(field, CmpEq, v)
		if !ok {
			return b
		}
		p.AnyOf = append(p.AnyOf, c)
	}
	if len(p.AnyOf) > 0 {
		b.in.Where = append(b.in.Where, p)
	}
	return b
}

// WithCategory adds the article→category lookup, copying the given
// category fields onto each article.
func (b *SelectBuilder) WithCategory(fields ...JoinField) *SelectBuilder {
	return b.lookup(JoinCategory, types.EntityCategory, "category_id", fields)
}

// WithAuthor adds the article→author lookup.
func (b *SelectBuilder) WithAuthor(fields ...JoinField) *SelectBuilder {
	return b.lookup(JoinAuthor, types.EntityUser, "author_id", fields)
}

func (b *SelectBuilder) lookup(kind JoinKind, related types.Entity, local string, fields []JoinField) *SelectBuilder {
	if b.err != nil {
		return b
	}
	if b.in.Entity != types.EntityArticle {
		b.err = fmt.Errorf("%w: %s lookups apply to articles only", types.ErrInvalidValue, related)
		return b
	}
	rs := types.SchemaFor(related)
	for _, f := range fields {
		if !rs.Has(f.Field) {
			b.err = fmt.Errorf("%w: unknown field %q on %s", types.ErrInvalidValue, f.Field, related.Table())
			return b
		}
	}
	b.in.Joins = append(b.in.Joins, Join{
		Kind:       kind,
		Table:      related.Table(),
		Alias:      related.Table(),
		LocalField: local,
		Fields:     fields,
	})
	return b
}

// CountArticles adds the per-category article count under the name as.
// Filter restricts which articles are counted.
func (b *SelectBuilder) CountArticles(as string, filter ...Cond) *SelectBuilder {
	if b.err != nil {
		return b
	}
	if b.in.Entity != types.EntityCategory {
		b.err = fmt.Errorf("%w: article counts apply to categories only", types.ErrInvalidValue)
		return b
	}
	articles := types.SchemaFor(types.EntityArticle)
	for _, c := range filter {
		if !articles.Has(c.Field) || c.Value.IsParam() {
			b.err = fmt.Errorf("%w: count filter on %q must be a literal article comparison", types.ErrInvalidValue, c.Field)
			return b
		}
	}
	b.in.Group = &Group{CountAs: as, Alias: types.TableArticles, Filter: filter}
	return b
}

// Count turns the read into a row count reported under the name as.
func (b *SelectBuilder) Count(as string) *SelectBuilder {
	b.in.AllColumns = false
	b.in.Columns = nil
	b.in.CountAs = as
	return b
}

// OrderBy appends a sort key. Output aliases of lookup fields are accepted.
func (b *SelectBuilder) OrderBy(field string, desc bool) *SelectBuilder {
	if b.err != nil {
		return b
	}
	known := b.in.Schema().Has(field)
	for _, out := range b.in.OutputFields() {
		known = known || out == field
	}
	if !known {
		b.err = fmt.Errorf("%w: cannot sort by %q", types.ErrInvalidValue, field)
		return b
	}
	b.in.Sort = append(b.in.Sort, Sort{Field: field, Desc: desc})
	return b
}

// Limit caps the number of rows.
func (b *SelectBuilder) Limit(n int64) *SelectBuilder {
	v := Lit(n)
	b.in.Limit = &v
	return b
}

// Offset skips the first n rows.
func (b *SelectBuilder) Offset(n int64) *SelectBuilder {
	v := Lit(n)
	b.in.Offset = &v
	return b
}

// Build returns the intent or the first error recorded.
func (b *SelectBuilder) Build() (*Intent, error) { return b.build() }

// InsertBuilder builds an insert intent.
type InsertBuilder struct {
	builder
}

// Insert starts an insert into e.
func Insert(e types.Entity) *InsertBuilder {
	return &InsertBuilder{newBuilder(e, OpInsert)}
}

// Set assigns v to field.
func (b *InsertBuilder) Set(field string, v any) *InsertBuilder {
	if b.field(field) {
		b.in.Assignments = append(b.in.Assignments, Assignment{Field: field, Value: b.param(field, v)})
	}
	return b
}

// IgnoreConflict turns a unique-key violation into a no-op.
func (b *InsertBuilder) IgnoreConflict() *InsertBuilder {
	b.in.IgnoreConflict = true
	return b
}

// Build returns the intent or the first error recorded. Required fields
// must have been set.
func (b *InsertBuilder) Build() (*Intent, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, f := range b.in.Schema().Fields {
		if _, ok := b.in.Assignment(f.Name); f.Required && !ok {
			return nil, fmt.Errorf("%w: insert into %s must set %s", types.ErrInvalidValue, b.in.Table, f.Name)
		}
	}
	return b.build()
}

// UpdateBuilder builds an update intent addressed by id.
type UpdateBuilder struct {
	builder
	id any
}

// Update starts an update of the row of e with the given id.
func Update(e types.Entity, id int64) *UpdateBuilder {
	return &UpdateBuilder{builder: newBuilder(e, OpUpdate), id: id}
}

// Set assigns v to field.
func (b *UpdateBuilder) Set(field string, v any) *UpdateBuilder {
	if field == "id" && b.err == nil {
		b.err = fmt.Errorf("%w: id cannot be reassigned", types.ErrInvalidValue)
	}
	if b.field(field) {
		b.in.Assignments = append(b.in.Assignments, Assignment{Field: field, Value: b.param(field, v)})
	}
	return b
}

// Touch sets field to the current timestamp.
func (b *UpdateBuilder) Touch(field string) *UpdateBuilder {
	if b.field(field) {
		b.in.Assignments = append(b.in.Assignments, Assignment{Field: field, Value: Now()})
	}
	return b
}

// Increment adds n to an integer field.
func (b *UpdateBuilder) Increment(field string, n int64) *UpdateBuilder {
	if b.field(field) {
		b.in.Assignments = append(b.in.Assignments, Assignment{Field: field, Value: Lit(nil), Increment: n})
	}
	return b
}

// Guard restricts the update to rows whose field compares to the literal v.
func (b *UpdateBuilder) Guard(field string, op CompareOp, v any) *UpdateBuilder {
	if b.field(field) {
		b.in.Guard = append(b.in.Guard, Cond{Field: field, Op: op, Value: Lit(v)})
	}
	return b
}

// Build returns the intent or the first error recorded.
func (b *UpdateBuilder) Build() (*Intent, error) {
	if b.err == nil && len(b.in.Assignments) == 0 {
		b.err = fmt.Errorf("%w: update of %s sets nothing", types.ErrInvalidValue, b.in.Table)
	}
	if b.err != nil {
		return nil, b.err
	}
	target := b.param("id", b.id)
	b.in.Target = &target
	return b.build()
}

// SoftDelete builds the update that marks an article deleted.
func SoftDelete(e types.Entity, id int64) (*Intent, error) {
	if e != types.EntityArticle {
		return nil, fmt.Errorf("%w: only articles carry a status", types.ErrInvalidValue)
	}
	return Update(e, id).Set("status", string(types.StatusDeleted)).Touch("updated_at").Build()
}

// Delete builds the hard delete of the row of e with the given id.
func Delete(e types.Entity, id int64) (*Intent, error) {
	b := newBuilder(e, OpDelete)
	if b.err != nil {
		return nil, b.err
	}
	target := b.param("id", id)
	b.in.Target = &target
	return b.build()
}
