package docstore

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/mesh-intelligence/quire/internal/normalize"
	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// lookupPrefix names the temporary array a $lookup writes its matches to.
const lookupPrefix = "_lookup_"

// BuildPipeline compiles a read intent into an aggregation pipeline over
// the intent's collection.
//
// Stages, in order: $match for the WHERE clause, one $lookup/$addFields
// pair per join, $sort/$skip/$limit, and either $count or a final
// $project that drops _id and the lookup arrays. The per-category article
// count is not part of the pipeline; the backend adds it to each row.
// When the result window cannot be expressed before the counts exist
// (see windowInMemory) the sort and window stages are omitted as well.
func BuildPipeline(in *query.Intent) (mongo.Pipeline, error) {
	if in.Unclassified || in.Operation != query.OpSelect {
		return nil, fmt.Errorf("%w: no pipeline for %s intent", types.ErrInvalidValue, in.Operation)
	}

	var p mongo.Pipeline
	if len(in.Where) > 0 {
		m, err := filter(in, in.Where)
		if err != nil {
			return nil, err
		}
		p = append(p, bson.D{{Key: "$match", Value: m}})
	}
	for _, j := range in.Joins {
		p = append(p, lookup(j)...)
	}

	inMemory, err := windowInMemory(in)
	if err != nil {
		return nil, err
	}
	if !inMemory {
		if len(in.Sort) > 0 {
			p = append(p, bson.D{{Key: "$sort", Value: sortDoc(in)}})
		}
		skip, limit, err := window(in)
		if err != nil {
			return nil, err
		}
		if skip > 0 {
			p = append(p, bson.D{{Key: "$skip", Value: skip}})
		}
		if limit > 0 {
			p = append(p, bson.D{{Key: "$limit", Value: limit}})
		}
	}

	if in.CountAs != "" {
		return append(p, bson.D{{Key: "$count", Value: in.CountAs}}), nil
	}
	return append(p, bson.D{{Key: "$project", Value: projection(in)}}), nil
}

// filter renders a conjunction of predicates as a query document.
func filter(in *query.Intent, preds []query.Predicate) (bson.D, error) {
	var parts []bson.D
	for _, p := range preds {
		if len(p.AnyOf) == 1 {
			d, err := condition(in, p.AnyOf[0])
			if err != nil {
				return nil, err
			}
			parts = append(parts, d)
			continue
		}
		or := make(bson.A, 0, len(p.AnyOf))
		for _, c := range p.AnyOf {
			d, err := condition(in, c)
			if err != nil {
				return nil, err
			}
			or = append(or, d)
		}
		parts = append(parts, bson.D{{Key: "$or", Value: or}})
	}

	switch len(parts) {
	case 0:
		return bson.D{}, nil
	case 1:
		return parts[0], nil
	}
	and := make(bson.A, len(parts))
	for i, d := range parts {
		and[i] = d
	}
	return bson.D{{Key: "$and", Value: and}}, nil
}

func condition(in *query.Intent, c query.Cond) (bson.D, error) {
	switch c.Op {
	case query.CmpIsNull:
		return bson.D{{Key: c.Field, Value: nil}}, nil
	case query.CmpNotNull:
		return bson.D{{Key: c.Field, Value: bson.D{{Key: "$ne", Value: nil}}}}, nil
	case query.CmpLike:
		pattern := likePattern(normalize.Text(in.Arg(c.Value)))
		return bson.D{{Key: c.Field, Value: bson.D{
			{Key: "$regex", Value: pattern},
			{Key: "$options", Value: "i"},
		}}}, nil
	}

	v, err := operand(in, c.Field, c.Value)
	if err != nil {
		return nil, fmt.Errorf("where %s: %w", c.Field, err)
	}
	// A comparison with NULL is never true, and != never matches a NULL
	// field.
	if v == nil && (c.Op == query.CmpEq || c.Op == query.CmpNe) {
		return bson.D{{Key: c.Field, Value: bson.D{{Key: "$in", Value: bson.A{}}}}}, nil
	}
	switch c.Op {
	case query.CmpEq:
		return bson.D{{Key: c.Field, Value: v}}, nil
	case query.CmpNe:
		return bson.D{{Key: "$and", Value: bson.A{
			bson.D{{Key: c.Field, Value: bson.D{{Key: "$ne", Value: v}}}},
			bson.D{{Key: c.Field, Value: bson.D{{Key: "$ne", Value: nil}}}},
		}}}, nil
	}
	return nil, fmt.Errorf("unsupported comparison %s", c.Op)
}

// likePattern translates a LIKE pattern into an anchored regular
// expression. LIKE matching is case-insensitive for ASCII, so the regex is
// run with the "i" option.
func likePattern(like string) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range like {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

// lookup joins the related collection on its integer id and flattens the
// first match onto the parent document.
func lookup(j query.Join) mongo.Pipeline {
	as := lookupPrefix + j.Alias
	related := types.SchemaFor(types.EntityForTable(j.Table))

	fields := bson.D{}
	for _, jf := range j.Fields {
		var def any
		if related != nil {
			if f, ok := related.Field(jf.Field); ok {
				def = zero(f)
			}
		}
		first := bson.D{{Key: "$arrayElemAt", Value: bson.A{"$" + as + "." + jf.Field, 0}}}
		fields = append(fields, bson.E{Key: jf.As, Value: bson.D{{Key: "$ifNull", Value: bson.A{first, def}}}})
	}

	return mongo.Pipeline{
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: j.Table},
			{Key: "localField", Value: j.LocalField},
			{Key: "foreignField", Value: "id"},
			{Key: "as", Value: as},
		}}},
		{{Key: "$addFields", Value: fields}},
	}
}

// zero is the value a missing joined field takes.
func zero(f types.Field) any {
	switch f.Kind {
	case types.KindInt:
		return int64(0)
	case types.KindBool:
		return false
	case types.KindText:
		return ""
	}
	return nil
}

// sortKey maps an output name back to the stored field it was projected
// from.
func sortKey(in *query.Intent, name string) string {
	for _, c := range in.Columns {
		if c.As != "" && c.As == name {
			return c.Field
		}
	}
	return name
}

func sortDoc(in *query.Intent) bson.D {
	d := bson.D{}
	for _, s := range in.Sort {
		dir := 1
		if s.Desc {
			dir = -1
		}
		d = append(d, bson.E{Key: sortKey(in, s.Field), Value: dir})
	}
	return d
}

// window resolves OFFSET and LIMIT. limit is -1 when absent.
func window(in *query.Intent) (skip, limit int64, err error) {
	limit = -1
	if in.Offset != nil {
		if skip, err = rowCount(in, *in.Offset); err != nil {
			return 0, 0, err
		}
	}
	if in.Limit != nil {
		if limit, err = rowCount(in, *in.Limit); err != nil {
			return 0, 0, err
		}
	}
	return skip, limit, nil
}

func rowCount(in *query.Intent, v query.Value) (int64, error) {
	n, ok := query.ToInt(in.Arg(v))
	if !ok || n < 0 {
		return 0, fmt.Errorf("%w: %v is not a row count", types.ErrInvalidValue, in.Arg(v))
	}
	return n, nil
}

// windowInMemory reports whether sorting and the result window must be
// applied after the pipeline runs: for COUNT selects (LIMIT applies to the
// single count row), for sorts on the per-category count, and for LIMIT 0,
// which $limit rejects.
func windowInMemory(in *query.Intent) (bool, error) {
	if in.CountAs != "" {
		return true, nil
	}
	if in.Group != nil {
		for _, s := range in.Sort {
			if s.Field == in.Group.CountAs {
				return true, nil
			}
		}
	}
	_, limit, err := window(in)
	if err != nil {
		return false, err
	}
	return limit == 0, nil
}

// projection drops the engine key and lookup arrays. Column selects
// include only the projected, joined, and sort fields, plus id when
// article counts still need it.
func projection(in *query.Intent) bson.D {
	p := bson.D{{Key: "_id", Value: 0}}
	if in.AllColumns || len(in.Columns) == 0 {
		for _, j := range in.Joins {
			p = append(p, bson.E{Key: lookupPrefix + j.Alias, Value: 0})
		}
		return p
	}

	seen := map[string]bool{"_id": true}
	include := func(name string, v any) {
		if !seen[name] {
			seen[name] = true
			p = append(p, bson.E{Key: name, Value: v})
		}
	}
	for _, c := range in.Columns {
		if c.As == "" || c.As == c.Field {
			include(c.Field, 1)
		} else {
			include(c.As, "$"+c.Field)
		}
	}
	for _, j := range in.Joins {
		for _, f := range j.Fields {
			include(f.As, 1)
		}
	}
	for _, s := range in.Sort {
		include(sortKey(in, s.Field), 1)
	}
	if in.Group != nil {
		include("id", 1)
	}
	return p
}
