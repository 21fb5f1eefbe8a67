package sqlite

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// render builds SQL for an intent that has no statement text, such as one
// made with the query builders.
func render(in *query.Intent) (string, []any, error) {
	switch in.Operation {
	case query.OpSelect:
		return renderSelect(in)
	case query.OpInsert:
		return renderInsert(in)
	case query.OpUpdate:
		b, err := updateBuilder(in, append(append([]query.Assignment{}, in.Assignments...), in.Derived...), true)
		if err != nil {
			return "", nil, err
		}
		return b.ToSql()
	case query.OpDelete:
		id, err := in.TargetID()
		if err != nil {
			return "", nil, err
		}
		return sq.Delete(in.Table).Where(sq.Eq{"id": id}).ToSql()
	}
	return "", nil, fmt.Errorf("cannot render %s intent", in.Operation)
}

// value resolves an operand to a bindable value or SQL expression.
func value(in *query.Intent, field string, v query.Value) (any, error) {
	if v.Now {
		return sq.Expr("CURRENT_TIMESTAMP"), nil
	}
	arg := in.Arg(v)
	f, ok := in.Schema().Field(field)
	if !ok {
		return plain(arg), nil
	}
	return toColumn(f, arg)
}

func qualify(table, field string) string {
	return table + "." + field
}

// condition renders one comparison against table.
func condition(in *query.Intent, table string, c query.Cond) (sq.Sqlizer, error) {
	col := qualify(table, c.Field)
	switch c.Op {
	case query.CmpIsNull:
		return sq.Eq{col: nil}, nil
	case query.CmpNotNull:
		return sq.NotEq{col: nil}, nil
	}
	v, err := value(in, c.Field, c.Value)
	if err != nil {
		return nil, err
	}
	switch c.Op {
	case query.CmpEq:
		return sq.Eq{col: v}, nil
	case query.CmpNe:
		return sq.NotEq{col: v}, nil
	case query.CmpLike:
		return sq.Like{col: v}, nil
	}
	return nil, fmt.Errorf("unsupported comparison %s", c.Op)
}

func predicate(in *query.Intent, table string, p query.Predicate) (sq.Sqlizer, error) {
	if len(p.AnyOf) == 1 {
		return condition(in, table, p.AnyOf[0])
	}
	var or sq.Or
	for _, c := range p.AnyOf {
		s, err := condition(in, table, c)
		if err != nil {
			return nil, err
		}
		or = append(or, s)
	}
	return or, nil
}

func renderSelect(in *query.Intent) (string, []any, error) {
	t := in.Table
	var cols []string
	switch {
	case in.CountAs != "":
		cols = append(cols, fmt.Sprintf("COUNT(*) AS %s", quoteIdent(in.CountAs)))
	case in.AllColumns:
		cols = append(cols, t+".*")
	}
	for _, c := range in.Columns {
		cols = append(cols, fmt.Sprintf("%s AS %s", qualify(t, c.Field), quoteIdent(c.OutputName())))
	}

	b := sq.Select().From(t)
	for _, j := range in.Joins {
		b = b.LeftJoin(fmt.Sprintf("%s AS %s ON %s.id = %s", j.Table, quoteIdent(j.Alias), quoteIdent(j.Alias), qualify(t, j.LocalField)))
		for _, f := range j.Fields {
			cols = append(cols, fmt.Sprintf("%s.%s AS %s", quoteIdent(j.Alias), f.Field, quoteIdent(f.As)))
		}
	}
	if g := in.Group; g != nil {
		join := fmt.Sprintf("%s AS %s ON %s.category_id = %s", types.TableArticles, quoteIdent(g.Alias), quoteIdent(g.Alias), qualify(t, "id"))
		var joinArgs []any
		for _, c := range g.Filter {
			s, err := condition(&query.Intent{Entity: types.EntityArticle}, quoteIdent(g.Alias), c)
			if err != nil {
				return "", nil, err
			}
			sql, a, err := s.ToSql()
			if err != nil {
				return "", nil, err
			}
			join += " AND " + sql
			joinArgs = append(joinArgs, a...)
		}
		b = b.LeftJoin(join, joinArgs...)
		cols = append(cols, fmt.Sprintf("COUNT(%s.id) AS %s", quoteIdent(g.Alias), quoteIdent(g.CountAs)))
		b = b.GroupBy(qualify(t, "id"))
	}
	b = b.Columns(cols...)

	for _, p := range in.Where {
		s, err := predicate(in, t, p)
		if err != nil {
			return "", nil, err
		}
		b = b.Where(s)
	}
	for _, s := range in.Sort {
		col := quoteIdent(s.Field)
		if in.Schema().Has(s.Field) && !isOutputAlias(in, s.Field) {
			col = qualify(t, s.Field)
		}
		if s.Desc {
			col += " DESC"
		}
		b = b.OrderBy(col)
	}
	if in.Limit != nil {
		n, err := count(in, *in.Limit)
		if err != nil {
			return "", nil, err
		}
		b = b.Limit(n)
	}
	if in.Offset != nil {
		n, err := count(in, *in.Offset)
		if err != nil {
			return "", nil, err
		}
		b = b.Offset(n)
	}
	return b.ToSql()
}

// isOutputAlias reports whether name is produced by a lookup or count
// rather than a base column.
func isOutputAlias(in *query.Intent, name string) bool {
	for _, j := range in.Joins {
		for _, f := range j.Fields {
			if f.As == name {
				return true
			}
		}
	}
	return in.Group != nil && in.Group.CountAs == name
}

func count(in *query.Intent, v query.Value) (uint64, error) {
	n, ok := query.ToInt(in.Arg(v))
	if !ok || n < 0 {
		return 0, fmt.Errorf("%w: %v is not a row count", types.ErrInvalidValue, in.Arg(v))
	}
	return uint64(n), nil
}

func renderInsert(in *query.Intent) (string, []any, error) {
	b := sq.Insert(in.Table)
	if in.IgnoreConflict {
		b = b.Options("OR IGNORE")
	}
	var cols []string
	var vals []any
	for _, a := range in.Assignments {
		v, err := value(in, a.Field, a.Value)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, a.Field)
		vals = append(vals, v)
	}
	return b.Columns(cols...).Values(vals...).ToSql()
}

// updateBuilder renders assignments as an UPDATE of the intent's target
// row, optionally restricted by the intent's guards.
func updateBuilder(in *query.Intent, assignments []query.Assignment, guarded bool) (sq.UpdateBuilder, error) {
	id, err := in.TargetID()
	if err != nil {
		return sq.UpdateBuilder{}, err
	}
	b := sq.Update(in.Table)
	for _, a := range assignments {
		f, _ := in.Schema().Field(a.Field)
		switch {
		case a.Increment != 0:
			b = b.Set(a.Field, sq.Expr(a.Field+" + ?", a.Increment))
		case a.Value.Now:
			b = b.Set(a.Field, sq.Expr("CURRENT_TIMESTAMP"))
		default:
			v, err := value(in, a.Field, a.Value)
			if err != nil {
				return sq.UpdateBuilder{}, err
			}
			switch {
			case a.KeepIfNull:
				b = b.Set(a.Field, sq.Expr(fmt.Sprintf("COALESCE(?, %s)", a.Field), v))
			case f.PreserveOnEmpty:
				b = b.Set(a.Field, sq.Expr(fmt.Sprintf("COALESCE(NULLIF(?, ''), %s)", a.Field), v))
			default:
				b = b.Set(a.Field, v)
			}
		}
	}
	b = b.Where(sq.Eq{"id": id})
	if !guarded {
		return b, nil
	}
	for _, c := range in.Guard {
		s, err := condition(in, in.Table, c)
		if err != nil {
			return sq.UpdateBuilder{}, err
		}
		b = b.Where(s)
	}
	return b, nil
}
