package query

import (
	"strings"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// parseSelect recognizes
//
//	SELECT items FROM table [alias] {LEFT JOIN ...} [WHERE ...]
//	       [GROUP BY ...] [ORDER BY ...] [LIMIT v] [OFFSET v]
func (p *parser) parseSelect() error {
	if err := p.expect("SELECT"); err != nil {
		return err
	}
	if p.peekIs("DISTINCT") {
		return p.miss("DISTINCT is not supported")
	}

	items, err := p.selectItems()
	if err != nil {
		return err
	}
	if err := p.expect("FROM"); err != nil {
		return err
	}
	if err := p.table(); err != nil {
		return err
	}
	alias, err := p.alias()
	if err != nil {
		return err
	}
	if alias != "" {
		p.base = alias
		p.in.Alias = alias
	}

	for p.peekIs("LEFT") || p.peekIs("JOIN") || p.peekIs("INNER") || p.peekIs("RIGHT") || p.peekIs("CROSS") {
		if err := p.join(); err != nil {
			return err
		}
	}

	for _, item := range items {
		if err := p.resolveItem(item); err != nil {
			return err
		}
	}
	if err := p.checkProjection(); err != nil {
		return err
	}

	if p.accept("WHERE") {
		where, err := p.where()
		if err != nil {
			return err
		}
		p.in.Where = where
	}

	grouped := false
	if p.accept("GROUP") {
		if err := p.expect("BY"); err != nil {
			return err
		}
		if err := p.groupBy(); err != nil {
			return err
		}
		grouped = true
	}
	if p.in.Group != nil && !grouped {
		return p.miss("article count join requires GROUP BY")
	}
	if p.peekIs("HAVING") {
		return p.miss("HAVING is not supported")
	}

	if p.accept("ORDER") {
		if err := p.expect("BY"); err != nil {
			return err
		}
		if err := p.orderBy(); err != nil {
			return err
		}
	}

	if p.accept("LIMIT") {
		v, err := p.operand()
		if err != nil {
			return err
		}
		if p.peekIs(",") {
			return p.miss("LIMIT offset, count is not supported")
		}
		p.in.Limit = &v
	}
	if p.accept("OFFSET") {
		v, err := p.operand()
		if err != nil {
			return err
		}
		p.in.Offset = &v
	}
	return p.end()
}

// selectItems splits the projection list into per-item token runs and
// leaves the cursor on FROM.
func (p *parser) selectItems() ([][]Token, error) {
	var items [][]Token
	var cur []Token
	depth := 0
	for !p.done() {
		t := p.peek()
		if depth == 0 && t.Is("FROM") {
			break
		}
		p.pos++
		switch {
		case t.Is("("):
			depth++
		case t.Is(")"):
			depth--
		case depth == 0 && t.Is(","):
			items = append(items, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	items = append(items, cur)
	for _, it := range items {
		if len(it) == 0 {
			return nil, p.miss("empty projection item")
		}
	}
	return items, nil
}

// join recognizes the fixed lookups.
func (p *parser) join() error {
	if !p.accept("LEFT") {
		return p.miss("only LEFT JOIN lookups are supported")
	}
	p.accept("OUTER")
	if err := p.expect("JOIN"); err != nil {
		return err
	}
	table, err := p.name()
	if err != nil {
		return err
	}
	alias, err := p.alias()
	if err != nil {
		return err
	}
	if alias == "" {
		alias = table
	}
	if err := p.expect("ON"); err != nil {
		return err
	}
	left, err := p.colRef()
	if err != nil {
		return err
	}
	if err := p.expect("="); err != nil {
		return err
	}
	right, err := p.colRef()
	if err != nil {
		return err
	}

	joined := types.EntityForTable(table)
	onJoin := func(r colRef) bool { return strings.EqualFold(r.qual, alias) }
	// Normalize so that left is the parent side.
	if onJoin(left) {
		left, right = right, left
	}
	if !p.isBase(left) || !onJoin(right) {
		return p.miss("join condition must relate %s to %s", p.in.Table, table)
	}
	lf, rf := strings.ToLower(left.name), strings.ToLower(right.name)

	switch {
	case p.in.Entity == types.EntityArticle && joined == types.EntityCategory && lf == "category_id" && rf == "id":
		return p.addLookup(JoinCategory, table, alias, lf)
	case p.in.Entity == types.EntityArticle && joined == types.EntityUser && lf == "author_id" && rf == "id":
		return p.addLookup(JoinAuthor, table, alias, lf)
	case p.in.Entity == types.EntityCategory && joined == types.EntityArticle && lf == "id" && rf == "category_id":
		return p.addGroupJoin(alias)
	}
	return p.miss("unsupported join %s.%s = %s.%s", p.in.Table, left.name, table, right.name)
}

func (p *parser) addLookup(kind JoinKind, table, alias, local string) error {
	if p.peekIs("AND") {
		return p.miss("lookup joins take a single key condition")
	}
	for _, j := range p.in.Joins {
		if j.Kind == kind {
			return p.miss("duplicate join on %s", table)
		}
	}
	p.in.Joins = append(p.in.Joins, Join{Kind: kind, Table: types.EntityForTable(table).Table(), Alias: alias, LocalField: local})
	if p.joins == nil {
		p.joins = make(map[string]int)
	}
	p.joins[strings.ToLower(alias)] = len(p.in.Joins) - 1
	return nil
}

func (p *parser) addGroupJoin(alias string) error {
	if p.in.Group != nil {
		return p.miss("duplicate article count join")
	}
	g := &Group{Alias: alias}
	articles := types.SchemaFor(types.EntityArticle)
	for p.accept("AND") {
		r, err := p.colRef()
		if err != nil {
			return err
		}
		if !strings.EqualFold(r.qual, alias) || !articles.Has(strings.ToLower(r.name)) {
			return p.miss("count join filters must reference %s columns", alias)
		}
		c, err := p.comparison(strings.ToLower(r.name))
		if err != nil {
			return err
		}
		g.Filter = append(g.Filter, c)
	}
	p.in.Group = g
	p.groupAlias = alias
	return nil
}

// resolveItem interprets one projection item now that aliases are known.
func (p *parser) resolveItem(item []Token) error {
	sub := &parser{toks: item, in: p.in, base: p.base, joins: p.joins, groupAlias: p.groupAlias}

	if sub.accept("*") {
		p.in.AllColumns = true
		return sub.end()
	}

	if sub.peekIs("COUNT") {
		sub.pos++
		if err := sub.expect("("); err != nil {
			return err
		}
		if !sub.accept("*") {
			r, err := sub.colRef()
			if err != nil {
				return err
			}
			if r.star {
				return p.miss("COUNT(x.*) is not supported")
			}
		}
		if err := sub.expect(")"); err != nil {
			return err
		}
		as, err := sub.alias()
		if err != nil {
			return err
		}
		if as == "" {
			as = "count"
		}
		if err := sub.end(); err != nil {
			return err
		}
		if p.in.Group != nil {
			p.in.Group.CountAs = as
		} else {
			p.in.CountAs = as
		}
		return nil
	}

	r, err := sub.colRef()
	if err != nil {
		return err
	}
	as, err := sub.alias()
	if err != nil {
		return err
	}
	if err := sub.end(); err != nil {
		return err
	}

	if r.star {
		if !p.isBase(r) {
			return p.miss("%s.* is not supported; project lookup columns by name", r.qual)
		}
		p.in.AllColumns = true
		return nil
	}

	if ji, ok := p.joins[strings.ToLower(r.qual)]; ok && r.qual != "" {
		j := &p.in.Joins[ji]
		field := strings.ToLower(r.name)
		if !types.SchemaFor(types.EntityForTable(j.Table)).Has(field) {
			return p.miss("unknown column %q on %s", r.name, j.Table)
		}
		if as == "" {
			as = field
		}
		j.Fields = append(j.Fields, JoinField{Field: field, As: as})
		return nil
	}
	if r.qual != "" && strings.EqualFold(r.qual, p.groupAlias) {
		return p.miss("counted articles cannot be projected")
	}

	field, err := p.baseField(r)
	if err != nil {
		return err
	}
	p.in.Columns = append(p.in.Columns, Column{Field: field, As: as})
	return nil
}

func (p *parser) checkProjection() error {
	in := p.in
	if in.CountAs != "" && (in.AllColumns || len(in.Columns) > 0 || len(in.Joins) > 0) {
		return p.miss("COUNT cannot be combined with other columns")
	}
	if in.Group != nil && in.Group.CountAs == "" {
		return p.miss("article count join without COUNT")
	}
	return nil
}

// where parses a conjunction of comparisons and parenthesized
// disjunctions, or a single top-level disjunction.
func (p *parser) where() ([]Predicate, error) {
	var terms []Predicate
	sawAnd, sawOr := false, false
	for {
		pred, err := p.term()
		if err != nil {
			return nil, err
		}
		terms = append(terms, pred)
		switch {
		case p.accept("AND"):
			sawAnd = true
		case p.accept("OR"):
			sawOr = true
		default:
			if sawAnd && sawOr {
				return nil, p.miss("mixed AND/OR without parentheses")
			}
			if sawOr {
				var disj Predicate
				for _, t := range terms {
					if len(t.AnyOf) > 1 {
						return nil, p.miss("nested disjunctions are not supported")
					}
					disj.AnyOf = append(disj.AnyOf, t.AnyOf...)
				}
				return []Predicate{disj}, nil
			}
			return terms, nil
		}
	}
}

func (p *parser) term() (Predicate, error) {
	if !p.accept("(") {
		c, err := p.cond()
		if err != nil {
			return Predicate{}, err
		}
		return Predicate{AnyOf: []Cond{c}}, nil
	}
	var pred Predicate
	for {
		c, err := p.cond()
		if err != nil {
			return Predicate{}, err
		}
		pred.AnyOf = append(pred.AnyOf, c)
		if p.accept(")") {
			return pred, nil
		}
		if !p.accept("OR") {
			return Predicate{}, p.miss("only OR is supported inside parentheses")
		}
	}
}

// cond parses "col op value" against the base entity.
func (p *parser) cond() (Cond, error) {
	r, err := p.colRef()
	if err != nil {
		return Cond{}, err
	}
	if r.star {
		return Cond{}, p.miss("unexpected * in predicate")
	}
	if _, ok := p.joins[strings.ToLower(r.qual)]; ok && r.qual != "" {
		return Cond{}, p.miss("filters on joined table %s are not supported", r.qual)
	}
	field, err := p.baseField(r)
	if err != nil {
		return Cond{}, err
	}
	return p.comparison(field)
}

// comparison parses the operator and operand that follow a column.
func (p *parser) comparison(field string) (Cond, error) {
	var op CompareOp
	switch {
	case p.accept("="):
		op = CmpEq
	case p.accept("!="), p.accept("<>"):
		op = CmpNe
	case p.accept("LIKE"):
		op = CmpLike
	case p.accept("IS"):
		if p.accept("NOT") {
			op = CmpNotNull
		} else {
			op = CmpIsNull
		}
		if err := p.expect("NULL"); err != nil {
			return Cond{}, err
		}
		return Cond{Field: field, Op: op, Value: Lit(nil)}, nil
	default:
		if p.done() {
			return Cond{}, p.miss("expected comparison after %s", field)
		}
		return Cond{}, p.miss("unsupported comparison %q", p.peek().Text)
	}
	v, err := p.operand()
	if err != nil {
		return Cond{}, err
	}
	if v.Now {
		return Cond{}, p.miss("timestamp functions are not supported in predicates")
	}
	p.in.bind(v, field)
	return Cond{Field: field, Op: op, Value: v}, nil
}

func (p *parser) groupBy() error {
	if p.in.Group == nil {
		return p.miss("GROUP BY is only supported for per-category article counts")
	}
	for {
		r, err := p.colRef()
		if err != nil {
			return err
		}
		if _, err := p.baseField(r); err != nil {
			return err
		}
		if !p.accept(",") {
			return nil
		}
	}
}

func (p *parser) orderBy() error {
	for {
		r, err := p.colRef()
		if err != nil {
			return err
		}
		field, err := p.sortField(r)
		if err != nil {
			return err
		}
		s := Sort{Field: field}
		if p.accept("DESC") {
			s.Desc = true
		} else {
			p.accept("ASC")
		}
		p.in.Sort = append(p.in.Sort, s)
		if !p.accept(",") {
			return nil
		}
	}
}

// sortField maps an ORDER BY reference to a result field name.
func (p *parser) sortField(r colRef) (string, error) {
	name := strings.ToLower(r.name)
	if ji, ok := p.joins[strings.ToLower(r.qual)]; ok && r.qual != "" {
		for _, f := range p.in.Joins[ji].Fields {
			if f.Field == name {
				return f.As, nil
			}
		}
		return "", p.miss("sort on %s.%s requires projecting it", r.qual, r.name)
	}
	if p.isBase(r) && p.in.Schema().Has(name) {
		return name, nil
	}
	if r.qual == "" {
		for _, out := range p.in.OutputFields() {
			if out == name {
				return name, nil
			}
		}
	}
	return "", p.miss("cannot sort by %q", r.name)
}
