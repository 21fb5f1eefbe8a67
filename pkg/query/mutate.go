package query

import (
	"strings"
)

// parseInsert recognizes
//
//	INSERT [OR IGNORE | IGNORE] INTO table (cols) VALUES (vals)
func (p *parser) parseInsert() error {
	if err := p.expect("INSERT"); err != nil {
		return err
	}
	switch {
	case p.accept("OR"):
		if err := p.expect("IGNORE"); err != nil {
			return err
		}
		p.in.IgnoreConflict = true
	case p.accept("IGNORE"):
		p.in.IgnoreConflict = true
	}
	if err := p.expect("INTO"); err != nil {
		return err
	}
	if err := p.table(); err != nil {
		return err
	}

	if err := p.expect("("); err != nil {
		return err
	}
	var cols []string
	seen := make(map[string]bool)
	for {
		r, err := p.colRef()
		if err != nil {
			return err
		}
		field, err := p.baseField(r)
		if err != nil {
			return err
		}
		if seen[field] {
			return p.miss("column %q listed twice", field)
		}
		seen[field] = true
		cols = append(cols, field)
		if p.accept(")") {
			break
		}
		if err := p.expect(","); err != nil {
			return err
		}
	}

	if err := p.expect("VALUES"); err != nil {
		return err
	}
	if err := p.expect("("); err != nil {
		return err
	}
	for i := 0; ; i++ {
		if i >= len(cols) {
			return p.miss("more values than the %d listed columns", len(cols))
		}
		v, err := p.operand()
		if err != nil {
			return err
		}
		p.in.bind(v, cols[i])
		p.in.Assignments = append(p.in.Assignments, Assignment{Field: cols[i], Value: v})
		if p.accept(")") {
			break
		}
		if err := p.expect(","); err != nil {
			return err
		}
	}
	if len(p.in.Assignments) != len(cols) {
		return p.miss("%d columns but %d values", len(cols), len(p.in.Assignments))
	}
	if p.peekIs(",") {
		return p.miss("multi-row VALUES is not supported")
	}

	for _, f := range p.in.Schema().Fields {
		if f.Required && !seen[f.Name] {
			return p.miss("insert into %s must set %s", p.in.Table, f.Name)
		}
	}
	return p.end()
}

// parseUpdate recognizes
//
//	UPDATE table SET col = v, ... WHERE id = ? [AND col (=|!=) literal ...]
//
// Assignments may also be increments (col = col + n) or COALESCE(v, col),
// which keeps the current value when v is NULL.
func (p *parser) parseUpdate() error {
	if err := p.expect("UPDATE"); err != nil {
		return err
	}
	if err := p.table(); err != nil {
		return err
	}
	if err := p.expect("SET"); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for {
		a, err := p.assignment()
		if err != nil {
			return err
		}
		if seen[a.Field] {
			return p.miss("column %q assigned twice", a.Field)
		}
		seen[a.Field] = true
		p.in.Assignments = append(p.in.Assignments, a)
		if !p.accept(",") {
			break
		}
	}
	if seen["id"] {
		return p.miss("id cannot be reassigned")
	}

	if err := p.targetID(); err != nil {
		return err
	}
	for p.accept("AND") {
		c, err := p.cond()
		if err != nil {
			return err
		}
		if c.Value.IsParam() {
			return p.miss("update guards must compare against literals")
		}
		p.in.Guard = append(p.in.Guard, c)
	}
	if err := p.end(); err != nil {
		return err
	}
	if p.in.Target.Param != p.in.placeholders-1 {
		return p.miss("the target id must be the last parameter")
	}
	return nil
}

func (p *parser) assignment() (Assignment, error) {
	r, err := p.colRef()
	if err != nil {
		return Assignment{}, err
	}
	field, err := p.baseField(r)
	if err != nil {
		return Assignment{}, err
	}
	if err := p.expect("="); err != nil {
		return Assignment{}, err
	}

	// col = col + n
	if t := p.peek(); t.Kind == TokIdent && strings.EqualFold(t.Text, field) && !t.Quoted {
		p.pos++
		sign := int64(1)
		switch {
		case p.accept("+"):
		case p.accept("-"):
			sign = -1
		default:
			return Assignment{}, p.miss("self-assignment of %s must be an increment", field)
		}
		v, err := p.operand()
		if err != nil {
			return Assignment{}, err
		}
		n, ok := v.Literal.(int64)
		if v.IsParam() || !ok {
			return Assignment{}, p.miss("increment of %s must be an integer literal", field)
		}
		return Assignment{Field: field, Value: Lit(nil), Increment: sign * n}, nil
	}

	// col = COALESCE(v, col)
	if p.accept("COALESCE") {
		if err := p.expect("("); err != nil {
			return Assignment{}, err
		}
		v, err := p.operand()
		if err != nil {
			return Assignment{}, err
		}
		if err := p.expect(","); err != nil {
			return Assignment{}, err
		}
		self, err := p.colRef()
		if err != nil {
			return Assignment{}, err
		}
		if !strings.EqualFold(self.name, field) || !p.isBase(self) {
			return Assignment{}, p.miss("COALESCE fallback must be %s itself", field)
		}
		if err := p.expect(")"); err != nil {
			return Assignment{}, err
		}
		p.in.bind(v, field)
		return Assignment{Field: field, Value: v, KeepIfNull: true}, nil
	}

	v, err := p.operand()
	if err != nil {
		return Assignment{}, err
	}
	p.in.bind(v, field)
	return Assignment{Field: field, Value: v}, nil
}

// targetID parses "WHERE id = ?".
func (p *parser) targetID() error {
	if err := p.expect("WHERE"); err != nil {
		return err
	}
	r, err := p.colRef()
	if err != nil {
		return err
	}
	field, err := p.baseField(r)
	if err != nil {
		return err
	}
	if field != "id" {
		return p.miss("%s must address a single row by id", p.in.Operation)
	}
	if err := p.expect("="); err != nil {
		return err
	}
	if p.peek().Kind != TokParam {
		return p.miss("the target id must be a parameter")
	}
	v, err := p.operand()
	if err != nil {
		return err
	}
	p.in.bind(v, "id")
	p.in.Target = &v
	return nil
}

// parseDelete recognizes
//
//	DELETE FROM table WHERE id = ?
func (p *parser) parseDelete() error {
	if err := p.expect("DELETE"); err != nil {
		return err
	}
	if err := p.expect("FROM"); err != nil {
		return err
	}
	if err := p.table(); err != nil {
		return err
	}
	if err := p.targetID(); err != nil {
		return err
	}
	return p.end()
}
