package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// Classify recognizes a statement of the caller dialect and returns its
// intent.
//
// Statements outside the dialect are not an error here: the returned intent
// has Unclassified set, Entity set to EntityOther, and Reason explaining what
// did not match. The only error Classify returns is a
// *types.ParameterMismatchError, when a recognized statement's placeholder
// count differs from len(params).
func Classify(stmt string, params []any) (*Intent, error) {
	in := &Intent{Statement: stmt, Params: params}

	toks, err := Lex(stmt)
	if err != nil {
		return unclassified(in, err.Error()), nil
	}
	if n := len(toks); n > 0 && toks[n-1].Is(";") {
		toks = toks[:n-1]
	}
	if len(toks) == 0 {
		return unclassified(in, "empty statement"), nil
	}

	p := &parser{toks: toks, in: in}
	switch {
	case toks[0].Is("SELECT"):
		in.Operation = OpSelect
		err = p.parseSelect()
	case toks[0].Is("INSERT"):
		in.Operation = OpInsert
		err = p.parseInsert()
	case toks[0].Is("UPDATE"):
		in.Operation = OpUpdate
		err = p.parseUpdate()
	case toks[0].Is("DELETE"):
		in.Operation = OpDelete
		err = p.parseDelete()
	default:
		return unclassified(in, fmt.Sprintf("unsupported verb %q", toks[0].Text)), nil
	}

	var miss *missError
	if errors.As(err, &miss) {
		return unclassified(in, miss.reason), nil
	}
	if err != nil {
		return nil, err
	}

	if in.placeholders != len(params) {
		return in, &types.ParameterMismatchError{
			Op:       in.Operation.String() + " " + in.Table,
			Expected: in.placeholders,
			Got:      len(params),
		}
	}
	return in, nil
}

// unclassified marks an intent as outside the dialect. The operation is
// kept so callers can tell a read miss from a write miss.
func unclassified(in *Intent, reason string) *Intent {
	in.Unclassified = true
	in.Reason = reason
	in.Entity = types.EntityOther
	return in
}

type missError struct {
	reason string
}

func (e *missError) Error() string { return e.reason }

// keywords cannot be used as table aliases.
var keywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "LEFT": true, "RIGHT": true,
	"INNER": true, "OUTER": true, "CROSS": true, "JOIN": true, "ON": true,
	"AND": true, "OR": true, "ORDER": true, "GROUP": true, "BY": true,
	"LIMIT": true, "OFFSET": true, "AS": true, "ASC": true, "DESC": true,
	"SET": true, "VALUES": true, "INTO": true, "IS": true, "NOT": true,
	"NULL": true, "LIKE": true, "HAVING": true, "UNION": true, "RETURNING": true,
}

type parser struct {
	toks []Token
	pos  int
	in   *Intent

	base       string         // Alias of the FROM table.
	joins      map[string]int // Lookup joins by alias, as indexes into in.Joins.
	groupAlias string         // Alias of the counted articles join.
}

func (p *parser) miss(format string, args ...any) error {
	return &missError{reason: fmt.Sprintf(format, args...)}
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() Token {
	if p.done() {
		return Token{Kind: -1}
	}
	return p.toks[p.pos]
}

func (p *parser) peekIs(s string) bool { return !p.done() && p.toks[p.pos].Is(s) }

func (p *parser) accept(s string) bool {
	if p.peekIs(s) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(s string) error {
	if !p.accept(s) {
		if p.done() {
			return p.miss("expected %s, got end of statement", s)
		}
		return p.miss("expected %s, got %q", s, p.peek().Text)
	}
	return nil
}

// name reads a non-keyword identifier.
func (p *parser) name() (string, error) {
	t := p.peek()
	if t.Kind != TokIdent || (!t.Quoted && keywords[strings.ToUpper(t.Text)]) {
		if p.done() {
			return "", p.miss("expected identifier, got end of statement")
		}
		return "", p.miss("expected identifier, got %q", t.Text)
	}
	p.pos++
	return t.Text, nil
}

// colRef is a possibly qualified column reference.
type colRef struct {
	qual string
	name string
	star bool
}

func (p *parser) colRef() (colRef, error) {
	first, err := p.name()
	if err != nil {
		return colRef{}, err
	}
	if !p.accept(".") {
		return colRef{name: first}, nil
	}
	if p.accept("*") {
		return colRef{qual: first, star: true}, nil
	}
	second, err := p.name()
	if err != nil {
		return colRef{}, err
	}
	return colRef{qual: first, name: second}, nil
}

// isBase reports whether r refers to the FROM table.
func (p *parser) isBase(r colRef) bool {
	return r.qual == "" || strings.EqualFold(r.qual, p.base) || strings.EqualFold(r.qual, p.in.Table)
}

// baseField resolves r to a field of the FROM entity.
func (p *parser) baseField(r colRef) (string, error) {
	if !p.isBase(r) {
		return "", p.miss("reference %s.%s is not on %s", r.qual, r.name, p.in.Table)
	}
	name := strings.ToLower(r.name)
	if !p.in.Schema().Has(name) {
		return "", p.miss("unknown column %q on %s", r.name, p.in.Table)
	}
	return name, nil
}

// operand reads a placeholder, literal, or current-timestamp call.
func (p *parser) operand() (Value, error) {
	t := p.peek()
	switch {
	case t.Kind == TokParam:
		p.pos++
		v := P(p.in.placeholders)
		p.in.placeholders++
		return v, nil
	case t.Kind == TokString:
		p.pos++
		return Lit(t.Text), nil
	case t.Kind == TokNumber:
		p.pos++
		return numberLit(t.Text)
	case t.Is("-"):
		p.pos++
		n := p.peek()
		if n.Kind != TokNumber {
			return Value{}, p.miss("expected number after '-'")
		}
		p.pos++
		return numberLit("-" + n.Text)
	case t.Is("TRUE"):
		p.pos++
		return Lit(true), nil
	case t.Is("FALSE"):
		p.pos++
		return Lit(false), nil
	case t.Is("NULL"):
		p.pos++
		return Lit(nil), nil
	case t.Is("CURRENT_TIMESTAMP"):
		p.pos++
		return Now(), nil
	case t.Is("NOW"):
		p.pos++
		if err := p.expect("("); err != nil {
			return Value{}, err
		}
		if err := p.expect(")"); err != nil {
			return Value{}, err
		}
		return Now(), nil
	case t.Is("datetime"):
		p.pos++
		if err := p.expect("("); err != nil {
			return Value{}, err
		}
		arg := p.peek()
		if arg.Kind != TokString || !strings.EqualFold(arg.Text, "now") {
			return Value{}, p.miss("only datetime('now') is supported")
		}
		p.pos++
		if err := p.expect(")"); err != nil {
			return Value{}, err
		}
		return Now(), nil
	}
	if p.done() {
		return Value{}, p.miss("expected value, got end of statement")
	}
	return Value{}, p.miss("unsupported value %q", t.Text)
}

func numberLit(s string) (Value, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Lit(i), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, &missError{reason: fmt.Sprintf("bad number %q", s)}
	}
	return Lit(f), nil
}

// table reads a table name and resolves its entity.
func (p *parser) table() error {
	name, err := p.name()
	if err != nil {
		return err
	}
	p.in.Entity = types.EntityForTable(name)
	if p.in.Entity == types.EntityOther {
		p.in.Table = name
		return p.miss("unknown table %q", name)
	}
	// Collection names are case-sensitive in the document store, so the
	// intent carries the canonical name; the written one still qualifies
	// columns.
	p.in.Table = p.in.Entity.Table()
	p.base = name
	return nil
}

// alias reads an optional table alias.
func (p *parser) alias() (string, error) {
	if p.accept("AS") {
		return p.name()
	}
	t := p.peek()
	if t.Kind == TokIdent && (t.Quoted || !keywords[strings.ToUpper(t.Text)]) {
		p.pos++
		return t.Text, nil
	}
	return "", nil
}

// end checks that every token was consumed.
func (p *parser) end() error {
	if !p.done() {
		return p.miss("unexpected %q", p.peek().Text)
	}
	return nil
}
