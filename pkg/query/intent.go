// Package query turns caller statements into typed intents.
//
// An Intent describes what a statement asks for (entity, operation,
// predicates, joins, sort, grouping) without saying how an engine should
// execute it. Intents come from two places: Classify, which recognizes the
// fixed statement dialect that existing callers issue, and the builder
// functions (Select, Insert, Update, Delete, SoftDelete), which construct
// intents directly without any statement text.
package query

import (
	"fmt"
	"time"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// Operation is the statement verb.
type Operation int

// Operations. OpUnknown is reported for statements whose verb is outside
// the dialect.
const (
	OpUnknown Operation = iota
	OpSelect
	OpInsert
	OpUpdate
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpSelect:
		return "select"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Value is an operand: a positional parameter, a literal, or the current
// timestamp.
type Value struct {
	Param   int // Index into Intent.Params; -1 for literals.
	Literal any
	Now     bool
}

// P references positional parameter i.
func P(i int) Value { return Value{Param: i} }

// Lit wraps a literal value.
func Lit(v any) Value { return Value{Param: -1, Literal: v} }

// Now is the current-timestamp operand.
func Now() Value { return Value{Param: -1, Now: true} }

// IsParam reports whether v references a positional parameter.
func (v Value) IsParam() bool { return v.Param >= 0 && !v.Now }

// CompareOp is a predicate comparison.
type CompareOp int

// Comparisons.
const (
	CmpEq CompareOp = iota
	CmpNe
	CmpLike
	CmpIsNull
	CmpNotNull
)

func (c CompareOp) String() string {
	switch c {
	case CmpEq:
		return "="
	case CmpNe:
		return "!="
	case CmpLike:
		return "LIKE"
	case CmpIsNull:
		return "IS NULL"
	case CmpNotNull:
		return "IS NOT NULL"
	default:
		return "?"
	}
}

// Cond is a single field comparison.
type Cond struct {
	Field string
	Op    CompareOp
	Value Value
}

// Predicate is a disjunction of conditions. A WHERE clause is the
// conjunction of its predicates.
type Predicate struct {
	AnyOf []Cond
}

// JoinKind names one of the recognized lookups.
type JoinKind int

// Recognized lookups: an article's category and an article's author.
const (
	JoinCategory JoinKind = iota + 1
	JoinAuthor
)

// JoinField copies one field of the related row onto the parent row.
type JoinField struct {
	Field string // Field of the related entity.
	As    string // Output name on the parent row.
}

// Join is a first-match lookup from the parent row into a related table on
// the related table's integer id.
type Join struct {
	Kind       JoinKind
	Table      string
	Alias      string
	LocalField string
	Fields     []JoinField
}

// Sort orders results by one output field.
type Sort struct {
	Field string
	Desc  bool
}

// Group is the per-category article count. Filter restricts which articles
// are counted.
type Group struct {
	CountAs string
	Alias   string // Article alias in the statement.
	Filter  []Cond
}

// Column is one projected field of the base entity.
type Column struct {
	Field string
	As    string
}

// Assignment sets a field on insert or update. Increment, when non-zero,
// adds to the current value instead of replacing it. KeepIfNull leaves the
// current value when the operand is NULL.
type Assignment struct {
	Field      string
	Value      Value
	Increment  int64
	KeepIfNull bool
}

// Intent is the structured form of a statement.
type Intent struct {
	Statement string // Empty for builder intents.
	Params    []any

	Entity    types.Entity
	Operation Operation
	Table     string
	Alias     string

	AllColumns bool
	Columns    []Column
	Where      []Predicate
	Joins      []Join
	Sort       []Sort
	Group      *Group
	CountAs    string // Plain COUNT(*) select.
	Limit      *Value
	Offset     *Value

	Assignments    []Assignment
	IgnoreConflict bool
	Guard          []Cond
	Target         *Value

	// Derived assignments are added by lifecycle rules after
	// classification and are applied alongside the caller's assignments.
	Derived []Assignment

	Unclassified bool
	Reason       string

	placeholders int
	paramFields  map[int]string
}

// Schema returns the schema of the intent's entity.
func (in *Intent) Schema() *types.Schema {
	return types.SchemaFor(in.Entity)
}

// Mutating reports whether the intent writes.
func (in *Intent) Mutating() bool {
	return in.Operation == OpInsert || in.Operation == OpUpdate || in.Operation == OpDelete
}

// Placeholders returns the number of positional placeholders the intent
// consumes.
func (in *Intent) Placeholders() int {
	return in.placeholders
}

// Arg resolves an operand to a concrete value. Now resolves to the current
// UTC time.
func (in *Intent) Arg(v Value) any {
	switch {
	case v.Now:
		return time.Now().UTC()
	case v.IsParam():
		if v.Param < len(in.Params) {
			return in.Params[v.Param]
		}
		return nil
	default:
		return v.Literal
	}
}

// ParamField returns the base-entity field a positional parameter is bound
// to, if any.
func (in *Intent) ParamField(i int) (types.Field, bool) {
	name, ok := in.paramFields[i]
	if !ok {
		return types.Field{}, false
	}
	if s := in.Schema(); s != nil {
		return s.Field(name)
	}
	return types.Field{}, false
}

// TargetID resolves the id an UPDATE or DELETE addresses.
func (in *Intent) TargetID() (int64, error) {
	if in.Target == nil {
		return 0, fmt.Errorf("%w: %s has no target id", types.ErrInvalidValue, in.Operation)
	}
	id, ok := ToInt(in.Arg(*in.Target))
	if !ok {
		return 0, fmt.Errorf("%w: target id %v is not an integer", types.ErrInvalidValue, in.Arg(*in.Target))
	}
	return id, nil
}

// Assignment returns the caller or derived assignment for field.
func (in *Intent) Assignment(field string) (Assignment, bool) {
	for _, a := range in.Assignments {
		if a.Field == field {
			return a, true
		}
	}
	for _, a := range in.Derived {
		if a.Field == field {
			return a, true
		}
	}
	return Assignment{}, false
}

// OutputFields lists the field names each result row carries, in order.
func (in *Intent) OutputFields() []string {
	if in.CountAs != "" {
		return []string{in.CountAs}
	}
	var out []string
	if in.AllColumns {
		if s := in.Schema(); s != nil {
			out = append(out, s.Names()...)
		}
	}
	for _, c := range in.Columns {
		out = append(out, c.OutputName())
	}
	for _, j := range in.Joins {
		for _, f := range j.Fields {
			out = append(out, f.As)
		}
	}
	if in.Group != nil {
		out = append(out, in.Group.CountAs)
	}
	return out
}

// OutputName is the name the column has in result rows.
func (c Column) OutputName() string {
	if c.As != "" {
		return c.As
	}
	return c.Field
}

// bind records that parameter i feeds field.
func (in *Intent) bind(v Value, field string) {
	if !v.IsParam() || field == "" {
		return
	}
	if in.paramFields == nil {
		in.paramFields = make(map[int]string)
	}
	in.paramFields[v.Param] = field
}

// ToInt converts the numeric representations drivers and callers use into
// an int64.
func ToInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), float32(int64(n)) == n
	case float64:
		return int64(n), float64(int64(n)) == n
	case string:
		var id int64
		if _, err := fmt.Sscan(n, &id); err != nil || fmt.Sprint(id) != n {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}
