// Package normalize maps engine-native results onto the canonical row shape.
//
// Both backends hand this package loosely typed rows: SQLite yields driver
// values (int64, string, []byte, nil) and MongoDB yields decoded documents
// (int32/int64, bool, datetimes, sub-documents, arrays). Rows projects each
// raw row onto the fields the intent promises and converts every value to
// its field kind, so a caller cannot tell which engine produced it.
package normalize

import (
	"fmt"

	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// outputField describes one output column of an intent.
type outputField struct {
	name   string
	field  types.Field
	joined bool // Copied from a lookup; missing values get kind defaults.
}

// fields resolves the kind of every output column of in.
func fields(in *query.Intent) []outputField {
	schema := in.Schema()
	var out []outputField
	if in.CountAs != "" {
		return []outputField{{name: in.CountAs, field: types.Field{Name: in.CountAs, Kind: types.KindInt}}}
	}
	if in.AllColumns && schema != nil {
		for _, f := range schema.Fields {
			out = append(out, outputField{name: f.Name, field: f})
		}
	}
	for _, c := range in.Columns {
		f, _ := schema.Field(c.Field)
		out = append(out, outputField{name: c.OutputName(), field: f})
	}
	for _, j := range in.Joins {
		related := types.SchemaFor(types.EntityForTable(j.Table))
		for _, jf := range j.Fields {
			f, _ := related.Field(jf.Field)
			out = append(out, outputField{name: jf.As, field: f, joined: true})
		}
	}
	if in.Group != nil {
		out = append(out, outputField{name: in.Group.CountAs, field: types.Field{Name: in.Group.CountAs, Kind: types.KindInt}})
	}
	return out
}

// Rows normalizes raw rows for in. mode is types.JSONDecoded or
// types.JSONEncoded and applies to every image and tag field.
func Rows(in *query.Intent, raw []map[string]any, mode string) ([]types.Row, error) {
	cols := fields(in)
	rows := make([]types.Row, 0, len(raw))
	for i, r := range raw {
		row := make(types.Row, len(cols))
		for _, c := range cols {
			v, err := Value(c.field, r[c.name], mode, c.joined)
			if err != nil {
				return nil, fmt.Errorf("row %d field %s: %w", i, c.name, err)
			}
			row[c.name] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Value converts one raw value to the canonical form for f. Nullable fields
// keep nil unless fill is set, in which case nil becomes the kind's empty
// value.
func Value(f types.Field, v any, mode string, fill bool) (any, error) {
	if v == nil {
		return empty(f, mode, fill), nil
	}
	switch f.Kind {
	case types.KindInt:
		return Int(v)
	case types.KindBool:
		return Bool(v)
	case types.KindTime:
		if s, ok := v.(string); ok && s == "" {
			return empty(f, mode, fill), nil
		}
		return Time(v)
	case types.KindImage:
		img, err := Image(v)
		if err != nil || img == nil {
			return empty(f, mode, fill), err
		}
		if mode == types.JSONEncoded {
			return EncodeJSON(img)
		}
		return img, nil
	case types.KindTags:
		tags, err := Tags(v)
		if err != nil {
			return nil, err
		}
		if mode == types.JSONEncoded {
			return EncodeJSON(tags)
		}
		return tags, nil
	default:
		return Text(v), nil
	}
}

func empty(f types.Field, mode string, fill bool) any {
	if f.Nullable && !fill {
		return nil
	}
	switch f.Kind {
	case types.KindInt:
		return int64(0)
	case types.KindBool:
		return false
	case types.KindTags:
		if mode == types.JSONEncoded {
			return "[]"
		}
		return []string{}
	case types.KindTime, types.KindImage:
		return nil
	default:
		return ""
	}
}

// Mutation builds the result of a write from engine counters. An insert
// that affected nothing (a conflict-ignored insert) reports no id.
func Mutation(op query.Operation, lastID, affected int64) types.MutationResult {
	if op != query.OpInsert || affected == 0 {
		lastID = 0
	}
	return types.MutationResult{InsertID: lastID, RowsAffected: affected}
}
