package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/quire/internal/normalize"
	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// rewrite translates a classified statement into SQLite's dialect. The
// statement is re-emitted token by token with the original spacing; only
// the constructs SQLite spells differently are replaced:
//
//	NOW()                  -> CURRENT_TIMESTAMP
//	INSERT IGNORE          -> INSERT OR IGNORE
//	TRUE / FALSE           -> 1 / 0
//	`name`                 -> "name"
//	image_col = ?          -> image_col = COALESCE(NULLIF(?, ''), image_col)
//	SELECT * ... JOIN      -> SELECT base.* ... JOIN
//
// The COALESCE form applies to preserve-on-empty columns in UPDATE SET
// lists, so an update that supplies no image keeps the stored one. A bare
// star next to a join is narrowed to the base table; otherwise the joined
// table's id, slug, and timestamps would replace the base row's.
func rewrite(in *query.Intent) (string, error) {
	stmt := in.Statement
	toks, err := query.Lex(stmt)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	last := 0
	emit := func(t query.Token, text string) {
		b.WriteString(stmt[last:t.Start])
		b.WriteString(text)
		last = t.End
	}

	joined := in.Operation == query.OpSelect && (len(in.Joins) > 0 || in.Group != nil)
	inSet, inItems := false, false
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.Is("SELECT"):
			inItems = true
		case t.Is("FROM"):
			inItems = false
		case joined && inItems && t.Is("*") && (toks[i-1].Is("SELECT") || toks[i-1].Is(",")):
			emit(t, quoteIdent(baseName(in))+".*")
		case t.Is("NOW") && i+2 < len(toks) && toks[i+1].Is("(") && toks[i+2].Is(")"):
			emit(t, "CURRENT_TIMESTAMP")
			last = toks[i+2].End
			i += 2
		case t.Is("INSERT") && i+1 < len(toks) && toks[i+1].Is("IGNORE"):
			emit(t, "INSERT OR")
		case t.Is("TRUE"):
			emit(t, "1")
		case t.Is("FALSE"):
			emit(t, "0")
		case t.Kind == query.TokIdent && t.Quoted:
			emit(t, quoteIdent(t.Text))
		case t.Is("SET") && in.Operation == query.OpUpdate:
			inSet = true
		case t.Is("WHERE"):
			inSet = false
		case inSet && t.Kind == query.TokParam && i >= 2 && toks[i-1].Is("="):
			col := toks[i-2]
			f, ok := in.Schema().Field(strings.ToLower(col.Text))
			if ok && f.PreserveOnEmpty && (i+1 == len(toks) || toks[i+1].Is(",") || toks[i+1].Is("WHERE")) {
				emit(t, fmt.Sprintf("COALESCE(NULLIF(?, ''), %s)", quoteIdent(f.Name)))
			}
		}
	}
	b.WriteString(stmt[last:])
	return b.String(), nil
}

// baseName is how the statement refers to its base table.
func baseName(in *query.Intent) string {
	if in.Alias != "" {
		return in.Alias
	}
	return in.Table
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// args resolves the intent's parameters into values the driver stores in
// the column each parameter is bound to.
func args(in *query.Intent) ([]any, error) {
	out := make([]any, len(in.Params))
	for i, p := range in.Params {
		f, ok := in.ParamField(i)
		if !ok {
			out[i] = plain(p)
			continue
		}
		v, err := toColumn(f, p)
		if err != nil {
			return nil, fmt.Errorf("parameter %d (%s): %w", i+1, f.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

// toColumn converts a caller value into the storage form of field f.
func toColumn(f types.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case types.KindBool:
		b, err := normalize.Bool(v)
		if err != nil {
			return nil, err
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case types.KindTime:
		if s, ok := v.(string); ok && s == "" {
			return nil, nil
		}
		t, err := normalize.Time(v)
		if err != nil {
			return nil, err
		}
		return t.Format(normalize.SQLiteTimeLayout), nil
	case types.KindImage:
		if s, ok := v.(string); ok {
			// '' stays '' so NULLIF can see it.
			return s, nil
		}
		img, err := normalize.Image(v)
		if err != nil {
			return nil, err
		}
		return normalize.EncodeJSON(img)
	case types.KindTags:
		if s, ok := v.(string); ok {
			tags, err := normalize.Tags(s)
			if err != nil {
				return nil, err
			}
			return normalize.EncodeJSON(tags)
		}
		tags, err := normalize.Tags(v)
		if err != nil {
			return nil, err
		}
		return normalize.EncodeJSON(tags)
	case types.KindInt:
		if _, ok := v.(bool); ok {
			return normalize.Int(v)
		}
		return plain(v), nil
	default:
		return plain(v), nil
	}
}

// plain maps values the driver cannot bind to ones it can.
func plain(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(normalize.SQLiteTimeLayout)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(normalize.SQLiteTimeLayout)
	case *int64:
		if x == nil {
			return nil
		}
		return *x
	case types.Status:
		return string(x)
	}
	return v
}
