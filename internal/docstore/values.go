package docstore

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mesh-intelligence/quire/internal/normalize"
	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// toDoc converts a caller value to the representation stored for f:
// integers as int64, booleans as bool, timestamps as datetimes, images as
// sub-documents and tags as arrays.
func toDoc(f types.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case types.KindInt:
		return normalize.Int(v)
	case types.KindBool:
		return normalize.Bool(v)
	case types.KindTime:
		if s, ok := v.(string); ok && s == "" {
			return nil, nil
		}
		return normalize.Time(v)
	case types.KindImage:
		img, err := normalize.Image(v)
		if err != nil || img == nil {
			return nil, err
		}
		return img, nil
	case types.KindTags:
		return normalize.Tags(v)
	case types.KindText:
		return normalize.Text(v), nil
	}
	return v, nil
}

// operand resolves v for field of in's entity. Unknown fields pass through.
func operand(in *query.Intent, field string, v query.Value) (any, error) {
	if v.Now {
		return now(), nil
	}
	arg := in.Arg(v)
	schema := in.Schema()
	if schema == nil {
		return arg, nil
	}
	f, ok := schema.Field(field)
	if !ok {
		return arg, nil
	}
	return toDoc(f, arg)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Plain converts decoded BSON into plain Go values: documents become
// map[string]any and arrays []any, recursively.
func Plain(v any) any {
	switch x := v.(type) {
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = Plain(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = Plain(e)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = Plain(e)
		}
		return m
	case bson.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Plain(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Plain(e)
		}
		return out
	}
	return v
}

// row converts a decoded document into a raw row without the engine key.
func row(doc bson.M) map[string]any {
	out := Plain(doc).(map[string]any)
	delete(out, "_id")
	return out
}
