package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// SQLiteTimeLayout is the text layout timestamps are stored in on SQLite,
// matching what CURRENT_TIMESTAMP produces.
const SQLiteTimeLayout = "2006-01-02 15:04:05"

var timeLayouts = []string{
	SQLiteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Int converts a stored integer. Booleans map to 0/1.
func Int(v any) (int64, error) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case []byte:
		v = string(n)
	case string:
		v = strings.TrimSpace(n)
	}
	if n, ok := query.ToInt(v); ok {
		return n, nil
	}
	return 0, fmt.Errorf("%w: %v (%T) is not an integer", types.ErrInvalidValue, v, v)
}

// Bool converts a stored boolean. SQLite stores booleans as 0/1.
func Bool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case []byte:
		return Bool(string(b))
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("%w: %q is not a boolean", types.ErrInvalidValue, b)
		}
		return parsed, nil
	}
	n, err := Int(v)
	if err != nil {
		return false, fmt.Errorf("%w: %v (%T) is not a boolean", types.ErrInvalidValue, v, v)
	}
	return n != 0, nil
}

// timeValuer matches driver datetime types that expose the instant, such as
// bson.DateTime.
type timeValuer interface {
	Time() time.Time
}

// Time converts a stored timestamp to UTC with second precision.
func Time(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Truncate(time.Second), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("%w: nil time", types.ErrInvalidValue)
		}
		return Time(*t)
	case timeValuer:
		return Time(t.Time())
	case []byte:
		return Time(string(t))
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC().Truncate(time.Second), nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: unrecognized timestamp %q", types.ErrInvalidValue, s)
	case int64:
		return time.Unix(t, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %v (%T) is not a timestamp", types.ErrInvalidValue, v, v)
}

// Text converts a stored string.
func Text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}

// Image converts a stored featured image. Strings holding JSON are decoded;
// any other non-empty string is taken as the image URL. Empty values
// resolve to nil.
func Image(v any) (*types.FeaturedImage, error) {
	switch img := v.(type) {
	case nil:
		return nil, nil
	case *types.FeaturedImage:
		return img, nil
	case types.FeaturedImage:
		return &img, nil
	case []byte:
		return Image(string(img))
	case string:
		s := strings.TrimSpace(img)
		if s == "" || s == "null" {
			return nil, nil
		}
		if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, `"`) {
			return &types.FeaturedImage{URL: s}, nil
		}
		var out types.FeaturedImage
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("%w: featured image: %v", types.ErrInvalidValue, err)
		}
		if out == (types.FeaturedImage{}) {
			return nil, nil
		}
		return &out, nil
	case map[string]any:
		data, err := json.Marshal(img)
		if err != nil {
			return nil, fmt.Errorf("%w: featured image: %v", types.ErrInvalidValue, err)
		}
		return Image(string(data))
	}
	return nil, fmt.Errorf("%w: %T is not a featured image", types.ErrInvalidValue, v)
}

// Tags converts stored tags. JSON arrays are decoded; any other string is
// split on commas.
func Tags(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return append([]string{}, t...), nil
	case types.Tags:
		return append([]string{}, t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, Text(e))
		}
		return out, nil
	case []byte:
		return Tags(string(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" || s == "null" {
			return []string{}, nil
		}
		if strings.HasPrefix(s, "[") {
			var out []string
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil, fmt.Errorf("%w: tags: %v", types.ErrInvalidValue, err)
			}
			if out == nil {
				out = []string{}
			}
			return out, nil
		}
		out := []string{}
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T is not a tag list", types.ErrInvalidValue, v)
}

// EncodeJSON renders a decoded image or tag list as JSON text. A nil image
// encodes to nil so the column stays NULL.
func EncodeJSON(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *types.FeaturedImage:
		if x == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidValue, err)
	}
	return string(data), nil
}
