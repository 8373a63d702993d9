package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ECMA-262 date time string format, milliseconds only.
const (
	ecmaLayout   = "2006-01-02T15:04:05Z07:00"
	ecmaLayoutMS = "2006-01-02T15:04:05.000Z07:00"
)

// FormatTime renders t the way x-json puts datetimes on the wire.
func FormatTime(t time.Time) string {
	if t.Nanosecond() != 0 {
		return t.Format(ecmaLayoutMS)
	}
	return t.Format(ecmaLayout)
}

// FormatDuration renders d as total seconds.
func FormatDuration(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// normalize rewrites the values x-json knows about before handing the tree
// to encoding/json.
func normalize(v any) any {
	switch x := v.(type) {
	case time.Time:
		return FormatTime(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return FormatTime(*x)
	case time.Duration:
		return FormatDuration(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

// Canonical converts a decoded tree into the canonical value set.
func Canonical(v any) any {
	return canonical(v, false)
}

func canonical(v any, integralFloats bool) any {
	switch x := v.(type) {
	case nil, string, bool, int64:
		return x
	case float64:
		if integralFloats && x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case float32:
		return canonical(float64(x), integralFloats)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case time.Time:
		return FormatTime(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = canonical(e, integralFloats)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = canonical(e, integralFloats)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = canonical(e, integralFloats)
		}
		return out
	default:
		return x
	}
}
