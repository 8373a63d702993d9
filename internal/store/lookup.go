package store

import (
	"fmt"
	"reflect"
	"strings"
)

const lookupSep = "__"

func splitLookup(key string) (field, op string) {
	if i := strings.LastIndex(key, lookupSep); i > 0 {
		switch op := key[i+len(lookupSep):]; op {
		case "exact", "in", "gt", "gte", "lt", "lte", "contains", "icontains", "startswith", "isnull":
			return key[:i], op
		}
	}
	return key, "exact"
}

// matchAll reports whether row satisfies every lookup in conds.
func matchAll(row Record, pk string, conds map[string]any) (bool, error) {
	for key, want := range conds {
		field, op := splitLookup(key)
		if field == "pk" {
			field = pk
		}
		ok, err := match(row[field], op, want)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func match(got any, op string, want any) (bool, error) {
	switch op {
	case "exact":
		return equal(got, want), nil
	case "in":
		items, ok := want.([]any)
		if !ok {
			return false, ErrField.Errorf("__in expects a list, got %T", want)
		}
		for _, it := range items {
			if equal(got, it) {
				return true, nil
			}
		}
		return false, nil
	case "gt", "gte", "lt", "lte":
		c, ok := compare(got, want)
		if !ok {
			return false, nil
		}
		switch op {
		case "gt":
			return c > 0, nil
		case "gte":
			return c >= 0, nil
		case "lt":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case "contains", "icontains", "startswith":
		s, ok1 := got.(string)
		sub, ok2 := want.(string)
		if !ok1 || !ok2 {
			return false, nil
		}
		switch op {
		case "contains":
			return strings.Contains(s, sub), nil
		case "icontains":
			return strings.Contains(strings.ToLower(s), strings.ToLower(sub)), nil
		default:
			return strings.HasPrefix(s, sub), nil
		}
	case "isnull":
		b, ok := want.(bool)
		if !ok {
			return false, ErrField.Errorf("__isnull expects a bool, got %T", want)
		}
		return (got == nil) == b, nil
	}
	return false, ErrField.Errorf("unsupported lookup %q", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func equal(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// compare orders numbers with numbers and strings with strings; nil sorts
// before everything.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, true
		case a == nil:
			return -1, true
		default:
			return 1, true
		}
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok1 := a.(string)
	sb, ok2 := b.(string)
	if ok1 && ok2 {
		return strings.Compare(sa, sb), true
	}
	ba, ok1 := a.(bool)
	bb, ok2 := b.(bool)
	if ok1 && ok2 {
		switch {
		case ba == bb:
			return 0, true
		case !ba:
			return -1, true
		}
		return 1, true
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b)), true
}
