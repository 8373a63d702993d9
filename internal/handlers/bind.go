package handlers

import "math"

// bind maps positional arguments onto names and merges keyword arguments,
// the way a keyword-capable call site would.
func bind(c Call, names ...string) (map[string]any, error) {
	if len(c.Args) > len(names) {
		return nil, ErrInvalidArgument.Errorf("takes at most %d positional arguments, got %d", len(names), len(c.Args))
	}
	out := make(map[string]any, len(names)+len(c.Kwargs))
	for i, v := range c.Args {
		out[names[i]] = v
	}
	for k, v := range c.Kwargs {
		if _, dup := out[k]; dup {
			return nil, ErrInvalidArgument.Errorf("got multiple values for argument %q", k)
		}
		out[k] = v
	}
	return out, nil
}

func requireString(in map[string]any, name string) (string, error) {
	v, ok := in[name]
	if !ok {
		return "", ErrInvalidArgument.Errorf("missing required argument %q", name)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", ErrInvalidArgument.Errorf("%q must be a non-empty string, got %T", name, v)
	}
	return s, nil
}

func requireArg(in map[string]any, name string) (any, error) {
	v, ok := in[name]
	if !ok {
		return nil, ErrInvalidArgument.Errorf("missing required argument %q", name)
	}
	return v, nil
}

func optionalString(in map[string]any, name string) (string, error) {
	v, ok := in[name]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrInvalidArgument.Errorf("%q must be a string, got %T", name, v)
	}
	return s, nil
}

func optionalMap(in map[string]any, name string) (map[string]any, error) {
	v, ok := in[name]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrInvalidArgument.Errorf("%q must be a map, got %T", name, v)
	}
	return m, nil
}

func optionalInt(in map[string]any, name string, def int) (int, error) {
	v, ok := in[name]
	if !ok || v == nil {
		return def, nil
	}
	n, ok := toInt(v)
	if !ok {
		return 0, ErrInvalidArgument.Errorf("%q must be an integer, got %v", name, v)
	}
	return n, nil
}

// optionalStrings accepts a single string or a list of strings.
func optionalStrings(in map[string]any, name string) ([]string, error) {
	v, ok := in[name]
	if !ok || v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case string:
		return []string{x}, nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, ErrInvalidArgument.Errorf("%q must hold strings, got %T", name, e)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, ErrInvalidArgument.Errorf("%q must be a string or a list, got %T", name, v)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
