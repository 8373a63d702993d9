package handlers

import (
	"context"
	"maps"

	"taskrpc/internal/operation"
	"taskrpc/internal/remoteerr"
)

func init() {
	Register(operation.Translate, newTranslate)
	Register(operation.Result, newResult)
}

// translate renames keys: every mapping entry result_key -> source_key
// copies data[source_key] to result_key on top of the defaults.
func newTranslate(Env) Handler {
	return func(_ context.Context, c Call) (any, error) {
		in, err := bind(c, "map", "data", "defaults")
		if err != nil {
			return nil, err
		}
		mapping, err := optionalMap(in, "map")
		if err != nil {
			return nil, err
		}
		if mapping == nil {
			return nil, ErrInvalidArgument.With("missing required argument \"map\"")
		}
		defaults, err := optionalMap(in, "defaults")
		if err != nil {
			return nil, err
		}
		data, err := requireArg(in, "data")
		if err != nil {
			return nil, err
		}

		one := func(v any) (map[string]any, error) {
			item, ok := v.(map[string]any)
			if !ok {
				return nil, ErrInvalidArgument.Errorf("translate expects maps, got %T", v)
			}
			out := maps.Clone(defaults)
			if out == nil {
				out = make(map[string]any, len(mapping))
			}
			for resultKey, src := range mapping {
				key, ok := src.(string)
				if !ok {
					return nil, ErrInvalidArgument.Errorf("map values must be strings, got %T", src)
				}
				if val, ok := item[key]; ok {
					out[resultKey] = val
				}
			}
			return out, nil
		}

		list, ok := data.([]any)
		if !ok {
			return one(data)
		}
		out := make([]any, len(list))
		for i, e := range list {
			if out[i], err = one(e); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
}

// result picks one entry of a list. Negative indexes count from the end.
func newResult(Env) Handler {
	return func(_ context.Context, c Call) (any, error) {
		in, err := bind(c, "index", "data")
		if err != nil {
			return nil, err
		}
		raw, err := requireArg(in, "index")
		if err != nil {
			return nil, err
		}
		index, ok := toInt(raw)
		if !ok {
			return nil, ErrInvalidArgument.Errorf("index must be an integer, got %T", raw)
		}
		data, err := requireArg(in, "data")
		if err != nil {
			return nil, err
		}
		list, ok := data.([]any)
		if !ok {
			return nil, ErrInvalidArgument.Errorf("data must be a list, got %T", data)
		}
		if index < 0 {
			index += len(list)
		}
		if index < 0 || index >= len(list) {
			return nil, remoteerr.ErrIndex.With("list index out of range")
		}
		return list[index], nil
	}
}
