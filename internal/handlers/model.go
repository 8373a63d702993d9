package handlers

import (
	"context"
	"errors"
	"maps"

	"taskrpc/internal/operation"
	"taskrpc/internal/store"
)

func init() {
	Register(operation.Filter, newFilter)
	Register(operation.Update, newUpdate)
	Register(operation.GetSet, newGetSet)
	Register(operation.UpdateOrCreate, newUpdateOrCreate)
	Register(operation.Create, newCreate)
	Register(operation.Delete, newDelete)
}

var changeArgs = []string{"model", "data", "fields"}

// target is a model resolved for one call.
type target struct {
	model    string
	pk       string
	identity string
	fields   []string
}

func resolveTarget(env Env, in map[string]any) (*target, error) {
	model, err := requireString(in, "model")
	if err != nil {
		return nil, err
	}
	pk, err := env.Store.PrimaryKey(model)
	if err != nil {
		return nil, err
	}
	identity, err := optionalString(in, "identity")
	if err != nil {
		return nil, err
	}
	if identity == "" {
		identity = pk
	}
	fields, err := optionalStrings(in, "fields")
	if err != nil {
		return nil, err
	}
	return &target{model: model, pk: pk, identity: identity, fields: fields}, nil
}

// identityOf reads the identity field of item, accepting "pk" as an alias.
func (t *target) identityOf(item map[string]any) any {
	if v, ok := item[t.identity]; ok {
		return v
	}
	return item["pk"]
}

func (t *target) record(item map[string]any) store.Record {
	out := maps.Clone(item)
	if t.pk != "pk" {
		delete(out, "pk")
	}
	return out
}

func (t *target) project(rec store.Record) map[string]any {
	if len(t.fields) == 0 {
		return rec
	}
	out := make(map[string]any, len(t.fields))
	for _, f := range t.fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}

/*──────── filter ───────*/

func newFilter(env Env) Handler {
	return func(ctx context.Context, c Call) (any, error) {
		in, err := bind(c, "model", "filters", "offset", "limit", "fields", "exclude", "order_by")
		if err != nil {
			return nil, err
		}
		t, err := resolveTarget(env, in)
		if err != nil {
			return nil, err
		}
		q := store.Query{}
		if q.Filters, err = optionalMap(in, "filters"); err != nil {
			return nil, err
		}
		if q.Exclude, err = optionalMap(in, "exclude"); err != nil {
			return nil, err
		}
		if q.OrderBy, err = optionalStrings(in, "order_by"); err != nil {
			return nil, err
		}
		if q.Offset, err = optionalInt(in, "offset", 0); err != nil {
			return nil, err
		}
		if q.Limit, err = optionalInt(in, "limit", env.FilterLimit); err != nil {
			return nil, err
		}
		if q.Offset < 0 || q.Limit < 0 {
			return nil, ErrInvalidArgument.With("negative offset or limit")
		}
		if q.Limit == 0 {
			return []any{}, nil
		}

		rows, err := env.Store.Filter(ctx, t.model, q)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(rows))
		for i, r := range rows {
			out[i] = t.project(r)
		}
		return out, nil
	}
}

/*──────── changes ───────*/

type itemFunc func(ctx context.Context, t *target, item map[string]any) (any, error)

// change builds a handler applying fn to one map or to every map of a list,
// all inside one atomic scope.
func change(env Env, fn itemFunc) Handler {
	return func(ctx context.Context, c Call) (any, error) {
		in, err := bind(c, changeArgs...)
		if err != nil {
			return nil, err
		}
		t, err := resolveTarget(env, in)
		if err != nil {
			return nil, err
		}
		data, err := requireArg(in, "data")
		if err != nil {
			return nil, err
		}

		var out any
		err = env.Store.Atomic(ctx, func(ctx context.Context) error {
			switch d := data.(type) {
			case map[string]any:
				r, err := fn(ctx, t, d)
				out = r
				return err
			case []any:
				results := make([]any, 0, len(d))
				for _, e := range d {
					item, ok := e.(map[string]any)
					if !ok {
						return ErrInvalidArgument.Errorf("data items must be maps, got %T", e)
					}
					r, err := fn(ctx, t, item)
					if err != nil {
						return err
					}
					results = append(results, r)
				}
				out = results
				return nil
			default:
				return ErrInvalidArgument.Errorf("data must be a map or a list, got %T", data)
			}
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

func updateItem(ctx context.Context, env Env, t *target, item map[string]any) (store.Record, error) {
	return env.Store.Update(ctx, t.model, t.identity, t.identityOf(item), t.record(item))
}

func newUpdate(env Env) Handler {
	return change(env, func(ctx context.Context, t *target, item map[string]any) (any, error) {
		rec, err := updateItem(ctx, env, t, item)
		if err != nil {
			return nil, err
		}
		return t.project(rec), nil
	})
}

// getset updates like update but returns the values the records held
// before the change.
func newGetSet(env Env) Handler {
	return change(env, func(ctx context.Context, t *target, item map[string]any) (any, error) {
		old, err := env.Store.Get(ctx, t.model, t.identity, t.identityOf(item))
		if err != nil {
			return nil, err
		}
		if _, err := updateItem(ctx, env, t, item); err != nil {
			return nil, err
		}
		return t.project(old), nil
	})
}

func newUpdateOrCreate(env Env) Handler {
	return change(env, func(ctx context.Context, t *target, item map[string]any) (any, error) {
		var (
			rec store.Record
			err error
		)
		if id := t.identityOf(item); id != nil {
			rec, err = updateItem(ctx, env, t, item)
		} else {
			err = store.ErrNotFound
		}
		if isNotFound(err) {
			rec, err = env.Store.Create(ctx, t.model, t.record(item))
		}
		if err != nil {
			return nil, err
		}
		return t.project(rec), nil
	})
}

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }

func newCreate(env Env) Handler {
	return change(env, func(ctx context.Context, t *target, item map[string]any) (any, error) {
		rec, err := env.Store.Create(ctx, t.model, t.record(item))
		if err != nil {
			return nil, err
		}
		return t.project(rec), nil
	})
}

// delete returns nil for a single record and an empty list for a list.
func newDelete(env Env) Handler {
	del := change(env, func(ctx context.Context, t *target, item map[string]any) (any, error) {
		return nil, env.Store.Delete(ctx, t.model, t.identity, t.identityOf(item))
	})
	return func(ctx context.Context, c Call) (any, error) {
		out, err := del(ctx, c)
		if err != nil {
			return nil, err
		}
		if _, many := out.([]any); many {
			return []any{}, nil
		}
		return nil, nil
	}
}
