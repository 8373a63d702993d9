package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskrpc/internal/operation"
	"taskrpc/internal/remoteerr"
	"taskrpc/internal/store"
)

func newEnv(t *testing.T) (*Registry, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	s.RegisterModel("books", "id")
	ctx := context.Background()
	for _, title := range []string{"Dune", "Emma", "Beloved"} {
		_, err := s.Create(ctx, "books", store.Record{"title": title})
		require.NoError(t, err)
	}
	fns := NewFunctions()
	fns.Register("echo", func(_ context.Context, args []any, kwargs map[string]any) (any, error) {
		return []any{args, kwargs}, nil
	})
	return NewRegistry(Env{Store: s, Functions: fns, FilterLimit: 2}), s
}

func invoke(t *testing.T, r *Registry, name string, args []any, kwargs map[string]any) (any, error) {
	t.Helper()
	h, err := r.Lookup(name)
	require.NoError(t, err)
	return h(context.Background(), Call{Args: args, Kwargs: kwargs})
}

func TestLookup_Unknown(t *testing.T) {
	r, _ := newEnv(t)
	_, err := r.Lookup("taskrpc.nope")
	assert.ErrorIs(t, err, ErrOperationNotFound)
	assert.ErrorIs(t, err, remoteerr.ErrKey)
}

func TestNames_IncludesDataOperations(t *testing.T) {
	r, _ := newEnv(t)
	for _, name := range []string{
		operation.Filter, operation.Create, operation.Update, operation.UpdateOrCreate,
		operation.GetSet, operation.Delete, operation.Call, operation.Translate, operation.Result,
	} {
		assert.Contains(t, r.Names(), name)
	}
}

func TestFilter(t *testing.T) {
	r, _ := newEnv(t)

	got, err := invoke(t, r, operation.Filter, []any{"books"}, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2, "configured filter limit applies")

	got, err = invoke(t, r, operation.Filter, []any{"books"}, map[string]any{
		"filters":  map[string]any{"id__gte": int64(2)},
		"order_by": "-id",
		"fields":   []any{"title"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"title": "Beloved"},
		map[string]any{"title": "Emma"},
	}, got)

	got, err = invoke(t, r, operation.Filter, []any{"books"}, map[string]any{"limit": int64(0)})
	require.NoError(t, err)
	assert.Equal(t, []any{}, got)

	_, err = invoke(t, r, operation.Filter, []any{"ghosts"}, nil)
	assert.ErrorIs(t, err, store.ErrModelNotFound)

	_, err = invoke(t, r, operation.Filter, []any{"books"}, map[string]any{"offset": "x"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUpdate_MapAndList(t *testing.T) {
	r, s := newEnv(t)

	got, err := invoke(t, r, operation.Update, []any{"books", map[string]any{"id": int64(1), "year": 1965}}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(1), "title": "Dune", "year": int64(1965)}, got)

	got, err = invoke(t, r, operation.Update, []any{"books", []any{
		map[string]any{"pk": int64(2), "year": 1815},
		map[string]any{"id": int64(3), "year": 1987},
	}}, map[string]any{"fields": []any{"id", "year"}})
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"id": int64(2), "year": int64(1815)},
		map[string]any{"id": int64(3), "year": int64(1987)},
	}, got)

	rec, err := s.Get(context.Background(), "books", "id", int64(2))
	require.NoError(t, err)
	assert.NotContains(t, rec, "pk")
}

func TestUpdate_ListIsAtomic(t *testing.T) {
	r, s := newEnv(t)
	_, err := invoke(t, r, operation.Update, []any{"books", []any{
		map[string]any{"id": int64(1), "title": "changed"},
		map[string]any{"id": int64(99), "title": "missing"},
	}}, nil)
	require.ErrorIs(t, err, store.ErrNotFound)

	rec, err := s.Get(context.Background(), "books", "id", int64(1))
	require.NoError(t, err)
	assert.Equal(t, "Dune", rec["title"])
}

func TestUpdate_IdentityKwarg(t *testing.T) {
	r, _ := newEnv(t)
	got, err := invoke(t, r, operation.Update, []any{"books", map[string]any{"title": "Emma", "year": 1815}},
		map[string]any{"identity": "title"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.(map[string]any)["id"])
}

func TestUpdate_RejectsScalarData(t *testing.T) {
	r, _ := newEnv(t)
	_, err := invoke(t, r, operation.Update, []any{"books", "nope"}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, remoteerr.ErrType)
}

func TestGetSet_ReturnsOldValues(t *testing.T) {
	r, s := newEnv(t)
	got, err := invoke(t, r, operation.GetSet, []any{"books", map[string]any{"id": int64(1), "title": "Dune Messiah"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Dune", got.(map[string]any)["title"])

	rec, err := s.Get(context.Background(), "books", "id", int64(1))
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", rec["title"])
}

func TestUpdateOrCreate(t *testing.T) {
	r, _ := newEnv(t)
	got, err := invoke(t, r, operation.UpdateOrCreate, []any{"books", map[string]any{"id": int64(1), "year": 1965}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Dune", got.(map[string]any)["title"])

	got, err = invoke(t, r, operation.UpdateOrCreate, []any{"books", []any{
		map[string]any{"id": int64(50), "title": "Kim"},
		map[string]any{"title": "Walden"},
	}}, nil)
	require.NoError(t, err)
	list := got.([]any)
	require.Len(t, list, 2)
	assert.Equal(t, int64(50), list[0].(map[string]any)["id"])
	assert.Equal(t, int64(51), list[1].(map[string]any)["id"])
}

func TestCreate(t *testing.T) {
	r, _ := newEnv(t)
	got, err := invoke(t, r, operation.Create, []any{"books", map[string]any{"title": "Kim"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(4), "title": "Kim"}, got)

	got, err = invoke(t, r, operation.Create, []any{"books", []any{map[string]any{"title": "A"}, map[string]any{"title": "B"}}}, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDelete(t *testing.T) {
	r, s := newEnv(t)
	ctx := context.Background()

	got, err := invoke(t, r, operation.Delete, []any{"books", map[string]any{"id": int64(1)}}, nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = invoke(t, r, operation.Delete, []any{"books", []any{map[string]any{"id": int64(2)}, map[string]any{"pk": int64(3)}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{}, got)

	rows, err := s.Filter(ctx, "books", store.Query{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = invoke(t, r, operation.Delete, []any{"books", map[string]any{"id": int64(1)}}, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCall(t *testing.T) {
	r, _ := newEnv(t)

	got, err := invoke(t, r, operation.Call, []any{"echo", []any{int64(1)}, map[string]any{"k": "v"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{int64(1)}, map[string]any{"k": "v"}}, got)

	got, err = invoke(t, r, operation.Call, []any{"echo", nil, nil}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{}, map[string]any{}}, got)

	_, err = invoke(t, r, operation.Call, []any{"missing", nil, nil}, nil)
	assert.ErrorIs(t, err, ErrFunctionNotFound)

	_, err = invoke(t, r, operation.Call, []any{"echo", "x", nil}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = invoke(t, r, operation.Call, []any{"echo", nil, []any{}}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTranslate(t *testing.T) {
	r, _ := newEnv(t)
	mapping := map[string]any{"name": "title", "missing": "nope"}

	got, err := invoke(t, r, operation.Translate, []any{mapping, map[string]any{"title": "Dune", "id": int64(1)}},
		map[string]any{"defaults": map[string]any{"kind": "book"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Dune", "kind": "book"}, got)

	got, err = invoke(t, r, operation.Translate, []any{mapping, []any{map[string]any{"title": "A"}, map[string]any{}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"name": "A"}, map[string]any{}}, got)
}

func TestResult(t *testing.T) {
	r, _ := newEnv(t)
	data := []any{"a", "b", "c"}

	got, err := invoke(t, r, operation.Result, []any{int64(1), data}, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", got)

	got, err = invoke(t, r, operation.Result, []any{-1, data}, nil)
	require.NoError(t, err)
	assert.Equal(t, "c", got)

	_, err = invoke(t, r, operation.Result, []any{int64(3), data}, nil)
	assert.ErrorIs(t, err, remoteerr.ErrIndex)
}

func TestBind(t *testing.T) {
	_, err := bind(Call{Args: []any{1, 2, 3}}, "a", "b")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = bind(Call{Args: []any{1}, Kwargs: map[string]any{"a": 2}}, "a", "b")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	in, err := bind(Call{Args: []any{1}, Kwargs: map[string]any{"b": 2}}, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, in)
}
