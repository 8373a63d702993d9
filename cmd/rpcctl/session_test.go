package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	cases := map[string]any{
		"7":       int64(7),
		"2.5":     2.5,
		"dune":    "dune",
		"true":    true,
		"[a, 1]":  []any{"a", int64(1)},
		"{id: 7}": map[string]any{"id": int64(7)},
		`"007"`:   "007",
	}
	for in, want := range cases {
		got, err := parseValue(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseMap(t *testing.T) {
	m, err := parseMap("")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = parseMap("{id__gte: 7, title: Dune}")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id__gte": int64(7), "title": "Dune"}, m)

	_, err = parseMap("[1, 2]")
	assert.Error(t, err)
}

func TestParseKwargs(t *testing.T) {
	kw, err := parseKwargs([]string{"limit=3", "name=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"limit": int64(3), "name": "a=b"}, kw)

	_, err = parseKwargs([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseKwargs([]string{"=x"})
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	output = "json"
	var buf bytes.Buffer
	require.NoError(t, render(&buf, []any{map[string]any{"id": int64(7)}}))
	assert.Equal(t, "[{\"id\":7}]\n", buf.String())

	output = "yaml"
	buf.Reset()
	require.NoError(t, render(&buf, map[string]any{"id": int64(7)}))
	assert.Equal(t, "id: 7\n", buf.String())

	output = "xml"
	assert.Error(t, render(&buf, 1))
	output = "json"
}
