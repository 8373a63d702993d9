package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() map[string]any {
	return map[string]any{
		"id":    int64(7),
		"char":  "hello",
		"ratio": 0.25,
		"ok":    true,
		"none":  nil,
		"tags":  []any{"a", int64(2)},
		"inner": map[string]any{"k": "v"},
	}
}

func TestRoundTrip_AllCodecs(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, err := Encode(name, sampleTree())
			require.NoError(t, err)

			got, err := Decode(p, nil)
			require.NoError(t, err)
			assert.Equal(t, any(sampleTree()), got)
		})
	}
}

func TestXJSON_Datetimes(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)
	p, err := Encode("x-json", map[string]any{"at": ts, "plain": ts.Truncate(time.Second), "ttl": 1500 * time.Millisecond})
	require.NoError(t, err)

	got, err := Decode(p, nil)
	require.NoError(t, err)
	m := got.(map[string]any)
	assert.Equal(t, "2024-03-01T12:30:00.123Z", m["at"])
	assert.Equal(t, "2024-03-01T12:30:00Z", m["plain"])
	assert.Equal(t, "1.5", m["ttl"])
}

func TestDecode_DisallowedContentType(t *testing.T) {
	p, err := Encode("yaml", []any{"x"})
	require.NoError(t, err)

	_, err = Decode(p, []string{"json", "x-json"})
	assert.ErrorIs(t, err, ErrContentDisallowed)
}

func TestDecode_UnknownContentType(t *testing.T) {
	_, err := Decode(Payload{ContentType: "application/x-python-serialize", Body: []byte("x")}, nil)
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestPayloadValue_BinaryBodyIsBase64(t *testing.T) {
	p, err := Encode("x-protobuf", []any{"ValueError", int64(100500)})
	require.NoError(t, err)

	back, err := PayloadFromValue(p.Value())
	require.NoError(t, err)
	assert.Equal(t, p, back)

	got, err := Decode(back, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"ValueError", int64(100500)}, got)
}

func TestPayloadFromValue_Malformed(t *testing.T) {
	_, err := PayloadFromValue("not a map")
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = PayloadFromValue(map[string]any{"body": "x"})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = PayloadFromValue(map[string]any{"content_type": "application/x-protobuf", "encoding": EncodingBinary, "body": "%%%"})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestCanonical_Ints(t *testing.T) {
	got := Canonical(map[any]any{"a": 1, 2: []any{int32(3), uint8(4)}})
	assert.Equal(t, map[string]any{"a": int64(1), "2": []any{int64(3), int64(4)}}, got)
}
