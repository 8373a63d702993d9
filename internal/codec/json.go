package codec

import (
	"bytes"
	"encoding/json"
)

type jsonCodec struct{}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) ContentType() string { return "application/json" }
func (jsonCodec) Encoding() string    { return EncodingUTF8 }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte) (any, error) { return decodeJSON(data) }

// xjsonCodec additionally knows how to put datetimes and durations on the
// wire.
type xjsonCodec struct{}

func (xjsonCodec) Name() string        { return "x-json" }
func (xjsonCodec) ContentType() string { return "application/x-json" }
func (xjsonCodec) Encoding() string    { return EncodingUTF8 }

func (xjsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(normalize(v)) }

func (xjsonCodec) Unmarshal(data []byte) (any, error) { return decodeJSON(data) }

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return Canonical(out), nil
}
