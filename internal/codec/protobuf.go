package codec

import (
	"encoding/json"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// protobufCodec carries the tree as a google.protobuf.Value. Numbers travel
// as doubles, so integral values come back as int64.
type protobufCodec struct{}

func (protobufCodec) Name() string        { return "x-protobuf" }
func (protobufCodec) ContentType() string { return "application/x-protobuf" }
func (protobufCodec) Encoding() string    { return EncodingBinary }

func (protobufCodec) Marshal(v any) ([]byte, error) {
	pv, err := ToValue(v)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(pv)
}

func (protobufCodec) Unmarshal(data []byte) (any, error) {
	var pv structpb.Value
	if err := proto.Unmarshal(data, &pv); err != nil {
		return nil, err
	}
	return FromValue(&pv), nil
}

// ToValue converts an arbitrary tree into a structpb.Value, going through
// JSON first so that structs and typed slices are accepted.
func ToValue(v any) (*structpb.Value, error) {
	raw, err := json.Marshal(normalize(v))
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return structpb.NewValue(tree)
}

// FromValue is the inverse of ToValue.
func FromValue(pv *structpb.Value) any {
	return canonical(pv.AsInterface(), true)
}
