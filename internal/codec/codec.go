// Package codec encodes request and result payloads. Every codec decodes
// into a canonical tree of map[string]any, []any, string, int64, float64,
// bool and nil, so values survive a round trip through any of them.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
)

var (
	ErrUnknownCodec      = errors.New("codec: unknown codec")
	ErrContentDisallowed = errors.New("codec: content type not accepted")
	ErrMalformedPayload  = errors.New("codec: malformed payload")
)

const (
	EncodingUTF8   = "utf-8"
	EncodingBinary = "binary"
)

// Codec is one member of the codec family.
type Codec interface {
	Name() string
	ContentType() string
	Encoding() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// Payload is an opaque blob tagged with the content type and encoding that
// produced it.
type Payload struct {
	ContentType string
	Encoding    string
	Body        []byte
}

/*──────── registry ───────*/

var (
	byName = map[string]Codec{}
	byType = map[string]Codec{}
)

// Register makes c available by name and content type. Call it from init.
func Register(c Codec) {
	byName[c.Name()] = c
	byType[c.ContentType()] = c
}

func Lookup(name string) (Codec, error) {
	if c, ok := byName[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownCodec, name)
}

func ByContentType(ct string) (Codec, error) {
	if c, ok := byType[ct]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w for content type %q", ErrUnknownCodec, ct)
}

// Names lists the registered codec names, sorted.
func Names() []string {
	out := make([]string, 0, len(byName))
	for n := range byName {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func init() {
	Register(jsonCodec{})
	Register(xjsonCodec{})
	Register(yamlCodec{})
	Register(protobufCodec{})
}

/*──────── payload helpers ───────*/

// Encode marshals v with the named codec.
func Encode(name string, v any) (Payload, error) {
	c, err := Lookup(name)
	if err != nil {
		return Payload{}, err
	}
	body, err := c.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("codec %s: %w", name, err)
	}
	return Payload{ContentType: c.ContentType(), Encoding: c.Encoding(), Body: body}, nil
}

// Decode unmarshals p with the codec its content type names. When accept is
// non-empty the codec name must be listed in it.
func Decode(p Payload, accept []string) (any, error) {
	c, err := ByContentType(p.ContentType)
	if err != nil {
		return nil, err
	}
	if len(accept) > 0 && !slices.Contains(accept, c.Name()) {
		return nil, fmt.Errorf("%w: %s", ErrContentDisallowed, c.Name())
	}
	return c.Unmarshal(p.Body)
}

// Value is the wire form of p: a map with a text body for utf-8 payloads and
// a base64 body for binary ones.
func (p Payload) Value() map[string]any {
	body := string(p.Body)
	if p.Encoding == EncodingBinary {
		body = base64.StdEncoding.EncodeToString(p.Body)
	}
	return map[string]any{
		"content_type": p.ContentType,
		"encoding":     p.Encoding,
		"body":         body,
	}
}

// PayloadFromValue is the inverse of Payload.Value.
func PayloadFromValue(v any) (Payload, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Payload{}, fmt.Errorf("%w: want map, got %T", ErrMalformedPayload, v)
	}
	ct, _ := m["content_type"].(string)
	enc, _ := m["encoding"].(string)
	body, ok := m["body"].(string)
	if ct == "" || !ok {
		return Payload{}, fmt.Errorf("%w: missing content_type or body", ErrMalformedPayload)
	}
	p := Payload{ContentType: ct, Encoding: enc, Body: []byte(body)}
	if enc == EncodingBinary {
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		p.Body = raw
	}
	return p, nil
}
