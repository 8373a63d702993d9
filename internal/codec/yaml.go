package codec

import "gopkg.in/yaml.v3"

type yamlCodec struct{}

func (yamlCodec) Name() string        { return "yaml" }
func (yamlCodec) ContentType() string { return "application/x-yaml" }
func (yamlCodec) Encoding() string    { return EncodingUTF8 }

func (yamlCodec) Marshal(v any) ([]byte, error) { return yaml.Marshal(normalize(v)) }

func (yamlCodec) Unmarshal(data []byte) (any, error) {
	var out any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return Canonical(out), nil
}
