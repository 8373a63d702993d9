package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"taskrpc/internal/manifest"
)

// LoadManifest parses a pipeline manifest and validates schema_version.
func LoadManifest(path string) (manifest.File, error) {
	var f manifest.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, err
	}
	if f.SchemaVersion == "" {
		f.SchemaVersion = SupportedSchema
	}
	if f.SchemaVersion != SupportedSchema {
		return f, fmt.Errorf("manifest schema_version %q not supported (want %q)", f.SchemaVersion, SupportedSchema)
	}
	for i, s := range f.Steps {
		if s.Name == "" {
			return f, fmt.Errorf("manifest step %d has no name", i)
		}
	}
	return f, nil
}
