package pipeline

import (
	"fmt"
	"strings"

	"taskrpc/internal/codec"
	"taskrpc/internal/config"
	"taskrpc/internal/manifest"
	"taskrpc/internal/operation"
)

const taskPrefix = "taskrpc."

// Compile turns a manifest into the pipeline it describes.
func Compile(f manifest.File) (operation.Pipeline, error) {
	var p operation.Pipeline
	for i, s := range f.Steps {
		name := s.Name
		if !strings.Contains(name, ".") {
			name = taskPrefix + name
		}
		args, ok := codec.Canonical(s.Args).([]any)
		if s.Args != nil && !ok {
			return operation.Pipeline{}, fmt.Errorf("step %d (%s): args must be a list", i, name)
		}
		kwargs, ok := codec.Canonical(s.Kwargs).(map[string]any)
		if s.Kwargs != nil && !ok {
			return operation.Pipeline{}, fmt.Errorf("step %d (%s): kwargs must be a map", i, name)
		}
		p = p.Then(operation.New(name, args, kwargs, operation.Options{Transformer: s.Transformer}))
	}
	return p, nil
}

// CompileFile loads the manifest at path and compiles it.
func CompileFile(path string) (manifest.File, operation.Pipeline, error) {
	f, err := config.LoadManifest(path)
	if err != nil {
		return f, operation.Pipeline{}, err
	}
	p, err := Compile(f)
	return f, p, err
}
