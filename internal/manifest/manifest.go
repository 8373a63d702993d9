package manifest

// Step is one operation of a pipeline manifest. Name accepts the full task
// name ("taskrpc.filter") or its short form ("filter").
type Step struct {
	Name        string         `yaml:"name"`
	Args        []any          `yaml:"args"`
	Kwargs      map[string]any `yaml:"kwargs"`
	Transformer bool           `yaml:"transformer"`
}

// File is a pipeline manifest run by rpcctl.
type File struct {
	SchemaVersion string `yaml:"schema_version"`
	Name          string `yaml:"name"`

	HighPriority bool `yaml:"high_priority"`
	TimeoutMS    int  `yaml:"timeout_ms"`
	Retries      int  `yaml:"retries"`

	// Ordered list of steps executed atomically by the worker.
	Steps []Step `yaml:"steps"`
}
