package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "TASKRPC__"

	highPrioritySuffix = ".high_priority"
)

type Transport string

const (
	TransportMemory Transport = "memory"
	TransportKafka  Transport = "kafka"
	TransportGRPC   Transport = "grpc"
)

type CommitMode string

const (
	CommitAuto CommitMode = "auto" // commit on consume
	CommitE2E  CommitMode = "e2e"  // commit once the result is published
)

type BackPressure struct {
	Capacity int64         `koanf:"capacity"`       // max unresolved requests
	CheckInt time.Duration `koanf:"check_interval"` // refill tick
}

type Checkpoint struct {
	CommitInt time.Duration `koanf:"commit_interval"` // flush cadence
}

type Kafka struct {
	Brokers      []string `koanf:"brokers"`
	GroupID      string   `koanf:"group_id"`
	ResultsTopic string   `koanf:"results_topic"`
	StartFrom    string   `koanf:"start_from"` // oldest|newest (default newest)
	Version      string   `koanf:"version"`
	TLSEn        bool     `koanf:"tls_enabled"`
	SASLUser     string   `koanf:"sasl_user"`
	SASLPass     string   `koanf:"sasl_pass"`

	CommitMode   CommitMode   `koanf:"commit_mode"` // auto|e2e
	BackPressure BackPressure `koanf:"backpressure"`
	Checkpoint   Checkpoint   `koanf:"checkpoint"`
}

type GRPC struct {
	// Address is where the worker listens and where clients dial.
	Address string `koanf:"address"`
}

type Worker struct {
	Concurrency int `koanf:"concurrency"`
}

// Model declares a model of the worker's in-memory store.
type Model struct {
	Name   string   `koanf:"name"`
	PK     string   `koanf:"pk"`
	Fields []string `koanf:"fields"`
}

type Log struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type Config struct {
	SchemaVersion string `koanf:"schema_version"`

	ClientName       string        `koanf:"client_name"`
	Queue            string        `koanf:"queue"`
	RoutingKey       string        `koanf:"routing_key"`
	ResultTimeout    time.Duration `koanf:"result_timeout"`
	Retries          int           `koanf:"retries"`
	FilterLimit      int           `koanf:"filter_limit"`
	WrapRemoteErrors bool          `koanf:"wrap_remote_errors"`
	TaskSerializer   string        `koanf:"task_serializer"`
	ResultSerializer string        `koanf:"result_serializer"`
	AcceptContent    []string      `koanf:"accept_content"`

	Transport   Transport `koanf:"transport"`
	Worker      Worker    `koanf:"worker"`
	Kafka       Kafka     `koanf:"kafka"`
	GRPC        GRPC      `koanf:"grpc"`
	Models      []Model   `koanf:"models"`
	MetricsPort int       `koanf:"metrics_port"`
	Log         Log       `koanf:"log"`
}

// HighPriorityQueue is the queue high priority requests are routed to.
func (c Config) HighPriorityQueue() string { return c.Queue + highPrioritySuffix }

func (c Config) HighPriorityRoutingKey() string { return c.RoutingKey + highPrioritySuffix }

// Queues lists the queues a worker consumes, high priority first.
func (c Config) Queues() []string { return []string{c.HighPriorityQueue(), c.Queue} }

// Load merges YAML (if present) with env-vars
// (prefix `TASKRPC__`, delimiter `__`, e.g. TASKRPC__KAFKA__GROUP_ID).
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Config{}, fmt.Errorf("config schema_version %q not supported (want %s)", sv, SupportedSchema)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Default returns the configuration used when no file and no env is set.
func Default() Config {
	var c Config
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Config) {
	if c.SchemaVersion == "" {
		c.SchemaVersion = SupportedSchema
	}
	if c.ClientName == "" {
		c.ClientName = "taskrpc_client"
	}
	if c.Queue == "" {
		c.Queue = "taskrpc.requests"
	}
	if c.RoutingKey == "" {
		c.RoutingKey = "taskrpc"
	}
	if c.ResultTimeout == 0 {
		c.ResultTimeout = 10 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 1
	}
	if c.FilterLimit == 0 {
		c.FilterLimit = 1000
	}
	if c.TaskSerializer == "" {
		c.TaskSerializer = "x-json"
	}
	if c.ResultSerializer == "" {
		c.ResultSerializer = "x-json"
	}
	if len(c.AcceptContent) == 0 {
		c.AcceptContent = []string{"json", "x-json", "x-protobuf", "yaml"}
	}
	if c.Transport == "" {
		c.Transport = TransportMemory
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 4
	}
	if c.GRPC.Address == "" {
		c.GRPC.Address = "localhost:7070"
	}

	k := &c.Kafka
	if k.ResultsTopic == "" {
		k.ResultsTopic = "taskrpc.results"
	}
	if k.GroupID == "" {
		k.GroupID = "taskrpc-workers"
	}
	if k.BackPressure.Capacity == 0 {
		k.BackPressure.Capacity = 30_000
	}
	if k.BackPressure.CheckInt == 0 {
		k.BackPressure.CheckInt = 100 * time.Millisecond
	}
	if k.Checkpoint.CommitInt == 0 {
		k.Checkpoint.CommitInt = 5 * time.Second
	}
	if k.CommitMode != CommitAuto && k.CommitMode != CommitE2E {
		k.CommitMode = CommitAuto
	}
	if k.StartFrom == "" {
		k.StartFrom = "newest"
	}
}

func (c Config) Validate() error {
	switch c.Transport {
	case TransportMemory, TransportGRPC:
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("config: kafka transport needs kafka.brokers")
		}
	default:
		return fmt.Errorf("config: unsupported transport %q", c.Transport)
	}
	for _, m := range c.Models {
		if m.Name == "" {
			return errors.New("config: model without a name")
		}
	}
	return nil
}
