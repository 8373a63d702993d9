package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClientName != "taskrpc_client" || cfg.Queue != "taskrpc.requests" || cfg.RoutingKey != "taskrpc" {
		t.Fatalf("unexpected naming defaults: %+v", cfg)
	}
	if cfg.ResultTimeout != 10*time.Second {
		t.Fatalf("want 10s result timeout, got %v", cfg.ResultTimeout)
	}
	if cfg.FilterLimit != 1000 || cfg.WrapRemoteErrors {
		t.Fatalf("unexpected defaults: limit=%d wrap=%v", cfg.FilterLimit, cfg.WrapRemoteErrors)
	}
	if cfg.HighPriorityQueue() != "taskrpc.requests.high_priority" {
		t.Fatalf("high priority queue: %s", cfg.HighPriorityQueue())
	}
	if cfg.HighPriorityRoutingKey() != "taskrpc.high_priority" {
		t.Fatalf("high priority routing key: %s", cfg.HighPriorityRoutingKey())
	}
	if cfg.Transport != TransportMemory || cfg.Kafka.CommitMode != CommitAuto {
		t.Fatalf("transport defaults: %+v", cfg)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`schema_version: v1
client_name: billing
result_timeout: 3s
wrap_remote_errors: true
transport: kafka
kafka:
  brokers: [localhost:9092]
  commit_mode: e2e
models:
  - name: invoices
    pk: number
`)
	path := filepath.Join(dir, "taskrpc.yml")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TASKRPC__KAFKA__GROUP_ID", "billing-workers")
	t.Setenv("TASKRPC__FILTER_LIMIT", "50")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClientName != "billing" || cfg.ResultTimeout != 3*time.Second || !cfg.WrapRemoteErrors {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Kafka.GroupID != "billing-workers" {
		t.Fatalf("env override not applied, group_id=%q", cfg.Kafka.GroupID)
	}
	if cfg.FilterLimit != 50 {
		t.Fatalf("env override not applied, filter_limit=%d", cfg.FilterLimit)
	}
	if cfg.Kafka.CommitMode != CommitE2E {
		t.Fatalf("want e2e commit mode, got %s", cfg.Kafka.CommitMode)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].PK != "number" {
		t.Fatalf("models: %+v", cfg.Models)
	}
}

func TestLoad_InvalidSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskrpc.yml")
	if err := os.WriteFile(path, []byte("schema_version: v999\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid schema_version")
	}
}

func TestLoad_KafkaNeedsBrokers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskrpc.yml")
	if err := os.WriteFile(path, []byte("transport: kafka\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for kafka transport without brokers")
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`schema_version: v1
name: purge-seven
high_priority: true
steps:
  - name: filter
    args: [books]
    kwargs:
      filters: {id: 7}
  - name: taskrpc.delete
    args: [books]
    transformer: true
`)
	path := filepath.Join(dir, "pipeline.yml")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	f, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(f.Steps) != 2 || !f.Steps[1].Transformer || !f.HighPriority {
		t.Fatalf("unexpected manifest: %+v", f)
	}

	bad := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(bad, []byte("schema_version: v2\nsteps: []\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := LoadManifest(bad); err == nil {
		t.Fatal("expected error for invalid schema_version")
	}
}
