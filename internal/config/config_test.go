package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("ELC_REQUIRE_MASTER", "false")

	path := filepath.Join(t.TempDir(), "eventlog.yaml")
	content := []byte(`
address: "127.0.0.1:1113"
resolve_link_tos: true
require_master: true
heartbeat:
  interval: 500ms
  timeout: 5s
reconnection:
  max_attempts: 10
  delay_min: 250ms
  delay_max: 10s
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.RequireMaster {
		t.Fatalf("expected env override to disable require_master")
	}
	if cfg.Address != "127.0.0.1:1113" {
		t.Fatalf("unexpected address: %q", cfg.Address)
	}
	if !cfg.ResolveLinkTos {
		t.Fatalf("expected resolve_link_tos to be true")
	}
	if cfg.Heartbeat.Interval != 500*time.Millisecond {
		t.Fatalf("unexpected heartbeat interval: %v", cfg.Heartbeat.Interval)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventlog.yaml")
	content := []byte(`address: "127.0.0.1:1113"`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	want := Default()
	if cfg.Operation.MaxRetries != want.Operation.MaxRetries {
		t.Fatalf("unexpected default max retries: %d", cfg.Operation.MaxRetries)
	}
	if cfg.ReadBatchSize != want.ReadBatchSize {
		t.Fatalf("unexpected default read batch size: %d", cfg.ReadBatchSize)
	}
	if cfg.Backpressure.High != want.Backpressure.High {
		t.Fatalf("unexpected default backpressure high watermark: %d", cfg.Backpressure.High)
	}
}

func TestValidateRequiresAddressWithoutCluster(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing address")
	}
	cfg.Cluster.Enabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected cluster-enabled config to validate without an address: %v", err)
	}
}

func TestValidateBackpressureOrdering(t *testing.T) {
	cfg := Default()
	cfg.Address = "127.0.0.1:1113"
	cfg.Backpressure.High = cfg.Backpressure.Low - 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for inverted watermarks")
	}
}

func TestLoadAppliesBackupS3Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventlog.yaml")
	content := []byte(`
address: "127.0.0.1:1113"
backup:
  s3:
    enabled: true
    bucket: "event-archive"
    prefix: "backups/"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if !cfg.Backup.S3.Enabled || cfg.Backup.S3.Bucket != "event-archive" {
		t.Fatalf("unexpected backup config: %+v", cfg.Backup.S3)
	}
	if cfg.Backup.S3.BatchSize != 500 {
		t.Fatalf("expected default batch size to apply, got %d", cfg.Backup.S3.BatchSize)
	}
	if cfg.Backup.S3.FlushInterval != 30*time.Second {
		t.Fatalf("expected default flush interval to apply, got %v", cfg.Backup.S3.FlushInterval)
	}
}
