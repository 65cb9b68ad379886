package chargegate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":9090"
redis:
  addr: "localhost:6379"
  db: 3
observability:
  log_level: debug
  prometheus_path: /metrics
buckets:
  api_requests:
    rate: 10
    size: 100
  jobs:
    key: "jobs:acme"
    rate: 0.5
    size: 25
routes:
  /api/search:
    bucket: api_requests
    cost: 2
`)

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile() unexpected error: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 3 {
		t.Errorf("Redis = %+v, want addr localhost:6379 db 3", cfg.Redis)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Observability.LogLevel)
	}

	// an unset key defaults to the bucket's name
	b, ok := cfg.Bucket("api_requests")
	if !ok {
		t.Fatal("Bucket(api_requests) not found")
	}
	if diff := cmp.Diff(Bucket{Key: "api_requests", Rate: 10, Size: 100}, b); diff != "" {
		t.Errorf("api_requests mismatch (-want +got):\n%s", diff)
	}

	b, ok = cfg.Bucket("jobs")
	if !ok {
		t.Fatal("Bucket(jobs) not found")
	}
	if diff := cmp.Diff(Bucket{Key: "jobs:acme", Rate: 0.5, Size: 25}, b); diff != "" {
		t.Errorf("jobs mismatch (-want +got):\n%s", diff)
	}

	if _, ok := cfg.Bucket("nope"); ok {
		t.Error("Bucket(nope) found, want missing")
	}
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("LoadConfigFromFile() error = %v, want %v", err, ErrInvalidConfig)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name: "valid",
			content: `
buckets:
  a:
    rate: 1
    size: 10
`,
		},
		{
			name: "zero rate is legal",
			content: `
buckets:
  a:
    rate: 0
    size: 10
`,
		},
		{
			name: "negative rate",
			content: `
buckets:
  a:
    rate: -1
    size: 10
`,
			wantErr: true,
		},
		{
			name: "zero size",
			content: `
buckets:
  a:
    rate: 1
    size: 0
`,
			wantErr: true,
		},
		{
			name: "route references unknown bucket",
			content: `
buckets:
  a:
    rate: 1
    size: 10
routes:
  /x:
    bucket: missing
    cost: 1
`,
			wantErr: true,
		},
		{
			name: "route without cost",
			content: `
buckets:
  a:
    rate: 1
    size: 10
routes:
  /x:
    bucket: a
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFromFile(writeConfigFile(t, tt.content))
			if tt.wantErr && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("LoadConfigFromFile() error = %v, want %v", err, ErrInvalidConfig)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("LoadConfigFromFile() unexpected error: %v", err)
			}
		})
	}
}
