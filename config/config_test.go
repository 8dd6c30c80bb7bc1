package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type watchSection struct {
	WaitTime time.Duration `mapstructure:"wait_time"`
}

type discoverySection struct {
	Provider string       `mapstructure:"provider"`
	MaxRetry int          `mapstructure:"max_retry"`
	Watch    watchSection `mapstructure:"watch"`
}

type testConfig struct {
	ServiceConfig `yaml:",inline" mapstructure:",squash"`
	Discovery     discoverySection `mapstructure:"discovery"`
}

func TestServiceConfigApplyDefaults(t *testing.T) {
	cfg := ServiceConfig{Name: "catalogwatch"}
	cfg.ApplyDefaults()
	if cfg.Environment != "development" || !cfg.Debug {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Logging.ServiceName != "catalogwatch" {
		t.Errorf("expected service name propagated to logging, got %q", cfg.Logging.ServiceName)
	}
}

func TestServiceConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServiceConfig
		wantErr string
	}{
		{"missing name", ServiceConfig{Environment: "production"}, "config.name is required"},
		{"bad environment", ServiceConfig{Name: "svc", Environment: "qa"}, "config.environment must be one of"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.Logging.ApplyDefaults()
			err := tc.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want %q", err, tc.wantErr)
			}
		})
	}

	ok := ServiceConfig{Name: "svc"}
	ok.ApplyDefaults()
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
name: catalogwatch
environment: staging
discovery:
  provider: consul
  max_retry: 2
  watch:
    wait_time: 90s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var cfg testConfig
	if err := LoadConfig("catalogwatch", &cfg, WithConfigFile(path)); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Name != "catalogwatch" || cfg.Environment != "staging" {
		t.Errorf("base fields not loaded: %+v", cfg.ServiceConfig)
	}
	if cfg.Discovery.Provider != "consul" || cfg.Discovery.MaxRetry != 2 {
		t.Errorf("discovery not loaded: %+v", cfg.Discovery)
	}
	if cfg.Discovery.Watch.WaitTime != 90*time.Second {
		t.Errorf("wait_time = %v", cfg.Discovery.Watch.WaitTime)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("discovery:\n  max_retry: 2\n  watch:\n    wait_time: 90s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DISCOVERY_MAX_RETRY", "7")
	t.Setenv("DISCOVERY_WATCH_WAIT_TIME", "2m")

	var cfg testConfig
	if err := LoadConfig("catalogwatch", &cfg, WithConfigFile(path)); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Discovery.MaxRetry != 7 {
		t.Errorf("max_retry = %d, want 7", cfg.Discovery.MaxRetry)
	}
	if cfg.Discovery.Watch.WaitTime != 2*time.Minute {
		t.Errorf("wait_time = %v, want 2m", cfg.Discovery.Watch.WaitTime)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	var cfg testConfig
	if err := LoadConfig("nonexistent", &cfg, WithConfigFile("/nonexistent/config.yml")); err != nil {
		t.Fatalf("expected success with missing file, got %v", err)
	}
}

type mockFS struct {
	files map[string]bool
	envs  []string
}

func (m *mockFS) Exists(path string) bool { return m.files[path] }
func (m *mockFS) LoadEnv(path string) error {
	m.envs = append(m.envs, path)
	return nil
}

func TestLoadConfigResolvesEnvFile(t *testing.T) {
	fs := &mockFS{files: map[string]bool{"./cmd/agent/.env": true}}
	var cfg testConfig
	if err := LoadConfig("agent", &cfg, WithFileSystem(fs)); err != nil {
		t.Fatal(err)
	}
	if len(fs.envs) != 1 || fs.envs[0] != "./cmd/agent/.env" {
		t.Errorf("expected env file to be loaded, got %v", fs.envs)
	}
}

func TestEnvKeyVariants(t *testing.T) {
	variants := envKeyVariants("DISCOVERY_WATCH_WAIT_TIME")
	want := map[string]bool{
		"discovery.watch.wait_time": false,
		"discovery.watch_wait_time": false,
		"discovery_watch_wait_time": false,
	}
	for _, v := range variants {
		if _, ok := want[v]; ok {
			want[v] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("missing variant %q in %v", k, variants)
		}
	}
}
