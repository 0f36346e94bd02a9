package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSetDefaults(t *testing.T) {
	cfg := &Config{
		Providers: []ToolProviderConfig{
			{Name: "ga4", Command: "ga4-server"},
			{Name: "hubspot", Label: "HubSpot", URL: "https://example.com/mcp"},
		},
	}
	cfg.SetDefaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Stream.QueueSize != 256 {
		t.Errorf("default queue size = %d, want 256", cfg.Stream.QueueSize)
	}
	if cfg.Stream.IdleInterval != 20*time.Second {
		t.Errorf("default idle interval = %v, want 20s", cfg.Stream.IdleInterval)
	}
	if cfg.Questions.Timeout != 300*time.Second {
		t.Errorf("default question timeout = %v, want 300s", cfg.Questions.Timeout)
	}
	if cfg.Memory.Strategy != "trimming" {
		t.Errorf("default memory strategy = %q, want trimming", cfg.Memory.Strategy)
	}

	if cfg.Providers[0].Label != "ga4" {
		t.Errorf("provider label should default to name, got %q", cfg.Providers[0].Label)
	}
	if cfg.Providers[0].Type != "stdio" {
		t.Errorf("provider with command should default to stdio, got %q", cfg.Providers[0].Type)
	}
	if cfg.Providers[1].Type != "http" {
		t.Errorf("provider with url should default to http, got %q", cfg.Providers[1].Type)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 99999 },
			wantErr: true,
		},
		{
			name:    "unknown memory strategy",
			mutate:  func(c *Config) { c.Memory.Strategy = "forgetting" },
			wantErr: true,
		},
		{
			name:    "translation enabled without url",
			mutate:  func(c *Config) { c.Translate.Enabled = true },
			wantErr: true,
		},
		{
			name: "provider missing name",
			mutate: func(c *Config) {
				c.Providers = append(c.Providers, ToolProviderConfig{Type: "stdio", Command: "x"})
			},
			wantErr: true,
		},
		{
			name: "duplicate provider name",
			mutate: func(c *Config) {
				c.Providers = append(c.Providers, c.Providers[0])
			},
			wantErr: true,
		},
		{
			name: "stdio provider without command",
			mutate: func(c *Config) {
				c.Providers[0].Command = ""
			},
			wantErr: true,
		},
		{
			name: "http provider without url",
			mutate: func(c *Config) {
				c.Providers = append(c.Providers, ToolProviderConfig{Name: "crm", Type: "http"})
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Providers: []ToolProviderConfig{
					{Name: "ga4", Label: "GA4", Type: "stdio", Command: "ga4-server"},
				},
			}
			cfg.SetDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	os.Setenv("TEST_RELAY_TOKEN", "secret-token")
	defer os.Unsetenv("TEST_RELAY_TOKEN")

	yaml := `
server:
  port: 9090
logging:
  level: debug
memory:
  strategy: summarizing
  threshold: 40
questions:
  timeout: 60s
providers:
  - name: ga4
    label: GA4
    command: ga4-server
    env:
      API_TOKEN: ${TEST_RELAY_TOKEN}
  - name: hubspot
    label: HubSpot
    url: https://example.com/mcp
    headers:
      Authorization: Bearer ${TEST_RELAY_TOKEN:-fallback}
`

	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, loader, err := LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	defer loader.Close()

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Memory.Strategy != "summarizing" || cfg.Memory.Threshold != 40 {
		t.Errorf("memory config = %+v", cfg.Memory)
	}
	if cfg.Questions.Timeout != 60*time.Second {
		t.Errorf("question timeout = %v, want 60s", cfg.Questions.Timeout)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(cfg.Providers))
	}
	if cfg.Providers[0].Env["API_TOKEN"] != "secret-token" {
		t.Errorf("env expansion failed: %q", cfg.Providers[0].Env["API_TOKEN"])
	}
	if cfg.Providers[1].Headers["Authorization"] != "Bearer secret-token" {
		t.Errorf("env expansion with default failed: %q", cfg.Providers[1].Headers["Authorization"])
	}

	labels := cfg.ProviderLabels()
	if labels["ga4"] != "GA4" || labels["hubspot"] != "HubSpot" {
		t.Errorf("provider labels = %v", labels)
	}
}

func TestLoaderReloadSemantics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("server:\n  port: 9090\n")

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	defer loader.Close()

	if _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}

	// Touching the file without changing its bytes must not count as a
	// change.
	write("server:\n  port: 9090\n")
	if _, changed, err := loader.load(false); err != nil || changed {
		t.Errorf("identical rewrite: changed=%v err=%v, want false/nil", changed, err)
	}

	// An edit that fails validation is rejected.
	write("server:\n  port: -1\n")
	if _, _, err := loader.load(false); err == nil {
		t.Error("invalid edit should be rejected")
	}

	// Fixing the file afterwards must be seen as a change.
	write("server:\n  port: 9191\n")
	cfg, changed, err := loader.load(false)
	if err != nil || !changed {
		t.Fatalf("fixed edit: changed=%v err=%v, want true/nil", changed, err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Server.Port)
	}
}

func TestLoaderWatchReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 1)
	loader, err := NewLoader(path, WithOnChange(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	}))
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	defer loader.Close()

	if _, err := loader.Load(context.Background()); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchDone := make(chan error, 1)
	go func() { watchDone <- loader.Watch(ctx) }()

	// Give the watcher a moment to establish before editing.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Server.Port != 9191 {
			t.Errorf("reloaded port = %d, want 9191", cfg.Server.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	select {
	case <-watchDone:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}

func TestLoadFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: -1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := LoadFile(context.Background(), path); err == nil {
		t.Error("expected validation error for negative port")
	}
}
