package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "himmi.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("shutdown timeout = %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Database.DSN != "himmi.db" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Admin.Token != "" {
		t.Errorf("admin token should default empty, got %q", cfg.Admin.Token)
	}
	if cfg.Shadow.ModelSlug() != "" {
		t.Errorf("shadow should default off, got %q", cfg.Shadow.ModelSlug())
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_DATABASE_URL", "postgres://himmi:pw@db:5432/himmi")
	t.Setenv("TEST_ADMIN_TOKEN", "tok-123")

	path := writeConfig(t, `
server:
  addr: ":9090"
database:
  dsn: ${TEST_DATABASE_URL}
admin:
  token: ${TEST_ADMIN_TOKEN}
cache:
  redis_url: ${TEST_UNSET_VAR}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Database.DSN != "postgres://himmi:pw@db:5432/himmi" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Admin.Token != "tok-123" {
		t.Errorf("admin token = %q", cfg.Admin.Token)
	}
	// Unset variables are left literal so the failure is visible.
	if cfg.Cache.RedisURL != "${TEST_UNSET_VAR}" {
		t.Errorf("redis url = %q", cfg.Cache.RedisURL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_CatalogSection(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
catalog:
  providers:
    - name: OpenAI
      base_url: https://api.openai.com/v1
  models:
    - slug: gpt-5.2
      name: GPT-5.2
      company: OpenAI
      context_length: 400000
  mappings:
    - model: gpt-5.2
      provider: OpenAI
      input_cost: 1.75
      output_cost: 14.0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Catalog.Providers) != 1 || len(cfg.Catalog.Models) != 1 || len(cfg.Catalog.Mappings) != 1 {
		t.Fatalf("catalog = %+v", cfg.Catalog)
	}
	mp := cfg.Catalog.Mappings[0]
	if mp.Model != "gpt-5.2" || mp.InputCost != 1.75 || mp.OutputCost != 14.0 {
		t.Errorf("mapping = %+v", mp)
	}
}

func TestShadowConfig_ModelSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  ShadowConfig
		want string
	}{
		{"disabled", ShadowConfig{Enabled: false, Model: "grok-4"}, ""},
		{"enabled default model", ShadowConfig{Enabled: true}, "sonar"},
		{"enabled explicit model", ShadowConfig{Enabled: true, Model: "grok-4"}, "grok-4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ModelSlug(); got != tt.want {
				t.Errorf("ModelSlug() = %q, want %q", got, tt.want)
			}
		})
	}
}
