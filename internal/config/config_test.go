package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nlsql/nlsql/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Database.JournalMode != "WAL" {
		t.Errorf("expected journal_mode WAL, got %q", cfg.Database.JournalMode)
	}
	if cfg.Upload.SampleRows != 5 {
		t.Errorf("expected sample_rows 5, got %d", cfg.Upload.SampleRows)
	}
	if cfg.Images.SimilarityThreshold != 0.95 {
		t.Errorf("expected similarity_threshold 0.95, got %v", cfg.Images.SimilarityThreshold)
	}
	if cfg.Images.MaxFileSize != 10<<20 {
		t.Errorf("expected 10MB image limit, got %d", cfg.Images.MaxFileSize)
	}
	if cfg.Images.DefaultFolder != "default" {
		t.Errorf("expected default folder 'default', got %q", cfg.Images.DefaultFolder)
	}
	if cfg.LLM.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("expected api_key_env OPENAI_API_KEY, got %q", cfg.LLM.APIKeyEnv)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("Load should return defaults for non-existent file, got error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config for non-existent file")
	}
}

func TestLoadValidFile(t *testing.T) {
	t.Setenv("NLSQL_DB_PATH", "")
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	yamlContent := `
server:
  port: 9090
  read_timeout: 5s
database:
  path: /tmp/nlsql-test/test.db
  journal_mode: DELETE
llm:
  model: gpt-4o
  base_url: http://localhost:11434/v1
history:
  enabled: false
logging:
  format: json
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("expected read_timeout 5s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Database.Path != "/tmp/nlsql-test/test.db" {
		t.Errorf("expected database path from file, got %q", cfg.Database.Path)
	}
	if cfg.LLM.Model != "gpt-4o" || cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("llm section not loaded: %+v", cfg.LLM)
	}
	if cfg.History.Enabled {
		t.Error("expected history disabled")
	}
	// Unset keys keep their defaults.
	if cfg.Upload.BatchSize != 500 {
		t.Errorf("expected default batch_size, got %d", cfg.Upload.BatchSize)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NLSQL_DB_PATH", "/env/data.db")
	t.Setenv("NLSQL_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != "/env/data.db" {
		t.Errorf("expected env database path, got %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env log level, got %q", cfg.Logging.Level)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(configPath)
	if !errors.IsKind(err, errors.KindConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero upload size", func(c *Config) { c.Upload.MaxFileSize = 0 }},
		{"zero batch", func(c *Config) { c.Upload.BatchSize = 0 }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "carrier-pigeon" }},
		{"threshold above one", func(c *Config) { c.Images.SimilarityThreshold = 1.5 }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.IsKind(err, errors.KindConfig) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	t.Setenv("NLSQL_DB_PATH", "")
	dir := t.TempDir()
	configPath := filepath.Join(dir, "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "saved.db")
	cfg.Server.Port = 8123
	cfg.Server.WriteTimeout = 90 * time.Second

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.Port != 8123 || loaded.Server.WriteTimeout != 90*time.Second {
		t.Errorf("server section did not survive: %+v", loaded.Server)
	}
	if loaded.Database.Path != cfg.Database.Path {
		t.Errorf("database path = %q", loaded.Database.Path)
	}
}

func TestGetConfigPathEnv(t *testing.T) {
	t.Setenv("NLSQL_CONFIG", "/custom/nlsql.yaml")
	if got := GetConfigPath(); got != "/custom/nlsql.yaml" {
		t.Errorf("GetConfigPath() = %q", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := expandPath("~/data"); got != filepath.Join(home, "data") {
		t.Errorf("expandPath(~/data) = %q", got)
	}
	if got := expandPath("/abs"); got != "/abs" {
		t.Errorf("expandPath(/abs) = %q", got)
	}
	if got := expandPath(""); got != "" {
		t.Errorf("expandPath(\"\") = %q", got)
	}
}

func TestAPIKey(t *testing.T) {
	t.Setenv("TEST_NLSQL_KEY", "sk-test")
	c := LLMConfig{APIKeyEnv: "TEST_NLSQL_KEY"}
	if c.APIKey() != "sk-test" {
		t.Errorf("APIKey() = %q", c.APIKey())
	}
	if (LLMConfig{}).APIKey() != "" {
		t.Error("empty env name should yield empty key")
	}
	if !strings.Contains(ServerConfig{Host: "0.0.0.0", Port: 80}.Addr(), ":80") {
		t.Error("Addr() missing port")
	}
}
