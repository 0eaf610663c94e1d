package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points HOME at a temp dir and clears scout env vars so the
// developer's own configuration never leaks into a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"SCOUT_MODEL_PROVIDER", "SCOUT_MODEL", "SCOUT_LOG_LEVEL", "SCOUT_DATA_DIR",
		"SCOUT_OUTPUT_LIMIT", "OLLAMA_HOST", "OPENAI_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(k, "")
	}
	return home
}

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Model.Provider != ProviderOllama || cfg.Model.Name != "llama3.1" {
		t.Errorf("unexpected model defaults %+v", cfg.Model)
	}
	if cfg.Tools.OutputLimit != 4000 {
		t.Errorf("expected output limit 4000, got %d", cfg.Tools.OutputLimit)
	}
	if !cfg.Agent.Stream {
		t.Error("expected streaming on by default")
	}
	if want := filepath.Join(home, ".scout", "data", "scout.db"); cfg.DBPath() != want {
		t.Errorf("expected db path %s, got %s", want, cfg.DBPath())
	}
	if cfg.ServerAddress() != "127.0.0.1:7118" {
		t.Errorf("unexpected server address %s", cfg.ServerAddress())
	}
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := writeFile(t, t.TempDir(), `
model:
  provider: openai
  name: gpt-4o-mini
  endpoint: https://llm.internal/v1
tools:
  binaries:
    nmap: /opt/nmap/bin/nmap
  timeouts:
    nikto: 60
  outputLimit: 8000
agent:
  stream: false
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Model.Provider != ProviderOpenAI || cfg.Model.Name != "gpt-4o-mini" {
		t.Errorf("unexpected model %+v", cfg.Model)
	}
	if cfg.Model.ResolvedEndpoint() != "https://llm.internal/v1" {
		t.Errorf("unexpected endpoint %s", cfg.Model.ResolvedEndpoint())
	}
	if cfg.Tools.Binaries["nmap"] != "/opt/nmap/bin/nmap" {
		t.Errorf("unexpected binaries %v", cfg.Tools.Binaries)
	}
	if cfg.ToolTimeouts()["nikto"] != time.Minute {
		t.Errorf("expected nikto timeout 1m, got %s", cfg.ToolTimeouts()["nikto"])
	}
	if cfg.Tools.OutputLimit != 8000 || cfg.Agent.Stream || cfg.Log.Level != "debug" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	// Unset fields keep their defaults.
	if cfg.Model.RequestTimeout != 300 {
		t.Errorf("expected default request timeout, got %d", cfg.Model.RequestTimeout)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	isolate(t)
	path := writeFile(t, t.TempDir(), "model:\n  name: from-file\n")
	t.Setenv("SCOUT_MODEL", "from-env")
	t.Setenv("SCOUT_LOG_LEVEL", "warn")
	t.Setenv("SCOUT_OUTPUT_LIMIT", "1234")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Model.Name != "from-env" {
		t.Errorf("expected env model, got %s", cfg.Model.Name)
	}
	if cfg.Log.Level != "warn" || cfg.Tools.OutputLimit != 1234 {
		t.Errorf("env not applied: level=%s limit=%d", cfg.Log.Level, cfg.Tools.OutputLimit)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "bad yaml", doc: "model: [unclosed"},
		{name: "unknown provider", doc: "model:\n  provider: claude\n"},
		{name: "zero output limit", doc: "tools:\n  outputLimit: -1\n"},
		{name: "zero timeout", doc: "tools:\n  timeouts:\n    nmap: 0\n"},
		{name: "bad mode", doc: "agent:\n  defaultMode: turbo\n"},
		{name: "bad level", doc: "log:\n  level: loud\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			if _, err := Load(writeFile(t, t.TempDir(), tc.doc)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestResolvedEndpoint(t *testing.T) {
	isolate(t)
	m := ModelConfig{Provider: ProviderOllama}
	if got := m.ResolvedEndpoint(); got != DefaultOllamaEndpoint {
		t.Errorf("expected default endpoint, got %s", got)
	}

	t.Setenv("OLLAMA_HOST", "10.0.0.2:11434")
	if got := m.ResolvedEndpoint(); got != "http://10.0.0.2:11434" {
		t.Errorf("expected OLLAMA_HOST endpoint, got %s", got)
	}

	m.Provider = ProviderOpenAI
	if got := m.ResolvedEndpoint(); got != "" {
		t.Errorf("expected empty endpoint for openai, got %s", got)
	}
}

func TestResolvedAPIKey(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("GEMINI_API_KEY", "gm-env")

	if got := (ModelConfig{Provider: ProviderOpenAI}).ResolvedAPIKey(); got != "sk-env" {
		t.Errorf("expected openai env key, got %q", got)
	}
	if got := (ModelConfig{Provider: ProviderGoogleAI}).ResolvedAPIKey(); got != "gm-env" {
		t.Errorf("expected gemini env key, got %q", got)
	}
	if got := (ModelConfig{Provider: ProviderOpenAI, APIKey: "sk-file"}).ResolvedAPIKey(); got != "sk-file" {
		t.Errorf("expected configured key to win, got %q", got)
	}
	if got := (ModelConfig{Provider: ProviderOllama}).ResolvedAPIKey(); got != "" {
		t.Errorf("expected no key for ollama, got %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"console", "json", ""} {
		logger, err := NewLogger(LogConfig{Level: "debug", Format: format})
		if err != nil {
			t.Fatalf("format %q: unexpected error: %v", format, err)
		}
		if !logger.Core().Enabled(-1) {
			t.Errorf("format %q: expected debug level enabled", format)
		}
	}
	if _, err := NewLogger(LogConfig{Level: "info", Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := NewLogger(LogConfig{Level: "chatty"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
