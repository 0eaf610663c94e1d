package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klubi/scout/internal/tools"
	v1alpha1 "github.com/klubi/scout/pkg/apis/v1alpha1"
)

// Model providers.
const (
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

type Config struct {
	Model  ModelConfig  `yaml:"model"`
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Tools  ToolsConfig  `yaml:"tools"`
	Agent  AgentConfig  `yaml:"agent"`
	Log    LogConfig    `yaml:"log"`
}

type ModelConfig struct {
	Provider       string `yaml:"provider"`       // ollama, openai or googleai (default "ollama")
	Name           string `yaml:"name"`           // default "llama3.1"
	Endpoint       string `yaml:"endpoint"`       // server URL; empty means the provider default
	APIKey         string `yaml:"apiKey"`         // openai and googleai; empty means the provider's env var
	RequestTimeout int    `yaml:"requestTimeout"` // seconds per model call (default 300)
}

type ServerConfig struct {
	Port int    `yaml:"port"` // default 7118
	Host string `yaml:"host"` // default "127.0.0.1"
}

type StoreConfig struct {
	DataDir string `yaml:"dataDir"` // default "~/.scout/data"
}

type ToolsConfig struct {
	Binaries    map[string]string `yaml:"binaries"`    // tool name -> executable path
	Timeouts    map[string]int    `yaml:"timeouts"`    // tool name -> seconds
	OutputLimit int               `yaml:"outputLimit"` // bytes of tool output shown to the model (default 4000)
	Wordlist    string            `yaml:"wordlist"`    // gobuster wordlist suggested to the model
}

type AgentConfig struct {
	DefaultMode string `yaml:"defaultMode"` // default "normal"
	Stream      bool   `yaml:"stream"`      // stream tool output live (default true)
}

type LogConfig struct {
	Level  string `yaml:"level"`  // default "info"
	Format string `yaml:"format"` // default "console"
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:       ProviderOllama,
			Name:           "llama3.1",
			RequestTimeout: 300,
		},
		Server: ServerConfig{
			Port: 7118,
			Host: "127.0.0.1",
		},
		Store: StoreConfig{
			DataDir: filepath.Join(homeDir(), "data"),
		},
		Tools: ToolsConfig{
			OutputLimit: tools.DefaultOutputLimit,
		},
		Agent: AgentConfig{
			DefaultMode: string(v1alpha1.ModeNormal),
			Stream:      true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath is where Load looks for a config file when none is given.
func DefaultPath() string {
	return filepath.Join(homeDir(), "config.yaml")
}

// Load builds the effective configuration: defaults, then the YAML file at
// path, then environment overrides. An empty path means DefaultPath, which
// may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("SCOUT_MODEL_PROVIDER"); ok {
		c.Model.Provider = v
	}
	if v, ok := get("SCOUT_MODEL"); ok {
		c.Model.Name = v
	}
	if v, ok := get("SCOUT_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("SCOUT_DATA_DIR"); ok {
		c.Store.DataDir = v
	}
	if v, ok := get("SCOUT_OUTPUT_LIMIT"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Tools.OutputLimit = n
		}
	}
}

// Validate checks the configuration for values no component can use.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderGoogleAI:
	default:
		return fmt.Errorf("unknown model provider %q (valid: ollama, openai, googleai)", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model name must not be empty")
	}
	if c.Model.RequestTimeout < 0 {
		return fmt.Errorf("model.requestTimeout must be >= 0, got %d", c.Model.RequestTimeout)
	}
	if c.Tools.OutputLimit <= 0 {
		return fmt.Errorf("tools.outputLimit must be > 0, got %d", c.Tools.OutputLimit)
	}
	for name, secs := range c.Tools.Timeouts {
		if secs <= 0 {
			return fmt.Errorf("tools.timeouts.%s must be > 0, got %d", name, secs)
		}
	}
	if _, err := v1alpha1.ParseMode(c.Agent.DefaultMode); err != nil {
		return fmt.Errorf("agent.defaultMode: %w", err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ServerAddress returns the listen address in "host:port" format.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DBPath returns the full path to the BoltDB file (DataDir + "/scout.db").
func (c *Config) DBPath() string {
	return filepath.Join(c.Store.DataDir, "scout.db")
}

// ToolTimeouts converts the configured per-tool timeouts to durations.
func (c *Config) ToolTimeouts() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Tools.Timeouts))
	for name, secs := range c.Tools.Timeouts {
		out[name] = time.Duration(secs) * time.Second
	}
	return out
}

// RequestTimeout returns the per-call model timeout; zero means none.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Model.RequestTimeout) * time.Second
}

// DefaultOllamaEndpoint is used when neither the config nor OLLAMA_HOST
// names an ollama server.
const DefaultOllamaEndpoint = "http://localhost:11434"

// ResolvedEndpoint returns the configured endpoint or the provider default.
// For ollama the default honours OLLAMA_HOST.
func (m ModelConfig) ResolvedEndpoint() string {
	if m.Endpoint != "" {
		return m.Endpoint
	}
	if m.Provider != ProviderOllama {
		return ""
	}
	host := strings.TrimSpace(os.Getenv("OLLAMA_HOST"))
	if host == "" {
		return DefaultOllamaEndpoint
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return host
}

// ResolvedAPIKey returns the configured key, falling back to
// OPENAI_API_KEY or GEMINI_API_KEY for the matching provider.
func (m ModelConfig) ResolvedAPIKey() string {
	if m.APIKey != "" {
		return m.APIKey
	}
	switch m.Provider {
	case ProviderOpenAI:
		return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	case ProviderGoogleAI:
		return strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	}
	return ""
}

// homeDir resolves the scout home directory.
// It uses os.UserHomeDir() + "/.scout", falling back to "/tmp/scout"
// if the home directory cannot be determined.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "scout")
	}
	return filepath.Join(home, ".scout")
}
