package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig                 `json:"app" yaml:"app"`
	Server    ServerConfig              `json:"server" yaml:"server"`
	Client    ClientConfig              `json:"client" yaml:"client"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Policy    PolicyConfig              `json:"policy" yaml:"policy"`
	Journal   JournalConfig             `json:"journal" yaml:"journal"`
}

type AppConfig struct {
	Name      string `json:"name" yaml:"name"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
	LLMLog    string `json:"llm_log" yaml:"llm_log"`
	Prompts   string `json:"prompts" yaml:"prompts"`
}

type ServerConfig struct {
	Addr  string `json:"addr" yaml:"addr"`
	Debug bool   `json:"debug" yaml:"debug"`
}

type ClientConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
}

type ProviderConfig struct {
	APIKey      string  `json:"api_key" yaml:"api_key"`
	Model       string  `json:"model" yaml:"model"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
}

type PolicyConfig struct {
	MaxTaskLength int      `json:"max_task_length" yaml:"max_task_length"`
	MaxCompleted  int      `json:"max_completed" yaml:"max_completed"`
	DenyPatterns  []string `json:"deny_patterns" yaml:"deny_patterns"`
}

type JournalConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:      "makeprogress",
			LogLevel:  "info",
			LogFormat: "text",
			LLMLog:    filepath.Join("logs", "llm.jsonl"),
		},
		Server:    ServerConfig{Addr: ":8000"},
		Client:    ClientConfig{BaseURL: "http://localhost:8000"},
		Providers: map[string]ProviderConfig{},
		Policy:    PolicyConfig{MaxTaskLength: 500, MaxCompleted: 50},
		Journal:   JournalConfig{Enabled: true, Path: "makeprogress.db"},
	}
}

// LoadConfig reads path over the defaults and then applies the
// environment. JSON is the default format; .yaml and .yml files are read
// as YAML. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to open config file: %w", err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file: %w", err)
			}
		}
	}

	// .env is optional
	_ = godotenv.Load()
	cfg.applyEnv()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func (c *Config) applyEnv() {
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p := c.Providers["openai"]
		p.APIKey = key
		p.Enabled = true
		c.Providers["openai"] = p
	}
	if p, ok := c.Providers["openai"]; ok {
		if v := os.Getenv("OPENAI_MODEL"); v != "" {
			p.Model = v
		}
		if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
			p.BaseURL = v
		}
		c.Providers["openai"] = p
	}
	if v := os.Getenv("MAKEPROGRESS_SERVER_URL"); v != "" {
		c.Client.BaseURL = v
	}
	if v := os.Getenv("MAKEPROGRESS_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

// GetDefaultProvider returns the first enabled provider by name.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// Validate checks what the planning service needs to start.
func (p ProviderConfig) Validate() error {
	if p.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if p.Model == "" {
		return errors.New("OPENAI_MODEL is required")
	}
	return nil
}
