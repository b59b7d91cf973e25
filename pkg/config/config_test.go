package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL", "MAKEPROGRESS_SERVER_URL", "MAKEPROGRESS_ADDR"} {
		t.Setenv(k, "")
	}
	// keep a developer's .env out of the test
	t.Chdir(t.TempDir())
}

func TestLoadConfigMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadConfigJSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"addr": ":9000"},
		"providers": {"openai": {"api_key": "k", "model": "m", "enabled": true}},
		"policy": {"deny_patterns": ["secret"]}
	}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.App.LogLevel, "unset fields keep defaults")
	assert.Equal(t, 500, cfg.Policy.MaxTaskLength)
	assert.Equal(t, []string{"secret"}, cfg.Policy.DenyPatterns)

	name, p := cfg.GetDefaultProvider()
	assert.Equal(t, "openai", name)
	assert.NoError(t, p.Validate())
}

func TestLoadConfigYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
client:
  base_url: http://planner:8000
journal:
  enabled: false
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://planner:8000", cfg.Client.BaseURL)
	assert.False(t, cfg.Journal.Enabled)
}

func TestLoadConfigBadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-test")
	t.Setenv("OPENAI_BASE_URL", "http://llm.local/v1")
	t.Setenv("MAKEPROGRESS_SERVER_URL", "http://remote:8000")
	t.Setenv("MAKEPROGRESS_ADDR", ":7000")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ProviderConfig{
		APIKey:  "sk-test",
		Model:   "gpt-test",
		BaseURL: "http://llm.local/v1",
		Enabled: true,
	}, cfg.Providers["openai"])
	assert.Equal(t, "http://remote:8000", cfg.Client.BaseURL)
	assert.Equal(t, ":7000", cfg.Server.Addr)
}

func TestGetDefaultProviderOrder(t *testing.T) {
	cfg := &Config{Providers: map[string]ProviderConfig{
		"zeta":   {Enabled: true},
		"alpha":  {Enabled: false},
		"beta":   {Enabled: true},
		"gamma":  {Enabled: true},
		"openai": {Enabled: true},
	}}
	for i := 0; i < 10; i++ {
		name, _ := cfg.GetDefaultProvider()
		assert.Equal(t, "beta", name)
	}

	name, _ := (&Config{}).GetDefaultProvider()
	assert.Empty(t, name)
}

func TestProviderValidate(t *testing.T) {
	assert.EqualError(t, ProviderConfig{Model: "m"}.Validate(), "OPENAI_API_KEY is required")
	assert.EqualError(t, ProviderConfig{APIKey: "k"}.Validate(), "OPENAI_MODEL is required")
}
