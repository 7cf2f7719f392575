package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "forge", config.Service.Name)
	assert.Equal(t, 5, config.Jobs.MaxConcurrent)
	assert.Equal(t, "/dataset_finetune", config.Finetune.RemoteRoot)
	assert.Equal(t, 26379, config.Deploy.RayPort)
	assert.Equal(t, 8000, config.Deploy.VLLMPort)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.toml")
	content := `
[service]
locale = "zh"

[jobs]
max_concurrent = 2

[finetune]
watch_interval_seconds = 30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "zh", config.Service.Locale)
	assert.Equal(t, 2, config.Jobs.MaxConcurrent)
	assert.Equal(t, 30, config.Finetune.WatchInterval)
	// untouched sections keep their defaults
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, 10, config.Finetune.MaxConnectFailures)
}

func TestLoadConfig_FirstExistingPathWins(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.toml")
	second := filepath.Join(dir, "second.toml")
	require.NoError(t, os.WriteFile(first, []byte("[service]\nname = \"one\"\n"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("[service]\nname = \"two\"\n"), 0o644))

	config, err := LoadConfig(filepath.Join(dir, "missing.toml"), first, second)
	require.NoError(t, err)
	assert.Equal(t, "one", config.Service.Name)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FORGE_LOCALE", "zh")
	t.Setenv("FORGE_MAX_CONCURRENT_JOBS", "9")

	config, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "zh", config.Service.Locale)
	assert.Equal(t, 9, config.Jobs.MaxConcurrent)
}

func TestLoadConfig_RejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
