package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("XDG_CONFIG_HOME", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8377, cfg.ExecutionServer.Port)
	assert.True(t, cfg.Compaction.Enabled)
	assert.Equal(t, 10, cfg.Compaction.Threshold)
	assert.Equal(t, []string{"Planner", "CodeInterpreter"}, cfg.Session.Roles)
}

func TestLoadProjectOverridesGlobal(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("XDG_CONFIG_HOME", "")

	globalDir := filepath.Join(tmpHome, ".config", "execorch")
	require.NoError(t, os.MkdirAll(globalDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "execorch.jsonc"), []byte(`{
		// global defaults
		"compaction": {"threshold": 20}
	}`), 0644))

	project := t.TempDir()
	projectDir := filepath.Join(project, ".execorch")
	require.NoError(t, os.MkdirAll(projectDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "execorch.jsonc"), []byte(`{
		"compaction": {"threshold": 5},
		"execution_server": {"auto_start": true}
	}`), 0644))

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Compaction.Threshold)
	assert.True(t, cfg.ExecutionServer.AutoStart)
}

func TestEnvOverridesWinOverFiles(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("EXECORCH_SERVER_URL", "http://127.0.0.1:9999")
	t.Setenv("EXECORCH_COMPACTION_THRESHOLD", "42")

	project := t.TempDir()
	projectDir := filepath.Join(project, ".execorch")
	require.NoError(t, os.MkdirAll(projectDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "execorch.jsonc"), []byte(`{
		"execution_server": {"url": "http://file-configured:8000"},
		"compaction": {"threshold": 3}
	}`), 0644))

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:9999", cfg.ExecutionServer.URL)
	assert.Equal(t, 42, cfg.Compaction.Threshold)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.ExecutionServer.URL = "http://example.invalid"

	path := filepath.Join(t.TempDir(), "execorch.json")
	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "example.invalid")
}
