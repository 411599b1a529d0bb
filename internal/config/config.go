package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/jsonc"

	"github.com/agentcore/execorch/pkg/types"
)

// Load loads configuration from multiple sources, in priority order:
//  1. Global config (~/.config/execorch/)
//  2. Project config (<directory>/.execorch/)
//  3. Environment variables
func Load(directory string) (*types.Config, error) {
	config := defaultConfig()

	loadConfigFile(GlobalConfigPath(), config)

	if directory != "" {
		loadConfigFile(ProjectConfigPath(directory), config)
	}

	applyEnvOverrides(config)

	return config, nil
}

func defaultConfig() *types.Config {
	return &types.Config{
		ExecutionServer: types.ExecutionServerConfig{
			Host:           "127.0.0.1",
			Port:           8377,
			TimeoutSeconds: 30,
		},
		Compaction: types.CompactionConfig{
			Enabled:      true,
			Threshold:    10,
			RetainRecent: 3,
		},
		Session: types.SessionConfig{
			Roles: []string{"Planner", "CodeInterpreter"},
		},
		CodeInterpreter: types.CodeInterpreterConfig{
			RequireConfirmation: false,
			MaxRetryCount:       3,
		},
		Roles: make(map[string]types.RoleConfig),
	}
}

// loadConfigFile reads one JSONC file, if present, and merges it into config.
func loadConfigFile(path string, config *types.Config) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // absent config files are not an error
	}

	data = jsonc.ToJSON(data)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return
	}

	mergeConfig(config, &fileConfig)
}

// mergeConfig overlays non-zero fields of source onto target.
func mergeConfig(target, source *types.Config) {
	if source.ExecutionServer.URL != "" {
		target.ExecutionServer.URL = source.ExecutionServer.URL
	}
	if source.ExecutionServer.APIKey != "" {
		target.ExecutionServer.APIKey = source.ExecutionServer.APIKey
	}
	if source.ExecutionServer.AutoStart {
		target.ExecutionServer.AutoStart = true
	}
	if source.ExecutionServer.Container {
		target.ExecutionServer.Container = true
	}
	if source.ExecutionServer.ContainerImage != "" {
		target.ExecutionServer.ContainerImage = source.ExecutionServer.ContainerImage
	}
	if source.ExecutionServer.Host != "" {
		target.ExecutionServer.Host = source.ExecutionServer.Host
	}
	if source.ExecutionServer.Port != 0 {
		target.ExecutionServer.Port = source.ExecutionServer.Port
	}
	if source.ExecutionServer.TimeoutSeconds != 0 {
		target.ExecutionServer.TimeoutSeconds = source.ExecutionServer.TimeoutSeconds
	}

	if source.Compaction.Threshold != 0 {
		target.Compaction.Threshold = source.Compaction.Threshold
	}
	if source.Compaction.RetainRecent != 0 {
		target.Compaction.RetainRecent = source.Compaction.RetainRecent
	}
	target.Compaction.Enabled = source.Compaction.Enabled || target.Compaction.Enabled

	if len(source.Session.Roles) > 0 {
		target.Session.Roles = source.Session.Roles
	}

	if source.CodeInterpreter.MaxRetryCount != 0 {
		target.CodeInterpreter.MaxRetryCount = source.CodeInterpreter.MaxRetryCount
	}
	target.CodeInterpreter.RequireConfirmation = source.CodeInterpreter.RequireConfirmation || target.CodeInterpreter.RequireConfirmation

	if source.Roles != nil {
		if target.Roles == nil {
			target.Roles = make(map[string]types.RoleConfig)
		}
		for name, cfg := range source.Roles {
			target.Roles[name] = cfg
		}
	}
}

// applyEnvOverrides layers environment variables over the merged config,
// the highest-priority source.
func applyEnvOverrides(config *types.Config) {
	if v := os.Getenv("EXECORCH_SERVER_URL"); v != "" {
		config.ExecutionServer.URL = v
	}
	if v := os.Getenv("EXECORCH_SERVER_API_KEY"); v != "" {
		config.ExecutionServer.APIKey = v
	}
	if v := os.Getenv("EXECORCH_SERVER_AUTO_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.ExecutionServer.AutoStart = b
		}
	}
	if v := os.Getenv("EXECORCH_COMPACTION_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Compaction.Threshold = n
		}
	}
}

// Save writes the configuration to path as indented JSON.
func Save(config *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
