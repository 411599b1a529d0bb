package types

// Config is the root configuration recognized by the orchestration core,
// merged from a global file, a project-local file, and environment
// variable overrides (see internal/config).
type Config struct {
	Schema string `json:"$schema,omitempty"`

	ExecutionServer ExecutionServerConfig `json:"execution_server"`
	Compaction      CompactionConfig      `json:"compaction"`
	Session         SessionConfig         `json:"session"`
	CodeInterpreter CodeInterpreterConfig `json:"code_interpreter"`

	Roles map[string]RoleConfig `json:"roles,omitempty"`
}

// ExecutionServerConfig is `execution.server.*` in spec terms.
type ExecutionServerConfig struct {
	URL            string `json:"url,omitempty"`
	APIKey         string `json:"api_key,omitempty"`
	AutoStart      bool   `json:"auto_start,omitempty"`
	Container      bool   `json:"container,omitempty"`
	ContainerImage string `json:"container_image,omitempty"`
	Host           string `json:"host,omitempty"`
	Port           int    `json:"port,omitempty"`
	TimeoutSeconds int    `json:"timeout,omitempty"`
}

// CompactionConfig is `compaction.*`; the per-role prompt path is
// RoleConfig.CompactionPromptPath.
type CompactionConfig struct {
	Enabled      bool `json:"enabled"`
	Threshold    int  `json:"threshold"`
	RetainRecent int  `json:"retain_recent"`
}

// SessionConfig is `session.*`.
type SessionConfig struct {
	Roles []string `json:"roles,omitempty"` // ordered list of role aliases to instantiate
}

// CodeInterpreterConfig is `code_interpreter.*`.
type CodeInterpreterConfig struct {
	RequireConfirmation bool `json:"require_confirmation"`
	MaxRetryCount       int  `json:"max_retry_count"`
}

// RoleConfig configures one named role implementation.
type RoleConfig struct {
	Model                string `json:"model,omitempty"`
	Prompt               string `json:"prompt,omitempty"`
	CompactionPromptPath string `json:"compaction_prompt_path,omitempty"`
	Temperature          *float64 `json:"temperature,omitempty"`
}

// Model describes an LLM model bound to a role.
type Model struct {
	ID            string `json:"id"`
	ProviderID    string `json:"providerID"`
	ContextLength int    `json:"contextLength"`
	SupportsTools bool   `json:"supportsTools"`
}
