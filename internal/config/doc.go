// Package config loads the orchestration core's configuration from a global
// file, a project-local file, and environment variables, in that priority
// order (environment variables win).
//
// Files are JSONC (JSON with // and /* */ comments), stripped with
// tidwall/jsonc before unmarshaling. See pkg/types.Config for the full key
// set: execution server binding and auto-start behavior, compaction
// thresholds, the ordered list of session roles to instantiate, and
// code-interpreter confirmation/retry policy.
package config
