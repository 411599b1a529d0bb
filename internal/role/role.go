// Package role provides the role registry that the Session Orchestrator
// uses to resolve a post's SendFrom/SendTo into the model, prompt, and
// tool-enablement configuration for that role (Planner, CodeInterpreter, or
// a custom worker role added in configuration).
package role

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/agentcore/execorch/pkg/types"
)

// Kind distinguishes the two positions a role can occupy in a turn.
type Kind string

const (
	KindPlanner Kind = "planner"
	KindWorker  Kind = "worker"
)

// Role is a resolved, immutable-once-built participant in the turn loop.
type Role struct {
	Name                string
	Description         string
	Kind                Kind
	BuiltIn             bool
	Model               types.Model
	Prompt              string
	Temperature         *float64
	RequireConfirmation bool
	CompactionPrompt    string
	Tools               map[string]bool
}

// ToolEnabled reports whether toolID is enabled for this role, honoring
// wildcard patterns registered in Tools ("*", "exec*", "**/artifact").
// Unmatched tools default to enabled, matching the permissive default a
// role has before any explicit restriction is configured.
func (r *Role) ToolEnabled(toolID string) bool {
	if enabled, ok := r.Tools[toolID]; ok {
		return enabled
	}
	for pattern, enabled := range r.Tools {
		if matchWildcard(pattern, toolID) {
			return enabled
		}
	}
	return true
}

// IsPlanner reports whether this role occupies the planner position.
func (r *Role) IsPlanner() bool { return r.Kind == KindPlanner }

// IsWorker reports whether this role occupies a worker position.
func (r *Role) IsWorker() bool { return r.Kind == KindWorker }

// Clone returns a deep copy, used when applying configuration overrides on
// top of a built-in role without mutating the shared built-in instance.
func (r *Role) Clone() *Role {
	clone := *r
	if r.Temperature != nil {
		t := *r.Temperature
		clone.Temperature = &t
	}
	if r.Tools != nil {
		clone.Tools = make(map[string]bool, len(r.Tools))
		for k, v := range r.Tools {
			clone.Tools[k] = v
		}
	}
	return &clone
}

func matchWildcard(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	if strings.Contains(pattern, "**") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}
	if strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*") {
		return strings.HasPrefix(s, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*") {
		return strings.HasSuffix(s, strings.TrimPrefix(pattern, "*"))
	}
	if strings.Contains(pattern, "*") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}
	return pattern == s
}

// BuiltInRoles returns the default Planner/CodeInterpreter pair every
// session starts with before configuration overrides are applied.
func BuiltInRoles() map[string]*Role {
	return map[string]*Role{
		"Planner": {
			Name:        "Planner",
			Description: "Decomposes the user query into steps and routes work to worker roles",
			Kind:        KindPlanner,
			BuiltIn:     true,
			Tools:       map[string]bool{"*": false, "send_post": true},
		},
		"CodeInterpreter": {
			Name:                "CodeInterpreter",
			Description:         "Executes code against a kernel session and reports results back to the Planner",
			Kind:                KindWorker,
			BuiltIn:             true,
			RequireConfirmation: false,
			Tools:               map[string]bool{"*": false, "execute_code": true, "upload_file": true},
		},
	}
}
