package role

import (
	"fmt"
	"sync"

	"github.com/agentcore/execorch/pkg/types"
)

// UnknownRoleError is returned by Get when a role name is not registered,
// matching the error kind spec components surface for an unrecognized
// SendTo target.
type UnknownRoleError struct {
	Name string
}

func (e *UnknownRoleError) Error() string { return fmt.Sprintf("unknown role: %s", e.Name) }

// IsUnknownRoleError reports whether err is an *UnknownRoleError.
func IsUnknownRoleError(err error) bool {
	_, ok := err.(*UnknownRoleError)
	return ok
}

// Registry resolves role names to their configuration for one session. It
// starts from the built-in Planner/CodeInterpreter pair and layers the
// configured roles (config.Roles, restricted to config.Session.Roles) on
// top.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]*Role
}

// NewRegistry builds a registry seeded with the built-in roles, then
// overlays cfg's role configuration.
func NewRegistry(cfg *types.Config) *Registry {
	r := &Registry{roles: make(map[string]*Role)}
	for name, role := range BuiltInRoles() {
		r.roles[name] = role
	}
	if cfg != nil {
		r.applyConfig(cfg)
	}
	return r
}

func (r *Registry) applyConfig(cfg *types.Config) {
	allowed := make(map[string]bool, len(cfg.Session.Roles))
	for _, name := range cfg.Session.Roles {
		allowed[name] = true
	}
	for name, rc := range cfg.Roles {
		if len(allowed) > 0 && !allowed[name] {
			continue
		}
		existing, ok := r.roles[name]
		var role *Role
		if ok {
			role = existing.Clone()
			role.BuiltIn = false
		} else {
			role = &Role{Name: name, Kind: KindWorker, Tools: make(map[string]bool)}
		}
		if rc.Model != "" {
			role.Model = types.Model{ID: rc.Model}
		}
		if rc.Prompt != "" {
			role.Prompt = rc.Prompt
		}
		if rc.CompactionPromptPath != "" {
			role.CompactionPrompt = rc.CompactionPromptPath
		}
		if rc.Temperature != nil {
			t := *rc.Temperature
			role.Temperature = &t
		}
		role.RequireConfirmation = role.RequireConfirmation || cfg.CodeInterpreter.RequireConfirmation
		r.roles[name] = role
	}
}

// Get retrieves a role by name.
func (r *Registry) Get(name string) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[name]
	if !ok {
		return nil, &UnknownRoleError{Name: name}
	}
	return role, nil
}

// Register adds or replaces a role.
func (r *Registry) Register(role *Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.Name] = role
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.roles[name]
	return ok
}

// Names returns every registered role name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	return names
}

// Planner returns the single role occupying the planner position, if any.
func (r *Registry) Planner() (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range r.roles {
		if role.IsPlanner() {
			return role, nil
		}
	}
	return nil, &UnknownRoleError{Name: "Planner"}
}

// Workers returns every role occupying a worker position.
func (r *Registry) Workers() []*Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Role
	for _, role := range r.roles {
		if role.IsWorker() {
			out = append(out, role)
		}
	}
	return out
}
