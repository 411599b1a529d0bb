package role

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentcore/execorch/pkg/types"
)

// Descriptor is one entry in a static role table loaded from YAML at
// startup (spec §9 "role discovery via YAML descriptors" — dynamic role
// dispatch in the source system becomes this closed, file-backed table
// rather than a plugin-loaded registry).
type Descriptor struct {
	Name                 string          `yaml:"name"`
	Description          string          `yaml:"description,omitempty"`
	Kind                 string          `yaml:"kind"` // "planner" or "worker"
	Model                string          `yaml:"model,omitempty"`
	Prompt               string          `yaml:"prompt,omitempty"`
	CompactionPrompt     string          `yaml:"compaction_prompt,omitempty"`
	Temperature          *float64        `yaml:"temperature,omitempty"`
	RequireConfirmation  bool            `yaml:"require_confirmation,omitempty"`
	Tools                map[string]bool `yaml:"tools,omitempty"`
}

type descriptorFile struct {
	Roles []Descriptor `yaml:"roles"`
}

// LoadDescriptors reads a role descriptor table from a YAML file at path.
// A missing file is not an error: the registry simply keeps whatever it
// already has (the built-ins, plus any JSON-config overlay).
func LoadDescriptors(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read role descriptor file: %w", err)
	}
	var file descriptorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse role descriptor file %s: %w", path, err)
	}
	return file.Roles, nil
}

// ApplyDescriptors registers or overlays every descriptor onto r, following
// the same clone-and-override semantics as applyConfig: an existing
// built-in role is cloned and adjusted, an unknown name becomes a new
// worker role.
func (r *Registry) ApplyDescriptors(descs []Descriptor) error {
	for _, d := range descs {
		if d.Name == "" {
			return fmt.Errorf("role descriptor missing name")
		}
		r.mu.Lock()
		existing, ok := r.roles[d.Name]
		var role *Role
		if ok {
			role = existing.Clone()
			role.BuiltIn = false
		} else {
			role = &Role{Name: d.Name, Kind: KindWorker, Tools: make(map[string]bool)}
		}
		if d.Kind == string(KindPlanner) {
			role.Kind = KindPlanner
		} else if d.Kind == string(KindWorker) {
			role.Kind = KindWorker
		}
		if d.Description != "" {
			role.Description = d.Description
		}
		if d.Model != "" {
			role.Model = types.Model{ID: d.Model}
		}
		if d.Prompt != "" {
			role.Prompt = d.Prompt
		}
		if d.CompactionPrompt != "" {
			role.CompactionPrompt = d.CompactionPrompt
		}
		if d.Temperature != nil {
			t := *d.Temperature
			role.Temperature = &t
		}
		role.RequireConfirmation = d.RequireConfirmation
		for tool, enabled := range d.Tools {
			role.Tools[tool] = enabled
		}
		r.roles[d.Name] = role
		r.mu.Unlock()
	}
	return nil
}
