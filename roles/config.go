package roles

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// YAML SCHEMA
// =============================================================================

// RoleYAML is the file representation of a role:
//
//	roles:
//	  - name: Director
//	    auto_approve: true
//	  - name: Collaborator
//	    approval_hierarchy: [Director]
type RoleYAML struct {
	Name              string   `yaml:"name"`
	ApprovalHierarchy []string `yaml:"approval_hierarchy"`
	AutoApprove       bool     `yaml:"auto_approve"`
}

type registryFile struct {
	Roles []RoleYAML `yaml:"roles"`
}

// FromYAML converts parsed YAML roles.
func FromYAML(in []RoleYAML) []Role {
	out := make([]Role, len(in))
	for i, r := range in {
		out[i] = Role{Name: r.Name, ApprovalHierarchy: r.ApprovalHierarchy, AutoApprove: r.AutoApprove}
	}
	return out
}

// ParseYAML builds a registry from a YAML document with a top-level roles key.
func ParseYAML(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roles: %w", err)
	}
	if len(f.Roles) == 0 {
		return nil, fmt.Errorf("parse roles: no roles defined")
	}
	return NewRegistry(FromYAML(f.Roles))
}

// LoadFile reads and parses a roles YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	return ParseYAML(data)
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultRoles is the org chart used when no roles are configured. Only the
// top of the hierarchy is exempt from approval.
func DefaultRoles() []Role {
	return []Role{
		{Name: "Director", AutoApprove: true},
		{Name: "Manager", ApprovalHierarchy: []string{"Director"}},
		{Name: "Accountant", ApprovalHierarchy: []string{"Director", "Manager"}},
		{Name: "Collaborator", ApprovalHierarchy: []string{"Director", "Manager"}},
		{Name: "Intern", ApprovalHierarchy: []string{"Director", "Manager"}},
	}
}
