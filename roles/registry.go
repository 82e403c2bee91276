/*
Package roles holds the role/approval registry and the approval fan-out
resolver.

PURPOSE:
  Answers two questions for the time-off engine:
    1. May a holder of role A approve a request filed by a holder of role R?
    2. Is role R exempt from approval (auto-approved)?

HIERARCHY DIRECTION:
  Each role lists the roles that may approve ITS requests:

    Collaborator.ApprovalHierarchy = [Director, Manager]
    Manager.ApprovalHierarchy      = [Director]
    Director.AutoApprove           = true

  "Roles I can approve" for an approver is the inverse: every role whose
  hierarchy contains the approver's role.

CONCURRENCY:
  A Registry is immutable once built. Any number of goroutines may read it.

SEE ALSO:
  - config.go: YAML loading
  - resolver.go: approver contact fan-out
*/
package roles

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// ROLE
// =============================================================================

type Role struct {
	Name              string
	ApprovalHierarchy []string
	AutoApprove       bool
}

// =============================================================================
// REGISTRY
// =============================================================================

type Registry struct {
	roles map[string]Role
	// approvable[A] = roles whose requests A may act on
	approvable map[string][]string
}

// NewRegistry validates and indexes roles. Role names are unique and every
// hierarchy entry must name a known role.
func NewRegistry(roles []Role) (*Registry, error) {
	r := &Registry{
		roles:      make(map[string]Role, len(roles)),
		approvable: make(map[string][]string),
	}
	for _, role := range roles {
		name := strings.TrimSpace(role.Name)
		if name == "" {
			return nil, fmt.Errorf("role name is required")
		}
		if _, dup := r.roles[name]; dup {
			return nil, fmt.Errorf("duplicate role %q", name)
		}
		role.Name = name
		role.ApprovalHierarchy = append([]string(nil), role.ApprovalHierarchy...)
		r.roles[name] = role
	}
	for _, role := range r.roles {
		for _, approver := range role.ApprovalHierarchy {
			if _, ok := r.roles[approver]; !ok {
				return nil, fmt.Errorf("role %q: unknown approver role %q", role.Name, approver)
			}
			r.approvable[approver] = append(r.approvable[approver], role.Name)
		}
	}
	for approver := range r.approvable {
		sort.Strings(r.approvable[approver])
	}
	return r, nil
}

// MustRegistry is NewRegistry for static tables known to be valid.
func MustRegistry(roles []Role) *Registry {
	r, err := NewRegistry(roles)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the role by name.
func (r *Registry) Lookup(name string) (Role, bool) {
	role, ok := r.roles[name]
	return role, ok
}

// IsAutoApproved reports whether holders of role bypass approval.
func (r *Registry) IsAutoApproved(name string) bool {
	return r.roles[name].AutoApprove
}

// ApproverRolesFor returns the roles allowed to act on requests from requesterRole.
func (r *Registry) ApproverRolesFor(requesterRole string) []string {
	return append([]string(nil), r.roles[requesterRole].ApprovalHierarchy...)
}

// ApprovableBy returns the roles whose requests approverRole may act on.
func (r *Registry) ApprovableBy(approverRole string) []string {
	return append([]string(nil), r.approvable[approverRole]...)
}

// CanApprove reports whether approverRole is in requesterRole's hierarchy.
func (r *Registry) CanApprove(approverRole, requesterRole string) bool {
	for _, name := range r.roles[requesterRole].ApprovalHierarchy {
		if name == approverRole {
			return true
		}
	}
	return false
}

// Names returns all role names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
