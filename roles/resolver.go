package roles

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/crm-workflow/generic"
)

// =============================================================================
// APPROVAL FAN-OUT RESOLVER
// =============================================================================

// Resolver derives notification targets from the registry and the user
// directory. It performs no writes.
type Resolver struct {
	Registry  *Registry
	Directory generic.UserDirectory
}

func NewResolver(registry *Registry, directory generic.UserDirectory) *Resolver {
	return &Resolver{Registry: registry, Directory: directory}
}

// Approvers returns the active users allowed to act on a request filed by a
// holder of requesterRole, excluding the requester. Sorted by id.
func (r *Resolver) Approvers(ctx context.Context, requesterRole string, exclude generic.EntityID) ([]generic.User, error) {
	approverRoles := r.Registry.ApproverRolesFor(requesterRole)
	if len(approverRoles) == 0 {
		return nil, nil
	}
	users, err := r.Directory.ListUsersByRoles(ctx, approverRoles)
	if err != nil {
		return nil, fmt.Errorf("list approvers for %s: %w", requesterRole, err)
	}
	out := make([]generic.User, 0, len(users))
	for _, u := range users {
		if !u.Active() || u.ID == exclude {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ApproverContacts returns the deduplicated contact identifiers of Approvers.
func (r *Resolver) ApproverContacts(ctx context.Context, requesterRole string, exclude generic.EntityID) ([]string, error) {
	users, err := r.Approvers(ctx, requesterRole, exclude)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(users))
	contacts := make([]string, 0, len(users))
	for _, u := range users {
		c := u.Contact()
		if seen[c] {
			continue
		}
		seen[c] = true
		contacts = append(contacts, c)
	}
	sort.Strings(contacts)
	return contacts, nil
}

// CanView reports whether a viewer holding approverRole may act on a pending
// request whose stored requester role is requestRole.
func (r *Resolver) CanView(approverRole, requestRole string) bool {
	for _, role := range r.Registry.ApprovableBy(approverRole) {
		if role == requestRole {
			return true
		}
	}
	return false
}
