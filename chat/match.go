package chat

import (
	"strings"

	"github.com/warp/crm-workflow/generic"
)

// =============================================================================
// ENTITY MATCHING
// =============================================================================

// Candidate is one roster entry a name fragment can resolve to.
type Candidate struct {
	ID   string
	Name string
}

// Match resolves a free-text fragment against roster. Passes, each over the
// whole roster in order, first hit wins:
//
//  1. folded name equals folded fragment
//  2. fragment is a substring of the name
//  3. the name's first word is a substring of the fragment
func Match(fragment string, roster []Candidate) (Candidate, bool) {
	frag := strings.TrimSpace(Fold(fragment))
	if frag == "" {
		return Candidate{}, false
	}
	names := make([]string, len(roster))
	for i, c := range roster {
		names[i] = strings.TrimSpace(Fold(c.Name))
	}

	for i, name := range names {
		if name == frag {
			return roster[i], true
		}
	}
	for i, name := range names {
		if name != "" && strings.Contains(name, frag) {
			return roster[i], true
		}
	}
	for i, name := range names {
		first, _, _ := strings.Cut(name, " ")
		if first != "" && strings.Contains(frag, first) {
			return roster[i], true
		}
	}
	return Candidate{}, false
}

// UserCandidates turns active users into candidates, keeping order.
func UserCandidates(users []generic.User) []Candidate {
	out := make([]Candidate, 0, len(users))
	for _, u := range users {
		if u.Active() {
			out = append(out, Candidate{ID: string(u.ID), Name: u.Name})
		}
	}
	return out
}

// ClientCandidates turns active clients into candidates, keeping order.
func ClientCandidates(clients []Client) []Candidate {
	out := make([]Candidate, 0, len(clients))
	for _, c := range clients {
		if !c.Archived {
			out = append(out, Candidate{ID: c.ID, Name: c.Name})
		}
	}
	return out
}
