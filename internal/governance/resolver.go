package governance

import (
	"context"
	"database/sql"
	"errors"

	"quorum/api/internal/catalog"
	"quorum/api/internal/store"
)

// Decision is the outcome of a permission check. RequiresVote marks actions
// that governance sanctions only through the proposal path: the caller may
// proceed, but only by opening a proposal, never by acting directly.
type Decision struct {
	Allowed      bool   `json:"allowed"`
	RequiresVote bool   `json:"requiresVote"`
	Reason       string `json:"reason,omitempty"`
}

const (
	ReasonNotAuthenticated = "not authenticated"
	ReasonGroupNotFound    = "group not found"
	ReasonNotAMember       = "not a member"
)

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Resolve decides whether userID may perform action within groupID. An empty
// groupID means the caller is acting on their own resources and is always
// allowed. Every lookup failure resolves to a deny with a reason; Resolve
// never surfaces an error to the caller.
func (e *Engine) Resolve(ctx context.Context, userID, groupID, action string) Decision {
	if groupID == "" {
		return Decision{Allowed: true}
	}
	if userID == "" {
		return deny(ReasonNotAuthenticated)
	}

	group, err := e.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return deny(ReasonGroupNotFound)
		}
		e.logger.Printf("governance: group lookup %s: %v", groupID, err)
		return deny("group lookup failed")
	}

	member, err := e.store.GetMember(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return deny(ReasonNotAMember)
		}
		e.logger.Printf("governance: membership lookup %s/%s: %v", groupID, userID, err)
		return deny("membership lookup failed")
	}

	return decideFor(group, member, action)
}

// ResolveAll evaluates many actions against one (user, group) pair with a
// single group and membership load. Used to build full permission profiles.
func (e *Engine) ResolveAll(ctx context.Context, userID, groupID string, actions []string) map[string]Decision {
	decisions := make(map[string]Decision, len(actions))
	if groupID == "" {
		for _, action := range actions {
			decisions[action] = Decision{Allowed: true}
		}
		return decisions
	}
	if userID == "" {
		for _, action := range actions {
			decisions[action] = deny(ReasonNotAuthenticated)
		}
		return decisions
	}

	group, groupErr := e.store.GetGroup(ctx, groupID)
	member, memberErr := store.Member{}, error(nil)
	if groupErr == nil {
		member, memberErr = e.store.GetMember(ctx, groupID, userID)
	}

	for _, action := range actions {
		switch {
		case groupErr != nil && errors.Is(groupErr, sql.ErrNoRows):
			decisions[action] = deny(ReasonGroupNotFound)
		case groupErr != nil:
			decisions[action] = deny("group lookup failed")
		case memberErr != nil && errors.Is(memberErr, sql.ErrNoRows):
			decisions[action] = deny(ReasonNotAMember)
		case memberErr != nil:
			decisions[action] = deny("membership lookup failed")
		default:
			decisions[action] = decideFor(group, member, action)
		}
	}
	return decisions
}

// decideFor applies the two-layer model: an explicit member override wins
// outright, otherwise the group's preset role table decides, otherwise deny.
func decideFor(group store.Group, member store.Member, action string) Decision {
	if raw, ok := member.PermissionOverrides[action]; ok {
		decision, valid := catalog.ParseDecision(raw)
		if !valid {
			return deny("invalid permission override")
		}
		return fromCatalog(decision, "denied by member override")
	}

	preset, ok := catalog.Lookup(group.GovernancePreset)
	if !ok {
		// Fail closed: a group pointing at a preset this build does not know
		// must never silently allow.
		return deny("unknown governance preset")
	}
	role, ok := catalog.NormalizeRole(member.Role)
	if !ok {
		return deny("unknown role")
	}
	return fromCatalog(preset.Decide(role, action), "action not permitted for role")
}

func fromCatalog(decision catalog.Decision, denyReason string) Decision {
	switch decision {
	case catalog.Allow:
		return Decision{Allowed: true}
	case catalog.VoteRequired:
		return Decision{Allowed: true, RequiresVote: true, Reason: "requires a vote"}
	default:
		return deny(denyReason)
	}
}
