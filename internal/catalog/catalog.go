// Package catalog holds the static governance presets: per-role default
// decisions for every governable action. The engine only reads this table;
// anything not listed resolves to deny.
package catalog

type Role string
type Decision string

const (
	RoleFounder Role = "founder"
	RoleAdmin   Role = "admin"
	RoleMember  Role = "member"
)

const (
	Allow        Decision = "allow"
	Deny         Decision = "deny"
	VoteRequired Decision = "vote_required"
)

const (
	ActionCreateProposal = "create_proposal"
	ActionVote           = "vote"
	ActionEditGroup      = "edit_group"
	ActionManageMembers  = "manage_members"
	ActionSpendFunds     = "spend_funds"
	ActionCreateProject  = "create_project"
	ActionCreateContract = "create_contract"
	ActionLinkEntity     = "link_entity"
	ActionDeleteGroup    = "delete_group"
)

// Actions lists every action the catalog governs, in display order.
var Actions = []string{
	ActionCreateProposal,
	ActionVote,
	ActionEditGroup,
	ActionManageMembers,
	ActionSpendFunds,
	ActionCreateProject,
	ActionCreateContract,
	ActionLinkEntity,
	ActionDeleteGroup,
}

type Preset struct {
	Name  string
	Roles map[Role]map[string]Decision
}

var presets = map[string]Preset{
	"founder_led": {
		Name: "founder_led",
		Roles: map[Role]map[string]Decision{
			RoleFounder: {
				ActionCreateProposal: Allow,
				ActionVote:           Allow,
				ActionEditGroup:      Allow,
				ActionManageMembers:  Allow,
				ActionSpendFunds:     Allow,
				ActionCreateProject:  Allow,
				ActionCreateContract: Allow,
				ActionLinkEntity:     Allow,
				ActionDeleteGroup:    Allow,
			},
			RoleAdmin: {
				ActionCreateProposal: Allow,
				ActionVote:           Allow,
				ActionEditGroup:      Allow,
				ActionManageMembers:  Allow,
				ActionSpendFunds:     VoteRequired,
				ActionCreateProject:  Allow,
				ActionCreateContract: VoteRequired,
				ActionLinkEntity:     Allow,
			},
			RoleMember: {
				ActionCreateProposal: Allow,
				ActionVote:           Allow,
			},
		},
	},
	"democratic": {
		Name: "democratic",
		Roles: map[Role]map[string]Decision{
			RoleFounder: {
				ActionCreateProposal: Allow,
				ActionVote:           Allow,
				ActionEditGroup:      VoteRequired,
				ActionManageMembers:  VoteRequired,
				ActionSpendFunds:     VoteRequired,
				ActionCreateProject:  VoteRequired,
				ActionCreateContract: VoteRequired,
				ActionLinkEntity:     VoteRequired,
				ActionDeleteGroup:    VoteRequired,
			},
			RoleAdmin: {
				ActionCreateProposal: Allow,
				ActionVote:           Allow,
				ActionEditGroup:      VoteRequired,
				ActionManageMembers:  VoteRequired,
				ActionSpendFunds:     VoteRequired,
				ActionCreateProject:  VoteRequired,
				ActionCreateContract: VoteRequired,
				ActionLinkEntity:     VoteRequired,
			},
			RoleMember: {
				ActionCreateProposal: Allow,
				ActionVote:           Allow,
				ActionSpendFunds:     VoteRequired,
				ActionCreateProject:  VoteRequired,
				ActionCreateContract: VoteRequired,
				ActionLinkEntity:     VoteRequired,
			},
		},
	},
	"council": {
		Name: "council",
		Roles: map[Role]map[string]Decision{
			RoleFounder: {
				ActionCreateProposal: Allow,
				ActionVote:           Allow,
				ActionEditGroup:      Allow,
				ActionManageMembers:  Allow,
				ActionSpendFunds:     VoteRequired,
				ActionCreateProject:  Allow,
				ActionCreateContract: Allow,
				ActionLinkEntity:     Allow,
				ActionDeleteGroup:    VoteRequired,
			},
			RoleAdmin: {
				ActionCreateProposal: Allow,
				ActionVote:           Allow,
				ActionEditGroup:      Allow,
				ActionManageMembers:  Allow,
				ActionSpendFunds:     VoteRequired,
				ActionCreateProject:  Allow,
				ActionCreateContract: Allow,
				ActionLinkEntity:     Allow,
			},
			RoleMember: {
				ActionCreateProposal: Allow,
				ActionVote:           Allow,
			},
		},
	},
}

// Lookup returns the named preset. The second return is false for unknown
// names; callers must treat that as a closed gate, not a default.
func Lookup(name string) (Preset, bool) {
	preset, ok := presets[name]
	return preset, ok
}

// Names returns the preset names available to new groups.
func Names() []string {
	return []string{"founder_led", "democratic", "council"}
}

// Decide returns the preset's default decision for a role and action.
// Unknown roles and unlisted actions are denied.
func (p Preset) Decide(role Role, action string) Decision {
	table, ok := p.Roles[role]
	if !ok {
		return Deny
	}
	decision, ok := table[action]
	if !ok {
		return Deny
	}
	return decision
}

func NormalizeRole(role string) (Role, bool) {
	switch Role(role) {
	case RoleFounder, RoleAdmin, RoleMember:
		return Role(role), true
	default:
		return "", false
	}
}

func ParseDecision(value string) (Decision, bool) {
	switch Decision(value) {
	case Allow, Deny, VoteRequired:
		return Decision(value), true
	default:
		return "", false
	}
}
