package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Group is a collective with its own governance configuration. The preset
// must name a catalog entry; permission checks fail closed when it does not.
type Group struct {
	ID               string
	Name             string
	Description      string
	GovernancePreset string
	VotingThreshold  *float64
	IsPublic         bool
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Member links a user to a group. PermissionOverrides maps an action name to
// an explicit decision that takes precedence over the preset's role default.
type Member struct {
	ID                  string
	GroupID             string
	UserID              string
	Role                string
	PermissionOverrides map[string]string
	JoinedAt            time.Time
}

type Proposal struct {
	ID              string
	GroupID         string
	ProposerID      string
	Title           string
	Description     string
	ProposalType    string
	ActionType      string
	ActionData      map[string]any
	VotingThreshold *float64
	VotingStartsAt  *time.Time
	VotingEndsAt    *time.Time
	Status          string
	ExecutedAt      *time.Time
	ExecutionResult *ExecutionResult
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExecutionResult is the durable record of a proposal's one-time execution.
type ExecutionResult struct {
	OK     bool   `json:"ok"`
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Vote is one member's weighted choice on a proposal. At most one row exists
// per (proposal, voter); a re-cast replaces the previous row.
type Vote struct {
	ProposalID string
	VoterID    string
	Choice     string
	Power      float64
	CastAt     time.Time
}

// GroupEntity associates an external record with a group. Written by the
// link_entity action handler.
type GroupEntity struct {
	ID         string
	GroupID    string
	ProposalID string
	EntityType string
	EntityID   string
	CreatedAt  time.Time
}

type Contract struct {
	ID         string
	GroupID    string
	ProposalID string
	Title      string
	PartyA     string
	PartyB     string
	Terms      string
	Status     string
	CreatedAt  time.Time
}

type Project struct {
	ID          string
	GroupID     string
	ProposalID  string
	Name        string
	Description string
	Status      string
	CreatedAt   time.Time
}

// FundSpend is a spend request approved by vote but executed manually by the
// group's signers; the engine only records it as pending.
type FundSpend struct {
	ID         string
	GroupID    string
	ProposalID string
	Amount     float64
	Currency   string
	Recipient  string
	Memo       string
	Status     string
	CreatedAt  time.Time
}
