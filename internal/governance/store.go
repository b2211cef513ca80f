package governance

import (
	"context"
	"log"
	"time"

	"quorum/api/internal/store"
)

// ActionStore is the slice of storage that action handlers may write to.
type ActionStore interface {
	InsertGroupEntity(ctx context.Context, entity store.GroupEntity) error
	InsertContract(ctx context.Context, contract store.Contract) error
	InsertProject(ctx context.Context, project store.Project) error
	InsertFundSpend(ctx context.Context, spend store.FundSpend) error
}

// Store is the persistence boundary of the engine: point lookups, one
// filtered scan (votes by proposal), and single-row conditional updates.
// Lookups return sql.ErrNoRows-compatible errors when a row is missing.
type Store interface {
	GetGroup(ctx context.Context, groupID string) (store.Group, error)
	GetMember(ctx context.Context, groupID, userID string) (store.Member, error)

	GetProposal(ctx context.Context, proposalID string) (store.Proposal, error)
	CreateProposal(ctx context.Context, proposal store.Proposal) error

	// UpdateDraftProposal and DeleteDraftProposal only land while the stored
	// status is still draft, so a concurrent activation cannot be clobbered.
	// Both return false when the guard no longer holds.
	UpdateDraftProposal(ctx context.Context, proposal store.Proposal) (bool, error)
	DeleteDraftProposal(ctx context.Context, proposalID string) (bool, error)

	// ActivateProposal transitions draft -> active and stamps the resolved
	// threshold and voting window. Returns false if the proposal was no
	// longer in draft.
	ActivateProposal(ctx context.Context, proposalID string, threshold float64, startsAt, endsAt time.Time) (bool, error)

	// UpdateProposalStatus performs a conditional transition: the write only
	// lands when the stored status still equals from.
	UpdateProposalStatus(ctx context.Context, proposalID, from, to string) (bool, error)

	// UpsertVote replaces any prior vote on the (proposal, voter) key.
	UpsertVote(ctx context.Context, vote store.Vote) error
	ListVotes(ctx context.Context, proposalID string) ([]store.Vote, error)

	// ClaimProposalExecution sets executed_at only if it is still null.
	// Returns true when this caller won the claim.
	ClaimProposalExecution(ctx context.Context, proposalID string, at time.Time) (bool, error)
	SetExecutionResult(ctx context.Context, proposalID string, result store.ExecutionResult) error

	ActionStore
}

// Engine wires the permission resolver, proposal lifecycle, vote tally and
// action dispatcher to an injected store. It holds no state of its own
// beyond the handler registry, so a single instance serves all requests.
type Engine struct {
	store   Store
	actions *Registry
	logger  *log.Logger
	now     func() time.Time
}

func New(st Store, actions *Registry) *Engine {
	if actions == nil {
		actions = NewRegistry()
	}
	return &Engine{
		store:   st,
		actions: actions,
		logger:  log.Default(),
		now:     time.Now,
	}
}
