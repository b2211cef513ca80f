package governance

import (
	"context"
	"database/sql"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

// memStore is a mutex-guarded in-memory Store used across the engine tests.
// Conditional updates match the SQL semantics: they report false instead of
// erroring when the guard no longer holds.
type memStore struct {
	mu        sync.Mutex
	groups    map[string]store.Group
	members   map[string]store.Member
	proposals map[string]store.Proposal
	votes     map[string]map[string]store.Vote
	entities  []store.GroupEntity
	contracts []store.Contract
	projects  []store.Project
	spends    []store.FundSpend
}

func newMemStore() *memStore {
	return &memStore{
		groups:    make(map[string]store.Group),
		members:   make(map[string]store.Member),
		proposals: make(map[string]store.Proposal),
		votes:     make(map[string]map[string]store.Vote),
	}
}

func memberKey(groupID, userID string) string {
	return groupID + "/" + userID
}

func (m *memStore) addGroup(group store.Group) store.Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	if group.ID == "" {
		group.ID = util.NewID("grp")
	}
	if group.GovernancePreset == "" {
		group.GovernancePreset = "democratic"
	}
	m.groups[group.ID] = group
	return group
}

func (m *memStore) addMember(groupID, userID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[memberKey(groupID, userID)] = store.Member{
		ID:      util.NewID("mem"),
		GroupID: groupID,
		UserID:  userID,
		Role:    role,
	}
}

func (m *memStore) setOverrides(groupID, userID string, overrides map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member := m.members[memberKey(groupID, userID)]
	member.PermissionOverrides = overrides
	m.members[memberKey(groupID, userID)] = member
}

func (m *memStore) GetGroup(ctx context.Context, groupID string) (store.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.groups[groupID]
	if !ok {
		return store.Group{}, sql.ErrNoRows
	}
	return group, nil
}

func (m *memStore) GetMember(ctx context.Context, groupID, userID string) (store.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[memberKey(groupID, userID)]
	if !ok {
		return store.Member{}, sql.ErrNoRows
	}
	return member, nil
}

func (m *memStore) GetProposal(ctx context.Context, proposalID string) (store.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.proposals[proposalID]
	if !ok {
		return store.Proposal{}, sql.ErrNoRows
	}
	return proposal, nil
}

func (m *memStore) CreateProposal(ctx context.Context, proposal store.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[proposal.ID] = proposal
	return nil
}

func (m *memStore) UpdateDraftProposal(ctx context.Context, proposal store.Proposal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.proposals[proposal.ID]
	if !ok || stored.Status != StatusDraft {
		return false, nil
	}
	m.proposals[proposal.ID] = proposal
	return true, nil
}

func (m *memStore) DeleteDraftProposal(ctx context.Context, proposalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.proposals[proposalID]
	if !ok || proposal.Status != StatusDraft {
		return false, nil
	}
	delete(m.proposals, proposalID)
	delete(m.votes, proposalID)
	return true, nil
}

func (m *memStore) ActivateProposal(ctx context.Context, proposalID string, threshold float64, startsAt, endsAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.proposals[proposalID]
	if !ok || proposal.Status != StatusDraft {
		return false, nil
	}
	proposal.Status = StatusActive
	proposal.VotingThreshold = &threshold
	proposal.VotingStartsAt = &startsAt
	proposal.VotingEndsAt = &endsAt
	m.proposals[proposalID] = proposal
	return true, nil
}

func (m *memStore) UpdateProposalStatus(ctx context.Context, proposalID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.proposals[proposalID]
	if !ok || proposal.Status != from {
		return false, nil
	}
	proposal.Status = to
	m.proposals[proposalID] = proposal
	return true, nil
}

func (m *memStore) UpsertVote(ctx context.Context, vote store.Vote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byVoter, ok := m.votes[vote.ProposalID]
	if !ok {
		byVoter = make(map[string]store.Vote)
		m.votes[vote.ProposalID] = byVoter
	}
	byVoter[vote.VoterID] = vote
	return nil
}

func (m *memStore) ListVotes(ctx context.Context, proposalID string) ([]store.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byVoter := m.votes[proposalID]
	votes := make([]store.Vote, 0, len(byVoter))
	for _, vote := range byVoter {
		votes = append(votes, vote)
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].CastAt.Before(votes[j].CastAt) })
	return votes, nil
}

func (m *memStore) ClaimProposalExecution(ctx context.Context, proposalID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.proposals[proposalID]
	if !ok || proposal.ExecutedAt != nil {
		return false, nil
	}
	proposal.ExecutedAt = &at
	m.proposals[proposalID] = proposal
	return true, nil
}

func (m *memStore) SetExecutionResult(ctx context.Context, proposalID string, result store.ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	proposal, ok := m.proposals[proposalID]
	if !ok {
		return sql.ErrNoRows
	}
	proposal.ExecutionResult = &result
	if proposal.Status == StatusPassed {
		proposal.Status = StatusExecuted
	}
	m.proposals[proposalID] = proposal
	return nil
}

func (m *memStore) InsertGroupEntity(ctx context.Context, entity store.GroupEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities = append(m.entities, entity)
	return nil
}

func (m *memStore) InsertContract(ctx context.Context, contract store.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts = append(m.contracts, contract)
	return nil
}

func (m *memStore) InsertProject(ctx context.Context, project store.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects = append(m.projects, project)
	return nil
}

func (m *memStore) InsertFundSpend(ctx context.Context, spend store.FundSpend) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spends = append(m.spends, spend)
	return nil
}

func newTestEngine(ms *memStore) *Engine {
	engine := New(ms, NewRegistry())
	engine.logger = log.New(io.Discard, "", 0)
	return engine
}
