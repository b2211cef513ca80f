package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

func seedVotingGroup(ms *memStore, voters ...string) store.Group {
	group := ms.addGroup(store.Group{GovernancePreset: "democratic"})
	for _, voter := range voters {
		ms.addMember(group.ID, voter, "member")
	}
	return group
}

func activatedProposal(t *testing.T, engine *Engine, groupID string, in CreateProposalInput) store.Proposal {
	t.Helper()
	draft := mustCreateDraft(t, engine, groupID, in)
	proposal, err := engine.ActivateProposal(context.Background(), draft.ID, draft.ProposerID)
	if err != nil {
		t.Fatalf("ActivateProposal: %v", err)
	}
	return proposal
}

func castVote(t *testing.T, engine *Engine, proposalID, voterID, choice string, power float64) Tally {
	t.Helper()
	tally, err := engine.CastVote(context.Background(), CastVoteInput{
		ProposalID: proposalID,
		VoterID:    voterID,
		Choice:     choice,
		Power:      power,
	})
	if err != nil {
		t.Fatalf("CastVote %s/%s: %v", voterID, choice, err)
	}
	return tally
}

func TestCastVotePassesAtThreshold(t *testing.T) {
	ms := newMemStore()
	group := seedVotingGroup(ms, "user_proposer", "user_a", "user_b", "user_c")
	engine := newTestEngine(ms)
	ctx := context.Background()

	proposal := activatedProposal(t, engine, group.ID, CreateProposalInput{VotingThreshold: floatPtr(70)})

	castVote(t, engine, proposal.ID, "user_a", VoteNo, 0)
	castVote(t, engine, proposal.ID, "user_b", VoteYes, 0)
	castVote(t, engine, proposal.ID, "user_c", VoteYes, 0)
	stored, _ := ms.GetProposal(ctx, proposal.ID)
	if stored.Status != StatusActive {
		t.Fatalf("66.7%% yes should not clear a 70%% threshold, status %q", stored.Status)
	}

	tally := castVote(t, engine, proposal.ID, "user_proposer", VoteYes, 0)
	if tally.Yes != 3 || tally.No != 1 || tally.Total != 4 {
		t.Fatalf("unexpected tally %+v", tally)
	}
	stored, _ = ms.GetProposal(ctx, proposal.ID)
	if stored.Status != StatusPassed {
		t.Fatalf("75%% yes should clear a 70%% threshold, status %q", stored.Status)
	}
}

func TestCastVoteResolvesEagerly(t *testing.T) {
	ms := newMemStore()
	group := seedVotingGroup(ms, "user_proposer")
	engine := newTestEngine(ms)

	proposal := activatedProposal(t, engine, group.ID, CreateProposalInput{})
	castVote(t, engine, proposal.ID, "user_proposer", VoteYes, 0)

	stored, _ := ms.GetProposal(context.Background(), proposal.ID)
	if stored.Status != StatusPassed {
		t.Fatalf("a lone yes meets the default threshold immediately, status %q", stored.Status)
	}
}

func TestSplitVoteFailsAtDeadline(t *testing.T) {
	ms := newMemStore()
	group := seedVotingGroup(ms, "user_proposer", "user_a")
	engine := newTestEngine(ms)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	ctx := context.Background()

	proposal := activatedProposal(t, engine, group.ID, CreateProposalInput{VotingThreshold: floatPtr(60)})
	castVote(t, engine, proposal.ID, "user_a", VoteNo, 0)
	castVote(t, engine, proposal.ID, "user_proposer", VoteYes, 0)

	stored, _ := ms.GetProposal(ctx, proposal.ID)
	if stored.Status != StatusActive {
		t.Fatalf("50%% yes is below a 60%% threshold, status %q", stored.Status)
	}

	now = now.Add(DefaultVotingWindow + time.Hour)
	if err := engine.CheckResolution(ctx, proposal.ID); err != nil {
		t.Fatalf("CheckResolution: %v", err)
	}
	stored, _ = ms.GetProposal(ctx, proposal.ID)
	if stored.Status != StatusFailed {
		t.Fatalf("past the window the proposal must fail, status %q", stored.Status)
	}
}

func TestReVoteOverwrites(t *testing.T) {
	ms := newMemStore()
	group := seedVotingGroup(ms, "user_proposer", "user_a")
	engine := newTestEngine(ms)

	proposal := activatedProposal(t, engine, group.ID, CreateProposalInput{})
	castVote(t, engine, proposal.ID, "user_a", VoteNo, 1)
	tally := castVote(t, engine, proposal.ID, "user_a", VoteYes, 2.5)

	if tally.VoteCount != 1 {
		t.Fatalf("re-vote must not add a second row, count %d", tally.VoteCount)
	}
	if tally.Yes != 2.5 || tally.No != 0 {
		t.Fatalf("re-vote must replace both choice and power, tally %+v", tally)
	}
}

func TestAbstainCarriesNoWeight(t *testing.T) {
	ms := newMemStore()
	group := seedVotingGroup(ms, "user_proposer", "user_a", "user_b")
	engine := newTestEngine(ms)
	ctx := context.Background()

	proposal := activatedProposal(t, engine, group.ID, CreateProposalInput{})
	castVote(t, engine, proposal.ID, "user_a", VoteAbstain, 0)
	tally := castVote(t, engine, proposal.ID, "user_b", VoteAbstain, 0)

	if tally.Total != 0 || tally.YesPercentage != 0 {
		t.Fatalf("abstentions must not enter the total, tally %+v", tally)
	}
	if tally.Abstain != 2 || tally.VoteCount != 2 {
		t.Fatalf("abstentions still count as participation, tally %+v", tally)
	}
	stored, _ := ms.GetProposal(ctx, proposal.ID)
	if stored.Status != StatusActive {
		t.Fatalf("all-abstain must never pass, status %q", stored.Status)
	}

	tally = castVote(t, engine, proposal.ID, "user_proposer", VoteYes, 0)
	if tally.Total != 1 || tally.YesPercentage != 100 {
		t.Fatalf("single weighted yes should be 100%%, tally %+v", tally)
	}
}

func TestAllAbstainFailsAtDeadline(t *testing.T) {
	ms := newMemStore()
	group := seedVotingGroup(ms, "user_proposer")
	engine := newTestEngine(ms)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	ctx := context.Background()

	proposal := activatedProposal(t, engine, group.ID, CreateProposalInput{})
	castVote(t, engine, proposal.ID, "user_proposer", VoteAbstain, 0)

	now = now.Add(DefaultVotingWindow + time.Minute)
	if err := engine.CheckResolution(ctx, proposal.ID); err != nil {
		t.Fatalf("CheckResolution: %v", err)
	}
	stored, _ := ms.GetProposal(ctx, proposal.ID)
	if stored.Status != StatusFailed {
		t.Fatalf("a zero total can never pass, status %q", stored.Status)
	}
}

func TestCastVoteDefaultsPower(t *testing.T) {
	ms := newMemStore()
	group := seedVotingGroup(ms, "user_proposer")
	engine := newTestEngine(ms)

	proposal := activatedProposal(t, engine, group.ID, CreateProposalInput{})
	tally := castVote(t, engine, proposal.ID, "user_proposer", VoteYes, -3)
	if tally.Yes != 1 {
		t.Fatalf("non-positive power should default to 1, tally %+v", tally)
	}
}

func TestCastVoteGuards(t *testing.T) {
	ms := newMemStore()
	group := seedVotingGroup(ms, "user_proposer", "user_a")
	engine := newTestEngine(ms)
	ctx := context.Background()

	draft := mustCreateDraft(t, engine, group.ID, CreateProposalInput{})
	_, err := engine.CastVote(ctx, CastVoteInput{ProposalID: draft.ID, VoterID: "user_a", Choice: VoteYes})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_STATE" {
		t.Fatalf("draft vote: got %v, want INVALID_STATE", err)
	}

	proposal := activatedProposal(t, engine, group.ID, CreateProposalInput{Title: "Second"})
	_, err = engine.CastVote(ctx, CastVoteInput{ProposalID: proposal.ID, VoterID: "user_a", Choice: "maybe"})
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("bad choice: got %v, want VALIDATION_ERROR", err)
	}

	_, err = engine.CastVote(ctx, CastVoteInput{ProposalID: proposal.ID, VoterID: "user_outsider", Choice: VoteYes})
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_A_MEMBER" {
		t.Fatalf("outsider vote: got %v, want NOT_A_MEMBER", err)
	}

	_, err = engine.CastVote(ctx, CastVoteInput{ProposalID: "prop_missing", VoterID: "user_a", Choice: VoteYes})
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("missing proposal: got %v, want NOT_FOUND", err)
	}
}

func TestCastVoteBeforeWindowOpens(t *testing.T) {
	ms := newMemStore()
	group := seedVotingGroup(ms, "user_a")
	engine := newTestEngine(ms)

	startsAt := time.Now().Add(24 * time.Hour)
	endsAt := startsAt.Add(DefaultVotingWindow)
	threshold := DefaultThreshold
	proposal := store.Proposal{
		ID:              util.NewID("prop"),
		GroupID:         group.ID,
		ProposerID:      "user_a",
		Title:           "Scheduled",
		ProposalType:    "general",
		Status:          StatusActive,
		VotingThreshold: &threshold,
		VotingStartsAt:  &startsAt,
		VotingEndsAt:    &endsAt,
	}
	if err := ms.CreateProposal(context.Background(), proposal); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}

	_, err := engine.CastVote(context.Background(), CastVoteInput{ProposalID: proposal.ID, VoterID: "user_a", Choice: VoteYes})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Message != "voting has not started" {
		t.Fatalf("got %v, want voting-not-started", err)
	}
}

func TestCastVoteAfterDeadlineSettles(t *testing.T) {
	ms := newMemStore()
	group := seedVotingGroup(ms, "user_a", "user_b")
	engine := newTestEngine(ms)
	ctx := context.Background()

	startsAt := time.Now().Add(-2 * DefaultVotingWindow)
	endsAt := startsAt.Add(DefaultVotingWindow)
	threshold := 60.0
	proposal := store.Proposal{
		ID:              util.NewID("prop"),
		GroupID:         group.ID,
		ProposerID:      "user_a",
		Title:           "Expired",
		ProposalType:    "general",
		Status:          StatusActive,
		VotingThreshold: &threshold,
		VotingStartsAt:  &startsAt,
		VotingEndsAt:    &endsAt,
	}
	if err := ms.CreateProposal(ctx, proposal); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}

	_, err := engine.CastVote(ctx, CastVoteInput{ProposalID: proposal.ID, VoterID: "user_b", Choice: VoteYes})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Message != "voting has ended" {
		t.Fatalf("got %v, want voting-ended", err)
	}
	stored, _ := ms.GetProposal(ctx, proposal.ID)
	if stored.Status != StatusFailed {
		t.Fatalf("late vote must settle the proposal first, status %q", stored.Status)
	}
}

func TestCheckResolutionRedundant(t *testing.T) {
	ms := newMemStore()
	group := seedVotingGroup(ms, "user_proposer")
	engine := newTestEngine(ms)
	ctx := context.Background()

	proposal := activatedProposal(t, engine, group.ID, CreateProposalInput{})
	castVote(t, engine, proposal.ID, "user_proposer", VoteYes, 0)

	for i := 0; i < 3; i++ {
		if err := engine.CheckResolution(ctx, proposal.ID); err != nil {
			t.Fatalf("redundant check %d: %v", i, err)
		}
	}
	if err := engine.CheckResolution(ctx, "prop_missing"); err != nil {
		t.Fatalf("missing proposal should be a silent no-op, got %v", err)
	}
}

func TestTallyRounded(t *testing.T) {
	tally := computeTally([]store.Vote{
		{Choice: VoteYes, Power: 2},
		{Choice: VoteNo, Power: 1},
	})
	rounded := tally.Rounded()
	if rounded.YesPercentage != 66.67 {
		t.Fatalf("got %v, want 66.67", rounded.YesPercentage)
	}
	if tally.YesPercentage == rounded.YesPercentage {
		t.Fatal("the stored percentage must stay unrounded")
	}
}
