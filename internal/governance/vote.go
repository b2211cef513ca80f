package governance

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"quorum/api/internal/catalog"
	"quorum/api/internal/store"
)

const (
	VoteYes     = "yes"
	VoteNo      = "no"
	VoteAbstain = "abstain"
)

// Tally is the weighted vote summary of one proposal. Abstentions are
// counted but carry no weight on either side: Total is yes power plus no
// power only, so an all-abstain proposal has a zero total and a zero
// yes-percentage.
type Tally struct {
	Yes           float64 `json:"yes"`
	No            float64 `json:"no"`
	Abstain       float64 `json:"abstain"`
	Total         float64 `json:"total"`
	YesPercentage float64 `json:"yesPercentage"`
	VoteCount     int     `json:"voteCount"`
}

func computeTally(votes []store.Vote) Tally {
	var t Tally
	for _, v := range votes {
		switch v.Choice {
		case VoteYes:
			t.Yes += v.Power
		case VoteNo:
			t.No += v.Power
		case VoteAbstain:
			t.Abstain += v.Power
		}
	}
	t.VoteCount = len(votes)
	t.Total = t.Yes + t.No
	if t.Total > 0 {
		t.YesPercentage = t.Yes / t.Total * 100
	}
	return t
}

// Rounded returns the tally with the percentage rounded to two decimals for
// display. Resolution always compares the unrounded value.
func (t Tally) Rounded() Tally {
	t.YesPercentage = math.Round(t.YesPercentage*100) / 100
	return t
}

type CastVoteInput struct {
	ProposalID string
	VoterID    string
	Choice     string
	Power      float64
}

// CastVote records or replaces the voter's choice on an active proposal,
// then runs a resolution check. At most one vote exists per (proposal,
// voter); re-voting overwrites the earlier row.
func (e *Engine) CastVote(ctx context.Context, in CastVoteInput) (Tally, error) {
	proposal, err := e.getProposal(ctx, in.ProposalID)
	if err != nil {
		return Tally{}, err
	}
	if proposal.Status != StatusActive {
		return Tally{}, errInvalidState("proposal is not open for voting")
	}

	now := e.now()
	if proposal.VotingStartsAt != nil && now.Before(*proposal.VotingStartsAt) {
		return Tally{}, errInvalidState("voting has not started")
	}
	if proposal.VotingEndsAt != nil && now.After(*proposal.VotingEndsAt) {
		// The window closed before anyone noticed; settle the proposal now
		// so the caller sees its final state on the next read.
		if err := e.CheckResolution(ctx, in.ProposalID); err != nil {
			return Tally{}, err
		}
		return Tally{}, errInvalidState("voting has ended")
	}

	decision := e.Resolve(ctx, in.VoterID, proposal.GroupID, catalog.ActionVote)
	if !decision.Allowed {
		return Tally{}, permissionError(decision)
	}

	switch in.Choice {
	case VoteYes, VoteNo, VoteAbstain:
	default:
		return Tally{}, errValidation("vote must be yes, no or abstain")
	}
	power := in.Power
	if power <= 0 {
		power = 1.0
	}

	vote := store.Vote{
		ProposalID: in.ProposalID,
		VoterID:    in.VoterID,
		Choice:     in.Choice,
		Power:      power,
		CastAt:     now,
	}
	if err := e.store.UpsertVote(ctx, vote); err != nil {
		return Tally{}, err
	}

	if err := e.CheckResolution(ctx, in.ProposalID); err != nil {
		return Tally{}, err
	}

	votes, err := e.store.ListVotes(ctx, in.ProposalID)
	if err != nil {
		return Tally{}, err
	}
	return computeTally(votes), nil
}

// TallyVotes returns the current weighted summary without casting anything.
func (e *Engine) TallyVotes(ctx context.Context, proposalID string) (Tally, error) {
	if _, err := e.getProposal(ctx, proposalID); err != nil {
		return Tally{}, err
	}
	votes, err := e.store.ListVotes(ctx, proposalID)
	if err != nil {
		return Tally{}, err
	}
	return computeTally(votes), nil
}

// CheckResolution settles an active proposal whose threshold has been reached
// or whose voting window has closed. It is safe to call redundantly and from
// concurrent paths: the conditional status update is the only gate, and a
// proposal that is no longer active is a silent no-op.
func (e *Engine) CheckResolution(ctx context.Context, proposalID string) error {
	proposal, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if proposal.Status != StatusActive {
		return nil
	}

	votes, err := e.store.ListVotes(ctx, proposalID)
	if err != nil {
		return err
	}
	tally := computeTally(votes)

	threshold := DefaultThreshold
	if proposal.VotingThreshold != nil {
		threshold = *proposal.VotingThreshold
	}

	outcome := ""
	switch {
	case tally.Total > 0 && tally.YesPercentage >= threshold:
		outcome = StatusPassed
	case proposal.VotingEndsAt != nil && e.now().After(*proposal.VotingEndsAt):
		outcome = StatusFailed
	default:
		return nil
	}

	changed, err := e.store.UpdateProposalStatus(ctx, proposalID, StatusActive, outcome)
	if err != nil {
		return err
	}
	if !changed {
		// Lost the race to another resolution check; that caller owns any
		// follow-up execution.
		return nil
	}

	e.logger.Printf("governance: proposal %s resolved %s (%.1f%% yes of %.1f power)",
		proposalID, outcome, tally.YesPercentage, tally.Total)

	if outcome == StatusPassed && proposal.ActionType != "" {
		e.dispatch(ctx, proposal)
	}
	return nil
}
