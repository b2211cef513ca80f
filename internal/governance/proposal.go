package governance

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"quorum/api/internal/catalog"
	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusPassed    = "passed"
	StatusFailed    = "failed"
	StatusExecuted  = "executed"
	StatusCancelled = "cancelled"
)

const (
	DefaultThreshold    = 50.0
	DefaultVotingWindow = 7 * 24 * time.Hour

	maxTitleLen       = 200
	maxDescriptionLen = 5000
)

var proposalTypes = map[string]struct{}{
	"general":    {},
	"treasury":   {},
	"membership": {},
	"governance": {},
	"employment": {},
}

// transitions lists every legal forward edge of the proposal state machine.
// Nothing ever moves backward; terminal states have no outgoing edges except
// passed -> executed.
var transitions = map[string][]string{
	StatusDraft:  {StatusActive, StatusCancelled},
	StatusActive: {StatusPassed, StatusFailed, StatusCancelled},
	StatusPassed: {StatusExecuted},
}

func ValidTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type CreateProposalInput struct {
	GroupID         string
	ProposerID      string
	Title           string
	Description     string
	ProposalType    string
	ActionType      string
	ActionData      map[string]any
	VotingThreshold *float64
}

type UpdateProposalInput struct {
	Title           *string
	Description     *string
	ProposalType    *string
	ActionType      *string
	ActionData      map[string]any
	VotingThreshold *float64
}

func permissionError(decision Decision) *DomainError {
	switch decision.Reason {
	case ReasonNotAuthenticated:
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", decision.Reason, nil)
	case ReasonNotAMember:
		return errNotAMember(decision.Reason)
	case ReasonGroupNotFound:
		return errNotFound(decision.Reason)
	default:
		return errForbidden(decision.Reason)
	}
}

// CreateProposal validates the input and records a draft. The caller must
// hold create_proposal in the group; a vote_required grant still qualifies,
// since opening a proposal is itself the vote path.
func (e *Engine) CreateProposal(ctx context.Context, in CreateProposalInput) (store.Proposal, error) {
	decision := e.Resolve(ctx, in.ProposerID, in.GroupID, catalog.ActionCreateProposal)
	if !decision.Allowed {
		return store.Proposal{}, permissionError(decision)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return store.Proposal{}, errValidation("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return store.Proposal{}, errValidation("title must be 200 characters or fewer")
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLen {
		return store.Proposal{}, errValidation("description must be 5000 characters or fewer")
	}
	proposalType := in.ProposalType
	if proposalType == "" {
		proposalType = "general"
	}
	if _, ok := proposalTypes[proposalType]; !ok {
		return store.Proposal{}, errValidation("invalid proposal type")
	}
	if in.VotingThreshold != nil && (*in.VotingThreshold < 1 || *in.VotingThreshold > 100) {
		return store.Proposal{}, errValidation("voting threshold must be between 1 and 100")
	}

	now := e.now()
	proposal := store.Proposal{
		ID:              util.NewID("prop"),
		GroupID:         in.GroupID,
		ProposerID:      in.ProposerID,
		Title:           title,
		Description:     in.Description,
		ProposalType:    proposalType,
		ActionType:      in.ActionType,
		ActionData:      in.ActionData,
		VotingThreshold: in.VotingThreshold,
		Status:          StatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.CreateProposal(ctx, proposal); err != nil {
		return store.Proposal{}, err
	}
	return proposal, nil
}

// UpdateProposal merges the provided fields into a draft. Only the original
// proposer may edit, and only before activation.
func (e *Engine) UpdateProposal(ctx context.Context, proposalID, callerID string, in UpdateProposalInput) (store.Proposal, error) {
	proposal, err := e.getProposal(ctx, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if proposal.Status != StatusDraft {
		return store.Proposal{}, errInvalidState("only draft proposals can be edited")
	}
	if proposal.ProposerID != callerID {
		return store.Proposal{}, errForbidden("only the proposer may edit this proposal")
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return store.Proposal{}, errValidation("title is required")
		}
		if utf8.RuneCountInString(title) > maxTitleLen {
			return store.Proposal{}, errValidation("title must be 200 characters or fewer")
		}
		proposal.Title = title
	}
	if in.Description != nil {
		if utf8.RuneCountInString(*in.Description) > maxDescriptionLen {
			return store.Proposal{}, errValidation("description must be 5000 characters or fewer")
		}
		proposal.Description = *in.Description
	}
	if in.ProposalType != nil {
		if _, ok := proposalTypes[*in.ProposalType]; !ok {
			return store.Proposal{}, errValidation("invalid proposal type")
		}
		proposal.ProposalType = *in.ProposalType
	}
	if in.ActionType != nil {
		proposal.ActionType = *in.ActionType
	}
	if in.ActionData != nil {
		proposal.ActionData = in.ActionData
	}
	if in.VotingThreshold != nil {
		if *in.VotingThreshold < 1 || *in.VotingThreshold > 100 {
			return store.Proposal{}, errValidation("voting threshold must be between 1 and 100")
		}
		proposal.VotingThreshold = in.VotingThreshold
	}

	proposal.UpdatedAt = e.now()
	updated, err := e.store.UpdateDraftProposal(ctx, proposal)
	if err != nil {
		return store.Proposal{}, err
	}
	if !updated {
		return store.Proposal{}, errInvalidState("only draft proposals can be edited")
	}
	return proposal, nil
}

// ActivateProposal opens a draft for voting. Any member of the owning group
// may activate. The effective threshold is resolved here, once: an explicit
// value on the proposal, else the group override, else 50%.
func (e *Engine) ActivateProposal(ctx context.Context, proposalID, callerID string) (store.Proposal, error) {
	proposal, err := e.getProposal(ctx, proposalID)
	if err != nil {
		return store.Proposal{}, err
	}
	if proposal.Status != StatusDraft {
		return store.Proposal{}, errInvalidState("only draft proposals can be activated")
	}
	if _, err := e.store.GetMember(ctx, proposal.GroupID, callerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Proposal{}, errNotAMember(ReasonNotAMember)
		}
		return store.Proposal{}, err
	}

	threshold := DefaultThreshold
	if proposal.VotingThreshold != nil {
		threshold = *proposal.VotingThreshold
	} else {
		group, err := e.store.GetGroup(ctx, proposal.GroupID)
		if err != nil {
			return store.Proposal{}, err
		}
		if group.VotingThreshold != nil {
			threshold = *group.VotingThreshold
		}
	}

	now := e.now()
	startsAt := now
	if proposal.VotingStartsAt != nil {
		startsAt = *proposal.VotingStartsAt
	}
	endsAt := startsAt.Add(DefaultVotingWindow)
	if proposal.VotingEndsAt != nil {
		endsAt = *proposal.VotingEndsAt
	}

	activated, err := e.store.ActivateProposal(ctx, proposal.ID, threshold, startsAt, endsAt)
	if err != nil {
		return store.Proposal{}, err
	}
	if !activated {
		return store.Proposal{}, errInvalidState("only draft proposals can be activated")
	}

	proposal.Status = StatusActive
	proposal.VotingThreshold = &threshold
	proposal.VotingStartsAt = &startsAt
	proposal.VotingEndsAt = &endsAt
	return proposal, nil
}

// CancelProposal withdraws a draft. Once voting has started the proposal can
// no longer be cancelled by the proposer, to avoid invalidating cast votes.
func (e *Engine) CancelProposal(ctx context.Context, proposalID, callerID string) error {
	proposal, err := e.getProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.ProposerID != callerID {
		return errForbidden("only the proposer may cancel this proposal")
	}
	if proposal.Status != StatusDraft {
		return errInvalidState("voting has already started")
	}
	changed, err := e.store.UpdateProposalStatus(ctx, proposalID, StatusDraft, StatusCancelled)
	if err != nil {
		return err
	}
	if !changed {
		return errInvalidState("voting has already started")
	}
	return nil
}

// DeleteProposal hard-removes a never-activated draft.
func (e *Engine) DeleteProposal(ctx context.Context, proposalID, callerID string) error {
	proposal, err := e.getProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.ProposerID != callerID {
		return errForbidden("only the proposer may delete this proposal")
	}
	if proposal.Status != StatusDraft {
		return errInvalidState("voting has already started")
	}
	deleted, err := e.store.DeleteDraftProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if !deleted {
		return errInvalidState("voting has already started")
	}
	return nil
}

func (e *Engine) getProposal(ctx context.Context, proposalID string) (store.Proposal, error) {
	proposal, err := e.store.GetProposal(ctx, proposalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Proposal{}, errNotFound("proposal not found")
		}
		return store.Proposal{}, err
	}
	return proposal, nil
}
