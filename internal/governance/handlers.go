package governance

import (
	"context"
	"fmt"

	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

// Action types the built-in handlers serve. Proposals may carry other types;
// those resolve as unhandled no-ops.
const (
	ActionTypeLinkEntity     = "link_entity"
	ActionTypeCreateContract = "create_contract"
	ActionTypeCreateProject  = "create_project"
	ActionTypeSpendFunds     = "spend_funds"
)

func stringField(data map[string]any, key string) (string, error) {
	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("action data missing %q", key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("action data field %q must be a non-empty string", key)
	}
	return s, nil
}

func optionalString(data map[string]any, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

func numberField(data map[string]any, key string) (float64, error) {
	switch v := data[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("action data field %q must be a number", key)
	}
}

func handleLinkEntity(ctx context.Context, st ActionStore, proposal store.Proposal) (string, error) {
	entityType, err := stringField(proposal.ActionData, "entityType")
	if err != nil {
		return "", err
	}
	entityID, err := stringField(proposal.ActionData, "entityId")
	if err != nil {
		return "", err
	}
	entity := store.GroupEntity{
		ID:         util.NewID("gent"),
		GroupID:    proposal.GroupID,
		ProposalID: proposal.ID,
		EntityType: entityType,
		EntityID:   entityID,
	}
	if err := st.InsertGroupEntity(ctx, entity); err != nil {
		return "", err
	}
	return fmt.Sprintf("linked %s %s to group", entityType, entityID), nil
}

func handleCreateContract(ctx context.Context, st ActionStore, proposal store.Proposal) (string, error) {
	title, err := stringField(proposal.ActionData, "title")
	if err != nil {
		return "", err
	}
	contract := store.Contract{
		ID:         util.NewID("ctr"),
		GroupID:    proposal.GroupID,
		ProposalID: proposal.ID,
		Title:      title,
		PartyA:     optionalString(proposal.ActionData, "partyA"),
		PartyB:     optionalString(proposal.ActionData, "partyB"),
		Terms:      optionalString(proposal.ActionData, "terms"),
		Status:     "draft",
	}
	if err := st.InsertContract(ctx, contract); err != nil {
		return "", err
	}
	return fmt.Sprintf("created contract %s", contract.ID), nil
}

func handleCreateProject(ctx context.Context, st ActionStore, proposal store.Proposal) (string, error) {
	name, err := stringField(proposal.ActionData, "name")
	if err != nil {
		return "", err
	}
	project := store.Project{
		ID:          util.NewID("proj"),
		GroupID:     proposal.GroupID,
		ProposalID:  proposal.ID,
		Name:        name,
		Description: optionalString(proposal.ActionData, "description"),
		Status:      "active",
	}
	if err := st.InsertProject(ctx, project); err != nil {
		return "", err
	}
	return fmt.Sprintf("created project %s", project.ID), nil
}

// handleSpendFunds records the approved spend for the group's signers. Money
// never moves here: the stored row is the instruction, and its status stays
// pending_signatures until the signers act outside the engine.
func handleSpendFunds(ctx context.Context, st ActionStore, proposal store.Proposal) (string, error) {
	amount, err := numberField(proposal.ActionData, "amount")
	if err != nil {
		return "", err
	}
	recipient, err := stringField(proposal.ActionData, "recipient")
	if err != nil {
		return "", err
	}
	currency := optionalString(proposal.ActionData, "currency")
	if currency == "" {
		currency = "USD"
	}
	spend := store.FundSpend{
		ID:         util.NewID("spend"),
		GroupID:    proposal.GroupID,
		ProposalID: proposal.ID,
		Amount:     amount,
		Currency:   currency,
		Recipient:  recipient,
		Memo:       optionalString(proposal.ActionData, "memo"),
		Status:     "pending_signatures",
	}
	if err := st.InsertFundSpend(ctx, spend); err != nil {
		return "", err
	}
	return fmt.Sprintf("spend %s recorded; awaiting manual multi-signature execution", spend.ID), nil
}
