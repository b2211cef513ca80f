package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users ---

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return nil
}

// --- refresh sessions (Postgres fallback when Redis is unavailable) ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.password_hash, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// --- groups ---

func (s *PostgresStore) CreateGroup(ctx context.Context, group Group) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, name, description, governance_preset, voting_threshold, is_public, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, group.ID, group.Name, group.Description, group.GovernancePreset, group.VotingThreshold, group.IsPublic, group.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (Group, error) {
	var group Group
	var threshold sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description, ''), governance_preset, voting_threshold, is_public, created_by, created_at, updated_at
		FROM groups
		WHERE id=$1
	`, groupID).Scan(&group.ID, &group.Name, &group.Description, &group.GovernancePreset, &threshold, &group.IsPublic, &group.CreatedBy, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return Group{}, err
	}
	if threshold.Valid {
		group.VotingThreshold = &threshold.Float64
	}
	return group, nil
}

func (s *PostgresStore) UpdateGroup(ctx context.Context, group Group) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE groups
		SET name=$2, description=$3, governance_preset=$4, voting_threshold=$5, is_public=$6, updated_at=NOW()
		WHERE id=$1
	`, group.ID, group.Name, group.Description, group.GovernancePreset, group.VotingThreshold, group.IsPublic)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, groupID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id=$1`, groupID)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

// ListGroupsForUser returns every group the user belongs to plus all public groups.
func (s *PostgresStore) ListGroupsForUser(ctx context.Context, userID string) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT g.id, g.name, COALESCE(g.description, ''), g.governance_preset, g.voting_threshold, g.is_public, g.created_by, g.created_at, g.updated_at
		FROM groups g
		LEFT JOIN group_members m ON m.group_id = g.id AND m.user_id = $1
		WHERE g.is_public OR m.user_id IS NOT NULL
		ORDER BY g.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	items := make([]Group, 0)
	for rows.Next() {
		var group Group
		var threshold sql.NullFloat64
		if err := rows.Scan(&group.ID, &group.Name, &group.Description, &group.GovernancePreset, &threshold, &group.IsPublic, &group.CreatedBy, &group.CreatedAt, &group.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		if threshold.Valid {
			group.VotingThreshold = &threshold.Float64
		}
		items = append(items, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return items, nil
}

// --- members ---

func (s *PostgresStore) AddMember(ctx context.Context, member Member) error {
	overrides, err := marshalOverrides(member.PermissionOverrides)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO group_members (id, group_id, user_id, role, permission_overrides)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, member.ID, member.GroupID, member.UserID, member.Role, overrides)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMember(ctx context.Context, groupID, userID string) (Member, error) {
	var member Member
	var overrides []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, user_id, role, COALESCE(permission_overrides, '{}'::jsonb), joined_at
		FROM group_members
		WHERE group_id=$1 AND user_id=$2
	`, groupID, userID).Scan(&member.ID, &member.GroupID, &member.UserID, &member.Role, &overrides, &member.JoinedAt)
	if err != nil {
		return Member{}, err
	}
	if err := json.Unmarshal(overrides, &member.PermissionOverrides); err != nil {
		return Member{}, fmt.Errorf("decode permission overrides: %w", err)
	}
	return member, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, groupID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, user_id, role, COALESCE(permission_overrides, '{}'::jsonb), joined_at
		FROM group_members
		WHERE group_id=$1
		ORDER BY joined_at ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		var member Member
		var overrides []byte
		if err := rows.Scan(&member.ID, &member.GroupID, &member.UserID, &member.Role, &overrides, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if err := json.Unmarshal(overrides, &member.PermissionOverrides); err != nil {
			return nil, fmt.Errorf("decode permission overrides: %w", err)
		}
		items = append(items, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, groupID, userID, role string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE group_members SET role=$3 WHERE group_id=$1 AND user_id=$2
	`, groupID, userID, role)
	if err != nil {
		return false, fmt.Errorf("update member role: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update member role rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateMemberOverrides(ctx context.Context, groupID, userID string, overrides map[string]string) (bool, error) {
	encoded, err := marshalOverrides(overrides)
	if err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE group_members SET permission_overrides=$3 WHERE group_id=$1 AND user_id=$2
	`, groupID, userID, encoded)
	if err != nil {
		return false, fmt.Errorf("update member overrides: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update member overrides rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, groupID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM group_members WHERE group_id=$1 AND user_id=$2
	`, groupID, userID)
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove member rows: %w", err)
	}
	return affected > 0, nil
}

func marshalOverrides(overrides map[string]string) ([]byte, error) {
	if overrides == nil {
		overrides = map[string]string{}
	}
	encoded, err := json.Marshal(overrides)
	if err != nil {
		return nil, fmt.Errorf("encode permission overrides: %w", err)
	}
	return encoded, nil
}

// --- proposals ---

const proposalColumns = `
	id, group_id, proposer_id, title, COALESCE(description, ''), proposal_type,
	COALESCE(action_type, ''), COALESCE(action_data, '{}'::jsonb),
	voting_threshold, voting_starts_at, voting_ends_at,
	status, executed_at, execution_result, created_at, updated_at`

func (s *PostgresStore) scanProposal(row interface{ Scan(...any) error }) (Proposal, error) {
	var item Proposal
	var actionData []byte
	var threshold sql.NullFloat64
	var startsAt, endsAt, executedAt sql.NullTime
	var executionResult []byte

	err := row.Scan(
		&item.ID,
		&item.GroupID,
		&item.ProposerID,
		&item.Title,
		&item.Description,
		&item.ProposalType,
		&item.ActionType,
		&actionData,
		&threshold,
		&startsAt,
		&endsAt,
		&item.Status,
		&executedAt,
		&executionResult,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Proposal{}, err
	}

	if err := json.Unmarshal(actionData, &item.ActionData); err != nil {
		return Proposal{}, fmt.Errorf("decode action data: %w", err)
	}
	if threshold.Valid {
		item.VotingThreshold = &threshold.Float64
	}
	if startsAt.Valid {
		item.VotingStartsAt = &startsAt.Time
	}
	if endsAt.Valid {
		item.VotingEndsAt = &endsAt.Time
	}
	if executedAt.Valid {
		item.ExecutedAt = &executedAt.Time
	}
	if len(executionResult) > 0 {
		var result ExecutionResult
		if err := json.Unmarshal(executionResult, &result); err != nil {
			return Proposal{}, fmt.Errorf("decode execution result: %w", err)
		}
		item.ExecutionResult = &result
	}
	return item, nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=$1`, proposalID)
	return s.scanProposal(row)
}

func (s *PostgresStore) ListProposalsByGroup(ctx context.Context, groupID string) ([]Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE group_id=$1
		ORDER BY created_at DESC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	items := make([]Proposal, 0)
	for rows.Next() {
		item, err := s.scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateProposal(ctx context.Context, proposal Proposal) error {
	actionData, err := marshalActionData(proposal.ActionData)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, group_id, proposer_id, title, description, proposal_type, action_type, action_data, voting_threshold, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, proposal.ID, proposal.GroupID, proposal.ProposerID, proposal.Title, proposal.Description,
		proposal.ProposalType, proposal.ActionType, actionData, proposal.VotingThreshold, proposal.Status)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDraftProposal(ctx context.Context, proposal Proposal) (bool, error) {
	actionData, err := marshalActionData(proposal.ActionData)
	if err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET title=$2, description=$3, proposal_type=$4, action_type=$5, action_data=$6, voting_threshold=$7, updated_at=NOW()
		WHERE id=$1 AND status='draft'
	`, proposal.ID, proposal.Title, proposal.Description, proposal.ProposalType,
		proposal.ActionType, actionData, proposal.VotingThreshold)
	if err != nil {
		return false, fmt.Errorf("update draft proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update draft proposal rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteDraftProposal(ctx context.Context, proposalID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM proposals WHERE id=$1 AND status='draft'`, proposalID)
	if err != nil {
		return false, fmt.Errorf("delete draft proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete draft proposal rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ActivateProposal(ctx context.Context, proposalID string, threshold float64, startsAt, endsAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET status='active', voting_threshold=$2, voting_starts_at=$3, voting_ends_at=$4, updated_at=NOW()
		WHERE id=$1 AND status='draft'
	`, proposalID, threshold, startsAt, endsAt)
	if err != nil {
		return false, fmt.Errorf("activate proposal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate proposal rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateProposalStatus(ctx context.Context, proposalID, from, to string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET status=$3, updated_at=NOW()
		WHERE id=$1 AND status=$2
	`, proposalID, from, to)
	if err != nil {
		return false, fmt.Errorf("update proposal status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update proposal status rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ClaimProposalExecution(ctx context.Context, proposalID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET executed_at=$2, updated_at=NOW()
		WHERE id=$1 AND executed_at IS NULL
	`, proposalID, at)
	if err != nil {
		return false, fmt.Errorf("claim proposal execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim proposal execution rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SetExecutionResult(ctx context.Context, proposalID string, execResult ExecutionResult) error {
	encoded, err := json.Marshal(execResult)
	if err != nil {
		return fmt.Errorf("encode execution result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE proposals
		SET execution_result=$2,
			status = CASE WHEN status='passed' THEN 'executed' ELSE status END,
			updated_at=NOW()
		WHERE id=$1
	`, proposalID, encoded)
	if err != nil {
		return fmt.Errorf("set execution result: %w", err)
	}
	return nil
}

func marshalActionData(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode action data: %w", err)
	}
	return encoded, nil
}

// --- votes ---

func (s *PostgresStore) UpsertVote(ctx context.Context, vote Vote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (proposal_id, voter_id, choice, power, cast_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (proposal_id, voter_id)
		DO UPDATE SET choice=EXCLUDED.choice, power=EXCLUDED.power, cast_at=EXCLUDED.cast_at
	`, vote.ProposalID, vote.VoterID, vote.Choice, vote.Power, vote.CastAt)
	if err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVotes(ctx context.Context, proposalID string) ([]Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT proposal_id, voter_id, choice, power, cast_at
		FROM votes
		WHERE proposal_id=$1
		ORDER BY cast_at ASC
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	items := make([]Vote, 0)
	for rows.Next() {
		var vote Vote
		if err := rows.Scan(&vote.ProposalID, &vote.VoterID, &vote.Choice, &vote.Power, &vote.CastAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		items = append(items, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return items, nil
}

// --- action handler writes ---

func (s *PostgresStore) InsertGroupEntity(ctx context.Context, entity GroupEntity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_entities (id, group_id, proposal_id, entity_type, entity_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id, entity_type, entity_id) DO NOTHING
	`, entity.ID, entity.GroupID, entity.ProposalID, entity.EntityType, entity.EntityID)
	if err != nil {
		return fmt.Errorf("insert group entity: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertContract(ctx context.Context, contract Contract) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contracts (id, group_id, proposal_id, title, party_a, party_b, terms, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, contract.ID, contract.GroupID, contract.ProposalID, contract.Title, contract.PartyA, contract.PartyB, contract.Terms, contract.Status)
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, group_id, proposal_id, name, description, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, project.ID, project.GroupID, project.ProposalID, project.Name, project.Description, project.Status)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertFundSpend(ctx context.Context, spend FundSpend) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fund_spends (id, group_id, proposal_id, amount, currency, recipient, memo, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, spend.ID, spend.GroupID, spend.ProposalID, spend.Amount, spend.Currency, spend.Recipient, spend.Memo, spend.Status)
	if err != nil {
		return fmt.Errorf("insert fund spend: %w", err)
	}
	return nil
}
