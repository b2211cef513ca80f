package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"quorum/api/internal/auth"
	"quorum/api/internal/authpw"
	"quorum/api/internal/catalog"
	"quorum/api/internal/config"
	"quorum/api/internal/email"
	"quorum/api/internal/governance"
	"quorum/api/internal/search"
	"quorum/api/internal/session"
	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the slice of persistence the HTTP service itself needs.
// The governance engine carries its own narrower store interface.
type dataStore interface {
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error
	UpdateUserPassword(context.Context, string, string) error

	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	CreateGroup(context.Context, store.Group) error
	GetGroup(context.Context, string) (store.Group, error)
	UpdateGroup(context.Context, store.Group) error
	DeleteGroup(context.Context, string) error
	ListGroupsForUser(context.Context, string) ([]store.Group, error)

	AddMember(context.Context, store.Member) error
	GetMember(context.Context, string, string) (store.Member, error)
	ListMembers(context.Context, string) ([]store.Member, error)
	UpdateMemberRole(context.Context, string, string, string) (bool, error)
	UpdateMemberOverrides(context.Context, string, string, map[string]string) (bool, error)
	RemoveMember(context.Context, string, string) (bool, error)

	GetProposal(context.Context, string) (store.Proposal, error)
	ListProposalsByGroup(context.Context, string) ([]store.Proposal, error)
	ListVotes(context.Context, string) ([]store.Vote, error)

	Ping(ctx context.Context) error
}

// searchIndex is the slice of the search facade the service drives.
type searchIndex interface {
	Search(search.Query) search.Response
	IndexGroup(search.GroupRecord)
	IndexProposal(search.ProposalRecord)
	DeleteGroup(id string)
	DeleteProposal(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	engine   *governance.Engine
	authpw   *authpw.Service
	sessions *session.RedisStore
	search   searchIndex
	email    *email.Service
}

func New(cfg config.Config, pg *store.PostgresStore, engine *governance.Engine, authSvc *authpw.Service, sessions *session.RedisStore, searchSvc *search.Service, emailSvc *email.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    pg,
		engine:   engine,
		authpw:   authSvc,
		sessions: sessions,
		email:    emailSvc,
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	return svc
}

func forbiddenError(message string) *governance.DomainError {
	return &governance.DomainError{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: message}
}

func voteRequiredError(action string) *governance.DomainError {
	return &governance.DomainError{
		Status:  http.StatusForbidden,
		Code:    "VOTE_REQUIRED",
		Message: "this action requires a group vote",
		Details: map[string]any{"action": action},
	}
}

func validationError(message string) *governance.DomainError {
	return &governance.DomainError{Status: http.StatusUnprocessableEntity, Code: "VALIDATION_ERROR", Message: message}
}

func notFoundError(message string) *governance.DomainError {
	return &governance.DomainError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: message}
}

// requireDirect checks that the user can perform the action immediately,
// rejecting both denies and vote-gated grants. Vote-gated actions reach
// their effect through a passed proposal's handler instead.
func (s *Service) requireDirect(ctx context.Context, userID, groupID, action string) error {
	decision := s.engine.Resolve(ctx, userID, groupID, action)
	if !decision.Allowed {
		return forbiddenError(decision.Reason)
	}
	if decision.RequiresVote {
		return voteRequiredError(action)
	}
	return nil
}

// Bootstrap seeds a demo user and group on an empty database.
func (s *Service) Bootstrap(ctx context.Context) error {
	if _, err := s.store.GetUserByEmail(ctx, "rosa@example.com"); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	founder, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:       "rosa@example.com",
		Password:    "quorum-demo-password",
		DisplayName: "Rosa",
	})
	if err != nil {
		return err
	}

	group := store.Group{
		ID:               util.NewID("grp"),
		Name:             "Builders Guild",
		Description:      "A worker cooperative coordinating shared projects and funds.",
		GovernancePreset: "council",
		IsPublic:         true,
		CreatedBy:        founder.ID,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return err
	}
	if err := s.store.AddMember(ctx, store.Member{
		ID:      util.NewID("mem"),
		GroupID: group.ID,
		UserID:  founder.ID,
		Role:    string(catalog.RoleFounder),
	}); err != nil {
		return err
	}

	proposal, err := s.engine.CreateProposal(ctx, governance.CreateProposalInput{
		GroupID:      group.ID,
		ProposerID:   founder.ID,
		Title:        "Adopt a monthly budget review",
		Description:  "Review treasury spend at the start of each month.",
		ProposalType: "governance",
	})
	if err != nil {
		return err
	}
	if _, err := s.engine.ActivateProposal(ctx, proposal.ID, founder.ID); err != nil {
		return err
	}

	if s.search != nil {
		s.search.IndexGroup(search.GroupRecord{
			ID:          group.ID,
			Name:        group.Name,
			Description: group.Description,
			Preset:      group.GovernancePreset,
			IsPublic:    group.IsPublic,
		})
	}
	return nil
}

// --- sessions ---

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)

	var user store.User
	if s.sessions != nil {
		data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
		if err != nil {
			return Session{}, err
		}
		user, err = s.store.GetUserByID(ctx, data.UserID)
		if err != nil {
			return Session{}, err
		}
		if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
			return Session{}, err
		}
	} else {
		var err error
		user, err = s.store.LookupRefreshSession(ctx, tokenHash)
		if err != nil {
			return Session{}, err
		}
		if err := s.store.RevokeRefreshSession(ctx, tokenHash); err != nil {
			return Session{}, err
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	tokenHash := auth.HashToken(refresh)
	if s.sessions != nil {
		err = s.sessions.SaveRefreshSession(ctx, tokenHash, user.ID, user.DisplayName, refreshExpires)
	} else {
		err = s.store.SaveRefreshSession(ctx, tokenHash, user.ID, refreshExpires)
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		tokenHash := auth.HashToken(refreshToken)
		if s.sessions != nil {
			_ = s.sessions.RevokeRefreshSession(ctx, tokenHash)
		} else {
			_ = s.store.RevokeRefreshSession(ctx, tokenHash)
		}
	}
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	return s.authpw.ChangePassword(ctx, authpw.ChangePasswordRequest{
		UserID:          userID,
		CurrentPassword: currentPassword,
		NewPassword:     newPassword,
	})
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- groups ---

type CreateGroupInput struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	GovernancePreset string   `json:"governancePreset"`
	VotingThreshold  *float64 `json:"votingThreshold"`
	IsPublic         bool     `json:"isPublic"`
}

func (s *Service) CreateGroup(ctx context.Context, userID string, input CreateGroupInput) (map[string]any, error) {
	if input.Name == "" {
		return nil, validationError("name is required")
	}
	preset := input.GovernancePreset
	if preset == "" {
		preset = "founder_led"
	}
	if _, ok := catalog.Lookup(preset); !ok {
		return nil, validationError("unknown governance preset")
	}
	if input.VotingThreshold != nil && (*input.VotingThreshold < 1 || *input.VotingThreshold > 100) {
		return nil, validationError("voting threshold must be between 1 and 100")
	}

	group := store.Group{
		ID:               util.NewID("grp"),
		Name:             input.Name,
		Description:      input.Description,
		GovernancePreset: preset,
		VotingThreshold:  input.VotingThreshold,
		IsPublic:         input.IsPublic,
		CreatedBy:        userID,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	if err := s.store.AddMember(ctx, store.Member{
		ID:      util.NewID("mem"),
		GroupID: group.ID,
		UserID:  userID,
		Role:    string(catalog.RoleFounder),
	}); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexGroup(groupRecord(group))
	}
	return map[string]any{"group": groupPayload(group)}, nil
}

func (s *Service) GetGroup(ctx context.Context, userID, groupID string) (map[string]any, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("group not found")
		}
		return nil, err
	}

	payload := map[string]any{"group": groupPayload(group)}
	member, err := s.store.GetMember(ctx, groupID, userID)
	if err == nil {
		payload["membership"] = memberPayload(member)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	} else if !group.IsPublic {
		return nil, notFoundError("group not found")
	}
	return payload, nil
}

type UpdateGroupInput struct {
	Name             *string  `json:"name"`
	Description      *string  `json:"description"`
	GovernancePreset *string  `json:"governancePreset"`
	VotingThreshold  *float64 `json:"votingThreshold"`
	IsPublic         *bool    `json:"isPublic"`
}

func (s *Service) UpdateGroup(ctx context.Context, userID, groupID string, input UpdateGroupInput) (map[string]any, error) {
	if err := s.requireDirect(ctx, userID, groupID, catalog.ActionEditGroup); err != nil {
		return nil, err
	}
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		if *input.Name == "" {
			return nil, validationError("name is required")
		}
		group.Name = *input.Name
	}
	if input.Description != nil {
		group.Description = *input.Description
	}
	if input.GovernancePreset != nil {
		if _, ok := catalog.Lookup(*input.GovernancePreset); !ok {
			return nil, validationError("unknown governance preset")
		}
		group.GovernancePreset = *input.GovernancePreset
	}
	if input.VotingThreshold != nil {
		if *input.VotingThreshold < 1 || *input.VotingThreshold > 100 {
			return nil, validationError("voting threshold must be between 1 and 100")
		}
		group.VotingThreshold = input.VotingThreshold
	}
	if input.IsPublic != nil {
		group.IsPublic = *input.IsPublic
	}

	if err := s.store.UpdateGroup(ctx, group); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexGroup(groupRecord(group))
	}
	return map[string]any{"group": groupPayload(group)}, nil
}

func (s *Service) DeleteGroup(ctx context.Context, userID, groupID string) error {
	if err := s.requireDirect(ctx, userID, groupID, catalog.ActionDeleteGroup); err != nil {
		return err
	}
	if err := s.store.DeleteGroup(ctx, groupID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteGroup(groupID)
	}
	return nil
}

func (s *Service) ListGroups(ctx context.Context, userID string) (map[string]any, error) {
	groups, err := s.store.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(groups))
	for _, group := range groups {
		items = append(items, groupPayload(group))
	}
	return map[string]any{"groups": items}, nil
}

// --- members ---

func (s *Service) JoinGroup(ctx context.Context, userID, groupID string) (map[string]any, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("group not found")
		}
		return nil, err
	}
	if !group.IsPublic {
		return nil, forbiddenError("group is invite-only")
	}

	member := store.Member{
		ID:      util.NewID("mem"),
		GroupID: groupID,
		UserID:  userID,
		Role:    string(catalog.RoleMember),
	}
	if err := s.store.AddMember(ctx, member); err != nil {
		return nil, err
	}
	stored, err := s.store.GetMember(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"membership": memberPayload(stored)}, nil
}

func (s *Service) LeaveGroup(ctx context.Context, userID, groupID string) error {
	member, err := s.store.GetMember(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("membership not found")
		}
		return err
	}
	if member.Role == string(catalog.RoleFounder) {
		return forbiddenError("the founder cannot leave the group")
	}
	removed, err := s.store.RemoveMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return notFoundError("membership not found")
	}
	return nil
}

func (s *Service) ListMembers(ctx context.Context, userID, groupID string) (map[string]any, error) {
	if _, err := s.store.GetMember(ctx, groupID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, forbiddenError("not a member")
		}
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, member := range members {
		items = append(items, memberPayload(member))
	}
	return map[string]any{"members": items}, nil
}

type UpdateMemberInput struct {
	Role                *string           `json:"role"`
	PermissionOverrides map[string]string `json:"permissionOverrides"`
}

func (s *Service) UpdateMember(ctx context.Context, callerID, groupID, targetUserID string, input UpdateMemberInput) (map[string]any, error) {
	if err := s.requireDirect(ctx, callerID, groupID, catalog.ActionManageMembers); err != nil {
		return nil, err
	}
	target, err := s.store.GetMember(ctx, groupID, targetUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("membership not found")
		}
		return nil, err
	}

	if input.Role != nil {
		if _, ok := catalog.NormalizeRole(*input.Role); !ok {
			return nil, validationError("role must be founder, admin or member")
		}
		// The founder seat is fixed at creation: it can be neither vacated
		// nor handed out.
		if *input.Role == string(catalog.RoleFounder) {
			return nil, validationError("the founder role cannot be assigned")
		}
		if target.Role == string(catalog.RoleFounder) {
			return nil, forbiddenError("the founder cannot be demoted")
		}
		updated, err := s.store.UpdateMemberRole(ctx, groupID, targetUserID, *input.Role)
		if err != nil {
			return nil, err
		}
		if !updated {
			return nil, notFoundError("membership not found")
		}
	}
	if input.PermissionOverrides != nil {
		for action, decision := range input.PermissionOverrides {
			if _, ok := catalog.ParseDecision(decision); !ok {
				return nil, validationError(fmt.Sprintf("invalid override %q for action %q", decision, action))
			}
		}
		updated, err := s.store.UpdateMemberOverrides(ctx, groupID, targetUserID, input.PermissionOverrides)
		if err != nil {
			return nil, err
		}
		if !updated {
			return nil, notFoundError("membership not found")
		}
	}

	member, err := s.store.GetMember(ctx, groupID, targetUserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"membership": memberPayload(member)}, nil
}

func (s *Service) RemoveMember(ctx context.Context, callerID, groupID, targetUserID string) error {
	if callerID == targetUserID {
		return s.LeaveGroup(ctx, callerID, groupID)
	}
	if err := s.requireDirect(ctx, callerID, groupID, catalog.ActionManageMembers); err != nil {
		return err
	}
	target, err := s.store.GetMember(ctx, groupID, targetUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("membership not found")
		}
		return err
	}
	if target.Role == string(catalog.RoleFounder) {
		return forbiddenError("the founder cannot be removed")
	}
	removed, err := s.store.RemoveMember(ctx, groupID, targetUserID)
	if err != nil {
		return err
	}
	if !removed {
		return notFoundError("membership not found")
	}
	return nil
}

// InviteMember mails a join link on behalf of the group. No membership or
// token is created; the invitee joins through the normal signup path.
func (s *Service) InviteMember(ctx context.Context, callerID, groupID, email, name string) error {
	if err := s.requireDirect(ctx, callerID, groupID, catalog.ActionManageMembers); err != nil {
		return err
	}
	if email == "" {
		return validationError("email is required")
	}
	if s.email == nil || !s.email.IsConfigured() {
		return &governance.DomainError{Status: http.StatusServiceUnavailable, Code: "EMAIL_UNAVAILABLE", Message: "email is not configured"}
	}
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	joinURL := fmt.Sprintf("%s/groups/%s", s.cfg.CORSOrigin, group.ID)
	go func() {
		if err := s.email.SendInvitationEmail(email, name, group.Name, joinURL); err != nil {
			log.Printf("email: invitation to %s for group %s: %v", email, group.ID, err)
		}
	}()
	return nil
}

// --- permissions ---

func (s *Service) CheckPermission(ctx context.Context, userID, groupID, action string) map[string]any {
	decision := s.engine.Resolve(ctx, userID, groupID, action)
	return map[string]any{"action": action, "decision": decision}
}

// PermissionProfile resolves every cataloged action for the caller at once.
func (s *Service) PermissionProfile(ctx context.Context, userID, groupID string) map[string]any {
	decisions := s.engine.ResolveAll(ctx, userID, groupID, catalog.Actions)
	return map[string]any{"groupId": groupID, "permissions": decisions}
}

// --- proposals ---

type ProposalInput struct {
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	ProposalType    string         `json:"proposalType"`
	ActionType      string         `json:"actionType"`
	ActionData      map[string]any `json:"actionData"`
	VotingThreshold *float64       `json:"votingThreshold"`
}

func (s *Service) CreateProposal(ctx context.Context, userID, groupID string, input ProposalInput) (map[string]any, error) {
	proposal, err := s.engine.CreateProposal(ctx, governance.CreateProposalInput{
		GroupID:         groupID,
		ProposerID:      userID,
		Title:           input.Title,
		Description:     input.Description,
		ProposalType:    input.ProposalType,
		ActionType:      input.ActionType,
		ActionData:      input.ActionData,
		VotingThreshold: input.VotingThreshold,
	})
	if err != nil {
		return nil, err
	}
	s.indexProposal(ctx, proposal)
	return map[string]any{"proposal": proposalPayload(proposal)}, nil
}

func (s *Service) ListGroupProposals(ctx context.Context, userID, groupID string) (map[string]any, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("group not found")
		}
		return nil, err
	}
	if _, err := s.store.GetMember(ctx, groupID, userID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if !group.IsPublic {
			return nil, forbiddenError("not a member")
		}
	}

	proposals, err := s.store.ListProposalsByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(proposals))
	for _, proposal := range proposals {
		items = append(items, proposalPayload(proposal))
	}
	return map[string]any{"proposals": items}, nil
}

// GetProposal settles any expired voting window before returning, so reads
// never show an active proposal whose deadline has passed.
func (s *Service) GetProposal(ctx context.Context, userID, proposalID string) (map[string]any, error) {
	if err := s.engine.CheckResolution(ctx, proposalID); err != nil {
		return nil, err
	}
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("proposal not found")
		}
		return nil, err
	}

	tally, err := s.engine.TallyVotes(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"proposal": proposalPayload(proposal),
		"tally":    tally.Rounded(),
	}, nil
}

type UpdateProposalInput struct {
	Title           *string        `json:"title"`
	Description     *string        `json:"description"`
	ProposalType    *string        `json:"proposalType"`
	ActionType      *string        `json:"actionType"`
	ActionData      map[string]any `json:"actionData"`
	VotingThreshold *float64       `json:"votingThreshold"`
}

func (s *Service) UpdateProposal(ctx context.Context, userID, proposalID string, input UpdateProposalInput) (map[string]any, error) {
	proposal, err := s.engine.UpdateProposal(ctx, proposalID, userID, governance.UpdateProposalInput{
		Title:           input.Title,
		Description:     input.Description,
		ProposalType:    input.ProposalType,
		ActionType:      input.ActionType,
		ActionData:      input.ActionData,
		VotingThreshold: input.VotingThreshold,
	})
	if err != nil {
		return nil, err
	}
	s.indexProposal(ctx, proposal)
	return map[string]any{"proposal": proposalPayload(proposal)}, nil
}

func (s *Service) ActivateProposal(ctx context.Context, userID, proposalID string) (map[string]any, error) {
	proposal, err := s.engine.ActivateProposal(ctx, proposalID, userID)
	if err != nil {
		return nil, err
	}
	s.indexProposal(ctx, proposal)
	return map[string]any{"proposal": proposalPayload(proposal)}, nil
}

func (s *Service) CancelProposal(ctx context.Context, userID, proposalID string) error {
	return s.engine.CancelProposal(ctx, proposalID, userID)
}

func (s *Service) DeleteProposal(ctx context.Context, userID, proposalID string) error {
	if err := s.engine.DeleteProposal(ctx, proposalID, userID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProposal(proposalID)
	}
	return nil
}

type CastVoteInput struct {
	Choice string  `json:"choice"`
	Power  float64 `json:"power"`
}

func (s *Service) CastVote(ctx context.Context, userID, proposalID string, input CastVoteInput) (map[string]any, error) {
	tally, err := s.engine.CastVote(ctx, governance.CastVoteInput{
		ProposalID: proposalID,
		VoterID:    userID,
		Choice:     input.Choice,
		Power:      input.Power,
	})
	if err != nil {
		return nil, err
	}

	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Status != governance.StatusActive {
		s.indexProposal(ctx, proposal)
		s.notifyResolved(ctx, proposal)
	}
	return map[string]any{
		"proposal": proposalPayload(proposal),
		"tally":    tally.Rounded(),
	}, nil
}

func (s *Service) ListVotes(ctx context.Context, userID, proposalID string) (map[string]any, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("proposal not found")
		}
		return nil, err
	}
	if _, err := s.store.GetMember(ctx, proposal.GroupID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, forbiddenError("not a member")
		}
		return nil, err
	}

	votes, err := s.store.ListVotes(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(votes))
	for _, vote := range votes {
		items = append(items, map[string]any{
			"voterId": vote.VoterID,
			"choice":  vote.Choice,
			"power":   vote.Power,
			"castAt":  vote.CastAt,
		})
	}
	tally, err := s.engine.TallyVotes(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"votes": items, "tally": tally.Rounded()}, nil
}

// --- search ---

// Search scopes results to public groups plus the caller's own memberships,
// so private-group proposals never leak to outsiders.
func (s *Service) Search(ctx context.Context, userID, text, filterType, groupID string, limit, offset int) (map[string]any, error) {
	if s.search == nil {
		return nil, &governance.DomainError{Status: http.StatusServiceUnavailable, Code: "SEARCH_UNAVAILABLE", Message: "search is not configured"}
	}

	groups, err := s.store.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	memberGroups := make(map[string]bool, len(groups))
	memberIDs := make([]string, 0, len(groups))
	for _, group := range groups {
		memberGroups[group.ID] = true
		memberIDs = append(memberIDs, group.ID)
	}

	response := s.search.Search(search.Query{
		Text:           text,
		FilterType:     search.ResultType(filterType),
		FilterGroupID:  groupID,
		Limit:          limit,
		Offset:         offset,
		MemberGroupIDs: memberIDs,
	})

	// The backends already scope the query; drop anything a stale index
	// still surfaced.
	visible := make([]search.Result, 0, len(response.Results))
	for _, result := range response.Results {
		if result.IsPublic || memberGroups[result.GroupID] {
			visible = append(visible, result)
		}
	}
	total := response.Total - (len(response.Results) - len(visible))

	return map[string]any{
		"results": visible,
		"total":   total,
		"query":   response.Query,
	}, nil
}

// --- helpers ---

func (s *Service) indexProposal(ctx context.Context, proposal store.Proposal) {
	if s.search == nil {
		return
	}
	isPublic := false
	if group, err := s.store.GetGroup(ctx, proposal.GroupID); err == nil {
		isPublic = group.IsPublic
	}
	s.search.IndexProposal(search.ProposalRecord{
		ID:           proposal.ID,
		Title:        proposal.Title,
		Description:  proposal.Description,
		GroupID:      proposal.GroupID,
		ProposalType: proposal.ProposalType,
		Status:       proposal.Status,
		IsPublic:     isPublic,
	})
}

// notifyResolved emails the proposer once their proposal reaches a terminal
// outcome. Failures are logged and dropped; resolution never depends on mail.
func (s *Service) notifyResolved(ctx context.Context, proposal store.Proposal) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	proposer, err := s.store.GetUserByID(ctx, proposal.ProposerID)
	if err != nil {
		return
	}
	go func() {
		err := s.email.SendProposalResolvedEmail(
			proposer.Email,
			proposer.DisplayName,
			proposal.Title,
			proposal.Status,
			fmt.Sprintf("%s/proposals/%s", s.cfg.CORSOrigin, proposal.ID),
		)
		if err != nil {
			log.Printf("email: resolution notice for proposal %s: %v", proposal.ID, err)
		}
	}()
}

func groupPayload(group store.Group) map[string]any {
	return map[string]any{
		"id":               group.ID,
		"name":             group.Name,
		"description":      group.Description,
		"governancePreset": group.GovernancePreset,
		"votingThreshold":  group.VotingThreshold,
		"isPublic":         group.IsPublic,
		"createdBy":        group.CreatedBy,
		"createdAt":        group.CreatedAt,
		"updatedAt":        group.UpdatedAt,
	}
}

func memberPayload(member store.Member) map[string]any {
	return map[string]any{
		"id":                  member.ID,
		"groupId":             member.GroupID,
		"userId":              member.UserID,
		"role":                member.Role,
		"permissionOverrides": member.PermissionOverrides,
		"joinedAt":            member.JoinedAt,
	}
}

func proposalPayload(proposal store.Proposal) map[string]any {
	return map[string]any{
		"id":              proposal.ID,
		"groupId":         proposal.GroupID,
		"proposerId":      proposal.ProposerID,
		"title":           proposal.Title,
		"description":     proposal.Description,
		"proposalType":    proposal.ProposalType,
		"actionType":      proposal.ActionType,
		"actionData":      proposal.ActionData,
		"votingThreshold": proposal.VotingThreshold,
		"votingStartsAt":  proposal.VotingStartsAt,
		"votingEndsAt":    proposal.VotingEndsAt,
		"status":          proposal.Status,
		"executedAt":      proposal.ExecutedAt,
		"executionResult": proposal.ExecutionResult,
		"createdAt":       proposal.CreatedAt,
		"updatedAt":       proposal.UpdatedAt,
	}
}

func groupRecord(group store.Group) search.GroupRecord {
	return search.GroupRecord{
		ID:          group.ID,
		Name:        group.Name,
		Description: group.Description,
		Preset:      group.GovernancePreset,
		IsPublic:    group.IsPublic,
	}
}
