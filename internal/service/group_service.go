package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"huddle/internal/events"
	"huddle/internal/models"
	"huddle/internal/repository"

	"gorm.io/gorm"
)

const (
	maxGroupName        = 100
	maxGroupDescription = 500
)

// GroupService manages groups and their memberships.
type GroupService struct {
	db        *gorm.DB
	groupRepo repository.GroupRepository
	chatRepo  repository.ChatRepository
	userRepo  repository.UserRepository
	bus       *events.Bus
	now       func() time.Time
}

// CreateGroupInput is the input for creating a group.
type CreateGroupInput struct {
	Owner       *models.User
	Name        string
	Description string
	Visibility  models.GroupVisibility
}

// GroupDetail is a group together with its conversation.
type GroupDetail struct {
	models.Group
	ConversationID uint `json:"conversation_id"`
}

// NewGroupService returns a new GroupService.
func NewGroupService(
	db *gorm.DB,
	groupRepo repository.GroupRepository,
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	bus *events.Bus,
) *GroupService {
	return &GroupService{
		db:        db,
		groupRepo: groupRepo,
		chatRepo:  chatRepo,
		userRepo:  userRepo,
		bus:       bus,
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (s *GroupService) SetClock(now func() time.Time) {
	s.now = now
}

// Create makes the group, its conversation and the owner membership.
func (s *GroupService) Create(ctx context.Context, in CreateGroupInput) (*GroupDetail, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || utf8.RuneCountInString(name) > maxGroupName {
		return nil, models.NewFieldValidationError("name", "Group name must be 1-100 characters")
	}
	if utf8.RuneCountInString(in.Description) > maxGroupDescription {
		return nil, models.NewFieldValidationError("description", "Description must not exceed 500 characters")
	}
	if in.Visibility == "" {
		in.Visibility = models.GroupPublic
	}
	if in.Visibility != models.GroupPublic && in.Visibility != models.GroupPrivate {
		return nil, models.NewFieldValidationError("visibility", "Visibility must be public or private")
	}

	now := s.now().UTC()
	group := &models.Group{
		Name:         name,
		Description:  in.Description,
		Visibility:   in.Visibility,
		CreatedBy:    in.Owner.ID,
		LastActivity: &now,
	}
	conv := &models.Conversation{Type: models.ConversationGroup, Title: name}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		groupRepo := repository.NewGroupRepository(tx)
		if err := groupRepo.Create(ctx, group); err != nil {
			return err
		}
		conv.GroupID = &group.ID
		if err := repository.NewChatRepository(tx).CreateConversation(ctx, conv); err != nil {
			return err
		}
		return groupRepo.SaveMember(ctx, &models.GroupMember{
			GroupID:  group.ID,
			UserID:   in.Owner.ID,
			Role:     models.GroupRoleOwner,
			Status:   models.MemberActive,
			JoinedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return &GroupDetail{Group: *group, ConversationID: conv.ID}, nil
}

// Get returns a live group. Private groups are visible to members only.
func (s *GroupService) Get(ctx context.Context, groupID uint, reader *models.User) (*GroupDetail, error) {
	group, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.Visibility == models.GroupPrivate && !reader.IsAdmin() {
		if _, err := s.activeMember(ctx, groupID, reader.ID); err != nil {
			return nil, models.NewNotFoundError("Group", groupID)
		}
	}
	conv, err := s.chatRepo.GetGroupConversation(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return &GroupDetail{Group: *group, ConversationID: conv.ID}, nil
}

// ListPublic returns public groups.
func (s *GroupService) ListPublic(ctx context.Context, limit, offset int) ([]models.Group, error) {
	return s.groupRepo.ListPublic(ctx, limit, offset)
}

// Members lists the active members of a group the reader can see.
func (s *GroupService) Members(ctx context.Context, groupID uint, reader *models.User) ([]models.GroupMember, error) {
	if _, err := s.Get(ctx, groupID, reader); err != nil {
		return nil, err
	}
	return s.groupRepo.ListMembers(ctx, groupID)
}

// Join adds the user to a public group. Members who left or were kicked
// may rejoin; banned members may not.
func (s *GroupService) Join(ctx context.Context, groupID uint, user *models.User) (*models.GroupMember, error) {
	group, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.Visibility != models.GroupPublic {
		return nil, models.NewForbiddenError("This group is private")
	}
	return s.admit(ctx, group, user)
}

// AddMember lets an owner or admin add a user to the group.
func (s *GroupService) AddMember(ctx context.Context, groupID uint, actor *models.User, userID uint) (*models.GroupMember, error) {
	group, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManager(ctx, groupID, actor); err != nil {
		return nil, err
	}
	target, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !target.IsLive() {
		return nil, models.NewForbiddenError("Cannot add an inactive account")
	}
	return s.admit(ctx, group, target)
}

func (s *GroupService) admit(ctx context.Context, group *models.Group, user *models.User) (*models.GroupMember, error) {
	member, err := s.groupRepo.GetMember(ctx, group.ID, user.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case member == nil:
		member = &models.GroupMember{GroupID: group.ID, UserID: user.ID}
	case member.Status == models.MemberActive:
		return nil, models.NewConflictError("Already a member of this group")
	case member.Status == models.MemberBanned:
		return nil, models.NewForbiddenError("Banned from this group")
	}
	member.Role = models.GroupRoleMember
	member.Status = models.MemberActive
	member.JoinedAt = s.now().UTC()
	member.UnreadCount = 0
	member.LastReadAt = nil

	if err := s.groupRepo.SaveMember(ctx, member); err != nil {
		return nil, err
	}
	events.Publish(ctx, s.bus, events.GroupMemberJoined{GroupID: group.ID, UserID: user.ID, Username: user.Username})
	return member, nil
}

// Leave ends the user's membership. The owner must transfer ownership first.
func (s *GroupService) Leave(ctx context.Context, groupID uint, user *models.User) error {
	if _, err := s.groupRepo.GetByID(ctx, groupID); err != nil {
		return err
	}
	member, err := s.activeMember(ctx, groupID, user.ID)
	if err != nil {
		return err
	}
	if member.Role == models.GroupRoleOwner {
		return models.NewConflictError("The owner cannot leave; transfer ownership first")
	}
	if err := s.groupRepo.SetMemberStatus(ctx, groupID, user.ID, models.MemberLeft); err != nil {
		return err
	}
	events.Publish(ctx, s.bus, events.GroupMemberLeft{
		GroupID: groupID, UserID: user.ID, Username: user.Username, Status: models.MemberLeft,
	})
	return nil
}

// Kick removes a member. Admins may kick members and moderators; only the
// owner may kick an admin; nobody kicks the owner.
func (s *GroupService) Kick(ctx context.Context, groupID uint, actor *models.User, userID uint) error {
	if _, err := s.groupRepo.GetByID(ctx, groupID); err != nil {
		return err
	}
	if actor.ID == userID {
		return models.NewValidationError("Use leave to exit a group")
	}
	actorMember, err := s.manager(ctx, groupID, actor)
	if err != nil {
		return err
	}
	target, err := s.activeMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !outranks(actorMember, target.Role) {
		return models.NewForbiddenError("Cannot remove a member of equal or higher role")
	}
	if err := s.groupRepo.SetMemberStatus(ctx, groupID, userID, models.MemberKicked); err != nil {
		return err
	}

	username := ""
	if pub, err := s.userRepo.GetPublic(ctx, userID); err == nil {
		username = pub.Username
	}
	events.Publish(ctx, s.bus, events.GroupMemberLeft{
		GroupID: groupID, UserID: userID, Username: username, Status: models.MemberKicked,
	})
	return nil
}

// ChangeRole sets a member's role. Ownership moves only through
// TransferOwnership; only the owner grants or revokes admin.
func (s *GroupService) ChangeRole(ctx context.Context, groupID uint, actor *models.User, userID uint, role models.GroupRole) (*models.GroupMember, error) {
	if !role.Valid() || role == models.GroupRoleOwner {
		return nil, models.NewFieldValidationError("role", "Role must be admin, moderator or member")
	}
	if _, err := s.groupRepo.GetByID(ctx, groupID); err != nil {
		return nil, err
	}
	actorMember, err := s.manager(ctx, groupID, actor)
	if err != nil {
		return nil, err
	}
	target, err := s.activeMember(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if !outranks(actorMember, target.Role) || !outranks(actorMember, role) {
		return nil, models.NewForbiddenError("Cannot assign a role at or above your own")
	}
	if err := s.groupRepo.SetMemberRole(ctx, groupID, userID, role); err != nil {
		return nil, err
	}
	target.Role = role
	return target, nil
}

// TransferOwnership makes another active member the owner; the previous
// owner becomes an admin.
func (s *GroupService) TransferOwnership(ctx context.Context, groupID uint, actor *models.User, newOwnerID uint) error {
	if actor.ID == newOwnerID {
		return models.NewValidationError("Already the owner")
	}
	if _, err := s.groupRepo.GetByID(ctx, groupID); err != nil {
		return err
	}
	current, err := s.activeMember(ctx, groupID, actor.ID)
	if err != nil {
		return err
	}
	if current.Role != models.GroupRoleOwner {
		return models.NewForbiddenError("Only the owner can transfer ownership")
	}
	if _, err := s.activeMember(ctx, groupID, newOwnerID); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		groupRepo := repository.NewGroupRepository(tx)
		if err := groupRepo.SetMemberRole(ctx, groupID, newOwnerID, models.GroupRoleOwner); err != nil {
			return err
		}
		if err := groupRepo.SetMemberRole(ctx, groupID, actor.ID, models.GroupRoleAdmin); err != nil {
			return err
		}
		owners, err := groupRepo.CountOwners(ctx, groupID)
		if err != nil {
			return err
		}
		if owners != 1 {
			return models.NewConflictError("Ownership changed concurrently")
		}
		return nil
	})
}

// Delete soft-deletes the group and its conversation. Only the owner or a
// site admin may delete.
func (s *GroupService) Delete(ctx context.Context, groupID uint, actor *models.User) error {
	if _, err := s.groupRepo.GetByID(ctx, groupID); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		member, err := s.activeMember(ctx, groupID, actor.ID)
		if err != nil {
			return err
		}
		if member.Role != models.GroupRoleOwner {
			return models.NewForbiddenError("Only the owner can delete the group")
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewGroupRepository(tx).SoftDelete(ctx, groupID); err != nil {
			return err
		}
		chatRepo := repository.NewChatRepository(tx)
		conv, err := chatRepo.GetGroupConversation(ctx, groupID)
		if err != nil {
			return err
		}
		return chatRepo.SoftDeleteConversation(ctx, conv.ID)
	})
}

func (s *GroupService) activeMember(ctx context.Context, groupID, userID uint) (*models.GroupMember, error) {
	member, err := s.groupRepo.GetMember(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil || member.Status != models.MemberActive {
		return nil, models.NewForbiddenError("Not a member of this group")
	}
	return member, nil
}

func (s *GroupService) manager(ctx context.Context, groupID uint, actor *models.User) (*models.GroupMember, error) {
	member, err := s.activeMember(ctx, groupID, actor.ID)
	if err != nil {
		return nil, err
	}
	if !member.Role.CanManageMembers() {
		return nil, models.NewForbiddenError("Only group owners and admins can manage members")
	}
	return member, nil
}

func (s *GroupService) requireManager(ctx context.Context, groupID uint, actor *models.User) error {
	_, err := s.manager(ctx, groupID, actor)
	return err
}

var roleRank = map[models.GroupRole]int{
	models.GroupRoleMember:    0,
	models.GroupRoleModerator: 1,
	models.GroupRoleAdmin:     2,
	models.GroupRoleOwner:     3,
}

// outranks reports whether actor's role is strictly above role.
func outranks(actor *models.GroupMember, role models.GroupRole) bool {
	return roleRank[actor.Role] > roleRank[role]
}
