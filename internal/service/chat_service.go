// Package service provides application business logic (conversations, messages, groups).
package service

import (
	"context"
	"time"

	"huddle/internal/models"
	"huddle/internal/repository"

	"gorm.io/gorm"
)

// ChatService provides conversation business logic.
type ChatService struct {
	db       *gorm.DB
	chatRepo repository.ChatRepository
	userRepo repository.UserRepository
	now      func() time.Time
}

// ConversationView is a conversation with its participants as seen by a member.
type ConversationView struct {
	models.Conversation
	Participants []models.PublicUser `json:"participants,omitempty"`
}

// NewChatService returns a new ChatService.
func NewChatService(db *gorm.DB, chatRepo repository.ChatRepository, userRepo repository.UserRepository) *ChatService {
	return &ChatService{db: db, chatRepo: chatRepo, userRepo: userRepo, now: time.Now}
}

// SetClock replaces the time source.
func (s *ChatService) SetClock(now func() time.Time) {
	s.now = now
}

// OpenIndividual returns the direct conversation between user and other,
// creating it with exactly those two participants when none exists.
func (s *ChatService) OpenIndividual(ctx context.Context, user *models.User, otherID uint) (*models.Conversation, error) {
	if otherID == 0 || otherID == user.ID {
		return nil, models.NewFieldValidationError("user_id", "Cannot start a conversation with yourself")
	}
	other, err := s.userRepo.GetByID(ctx, otherID)
	if err != nil {
		return nil, err
	}
	if !other.IsLive() {
		return nil, models.NewForbiddenError("Cannot start a conversation with this user")
	}

	existing, err := s.chatRepo.FindIndividual(ctx, user.ID, other.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.now().UTC()
	conv := &models.Conversation{Type: models.ConversationIndividual}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chatRepo := repository.NewChatRepository(tx)
		if err := chatRepo.CreateConversation(ctx, conv); err != nil {
			return err
		}
		if err := chatRepo.AddParticipant(ctx, conv.ID, user.ID, now); err != nil {
			return err
		}
		return chatRepo.AddParticipant(ctx, conv.ID, other.ID, now)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// List returns the user's live conversations, most recently active first.
func (s *ChatService) List(ctx context.Context, user *models.User) ([]models.Conversation, error) {
	return s.chatRepo.ListUserConversations(ctx, user.ID)
}

// Get returns a live conversation the user takes part in. Participants are
// listed for direct conversations.
func (s *ChatService) Get(ctx context.Context, conversationID uint, user *models.User) (*ConversationView, error) {
	conv, err := s.chatRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.IsDeleted {
		return nil, models.NewNotFoundError("Conversation", conversationID)
	}
	ok, err := s.chatRepo.IsParticipant(ctx, conv, user.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewForbiddenError("Not a participant of this conversation")
	}

	view := &ConversationView{Conversation: *conv}
	if conv.Type != models.ConversationIndividual {
		return view, nil
	}
	ids, err := s.chatRepo.ParticipantIDs(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		pub, err := s.userRepo.GetPublic(ctx, id)
		if err != nil {
			continue
		}
		view.Participants = append(view.Participants, *pub)
	}
	return view, nil
}

// Delete soft-deletes a direct conversation. Group conversations go away
// with their group.
func (s *ChatService) Delete(ctx context.Context, conversationID uint, user *models.User) error {
	conv, err := s.chatRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.IsDeleted {
		return models.NewNotFoundError("Conversation", conversationID)
	}
	if conv.Type == models.ConversationGroup {
		return models.NewValidationError("Group conversations are deleted with their group")
	}
	ok, err := s.chatRepo.IsParticipant(ctx, conv, user.ID)
	if err != nil {
		return err
	}
	if !ok && !user.IsAdmin() {
		return models.NewForbiddenError("Not a participant of this conversation")
	}
	return s.chatRepo.SoftDeleteConversation(ctx, conversationID)
}
