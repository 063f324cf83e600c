package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"huddle/internal/cache"
	"huddle/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Cursor is a position in a conversation's (timestamp, id) descending order.
type Cursor struct {
	Timestamp time.Time
	ID        uuid.UUID
}

// ChatRepository defines the interface for conversation and message data operations.
type ChatRepository interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id uint) (*models.Conversation, error)
	GetGroupConversation(ctx context.Context, groupID uint) (*models.Conversation, error)
	FindIndividual(ctx context.Context, a, b uint) (*models.Conversation, error)
	ListUserConversations(ctx context.Context, userID uint) ([]models.Conversation, error)
	SoftDeleteConversation(ctx context.Context, id uint) error
	AddParticipant(ctx context.Context, convID, userID uint, joinedAt time.Time) error
	ParticipantIDs(ctx context.Context, convID uint) ([]uint, error)
	IsParticipant(ctx context.Context, conv *models.Conversation, userID uint) (bool, error)

	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)
	FindByClientKey(ctx context.Context, senderID uint, key string) (*models.Message, error)
	ListMessages(ctx context.Context, convID uint, before *Cursor, limit int) ([]models.Message, error)
	SearchMessages(ctx context.Context, convID uint, q string, limit int) ([]models.Message, error)
	EditMessage(ctx context.Context, id uuid.UUID, content string, at time.Time) (bool, error)
	SoftDeleteMessage(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	TouchConversation(ctx context.Context, convID uint, at time.Time) error
	IncrementUnread(ctx context.Context, conv *models.Conversation, exceptUserID uint) error
	MarkRead(ctx context.Context, conv *models.Conversation, userID uint, at time.Time) error
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("Conversation already exists")
		}
		return models.NewInternalError(err)
	}
	return nil
}

// GetConversation returns the row even when it is marked deleted; callers decide.
func (r *chatRepository) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		return nil, wrapFind(err, "Conversation", id)
	}
	return &conv, nil
}

func (r *chatRepository) GetGroupConversation(ctx context.Context, groupID uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.db.WithContext(ctx).Where("group_id = ?", groupID).First(&conv).Error; err != nil {
		return nil, wrapFind(err, "Group conversation", groupID)
	}
	return &conv, nil
}

// FindIndividual returns the live direct conversation between a and b, or nil.
func (r *chatRepository) FindIndividual(ctx context.Context, a, b uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN conversation_participants pa ON pa.conversation_id = conversations.id AND pa.user_id = ?", a).
		Joins("JOIN conversation_participants pb ON pb.conversation_id = conversations.id AND pb.user_id = ?", b).
		Where("conversations.type = ? AND conversations.is_deleted = ?", models.ConversationIndividual, false).
		Order("conversations.id").
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &conv, nil
}

// ListUserConversations returns live direct conversations the user takes part in
// and the conversations of live groups the user is an active member of.
func (r *chatRepository) ListUserConversations(ctx context.Context, userID uint) ([]models.Conversation, error) {
	var convs []models.Conversation
	direct := r.db.Model(&models.ConversationParticipant{}).
		Select("conversation_id").Where("user_id = ?", userID)
	groups := r.db.Model(&models.GroupMember{}).
		Select("group_members.group_id").
		Joins("JOIN groups ON groups.id = group_members.group_id AND groups.is_deleted = ?", false).
		Where("group_members.user_id = ? AND group_members.status = ?", userID, models.MemberActive)

	err := r.db.WithContext(ctx).
		Where("is_deleted = ?", false).
		Where(r.db.Where("type = ? AND id IN (?)", models.ConversationIndividual, direct).
			Or("type = ? AND group_id IN (?)", models.ConversationGroup, groups)).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "last_message_at"}, Desc: true}).
		Order("id DESC").
		Find(&convs).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return convs, nil
}

func (r *chatRepository) SoftDeleteConversation(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).Update("is_deleted", true)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Conversation", id)
	}
	cache.InvalidateConversation(ctx, id)
	return nil
}

func (r *chatRepository) AddParticipant(ctx context.Context, convID, userID uint, joinedAt time.Time) error {
	p := models.ConversationParticipant{ConversationID: convID, UserID: userID, JoinedAt: joinedAt}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// ParticipantIDs is cached; direct conversation membership never changes after creation.
func (r *chatRepository) ParticipantIDs(ctx context.Context, convID uint) ([]uint, error) {
	var ids []uint
	err := cache.Aside(ctx, cache.ConversationMembersKey(convID), &ids, cache.ConversationTTL, func() error {
		if err := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
			Where("conversation_id = ?", convID).Order("user_id").
			Pluck("user_id", &ids).Error; err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// IsParticipant checks the participant row for direct conversations and the
// active group membership for group conversations.
func (r *chatRepository) IsParticipant(ctx context.Context, conv *models.Conversation, userID uint) (bool, error) {
	var count int64
	var err error
	switch conv.Type {
	case models.ConversationGroup:
		if conv.GroupID == nil {
			return false, nil
		}
		err = r.db.WithContext(ctx).Model(&models.GroupMember{}).
			Where("group_id = ? AND user_id = ? AND status = ?", *conv.GroupID, userID, models.MemberActive).
			Count(&count).Error
	default:
		err = r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conv.ID, userID).
			Count(&count).Error
	}
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("Duplicate client key")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *chatRepository) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).Preload("Attachments").First(&msg, "id = ?", id).Error; err != nil {
		return nil, wrapFind(err, "Message", id)
	}
	return &msg, nil
}

func (r *chatRepository) FindByClientKey(ctx context.Context, senderID uint, key string) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).Preload("Attachments").
		Where("sender_id = ? AND client_key = ?", senderID, key).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &msg, nil
}

func (r *chatRepository) ListMessages(ctx context.Context, convID uint, before *Cursor, limit int) ([]models.Message, error) {
	q := r.db.WithContext(ctx).Preload("Attachments").
		Where("conversation_id = ? AND is_deleted = ?", convID, false)
	if before != nil {
		q = q.Where("(timestamp < ?) OR (timestamp = ? AND id < ?)", before.Timestamp, before.Timestamp, before.ID)
	}
	var msgs []models.Message
	if err := q.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return msgs, nil
}

// SearchMessages is a case-insensitive substring match with no ranking.
func (r *chatRepository) SearchMessages(ctx context.Context, convID uint, q string, limit int) ([]models.Message, error) {
	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	var msgs []models.Message
	err := r.db.WithContext(ctx).Preload("Attachments").
		Where("conversation_id = ? AND is_deleted = ?", convID, false).
		Where(`LOWER(content) LIKE ? ESCAPE '\'`, pattern).
		Order("timestamp DESC").Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return msgs, nil
}

func (r *chatRepository) EditMessage(ctx context.Context, id uuid.UUID, content string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{"content": content, "is_edited": true, "edited_at": at})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SoftDeleteMessage reports false when the message was already deleted.
func (r *chatRepository) SoftDeleteMessage(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_at": at})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *chatRepository) TouchConversation(ctx context.Context, convID uint, at time.Time) error {
	if err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", convID).Update("last_message_at", at).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *chatRepository) IncrementUnread(ctx context.Context, conv *models.Conversation, exceptUserID uint) error {
	var err error
	if conv.Type == models.ConversationGroup && conv.GroupID != nil {
		err = r.db.WithContext(ctx).Model(&models.GroupMember{}).
			Where("group_id = ? AND user_id <> ? AND status = ?", *conv.GroupID, exceptUserID, models.MemberActive).
			UpdateColumn("unread_count", gorm.Expr("unread_count + ?", 1)).Error
	} else {
		err = r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id <> ?", conv.ID, exceptUserID).
			UpdateColumn("unread_count", gorm.Expr("unread_count + ?", 1)).Error
	}
	if err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *chatRepository) MarkRead(ctx context.Context, conv *models.Conversation, userID uint, at time.Time) error {
	fields := map[string]interface{}{"last_read_at": at, "unread_count": 0}
	var res *gorm.DB
	if conv.Type == models.ConversationGroup && conv.GroupID != nil {
		res = r.db.WithContext(ctx).Model(&models.GroupMember{}).
			Where("group_id = ? AND user_id = ? AND status = ?", *conv.GroupID, userID, models.MemberActive).
			UpdateColumns(fields)
	} else {
		res = r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id = ?", conv.ID, userID).
			UpdateColumns(fields)
	}
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewForbiddenError("Not a participant of this conversation")
	}
	return nil
}
