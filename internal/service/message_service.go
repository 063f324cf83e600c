package service

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"huddle/internal/events"
	"huddle/internal/models"
	"huddle/internal/observability"
	"huddle/internal/repository"
	"huddle/internal/validation"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	maxSearchLength = 200
	deletedSender   = "deleted user"
)

// MessageService appends, edits and reads conversation messages.
type MessageService struct {
	db        *gorm.DB
	chatRepo  repository.ChatRepository
	userRepo  repository.UserRepository
	bus       *events.Bus
	canDelete func(ctx context.Context, actor *models.User) (bool, error)
	now       func() time.Time
}

// AttachmentInput is client-supplied attachment metadata.
type AttachmentInput struct {
	FileRef  string          `json:"file_ref"`
	FileName string          `json:"file_name"`
	FileType models.FileType `json:"file_type"`
	FileSize int64           `json:"file_size"`
	MimeType string          `json:"mime_type"`
	Duration *int            `json:"duration,omitempty"`
}

// AppendInput is the input for appending a message.
type AppendInput struct {
	ConversationID uint
	Sender         *models.User
	Content        string
	Type           models.MessageType
	ReplyTo        *uuid.UUID
	ForwardedFrom  *uuid.UUID
	Attachments    []AttachmentInput
	ClientKey      string
}

// MessagePage is one page of history, newest first.
type MessagePage struct {
	Messages   []models.MessageView `json:"messages"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// NewMessageService returns a new MessageService. canDelete reports whether
// an actor may delete other users' messages.
func NewMessageService(
	db *gorm.DB,
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	bus *events.Bus,
	canDelete func(ctx context.Context, actor *models.User) (bool, error),
) *MessageService {
	return &MessageService{
		db:        db,
		chatRepo:  chatRepo,
		userRepo:  userRepo,
		bus:       bus,
		canDelete: canDelete,
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (s *MessageService) SetClock(now func() time.Time) {
	s.now = now
}

// Append stores a message and updates conversation bookkeeping in one
// transaction. A repeated client key from the same sender returns the
// original message with replayed set; nothing new is stored.
func (s *MessageService) Append(ctx context.Context, in AppendInput) (view *models.MessageView, replayed bool, err error) {
	ctx, span := observability.StartSpan(ctx, "messages", "append",
		attribute.Int64("conversation_id", int64(in.ConversationID)))
	view, replayed, err = s.appendMessage(ctx, in)
	observability.EndSpan(span, err)
	return view, replayed, err
}

func (s *MessageService) appendMessage(ctx context.Context, in AppendInput) (*models.MessageView, bool, error) {
	if in.Sender == nil {
		return nil, false, models.NewUnauthorizedError("Authentication required")
	}
	if in.Type == "" {
		in.Type = models.MessageText
	}
	if !in.Type.Valid() {
		return nil, false, models.NewFieldValidationError("message_type", "Unknown message type")
	}
	if err := validateContent(in.Content, len(in.Attachments) > 0); err != nil {
		return nil, false, err
	}
	for i := range in.Attachments {
		if err := validateAttachment(in.Attachments[i]); err != nil {
			return nil, false, err
		}
	}

	conv, err := s.conversationFor(ctx, in.ConversationID, in.Sender.ID)
	if err != nil {
		return nil, false, err
	}

	if in.ClientKey != "" {
		if view, err := s.existingByClientKey(ctx, conv, in.Sender, in.ClientKey); view != nil || err != nil {
			return view, view != nil, err
		}
	}

	if in.ReplyTo != nil {
		parent, err := s.chatRepo.GetMessage(ctx, *in.ReplyTo)
		if err != nil || parent.IsDeleted || parent.ConversationID != conv.ID {
			return nil, false, models.NewFieldValidationError("reply_to", "Replied-to message does not exist in this conversation")
		}
	}

	now := s.now().UTC()
	msg := &models.Message{
		ConversationID:  conv.ID,
		SenderID:        in.Sender.ID,
		Content:         in.Content,
		Type:            in.Type,
		ReplyToID:       in.ReplyTo,
		ForwardedFromID: in.ForwardedFrom,
		Timestamp:       now,
	}
	if in.ClientKey != "" {
		key := in.ClientKey
		msg.ClientKey = &key
	}
	for _, a := range in.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			FileRef:   a.FileRef,
			FileName:  a.FileName,
			FileType:  a.FileType,
			FileSize:  a.FileSize,
			MimeType:  a.MimeType,
			Duration:  a.Duration,
			CreatedAt: now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chatRepo := repository.NewChatRepository(tx)
		if err := chatRepo.CreateMessage(ctx, msg); err != nil {
			return err
		}
		if err := chatRepo.TouchConversation(ctx, conv.ID, now); err != nil {
			return err
		}
		if err := repository.NewUserRepository(tx).IncrementMessageCount(ctx, in.Sender.ID); err != nil {
			return err
		}
		if err := chatRepo.IncrementUnread(ctx, conv, in.Sender.ID); err != nil {
			return err
		}
		if conv.GroupID != nil {
			return repository.NewGroupRepository(tx).TouchActivity(ctx, *conv.GroupID, now)
		}
		return nil
	})
	if err != nil {
		// A concurrent append with the same client key won the race.
		if in.ClientKey != "" && errors.Is(err, &models.AppError{Code: models.ErrTypeConflict}) {
			if view, findErr := s.existingByClientKey(ctx, conv, in.Sender, in.ClientKey); view != nil || findErr != nil {
				return view, view != nil, findErr
			}
		}
		return nil, false, err
	}

	observability.MessagesPersisted.WithLabelValues(string(msg.Type)).Inc()
	view := models.NewMessageView(msg, conv, in.Sender.Username)
	return &view, false, nil
}

func (s *MessageService) existingByClientKey(ctx context.Context, conv *models.Conversation, sender *models.User, key string) (*models.MessageView, error) {
	existing, err := s.chatRepo.FindByClientKey(ctx, sender.ID, key)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.ConversationID != conv.ID {
		return nil, models.NewConflictError("Client key already used in another conversation")
	}
	view := models.NewMessageView(existing, conv, sender.Username)
	return &view, nil
}

// Edit replaces the content of the actor's own message.
func (s *MessageService) Edit(ctx context.Context, messageID uuid.UUID, actor *models.User, content string) (*models.MessageView, error) {
	if err := validateContent(content, false); err != nil {
		return nil, err
	}
	msg, err := s.chatRepo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, models.NewNotFoundError("Message", messageID)
	}
	if msg.SenderID != actor.ID {
		return nil, models.NewForbiddenError("Only the sender can edit a message")
	}

	ok, err := s.chatRepo.EditMessage(ctx, messageID, content, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewNotFoundError("Message", messageID)
	}

	msg, err = s.chatRepo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	conv, err := s.chatRepo.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	view := models.NewMessageView(msg, conv, actor.Username)
	return &view, nil
}

// SoftDelete hides a message. The sender or an actor holding the
// delete_messages permission may delete; a second call reports false.
func (s *MessageService) SoftDelete(ctx context.Context, messageID uuid.UUID, actor *models.User) (bool, error) {
	msg, err := s.chatRepo.GetMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	if msg.IsDeleted {
		return false, nil
	}
	if msg.SenderID != actor.ID {
		allowed := false
		if s.canDelete != nil {
			if allowed, err = s.canDelete(ctx, actor); err != nil {
				return false, err
			}
		}
		if !allowed {
			return false, models.NewForbiddenError("Not allowed to delete this message")
		}
	}

	changed, err := s.chatRepo.SoftDeleteMessage(ctx, messageID, s.now().UTC())
	if err != nil || !changed {
		return changed, err
	}

	conv, err := s.chatRepo.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return true, err
	}
	events.Publish(ctx, s.bus, events.MessageDeleted{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		GroupID:        conv.GroupID,
		ActorID:        actor.ID,
	})
	return true, nil
}

// List returns non-deleted messages newest first, starting after cursor.
func (s *MessageService) List(ctx context.Context, conversationID uint, reader *models.User, cursor string, limit int) (*MessagePage, error) {
	conv, err := s.conversationFor(ctx, conversationID, reader.ID)
	if err != nil {
		return nil, err
	}
	before, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = pageSize(limit)

	msgs, err := s.chatRepo.ListMessages(ctx, conv.ID, before, limit+1)
	if err != nil {
		return nil, err
	}

	page := &MessagePage{}
	if len(msgs) > limit {
		msgs = msgs[:limit]
		last := msgs[len(msgs)-1]
		page.NextCursor = EncodeCursor(repository.Cursor{Timestamp: last.Timestamp, ID: last.ID})
	}
	page.Messages = s.views(ctx, conv, msgs)
	return page, nil
}

// Search finds messages containing q, newest first.
func (s *MessageService) Search(ctx context.Context, conversationID uint, reader *models.User, q string, limit int) ([]models.MessageView, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, models.NewFieldValidationError("q", "Search query is required")
	}
	if len(q) > maxSearchLength {
		return nil, models.NewFieldValidationError("q", "Search query is too long")
	}
	conv, err := s.conversationFor(ctx, conversationID, reader.ID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.chatRepo.SearchMessages(ctx, conv.ID, q, pageSize(limit))
	if err != nil {
		return nil, err
	}
	return s.views(ctx, conv, msgs), nil
}

// Forward copies a message into another conversation the actor takes part in.
func (s *MessageService) Forward(ctx context.Context, messageID uuid.UUID, targetConversationID uint, actor *models.User) (*models.MessageView, error) {
	src, err := s.chatRepo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if src.IsDeleted {
		return nil, models.NewNotFoundError("Message", messageID)
	}
	if _, err := s.conversationFor(ctx, src.ConversationID, actor.ID); err != nil {
		return nil, err
	}

	in := AppendInput{
		ConversationID: targetConversationID,
		Sender:         actor,
		Content:        src.Content,
		Type:           src.Type,
		ForwardedFrom:  &src.ID,
	}
	for _, a := range src.Attachments {
		in.Attachments = append(in.Attachments, AttachmentInput{
			FileRef:  a.FileRef,
			FileName: a.FileName,
			FileType: a.FileType,
			FileSize: a.FileSize,
			MimeType: a.MimeType,
			Duration: a.Duration,
		})
	}
	view, _, err := s.Append(ctx, in)
	return view, err
}

// MarkRead clears the reader's unread count and returns the read time.
func (s *MessageService) MarkRead(ctx context.Context, conversationID uint, reader *models.User) (time.Time, error) {
	conv, err := s.conversationFor(ctx, conversationID, reader.ID)
	if err != nil {
		return time.Time{}, err
	}
	at := s.now().UTC()
	if err := s.chatRepo.MarkRead(ctx, conv, reader.ID, at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// ReadReceipt checks that messageID belongs to the conversation and returns
// the receipt time. Receipts are ephemeral: nothing is written.
func (s *MessageService) ReadReceipt(ctx context.Context, conversationID uint, reader *models.User, messageID uuid.UUID) (time.Time, error) {
	if _, err := s.conversationFor(ctx, conversationID, reader.ID); err != nil {
		return time.Time{}, err
	}
	msg, err := s.chatRepo.GetMessage(ctx, messageID)
	if err != nil {
		return time.Time{}, err
	}
	if msg.ConversationID != conversationID {
		return time.Time{}, models.NewFieldValidationError("message_id", "Message does not belong to this conversation")
	}
	return s.now().UTC(), nil
}

// conversationFor loads a live conversation the user participates in.
func (s *MessageService) conversationFor(ctx context.Context, conversationID, userID uint) (*models.Conversation, error) {
	conv, err := s.chatRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.IsDeleted {
		return nil, models.NewNotFoundError("Conversation", conversationID)
	}
	ok, err := s.chatRepo.IsParticipant(ctx, conv, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewForbiddenError("Not a participant of this conversation")
	}
	return conv, nil
}

func (s *MessageService) views(ctx context.Context, conv *models.Conversation, msgs []models.Message) []models.MessageView {
	names := make(map[uint]string)
	out := make([]models.MessageView, 0, len(msgs))
	for i := range msgs {
		name, ok := names[msgs[i].SenderID]
		if !ok {
			name = deletedSender
			if pub, err := s.userRepo.GetPublic(ctx, msgs[i].SenderID); err == nil {
				name = pub.Username
			}
			names[msgs[i].SenderID] = name
		}
		out = append(out, models.NewMessageView(&msgs[i], conv, name))
	}
	return out
}

func validateContent(content string, hasAttachments bool) error {
	if hasAttachments && strings.TrimSpace(content) == "" {
		return nil
	}
	if err := validation.ValidateMessageContent(content); err != nil {
		return models.NewFieldValidationError("content", err.Error())
	}
	return nil
}

func validateAttachment(a AttachmentInput) error {
	switch {
	case a.FileSize <= 0 || a.FileSize > models.MaxAttachmentSize:
		return models.NewFieldValidationError("attachments", "Attachment size must be between 1 byte and 10 MiB")
	case !a.FileType.Valid():
		return models.NewFieldValidationError("attachments", "Unknown attachment type")
	case strings.TrimSpace(a.FileName) == "":
		return models.NewFieldValidationError("attachments", "Attachment file name is required")
	case !IsRelativeRef(a.FileRef):
		return models.NewFieldValidationError("attachments", "Attachment reference must be a relative storage key")
	}
	return nil
}

// IsRelativeRef reports whether ref is a clean storage key below the media root.
func IsRelativeRef(ref string) bool {
	if ref == "" || strings.ContainsAny(ref, "\\\x00") || strings.Contains(ref, "://") {
		return false
	}
	if strings.HasPrefix(ref, "/") {
		return false
	}
	clean := path.Clean(ref)
	return clean == ref && clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
