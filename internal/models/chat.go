package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationType distinguishes direct conversations from group rooms.
type ConversationType string

const (
	ConversationIndividual ConversationType = "individual"
	ConversationGroup      ConversationType = "group"
)

// Conversation is a message thread. Group conversations mirror a Group's membership.
type Conversation struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	Type          ConversationType `gorm:"size:16;not null;index" json:"type"`
	Title         string           `gorm:"size:200" json:"title"`
	GroupID       *uint            `gorm:"uniqueIndex" json:"group_id,omitempty"`
	LastMessageAt *time.Time       `gorm:"index" json:"last_message_at,omitempty"`
	IsDeleted     bool             `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ConversationParticipant links a user to an individual conversation.
type ConversationParticipant struct {
	ConversationID uint       `gorm:"primaryKey" json:"conversation_id"`
	UserID         uint       `gorm:"primaryKey;index" json:"user_id"`
	JoinedAt       time.Time  `gorm:"not null" json:"joined_at"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	UnreadCount    int        `gorm:"not null;default:0" json:"unread_count"`
}

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageAudio  MessageType = "audio"
	MessageVideo  MessageType = "video"
	MessageSystem MessageType = "system"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageAudio, MessageVideo, MessageSystem:
		return true
	}
	return false
}

// Message is a single chat message. Ordering within a conversation is (timestamp, id).
type Message struct {
	ID              uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID  uint         `gorm:"not null;index:idx_messages_conv_ts,priority:1" json:"conversation_id"`
	SenderID        uint         `gorm:"not null;index;uniqueIndex:idx_messages_sender_client_key,priority:1" json:"sender_id"`
	Content         string       `gorm:"type:text;not null" json:"content"`
	Type            MessageType  `gorm:"size:16;not null;default:text" json:"type"`
	ReplyToID       *uuid.UUID   `gorm:"type:uuid;index" json:"reply_to,omitempty"`
	ForwardedFromID *uuid.UUID   `gorm:"type:uuid;index" json:"forwarded_from,omitempty"`
	ClientKey       *string      `gorm:"size:100;uniqueIndex:idx_messages_sender_client_key,priority:2" json:"-"`
	IsEdited        bool         `gorm:"not null;default:false" json:"is_edited"`
	EditedAt        *time.Time   `json:"edited_at,omitempty"`
	IsDeleted       bool         `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedAt       *time.Time   `json:"deleted_at,omitempty"`
	Timestamp       time.Time    `gorm:"not null;index:idx_messages_conv_ts,priority:2" json:"timestamp"`
	Attachments     []Attachment `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
}

// BeforeCreate assigns a random id when the caller did not.
func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// FileType classifies an attachment.
type FileType string

const (
	FileImage    FileType = "image"
	FileDocument FileType = "document"
	FileAudio    FileType = "audio"
	FileVideo    FileType = "video"
	FileOther    FileType = "other"
)

// Valid reports whether t is a known file type.
func (t FileType) Valid() bool {
	switch t {
	case FileImage, FileDocument, FileAudio, FileVideo, FileOther:
		return true
	}
	return false
}

// MaxAttachmentSize is the largest accepted attachment, in bytes.
const MaxAttachmentSize int64 = 10 * 1024 * 1024

// Attachment is file metadata for a message. FileRef is a storage key relative to
// the media root, never an absolute path.
type Attachment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;index" json:"message_id"`
	FileRef   string    `gorm:"size:512;not null" json:"file_ref"`
	FileName  string    `gorm:"size:255;not null" json:"file_name"`
	FileType  FileType  `gorm:"size:16;not null" json:"file_type"`
	FileSize  int64     `gorm:"not null" json:"file_size"`
	MimeType  string    `gorm:"size:127" json:"mime_type"`
	Duration  *int      `json:"duration,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *Attachment) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// MessageView is the assembled, client-facing representation of a message.
type MessageView struct {
	ID             uuid.UUID    `json:"id"`
	ConversationID uint         `json:"conversation_id"`
	GroupID        *uint        `json:"group_id,omitempty"`
	SenderID       uint         `json:"sender_id"`
	Sender         string       `json:"sender"`
	Content        string       `json:"content"`
	Type           MessageType  `json:"message_type"`
	ReplyTo        *uuid.UUID   `json:"reply_to,omitempty"`
	ForwardedFrom  *uuid.UUID   `json:"forwarded_from,omitempty"`
	IsEdited       bool         `json:"is_edited"`
	EditedAt       *time.Time   `json:"edited_at,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// NewMessageView projects a message for clients. Deleted messages never reach here.
func NewMessageView(m *Message, conv *Conversation, sender string) MessageView {
	v := MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Sender:         sender,
		Content:        m.Content,
		Type:           m.Type,
		ReplyTo:        m.ReplyToID,
		ForwardedFrom:  m.ForwardedFromID,
		IsEdited:       m.IsEdited,
		EditedAt:       m.EditedAt,
		Timestamp:      m.Timestamp,
		Attachments:    m.Attachments,
	}
	if conv != nil {
		v.GroupID = conv.GroupID
	}
	return v
}
