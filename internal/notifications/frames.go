package notifications

import (
	"encoding/json"
	"fmt"
	"time"
)

// Close codes sent by the server. The close reason carries the name.
const (
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
	CloseSlowConsumer = 4008
	CloseIdleTimeout  = 4009
	CloseEvicted      = 4010
)

// CloseReason returns the textual name for a server close code.
func CloseReason(code int) string {
	switch code {
	case CloseUnauthorized:
		return "unauthorized"
	case CloseForbidden:
		return "forbidden"
	case CloseSlowConsumer:
		return "slow_consumer"
	case CloseIdleTimeout:
		return "idle_timeout"
	case CloseEvicted:
		return "evicted"
	case 1000:
		return "normal"
	case 1001:
		return "going_away"
	default:
		return "unknown"
	}
}

// Inbound frame types.
const (
	FrameChatMessage  = "chat_message"
	FrameGroupMessage = "group_message"
	FrameTyping       = "typing"
	FrameReadReceipt  = "read_receipt"
	FrameMemberJoined = "member_joined"
	FrameMemberLeft   = "member_left"
)

// Outbound event types.
const (
	EventChatMessage     = "chat_message"
	EventGroupMessage    = "group_message"
	EventTypingIndicator = "typing_indicator"
	EventReadReceipt     = "read_receipt"
	EventMemberJoined    = "member_joined"
	EventMemberLeft      = "member_left"
	EventMessageDeleted  = "message_deleted"
	EventNotification    = "notification"
	EventError           = "error"
)

// RoomKind distinguishes direct/group conversation rooms from group rooms.
type RoomKind string

const (
	RoomConversation RoomKind = "conversation"
	RoomGroup        RoomKind = "group"
)

// RoomKey identifies a room.
type RoomKey struct {
	Kind RoomKind
	ID   uint
}

func (k RoomKey) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// ConversationRoom is the room of a conversation.
func ConversationRoom(id uint) RoomKey { return RoomKey{Kind: RoomConversation, ID: id} }

// GroupRoom is the room of a group.
func GroupRoom(id uint) RoomKey { return RoomKey{Kind: RoomGroup, ID: id} }

// Frame is an inbound client frame.
type Frame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
	ClientKey string `json:"client_key,omitempty"`
	IsTyping  bool   `json:"is_typing,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// ParseFrame decodes a raw inbound frame.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Event is an outbound server frame. On the wire it is flat: the payload's
// fields sit next to "type", so a message event reads
// {"type":"chat_message","id":...,"sender":...,"content":...}.
type Event struct {
	Type      string
	Room      string
	Payload   any
	Timestamp time.Time
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType string, payload any) *Event {
	return &Event{Type: eventType, Payload: payload, Timestamp: time.Now().UTC()}
}

// MarshalJSON flattens the payload into the envelope. "type" always wins;
// a payload "timestamp" is kept over the event's own. Payloads that are not
// JSON objects are carried under "payload".
func (e Event) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		switch {
		case len(raw) > 0 && raw[0] == '{':
			if err := json.Unmarshal(raw, &fields); err != nil {
				return nil, err
			}
		case string(raw) != "null":
			fields["payload"] = raw
		}
	}

	set := func(key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields[key] = raw
		return nil
	}
	if err := set("type", e.Type); err != nil {
		return nil, err
	}
	if e.Room != "" {
		if err := set("room", e.Room); err != nil {
			return nil, err
		}
	}
	if _, ok := fields["timestamp"]; !ok {
		if err := set("timestamp", e.Timestamp); err != nil {
			return nil, err
		}
	}
	return json.Marshal(fields)
}

// TypingPayload is the payload of typing_indicator.
type TypingPayload struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// ReadReceiptPayload is the payload of read_receipt.
type ReadReceiptPayload struct {
	UserID    uint      `json:"user_id"`
	MessageID string    `json:"message_id"`
	ReadAt    time.Time `json:"read_at"`
}

// MemberPayload is the payload of member_joined and member_left.
type MemberPayload struct {
	GroupID  uint   `json:"group_id"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Status   string `json:"status,omitempty"`
}

// MessageDeletedPayload is the payload of message_deleted.
type MessageDeletedPayload struct {
	MessageID      string `json:"id"`
	ConversationID uint   `json:"conversation_id"`
	DeletedBy      uint   `json:"deleted_by"`
}

// NotificationPayload is the payload of notification.
type NotificationPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorPayload is the payload of error events sent back to one session.
type ErrorPayload struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}
