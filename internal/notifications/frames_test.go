package notifications

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFlat(t *testing.T, ev *Event) map[string]any {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestEvent_MarshalsFlat(t *testing.T) {
	sent := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	ev := NewEvent(EventChatMessage, struct {
		ID        string    `json:"id"`
		Sender    string    `json:"sender"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	}{ID: "m-1", Sender: "alice", Content: "hi", Timestamp: sent})
	ev.Room = "conversation:1"

	out := decodeFlat(t, ev)
	assert.Equal(t, "chat_message", out["type"])
	assert.Equal(t, "conversation:1", out["room"])
	assert.Equal(t, "m-1", out["id"])
	assert.Equal(t, "alice", out["sender"])
	assert.Equal(t, "hi", out["content"])
	assert.Equal(t, sent.Format(time.RFC3339), out["timestamp"])
	assert.NotContains(t, out, "payload")
}

func TestEvent_MessageDeletedCarriesID(t *testing.T) {
	out := decodeFlat(t, NewEvent(EventMessageDeleted, MessageDeletedPayload{
		MessageID:      "m-9",
		ConversationID: 4,
		DeletedBy:      2,
	}))
	assert.Equal(t, "message_deleted", out["type"])
	assert.Equal(t, "m-9", out["id"])
	assert.EqualValues(t, 4, out["conversation_id"])
	assert.Contains(t, out, "timestamp")
	assert.NotContains(t, out, "message_id")
}

func TestEvent_TypeCannotBeOverridden(t *testing.T) {
	out := decodeFlat(t, NewEvent(EventTypingIndicator, map[string]any{"type": "spoofed", "is_typing": true}))
	assert.Equal(t, "typing_indicator", out["type"])
	assert.Equal(t, true, out["is_typing"])
	assert.NotContains(t, out, "room")
}

func TestEvent_NonObjectPayloads(t *testing.T) {
	out := decodeFlat(t, NewEvent(EventChatMessage, nil))
	assert.Equal(t, "chat_message", out["type"])
	assert.NotContains(t, out, "payload")

	out = decodeFlat(t, NewEvent(EventNotification, []string{"a", "b"}))
	assert.Equal(t, []any{"a", "b"}, out["payload"])
}
