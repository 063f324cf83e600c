package notifications

import (
	"context"
	"testing"
	"time"

	"huddle/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil, "a")
	assert.NoError(t, n.PublishUser(context.Background(), 1, []byte(`{}`)))
	assert.NoError(t, n.PublishRoom(context.Background(), ConversationRoom(1), []byte(`{}`)))
	assert.NoError(t, n.StartSubscriber(context.Background(), func(string, []byte) {}))

	var nilNotifier *Notifier
	assert.NoError(t, nilNotifier.PublishEviction(context.Background(), 1))
}

func TestNotifier_SkipsOwnEchoes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	self := NewNotifier(rdb, "self")
	peer := NewNotifier(rdb, "peer")

	type frame struct {
		channel string
		data    string
	}
	received := make(chan frame, 4)
	require.NoError(t, self.StartSubscriber(ctx, func(channel string, data []byte) {
		received <- frame{channel, string(data)}
	}))

	require.NoError(t, self.PublishRoom(ctx, GroupRoom(2), []byte(`{"type":"own"}`)))
	require.NoError(t, peer.PublishRoom(ctx, GroupRoom(2), []byte(`{"type":"peer"}`)))

	select {
	case f := <-received:
		assert.Equal(t, "hub:room:group:2", f.channel)
		assert.JSONEq(t, `{"type":"peer"}`, f.data)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	require.NoError(t, peer.PublishEviction(ctx, 9))
	select {
	case f := <-received:
		assert.Equal(t, "hub:evict:9", f.channel)
	case <-time.After(2 * time.Second):
		t.Fatal("no eviction received")
	}
}

func TestCloseReason(t *testing.T) {
	t.Parallel()
	tests := map[int]string{
		CloseUnauthorized: "unauthorized",
		CloseForbidden:    "forbidden",
		CloseSlowConsumer: "slow_consumer",
		CloseIdleTimeout:  "idle_timeout",
		CloseEvicted:      "evicted",
	}
	for code, reason := range tests {
		assert.Equal(t, reason, CloseReason(code))
	}
}

func TestRoomForConversation(t *testing.T) {
	t.Parallel()
	groupID := uint(3)
	assert.Equal(t, "group:3", RoomForConversation(&models.Conversation{ID: 8, GroupID: &groupID}).String())
	assert.Equal(t, "conversation:8", RoomForConversation(&models.Conversation{ID: 8}).String())
}
