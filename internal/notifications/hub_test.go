package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"huddle/internal/events"
	"huddle/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = 2 * time.Second
	testPollInterval      = 10 * time.Millisecond
)

func registered(h *Hub, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[c.UserID][c]
	return ok
}

func startSession(t *testing.T, h *Hub, conn *fakeConn, userID uint, key RoomKey) *Client {
	t.Helper()
	user := &models.User{ID: userID, Username: fmt.Sprintf("user%d", userID)}
	c := h.NewClient(conn, user, key)
	done := make(chan struct{})
	go func() {
		h.Serve(context.Background(), c)
		close(done)
	}()
	require.Eventually(t, func() bool { return registered(h, c) }, testEventuallyTimeout, testPollInterval)

	t.Cleanup(func() {
		c.Close(1000)
		select {
		case <-done:
		case <-time.After(testEventuallyTimeout):
			t.Error("session did not stop")
		}
	})
	return c
}

func TestHub_DispatchPreservesPersistenceOrder(t *testing.T) {
	h := NewHub(ClientConfig{}, nil)
	key := ConversationRoom(1)
	connA, connB := newFakeConn(), newFakeConn()
	startSession(t, h, connA, 1, key)
	startSession(t, h, connB, 2, key)

	var (
		mu        sync.Mutex
		persisted []int
		wg        sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			_, err := h.Dispatch(context.Background(), key, func(context.Context) (*Event, error) {
				mu.Lock()
				persisted = append(persisted, seq)
				mu.Unlock()
				return NewEvent(EventChatMessage, map[string]int{"seq": seq}), nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, conn := range []*fakeConn{connA, connB} {
		received := make([]int, 0, 50)
		for i := 0; i < 50; i++ {
			ev := nextEvent(t, conn)
			assert.Equal(t, EventChatMessage, ev.Type)
			assert.Equal(t, "conversation:1", ev.Room)
			var p struct {
				Seq int `json:"seq"`
			}
			require.NoError(t, json.Unmarshal(ev.Raw, &p))
			received = append(received, p.Seq)
		}
		assert.Equal(t, persisted, received)
	}
}

func TestHub_DispatchErrorIsNotBroadcast(t *testing.T) {
	h := NewHub(ClientConfig{}, nil)
	key := GroupRoom(3)
	conn := newFakeConn()
	startSession(t, h, conn, 1, key)

	_, err := h.Dispatch(context.Background(), key, func(context.Context) (*Event, error) {
		return nil, models.NewValidationError("Message content cannot be empty")
	})
	require.Error(t, err)

	h.Broadcast(context.Background(), key, NewEvent(EventMemberJoined, MemberPayload{GroupID: 3, UserID: 9}))
	assert.Equal(t, EventMemberJoined, nextEvent(t, conn).Type)
}

func TestHub_DispatchWithoutSessionsRunsInline(t *testing.T) {
	h := NewHub(ClientConfig{}, nil)
	ran := false
	ev, err := h.Dispatch(context.Background(), ConversationRoom(42), func(context.Context) (*Event, error) {
		ran = true
		return NewEvent(EventChatMessage, nil), nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, "conversation:42", ev.Room)
}

func TestHub_DispatchRecoversPanics(t *testing.T) {
	h := NewHub(ClientConfig{}, nil)
	key := ConversationRoom(5)
	startSession(t, h, newFakeConn(), 1, key)

	_, err := h.Dispatch(context.Background(), key, func(context.Context) (*Event, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 500, models.StatusFor(err))

	_, err = h.Dispatch(context.Background(), key, func(context.Context) (*Event, error) { return nil, nil })
	assert.NoError(t, err)
}

func TestHub_SlowConsumerIsolated(t *testing.T) {
	h := NewHub(ClientConfig{SendQueue: 4, SendTimeout: 50 * time.Millisecond}, nil)
	key := ConversationRoom(1)

	slow, fast := newFakeConn(), newFakeConn()
	slow.stallWrites = true
	slowClient := startSession(t, h, slow, 1, key)
	startSession(t, h, fast, 2, key)

	for i := 0; i < 20; i++ {
		h.Broadcast(context.Background(), key, NewEvent(EventTypingIndicator, TypingPayload{UserID: 2, IsTyping: i%2 == 0}))
	}

	for i := 0; i < 20; i++ {
		assert.Equal(t, EventTypingIndicator, nextEvent(t, fast).Type)
	}
	require.Eventually(t, func() bool { return slowClient.CloseCode() == CloseSlowConsumer }, testEventuallyTimeout, testPollInterval)
	assert.Eventually(t, func() bool { return h.RoomSessions(key) == 1 }, testEventuallyTimeout, testPollInterval)
}

func TestHub_EvictUserClosesEverySession(t *testing.T) {
	h := NewHub(ClientConfig{}, nil)
	connA, connB, other := newFakeConn(), newFakeConn(), newFakeConn()
	a := startSession(t, h, connA, 7, ConversationRoom(1))
	b := startSession(t, h, connB, 7, GroupRoom(2))
	startSession(t, h, other, 8, ConversationRoom(1))

	assert.Equal(t, 2, h.EvictUser(context.Background(), 7))

	for _, c := range []*Client{a, b} {
		assert.Equal(t, CloseEvicted, c.CloseCode())
	}
	assert.Eventually(t, func() bool {
		return connA.sentCloseCode() == CloseEvicted && connB.sentCloseCode() == CloseEvicted
	}, testEventuallyTimeout, testPollInterval)
	assert.Eventually(t, func() bool { return h.UserSessions(7) == 0 }, testEventuallyTimeout, testPollInterval)
	assert.Equal(t, 1, h.UserSessions(8))
	assert.Equal(t, 0, h.EvictUser(context.Background(), 7))
}

func TestHub_RoomRetiredWhenEmpty(t *testing.T) {
	h := NewHub(ClientConfig{}, nil)
	key := ConversationRoom(9)
	c := startSession(t, h, newFakeConn(), 1, key)
	assert.Equal(t, 1, h.RoomSessions(key))

	c.Close(1000)
	assert.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.rooms) == 0 && len(h.retired) == 0
	}, testEventuallyTimeout, testPollInterval)

	conn := newFakeConn()
	startSession(t, h, conn, 2, key)
	h.Broadcast(context.Background(), key, NewEvent(EventChatMessage, nil))
	assert.Equal(t, EventChatMessage, nextEvent(t, conn).Type)
}

func TestClient_IdleTimeout(t *testing.T) {
	h := NewHub(ClientConfig{IdleTimeout: 60 * time.Millisecond}, nil)
	conn := newFakeConn()
	c := startSession(t, h, conn, 1, ConversationRoom(1))

	require.Eventually(t, func() bool { return c.CloseCode() == CloseIdleTimeout }, testEventuallyTimeout, testPollInterval)
	assert.Eventually(t, func() bool { return conn.sentCloseCode() == CloseIdleTimeout }, testEventuallyTimeout, testPollInterval)
}

func TestClient_IdleTimeoutIgnoresPongs(t *testing.T) {
	h := NewHub(ClientConfig{IdleTimeout: 60 * time.Millisecond}, nil)
	conn := newFakeConn()
	conn.autoPong = true
	c := startSession(t, h, conn, 1, ConversationRoom(1))

	// Data frames keep the session open.
	for i := 0; i < 8; i++ {
		conn.in <- []byte(`{"type":"typing","is_typing":true}`)
		time.Sleep(20 * time.Millisecond)
	}
	assert.Zero(t, c.CloseCode())

	// Pongs alone do not.
	require.Eventually(t, func() bool { return c.CloseCode() == CloseIdleTimeout }, testEventuallyTimeout, testPollInterval)
	assert.Eventually(t, func() bool { return conn.sentCloseCode() == CloseIdleTimeout }, testEventuallyTimeout, testPollInterval)
}

func TestClient_FrameRateLimit(t *testing.T) {
	h := NewHub(ClientConfig{FrameRate: 0.01, FrameBurst: 2}, nil)
	conn := newFakeConn()
	user := &models.User{ID: 1, Username: "alice"}
	c := h.NewClient(conn, user, ConversationRoom(1))

	var handled int32
	c.OnFrame = func(*Client, []byte) { atomic.AddInt32(&handled, 1) }
	done := make(chan struct{})
	go func() {
		h.Serve(context.Background(), c)
		close(done)
	}()
	defer func() {
		c.Close(1000)
		<-done
	}()

	for i := 0; i < 5; i++ {
		conn.in <- []byte(`{"type":"typing","is_typing":true}`)
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, EventError, nextEvent(t, conn).Type)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&handled))
}

func TestHub_Subscribe(t *testing.T) {
	h := NewHub(ClientConfig{}, nil)
	bus := events.NewBus()
	h.Subscribe(bus)
	ctx := context.Background()

	userConn, groupConn := newFakeConn(), newFakeConn()
	userClient := startSession(t, h, userConn, 1, ConversationRoom(1))
	startSession(t, h, groupConn, 2, GroupRoom(4))

	events.Publish(ctx, bus, events.UserWarned{UserID: 1, ModeratorID: 3, Reason: "keep it civil"})
	ev := nextEvent(t, userConn)
	assert.Equal(t, EventNotification, ev.Type)
	var note NotificationPayload
	require.NoError(t, json.Unmarshal(ev.Raw, &note))
	assert.Equal(t, "warning", note.Kind)
	assert.Equal(t, "keep it civil", note.Message)

	groupID := uint(4)
	msgID := uuid.New()
	events.Publish(ctx, bus, events.MessageDeleted{ID: msgID, ConversationID: 10, GroupID: &groupID, ActorID: 3})
	ev = nextEvent(t, groupConn)
	assert.Equal(t, EventMessageDeleted, ev.Type)
	assert.Equal(t, "group:4", ev.Room)
	assert.Contains(t, string(ev.Raw), msgID.String())

	events.Publish(ctx, bus, events.GroupMemberLeft{GroupID: 4, UserID: 5, Username: "eve", Status: models.MemberKicked})
	ev = nextEvent(t, groupConn)
	assert.Equal(t, EventMemberLeft, ev.Type)
	assert.Contains(t, string(ev.Raw), `"status":"kicked"`)

	events.Publish(ctx, bus, events.AccountStateChanged{UserID: 1, ActorID: 3, From: models.StatusActive, To: models.StatusSuspended})
	assert.Equal(t, CloseEvicted, userClient.CloseCode())
}

func TestHub_CrossInstanceMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ha := NewHub(ClientConfig{}, NewNotifier(rdb, "instance-a"))
	hb := NewHub(ClientConfig{}, NewNotifier(rdb, "instance-b"))
	require.NoError(t, ha.StartWiring(ctx))
	require.NoError(t, hb.StartWiring(ctx))

	key := ConversationRoom(7)
	local, remote := newFakeConn(), newFakeConn()
	startSession(t, ha, local, 4, key)
	remoteClient := startSession(t, hb, remote, 5, key)

	ha.Broadcast(ctx, key, NewEvent(EventChatMessage, map[string]string{"content": "hi"}))
	assert.Equal(t, EventChatMessage, nextEvent(t, local).Type)
	assert.Equal(t, EventChatMessage, nextEvent(t, remote).Type)

	ha.SendToUser(ctx, 5, NewEvent(EventNotification, NotificationPayload{Kind: "warning"}))
	assert.Equal(t, EventNotification, nextEvent(t, remote).Type)

	// Own echoes are skipped.
	select {
	case data := <-local.writes:
		t.Fatalf("unexpected duplicate frame: %s", data)
	case <-time.After(100 * time.Millisecond):
	}

	assert.Equal(t, 0, ha.EvictUser(ctx, 5))
	assert.Eventually(t, func() bool { return remoteClient.CloseCode() == CloseEvicted }, testEventuallyTimeout, testPollInterval)
}
