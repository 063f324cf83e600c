package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"huddle/internal/models"
	"huddle/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const mirrorTimeout = 2 * time.Second

// Hub tracks duplex sessions by room and by user.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[RoomKey]*room
	retired map[RoomKey]*room
	users   map[uint]map[*Client]struct{}

	cfg      ClientConfig
	notifier *Notifier
	logger   *observability.WSLogger
}

// NewHub creates a hub. notifier may be nil for a single instance.
func NewHub(cfg ClientConfig, notifier *Notifier) *Hub {
	return &Hub{
		rooms:    make(map[RoomKey]*room),
		retired:  make(map[RoomKey]*room),
		users:    make(map[uint]map[*Client]struct{}),
		cfg:      cfg.withDefaults(),
		notifier: notifier,
		logger:   observability.NewWSLogger("connection hub"),
	}
}

// Name identifies the hub in logs.
func (h *Hub) Name() string { return "connection hub" }

// RoomForConversation maps a conversation to its room. A group-backed
// conversation shares the group's room.
func RoomForConversation(conv *models.Conversation) RoomKey {
	if conv.GroupID != nil {
		return GroupRoom(*conv.GroupID)
	}
	return ConversationRoom(conv.ID)
}

// NewClient creates a session for user in room using the hub's limits.
func (h *Hub) NewClient(conn Conn, user *models.User, key RoomKey) *Client {
	return NewClient(conn, user.ID, user.Username, key, h.cfg)
}

// Serve registers c, pumps it until it closes, then unregisters it. It
// blocks for the lifetime of the session.
func (h *Hub) Serve(ctx context.Context, c *Client) {
	h.register(c)
	h.logger.LogConnect(ctx, c.ID, c.UserID, c.Room.String())

	c.run()

	h.unregister(c)
	h.logger.LogDisconnect(ctx, c.ID, c.UserID, c.Room.String(), CloseReason(c.CloseCode()))
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[c.Room]
	if r == nil {
		prev := h.retired[c.Room]
		delete(h.retired, c.Room)
		r = newRoom(h, c.Room, prev)
		h.rooms[c.Room] = r
		observability.WebSocketRooms.WithLabelValues(string(c.Room.Kind)).Inc()
	}
	r.add(c)

	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[*Client]struct{})
	}
	h.users[c.UserID][c] = struct{}{}
	observability.WebSocketSessions.WithLabelValues(string(c.Room.Kind)).Inc()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.users[c.UserID]
	if !ok {
		return
	}
	if _, ok := sessions[c]; !ok {
		return
	}
	delete(sessions, c)
	if len(sessions) == 0 {
		delete(h.users, c.UserID)
	}
	observability.WebSocketSessions.WithLabelValues(string(c.Room.Kind)).Dec()

	if r := h.rooms[c.Room]; r != nil && r.remove(c) {
		delete(h.rooms, c.Room)
		h.retired[c.Room] = r
		close(r.stop)
		observability.WebSocketRooms.WithLabelValues(string(c.Room.Kind)).Dec()
	}
}

func (h *Hub) forgetRetired(r *room) {
	h.mu.Lock()
	if h.retired[r.key] == r {
		delete(h.retired, r.key)
	}
	h.mu.Unlock()
}

// Dispatch runs fn in the room's writer goroutine and broadcasts the event
// it returns to every session of the room, the caller's included. Without
// local sessions fn runs inline. It must not be called from inside a job.
func (h *Hub) Dispatch(ctx context.Context, key RoomKey, fn JobFunc) (*Event, error) {
	h.mu.RLock()
	r := h.rooms[key]
	h.mu.RUnlock()

	if r == nil || !r.acquire() {
		ev, err := h.execute(ctx, key, fn)
		if err == nil && ev != nil {
			ev.Room = key.String()
			if data, mErr := json.Marshal(ev); mErr == nil {
				h.mirrorRoom(ctx, key, data)
			}
		}
		return ev, err
	}

	j := &job{ctx: ctx, fn: fn, enqueued: time.Now(), reply: make(chan jobResult, 1)}
	r.queue <- j

	select {
	case res := <-j.reply:
		return res.ev, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Broadcast sends ev to the room in order with persisted messages.
func (h *Hub) Broadcast(ctx context.Context, key RoomKey, ev *Event) {
	_, _ = h.Dispatch(ctx, key, func(context.Context) (*Event, error) { return ev, nil })
}

func (h *Hub) execute(ctx context.Context, key RoomKey, fn JobFunc) (ev *Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			observability.GlobalLogger.ErrorContext(ctx, "room job panicked",
				slog.String("room", key.String()),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			ev, err = nil, models.NewInternalError(fmt.Errorf("room job panic: %v", r))
		}
	}()
	return fn(ctx)
}

// SendToUser delivers ev to every session of the user on every instance.
func (h *Hub) SendToUser(ctx context.Context, userID uint, ev *Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.LogError(ctx, userID, "", err, ev.Type)
		return
	}
	h.sendLocal(userID, data)
	if h.notifier != nil {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
		defer cancel()
		if err := h.notifier.PublishUser(mctx, userID, data); err != nil {
			h.logger.LogError(ctx, userID, "", err, "mirror_user")
		}
	}
}

// EvictUser closes every session of the user with evicted, on every
// instance, and returns the number closed locally.
func (h *Hub) EvictUser(ctx context.Context, userID uint) int {
	n := h.evictLocal(userID)
	if n > 0 {
		h.logger.LogLifecycle(ctx, "evicted", map[string]interface{}{"user_id": userID, "sessions": n})
	}
	if h.notifier != nil {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
		defer cancel()
		if err := h.notifier.PublishEviction(mctx, userID); err != nil {
			h.logger.LogError(ctx, userID, "", err, "mirror_evict")
		}
	}
	return n
}

func (h *Hub) sessionsOf(userID uint) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) sendLocal(userID uint, data []byte) {
	for _, c := range h.sessionsOf(userID) {
		c.TrySend(data)
	}
}

func (h *Hub) evictLocal(userID uint) int {
	n := 0
	for _, c := range h.sessionsOf(userID) {
		if c.Close(CloseEvicted) {
			n++
		}
	}
	return n
}

func (h *Hub) deliverLocal(key RoomKey, data []byte) {
	h.mu.RLock()
	r := h.rooms[key]
	h.mu.RUnlock()
	if r != nil {
		r.deliver(data)
	}
}

func (h *Hub) mirrorRoom(ctx context.Context, key RoomKey, data []byte) {
	if h.notifier == nil {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()
	if err := h.notifier.PublishRoom(mctx, key, data); err != nil {
		h.logger.LogError(ctx, 0, key.String(), err, "mirror_room")
	}
}

// RoomSessions returns the number of local sessions in a room.
func (h *Hub) RoomSessions(key RoomKey) int {
	h.mu.RLock()
	r := h.rooms[key]
	h.mu.RUnlock()
	if r == nil {
		return 0
	}
	return r.size()
}

// UserSessions returns the number of local sessions of a user.
func (h *Hub) UserSessions(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// SessionCount returns the number of local sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sessions := range h.users {
		n += len(sessions)
	}
	return n
}

// IsOnline reports whether the user has a local session.
func (h *Hub) IsOnline(userID uint) bool {
	return h.UserSessions(userID) > 0
}

// StartWiring delivers room frames, user notifications and evictions
// published by other instances.
func (h *Hub) StartWiring(ctx context.Context) error {
	if h.notifier == nil {
		return nil
	}
	return h.notifier.StartSubscriber(ctx, func(channel string, data []byte) {
		switch {
		case strings.HasPrefix(channel, roomChannelPrefix):
			kind, id, ok := strings.Cut(strings.TrimPrefix(channel, roomChannelPrefix), ":")
			if !ok {
				return
			}
			roomID, err := strconv.ParseUint(id, 10, 64)
			if err != nil {
				return
			}
			h.deliverLocal(RoomKey{Kind: RoomKind(kind), ID: uint(roomID)}, data)
		case strings.HasPrefix(channel, userChannelPrefix):
			var userID uint
			if _, err := fmt.Sscanf(channel, userChannelPrefix+"%d", &userID); err == nil {
				h.sendLocal(userID, data)
			}
		case strings.HasPrefix(channel, evictChannelPrefix):
			var userID uint
			if _, err := fmt.Sscanf(channel, evictChannelPrefix+"%d", &userID); err == nil {
				h.evictLocal(userID)
			}
		}
	})
}

// Shutdown closes every session with going-away.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	all := make([]*Client, 0)
	for _, sessions := range h.users {
		for c := range sessions {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.Close(websocket.CloseGoingAway)
	}
	h.logger.LogLifecycle(ctx, "shutdown", map[string]interface{}{"sessions": len(all)})
	return nil
}
