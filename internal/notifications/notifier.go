// Package notifications delivers real-time events to duplex sessions.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"huddle/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	roomChannelPrefix  = "hub:room:"
	userChannelPrefix  = "hub:user:"
	evictChannelPrefix = "hub:evict:"
)

// envelope tags mirrored frames with the publishing instance so that
// instances skip their own echoes.
type envelope struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Notifier mirrors hub traffic over Redis pub/sub.
type Notifier struct {
	rdb        *redis.Client
	instanceID string
}

// NewNotifier creates a Notifier. A nil client disables mirroring.
func NewNotifier(rdb *redis.Client, instanceID string) *Notifier {
	return &Notifier{rdb: rdb, instanceID: instanceID}
}

// InstanceID identifies this process on the bus.
func (n *Notifier) InstanceID() string { return n.instanceID }

// PublishRoom mirrors a room frame.
func (n *Notifier) PublishRoom(ctx context.Context, key RoomKey, data []byte) error {
	return n.publish(ctx, roomChannelPrefix+key.String(), data)
}

// PublishUser mirrors a frame addressed to one user.
func (n *Notifier) PublishUser(ctx context.Context, userID uint, data []byte) error {
	return n.publish(ctx, fmt.Sprintf("%s%d", userChannelPrefix, userID), data)
}

// PublishEviction asks every instance to close the user's sessions.
func (n *Notifier) PublishEviction(ctx context.Context, userID uint) error {
	return n.publish(ctx, fmt.Sprintf("%s%d", evictChannelPrefix, userID), nil)
}

func (n *Notifier) publish(ctx context.Context, channel string, data []byte) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(envelope{Origin: n.instanceID, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return n.rdb.Publish(ctx, channel, payload).Err()
}

// StartSubscriber subscribes to every hub channel and calls onMessage for
// each frame published by another instance.
func (n *Notifier) StartSubscriber(ctx context.Context, onMessage func(channel string, data []byte)) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, roomChannelPrefix+"*", userChannelPrefix+"*", evictChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe hub channels: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				n.handle(ctx, msg, onMessage)
			}
		}
	}()

	return nil
}

func (n *Notifier) handle(ctx context.Context, msg *redis.Message, onMessage func(string, []byte)) {
	defer func() {
		if r := recover(); r != nil {
			observability.GlobalLogger.ErrorContext(ctx, "hub subscriber panicked",
				slog.String("channel", msg.Channel),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "dropping malformed hub frame",
			slog.String("channel", msg.Channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if env.Origin == n.instanceID {
		return
	}
	onMessage(msg.Channel, env.Data)
}
