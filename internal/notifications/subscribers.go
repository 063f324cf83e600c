package notifications

import (
	"context"

	"huddle/internal/events"
	"huddle/internal/models"
)

// Subscribe wires the hub to account, moderation and membership events.
func (h *Hub) Subscribe(bus *events.Bus) {
	events.Subscribe(bus, func(ctx context.Context, e events.TokenVersionBumped) {
		h.EvictUser(ctx, e.UserID)
	})

	events.Subscribe(bus, func(ctx context.Context, e events.AccountStateChanged) {
		switch e.To {
		case models.StatusSuspended, models.StatusBanned, models.StatusDeleted:
			h.EvictUser(ctx, e.UserID)
		}
	})

	events.Subscribe(bus, func(ctx context.Context, e events.AccountApproved) {
		h.SendToUser(ctx, e.UserID, NewEvent(EventNotification, NotificationPayload{
			Kind:    "account_approved",
			Message: "Your account has been approved",
		}))
	})

	events.Subscribe(bus, func(ctx context.Context, e events.UserWarned) {
		h.SendToUser(ctx, e.UserID, NewEvent(EventNotification, NotificationPayload{
			Kind:    "warning",
			Message: e.Reason,
		}))
	})

	events.Subscribe(bus, func(ctx context.Context, e events.MessageDeleted) {
		key := ConversationRoom(e.ConversationID)
		if e.GroupID != nil {
			key = GroupRoom(*e.GroupID)
		}
		h.Broadcast(ctx, key, NewEvent(EventMessageDeleted, MessageDeletedPayload{
			MessageID:      e.ID.String(),
			ConversationID: e.ConversationID,
			DeletedBy:      e.ActorID,
		}))
	})

	events.Subscribe(bus, func(ctx context.Context, e events.GroupMemberJoined) {
		h.Broadcast(ctx, GroupRoom(e.GroupID), NewEvent(EventMemberJoined, MemberPayload{
			GroupID:  e.GroupID,
			UserID:   e.UserID,
			Username: e.Username,
		}))
	})

	events.Subscribe(bus, func(ctx context.Context, e events.GroupMemberLeft) {
		h.Broadcast(ctx, GroupRoom(e.GroupID), NewEvent(EventMemberLeft, MemberPayload{
			GroupID:  e.GroupID,
			UserID:   e.UserID,
			Username: e.Username,
			Status:   string(e.Status),
		}))
	})
}
