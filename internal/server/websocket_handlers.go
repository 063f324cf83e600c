package server

import (
	"context"
	"strconv"
	"strings"

	"huddle/internal/middleware"
	"huddle/internal/models"
	"huddle/internal/notifications"
	"huddle/internal/observability"
	"huddle/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const localWSToken = "wsToken"

// Frame outcomes recorded on huddle_websocket_frames_total.
const (
	frameAccepted     = "accepted"
	frameDropped      = "dropped"
	frameRejected     = "rejected"
	frameUnauthorized = "unauthorized"
)

var wsLog = observability.NewWSLogger("websocket handlers")

// WebSocketUpgrade admits upgrade requests and stashes the token. The token
// is checked after the upgrade so failures surface as close codes.
func (s *Server) WebSocketUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token, _ := middleware.WebSocketToken(c)
	c.Locals(localWSToken, token)
	return c.Next()
}

// WebSocketChatHandler serves GET /ws/chat/:id for any conversation the
// caller participates in.
func (s *Server) WebSocketChatHandler() fiber.Handler {
	return s.websocketHandler(s.chatRepo.GetConversation)
}

// WebSocketGroupHandler serves GET /ws/group/:id for group members.
func (s *Server) WebSocketGroupHandler() fiber.Handler {
	return s.websocketHandler(s.chatRepo.GetGroupConversation)
}

type conversationResolver func(ctx context.Context, id uint) (*models.Conversation, error)

func (s *Server) websocketHandler(resolve conversationResolver) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ctx := s.baseContext()

		token, _ := conn.Locals(localWSToken).(string)
		user, err := s.authenticator.Authenticate(ctx, token)
		if err != nil {
			notifications.Reject(conn, authCloseCode(err))
			return
		}

		id, err := strconv.ParseUint(conn.Params("id"), 10, 64)
		if err != nil || id == 0 {
			notifications.Reject(conn, notifications.CloseForbidden)
			return
		}
		conv, err := resolve(ctx, uint(id))
		if err != nil || conv.IsDeleted {
			notifications.Reject(conn, notifications.CloseForbidden)
			return
		}
		ok, err := s.chatRepo.IsParticipant(ctx, conv, user.ID)
		if err != nil || !ok {
			notifications.Reject(conn, notifications.CloseForbidden)
			return
		}

		client := s.hub.NewClient(conn, user, notifications.RoomForConversation(conv))
		sess := &wsSession{server: s, conv: conv, token: token}
		client.OnFrame = sess.handleFrame

		if _, err := s.presence.Heartbeat(ctx, user); err != nil {
			wsLog.LogError(ctx, user.ID, client.Room.String(), err, "presence")
		}
		s.hub.Serve(ctx, client)
	})
}

// wsSession routes inbound frames of one connection.
type wsSession struct {
	server *Server
	conv   *models.Conversation
	token  string
}

func (w *wsSession) handleFrame(client *notifications.Client, raw []byte) {
	s := w.server
	ctx := s.baseContext()

	// Revocation, suspension and ban take effect on the next frame.
	user, err := s.authenticator.Authenticate(ctx, w.token)
	if err != nil {
		observability.WebSocketFramesTotal.WithLabelValues("any", frameUnauthorized).Inc()
		client.Close(authCloseCode(err))
		return
	}

	frame, err := notifications.ParseFrame(raw)
	if err != nil {
		observability.WebSocketFramesTotal.WithLabelValues("invalid", frameDropped).Inc()
		return
	}
	wsLog.LogFrame(ctx, user.ID, client.Room.String(), frame.Type)

	var outcome string
	switch frame.Type {
	case notifications.FrameChatMessage, notifications.FrameGroupMessage:
		outcome = w.onMessage(ctx, client, user, frame)
	case notifications.FrameTyping:
		if client.Room.Kind == notifications.RoomGroup {
			outcome = frameDropped
			break
		}
		s.hub.Broadcast(ctx, client.Room, notifications.NewEvent(notifications.EventTypingIndicator, notifications.TypingPayload{
			UserID:   user.ID,
			Username: user.Username,
			IsTyping: frame.IsTyping,
		}))
		outcome = frameAccepted
	case notifications.FrameReadReceipt:
		if client.Room.Kind == notifications.RoomGroup {
			outcome = frameDropped
			break
		}
		outcome = w.onReadReceipt(ctx, client, user, frame)
	case notifications.FrameMemberJoined, notifications.FrameMemberLeft:
		outcome = w.onMembership(ctx, client, user, frame)
	default:
		frame.Type = "unknown"
		outcome = frameDropped
	}
	observability.WebSocketFramesTotal.WithLabelValues(frame.Type, outcome).Inc()
}

func (w *wsSession) onMessage(ctx context.Context, client *notifications.Client, user *models.User, frame notifications.Frame) string {
	want := notifications.FrameChatMessage
	if client.Room.Kind == notifications.RoomGroup {
		want = notifications.FrameGroupMessage
	}
	if frame.Type != want || strings.TrimSpace(frame.Content) == "" {
		return frameDropped
	}

	in := service.AppendInput{
		ConversationID: w.conv.ID,
		Sender:         user,
		Content:        frame.Content,
		Type:           models.MessageText,
		ClientKey:      frame.ClientKey,
	}
	if frame.ReplyTo != "" {
		replyTo, err := uuid.Parse(frame.ReplyTo)
		if err != nil {
			w.sendError(client, models.NewFieldValidationError("reply_to", "Invalid message ID"))
			return frameRejected
		}
		in.ReplyTo = &replyTo
	}

	view, replayed, err := w.server.appendMessage(ctx, w.conv, in)
	if err != nil {
		wsLog.LogError(ctx, user.ID, client.Room.String(), err, frame.Type)
		w.sendError(client, err)
		return frameRejected
	}
	if replayed {
		// The room already has this message; only the resubmitting session
		// needs it again.
		ev := notifications.NewEvent(messageEvent(w.conv), view)
		ev.Room = client.Room.String()
		client.SendEvent(ev)
	}
	return frameAccepted
}

func (w *wsSession) onReadReceipt(ctx context.Context, client *notifications.Client, user *models.User, frame notifications.Frame) string {
	messageID, err := uuid.Parse(frame.MessageID)
	if err != nil {
		w.sendError(client, models.NewFieldValidationError("message_id", "Invalid message ID"))
		return frameRejected
	}
	_, err = w.server.hub.Dispatch(ctx, client.Room, func(ctx context.Context) (*notifications.Event, error) {
		readAt, err := w.server.messageService.ReadReceipt(ctx, w.conv.ID, user, messageID)
		if err != nil {
			return nil, err
		}
		return notifications.NewEvent(notifications.EventReadReceipt, notifications.ReadReceiptPayload{
			UserID:    user.ID,
			MessageID: messageID.String(),
			ReadAt:    readAt,
		}), nil
	})
	if err != nil {
		w.sendError(client, err)
		return frameRejected
	}
	return frameAccepted
}

// onMembership relays join/leave announcements in group rooms. The payload
// always names the sender.
func (w *wsSession) onMembership(ctx context.Context, client *notifications.Client, user *models.User, frame notifications.Frame) string {
	if client.Room.Kind != notifications.RoomGroup {
		return frameDropped
	}
	eventType := notifications.EventMemberJoined
	if frame.Type == notifications.FrameMemberLeft {
		eventType = notifications.EventMemberLeft
	}
	w.server.hub.Broadcast(ctx, client.Room, notifications.NewEvent(eventType, notifications.MemberPayload{
		GroupID:  client.Room.ID,
		UserID:   user.ID,
		Username: user.Username,
		Status:   frame.Content,
	}))
	return frameAccepted
}

// authCloseCode maps an authentication failure to a close code. A valid
// token on a pending, suspended or banned account is forbidden.
func authCloseCode(err error) int {
	if models.StatusFor(err) == fiber.StatusForbidden {
		return notifications.CloseForbidden
	}
	return notifications.CloseUnauthorized
}

func (w *wsSession) sendError(client *notifications.Client, err error) {
	errorType, message := models.ErrorTypeOf(err)
	client.SendEvent(notifications.NewEvent(notifications.EventError, notifications.ErrorPayload{
		ErrorType: errorType,
		Message:   message,
	}))
}
