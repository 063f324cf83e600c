package server

import (
	"context"
	"strings"
	"time"

	"huddle/internal/models"
	"huddle/internal/notifications"
	"huddle/internal/service"
	"huddle/internal/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// messageEvent is the outbound event type for a new message in conv's room.
func messageEvent(conv *models.Conversation) string {
	if conv.GroupID != nil {
		return notifications.EventGroupMessage
	}
	return notifications.EventChatMessage
}

// appendMessage persists a message inside the room's writer so the broadcast
// order matches the persistence order. A client-key replay is not broadcast
// again; replayed reports it so the caller can answer the sender alone.
func (s *Server) appendMessage(ctx context.Context, conv *models.Conversation, in service.AppendInput) (view *models.MessageView, replayed bool, err error) {
	return s.dispatchMessage(ctx, conv, func(ctx context.Context) (*models.MessageView, bool, error) {
		return s.messageService.Append(ctx, in)
	})
}

func (s *Server) dispatchMessage(ctx context.Context, conv *models.Conversation, fn func(context.Context) (*models.MessageView, bool, error)) (*models.MessageView, bool, error) {
	var (
		view     *models.MessageView
		replayed bool
	)
	_, err := s.hub.Dispatch(ctx, notifications.RoomForConversation(conv), func(ctx context.Context) (*notifications.Event, error) {
		var err error
		view, replayed, err = fn(ctx)
		if err != nil || replayed {
			return nil, err
		}
		return notifications.NewEvent(messageEvent(conv), view), nil
	})
	if err != nil {
		return nil, false, err
	}
	return view, replayed, nil
}

// CreateConversation handles POST /chat/conversations
// @Summary Open a direct conversation
// @Description Returns the existing direct conversation with user_id or creates it.
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{user_id=int} true "Other participant"
// @Success 201 {object} models.Conversation
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /chat/conversations [post]
func (s *Server) CreateConversation(c *fiber.Ctx) error {
	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.UserID == 0 {
		return models.RespondError(c, models.NewFieldValidationError("user_id", "user_id is required"))
	}

	conv, err := s.chatService.OpenIndividual(c.UserContext(), currentUser(c), req.UserID)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

// GetConversations handles GET /chat/conversations
// @Summary List my conversations
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Conversation
// @Router /chat/conversations [get]
func (s *Server) GetConversations(c *fiber.Ctx) error {
	convs, err := s.chatService.List(c.UserContext(), currentUser(c))
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(convs)
}

// GetConversation handles GET /chat/conversations/:id
// @Summary Get a conversation
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Success 200 {object} service.ConversationView
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /chat/conversations/{id} [get]
func (s *Server) GetConversation(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	view, err := s.chatService.Get(c.UserContext(), id, currentUser(c))
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(view)
}

// DeleteConversation handles DELETE /chat/conversations/:id
// @Summary Delete a direct conversation
// @Tags chat
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Success 204
// @Router /chat/conversations/{id} [delete]
func (s *Server) DeleteConversation(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.chatService.Delete(c.UserContext(), id, currentUser(c)); err != nil {
		return models.RespondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetMessages handles GET /chat/conversations/:id/messages
// @Summary Message history
// @Description Newest first. Pass next_cursor back as cursor for older messages.
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param cursor query string false "Opaque cursor"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} service.MessagePage
// @Failure 403 {object} models.ErrorResponse
// @Router /chat/conversations/{id}/messages [get]
func (s *Server) GetMessages(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	page, err := s.messageService.List(c.UserContext(), id, currentUser(c), c.Query("cursor"), c.QueryInt("limit", 0))
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(page)
}

// SendMessage handles POST /chat/conversations/:id/messages
// @Summary Send a message
// @Description Persists and broadcasts to the room. client_key (or the Idempotency-Key header) makes retries safe.
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param request body object{content=string,message_type=string,reply_to=string,client_key=string,attachments=[]service.AttachmentInput} true "Message"
// @Success 201 {object} models.MessageView
// @Success 200 {object} models.MessageView "Replay of an earlier client_key"
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /chat/conversations/{id}/messages [post]
func (s *Server) SendMessage(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Content     string                    `json:"content"`
		Type        models.MessageType        `json:"message_type"`
		ReplyTo     string                    `json:"reply_to"`
		ClientKey   string                    `json:"client_key"`
		Attachments []service.AttachmentInput `json:"attachments"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	in := service.AppendInput{
		ConversationID: id,
		Sender:         currentUser(c),
		Content:        req.Content,
		Type:           req.Type,
		Attachments:    req.Attachments,
		ClientKey:      req.ClientKey,
	}
	if in.ClientKey == "" {
		in.ClientKey = strings.TrimSpace(c.Get("Idempotency-Key"))
	}
	if req.ReplyTo != "" {
		replyTo, err := uuid.Parse(req.ReplyTo)
		if err != nil {
			return models.RespondError(c, models.NewFieldValidationError("reply_to", "Invalid message ID"))
		}
		in.ReplyTo = &replyTo
	}

	ctx := c.UserContext()
	conv, err := s.chatRepo.GetConversation(ctx, id)
	if err != nil {
		return models.RespondError(c, err)
	}
	view, replayed, err := s.appendMessage(ctx, conv, in)
	if err != nil {
		return models.RespondError(c, err)
	}
	if replayed {
		return c.JSON(view)
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

// EditMessage handles PATCH /chat/messages/:id
// @Summary Edit a message
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Param request body object{content=string} true "New content"
// @Success 200 {object} models.MessageView
// @Failure 403 {object} models.ErrorResponse
// @Router /chat/messages/{id} [patch]
func (s *Server) EditMessage(c *fiber.Ctx) error {
	id, err := s.parseMessageID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	view, err := s.messageService.Edit(c.UserContext(), id, currentUser(c), req.Content)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(view)
}

// DeleteMessage handles DELETE /chat/messages/:id
// @Summary Delete a message
// @Description Senders delete their own messages; holders of delete_messages may delete any.
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Success 200 {object} object{success=bool,deleted=bool}
// @Failure 403 {object} models.ErrorResponse
// @Router /chat/messages/{id} [delete]
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	id, err := s.parseMessageID(c, "id")
	if err != nil {
		return nil
	}
	changed, err := s.messageService.SoftDelete(c.UserContext(), id, currentUser(c))
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "deleted": changed})
}

// ForwardMessage handles POST /chat/messages/:id/forward
// @Summary Forward a message
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Param request body object{conversation_id=int} true "Target conversation"
// @Success 201 {object} models.MessageView
// @Router /chat/messages/{id}/forward [post]
func (s *Server) ForwardMessage(c *fiber.Ctx) error {
	id, err := s.parseMessageID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		ConversationID uint `json:"conversation_id"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.ConversationID == 0 {
		return models.RespondError(c, models.NewFieldValidationError("conversation_id", "conversation_id is required"))
	}

	ctx := c.UserContext()
	user := currentUser(c)
	target, err := s.chatRepo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return models.RespondError(c, err)
	}
	view, _, err := s.dispatchMessage(ctx, target, func(ctx context.Context) (*models.MessageView, bool, error) {
		view, err := s.messageService.Forward(ctx, id, target.ID, user)
		return view, false, err
	})
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

// MarkConversationRead handles POST /chat/conversations/:id/read
// @Summary Mark read
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Success 200 {object} object{read_at=string}
// @Router /chat/conversations/{id}/read [post]
func (s *Server) MarkConversationRead(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	at, err := s.messageService.MarkRead(c.UserContext(), id, currentUser(c))
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(fiber.Map{"read_at": at})
}

// SearchMessages handles GET /chat/conversations/:id/search
// @Summary Search messages
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param q query string true "Search text"
// @Param limit query int false "Max results"
// @Success 200 {array} models.MessageView
// @Router /chat/conversations/{id}/search [get]
func (s *Server) SearchMessages(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	results, err := s.messageService.Search(c.UserContext(), id, currentUser(c), c.Query("q"), c.QueryInt("limit", 0))
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(results)
}

// PresignAttachment handles POST /chat/conversations/:id/attachments/presign
// @Summary Presign an attachment upload
// @Description Returns where to upload the file and the file_ref to attach to a message.
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param request body object{file_name=string,content_type=string} true "File"
// @Success 200 {object} storage.Upload
// @Failure 429 {object} models.ErrorResponse
// @Router /chat/conversations/{id}/attachments/presign [post]
func (s *Server) PresignAttachment(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		FileName    string `json:"file_name"`
		ContentType string `json:"content_type"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if strings.TrimSpace(req.FileName) == "" {
		return models.RespondError(c, models.NewFieldValidationError("file_name", "file_name is required"))
	}

	ctx := c.UserContext()
	if _, err := s.chatService.Get(ctx, id, currentUser(c)); err != nil {
		return models.RespondError(c, err)
	}
	up, err := s.storage.PresignUpload(ctx, storage.NewKey(id, req.FileName, time.Now().UTC()), req.ContentType)
	if err != nil {
		return models.RespondError(c, models.NewTransientError(err))
	}
	return c.JSON(up)
}
