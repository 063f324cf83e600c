package server

import (
	"huddle/internal/models"
	"huddle/internal/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// moderationRequest is the body shared by warn, suspend and ban.
type moderationRequest struct {
	UserID   uint   `json:"user_id"`
	Reason   string `json:"reason"`
	Duration string `json:"duration"`
}

func parseModerationRequest(c *fiber.Ctx) (*moderationRequest, error) {
	var req moderationRequest
	if err := parseBody(c, &req); err != nil {
		return nil, err
	}
	if req.UserID == 0 {
		_ = models.RespondError(c, models.NewFieldValidationError("user_id", "user_id is required"))
		return nil, errResponseWritten
	}
	return &req, nil
}

func actionResponse(c *fiber.Ctx, status int, action *models.ModerationAction) error {
	return c.Status(status).JSON(fiber.Map{"success": true, "action": action})
}

// WarnUser handles POST /moderators/warn_user
// @Summary Warn a user
// @Tags moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{user_id=int,reason=string} true "Warning"
// @Success 201 {object} object{success=bool,action=models.ModerationAction}
// @Failure 403 {object} models.ErrorResponse
// @Router /moderators/warn_user [post]
func (s *Server) WarnUser(c *fiber.Ctx) error {
	req, err := parseModerationRequest(c)
	if err != nil {
		return nil
	}
	action, err := s.moderation.Warn(c.UserContext(), currentUser(c), req.UserID, req.Reason)
	if err != nil {
		return models.RespondError(c, err)
	}
	return actionResponse(c, fiber.StatusCreated, action)
}

// SuspendUser handles POST /moderators/suspend_user
// @Summary Suspend a user
// @Description duration is "<n>h", "<n>d", "<n>w" or "permanent".
// @Tags moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{user_id=int,reason=string,duration=string} true "Suspension"
// @Success 201 {object} object{success=bool,action=models.ModerationAction}
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /moderators/suspend_user [post]
func (s *Server) SuspendUser(c *fiber.Ctx) error {
	req, err := parseModerationRequest(c)
	if err != nil {
		return nil
	}
	action, err := s.moderation.Suspend(c.UserContext(), currentUser(c), req.UserID, req.Duration, req.Reason)
	if err != nil {
		return models.RespondError(c, err)
	}
	return actionResponse(c, fiber.StatusCreated, action)
}

// BanUser handles POST /moderators/ban_user
// @Summary Ban a user
// @Tags moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{user_id=int,reason=string} true "Ban"
// @Success 201 {object} object{success=bool,action=models.ModerationAction}
// @Failure 403 {object} models.ErrorResponse
// @Router /moderators/ban_user [post]
func (s *Server) BanUser(c *fiber.Ctx) error {
	req, err := parseModerationRequest(c)
	if err != nil {
		return nil
	}
	action, err := s.moderation.Ban(c.UserContext(), currentUser(c), req.UserID, req.Reason)
	if err != nil {
		return models.RespondError(c, err)
	}
	return actionResponse(c, fiber.StatusCreated, action)
}

// ModerateDeleteMessage handles POST /moderators/delete_message
// @Summary Delete a message as staff
// @Tags moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{message_id=string,reason=string} true "Message"
// @Success 200 {object} object{success=bool,action=models.ModerationAction}
// @Failure 409 {object} models.ErrorResponse "already deleted"
// @Router /moderators/delete_message [post]
func (s *Server) ModerateDeleteMessage(c *fiber.Ctx) error {
	var req struct {
		MessageID string `json:"message_id"`
		Reason    string `json:"reason"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		return models.RespondError(c, models.NewFieldValidationError("message_id", "Invalid message ID"))
	}
	action, err := s.moderation.DeleteMessage(c.UserContext(), currentUser(c), messageID, req.Reason)
	if err != nil {
		return models.RespondError(c, err)
	}
	return actionResponse(c, fiber.StatusOK, action)
}

// ApproveUser handles POST /moderators/approve_user
// @Summary Approve a pending account
// @Tags moderation
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{user_id=int} true "User"
// @Success 200 {object} models.User
// @Failure 409 {object} models.ErrorResponse "not pending"
// @Router /moderators/approve_user [post]
func (s *Server) ApproveUser(c *fiber.Ctx) error {
	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.UserID == 0 {
		return models.RespondError(c, models.NewFieldValidationError("user_id", "user_id is required"))
	}
	user, err := s.accounts.Approve(c.UserContext(), currentUser(c).ID, req.UserID)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(user)
}

// GetAuditEvents handles GET /moderators/audit_events
// @Summary Audit log
// @Tags moderation
// @Produce json
// @Security BearerAuth
// @Param action_type query string false "Action type"
// @Param severity query string false "info, warning, error or critical"
// @Param target_ref query string false "Target reference"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {array} models.AuditEvent
// @Router /moderators/audit_events [get]
func (s *Server) GetAuditEvents(c *fiber.Ctx) error {
	page := parsePagination(c, 50)
	events, err := s.moderation.AuditEvents(c.UserContext(), currentUser(c), repository.AuditFilter{
		ActionType: c.Query("action_type"),
		Severity:   models.Severity(c.Query("severity")),
		TargetRef:  c.Query("target_ref"),
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(events)
}

// GetModerationHistory handles GET /moderators/users/:id/history
// @Summary Moderation history of a user
// @Tags moderation
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param limit query int false "Page size"
// @Success 200 {array} models.ModerationAction
// @Router /moderators/users/{id}/history [get]
func (s *Server) GetModerationHistory(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	page := parsePagination(c, 50)
	actions, err := s.moderation.History(c.UserContext(), currentUser(c), id, page.Limit)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(actions)
}
