package server

import (
	"huddle/internal/models"
	"huddle/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateGroup handles POST /groups
// @Summary Create a group
// @Description Creates the group, its conversation and the caller's owner membership.
// @Tags groups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{name=string,description=string,visibility=string} true "Group"
// @Success 201 {object} service.GroupDetail
// @Failure 400 {object} models.ErrorResponse
// @Router /groups [post]
func (s *Server) CreateGroup(c *fiber.Ctx) error {
	var req struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Visibility  models.GroupVisibility `json:"visibility"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	group, err := s.groupService.Create(c.UserContext(), service.CreateGroupInput{
		Owner:       currentUser(c),
		Name:        req.Name,
		Description: req.Description,
		Visibility:  req.Visibility,
	})
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(group)
}

// GetPublicGroups handles GET /groups
// @Summary List public groups
// @Tags groups
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {array} models.Group
// @Router /groups [get]
func (s *Server) GetPublicGroups(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	groups, err := s.groupService.ListPublic(c.UserContext(), page.Limit, page.Offset)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(groups)
}

// GetGroup handles GET /groups/:id
// @Summary Get a group
// @Tags groups
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Success 200 {object} service.GroupDetail
// @Failure 403 {object} models.ErrorResponse "private group"
// @Router /groups/{id} [get]
func (s *Server) GetGroup(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	group, err := s.groupService.Get(c.UserContext(), id, currentUser(c))
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(group)
}

// GetGroupMembers handles GET /groups/:id/members
// @Summary List members
// @Tags groups
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Success 200 {array} models.GroupMember
// @Router /groups/{id}/members [get]
func (s *Server) GetGroupMembers(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	members, err := s.groupService.Members(c.UserContext(), id, currentUser(c))
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(members)
}

// JoinGroup handles POST /groups/:id/join
// @Summary Join a public group
// @Tags groups
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Success 200 {object} models.GroupMember
// @Failure 403 {object} models.ErrorResponse
// @Router /groups/{id}/join [post]
func (s *Server) JoinGroup(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	member, err := s.groupService.Join(c.UserContext(), id, currentUser(c))
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(member)
}

// LeaveGroup handles POST /groups/:id/leave
// @Summary Leave a group
// @Tags groups
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Success 204
// @Failure 409 {object} models.ErrorResponse "sole owner"
// @Router /groups/{id}/leave [post]
func (s *Server) LeaveGroup(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.groupService.Leave(c.UserContext(), id, currentUser(c)); err != nil {
		return models.RespondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AddGroupMember handles POST /groups/:id/members
// @Summary Add a member
// @Tags groups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Param request body object{user_id=int} true "User"
// @Success 201 {object} models.GroupMember
// @Router /groups/{id}/members [post]
func (s *Server) AddGroupMember(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.UserID == 0 {
		return models.RespondError(c, models.NewFieldValidationError("user_id", "user_id is required"))
	}
	member, err := s.groupService.AddMember(c.UserContext(), id, currentUser(c), req.UserID)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(member)
}

// KickGroupMember handles DELETE /groups/:id/members/:userId
// @Summary Remove a member
// @Tags groups
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Param userId path int true "User ID"
// @Success 204
// @Router /groups/{id}/members/{userId} [delete]
func (s *Server) KickGroupMember(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	if err := s.groupService.Kick(c.UserContext(), id, currentUser(c), userID); err != nil {
		return models.RespondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ChangeGroupMemberRole handles PUT /groups/:id/members/:userId/role
// @Summary Change a member's role
// @Tags groups
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Param userId path int true "User ID"
// @Param request body object{role=string} true "admin or member"
// @Success 200 {object} models.GroupMember
// @Router /groups/{id}/members/{userId}/role [put]
func (s *Server) ChangeGroupMemberRole(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	userID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	var req struct {
		Role models.GroupRole `json:"role"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	member, err := s.groupService.ChangeRole(c.UserContext(), id, currentUser(c), userID, req.Role)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(member)
}

// TransferGroupOwnership handles POST /groups/:id/transfer
// @Summary Transfer ownership
// @Tags groups
// @Accept json
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Param request body object{user_id=int} true "New owner"
// @Success 204
// @Router /groups/{id}/transfer [post]
func (s *Server) TransferGroupOwnership(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.UserID == 0 {
		return models.RespondError(c, models.NewFieldValidationError("user_id", "user_id is required"))
	}
	if err := s.groupService.TransferOwnership(c.UserContext(), id, currentUser(c), req.UserID); err != nil {
		return models.RespondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteGroup handles DELETE /groups/:id
// @Summary Delete a group
// @Tags groups
// @Security BearerAuth
// @Param id path int true "Group ID"
// @Success 204
// @Router /groups/{id} [delete]
func (s *Server) DeleteGroup(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.groupService.Delete(c.UserContext(), id, currentUser(c)); err != nil {
		return models.RespondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
