package server

import (
	"huddle/internal/models"

	"github.com/gofiber/fiber/v2"
)

// ActivateUser handles POST /admin/users/:id/activate
// @Summary Reactivate a suspended or banned account
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body object{reason=string} false "Reason"
// @Success 200 {object} models.User
// @Failure 409 {object} models.ErrorResponse "illegal transition"
// @Router /admin/users/{id}/activate [post]
func (s *Server) ActivateUser(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	user, err := s.accounts.Activate(c.UserContext(), currentUser(c).ID, id, req.Reason)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(user)
}

// ForceLogoutUser handles POST /admin/users/:id/force_logout
// @Summary Revoke every token of a user
// @Description Bumps the token version. Open sessions are closed with code 4010.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 200 {object} object{success=bool,token_version=int,sessions=int}
// @Router /admin/users/{id}/force_logout [post]
func (s *Server) ForceLogoutUser(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	sessions := s.hub.UserSessions(id)
	version, err := s.accounts.ForceLogout(c.UserContext(), currentUser(c).ID, id)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"token_version": version,
		"sessions":      sessions,
	})
}

// DeleteUser handles DELETE /admin/users/:id
// @Summary Soft-delete an account
// @Description The account is archived in trash and can be restored until the trash item expires.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 200 {object} models.TrashItem
// @Router /admin/users/{id} [delete]
func (s *Server) DeleteUser(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	item, err := s.accounts.Delete(c.UserContext(), currentUser(c).ID, id)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(item)
}

// RestoreUser handles POST /admin/trash/:id/restore
// @Summary Restore a deleted account from trash
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "Trash item ID"
// @Success 200 {object} models.User
// @Failure 404 {object} models.ErrorResponse
// @Router /admin/trash/{id}/restore [post]
func (s *Server) RestoreUser(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	user, err := s.accounts.RestoreDeleted(c.UserContext(), currentUser(c).ID, id)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(user)
}

// SetModerator handles PUT /admin/moderators/:id
// @Summary Make a user a moderator
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Param request body object{role_type=string,extra_permissions=[]string} true "Bundle"
// @Success 200 {object} models.ModeratorProfile
// @Router /admin/moderators/{id} [put]
func (s *Server) SetModerator(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		RoleType         models.ModeratorRoleType `json:"role_type"`
		ExtraPermissions []string                 `json:"extra_permissions"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	profile, err := s.moderation.SetModerator(c.UserContext(), currentUser(c), id, req.RoleType, req.ExtraPermissions)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(profile)
}

// GetFeatureFlags handles GET /admin/feature-flags
// @Summary Feature flag configuration
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{raw=string,flags=map[string]bool}
// @Router /admin/feature-flags [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"raw":   s.featureFlags.Raw(),
		"flags": s.featureFlags.Snapshot(currentUser(c).ID),
	})
}
