package server

import (
	"time"

	"huddle/internal/models"
	"huddle/internal/presence"

	"github.com/gofiber/fiber/v2"
)

// OnlineStatusResponse is the presence shape returned to clients.
type OnlineStatusResponse struct {
	UserID       uint                `json:"user_id"`
	OnlineStatus models.OnlineStatus `json:"online_status"`
	LastSeen     *time.Time          `json:"last_seen"`
}

func statusResponse(st presence.State) OnlineStatusResponse {
	resp := OnlineStatusResponse{UserID: st.UserID, OnlineStatus: st.Status}
	if !st.LastSeen.IsZero() {
		seen := st.LastSeen
		resp.LastSeen = &seen
	}
	return resp
}

// Heartbeat handles POST /users/heartbeat
// @Summary Presence heartbeat
// @Description Marks the caller online. logout=true sets offline; state sets online, away or offline.
// @Tags presence
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{logout=bool,state=string} false "Heartbeat"
// @Success 200 {object} OnlineStatusResponse
// @Router /users/heartbeat [post]
func (s *Server) Heartbeat(c *fiber.Ctx) error {
	var req struct {
		Logout bool                `json:"logout"`
		State  models.OnlineStatus `json:"state"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	ctx := c.UserContext()
	user := currentUser(c)
	var (
		st  presence.State
		err error
	)
	switch {
	case req.Logout:
		if err = s.presence.Logout(ctx, user.ID); err == nil {
			st, err = s.presence.GetUserStatus(ctx, user.ID)
		}
	case req.State != "":
		st, err = s.presence.SetState(ctx, user, req.State)
	default:
		st, err = s.presence.Heartbeat(ctx, user)
	}
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(statusResponse(st))
}

// GetOnlineStatus handles GET /users/:id/online-status
// @Summary User presence
// @Tags presence
// @Produce json
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 200 {object} OnlineStatusResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /users/{id}/online-status [get]
func (s *Server) GetOnlineStatus(c *fiber.Ctx) error {
	userID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	st, err := s.presence.GetUserStatus(c.UserContext(), userID)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(statusResponse(st))
}

// GetOnlineUsers handles GET /users/online
// @Summary Online users
// @Description Snapshot of every online or away user.
// @Tags presence
// @Produce json
// @Security BearerAuth
// @Success 200 {array} OnlineStatusResponse
// @Router /users/online [get]
func (s *Server) GetOnlineUsers(c *fiber.Ctx) error {
	states, err := s.presence.GetOnlineUsers(c.UserContext())
	if err != nil {
		return models.RespondError(c, err)
	}
	out := make([]OnlineStatusResponse, 0, len(states))
	for _, st := range states {
		out = append(out, statusResponse(st))
	}
	return c.JSON(out)
}
