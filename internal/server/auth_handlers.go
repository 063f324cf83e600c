package server

import (
	"strings"

	"huddle/internal/auth"
	"huddle/internal/middleware"
	"huddle/internal/models"
	"huddle/internal/service"

	"github.com/gofiber/fiber/v2"
)

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User   *models.User `json:"user"`
	Tokens *auth.Pair   `json:"tokens"`
}

// Register handles POST /auth/register
// @Summary Register
// @Description Create an account. New accounts are pending until an admin approves them.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{username=string,email=string,password=string,first_name=string,last_name=string} true "Registration"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Router /auth/register [post]
func (s *Server) Register(c *fiber.Ctx) error {
	var req struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	user, err := s.userService.Register(c.UserContext(), service.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return models.RespondError(c, err)
	}

	tokens, err := s.tokens.Issue(user)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(AuthResponse{User: user, Tokens: tokens})
}

// Login handles POST /auth/login
// @Summary Login
// @Description Exchange a username (or email) and password for a token pair.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{username=string,password=string} true "Credentials"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse "pending, suspended or banned"
// @Router /auth/login [post]
func (s *Server) Login(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	login := req.Username
	if strings.TrimSpace(login) == "" {
		login = req.Email
	}

	ctx := c.UserContext()
	user, err := s.userService.Login(ctx, login, req.Password)
	if err != nil {
		return models.RespondError(c, err)
	}

	tokens, err := s.tokens.Issue(user)
	if err != nil {
		return models.RespondError(c, err)
	}
	s.presence.Touch(ctx, user)
	return c.JSON(AuthResponse{User: user, Tokens: tokens})
}

// Logout handles POST /auth/logout
// @Summary Logout
// @Description Revoke the access token used for the call and, when given, the refresh token. Sets presence offline.
// @Tags auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{refresh=string} false "Refresh token"
// @Success 200 {object} object{success=bool}
// @Router /auth/logout [post]
func (s *Server) Logout(c *fiber.Ctx) error {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	ctx := c.UserContext()
	user := currentUser(c)
	access, err := middleware.BearerToken(c)
	if err != nil {
		return models.RespondError(c, err)
	}
	if err := s.tokens.RevokeRaw(ctx, access); err != nil {
		return models.RespondError(c, err)
	}
	if req.Refresh != "" {
		if err := s.tokens.RevokeRaw(ctx, req.Refresh); err != nil {
			return models.RespondError(c, err)
		}
	}
	if err := s.presence.Logout(ctx, user.ID); err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// Refresh handles POST /auth/refresh
// @Summary Refresh access token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{refresh=string} true "Refresh token"
// @Success 200 {object} object{access=string,access_expires_at=string}
// @Failure 401 {object} models.ErrorResponse "InvalidToken, ExpiredToken or RevokedToken"
// @Router /auth/refresh [post]
func (s *Server) Refresh(c *fiber.Ctx) error {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.Refresh == "" {
		return models.RespondError(c, models.NewFieldValidationError("refresh", "Refresh token is required"))
	}

	_, user, err := s.tokens.Verify(c.UserContext(), req.Refresh, models.TokenRefresh)
	if err != nil {
		return models.RespondError(c, err)
	}
	if err := auth.AccountDenial(user); err != nil {
		return models.RespondError(c, err)
	}

	access, expiresAt, err := s.tokens.IssueAccess(user)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(fiber.Map{
		"access":            access,
		"access_expires_at": expiresAt,
	})
}

// GetProfile handles GET /auth/profile
// @Summary Current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User
// @Router /auth/profile [get]
func (s *Server) GetProfile(c *fiber.Ctx) error {
	user, err := s.userService.GetUserByID(c.UserContext(), currentUser(c).ID)
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(user)
}

// UpdateProfile handles PUT /auth/profile
// @Summary Update profile
// @Tags auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{first_name=string,last_name=string,bio=string,avatar=string} true "Profile fields"
// @Success 200 {object} models.User
// @Failure 400 {object} models.ErrorResponse
// @Router /auth/profile [put]
func (s *Server) UpdateProfile(c *fiber.Ctx) error {
	var req struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Bio       *string `json:"bio"`
		Avatar    *string `json:"avatar"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	updated, err := s.userService.UpdateProfile(c.UserContext(), service.UpdateProfileInput{
		UserID:    currentUser(c).ID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Bio:       req.Bio,
		Avatar:    req.Avatar,
	})
	if err != nil {
		return models.RespondError(c, err)
	}
	return c.JSON(updated)
}
