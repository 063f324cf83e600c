package server

import (
	"errors"
	"strings"
	"unicode"

	"huddle/internal/middleware"
	"huddle/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// Pagination holds parsed limit/offset query parameters.
type Pagination struct {
	Limit  int
	Offset int
}

const maxPaginationLimit = 100

// parsePagination extracts limit and offset query parameters with the given default limit.
func parsePagination(c *fiber.Ctx, defaultLimit int) Pagination {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPaginationLimit {
		limit = maxPaginationLimit
	}

	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return Pagination{Limit: limit, Offset: offset}
}

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// The message is derived from the parameter name ("userId" -> "Invalid user ID").
func (s *Server) parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondError(c, models.NewFieldValidationError(param, "Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// parseMessageID extracts a message UUID route parameter.
func (s *Server) parseMessageID(c *fiber.Ctx, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(param))
	if err != nil {
		_ = models.RespondError(c, models.NewFieldValidationError(param, "Invalid message ID"))
		return uuid.Nil, errResponseWritten
	}
	return id, nil
}

// parseBody decodes the JSON body into dst, writing a 400 on failure.
func parseBody(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(dst); err != nil {
		_ = models.RespondError(c, models.NewValidationError("Invalid request body"))
		return errResponseWritten
	}
	return nil
}

// currentUser returns the authenticated user. Routes using it sit behind
// AuthRequired, so a missing user is an internal wiring error.
func currentUser(c *fiber.Ctx) *models.User {
	user, _ := middleware.CurrentUser(c)
	return user
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "userId" -> "user ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		words := splitCamel(param[:len(param)-2])
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	return append(words, s[start:])
}

// errorTypeForStatus maps a bare Fiber error status to an error_type.
func errorTypeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return models.ErrTypeValidation
	case fiber.StatusUnauthorized:
		return models.ErrTypeUnauthorized
	case fiber.StatusForbidden:
		return models.ErrTypeForbidden
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return models.ErrTypeNotFound
	case fiber.StatusTooManyRequests:
		return models.ErrTypeRateLimited
	default:
		return models.ErrTypeInternal
	}
}
