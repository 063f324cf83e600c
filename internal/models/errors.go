package models

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Error types rendered as `error_type` in API responses.
const (
	ErrTypeValidation   = "ValidationError"
	ErrTypeInvalidToken = "InvalidToken"
	ErrTypeExpiredToken = "ExpiredToken"
	ErrTypeRevokedToken = "RevokedToken"
	ErrTypeStaleToken   = "StaleToken"
	ErrTypeUnauthorized = "Unauthorized"
	ErrTypeForbidden    = "Forbidden"
	ErrTypeNotFound     = "NotFound"
	ErrTypeConflict     = "Conflict"
	ErrTypeTransient    = "TransientError"
	ErrTypeRateLimited  = "RateLimited"
	ErrTypeInternal     = "InternalError"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error     string            `json:"error"`
	ErrorType string            `json:"error_type"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Details map[string]string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on Code so sentinel AppErrors can be compared with errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    ErrTypeValidation,
		Message: message,
	}
}

// NewFieldValidationError carries per-field details.
func NewFieldValidationError(field, message string) *AppError {
	return &AppError{
		Code:    ErrTypeValidation,
		Message: message,
		Details: map[string]string{field: message},
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    ErrTypeUnauthorized,
		Message: message,
	}
}

// NewTokenError builds an authentication error of a specific token kind.
func NewTokenError(kind, message string) *AppError {
	return &AppError{
		Code:    kind,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    ErrTypeForbidden,
		Message: message,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Code:    ErrTypeConflict,
		Message: message,
	}
}

func NewTransientError(err error) *AppError {
	return &AppError{
		Code:    ErrTypeTransient,
		Message: "Service temporarily unavailable",
		Err:     err,
	}
}

func NewRateLimitError(message string) *AppError {
	return &AppError{
		Code:    ErrTypeRateLimited,
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    ErrTypeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// StatusFor maps an error to the HTTP status it is reported with.
func StatusFor(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case ErrTypeValidation:
		return fiber.StatusBadRequest
	case ErrTypeInvalidToken, ErrTypeExpiredToken, ErrTypeRevokedToken, ErrTypeStaleToken, ErrTypeUnauthorized:
		return fiber.StatusUnauthorized
	case ErrTypeForbidden:
		return fiber.StatusForbidden
	case ErrTypeNotFound:
		return fiber.StatusNotFound
	case ErrTypeConflict:
		return fiber.StatusConflict
	case ErrTypeRateLimited:
		return fiber.StatusTooManyRequests
	case ErrTypeTransient:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// wireType is the error_type clients see. A stale token version is a bulk
// revocation, so it is reported as RevokedToken.
func wireType(code string) string {
	if code == ErrTypeStaleToken {
		return ErrTypeRevokedToken
	}
	return code
}

// RespondWithError writes the standard error envelope with an explicit status.
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	response := ErrorResponse{Timestamp: time.Now().UTC()}

	var appErr *AppError
	if errors.As(err, &appErr) {
		response.Error = appErr.Message
		response.ErrorType = wireType(appErr.Code)
		response.Details = appErr.Details
		if appErr.Err != nil && !isProduction() && len(response.Details) == 0 {
			response.Details = map[string]string{"cause": appErr.Err.Error()}
		}
	} else {
		response.Error = "Internal server error"
		response.ErrorType = ErrTypeInternal
		if !isProduction() {
			response.Details = map[string]string{"cause": err.Error()}
		}
	}

	return c.Status(status).JSON(response)
}

// RespondError writes the error envelope with the status derived from err.
func RespondError(c *fiber.Ctx, err error) error {
	return RespondWithError(c, StatusFor(err), err)
}

func isProduction() bool {
	env := os.Getenv("APP_ENV")
	return env == "production" || env == "prod"
}

// ErrorTypeOf returns the wire error_type and message for err.
func ErrorTypeOf(err error) (string, string) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return wireType(appErr.Code), appErr.Message
	}
	return ErrTypeInternal, "Internal server error"
}
