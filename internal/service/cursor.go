package service

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"huddle/internal/models"
	"huddle/internal/repository"

	"github.com/google/uuid"
)

// EncodeCursor renders a (timestamp, id) position as an opaque token.
func EncodeCursor(c repository.Cursor) string {
	raw := strconv.FormatInt(c.Timestamp.UnixNano(), 10) + ":" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token is
// the start of the conversation's history.
func DecodeCursor(token string) (*repository.Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, models.NewFieldValidationError("cursor", "Invalid cursor")
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return nil, models.NewFieldValidationError("cursor", "Invalid cursor")
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, models.NewFieldValidationError("cursor", "Invalid cursor")
	}
	msgID, err := uuid.Parse(id)
	if err != nil {
		return nil, models.NewFieldValidationError("cursor", "Invalid cursor")
	}
	return &repository.Cursor{Timestamp: time.Unix(0, nanos).UTC(), ID: msgID}, nil
}
