// Package storage hands out upload locations for message attachments. The
// service never receives file bytes; clients upload directly to the backend
// and then reference the returned file_ref when appending a message.
package storage

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"huddle/internal/config"

	"github.com/google/uuid"
)

// DefaultPresignTTL is used when the configured TTL is not positive.
const DefaultPresignTTL = 15 * time.Minute

// Upload describes where and how a client uploads one attachment.
type Upload struct {
	FileRef   string            `json:"file_ref"`
	URL       string            `json:"upload_url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Backend issues upload and download URLs for relative file refs.
type Backend interface {
	Name() string
	PresignUpload(ctx context.Context, key, contentType string) (*Upload, error)
	DownloadURL(ctx context.Context, key string) (string, error)
}

// New builds the backend selected by STORAGE_BACKEND.
func New(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.StorageBackend {
	case "s3":
		return NewS3(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			TTL:             cfg.S3PresignTTL,
		})
	case "", "local":
		return NewLocal(cfg.MediaRoot, "/media", cfg.S3PresignTTL), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

var unsafeExt = regexp.MustCompile(`[^a-z0-9]`)

// NewKey returns a fresh relative key for an attachment in conversation.
// Only the extension of fileName survives; the rest is replaced by a uuid.
func NewKey(conversationID uint, fileName string, now time.Time) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(path.Base(strings.ReplaceAll(fileName, "\\", "/"))), "."))
	ext = unsafeExt.ReplaceAllString(ext, "")
	if len(ext) > 10 {
		ext = ext[:10]
	}
	name := uuid.NewString()
	if ext != "" {
		name += "." + ext
	}
	now = now.UTC()
	return fmt.Sprintf("attachments/%d/%04d/%02d/%s", conversationID, now.Year(), int(now.Month()), name)
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultPresignTTL
	}
	return ttl
}
