package storage

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Local serves attachments from a directory on disk. It is meant for
// development; uploads are accepted by whatever fronts the media root.
type Local struct {
	root    string
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewLocal creates a Local backend rooted at root and served under baseURL.
func NewLocal(root, baseURL string, ttl time.Duration) *Local {
	return &Local{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttlOrDefault(ttl),
		now:     time.Now,
	}
}

func (l *Local) Name() string { return "local" }

// Root is the directory files are read from.
func (l *Local) Root() string { return l.root }

// PresignUpload creates the key's directory and returns its URL.
func (l *Local) PresignUpload(_ context.Context, key, contentType string) (*Upload, error) {
	if l.root != "" {
		if err := os.MkdirAll(filepath.Join(l.root, filepath.FromSlash(path.Dir(key))), 0o755); err != nil {
			return nil, err
		}
	}
	up := &Upload{
		FileRef:   key,
		URL:       l.baseURL + "/" + key,
		Method:    http.MethodPut,
		ExpiresAt: l.now().UTC().Add(l.ttl),
	}
	if contentType != "" {
		up.Headers = map[string]string{"Content-Type": contentType}
	}
	return up, nil
}

func (l *Local) DownloadURL(_ context.Context, key string) (string, error) {
	return l.baseURL + "/" + key, nil
}
