// Package featureflags gates optional chat features per user.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"huddle/internal/middleware"
	"huddle/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Known flags.
const (
	MessageSearch     = "message_search"
	MessageForwarding = "message_forwarding"
	Attachments       = "attachments"
)

// Defaults applies when FEATURE_FLAGS does not mention a flag.
var Defaults = map[string]string{
	MessageSearch:     "on",
	MessageForwarding: "on",
	Attachments:       "on",
}

// Manager evaluates flags parsed from "name=value" pairs, e.g.
// "message_search=on,attachments=25%,message_forwarding=off".
type Manager struct {
	flags map[string]string
}

// NewManager overlays raw on Defaults. Malformed pairs are ignored.
func NewManager(raw string) *Manager {
	flags := make(map[string]string, len(Defaults))
	for k, v := range Defaults {
		flags[k] = v
	}

	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name, value = normalize(name), normalize(value)
		if name == "" || value == "" {
			continue
		}
		flags[name] = value
	}
	return &Manager{flags: flags}
}

// Enabled reports whether name is on for userID. Values are on/off
// (true/false, 1/0) or a percentage rolled out deterministically by user.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}
	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pct, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
	if err != nil || !strings.HasSuffix(value, "%") {
		return false
	}
	switch {
	case pct <= 0:
		return false
	case pct >= 100:
		return true
	case userID == 0:
		return false
	}
	return bucket(name, userID) < pct
}

// Names returns the configured flag names in order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.flags))
	for name := range m.flags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Raw returns a copy of the configured values.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// Snapshot evaluates every flag for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

// Require answers 404 when name is off for the authenticated user.
func (m *Manager) Require(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var userID uint
		if u, ok := middleware.CurrentUser(c); ok {
			userID = u.ID
		}
		if !m.Enabled(name, userID) {
			return models.RespondError(c, models.NewNotFoundError("Feature", name))
		}
		return c.Next()
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%d", normalize(name), userID)))
	return int(h.Sum32() % 100)
}
