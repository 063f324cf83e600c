package featureflags

import (
	"net/http/httptest"
	"testing"

	"huddle/internal/middleware"
	"huddle/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestDefaultsAndOverrides(t *testing.T) {
	m := NewManager("")
	assert.True(t, m.Enabled(MessageSearch, 1))
	assert.True(t, m.Enabled(Attachments, 1))
	assert.False(t, m.Enabled("unknown", 1))

	m = NewManager(" bad , message_search = OFF ,beta=on,x=")
	assert.False(t, m.Enabled(MessageSearch, 1))
	assert.True(t, m.Enabled("beta", 1))
	assert.Equal(t, []string{Attachments, "beta", MessageForwarding, MessageSearch}, m.Names())
	assert.Equal(t, "off", m.Raw()[MessageSearch])
	assert.Len(t, m.Snapshot(1), 4)

	var nilManager *Manager
	assert.False(t, nilManager.Enabled(MessageSearch, 1))
}

func TestPercentRollout(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,junk=abc")

	assert.True(t, m.Enabled("always", 1))
	assert.False(t, m.Enabled("never", 1))
	assert.False(t, m.Enabled("junk", 1))
	assert.False(t, m.Enabled("canary", 0), "anonymous users are outside partial rollouts")

	first := m.Enabled("canary", 42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Enabled("canary", 42))
	}

	on := 0
	for id := uint(1); id <= 1000; id++ {
		if m.Enabled("canary", id) {
			on++
		}
	}
	assert.InDelta(t, 250, on, 60)
}

func TestRequire(t *testing.T) {
	m := NewManager("attachments=off")
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(middleware.LocalUser, &models.User{ID: 3})
		return c.Next()
	})
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) }
	app.Get("/search", m.Require(MessageSearch), ok)
	app.Get("/upload", m.Require(Attachments), ok)

	resp, err := app.Test(httptest.NewRequest("GET", "/search", nil))
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/upload", nil))
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
