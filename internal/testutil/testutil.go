// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"huddle/internal/database"
	"huddle/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewDB opens an isolated in-memory SQLite database with the full schema.
// A single connection keeps the shared-cache database alive and serializes access.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(database.PersistentModels()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db
}

// NewRedis starts a miniredis server bound to the test lifetime.
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// Password is the plaintext password of every user created by CreateUser.
const Password = "password123"

var passwordHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}()

// UserOption tweaks a fixture user before insert.
type UserOption func(*models.User)

func WithRole(r models.Role) UserOption {
	return func(u *models.User) { u.Role = r }
}

func WithStatus(s models.AccountStatus) UserOption {
	return func(u *models.User) {
		u.Status = s
		u.IsActive = s != models.StatusBanned
	}
}

// CreateUser inserts an active user named username.
func CreateUser(t testing.TB, db *gorm.DB, username string, opts ...UserOption) *models.User {
	t.Helper()
	u := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: passwordHash,
		Role:     models.RoleUser,
		Status:   models.StatusActive,
		IsActive: true,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.Normalize()
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

// CreateModerator inserts a moderator with the given bundle.
func CreateModerator(t testing.TB, db *gorm.DB, username string, bundle models.ModeratorRoleType) *models.User {
	t.Helper()
	u := CreateUser(t, db, username, WithRole(models.RoleModerator))
	if err := db.Create(&models.ModeratorProfile{UserID: u.ID, RoleType: bundle}).Error; err != nil {
		t.Fatalf("create moderator profile: %v", err)
	}
	return u
}

// CreateDirect inserts an individual conversation between a and b.
func CreateDirect(t testing.TB, db *gorm.DB, a, b uint) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{Type: models.ConversationIndividual}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	now := time.Now().UTC()
	for _, id := range []uint{a, b} {
		if err := db.Create(&models.ConversationParticipant{ConversationID: conv.ID, UserID: id, JoinedAt: now}).Error; err != nil {
			t.Fatalf("add participant: %v", err)
		}
	}
	return conv
}

// CreateGroup inserts a public group owned by owner with its conversation and
// the given extra members.
func CreateGroup(t testing.TB, db *gorm.DB, name string, owner uint, members ...uint) (*models.Group, *models.Conversation) {
	t.Helper()
	g := &models.Group{Name: name, Visibility: models.GroupPublic, CreatedBy: owner}
	if err := db.Create(g).Error; err != nil {
		t.Fatalf("create group: %v", err)
	}
	conv := &models.Conversation{Type: models.ConversationGroup, Title: name, GroupID: &g.ID}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("create group conversation: %v", err)
	}
	now := time.Now().UTC()
	rows := []models.GroupMember{{GroupID: g.ID, UserID: owner, Role: models.GroupRoleOwner, Status: models.MemberActive, JoinedAt: now}}
	for _, id := range members {
		rows = append(rows, models.GroupMember{GroupID: g.ID, UserID: id, Role: models.GroupRoleMember, Status: models.MemberActive, JoinedAt: now})
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("add members: %v", err)
	}
	return g, conv
}

// Clock is a settable time source.
type Clock struct {
	now atomic.Pointer[time.Time]
}

// NewClock returns a clock frozen at t.
func NewClock(t time.Time) *Clock {
	c := &Clock{}
	c.Set(t)
	return c
}

func (c *Clock) Now() time.Time { return *c.now.Load() }

func (c *Clock) Set(t time.Time) {
	t = t.UTC()
	c.now.Store(&t)
}

func (c *Clock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}
