package service

import (
	"context"
	"testing"
	"time"

	"huddle/internal/events"
	"huddle/internal/models"
	"huddle/internal/repository"
	"huddle/internal/testutil"

	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	clock    *testutil.Clock
	bus      *events.Bus
	messages *MessageService
	chats    *ChatService
	groups   *GroupService

	deleted []events.MessageDeleted
	joined  []events.GroupMemberJoined
	left    []events.GroupMemberLeft
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &fixture{
		db:    db,
		clock: testutil.NewClock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)),
		bus:   events.NewBus(),
	}
	chatRepo := repository.NewChatRepository(db)
	userRepo := repository.NewUserRepository(db)
	groupRepo := repository.NewGroupRepository(db)

	canDelete := func(_ context.Context, actor *models.User) (bool, error) {
		return actor.Role == models.RoleModerator || actor.Role == models.RoleAdmin, nil
	}
	f.messages = NewMessageService(db, chatRepo, userRepo, f.bus, canDelete)
	f.messages.SetClock(f.clock.Now)
	f.chats = NewChatService(db, chatRepo, userRepo)
	f.chats.SetClock(f.clock.Now)
	f.groups = NewGroupService(db, groupRepo, chatRepo, userRepo, f.bus)
	f.groups.SetClock(f.clock.Now)

	events.Subscribe(f.bus, func(_ context.Context, e events.MessageDeleted) { f.deleted = append(f.deleted, e) })
	events.Subscribe(f.bus, func(_ context.Context, e events.GroupMemberJoined) { f.joined = append(f.joined, e) })
	events.Subscribe(f.bus, func(_ context.Context, e events.GroupMemberLeft) { f.left = append(f.left, e) })
	return f
}

func codeOf(err error) string {
	if appErr, ok := err.(*models.AppError); ok {
		return appErr.Code
	}
	return ""
}
