package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	PublicUserKeyPrefix = "user:%d:public"
	ConversationPrefix  = "conversation:%d:members"
	BlacklistKeyPrefix  = "blacklist:%s"
)

const (
	PublicUserTTL   = 5 * time.Minute
	ConversationTTL = 2 * time.Minute
)

// PublicUserKey caches the public projection of a user (never auth state).
func PublicUserKey(userID uint) string {
	return fmt.Sprintf(PublicUserKeyPrefix, userID)
}

// ConversationMembersKey caches the participant ids of an individual conversation.
func ConversationMembersKey(conversationID uint) string {
	return fmt.Sprintf(ConversationPrefix, conversationID)
}

// BlacklistKey marks a revoked token id until the token would have expired.
func BlacklistKey(jti string) string {
	return fmt.Sprintf(BlacklistKeyPrefix, jti)
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidateUser(ctx context.Context, userID uint) {
	Invalidate(ctx, PublicUserKey(userID))
}

func InvalidateConversation(ctx context.Context, conversationID uint) {
	Invalidate(ctx, ConversationMembersKey(conversationID))
}
