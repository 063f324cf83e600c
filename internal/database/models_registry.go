package database

import "huddle/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.ModeratorProfile{},
		&models.Group{},
		&models.GroupMember{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.Attachment{},
		&models.TokenRevocation{},
		&models.ModerationAction{},
		&models.AuditEvent{},
		&models.TrashItem{},
	}
}
