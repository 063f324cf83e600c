// Package seed provides helpers to create demo data for the application
// database. These helpers are intended for development only.
package seed

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"huddle/internal/auth"
	"huddle/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// DefaultPassword is the password of every seeded account.
const DefaultPassword = "password123"

// Factory builds domain entities and persists them to the database.
type Factory struct {
	db    *gorm.DB
	faker *gofakeit.Faker
	hash  string
	seq   int
}

// NewFactory creates a Factory bound to db. The same seed yields the same
// names and message text.
func NewFactory(db *gorm.DB, seed int64) (*Factory, error) {
	// One hash for every account; bcrypt per user dominates seeding time.
	hash, err := auth.HashPassword(DefaultPassword)
	if err != nil {
		return nil, fmt.Errorf("hash seed password: %w", err)
	}
	return &Factory{db: db, faker: gofakeit.New(seed), hash: hash}, nil
}

// Username returns a unique lowercase username.
func (f *Factory) Username() string {
	f.seq++
	name := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, f.faker.FirstName())
	if name == "" {
		name = "user"
	}
	return fmt.Sprintf("%s%d", name, f.seq)
}

// CreateUser persists an active user. Optional overrides run before the insert.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	username := f.Username()
	user := &models.User{
		Username:  username,
		Email:     username + "@example.com",
		Password:  f.hash,
		FirstName: f.faker.FirstName(),
		LastName:  f.faker.LastName(),
		Bio:       f.faker.Sentence(8),
		Status:    models.StatusActive,
		IsActive:  true,
	}
	for _, override := range overrides {
		override(user)
	}
	user.Normalize()

	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// CreateModerator persists a moderator with the given permission bundle.
func (f *Factory) CreateModerator(bundle models.ModeratorRoleType, overrides ...func(*models.User)) (*models.User, error) {
	overrides = append([]func(*models.User){func(u *models.User) {
		u.Role = models.RoleModerator
		u.IsStaff = true
	}}, overrides...)
	user, err := f.CreateUser(overrides...)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	profile := &models.ModeratorProfile{UserID: user.ID, RoleType: bundle, CreatedAt: now, UpdatedAt: now}
	if err := f.db.Create(profile).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// CreateDirect persists an individual conversation between a and b.
func (f *Factory) CreateDirect(a, b *models.User) (*models.Conversation, error) {
	conv := &models.Conversation{Type: models.ConversationIndividual}
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		return tx.Create(&[]models.ConversationParticipant{
			{ConversationID: conv.ID, UserID: a.ID, JoinedAt: now},
			{ConversationID: conv.ID, UserID: b.ID, JoinedAt: now},
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// CreateGroup persists a group owned by owner, its conversation and the
// given members.
func (f *Factory) CreateGroup(owner *models.User, members []*models.User, visibility models.GroupVisibility) (*models.Group, *models.Conversation, error) {
	f.seq++
	group := &models.Group{
		Name:        fmt.Sprintf("%s %d", capitalize(f.faker.HipsterWord()), f.seq),
		Description: f.faker.HipsterSentence(10),
		Visibility:  visibility,
		CreatedBy:   owner.ID,
	}
	conv := &models.Conversation{Type: models.ConversationGroup}

	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		conv.Title = group.Name
		conv.GroupID = &group.ID
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		rows := []models.GroupMember{{GroupID: group.ID, UserID: owner.ID, Role: models.GroupRoleOwner, Status: models.MemberActive, JoinedAt: now}}
		for _, m := range members {
			if m.ID == owner.ID {
				continue
			}
			rows = append(rows, models.GroupMember{GroupID: group.ID, UserID: m.ID, Role: models.GroupRoleMember, Status: models.MemberActive, JoinedAt: now})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return group, conv, nil
}

// CreateMessages persists count text messages in conv from random senders,
// spread backwards from now at the given spacing, and stamps the
// conversation's last activity.
func (f *Factory) CreateMessages(conv *models.Conversation, senders []*models.User, count int, spacing time.Duration) ([]models.Message, error) {
	if count <= 0 || len(senders) == 0 {
		return nil, nil
	}
	start := time.Now().UTC().Add(-time.Duration(count) * spacing)
	msgs := make([]models.Message, count)
	for i := range msgs {
		sender := senders[f.faker.Number(0, len(senders)-1)]
		msgs[i] = models.Message{
			ConversationID: conv.ID,
			SenderID:       sender.ID,
			Content:        f.faker.Sentence(f.faker.Number(3, 16)),
			Type:           models.MessageText,
			Timestamp:      start.Add(time.Duration(i) * spacing),
		}
	}

	last := msgs[count-1].Timestamp
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(&msgs, 200).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).
			Update("last_message_at", last).Error; err != nil {
			return err
		}
		if conv.GroupID != nil {
			if err := tx.Model(&models.Group{}).Where("id = ?", *conv.GroupID).
				Update("last_activity", last).Error; err != nil {
				return err
			}
		}
		for _, s := range senders {
			var sent int64
			for _, m := range msgs {
				if m.SenderID == s.ID {
					sent++
				}
			}
			if sent == 0 {
				continue
			}
			if err := tx.Model(&models.User{}).Where("id = ?", s.ID).
				Update("message_count", gorm.Expr("message_count + ?", sent)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	conv.LastMessageAt = &last
	return msgs, nil
}

// Pick returns n distinct users from pool, never including skip.
func (f *Factory) Pick(pool []*models.User, n int, skip *models.User) []*models.User {
	candidates := make([]*models.User, 0, len(pool))
	for _, u := range pool {
		if skip == nil || u.ID != skip.ID {
			candidates = append(candidates, u)
		}
	}
	f.faker.ShuffleAnySlice(candidates)
	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
