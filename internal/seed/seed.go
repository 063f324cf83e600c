package seed

import (
	"fmt"
	"log"
	"time"

	"huddle/internal/database"
	"huddle/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers    int
	NumGroups   int
	NumMessages int // per conversation
	ShouldClean bool
	RandSeed    int64
}

// Summary counts what a seeding run created.
type Summary struct {
	Users         int
	Moderators    int
	Conversations int
	Groups        int
	Messages      int
}

// Seed populates the database with demo users, moderators, direct
// conversations and groups. Every account uses DefaultPassword.
func Seed(db *gorm.DB, opts Options) (*Summary, error) {
	if opts.NumUsers < 2 {
		return nil, fmt.Errorf("need at least 2 users, got %d", opts.NumUsers)
	}
	if opts.RandSeed == 0 {
		opts.RandSeed = time.Now().UnixNano()
	}
	log.Printf("🌱 Seeding %d users, %d groups, %d messages per conversation", opts.NumUsers, opts.NumGroups, opts.NumMessages)

	if opts.ShouldClean {
		if err := ClearAll(db); err != nil {
			return nil, fmt.Errorf("failed to clear data: %w", err)
		}
	}

	f, err := NewFactory(db, opts.RandSeed)
	if err != nil {
		return nil, err
	}
	sum := &Summary{}

	// One moderator per bundle so every permission level can be tried.
	for _, bundle := range []models.ModeratorRoleType{models.ModeratorJunior, models.ModeratorSenior, models.ModeratorLead} {
		mod, err := f.CreateModerator(bundle, func(u *models.User) {
			u.Username = "mod_" + string(bundle)
			u.Email = u.Username + "@example.com"
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s moderator: %w", bundle, err)
		}
		log.Printf("✓ moderator %s (%s)", mod.Username, bundle)
		sum.Moderators++
	}

	users := make([]*models.User, 0, opts.NumUsers)
	for i := 0; i < opts.NumUsers; i++ {
		u, err := f.CreateUser()
		if err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		users = append(users, u)
	}
	// A couple of accounts waiting for approval.
	for i := 0; i < 2; i++ {
		if _, err := f.CreateUser(func(u *models.User) {
			u.Status = models.StatusPending
		}); err != nil {
			return nil, fmt.Errorf("failed to create pending user: %w", err)
		}
	}
	sum.Users = len(users) + 2
	log.Printf("✓ %d users created", sum.Users)

	// Each user talks to the next one; the ring keeps every user reachable.
	for i, a := range users {
		b := users[(i+1)%len(users)]
		if len(users) == 2 && i == 1 {
			break
		}
		conv, err := f.CreateDirect(a, b)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		msgs, err := f.CreateMessages(conv, []*models.User{a, b}, opts.NumMessages, 7*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("failed to create messages: %w", err)
		}
		sum.Conversations++
		sum.Messages += len(msgs)
	}
	log.Printf("✓ %d direct conversations created", sum.Conversations)

	for i := 0; i < opts.NumGroups; i++ {
		owner := users[i%len(users)]
		members := f.Pick(users, len(users)/2, owner)
		visibility := models.GroupPublic
		if i%4 == 3 {
			visibility = models.GroupPrivate
		}
		group, conv, err := f.CreateGroup(owner, members, visibility)
		if err != nil {
			return nil, fmt.Errorf("failed to create group: %w", err)
		}
		msgs, err := f.CreateMessages(conv, append(members, owner), opts.NumMessages, 3*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("failed to create group messages: %w", err)
		}
		log.Printf("✓ group %q (%s, %d members)", group.Name, visibility, len(members)+1)
		sum.Groups++
		sum.Messages += len(msgs)
	}

	log.Printf("🎉 Seeding complete: %+v", *sum)
	return sum, nil
}

// ClearAll hard-deletes every row of every schema-managed table, children
// first.
func ClearAll(db *gorm.DB) error {
	log.Println("🗑️  Clearing existing data...")
	all := database.PersistentModels()
	for i := len(all) - 1; i >= 0; i-- {
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(all[i]).Error; err != nil {
			return fmt.Errorf("clear %T: %w", all[i], err)
		}
	}
	return nil
}
