// Package main provides admin management utilities for Huddle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"huddle/internal/config"
	"huddle/internal/database"
	"huddle/internal/models"

	"gorm.io/gorm"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage:")
		fmt.Println("  go run ./cmd/admin promote <user_id>              - Promote user to admin")
		fmt.Println("  go run ./cmd/admin demote <user_id>               - Demote admin to user")
		fmt.Println("  go run ./cmd/admin moderator <user_id> <bundle>   - Make user a junior, senior or lead moderator")
		fmt.Println("  go run ./cmd/admin list-admins                    - List all admins")
		fmt.Println("  go run ./cmd/admin list-staff                     - List admins and moderators")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close(db) }()

	command := os.Args[1]

	switch command {
	case "promote":
		requireArgs(3, "promote <user_id>")
		promoteToAdmin(db, os.Args[2])

	case "demote":
		requireArgs(3, "demote <user_id>")
		demoteFromAdmin(db, os.Args[2])

	case "moderator":
		requireArgs(4, "moderator <user_id> <junior|senior|lead>")
		setModerator(db, os.Args[2], models.ModeratorRoleType(os.Args[3]))

	case "list-admins":
		listStaff(db, models.RoleAdmin)

	case "list-staff":
		listStaff(db, models.RoleAdmin, models.RoleModerator)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

func requireArgs(n int, usage string) {
	if len(os.Args) < n {
		fmt.Printf("Usage: go run ./cmd/admin %s\n", usage)
		os.Exit(1)
	}
}

func findUser(db *gorm.DB, userID string) models.User {
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fmt.Printf("User with ID %s not found\n", userID)
		} else {
			log.Fatalf("Database error: %v", err)
		}
		os.Exit(1)
	}
	return user
}

func promoteToAdmin(db *gorm.DB, userID string) {
	user := findUser(db, userID)
	if user.IsAdmin() {
		fmt.Printf("User %s (ID: %d) is already an admin\n", user.Username, user.ID)
		return
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"role":     models.RoleAdmin,
			"is_staff": true,
		}).Error; err != nil {
			return err
		}
		// Admins hold every permission; a bundle would only confuse audits.
		return tx.Where("user_id = ?", user.ID).Delete(&models.ModeratorProfile{}).Error
	})
	if err != nil {
		log.Fatalf("Failed to promote user: %v", err)
	}

	fmt.Printf("✅ Successfully promoted %s (ID: %d) to admin\n", user.Username, user.ID)
}

func demoteFromAdmin(db *gorm.DB, userID string) {
	user := findUser(db, userID)
	if !user.IsAdmin() {
		fmt.Printf("User %s (ID: %d) is not an admin\n", user.Username, user.ID)
		return
	}

	if err := db.Model(&user).Updates(map[string]interface{}{
		"role":     models.RoleUser,
		"is_staff": false,
	}).Error; err != nil {
		log.Fatalf("Failed to demote user: %v", err)
	}

	fmt.Printf("✅ Successfully demoted %s (ID: %d) from admin\n", user.Username, user.ID)
}

func setModerator(db *gorm.DB, userID string, bundle models.ModeratorRoleType) {
	if !bundle.Valid() {
		fmt.Printf("Unknown bundle %q: use junior, senior or lead\n", bundle)
		os.Exit(1)
	}
	user := findUser(db, userID)
	if user.IsAdmin() {
		fmt.Printf("User %s (ID: %d) is an admin; demote first\n", user.Username, user.ID)
		os.Exit(1)
	}

	now := time.Now().UTC()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"role":     models.RoleModerator,
			"is_staff": true,
		}).Error; err != nil {
			return err
		}
		var profile models.ModeratorProfile
		err := tx.Where("user_id = ?", user.ID).First(&profile).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&models.ModeratorProfile{UserID: user.ID, RoleType: bundle, CreatedAt: now, UpdatedAt: now}).Error
		case err != nil:
			return err
		}
		return tx.Model(&profile).Updates(map[string]interface{}{"role_type": bundle, "updated_at": now}).Error
	})
	if err != nil {
		log.Fatalf("Failed to set moderator: %v", err)
	}

	fmt.Printf("✅ %s (ID: %d) is now a %s moderator\n", user.Username, user.ID, bundle)
}

func listStaff(db *gorm.DB, roles ...models.Role) {
	var staff []models.User
	if err := db.Where("role IN ?", roles).Order("id").Find(&staff).Error; err != nil {
		log.Fatalf("Failed to fetch staff: %v", err)
	}

	if len(staff) == 0 {
		fmt.Println("No matching accounts found")
		return
	}

	fmt.Println("\n📋 Staff:")
	fmt.Println("─────────────────────────────────────")
	for _, u := range staff {
		fmt.Printf("ID: %d | Username: %s | Email: %s | Role: %s | Status: %s\n", u.ID, u.Username, u.Email, u.Role, u.Status)
	}
	fmt.Println("─────────────────────────────────────")
}
