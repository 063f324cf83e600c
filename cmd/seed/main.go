// Command main runs the database seeder for Huddle.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"huddle/internal/config"
	"huddle/internal/database"
	"huddle/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 24, "Number of active users to create")
	numGroups := flag.Int("groups", 6, "Number of groups to create")
	numMessages := flag.Int("messages", 40, "Messages per conversation")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	randSeed := flag.Int64("seed", 0, "Random seed (0 picks one from the clock)")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d users, %d groups, %d messages/conversation, clean=%v\n",
		*numUsers, *numGroups, *numMessages, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close(db) }()

	if *randSeed == 0 {
		*randSeed = time.Now().UnixNano()
	}

	sum, err := seed.Seed(db, seed.Options{
		NumUsers:    *numUsers,
		NumGroups:   *numGroups,
		NumMessages: *numMessages,
		ShouldClean: *shouldClean,
		RandSeed:    *randSeed,
	})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("👥 users=%d moderators=%d conversations=%d groups=%d messages=%d",
		sum.Users, sum.Moderators, sum.Conversations, sum.Groups, sum.Messages)
	log.Println("✨ All done! Your database is now populated with test data.")
	log.Printf("📧 All test users have the password: %s", seed.DefaultPassword)
}
