// Command main runs the database seeder for Fetch.
package main

import (
	"context"
	"flag"
	"log"

	"fetch/internal/config"
	"fetch/internal/database"
	"fetch/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	numAccounts := flag.Int("accounts", defaults.NumAccounts, "Number of accounts to create")
	numGifts := flag.Int("gifts", defaults.NumGifts, "Number of gifts to attempt")
	requests := flag.Int("friend-requests", defaults.FriendRequests, "Friend requests sent per account")
	accept := flag.Int("accept", defaults.AcceptPercent, "Percent of friend requests accepted")
	shouldClean := flag.Bool("clean", defaults.ShouldClean, "Clean database before seeding")
	randSeed := flag.Int64("seed", 0, "Random seed for a reproducible run (0 = random)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close(db) }()

	report, err := seed.New(db).Run(context.Background(), seed.Options{
		NumAccounts:    *numAccounts,
		NumGifts:       *numGifts,
		FriendRequests: *requests,
		AcceptPercent:  *accept,
		ShouldClean:    *shouldClean,
		RandSeed:       *randSeed,
	})
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Seeded %d accounts, %d gifts (%d declined for funds), %d friendships",
		report.Accounts, report.Gifts, report.FailedGifts, report.Friendships)
}
