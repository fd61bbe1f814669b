package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/wedding-chat/pkg/config"
	"github.com/mahaj/wedding-chat/pkg/directory"
)

// Loads the DIRECTORY contact list (or -contacts) into the Redis directory.
func main() {
	contacts := flag.String("contacts", "", `contact list, "user:contact1|contact2;user2:..." (defaults to DIRECTORY)`)
	flag.Parse()

	cfg := config.Load()
	if cfg.RedisAddr == "" {
		log.Fatal("REDIS_ADDR is required")
	}
	entries := cfg.Directory
	if strings.TrimSpace(*contacts) != "" {
		entries = config.ParseDirectory(*contacts)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	dir := directory.NewRedis(rdb)

	ctx := context.Background()
	n := 0
	for user, list := range entries {
		for _, contact := range list {
			if err := dir.AddContact(ctx, user, contact); err != nil {
				log.Fatalf("Failed to add contact: %v", err)
			}
			n++
		}
	}
	log.Printf("Seeded %d contacts for %d users", n, len(entries))
}
