package main

import (
	"flag"
	"log"

	"github.com/mahaj/wedding-chat/pkg/config"
	"github.com/mahaj/wedding-chat/pkg/db"
)

func main() {
	rf := flag.Int("rf", 1, "replication factor for a new keyspace")
	flag.Parse()

	cfg := config.Load()

	log.Printf("Creating keyspace %s and tables on %v...", cfg.ScyllaKeyspace, cfg.ScyllaHosts)
	if err := db.EnsureSchema(cfg.ScyllaHosts, cfg.ScyllaKeyspace, *rf); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}
	log.Println("Schema is up to date")
}
