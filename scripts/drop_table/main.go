package main

import (
	"flag"
	"log"

	"github.com/mahaj/wedding-chat/pkg/config"
	"github.com/mahaj/wedding-chat/pkg/db"
)

func main() {
	confirm := flag.Bool("yes", false, "actually drop the tables")
	flag.Parse()

	cfg := config.Load()
	if !*confirm {
		log.Fatalf("Refusing to drop tables in keyspace %s without -yes", cfg.ScyllaKeyspace)
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	for _, table := range []string{"messages_by_pair", "user_conversations"} {
		log.Printf("Dropping table %s...", table)
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			log.Fatalf("Failed to drop table: %v", err)
		}
	}
	log.Println("Tables dropped successfully.")
}
