package db

import (
	"fmt"
	"log"
	"time"

	"github.com/gocql/gocql"
)

type Session struct {
	*gocql.Session
}

func NewSession(hosts []string, keyspace string) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	// Retry policy
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	log.Printf("Connected to ScyllaDB cluster (keyspace %s)", keyspace)
	return &Session{Session: session}, nil
}

// Tables holds the chat schema. messages_by_pair is the append-only message
// log partitioned by conversation; user_conversations only indexes which
// partners a user has talked to.
var Tables = []string{
	`CREATE TABLE IF NOT EXISTS messages_by_pair (
		pair_id text,
		id bigint,
		from_user_id text,
		to_user_id text,
		content text,
		message_type text,
		read boolean,
		created_at timestamp,
		PRIMARY KEY (pair_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		other_user_id text,
		last_updated timestamp,
		PRIMARY KEY (user_id, other_user_id)
	)`,
}

// EnsureSchema creates the keyspace and tables if they do not exist.
func EnsureSchema(hosts []string, keyspace string, replicationFactor int) error {
	if replicationFactor <= 0 {
		replicationFactor = 1
	}

	// Connect to system keyspace to create the chat keyspace
	sys, err := NewSession(hosts, "system")
	if err != nil {
		return fmt.Errorf("connect system keyspace: %w", err)
	}
	err = sys.Query(fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`,
		keyspace, replicationFactor,
	)).Exec()
	sys.Close()
	if err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}

	session, err := NewSession(hosts, keyspace)
	if err != nil {
		return fmt.Errorf("connect keyspace %s: %w", keyspace, err)
	}
	defer session.Close()

	for _, stmt := range Tables {
		if err := session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("create table: %w\n%s", err, stmt)
		}
	}
	return nil
}
