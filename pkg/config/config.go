// Package config loads server configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the chat server configuration.
type Config struct {
	// Server settings
	HTTPAddr string
	NodeID   int64
	LogFile  string

	// Storage
	StoreBackend   string // "sqlite" or "scylla"
	SQLiteDSN      string
	ScyllaHosts    []string
	ScyllaKeyspace string

	// Optional infrastructure; empty disables it
	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration
	DevLogin  bool

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	SendBuffer     int

	// Static contact directory, "user:contact1|contact2;user2:..."
	Directory map[string][]string
}

// DefaultJWTSecret is only fit for local development.
const DefaultJWTSecret = "my_secret_key"

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	cfg := &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		NodeID:         int64(getEnvInt("NODE_ID", 1)),
		LogFile:        getEnv("LOG_FILE", ""),
		StoreBackend:   getEnv("STORE_BACKEND", "sqlite"),
		SQLiteDSN:      getEnv("SQLITE_DSN", "file:chat.db?cache=shared&mode=rwc"),
		ScyllaHosts:    getEnvList("SCYLLA_HOSTS", "localhost:9042"),
		ScyllaKeyspace: getEnv("SCYLLA_KEYSPACE", "chat"),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		KafkaBrokers:   getEnvList("KAFKA_BROKERS", ""),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "chat-events"),
		JWTSecret:      getEnv("JWT_SECRET", DefaultJWTSecret),
		TokenTTL:       getEnvDuration("TOKEN_TTL", 24*time.Hour),
		DevLogin:       getEnvBool("DEV_LOGIN", false),
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 54000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 8192)),
		SendBuffer:     getEnvInt("WS_SEND_BUFFER", 256),
		Directory:      ParseDirectory(getEnv("DIRECTORY", "")),
	}
	if cfg.InsecureSecret() {
		log.Printf("WARNING: JWT_SECRET is not set, tokens are signed with the built-in development key")
	}
	return cfg
}

// InsecureSecret reports whether tokens would be signed with DefaultJWTSecret.
func (c *Config) InsecureSecret() bool {
	return c.JWTSecret == DefaultJWTSecret
}

// ParseDirectory parses "alice:bob|carol;bob:alice" into a contact map.
// Contact order is preserved.
func ParseDirectory(s string) map[string][]string {
	out := make(map[string][]string)
	for _, entry := range strings.Split(s, ";") {
		user, contacts, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || strings.TrimSpace(user) == "" {
			continue
		}
		user = strings.TrimSpace(user)
		for _, c := range strings.Split(contacts, "|") {
			if c = strings.TrimSpace(c); c != "" {
				out[user] = append(out[user], c)
			}
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key, defaultVal string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultVal), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
