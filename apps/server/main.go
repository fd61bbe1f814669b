package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/mahaj/wedding-chat/pkg/auth"
	"github.com/mahaj/wedding-chat/pkg/config"
	"github.com/mahaj/wedding-chat/pkg/conversation"
	"github.com/mahaj/wedding-chat/pkg/db"
	"github.com/mahaj/wedding-chat/pkg/delivery"
	"github.com/mahaj/wedding-chat/pkg/directory"
	"github.com/mahaj/wedding-chat/pkg/hub"
	"github.com/mahaj/wedding-chat/pkg/presence"
	"github.com/mahaj/wedding-chat/pkg/relay"
	"github.com/mahaj/wedding-chat/pkg/snowflake"
	"github.com/mahaj/wedding-chat/pkg/store"
)

func main() {
	cfg := config.Load()

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("error opening file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	if cfg.InsecureSecret() && !cfg.DevLogin {
		log.Fatalf("JWT_SECRET must be set unless DEV_LOGIN=true")
	}

	log.Printf("Starting chat server node %d...", cfg.NodeID)
	log.Printf("Store backend: %s", cfg.StoreBackend)

	ids, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		log.Fatalf("Failed to initialize snowflake node: %v", err)
	}

	s, err := openStore(cfg, ids)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer s.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	h := hub.New()
	var emitter delivery.Emitter = h
	var dir directory.Directory = directory.Static(cfg.Directory)
	var cluster ClusterPresence

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
		}
		p := presence.New(rdb, h, nodeName(cfg), time.Minute)
		go p.Run(ctx)
		cluster = p
		if len(cfg.Directory) == 0 {
			dir = directory.NewRedis(rdb)
		}
		log.Printf("Redis presence enabled at %s", cfg.RedisAddr)
	}

	if len(cfg.KafkaBrokers) > 0 {
		r := relay.New(cfg.KafkaBrokers, cfg.KafkaTopic, nodeName(cfg), h)
		defer r.Close()
		go r.Run(ctx)
		emitter = r
		log.Printf("Kafka relay enabled on topic %s", cfg.KafkaTopic)
	}

	coordinator := delivery.New(s, emitter)
	index := conversation.NewIndex(s, dir)
	authenticator := auth.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL)
	handler := NewHandler(cfg, authenticator, h, coordinator, index, cluster)

	e := newServer(handler)

	go func() {
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Chat server started on %s", cfg.HTTPAddr)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down chat server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Chat server stopped")
}

func newServer(handler *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = errorHandler

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	// Room for the JSON envelope around a maximum-size message.
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dB", handler.cfg.MaxMessageSize+1024)))

	handler.RegisterRoutes(e)
	return e
}

func openStore(cfg *config.Config, ids *snowflake.Node) (store.Store, error) {
	switch cfg.StoreBackend {
	case "scylla":
		session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
		if err != nil {
			return nil, err
		}
		return store.NewScylla(session, ids), nil
	case "sqlite":
		return store.NewSQLite(cfg.SQLiteDSN, ids)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// nodeName identifies this node to the relay and presence claims. NODE_ID
// already has to be unique for ids, so it is reused here.
func nodeName(cfg *config.Config) string {
	return fmt.Sprintf("node-%d", cfg.NodeID)
}
