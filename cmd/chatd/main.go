package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Berhanu27/chat-app/internal/api"
	"github.com/Berhanu27/chat-app/internal/auth"
	"github.com/Berhanu27/chat-app/internal/config"
	"github.com/Berhanu27/chat-app/internal/events"
	"github.com/Berhanu27/chat-app/internal/group"
	"github.com/Berhanu27/chat-app/internal/logger"
	"github.com/Berhanu27/chat-app/internal/media"
	"github.com/Berhanu27/chat-app/internal/outbox"
	"github.com/Berhanu27/chat-app/internal/store"
	appsync "github.com/Berhanu27/chat-app/internal/sync"
)

func main() {
	_ = godotenv.Load() // load .env if present

	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(logger.Config{Development: cfg.App.Env != "production"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer zlog.Sync()

	ctx := context.Background()

	// Mongo client
	mc, err := store.NewMongoClient(ctx, cfg.Mongo.URI)
	if err != nil {
		zlog.Fatalw("mongo init failed", "err", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()

	// Redis client
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	st := store.NewMongoStore(mc.Database(cfg.Mongo.Database), rdb, cfg.Redis.Prefix, zlog)

	// Kafka producer (optional; events are best-effort)
	var producer *events.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventTopic, zlog)
		defer producer.Close()
	}

	ob := outbox.New(st, zlog)
	orch := appsync.NewOrchestrator(st, producer, zlog)
	orch.HeartbeatInterval = cfg.HeartbeatInterval
	groups := group.NewManager(st, ob, producer, zlog)

	// finish fan-outs that were interrupted by the previous shutdown
	if err := groups.Resume(ctx); err != nil {
		zlog.Warnw("outbox resume failed", "err", err)
	}

	tokens := auth.NewTokenManager(cfg.App.JWTSecret, 0)
	authSvc := auth.NewService(st, tokens, zlog)

	var s3 *media.S3Store
	if cfg.S3.Bucket != "" {
		s3, err = media.NewS3Store(ctx, cfg.S3.Region, cfg.S3.Bucket)
		if err != nil {
			zlog.Fatalw("s3 init failed", "err", err)
		}
	} else {
		zlog.Warnw("s3 bucket not configured, media uploads disabled")
	}
	uploader := media.NewUploader(s3, zlog)

	app := api.NewServer(cfg, authSvc, orch, groups, uploader, zlog)

	go func() {
		if err := app.Listen(":" + cfg.App.Port); err != nil {
			zlog.Fatalw("server listen failed", "err", err)
		}
	}()
	zlog.Infow("chatd started", "port", cfg.App.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = app.ShutdownWithContext(shutdownCtx)
	zlog.Infow("chatd stopped")
}
