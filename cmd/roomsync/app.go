package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"room_sync/internal/config"
	"room_sync/internal/lock"
	"room_sync/internal/publisher"
	"room_sync/internal/service"
	"room_sync/internal/source/libcal"
	"room_sync/internal/storage/postgres"
)

// app holds the long-lived dependencies shared by serve and sync.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *sqlx.DB
	redis     *redis.Client
	publisher *publisher.RabbitMQ

	rooms  *postgres.RoomStore
	syncer *service.SyncService
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.db = db
	logger.Info("connected to database")

	// Interface values stay nil when a backend is not configured.
	var locker service.Locker
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		locker = lock.NewRedisLocker(a.redis, cfg.Redis.LockKey, cfg.Redis.LockTTL)
		logger.Info("sync lock enabled", "key", cfg.Redis.LockKey)
	}

	var pub service.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		a.publisher = rabbit
		pub = rabbit
	}

	src := libcal.New(libcal.Config{
		BaseURL:        cfg.LibCal.BaseURL,
		ClientID:       cfg.LibCal.ClientID,
		ClientSecret:   cfg.LibCal.ClientSecret,
		LocationIDs:    cfg.LibCal.LocationIDs,
		Concurrency:    cfg.LibCal.Concurrency,
		Timeout:        cfg.LibCal.Timeout,
		MaxAttempts:    cfg.LibCal.Retry.MaxAttempts,
		InitialBackoff: cfg.LibCal.Retry.InitialBackoff,
		MaxBackoff:     cfg.LibCal.Retry.MaxBackoff,
	}, logger)

	a.rooms = postgres.NewRoomStore(db)
	a.syncer = service.NewSyncService(
		src,
		a.rooms,
		postgres.NewSyncStateStore(db),
		postgres.NewTransactionManager(db),
		pub,
		locker,
		cfg.Sync.Timeout,
		logger,
	)

	return a, nil
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("close rabbitmq", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, setupLogger(cfg.LogLevel), nil
}
