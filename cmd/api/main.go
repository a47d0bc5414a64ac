package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"huddle/api/internal/app"
	"huddle/api/internal/config"
	"huddle/api/internal/files"
	"huddle/api/internal/gateway"
	"huddle/api/internal/hub"
	"huddle/api/internal/logging"
	"huddle/api/internal/search"
	"huddle/api/internal/session"
	"huddle/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("huddle api stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	dataStore, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	h := hub.New(hub.Options{
		Shards:    cfg.HubShards,
		QueueSize: cfg.HubSessionQueue,
		Logger:    logger,
		OnDropped: func(sessionID string, evt hub.Event) {
			logger.Debug("event dropped", zap.String("session", sessionID), zap.String("room", evt.Room), zap.String("event", evt.Type))
		},
	})

	group, groupCtx := errgroup.WithContext(ctx)

	var presence session.Presence
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL, cfg.PresenceTTL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisStore.Close()
		presence = redisStore

		relay := hub.NewRedisRelay(redisStore.Client(), hub.DefaultRelayChannel, uuid.NewString(), logger)
		ready := make(chan struct{})
		group.Go(func() error { return relay.Run(groupCtx, h.Deliver, ready) })
		select {
		case <-ready:
		case <-groupCtx.Done():
			return group.Wait()
		}
		h.SetRelay(relay)
		logger.Info("redis relay attached", zap.String("origin", relay.Origin()))
	} else {
		presence = session.NewMemoryStore(cfg.PresenceTTL)
		logger.Info("single instance mode, presence kept in memory")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, dataStore, logger)

	var objects files.ObjectStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := files.NewMinioStore(files.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return err
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			return err
		}
		objects = minioStore
	} else {
		logger.Info("file uploads disabled, no object store configured")
	}

	service := app.New(cfg, dataStore, app.Options{
		Hub:      h,
		Presence: presence,
		Objects:  objects,
		Search:   searchService,
		Logger:   logger,
	})
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap failed", zap.Error(err))
	}
	if err := searchService.Sync(ctx); err != nil {
		logger.Warn("initial user sync failed", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.NewServer(gateway.Options{
		Auth:           service,
		Rooms:          service,
		Hub:            h,
		Presence:       presence,
		OriginPatterns: cfg.WSOriginPatterns,
		WriteTimeout:   cfg.WSWriteTimeout,
		PingInterval:   cfg.WSPingInterval,
		Logger:         logger,
	}))
	mux.Handle("/", app.NewHTTPServer(service, cfg.CORSOrigin, logger).Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group.Go(func() error {
		logger.Info("huddle api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTTL)
		defer cancel()
		logger.Info("shutting down", zap.Any("stats", h.Stats()))
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (app.Store, func(), error) {
	if cfg.UsesMemoryStore() {
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
}
