package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cirkle/backend/internal/api"
	"github.com/cirkle/backend/internal/api/handler"
	"github.com/cirkle/backend/internal/cache"
	"github.com/cirkle/backend/internal/config"
	"github.com/cirkle/backend/internal/feed"
	"github.com/cirkle/backend/internal/model"
	"github.com/cirkle/backend/internal/repository"
	"github.com/cirkle/backend/internal/service"
	"github.com/cirkle/backend/internal/telemetry"
	"github.com/cirkle/backend/pkg/logger"
)

func openDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasSuffix(cfg.DSN, ".db") || cfg.DSN == ":memory:" {
		dialector = sqlite.Open(cfg.DSN)
	} else {
		dialector = postgres.Open(cfg.DSN)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	return db, nil
}

func main() {
	cfg, err := config.Load(os.Getenv("CIRKLE_CONFIG_PATH"))
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Server.Mode, cfg.Server.LogLevel); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Error("telemetry init failed", zap.Error(err))
		os.Exit(1)
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		logger.Error("database open failed", zap.Error(err))
		os.Exit(1)
	}
	if err := db.AutoMigrate(
		&model.User{}, &model.UserProfile{},
		&model.Tweet{}, &model.TweetMedia{},
		&model.TweetLike{}, &model.Comment{}, &model.CommentLike{},
		&model.Bookmark{}, &model.Share{},
		&model.TweetReport{}, &model.CommentReport{},
		&model.Follower{}, &model.FollowRequest{},
	); err != nil {
		logger.Error("migration failed", zap.Error(err))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer rdb.Close()

	metrics := cache.NewAtomicMetrics()
	store := cache.NewStore(rdb, metrics)
	// 缓存不可用时必须尽早失败
	if err := store.Ping(ctx); err != nil {
		logger.Error("redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		os.Exit(1)
	}

	followRepo := repository.NewFollowRepository(db)
	userRepo := repository.NewUserRepository(db)
	tweetRepo := repository.NewTweetRepository(db)
	engRepo := repository.NewEngagementRepository(db)

	invalidator := cache.NewInvalidator(store, followRepo)
	worker := service.NewInvalidationWorker(cfg.Feed.InvalidationQueueSize)
	stopWorker := worker.Start(cfg.Feed.InvalidationWorkers)

	aggregator := feed.NewAggregator(engRepo, tweetRepo, store, cfg.Feed)
	estimator := feed.NewEstimator(engRepo, store, cfg.Feed)
	builder := feed.NewBuilder(followRepo, userRepo, tweetRepo, aggregator, estimator, store, cfg.Feed)
	orchestrator := feed.NewOrchestrator(store, builder)

	tweetSvc := service.NewTweetService(tweetRepo, engRepo, followRepo, userRepo, invalidator, worker)
	relationSvc := service.NewRelationService(followRepo, userRepo, invalidator, worker)
	userSvc := service.NewUserService(userRepo, tweetRepo, followRepo, store, invalidator, worker)

	h := handler.New(orchestrator, tweetSvc, relationSvc, userSvc, metrics)
	router := api.NewRouter(h, api.Options{
		Mode:        cfg.Server.Mode,
		JWTSecret:   cfg.Server.JWTSecret,
		ServiceName: cfg.Telemetry.ServiceName,
		UseSentry:   cfg.Telemetry.SentryDSN != "",
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if err := stopWorker(shutdownCtx); err != nil {
		logger.Warn("invalidation worker shutdown", zap.Error(err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
}
