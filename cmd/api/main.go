package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"crashfair/internal/cache"
	"crashfair/internal/config"
	"crashfair/internal/database"
	"crashfair/internal/events"
	"crashfair/internal/game"
	"crashfair/internal/logger"
	"crashfair/internal/metrics"
	"crashfair/internal/server"
	"crashfair/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db := database.New()
	gameStore := store.NewPostgres(db.Pool())

	redisService := cache.New(log, cfg.RedisAddr)
	var snapshots *cache.RoundSnapshots
	if redisService != nil {
		snapshots = cache.NewRoundSnapshots(redisService.GetClient())
	} else {
		log.Warn("redis unavailable, round snapshots disabled")
	}

	var publisher game.EventPublisher
	if cfg.KafkaBrokers != "" {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.TopicRoundCrashed, cfg.TopicBetSettled)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		log.Info("kafka publisher enabled", zap.String("brokers", cfg.KafkaBrokers))
	}

	recorder := metrics.NewRecorder()
	metricsServer := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return db.Pool().Ping(ctx)
	})
	defer metricsServer.Close()

	hub := game.NewHub(log)
	go hub.Run()

	opts := game.EngineOptions{
		Hub:             hub,
		Publisher:       publisher,
		Metrics:         recorder,
		BettingWindow:   cfg.BettingWindow,
		InterRoundPause: cfg.InterRoundPause,
	}
	if snapshots != nil {
		opts.Snapshots = snapshots
	}
	engine := game.NewEngine(gameStore, log, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RunLoop {
		go engine.Run(ctx)
	}

	srv := server.New(server.Options{
		Log:       log,
		DB:        db,
		Cache:     redisService,
		Engine:    engine,
		Hub:       hub,
		Snapshots: snapshots,
		History:   gameStore,
	})
	srv.RegisterFiberRoutes()

	go func() {
		if err := srv.Listen(":" + cfg.HTTPPort); err != nil {
			log.Fatal("http server", zap.Error(err))
		}
	}()
	log.Info("server started",
		zap.String("port", cfg.HTTPPort),
		zap.String("metrics_port", cfg.MetricsPort),
		zap.Bool("round_loop", cfg.RunLoop))

	<-ctx.Done()
	stop()

	if err := srv.Shutdown(); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
