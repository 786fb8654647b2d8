package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"crashfair/internal/cache"
	"crashfair/internal/database"
	"crashfair/internal/game"
)

// RoundHistory reads resolved rounds for the public history endpoint.
type RoundHistory interface {
	RecentRounds(ctx context.Context, limit int) ([]game.Round, error)
}

type FiberServer struct {
	*fiber.App

	log       *zap.Logger
	db        database.Service
	cache     cache.Service
	engine    *game.Engine
	hub       *game.Hub
	snapshots *cache.RoundSnapshots
	history   RoundHistory
}

// Options are the server's collaborators. Engine and Hub are required;
// the rest degrade gracefully when nil.
type Options struct {
	Log       *zap.Logger
	DB        database.Service
	Cache     cache.Service
	Engine    *game.Engine
	Hub       *game.Hub
	Snapshots *cache.RoundSnapshots
	History   RoundHistory
}

func New(opts Options) *FiberServer {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crashfair",
			AppName:       "crashfair",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		log:       opts.Log,
		db:        opts.DB,
		cache:     opts.Cache,
		engine:    opts.Engine,
		hub:       opts.Hub,
		snapshots: opts.Snapshots,
		history:   opts.History,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	return server
}

// Shutdown stops the listener and closes the backing connections.
func (s *FiberServer) Shutdown() error {
	s.log.Info("server shutting down")

	if err := s.App.ShutdownWithTimeout(10 * time.Second); err != nil {
		s.log.Warn("http shutdown", zap.Error(err))
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.Warn("close cache", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("close database", zap.Error(err))
		}
	}
	return nil
}
