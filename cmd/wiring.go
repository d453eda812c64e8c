package main

import (
	"context"
	"fmt"
	"log/slog"

	"framediff-server/internal/analysis"
	"framediff-server/internal/config"
	"framediff-server/internal/database"
	"framediff-server/internal/ffmpeg"
	"framediff-server/internal/hashcache"
	"framediff-server/internal/hashseq"
	"framediff-server/internal/processor"
	"framediff-server/internal/queue"
	"framediff-server/internal/storage"
)

// services are the long-lived collaborators shared by serve and worker
type services struct {
	db        *database.DB
	queue     *queue.Queue
	store     *storage.Store
	processor *processor.VideoProcessor
}

func (s *services) Close() {
	if s.queue != nil {
		s.queue.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.NewConnection(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		TimeZone: cfg.Database.TimeZone,
	}, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Health(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database health check failed: %w", err)
	}
	return db, nil
}

func newFFmpeg(cfg *config.Config) *ffmpeg.FFmpegClient {
	return ffmpeg.NewFFmpegClient(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.FFprobePath, cfg.FFmpeg.Timeout, slog.Default())
}

// newServices connects the database and, when requireQueue is false, treats
// Redis as optional: without it there is no job queue and no hash cache.
func newServices(ctx context.Context, cfg *config.Config, requireQueue bool) (*services, error) {
	logger := slog.Default()
	s := &services{}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.db = db
	logger.Info("database connection established")

	q, err := queue.NewQueue(ctx, queue.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		if requireQueue {
			s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Warn("redis unavailable, background analysis and hash cache disabled", "addr", cfg.Redis.Addr, "error", err)
	} else {
		s.queue = q
	}

	store, err := storage.New(cfg.Server.UploadDir, cfg.Server.ResultsDir, cfg.Server.AllowedExtensions)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.store = store

	ff := newFFmpeg(cfg)
	if err := ff.CheckFFmpeg(); err != nil {
		logger.Warn("ffmpeg check failed", "error", err)
	}

	hasher := hashseq.New(logger, hashseq.WithWorkers(cfg.Analysis.HashWorkers))
	deps := processor.Deps{
		Analyzer: analysis.New(ff, hasher, cfg.Analysis.Options(), logger),
		Hasher:   hasher,
		Store:    store,
		Repo:     db,
		Frames:   ff,
		Logger:   logger,
	}
	if s.queue != nil {
		deps.Cache = hashcache.New(s.queue.Client(), cfg.Redis.HashTTL)
	}
	s.processor = processor.NewVideoProcessor(deps)

	return s, nil
}
