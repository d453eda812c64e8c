package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"framediff-server/internal/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// DB represents the database connection
type DB struct {
	*gorm.DB
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string
}

// DSN renders the config as a postgres connection string
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode, c.TimeZone)
}

// NewConnection creates a new database connection. SQL logs go through the
// given slog logger.
func NewConnection(config Config, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}

	gormConfig := &gorm.Config{
		Logger: logger.New(
			slog.NewLogLogger(log.With("component", "gorm").Handler(), slog.LevelDebug),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(config.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &DB{db}, nil
}

// AutoMigrate enables pgvector and runs database migrations for all models
func (db *DB) AutoMigrate(ctx context.Context) error {
	tx := db.DB.WithContext(ctx)
	if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to enable vector extension: %w", err)
	}
	return tx.AutoMigrate(
		&models.Video{},
		&models.Analysis{},
		&models.ProcessingJob{},
	)
}

// GetStats queries database statistics
func (db *DB) GetStats(ctx context.Context) (*models.DatabaseStats, error) {
	var stats models.DatabaseStats

	err := db.WithContext(ctx).Raw(`
		SELECT
			(SELECT COUNT(*) FROM videos) as total_videos,
			(SELECT COUNT(*) FROM videos WHERE status = 'completed') as completed_videos,
			(SELECT COUNT(*) FROM videos WHERE status = 'failed') as failed_videos,
			(SELECT COUNT(*) FROM analyses) as total_analyses,
			(SELECT COUNT(*) FROM analyses WHERE ease = 'Easy') as easy_analyses,
			(SELECT COUNT(*) FROM analyses WHERE ease = 'Medium') as medium_analyses,
			(SELECT COUNT(*) FROM analyses WHERE ease = 'Hard') as hard_analyses,
			(SELECT COALESCE(SUM(duration), 0) FROM videos WHERE status = 'completed') as total_duration_seconds,
			(SELECT COUNT(*) FROM processing_jobs WHERE status = 'running') as active_jobs
	`).Scan(&stats).Error

	if err != nil {
		return nil, fmt.Errorf("failed to query database stats: %w", err)
	}

	return &stats, nil
}

// Health checks the database connection
func (db *DB) Health(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Video service methods

// CreateVideo creates a new video record
func (db *DB) CreateVideo(ctx context.Context, video *models.Video) error {
	return db.WithContext(ctx).Create(video).Error
}

// GetVideoByUUID retrieves a video and its analysis by public id
func (db *DB) GetVideoByUUID(ctx context.Context, uuid string) (*models.Video, error) {
	var video models.Video
	err := db.WithContext(ctx).Preload("Analysis").Where("uuid = ?", uuid).First(&video).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &video, nil
}

// UpdateVideo updates a video record
func (db *DB) UpdateVideo(ctx context.Context, video *models.Video) error {
	return db.WithContext(ctx).Omit(clause.Associations).Save(video).Error
}

// Analysis service methods

// SaveAnalysis inserts the analysis of a video or replaces the existing one
func (db *DB) SaveAnalysis(ctx context.Context, analysis *models.Analysis) error {
	tx := db.WithContext(ctx)
	if analysis.ID != 0 {
		return tx.Save(analysis).Error
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_uuid"}},
		UpdateAll: true,
	}).Create(analysis).Error
}

// GetAnalysisByVideoUUID retrieves the analysis of a video
func (db *DB) GetAnalysisByVideoUUID(ctx context.Context, uuid string) (*models.Analysis, error) {
	var analysis models.Analysis
	err := db.WithContext(ctx).Where("video_uuid = ?", uuid).First(&analysis).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &analysis, nil
}

// ListAnalyses retrieves analyses with pagination, optionally filtered by verdict
func (db *DB) ListAnalyses(ctx context.Context, ease string, limit, offset int) ([]models.Analysis, int64, error) {
	var analyses []models.Analysis
	var total int64

	query := db.WithContext(ctx).Model(&models.Analysis{})
	if ease != "" {
		query = query.Where("ease = ?", ease)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Limit(limit).Offset(offset).Order("created_at DESC").Find(&analyses).Error
	if err != nil {
		return nil, 0, err
	}

	return analyses, total, nil
}

// SimilarAnalyses ranks other analyses by L2 distance between difference profiles
func (db *DB) SimilarAnalyses(ctx context.Context, uuid string, limit int) ([]models.SimilarAnalysis, error) {
	target, err := db.GetAnalysisByVideoUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if target.Profile == nil {
		return []models.SimilarAnalysis{}, nil
	}

	var results []models.SimilarAnalysis
	err = db.WithContext(ctx).Raw(`
		SELECT *, profile <-> ? AS distance
		FROM analyses
		WHERE video_uuid <> ? AND profile IS NOT NULL
		ORDER BY profile <-> ?
		LIMIT ?`,
		target.Profile, uuid, target.Profile, limit).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search similar analyses: %w", err)
	}

	return results, nil
}

// Processing job service methods

// CreateProcessingJob creates a new processing job
func (db *DB) CreateProcessingJob(ctx context.Context, job *models.ProcessingJob) error {
	return db.WithContext(ctx).Create(job).Error
}

// GetProcessingJobByUUID retrieves a processing job by its queue id
func (db *DB) GetProcessingJobByUUID(ctx context.Context, uuid string) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	if err := db.WithContext(ctx).Where("uuid = ?", uuid).First(&job).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// GetProcessingJobsByVideoID retrieves processing jobs for a video
func (db *DB) GetProcessingJobsByVideoID(ctx context.Context, videoID uint) ([]models.ProcessingJob, error) {
	var jobs []models.ProcessingJob
	err := db.WithContext(ctx).Where("video_id = ?", videoID).Order("created_at DESC").Find(&jobs).Error
	return jobs, err
}

// UpdateProcessingJob updates a processing job
func (db *DB) UpdateProcessingJob(ctx context.Context, job *models.ProcessingJob) error {
	return db.WithContext(ctx).Omit(clause.Associations).Save(job).Error
}
