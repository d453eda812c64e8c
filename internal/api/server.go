package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"framediff-server/internal/analysis"
	"framediff-server/internal/database"
	"framediff-server/internal/models"
	"framediff-server/internal/processor"
	"framediff-server/internal/queue"
	"framediff-server/internal/storage"
)

const (
	serviceName    = "framediff-server"
	serviceVersion = "0.1.0"
)

// Repository is the persistence the HTTP layer reads from directly
type Repository interface {
	CreateVideo(ctx context.Context, video *models.Video) error
	GetAnalysisByVideoUUID(ctx context.Context, uuid string) (*models.Analysis, error)
	ListAnalyses(ctx context.Context, ease string, limit, offset int) ([]models.Analysis, int64, error)
	SimilarAnalyses(ctx context.Context, uuid string, limit int) ([]models.SimilarAnalysis, error)
	GetStats(ctx context.Context) (*models.DatabaseStats, error)
	CreateProcessingJob(ctx context.Context, job *models.ProcessingJob) error
	Health(ctx context.Context) error
}

// JobQueue schedules and reports background analyses
type JobQueue interface {
	Enqueue(ctx context.Context, jobType models.JobType, payload map[string]interface{}) (*queue.Job, error)
	GetJob(ctx context.Context, jobID string) (*queue.Job, error)
	ListJobs(ctx context.Context, jobType models.JobType, limit int) ([]*queue.Job, error)
}

// Processor runs and edits analyses
type Processor interface {
	Process(ctx context.Context, video *models.Video) (*models.Analysis, error)
	Reanalyze(ctx context.Context, videoID string, req models.ReanalyzeRequest) (*models.Analysis, error)
	UpdateTimestamps(ctx context.Context, req models.UpdateTimestampsRequest) (*models.Analysis, error)
	SaveLabels(ctx context.Context, req models.SaveLabelsRequest) (*models.Analysis, error)
}

// Server is the HTTP front of the analysis service. Queue may be nil, in
// which case only synchronous analysis is offered.
type Server struct {
	repo      Repository
	queue     JobQueue
	processor Processor
	store     *storage.Store
	logger    *slog.Logger
}

// NewServer creates a new server
func NewServer(repo Repository, q JobQueue, p Processor, store *storage.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		repo:      repo,
		queue:     q,
		processor: p,
		store:     store,
		logger:    logger.With("component", "api"),
	}
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()

	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/health", s.healthCheck)

	r.POST("/analyze", s.analyzeVideo)
	r.POST("/update_timestamps", s.updateTimestamps)
	r.POST("/save_labels", s.saveLabels)
	r.GET("/results/:video_id/:filename", s.serveResult)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/analyses", s.listAnalyses)
		v1.GET("/analyses/:video_id", s.getAnalysis)
		v1.GET("/analyses/:video_id/similar", s.similarAnalyses)
		v1.POST("/analyses/:video_id/reanalyze", s.reanalyze)

		v1.GET("/stats", s.getStats)

		v1.GET("/jobs", s.listJobs)
		v1.GET("/jobs/:id", s.getJob)
	}

	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Middleware

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, database.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, analysis.ErrNoFrames):
		return http.StatusUnprocessableEntity
	case errors.Is(err, processor.ErrInvalidTimestamp),
		errors.Is(err, storage.ErrInvalidExtension):
		return http.StatusBadRequest
	case errors.Is(err, processor.ErrNoHashSource):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(message, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
