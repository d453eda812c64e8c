package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"framediff-server/internal/models"
	"framediff-server/internal/queue"
)

// JobQueue is the part of the job queue a worker consumes
type JobQueue interface {
	Dequeue(ctx context.Context, jobType models.JobType, timeout time.Duration) (*queue.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, progress int, errorMessage *string) (*queue.Job, error)
}

// Worker pulls video analysis jobs off the queue and processes them one at a time
type Worker struct {
	processor   *VideoProcessor
	queue       JobQueue
	pollTimeout time.Duration
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewWorker creates a worker that waits up to pollTimeout per dequeue
func NewWorker(p *VideoProcessor, q JobQueue, pollTimeout time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &Worker{
		processor:   p,
		queue:       q,
		pollTimeout: pollTimeout,
		retryDelay:  time.Second,
		logger:      logger.With("component", "worker"),
	}
}

// Run processes jobs until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "job_type", models.JobTypeVideoAnalysis)

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return nil
		}

		job, err := w.queue.Dequeue(ctx, models.JobTypeVideoAnalysis, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("failed to dequeue job", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(w.retryDelay):
			}
			continue
		}
		if job == nil {
			continue
		}

		if err := w.Handle(ctx, job); err != nil {
			w.logger.Error("job failed", "job_id", job.ID, "error", err)
		}
	}
}

// Handle runs one job and records its outcome in the queue and the database
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	log := w.logger.With("job_id", job.ID)
	log.Info("processing job")

	w.setStatus(ctx, job.ID, models.JobStatusRunning, 10, nil)

	err := w.run(ctx, job)
	if err != nil {
		// the job context may already be cancelled; record the outcome anyway
		msg := err.Error()
		w.setStatus(context.WithoutCancel(ctx), job.ID, models.JobStatusFailed, 100, &msg)
		return err
	}

	w.setStatus(ctx, job.ID, models.JobStatusCompleted, 100, nil)
	log.Info("job completed")
	return nil
}

func (w *Worker) run(ctx context.Context, job *queue.Job) error {
	videoID, ok := job.PayloadString("video_id")
	if !ok {
		return errors.New("missing video_id in payload")
	}

	video, err := w.processor.repo.GetVideoByUUID(ctx, videoID)
	if err != nil {
		return fmt.Errorf("failed to load video %s: %w", videoID, err)
	}

	_, err = w.processor.Process(ctx, video)
	return err
}

func (w *Worker) setStatus(ctx context.Context, jobID string, status models.JobStatus, progress int, errorMessage *string) {
	if _, err := w.queue.UpdateJobStatus(ctx, jobID, status, progress, errorMessage); err != nil {
		w.logger.Warn("failed to update queued job", "job_id", jobID, "error", err)
	}

	record, err := w.processor.repo.GetProcessingJobByUUID(ctx, jobID)
	if err != nil {
		w.logger.Warn("no processing job record", "job_id", jobID, "error", err)
		return
	}

	now := time.Now().UTC()
	record.Status = status
	record.Progress = progress
	if errorMessage != nil {
		record.ErrorMessage = errorMessage
	}
	switch status {
	case models.JobStatusRunning:
		record.StartedAt = &now
	case models.JobStatusCompleted, models.JobStatusFailed:
		record.CompletedAt = &now
	}
	if err := w.processor.repo.UpdateProcessingJob(ctx, record); err != nil {
		w.logger.Warn("failed to update processing job", "job_id", jobID, "error", err)
	}
}
