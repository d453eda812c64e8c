package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"framediff-server/internal/models"
)

// ErrJobNotFound is returned when no job is stored under an id
var ErrJobNotFound = errors.New("job not found")

// Job represents a processing job in the queue
type Job struct {
	ID           string                 `json:"id"`
	Type         models.JobType         `json:"type"`
	Payload      map[string]interface{} `json:"payload"`
	Status       models.JobStatus       `json:"status"`
	Progress     int                    `json:"progress"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	ErrorMessage *string                `json:"error_message,omitempty"`
}

// PayloadString returns a string payload field
func (j *Job) PayloadString(key string) (string, bool) {
	v, ok := j.Payload[key].(string)
	return v, ok && v != ""
}

// Queue represents the job queue system
type Queue struct {
	client *redis.Client
}

// Config holds queue configuration
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewQueue connects to Redis and creates a new queue instance
func NewQueue(ctx context.Context, config Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// NewWithClient creates a queue over an existing client
func NewWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Client exposes the Redis connection for other Redis-backed stores
func (q *Queue) Client() *redis.Client {
	return q.client
}

func queueKey(jobType models.JobType) string {
	return fmt.Sprintf("jobs:%s", jobType)
}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

// Enqueue adds a job to the queue
func (q *Queue) Enqueue(ctx context.Context, jobType models.JobType, payload map[string]interface{}) (*Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Payload:   payload,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	jobBytes, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	// Store before pushing so a worker never pops an untracked job
	if err := q.client.HSet(ctx, jobKey(job.ID), "data", jobBytes).Err(); err != nil {
		return nil, fmt.Errorf("failed to store job data: %w", err)
	}

	if err := q.client.LPush(ctx, queueKey(jobType), job.ID).Err(); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, nil
}

// Dequeue blocks up to timeout for the next job of a type. It returns nil
// without error when the wait times out.
func (q *Queue) Dequeue(ctx context.Context, jobType models.JobType, timeout time.Duration) (*Job, error) {
	result, err := q.client.BRPop(ctx, timeout, queueKey(jobType)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	if len(result) < 2 {
		return nil, fmt.Errorf("invalid dequeue result")
	}

	return q.GetJob(ctx, result[1])
}

// UpdateJobStatus updates the status of a job
func (q *Queue) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, progress int, errorMessage *string) (*Job, error) {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	job.Status = status
	job.Progress = progress
	if errorMessage != nil {
		job.ErrorMessage = errorMessage
	}

	now := time.Now().UTC()
	switch status {
	case models.JobStatusRunning:
		job.StartedAt = &now
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		job.CompletedAt = &now
	}

	jobBytes, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.HSet(ctx, jobKey(jobID), "data", jobBytes).Err(); err != nil {
		return nil, fmt.Errorf("failed to update job data: %w", err)
	}

	return job, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.HGet(ctx, jobKey(jobID), "data").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job data: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// ListJobs returns up to limit jobs of a type, newest first. An empty type
// matches every job.
func (q *Queue) ListJobs(ctx context.Context, jobType models.JobType, limit int) ([]*Job, error) {
	var cursor uint64
	var jobs []*Job

	for {
		keys, next, err := q.client.Scan(ctx, cursor, "job:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan job keys: %w", err)
		}

		for _, key := range keys {
			jobData, err := q.client.HGet(ctx, key, "data").Result()
			if err != nil {
				continue
			}

			var job Job
			if err := json.Unmarshal([]byte(jobData), &job); err != nil {
				continue
			}

			if jobType == "" || job.Type == jobType {
				jobs = append(jobs, &job)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	return jobs, nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	return q.client.Close()
}
