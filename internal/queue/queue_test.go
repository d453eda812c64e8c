package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framediff-server/internal/models"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := NewQueue(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueDequeue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	first, err := q.Enqueue(ctx, models.JobTypeVideoAnalysis, map[string]interface{}{"video_id": "a"})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, models.JobTypeVideoAnalysis, map[string]interface{}{"video_id": "b"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.JobStatusPending, first.Status)

	job, err := q.Dequeue(ctx, models.JobTypeVideoAnalysis, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first.ID, job.ID)

	videoID, ok := job.PayloadString("video_id")
	assert.True(t, ok)
	assert.Equal(t, "a", videoID)
	_, ok = job.PayloadString("missing")
	assert.False(t, ok)

	job, err = q.Dequeue(ctx, models.JobTypeVideoAnalysis, time.Second)
	require.NoError(t, err)
	assert.Equal(t, second.ID, job.ID)
}

func TestUpdateJobStatus(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	job, err := q.Enqueue(ctx, models.JobTypeVideoAnalysis, nil)
	require.NoError(t, err)

	running, err := q.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, 10, nil)
	require.NoError(t, err)
	assert.NotNil(t, running.StartedAt)
	assert.Nil(t, running.CompletedAt)

	msg := "no frames were extracted from the video"
	_, err = q.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, 100, &msg)
	require.NoError(t, err)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, msg, *stored.ErrorMessage)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)
}

func TestGetJobNotFound(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = q.UpdateJobStatus(context.Background(), "nope", models.JobStatusRunning, 0, nil)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestListJobs(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := q.Enqueue(ctx, models.JobTypeVideoAnalysis, nil)
		require.NoError(t, err)
		ids = append(ids, job.ID)
		time.Sleep(2 * time.Millisecond)
	}

	jobs, err := q.ListJobs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[2], jobs[0].ID)

	jobs, err = q.ListJobs(ctx, models.JobTypeVideoAnalysis, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = q.ListJobs(ctx, models.JobType("other"), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
