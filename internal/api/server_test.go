package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framediff-server/internal/analysis"
	"framediff-server/internal/database"
	"framediff-server/internal/models"
	"framediff-server/internal/processor"
	"framediff-server/internal/queue"
	"framediff-server/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRepo struct {
	videos    []*models.Video
	analyses  map[string]*models.Analysis
	jobs      []*models.ProcessingJob
	gotLimit  int
	gotOffset int
	gotEase   string
	healthErr error
}

func (r *fakeRepo) CreateVideo(ctx context.Context, video *models.Video) error {
	video.ID = uint(len(r.videos) + 1)
	r.videos = append(r.videos, video)
	return nil
}

func (r *fakeRepo) GetAnalysisByVideoUUID(ctx context.Context, uuid string) (*models.Analysis, error) {
	a, ok := r.analyses[uuid]
	if !ok {
		return nil, database.ErrNotFound
	}
	return a, nil
}

func (r *fakeRepo) ListAnalyses(ctx context.Context, ease string, limit, offset int) ([]models.Analysis, int64, error) {
	r.gotEase, r.gotLimit, r.gotOffset = ease, limit, offset
	var out []models.Analysis
	for _, a := range r.analyses {
		out = append(out, *a)
	}
	return out, int64(len(out)), nil
}

func (r *fakeRepo) SimilarAnalyses(ctx context.Context, uuid string, limit int) ([]models.SimilarAnalysis, error) {
	if _, ok := r.analyses[uuid]; !ok {
		return nil, database.ErrNotFound
	}
	return []models.SimilarAnalysis{{Analysis: models.Analysis{VideoUUID: "other"}, Distance: 0.25}}, nil
}

func (r *fakeRepo) GetStats(ctx context.Context) (*models.DatabaseStats, error) {
	return &models.DatabaseStats{TotalAnalyses: len(r.analyses)}, nil
}

func (r *fakeRepo) CreateProcessingJob(ctx context.Context, job *models.ProcessingJob) error {
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *fakeRepo) Health(ctx context.Context) error {
	return r.healthErr
}

type fakeQueue struct {
	enqueued []map[string]interface{}
	jobs     map[string]*queue.Job
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobType models.JobType, payload map[string]interface{}) (*queue.Job, error) {
	q.enqueued = append(q.enqueued, payload)
	job := &queue.Job{ID: fmt.Sprintf("job-%d", len(q.enqueued)), Type: jobType, Payload: payload, Status: models.JobStatusPending}
	q.jobs[job.ID] = job
	return job, nil
}

func (q *fakeQueue) GetJob(ctx context.Context, jobID string) (*queue.Job, error) {
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	return job, nil
}

func (q *fakeQueue) ListJobs(ctx context.Context, jobType models.JobType, limit int) ([]*queue.Job, error) {
	var out []*queue.Job
	for _, j := range q.jobs {
		out = append(out, j)
	}
	return out, nil
}

type fakeProcessor struct {
	processErr   error
	reanalyzeErr error
	processed    []*models.Video
	lastLabels   models.SaveLabelsRequest
}

func (p *fakeProcessor) Process(ctx context.Context, video *models.Video) (*models.Analysis, error) {
	p.processed = append(p.processed, video)
	if p.processErr != nil {
		return nil, p.processErr
	}
	return &models.Analysis{VideoUUID: video.UUID, Ease: "Medium"}, nil
}

func (p *fakeProcessor) Reanalyze(ctx context.Context, videoID string, req models.ReanalyzeRequest) (*models.Analysis, error) {
	if p.reanalyzeErr != nil {
		return nil, p.reanalyzeErr
	}
	a := &models.Analysis{VideoUUID: videoID, Ease: "Easy"}
	if req.MinThreshold != nil {
		a.MinThreshold = *req.MinThreshold
	}
	return a, nil
}

func (p *fakeProcessor) UpdateTimestamps(ctx context.Context, req models.UpdateTimestampsRequest) (*models.Analysis, error) {
	if req.VideoID == "missing" {
		return nil, database.ErrNotFound
	}
	return &models.Analysis{VideoUUID: req.VideoID, SignificantFrames: req.SignificantFrames}, nil
}

func (p *fakeProcessor) SaveLabels(ctx context.Context, req models.SaveLabelsRequest) (*models.Analysis, error) {
	p.lastLabels = req
	return &models.Analysis{VideoUUID: req.VideoID, Categories: req.Categories}, nil
}

type harness struct {
	repo   *fakeRepo
	queue  *fakeQueue
	proc   *fakeProcessor
	store  *storage.Store
	router *gin.Engine
}

func newHarness(t *testing.T, withQueue bool) *harness {
	t.Helper()
	root := t.TempDir()
	store, err := storage.New(filepath.Join(root, "uploads"), filepath.Join(root, "results"), []string{"mp4", "mov", "avi"})
	require.NoError(t, err)

	h := &harness{
		repo:  &fakeRepo{analyses: map[string]*models.Analysis{}},
		queue: &fakeQueue{jobs: map[string]*queue.Job{}},
		proc:  &fakeProcessor{},
		store: store,
	}
	var q JobQueue
	if withQueue {
		q = h.queue
	}
	h.router = NewServer(h.repo, q, h.proc, store, nil).Router()
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) postJSON(path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return h.do(req)
}

func uploadRequest(t *testing.T, path, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness(t, false)

	w := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, false, body["queue"])
	assert.Contains(t, body, "stats")
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, false)

	w := h.do(httptest.NewRequest(http.MethodOptions, "/analyze", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAnalyzeSync(t *testing.T) {
	h := newHarness(t, false)

	w := h.do(uploadRequest(t, "/analyze", "file", "My Clip.mp4", "video-bytes"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, h.proc.processed, 1)
	video := h.proc.processed[0]
	assert.Equal(t, "My_Clip.mp4", video.Filename)
	assert.Equal(t, models.VideoStatusPending, video.Status)
	data, err := os.ReadFile(video.Filepath)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	body := decode(t, w)
	assert.Equal(t, video.UUID, body["video_id"])
	assert.Equal(t, "Medium", body["ease"])
}

func TestAnalyzeRejectsBadUploads(t *testing.T) {
	h := newHarness(t, false)

	w := h.do(uploadRequest(t, "/analyze", "file", "notes.txt", "x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid file type", decode(t, w)["error"])

	w = h.do(uploadRequest(t, "/analyze", "upload", "clip.mp4", "x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No file part", decode(t, w)["error"])

	assert.Empty(t, h.proc.processed)
	assert.Empty(t, h.repo.videos)
}

func TestAnalyzeNoFrames(t *testing.T) {
	h := newHarness(t, false)
	h.proc.processErr = fmt.Errorf("analysis: %w", analysis.ErrNoFrames)

	w := h.do(uploadRequest(t, "/analyze", "file", "blank.mov", "x"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, analysis.ErrNoFrames.Error(), decode(t, w)["error"])
}

func TestAnalyzeFailure(t *testing.T) {
	h := newHarness(t, false)
	h.proc.processErr = fmt.Errorf("ffprobe failed")

	w := h.do(uploadRequest(t, "/analyze", "file", "clip.avi", "x"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "ffprobe failed", decode(t, w)["details"])
}

func TestAnalyzeAsync(t *testing.T) {
	h := newHarness(t, true)

	w := h.do(uploadRequest(t, "/analyze?async=true", "file", "clip.mp4", "x"))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Empty(t, h.proc.processed)

	require.Len(t, h.queue.enqueued, 1)
	require.Len(t, h.repo.videos, 1)
	assert.Equal(t, h.repo.videos[0].UUID, h.queue.enqueued[0]["video_id"])

	require.Len(t, h.repo.jobs, 1)
	assert.Equal(t, "job-1", h.repo.jobs[0].UUID)
	assert.Equal(t, h.repo.videos[0].ID, *h.repo.jobs[0].VideoID)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-9", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestAnalyzeAsyncWithoutQueue(t *testing.T) {
	h := newHarness(t, false)

	w := h.do(uploadRequest(t, "/analyze?async=1", "file", "clip.mp4", "x"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUpdateTimestamps(t *testing.T) {
	h := newHarness(t, false)

	w := h.postJSON("/update_timestamps", map[string]interface{}{"video_id": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.postJSON("/update_timestamps", map[string]interface{}{
		"video_id":           "missing",
		"significant_frames": []interface{}{},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.postJSON("/update_timestamps", map[string]interface{}{
		"video_id": "abc",
		"significant_frames": []map[string]interface{}{
			{"id": 1, "timestamp": 1.5, "segment_type": "photo", "frame_url": "", "label": ""},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Significant frames updated successfully", body["message"])
	data := body["analysis_data"].(map[string]interface{})
	assert.Len(t, data["significant_frames"], 1)
}

func TestSaveLabels(t *testing.T) {
	h := newHarness(t, false)

	w := h.postJSON("/save_labels", map[string]interface{}{"video_id": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.postJSON("/save_labels", map[string]interface{}{
		"video_id":   "abc",
		"labels":     []string{"intro", "demo"},
		"categories": []string{"tutorial"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"intro", "demo"}, h.proc.lastLabels.Labels)
	assert.Equal(t, "Labels saved successfully", decode(t, w)["message"])
}

func TestServeResult(t *testing.T) {
	h := newHarness(t, false)
	id := storage.NewVideoID()

	src := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, os.WriteFile(src, []byte("png-bytes"), 0644))
	_, err := h.store.PublishFile(id, src, storage.FrameName(0))
	require.NoError(t, err)

	w := h.do(httptest.NewRequest(http.MethodGet, "/results/"+id+"/significant_frame_0.png", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png-bytes", w.Body.String())

	w = h.do(httptest.NewRequest(http.MethodGet, "/results/"+id+"/significant_frame_7.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(httptest.NewRequest(http.MethodGet, "/results/"+id+"/..", nil))
	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestAnalysesEndpoints(t *testing.T) {
	h := newHarness(t, false)
	h.repo.analyses["abc"] = &models.Analysis{VideoUUID: "abc", Ease: "Hard"}

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses?limit=500&offset=-3&ease=Hard", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, h.repo.gotLimit)
	assert.Equal(t, 0, h.repo.gotOffset)
	assert.Equal(t, "Hard", h.repo.gotEase)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses/abc", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hard", decode(t, w)["ease"])

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/analyses/abc/similar", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["similar"], 1)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReanalyze(t *testing.T) {
	h := newHarness(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses/abc/reanalyze", strings.NewReader(`{"min_threshold": 20}`))
	req.Header.Set("Content-Type", "application/json")
	w := h.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20.0, decode(t, w)["min_threshold"])

	w = h.do(httptest.NewRequest(http.MethodPost, "/api/v1/analyses/abc/reanalyze", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/analyses/abc/reanalyze", strings.NewReader(`{"min_threshold": -1}`))
	req.Header.Set("Content-Type", "application/json")
	w = h.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h.proc.reanalyzeErr = processor.ErrNoHashSource
	w = h.do(httptest.NewRequest(http.MethodPost, "/api/v1/analyses/abc/reanalyze", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{database.ErrNotFound, http.StatusNotFound},
		{storage.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("x: %w", queue.ErrJobNotFound), http.StatusNotFound},
		{analysis.ErrNoFrames, http.StatusUnprocessableEntity},
		{processor.ErrInvalidTimestamp, http.StatusBadRequest},
		{storage.ErrInvalidExtension, http.StatusBadRequest},
		{processor.ErrNoHashSource, http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
