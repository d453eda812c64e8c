package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/pgvector/pgvector-go"

	"framediff-server/internal/analysis"
	"framediff-server/internal/ffmpeg"
	"framediff-server/internal/hashcache"
	"framediff-server/internal/hashseq"
	"framediff-server/internal/models"
	"framediff-server/internal/stats"
	"framediff-server/internal/storage"
)

var (
	// ErrNoHashSource is returned when a video can be re-tuned from neither
	// the hash cache nor its sampled frames
	ErrNoHashSource = errors.New("no cached hashes or sampled frames for video")
	// ErrInvalidTimestamp is returned for signature frames outside the video
	ErrInvalidTimestamp = errors.New("timestamp outside the video")
)

// Analyzer runs the full pipeline over a video file
type Analyzer interface {
	Analyze(ctx context.Context, videoPath, workDir string) (*analysis.Result, error)
	Options() analysis.Options
}

// Repository persists videos, analyses and processing jobs
type Repository interface {
	GetVideoByUUID(ctx context.Context, uuid string) (*models.Video, error)
	UpdateVideo(ctx context.Context, video *models.Video) error
	GetAnalysisByVideoUUID(ctx context.Context, uuid string) (*models.Analysis, error)
	SaveAnalysis(ctx context.Context, analysis *models.Analysis) error
	GetProcessingJobByUUID(ctx context.Context, uuid string) (*models.ProcessingJob, error)
	UpdateProcessingJob(ctx context.Context, job *models.ProcessingJob) error
}

// HashCache keeps hash sequences for re-tuning
type HashCache interface {
	Put(ctx context.Context, videoID string, entry hashcache.Entry) error
	Get(ctx context.Context, videoID string) (*hashcache.Entry, error)
}

// FrameExtractor grabs a single frame at a point in time
type FrameExtractor interface {
	ExtractFrameAt(ctx context.Context, videoPath string, seconds float64, outputPath string) error
}

// Deps are the collaborators of a VideoProcessor. Cache may be nil.
type Deps struct {
	Analyzer Analyzer
	Hasher   analysis.Hasher
	Store    *storage.Store
	Repo     Repository
	Frames   FrameExtractor
	Cache    HashCache
	Logger   *slog.Logger
}

// VideoProcessor handles video processing tasks
type VideoProcessor struct {
	analyzer Analyzer
	hasher   analysis.Hasher
	store    *storage.Store
	repo     Repository
	frames   FrameExtractor
	cache    HashCache
	logger   *slog.Logger
}

// NewVideoProcessor creates a new video processor instance
func NewVideoProcessor(d Deps) *VideoProcessor {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoProcessor{
		analyzer: d.Analyzer,
		hasher:   d.Hasher,
		store:    d.Store,
		repo:     d.Repo,
		frames:   d.Frames,
		cache:    d.Cache,
		logger:   logger.With("component", "processor"),
	}
}

// Process analyzes an uploaded video, publishes its signature frames and
// persists the resulting record. The video row tracks progress and failure.
func (vp *VideoProcessor) Process(ctx context.Context, video *models.Video) (*models.Analysis, error) {
	log := vp.logger.With("video_id", video.UUID)

	video.Status = models.VideoStatusProcessing
	video.ErrorMessage = nil
	if err := vp.repo.UpdateVideo(ctx, video); err != nil {
		return nil, fmt.Errorf("failed to mark video as processing: %w", err)
	}

	record, err := vp.process(ctx, video)
	if err != nil {
		log.Error("analysis failed", "error", err)
		vp.markFailed(ctx, video, err)
		return nil, err
	}

	now := time.Now().UTC()
	video.Status = models.VideoStatusCompleted
	video.Duration = record.Duration
	video.LastProcessedAt = &now
	if err := vp.repo.UpdateVideo(ctx, video); err != nil {
		return nil, fmt.Errorf("failed to mark video as completed: %w", err)
	}

	log.Info("video processed", "ease", record.Ease, "frames", len(record.SignificantFrames))
	return record, nil
}

func (vp *VideoProcessor) process(ctx context.Context, video *models.Video) (*models.Analysis, error) {
	result, err := vp.analyzer.Analyze(ctx, video.Filepath, vp.store.FramesDir(video.UUID))
	if err != nil {
		return nil, err
	}

	frames, err := vp.publishFrames(ctx, video, result)
	if err != nil {
		return nil, err
	}

	videoURL, err := vp.store.PublishFile(video.UUID, video.Filepath, filepath.Base(video.Filepath))
	if err != nil {
		return nil, fmt.Errorf("failed to publish video: %w", err)
	}

	record := NewRecord(video, result, frames, videoURL)
	if err := vp.save(ctx, record); err != nil {
		return nil, err
	}

	vp.cacheHashes(ctx, video.UUID, result)
	return record, nil
}

// Reanalyze re-runs detection and classification with new thresholds over
// the hashes of an already processed video, without decoding it again.
func (vp *VideoProcessor) Reanalyze(ctx context.Context, videoID string, req models.ReanalyzeRequest) (*models.Analysis, error) {
	video, err := vp.repo.GetVideoByUUID(ctx, videoID)
	if err != nil {
		return nil, err
	}

	opts := vp.analyzer.Options()
	previous := video.Analysis
	if previous != nil {
		opts.FPS = previous.FPS
		opts.LeadInFrames = previous.LeadInFrames
		opts.MinThreshold = previous.MinThreshold
		opts.PhotoThreshold = previous.PhotoThreshold
	}
	if req.MinThreshold != nil {
		opts.MinThreshold = *req.MinThreshold
	}
	if req.PhotoThreshold != nil {
		opts.PhotoThreshold = *req.PhotoThreshold
	}

	hashes, duration, framePaths, err := vp.loadHashes(ctx, video)
	if err != nil {
		return nil, err
	}

	result, err := analysis.Evaluate(hashes, duration, opts, vp.logger)
	if err != nil {
		return nil, err
	}
	result.FramePaths = framePaths

	frames, err := vp.publishFrames(ctx, video, result)
	if err != nil {
		return nil, err
	}

	videoURL := storage.FrameURL(video.UUID, filepath.Base(video.Filepath))
	if previous != nil && previous.VideoURL != "" {
		videoURL = previous.VideoURL
	}
	record := NewRecord(video, result, frames, videoURL)
	if previous != nil {
		record.ID = previous.ID
		record.CreatedAt = previous.CreatedAt
		record.Categories = previous.Categories
	}
	if err := vp.save(ctx, record); err != nil {
		return nil, err
	}
	vp.cacheHashes(ctx, video.UUID, result)

	vp.logger.Info("video re-analyzed",
		"video_id", video.UUID,
		"min_threshold", opts.MinThreshold,
		"photo_threshold", opts.PhotoThreshold,
		"ease", record.Ease,
	)
	return record, nil
}

// loadHashes prefers the cache and falls back to re-hashing sampled frames
func (vp *VideoProcessor) loadHashes(ctx context.Context, video *models.Video) ([]*goimagehash.ImageHash, float64, []string, error) {
	framePaths, _ := ffmpeg.ListFrames(vp.store.FramesDir(video.UUID))

	if vp.cache != nil {
		entry, err := vp.cache.Get(ctx, video.UUID)
		switch {
		case err == nil:
			if len(framePaths) != len(entry.Hashes) {
				framePaths = nil
			}
			return hashseq.Decode(entry.Hashes), entry.Duration, framePaths, nil
		case !errors.Is(err, hashcache.ErrMiss):
			vp.logger.Warn("hash cache unavailable, re-hashing frames", "video_id", video.UUID, "error", err)
		}
	}

	if len(framePaths) == 0 {
		return nil, 0, nil, fmt.Errorf("%w: %s", ErrNoHashSource, video.UUID)
	}

	hashes, err := vp.hasher.Sequence(ctx, framePaths)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to hash frames: %w", err)
	}
	return hashes, video.Duration, framePaths, nil
}

// UpdateTimestamps replaces the signature frames of an analysis, re-extracting
// each image at its new timestamp and deleting images no longer referenced.
func (vp *VideoProcessor) UpdateTimestamps(ctx context.Context, req models.UpdateTimestampsRequest) (*models.Analysis, error) {
	record, err := vp.repo.GetAnalysisByVideoUUID(ctx, req.VideoID)
	if err != nil {
		return nil, err
	}

	for _, frame := range req.SignificantFrames {
		if frame.Timestamp < 0 || (record.Duration > 0 && frame.Timestamp > record.Duration) {
			return nil, fmt.Errorf("%w: %.2fs not in [0, %.2f]", ErrInvalidTimestamp, frame.Timestamp, record.Duration)
		}
	}

	videoPath, err := vp.store.PublishedPath(req.VideoID, filepath.Base(record.VideoURL))
	if err != nil {
		return nil, err
	}

	previous := make(map[string]bool, len(record.SignificantFrames))
	for _, f := range record.SignificantFrames {
		previous[filepath.Base(f.FrameURL)] = true
	}

	updated := make(models.JSONFrames, len(req.SignificantFrames))
	for idx, frame := range req.SignificantFrames {
		name := storage.FrameName(idx)
		out, err := vp.store.PublishedPath(req.VideoID, name)
		if err != nil {
			return nil, err
		}
		if err := vp.frames.ExtractFrameAt(ctx, videoPath, frame.Timestamp, out); err != nil {
			return nil, err
		}

		frame.ID = idx + 1
		frame.FrameURL = storage.FrameURL(req.VideoID, name)
		updated[idx] = frame
		delete(previous, name)
	}

	for name := range previous {
		if err := vp.store.RemoveResult(req.VideoID, name); err != nil {
			vp.logger.Warn("failed to remove stale frame", "video_id", req.VideoID, "frame", name, "error", err)
		}
	}

	record.SignificantFrames = updated
	if err := vp.save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// SaveLabels assigns labels to signature frames by position and stores the
// categories. Labels beyond the last frame are ignored.
func (vp *VideoProcessor) SaveLabels(ctx context.Context, req models.SaveLabelsRequest) (*models.Analysis, error) {
	record, err := vp.repo.GetAnalysisByVideoUUID(ctx, req.VideoID)
	if err != nil {
		return nil, err
	}

	for idx, label := range req.Labels {
		if idx < len(record.SignificantFrames) {
			record.SignificantFrames[idx].Label = label
		}
	}
	record.Categories = models.JSONStringArray(req.Categories)

	if err := vp.save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// publishFrames copies the frame that opens each segment into the results
// directory. Frames missing from the sample are grabbed from the video at
// their timestamp instead.
func (vp *VideoProcessor) publishFrames(ctx context.Context, video *models.Video, result *analysis.Result) (models.JSONFrames, error) {
	labels := result.Classification.Labels()
	frames := models.JSONFrames{}

	for _, idx := range result.SignatureFrames() {
		k := len(frames)
		if k >= len(labels) || k >= len(result.Timestamps) {
			break
		}
		name := storage.FrameName(k)

		var url string
		if idx < len(result.FramePaths) {
			var err error
			if url, err = vp.store.PublishFile(video.UUID, result.FramePaths[idx], name); err != nil {
				return nil, err
			}
		} else {
			out, err := vp.store.PublishedPath(video.UUID, name)
			if err != nil {
				return nil, err
			}
			if _, err := vp.store.ResultDir(video.UUID); err != nil {
				return nil, err
			}
			if err := vp.frames.ExtractFrameAt(ctx, video.Filepath, result.Timestamps[k], out); err != nil {
				vp.logger.Warn("skipping signature frame", "video_id", video.UUID, "frame", k, "error", err)
				continue
			}
			url = storage.FrameURL(video.UUID, name)
		}

		frames = append(frames, models.SignificantFrame{
			ID:          k + 1,
			Timestamp:   result.Timestamps[k],
			SegmentType: string(labels[k]),
			FrameURL:    url,
		})
	}

	vp.removeStaleFrames(video.UUID, len(frames))
	return frames, nil
}

func (vp *VideoProcessor) removeStaleFrames(videoID string, keep int) {
	names, err := vp.store.PublishedFrames(videoID)
	if err != nil {
		return
	}
	current := make(map[string]bool, keep)
	for k := 0; k < keep; k++ {
		current[storage.FrameName(k)] = true
	}
	for _, name := range names {
		if !current[name] {
			if err := vp.store.RemoveResult(videoID, name); err != nil {
				vp.logger.Warn("failed to remove stale frame", "video_id", videoID, "frame", name, "error", err)
			}
		}
	}
}

func (vp *VideoProcessor) save(ctx context.Context, record *models.Analysis) error {
	if err := vp.repo.SaveAnalysis(ctx, record); err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	if err := vp.store.WriteSnapshot(record.VideoUUID, record); err != nil {
		return fmt.Errorf("failed to write analysis snapshot: %w", err)
	}
	return nil
}

func (vp *VideoProcessor) cacheHashes(ctx context.Context, videoID string, result *analysis.Result) {
	if vp.cache == nil {
		return
	}
	entry := hashcache.Entry{Hashes: result.Hashes, Duration: result.Duration}
	if err := vp.cache.Put(ctx, videoID, entry); err != nil {
		vp.logger.Warn("failed to cache hashes", "video_id", videoID, "error", err)
	}
}

func (vp *VideoProcessor) markFailed(ctx context.Context, video *models.Video, cause error) {
	msg := cause.Error()
	video.Status = models.VideoStatusFailed
	video.ErrorMessage = &msg
	if err := vp.repo.UpdateVideo(ctx, video); err != nil {
		vp.logger.Error("failed to mark video as failed", "video_id", video.UUID, "error", err)
	}
}

// NewRecord builds the persisted record of an analysis run
func NewRecord(video *models.Video, result *analysis.Result, frames models.JSONFrames, videoURL string) *models.Analysis {
	labels := result.Classification.Labels()
	segmentLabels := make(models.JSONStringArray, len(labels))
	for i, l := range labels {
		segmentLabels[i] = string(l)
	}

	segments := make([]map[string]interface{}, len(result.Classification.Segments))
	for i, s := range result.Classification.Segments {
		segments[i] = map[string]interface{}{
			"start":    s.Start,
			"end":      s.End,
			"variance": definedOrNil(s.Variance),
			"label":    string(s.Label),
		}
	}

	profile := pgvector.NewVector(analysis.Profile(result.Detection.Differences))

	return &models.Analysis{
		VideoID:              video.ID,
		VideoUUID:            video.UUID,
		Filename:             filepath.Base(video.Filename),
		Ease:                 string(result.Complexity),
		Duration:             result.Duration,
		FPS:                  result.Options.FPS,
		MinThreshold:         result.Options.MinThreshold,
		PhotoThreshold:       result.Options.PhotoThreshold,
		LeadInFrames:         result.Options.LeadInFrames,
		DynamicThreshold:     definedOrNil(result.Detection.Threshold),
		SmallChangeThreshold: definedOrNil(result.Classification.SmallChangeThreshold),
		PhotoCount:           result.Classification.PhotoCount,
		VideoCount:           result.Classification.VideoCount,
		Timestamps:           models.JSONFloatArray(result.Timestamps),
		FormattedTimestamps:  models.JSONStringArray(result.FormattedTimestamps),
		SegmentLabels:        segmentLabels,
		Categories:           models.JSONStringArray{},
		SignificantFrames:    frames,
		Metadata: models.JSONObject{
			"frame_count":         len(result.Hashes),
			"significant_changes": append([]int{}, result.Detection.Changes...),
			"segments":            segments,
		},
		Profile:  &profile,
		VideoURL: videoURL,
	}
}

func definedOrNil(v float64) *float64 {
	if !stats.Defined(v) {
		return nil
	}
	return &v
}

