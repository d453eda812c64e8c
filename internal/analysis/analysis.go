// Package analysis wires frame sampling, hashing, change detection,
// timestamping and segment classification into one batch run per video.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/corona10/goimagehash"

	"framediff-server/internal/ffmpeg"
	"framediff-server/internal/hashseq"
	"framediff-server/internal/scenedetect"
	"framediff-server/internal/segment"
	"framediff-server/internal/timestamps"
)

// ErrNoFrames is returned when sampling produced no frames at all
var ErrNoFrames = errors.New("no frames were extracted from the video")

// Options are the tunables consumed by the analysis
type Options struct {
	FPS            float64 `json:"fps" yaml:"fps"`
	MinThreshold   float64 `json:"min_threshold" yaml:"min_threshold"`
	PhotoThreshold float64 `json:"photo_threshold" yaml:"photo_threshold"`
	LeadInFrames   int     `json:"lead_in_frames" yaml:"lead_in_frames"`
}

// DefaultOptions returns the tuning the service ships with
func DefaultOptions() Options {
	return Options{
		FPS:            12,
		MinThreshold:   12,
		PhotoThreshold: 0.3,
		LeadInFrames:   2,
	}
}

// Validate checks that the options can drive an analysis
func (o Options) Validate() error {
	switch {
	case o.FPS <= 0:
		return fmt.Errorf("fps must be positive, got %v", o.FPS)
	case o.MinThreshold < 0:
		return fmt.Errorf("min threshold must not be negative, got %v", o.MinThreshold)
	case o.PhotoThreshold < 0:
		return fmt.Errorf("photo threshold must not be negative, got %v", o.PhotoThreshold)
	case o.LeadInFrames < 0:
		return fmt.Errorf("lead-in frames must not be negative, got %d", o.LeadInFrames)
	}
	return nil
}

// Sampler extracts ordered frames and the duration from a video
type Sampler interface {
	Sample(ctx context.Context, videoPath string, fps float64, leadInFrames int, outputDir string) (*ffmpeg.Sample, error)
}

// Hasher turns ordered frames into ordered perceptual hashes
type Hasher interface {
	Sequence(ctx context.Context, framePaths []string) ([]*goimagehash.ImageHash, error)
}

// Result is the complete outcome of one analysis run
type Result struct {
	Options             Options
	Duration            float64
	FramePaths          []string
	Hashes              []uint64
	Detection           *scenedetect.Detection
	Classification      segment.Classification
	Timestamps          []float64
	FormattedTimestamps []string
	Complexity          segment.Complexity
}

// SignatureFrames returns the frame indices whose images represent each
// segment: the first frame plus the frame at every change marker.
func (r *Result) SignatureFrames() []int {
	return append([]int{0}, r.Detection.Changes...)
}

// Analyzer runs the pipeline for single videos. It holds no per-run state
// and may be shared between concurrent runs.
type Analyzer struct {
	sampler Sampler
	hasher  Hasher
	opts    Options
	logger  *slog.Logger
}

// New creates a new analyzer
func New(sampler Sampler, hasher Hasher, opts Options, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		sampler: sampler,
		hasher:  hasher,
		opts:    opts,
		logger:  logger.With("component", "analysis"),
	}
}

// Options returns the tuning used by the analyzer
func (a *Analyzer) Options() Options {
	return a.opts
}

// Analyze samples, hashes and evaluates a video. Frames are written to workDir.
func (a *Analyzer) Analyze(ctx context.Context, videoPath, workDir string) (*Result, error) {
	a.logger.Info("starting analysis", "video", videoPath, "fps", a.opts.FPS)

	sample, err := a.sampler.Sample(ctx, videoPath, a.opts.FPS, a.opts.LeadInFrames, workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to sample frames: %w", err)
	}
	if len(sample.FramePaths) == 0 {
		return nil, ErrNoFrames
	}

	hashes, err := a.hasher.Sequence(ctx, sample.FramePaths)
	if err != nil {
		return nil, fmt.Errorf("failed to hash frames: %w", err)
	}

	result, err := Evaluate(hashes, sample.Duration, a.opts, a.logger)
	if err != nil {
		return nil, err
	}
	result.FramePaths = sample.FramePaths

	a.logger.Info("analysis complete",
		"video", videoPath,
		"frames", len(hashes),
		"changes", len(result.Detection.Changes),
		"complexity", result.Complexity,
	)
	return result, nil
}

// Evaluate runs detection, timestamping and classification over an existing
// hash sequence. It is used directly when re-tuning a cached analysis.
func Evaluate(hashes []*goimagehash.ImageHash, duration float64, opts Options, logger *slog.Logger) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, ErrNoFrames
	}

	detection, err := scenedetect.NewDetector(opts.MinThreshold, logger).Detect(hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to detect changes: %w", err)
	}

	raw := timestamps.Raw(opts.FPS, detection.Changes, duration)
	classification := segment.Classify(detection.Differences, detection.Changes, opts.PhotoThreshold)

	return &Result{
		Options:             opts,
		Duration:            duration,
		Hashes:              hashseq.Encode(hashes),
		Detection:           detection,
		Classification:      classification,
		Timestamps:          raw,
		FormattedTimestamps: timestamps.FormatAll(raw),
		Complexity:          classification.Complexity(),
	}, nil
}
