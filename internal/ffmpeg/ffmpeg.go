package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FramePrefix is the filename prefix of sampled frames
const FramePrefix = "output_frame_"

// ErrDurationUnavailable is returned when ffprobe cannot report a duration
var ErrDurationUnavailable = errors.New("video duration unavailable")

var frameNamePattern = regexp.MustCompile(`^` + FramePrefix + `(\d+)\.png$`)

// VideoMetadata represents basic video metadata
type VideoMetadata struct {
	Duration       string `json:"duration"`
	BitRate        string `json:"bit_rate"`
	FormatName     string `json:"format_name"`
	FormatLongName string `json:"format_long_name"`
	StartTime      string `json:"start_time"`
	Size           string `json:"size"`
}

// Stream represents a video/audio stream
type Stream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Duration     string `json:"duration"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
}

// FFprobeResult represents the result of ffprobe
type FFprobeResult struct {
	Streams []Stream      `json:"streams"`
	Format  VideoMetadata `json:"format"`
}

// VideoStream returns the first video stream, if any
func (r *FFprobeResult) VideoStream() (Stream, bool) {
	for _, s := range r.Streams {
		if s.CodecType == "video" {
			return s, true
		}
	}
	return Stream{}, false
}

// Sample is the output of frame sampling: frames in temporal order plus the
// total duration of the source video in seconds.
type Sample struct {
	FramePaths []string
	Duration   float64
}

// runFunc executes a command and returns its stdout and stderr
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)

// FFmpegClient handles FFmpeg operations
type FFmpegClient struct {
	ffprobePath string
	ffmpegPath  string
	timeout     time.Duration
	run         runFunc
	logger      *slog.Logger
}

// NewFFmpegClient creates a new FFmpeg client. A zero timeout disables the
// per-command deadline.
func NewFFmpegClient(ffmpegPath, ffprobePath string, timeout time.Duration, logger *slog.Logger) *FFmpegClient {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegClient{
		ffprobePath: ffprobePath,
		ffmpegPath:  ffmpegPath,
		timeout:     timeout,
		run:         execCommand,
		logger:      logger.With("component", "ffmpeg"),
	}
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	err := cmd.Run()
	return out.Bytes(), stderr.Bytes(), err
}

func (f *FFmpegClient) command(ctx context.Context, name string, args ...string) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	f.logger.Debug("executing command", "cmd", name, "args", args)
	out, stderr, err := f.run(ctx, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(name), ctx.Err())
		}
		return nil, fmt.Errorf("%s failed: %w, stderr: %s", filepath.Base(name), err, strings.TrimSpace(string(stderr)))
	}
	return out, nil
}

// GetVideoMetadata extracts metadata from a video file
func (f *FFmpegClient) GetVideoMetadata(ctx context.Context, videoPath string) (*FFprobeResult, error) {
	out, err := f.command(ctx, f.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath)
	if err != nil {
		return nil, err
	}

	var result FFprobeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &result, nil
}

// GetVideoDuration extracts just the duration from a video file
func (f *FFmpegClient) GetVideoDuration(ctx context.Context, videoPath string) (float64, error) {
	out, err := f.command(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurationUnavailable, err)
	}

	durationStr := strings.TrimSpace(string(out))
	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil || math.IsNaN(duration) || duration < 0 {
		return 0, fmt.Errorf("%w: unparseable value %q", ErrDurationUnavailable, durationStr)
	}

	return duration, nil
}

// Sample probes the duration and extracts frames at fps, starting
// leadInFrames frames past the start of the video.
func (f *FFmpegClient) Sample(ctx context.Context, videoPath string, fps float64, leadInFrames int, outputDir string) (*Sample, error) {
	duration, err := f.GetVideoDuration(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frames directory: %w", err)
	}

	outputPattern := filepath.Join(outputDir, FramePrefix+"%d.png")
	_, err = f.command(ctx, f.ffmpegPath,
		"-y",
		"-ss", strconv.FormatFloat(LeadInOffset(leadInFrames, fps), 'f', -1, 64),
		"-i", videoPath,
		"-vf", "fps="+strconv.FormatFloat(fps, 'f', -1, 64),
		"-start_number", "0",
		outputPattern)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed to extract frames: %w", err)
	}

	frames, err := ListFrames(outputDir)
	if err != nil {
		return nil, err
	}

	f.logger.Info("sampled frames", "video", filepath.Base(videoPath), "frames", len(frames), "duration", duration)
	return &Sample{FramePaths: frames, Duration: duration}, nil
}

// ExtractFrameAt writes the single frame shown at seconds into outputPath
func (f *FFmpegClient) ExtractFrameAt(ctx context.Context, videoPath string, seconds float64, outputPath string) error {
	_, err := f.command(ctx, f.ffmpegPath,
		"-y",
		"-ss", strconv.FormatFloat(seconds, 'f', -1, 64),
		"-i", videoPath,
		"-frames:v", "1",
		outputPath)
	if err != nil {
		return fmt.Errorf("ffmpeg failed to extract frame at %.2fs: %w", seconds, err)
	}
	return nil
}

// CheckFFmpeg checks if FFmpeg and FFprobe are available
func (f *FFmpegClient) CheckFFmpeg() error {
	if _, err := exec.LookPath(f.ffprobePath); err != nil {
		return fmt.Errorf("ffprobe not found: %w", err)
	}
	if _, err := exec.LookPath(f.ffmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	return nil
}

// LeadInOffset converts a frame count at fps into a seek offset in seconds,
// rounded to two decimals.
func LeadInOffset(leadInFrames int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return math.Round(float64(leadInFrames)/fps*100) / 100
}

// FrameNumber extracts the frame index from a sampled frame filename
func FrameNumber(name string) (int, bool) {
	matches := frameNamePattern.FindStringSubmatch(name)
	if matches == nil {
		return 0, false
	}
	n, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListFrames returns the sampled frames in dir ordered by frame index
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames directory '%s': %w", dir, err)
	}

	type frame struct {
		number int
		path   string
	}
	var frames []frame
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if n, ok := FrameNumber(entry.Name()); ok {
			frames = append(frames, frame{number: n, path: filepath.Join(dir, entry.Name())})
		}
	}

	sort.Slice(frames, func(i, j int) bool {
		return frames[i].number < frames[j].number
	})

	paths := make([]string, len(frames))
	for i, fr := range frames {
		paths[i] = fr.path
	}
	return paths, nil
}
