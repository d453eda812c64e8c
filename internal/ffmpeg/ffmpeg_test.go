package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

// fakeRunner answers ffprobe with a fixed duration and makes ffmpeg write
// the requested frame numbers into the output pattern.
type fakeRunner struct {
	duration  string
	probeErr  error
	frames    []int
	ffmpegErr error
	calls     []call
}

func (r *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.calls = append(r.calls, call{name: name, args: args})

	if name == "ffprobe" {
		if r.probeErr != nil {
			return nil, []byte("moov atom not found"), r.probeErr
		}
		return []byte(r.duration + "\n"), nil, nil
	}

	if r.ffmpegErr != nil {
		return nil, []byte("invalid data"), r.ffmpegErr
	}
	output := args[len(args)-1]
	if strings.Contains(output, "%d") {
		for _, n := range r.frames {
			path := strings.Replace(output, "%d", fmt.Sprint(n), 1)
			if err := os.WriteFile(path, []byte("png"), 0644); err != nil {
				return nil, nil, err
			}
		}
	} else if err := os.WriteFile(output, []byte("png"), 0644); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

func newTestClient(r *fakeRunner) *FFmpegClient {
	c := NewFFmpegClient("", "", 0, nil)
	c.run = r.run
	return c
}

func TestSample(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	runner := &fakeRunner{duration: "10.000000", frames: []int{0, 1, 2, 10, 11, 9}}
	client := newTestClient(runner)

	sample, err := client.Sample(context.Background(), "in.mp4", 12, 2, dir)
	require.NoError(t, err)
	assert.Equal(t, 10.0, sample.Duration)

	var names []string
	for _, p := range sample.FramePaths {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{
		"output_frame_0.png", "output_frame_1.png", "output_frame_2.png",
		"output_frame_9.png", "output_frame_10.png", "output_frame_11.png",
	}, names)

	require.Len(t, runner.calls, 2)
	extract := runner.calls[1]
	assert.Equal(t, "ffmpeg", extract.name)
	assert.Equal(t, []string{
		"-y", "-ss", "0.17", "-i", "in.mp4", "-vf", "fps=12", "-start_number", "0",
		filepath.Join(dir, "output_frame_%d.png"),
	}, extract.args)
}

func TestSampleDurationUnavailable(t *testing.T) {
	t.Run("probe fails", func(t *testing.T) {
		client := newTestClient(&fakeRunner{probeErr: errors.New("exit status 1")})
		_, err := client.Sample(context.Background(), "broken.mp4", 12, 2, t.TempDir())
		assert.ErrorIs(t, err, ErrDurationUnavailable)
	})

	t.Run("probe prints garbage", func(t *testing.T) {
		client := newTestClient(&fakeRunner{duration: "N/A"})
		_, err := client.GetVideoDuration(context.Background(), "broken.mp4")
		assert.ErrorIs(t, err, ErrDurationUnavailable)
	})
}

func TestSampleExtractionFailure(t *testing.T) {
	client := newTestClient(&fakeRunner{duration: "3.5", ffmpegErr: errors.New("exit status 1")})
	_, err := client.Sample(context.Background(), "in.mp4", 12, 2, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid data")
}

func TestExtractFrameAt(t *testing.T) {
	runner := &fakeRunner{}
	client := newTestClient(runner)
	out := filepath.Join(t.TempDir(), "significant_frame_0.png")

	require.NoError(t, client.ExtractFrameAt(context.Background(), "in.mp4", 2.5, out))
	assert.FileExists(t, out)
	assert.Equal(t, []string{"-y", "-ss", "2.5", "-i", "in.mp4", "-frames:v", "1", out}, runner.calls[0].args)
}

func TestLeadInOffset(t *testing.T) {
	assert.Equal(t, 0.17, LeadInOffset(2, 12))
	assert.Equal(t, 0.0, LeadInOffset(0, 12))
	assert.Equal(t, 0.5, LeadInOffset(15, 30))
	assert.Equal(t, 0.0, LeadInOffset(2, 0))
}

func TestFrameNumber(t *testing.T) {
	n, ok := FrameNumber("output_frame_42.png")
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	for _, name := range []string{"output_frame_.png", "frame_1.png", "output_frame_1.jpg", "significant_frame_0.png"} {
		_, ok := FrameNumber(name)
		assert.False(t, ok, name)
	}
}

func TestSampleWithFFmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH")
	}

	dir := t.TempDir()
	video := filepath.Join(dir, "testsrc.mp4")
	gen := exec.Command("ffmpeg", "-y", "-f", "lavfi", "-i", "testsrc=duration=2:size=160x120:rate=24", video)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("could not generate test video: %v\n%s", err, out)
	}

	client := NewFFmpegClient("", "", 0, nil)
	sample, err := client.Sample(context.Background(), video, 12, 2, filepath.Join(dir, "frames"))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, sample.Duration, 0.1)
	assert.NotEmpty(t, sample.FramePaths)
}
