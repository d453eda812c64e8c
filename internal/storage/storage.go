// Package storage lays out uploaded videos, sampled frames and published
// analysis results on the local filesystem.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	// SnapshotName is the analysis record written next to published frames
	SnapshotName = "analysis.json"
	// FramePrefix prefixes published signature frames
	FramePrefix = "significant_frame_"
)

var (
	// ErrNotFound is returned for result files that do not exist or whose
	// name escapes the results directory
	ErrNotFound = errors.New("result file not found")
	// ErrInvalidExtension is returned for uploads with a disallowed extension
	ErrInvalidExtension = errors.New("file type not allowed")
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Store owns the upload and results directories
type Store struct {
	uploadDir  string
	resultsDir string
	allowed    map[string]bool
}

// New creates both directories if needed
func New(uploadDir, resultsDir string, allowedExtensions []string) (*Store, error) {
	for _, dir := range []string{uploadDir, resultsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	}

	allowed := make(map[string]bool, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	return &Store{uploadDir: uploadDir, resultsDir: resultsDir, allowed: allowed}, nil
}

// NewVideoID returns a fresh public video id
func NewVideoID() string {
	return uuid.NewString()
}

// AllowedFile reports whether the filename has an accepted extension
func (s *Store) AllowedFile(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return ext != "" && s.allowed[ext]
}

// SecureFilename reduces a client supplied name to a safe base name
func SecureFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "._")
	if name == "" {
		return "video"
	}
	return name
}

// SaveUpload writes an uploaded video and returns its path on disk
func (s *Store) SaveUpload(videoID, filename string, r io.Reader) (string, error) {
	if !s.AllowedFile(filename) {
		return "", fmt.Errorf("%w: %s", ErrInvalidExtension, filename)
	}

	dst := filepath.Join(s.uploadDir, videoID+"_"+SecureFilename(filename))
	if err := writeFile(dst, r); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return dst, nil
}

// FramesDir is where the sampled frames of a video are kept
func (s *Store) FramesDir(videoID string) string {
	return filepath.Join(s.uploadDir, "frames", videoID)
}

// ResultDir creates and returns the results directory of a video
func (s *Store) ResultDir(videoID string) (string, error) {
	dir := filepath.Join(s.resultsDir, videoID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create result directory: %w", err)
	}
	return dir, nil
}

// FrameName is the published name of the k-th signature frame
func FrameName(k int) string {
	return fmt.Sprintf("%s%d.png", FramePrefix, k)
}

// FrameURL is the public URL of a published result file
func FrameURL(videoID, name string) string {
	return "/results/" + videoID + "/" + name
}

// PublishFile copies src into the results directory of a video and returns
// its public URL
func (s *Store) PublishFile(videoID, src, name string) (string, error) {
	dir, err := s.ResultDir(videoID)
	if err != nil {
		return "", err
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open '%s': %w", src, err)
	}
	defer in.Close()

	if err := writeFile(filepath.Join(dir, name), in); err != nil {
		return "", fmt.Errorf("failed to publish '%s': %w", name, err)
	}
	return FrameURL(videoID, name), nil
}

// PublishedPath returns where a result file of a video lives, without
// checking that it exists
func (s *Store) PublishedPath(videoID, name string) (string, error) {
	if !safeComponent(videoID) || !safeComponent(name) {
		return "", ErrNotFound
	}
	return filepath.Join(s.resultsDir, videoID, name), nil
}

// ResultPath resolves an existing result file. Names that would escape the
// results directory are reported as not found.
func (s *Store) ResultPath(videoID, name string) (string, error) {
	p, err := s.PublishedPath(videoID, name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return p, nil
}

// RemoveResult deletes a published file; missing files are ignored
func (s *Store) RemoveResult(videoID, name string) error {
	p, err := s.PublishedPath(videoID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove '%s': %w", name, err)
	}
	return nil
}

// PublishedFrames lists the signature frame files of a video by name
func (s *Store) PublishedFrames(videoID string) ([]string, error) {
	if !safeComponent(videoID) {
		return nil, ErrNotFound
	}
	entries, err := os.ReadDir(filepath.Join(s.resultsDir, videoID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), FramePrefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// WriteSnapshot stores v as the analysis.json of a video
func (s *Store) WriteSnapshot(videoID string, v interface{}) error {
	dir, err := s.ResultDir(videoID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, SnapshotName), data, 0644)
}

// ReadSnapshot loads the analysis.json of a video into v
func (s *Store) ReadSnapshot(videoID string, v interface{}) error {
	p, err := s.ResultPath(videoID, SnapshotName)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return nil
}

func safeComponent(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

func writeFile(dst string, r io.Reader) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
