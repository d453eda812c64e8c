// Package hashseq turns ordered frame images into an ordered sequence of
// perceptual difference hashes.
package hashseq

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"

	"github.com/corona10/goimagehash"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// Sequencer hashes frames with a fixed algorithm (dHash, 64 bits)
type Sequencer struct {
	workers  int
	progress func()
	logger   *slog.Logger
}

// Option configures a Sequencer
type Option func(*Sequencer)

// WithWorkers bounds the number of frames decoded and hashed concurrently
func WithWorkers(n int) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithProgress registers a callback invoked once per hashed frame. It is
// called from worker goroutines and must be safe for concurrent use.
func WithProgress(fn func()) Option {
	return func(s *Sequencer) {
		s.progress = fn
	}
}

// New creates a new sequencer
func New(logger *slog.Logger, opts ...Option) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sequencer{
		workers: defaultWorkers,
		logger:  logger.With("component", "hashseq"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sequence hashes every frame and returns the hashes in frame order. An
// empty input yields an empty sequence.
func (s *Sequencer) Sequence(ctx context.Context, framePaths []string) ([]*goimagehash.ImageHash, error) {
	hashes := make([]*goimagehash.ImageHash, len(framePaths))
	if len(framePaths) == 0 {
		return hashes, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, path := range framePaths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			hash, err := HashFile(path)
			if err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
			hashes[i] = hash
			if s.progress != nil {
				s.progress()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug("hashed frames", "frames", len(hashes), "workers", s.workers)
	return hashes, nil
}

// HashFile decodes an image file and hashes it
func HashFile(path string) (*goimagehash.ImageHash, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %w", path, err)
	}

	return HashImage(img)
}

// HashImage computes the difference hash of an image
func HashImage(img image.Image) (*goimagehash.ImageHash, error) {
	hash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate perceptual hash: %w", err)
	}
	return hash, nil
}

// Encode flattens hashes to their raw 64-bit values
func Encode(hashes []*goimagehash.ImageHash) []uint64 {
	raw := make([]uint64, len(hashes))
	for i, h := range hashes {
		raw[i] = h.GetHash()
	}
	return raw
}

// Decode rebuilds dHash values from raw 64-bit values
func Decode(raw []uint64) []*goimagehash.ImageHash {
	hashes := make([]*goimagehash.ImageHash, len(raw))
	for i, v := range raw {
		hashes[i] = goimagehash.NewImageHash(v, goimagehash.DHash)
	}
	return hashes
}
