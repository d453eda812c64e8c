package scenedetect

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/corona10/goimagehash"

	"framediff-server/internal/stats"
)

// ThresholdSigmas is the number of standard deviations above the mean a
// difference must exceed to count as a scene change.
const ThresholdSigmas = 2.5

// Detection is the outcome of change detection over one hash sequence
type Detection struct {
	// Changes holds significant-change markers in hash index space:
	// marker i+1 means the boundary between hash i and hash i+1.
	Changes     []int
	Differences []float64
	// Threshold is NaN when the differences were too few to derive one.
	Threshold float64
	// Analyzable is false when the hash sequence was empty.
	Analyzable bool
}

// HasChanges reports whether any significant change survived detection
func (d *Detection) HasChanges() bool {
	return len(d.Changes) > 0
}

// Detector finds significant scene changes in perceptual hash sequences
type Detector struct {
	minThreshold float64
	logger       *slog.Logger
}

// NewDetector creates a detector that never reports changes for a dynamic
// threshold below minThreshold.
func NewDetector(minThreshold float64, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		minThreshold: minThreshold,
		logger:       logger.With("component", "scenedetect"),
	}
}

// MinThreshold returns the sensitivity floor of the detector
func (d *Detector) MinThreshold() float64 {
	return d.minThreshold
}

// Detect runs change detection over a hash sequence, including the single
// refinement pass that drops the tail from the last detected change onward.
func (d *Detector) Detect(hashes []*goimagehash.ImageHash) (*Detection, error) {
	if len(hashes) == 0 {
		return &Detection{Threshold: d.minThreshold}, nil
	}

	diffs, err := Differences(hashes)
	if err != nil {
		return nil, err
	}

	return d.DetectDifferences(diffs), nil
}

// DetectDifferences runs change detection over an already computed
// difference sequence. Truncating the hashes to hashes[:last] is the same as
// truncating the differences to diffs[:last-1], so the refinement pass works
// on differences directly.
func (d *Detector) DetectDifferences(diffs []float64) *Detection {
	changes, threshold := Transitions(diffs, d.minThreshold)

	if len(changes) > 0 {
		last := changes[len(changes)-1]
		d.logger.Debug("refining detection",
			"first_pass_changes", len(changes),
			"first_pass_threshold", threshold,
			"truncate_at", last,
		)
		diffs = diffs[:last-1]
		changes, threshold = Transitions(diffs, d.minThreshold)
	}

	d.logger.Debug("detected scene changes",
		"changes", len(changes),
		"differences", len(diffs),
		"threshold", threshold,
	)

	return &Detection{
		Changes:     changes,
		Differences: diffs,
		Threshold:   threshold,
		Analyzable:  true,
	}
}

// Differences returns the Hamming distance between each pair of adjacent
// hashes. Fewer than two hashes yield an empty sequence.
func Differences(hashes []*goimagehash.ImageHash) ([]float64, error) {
	if len(hashes) < 2 {
		return []float64{}, nil
	}

	diffs := make([]float64, 0, len(hashes)-1)
	for i := 1; i < len(hashes); i++ {
		dist, err := hashes[i].Distance(hashes[i-1])
		if err != nil {
			return nil, fmt.Errorf("failed to compare hash %d with hash %d: %w", i, i-1, err)
		}
		diffs = append(diffs, float64(dist))
	}
	return diffs, nil
}

// DynamicThreshold returns mean + 2.5 population standard deviations of
// diffs, or NaN when diffs is empty.
func DynamicThreshold(diffs []float64) float64 {
	return stats.Mean(diffs) + ThresholdSigmas*stats.StdDev(diffs)
}

// Transitions returns the markers (difference index + 1) of every difference
// above the dynamic threshold, together with that threshold. No markers are
// returned when the threshold is undefined or below minThreshold.
func Transitions(diffs []float64, minThreshold float64) ([]int, float64) {
	threshold := DynamicThreshold(diffs)
	if math.IsNaN(threshold) || threshold < minThreshold {
		return nil, threshold
	}

	var changes []int
	for i, diff := range diffs {
		if diff > threshold {
			changes = append(changes, i+1)
		}
	}
	return changes, threshold
}
