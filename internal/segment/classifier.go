package segment

import (
	"framediff-server/internal/stats"
)

// Label is the content classification of one segment
type Label string

const (
	LabelPhoto     Label = "photo"
	LabelStillShot Label = "still shot / text change"
	LabelVideo     Label = "video"
)

const variancePlaces = 4

// Static reports whether the label counts towards the photo side of the verdict
func (l Label) Static() bool {
	return l == LabelPhoto || l == LabelStillShot
}

// Segment is a run of the difference sequence between two boundaries
type Segment struct {
	Start    int     `json:"start"`
	End      int     `json:"end"`
	Variance float64 `json:"variance"`
	Label    Label   `json:"label"`
}

// Classification holds the per-segment labels and the running counts
type Classification struct {
	Segments             []Segment
	SmallChangeThreshold float64
	PhotoCount           int
	VideoCount           int
}

// Labels returns the segment labels in order
func (c *Classification) Labels() []Label {
	labels := make([]Label, len(c.Segments))
	for i, s := range c.Segments {
		labels[i] = s.Label
	}
	return labels
}

// Complexity rates the classification
func (c *Classification) Complexity() Complexity {
	return Rate(c.PhotoCount, c.VideoCount)
}

// Boundaries returns [0] + changes + [diffLen]
func Boundaries(diffLen int, changes []int) []int {
	boundaries := make([]int, 0, len(changes)+2)
	boundaries = append(boundaries, 0)
	boundaries = append(boundaries, changes...)
	return append(boundaries, diffLen)
}

// SmallChangeThreshold is the population standard deviation of every
// difference that is not itself a significant change, rounded to 4 places.
// It is NaN when every difference was significant.
func SmallChangeThreshold(diffs []float64, changes []int) float64 {
	excluded := make(map[int]struct{}, len(changes))
	for _, marker := range changes {
		excluded[marker-1] = struct{}{}
	}

	remaining := make([]float64, 0, len(diffs))
	for i, diff := range diffs {
		if _, skip := excluded[i]; !skip {
			remaining = append(remaining, diff)
		}
	}
	return stats.Round(stats.StdDev(remaining), variancePlaces)
}

// Classify labels every segment between consecutive boundaries. A segment
// covers diffs[start:end-1]; the difference at end-1 belongs to the next
// segment's change.
func Classify(diffs []float64, changes []int, photoThreshold float64) Classification {
	boundaries := Boundaries(len(diffs), changes)
	smallChange := SmallChangeThreshold(diffs, changes)

	result := Classification{
		Segments:             make([]Segment, 0, len(boundaries)-1),
		SmallChangeThreshold: smallChange,
	}

	for i := 0; i < len(boundaries)-1; i++ {
		start, end := boundaries[i], boundaries[i+1]
		variance := stats.Round(stats.Variance(window(diffs, start, end-1)), variancePlaces)

		var label Label
		if len(changes) == 0 {
			label = staticLabel(variance, photoThreshold)
		} else {
			label = dynamicLabel(variance, photoThreshold, smallChange)
		}

		if label.Static() {
			result.PhotoCount++
		} else {
			result.VideoCount++
		}
		result.Segments = append(result.Segments, Segment{
			Start:    start,
			End:      end,
			Variance: variance,
			Label:    label,
		})
	}

	return result
}

// dynamicLabel applies the photo / small change / video tie-break. An
// undefined variance or threshold never satisfies a comparison.
func dynamicLabel(variance, photoThreshold, smallChange float64) Label {
	switch {
	case !stats.Defined(variance):
		return LabelVideo
	case variance < photoThreshold:
		return LabelPhoto
	case stats.Defined(smallChange) && variance < smallChange:
		return LabelStillShot
	default:
		return LabelVideo
	}
}

// staticLabel labels the single segment of a video without any detected
// change. Without a change there is no dynamic content to report.
func staticLabel(variance, photoThreshold float64) Label {
	if !stats.Defined(variance) || variance < photoThreshold {
		return LabelPhoto
	}
	return LabelStillShot
}

// window returns diffs[lo:hi] clamped to the slice, empty when hi <= lo.
func window(diffs []float64, lo, hi int) []float64 {
	if hi > len(diffs) {
		hi = len(diffs)
	}
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return nil
	}
	return diffs[lo:hi]
}
