package timestamps

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var formattedPattern = regexp.MustCompile(`^(\d+):([0-5]\d)\.(\d)$`)

// Raw maps significant-change markers to elapsed seconds, bracketed by the
// start of the video and its total duration.
func Raw(fps float64, changes []int, duration float64) []float64 {
	raw := make([]float64, 0, len(changes)+2)
	raw = append(raw, 0.0)
	for _, marker := range changes {
		raw = append(raw, float64(marker)/fps)
	}
	return append(raw, duration)
}

// Format renders seconds as "M:SS.t". Every component is truncated, never rounded.
func Format(t float64) string {
	minutes := int(math.Floor(t / 60))
	seconds := int(math.Floor(math.Mod(t, 60)))
	tenths := int(math.Floor(math.Mod(t*10, 10)))
	return fmt.Sprintf("%d:%02d.%d", minutes, seconds, tenths)
}

// FormatAll formats each timestamp with Format
func FormatAll(raw []float64) []string {
	formatted := make([]string, len(raw))
	for i, t := range raw {
		formatted[i] = Format(t)
	}
	return formatted
}

// Parse converts an "M:SS.t" string back into seconds
func Parse(s string) (float64, error) {
	matches := formattedPattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid timestamp format: %q", s)
	}

	minutes, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minutes in %q: %w", s, err)
	}
	seconds, _ := strconv.Atoi(matches[2])
	tenths, _ := strconv.Atoi(matches[3])

	totalTenths := minutes*600 + seconds*10 + tenths
	return float64(totalTenths) / 10, nil
}
