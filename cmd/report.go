package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"framediff-server/internal/analysis"
	"framediff-server/internal/segment"
	"framediff-server/internal/stats"
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(1, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Bold(true)

	verdictStyles = map[segment.Complexity]lipgloss.Style{
		segment.ComplexityEasy:   lipgloss.NewStyle().Foreground(lipgloss.Color("#16A34A")).Bold(true),
		segment.ComplexityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("#D97706")).Bold(true),
		segment.ComplexityHard:   lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626")).Bold(true),
	}
)

type reportSegment struct {
	Start     int           `json:"start"`
	End       int           `json:"end"`
	Timestamp string        `json:"timestamp"`
	Variance  *float64      `json:"variance"`
	Label     segment.Label `json:"label"`
}

// report is the local analysis summary, safe to encode as JSON
type report struct {
	Video      string             `json:"video"`
	Duration   float64            `json:"duration"`
	Frames     int                `json:"frames"`
	Threshold  *float64           `json:"threshold"`
	Changes    []int              `json:"changes"`
	Timestamps []string           `json:"timestamps"`
	Segments   []reportSegment    `json:"segments"`
	Photo      int                `json:"photo_count"`
	Dynamic    int                `json:"video_count"`
	Verdict    segment.Complexity `json:"complexity"`
}

func newReport(video string, r *analysis.Result) report {
	rep := report{
		Video:      video,
		Duration:   r.Duration,
		Frames:     len(r.Hashes),
		Changes:    r.Detection.Changes,
		Timestamps: r.FormattedTimestamps,
		Photo:      r.Classification.PhotoCount,
		Dynamic:    r.Classification.VideoCount,
		Verdict:    r.Complexity,
	}
	if stats.Defined(r.Detection.Threshold) {
		t := r.Detection.Threshold
		rep.Threshold = &t
	}
	for i, seg := range r.Classification.Segments {
		rs := reportSegment{Start: seg.Start, End: seg.End, Label: seg.Label}
		if i < len(r.FormattedTimestamps) {
			rs.Timestamp = r.FormattedTimestamps[i]
		}
		if stats.Defined(seg.Variance) {
			v := seg.Variance
			rs.Variance = &v
		}
		rep.Segments = append(rep.Segments, rs)
	}
	return rep
}

func renderReport(rep report) string {
	var b strings.Builder

	threshold := "n/a"
	if rep.Threshold != nil {
		threshold = fmt.Sprintf("%.2f", *rep.Threshold)
	}

	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("📁 File:"), filepath.Base(rep.Video))
	fmt.Fprintf(&b, "%s %.1fs, %d frames\n", labelStyle.Render("⏱️  Duration:"), rep.Duration, rep.Frames)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("📈 Threshold:"), threshold)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("🎬 Changes:"), strings.Join(rep.Timestamps, ", "))

	for _, seg := range rep.Segments {
		variance := "n/a"
		if seg.Variance != nil {
			variance = fmt.Sprintf("%.4f", *seg.Variance)
		}
		fmt.Fprintf(&b, "   %-8s %-26s variance %s\n", seg.Timestamp, seg.Label, variance)
	}

	style, ok := verdictStyles[rep.Verdict]
	if !ok {
		style = lipgloss.NewStyle()
	}
	fmt.Fprintf(&b, "%s %s (%d static, %d video)",
		labelStyle.Render("⚖️  Complexity:"), style.Render(string(rep.Verdict)), rep.Photo, rep.Dynamic)

	return boxStyle.Render(b.String())
}
