package segment

// Complexity is the overall verdict for a video
type Complexity string

const (
	ComplexityEasy   Complexity = "Easy"
	ComplexityMedium Complexity = "Medium"
	ComplexityHard   Complexity = "Hard"
)

// Rate derives the verdict from the static and dynamic segment counts
func Rate(photoCount, videoCount int) Complexity {
	switch {
	case videoCount == 0:
		return ComplexityEasy
	case videoCount > photoCount:
		return ComplexityHard
	default:
		return ComplexityMedium
	}
}
