package analysis

// ProfileDimensions is the fixed length of a difference profile
const ProfileDimensions = 64

// hashBits is the bit length of a dHash, the largest possible difference
const hashBits = 64

// Profile resamples a difference sequence into ProfileDimensions bins, each
// the mean difference of its bin scaled to [0, 1]. Sequences shorter than the
// profile repeat their values across bins. An empty sequence yields zeros.
func Profile(diffs []float64) []float32 {
	profile := make([]float32, ProfileDimensions)
	n := len(diffs)
	if n == 0 {
		return profile
	}

	for bin := 0; bin < ProfileDimensions; bin++ {
		start := bin * n / ProfileDimensions
		end := (bin + 1) * n / ProfileDimensions
		if end <= start {
			end = start + 1
		}

		sum := 0.0
		for _, d := range diffs[start:end] {
			sum += d
		}
		profile[bin] = float32(sum / float64(end-start) / hashBits)
	}
	return profile
}
