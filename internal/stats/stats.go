package stats

import "math"

// Mean returns the arithmetic mean of values, or NaN for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance returns the population variance of values, or NaN for an empty slice.
func Variance(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}

	mean := Mean(values)
	sumSquares := 0.0
	for _, v := range values {
		d := v - mean
		sumSquares += d * d
	}
	return sumSquares / float64(len(values))
}

// StdDev returns the population standard deviation of values, or NaN for an empty slice.
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// Round rounds v to the given number of decimal places. NaN and infinities pass through.
func Round(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// Defined reports whether v is a usable statistic (not NaN).
func Defined(v float64) bool {
	return !math.IsNaN(v)
}
