package embed

import "math"

// NormalizeVector scales v to unit L2 norm.
// Returns a new vector. A zero vector is returned unchanged, as a copy.
func NormalizeVector(v []float32) []float32 {
	result := make([]float32, len(v))
	if len(v) == 0 {
		return result
	}

	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sum)

	if magnitude == 0 {
		copy(result, v)
		return result
	}

	for i, val := range v {
		result[i] = float32(float64(val) / magnitude)
	}
	return result
}
