package utils

import "math"

// normEpsilon is added to every L2 norm before dividing so that a zero vector
// normalizes to itself instead of producing NaNs.
const normEpsilon = 1e-10

// NormalizeL2 returns a copy of x scaled to unit L2 norm. The norm is padded
// with a small epsilon, so zero vectors come back unchanged (all zeros).
func NormalizeL2(x []float32) []float32 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum) + normEpsilon
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
