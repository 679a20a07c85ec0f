package utils

import "math"

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths, empty vectors and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, sumA, sumB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		sumA += x * x
		sumB += y * y
	}
	if sumA == 0 || sumB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(sumA) * math.Sqrt(sumB))
	// Clamp to [-1, 1] to absorb floating point drift
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}

// CosineDist is 1 - CosineSimilarity. Invalid or zero vectors are at distance 1.0.
func CosineDist(a, b []float32) float64 {
	return 1.0 - CosineSimilarity(a, b)
}
