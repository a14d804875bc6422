// Package vecmath holds the float32 vector arithmetic shared by the query
// engine, the cross-reference builder and the embedders.
package vecmath

import "math"

// Magnitude returns the Euclidean norm of v.
func Magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Dot returns the dot product of equal-length vectors.
func Dot(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Cosine returns the cosine similarity of a and b. Vectors of different
// length, empty vectors and zero vectors have similarity 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return CosineWithMagnitudes(a, b, Magnitude(a), Magnitude(b))
}

// CosineWithMagnitudes is Cosine with precomputed norms, for loops that
// compare one vector against many.
func CosineWithMagnitudes(a, b []float32, magA, magB float64) float64 {
	if len(a) != len(b) || magA == 0 || magB == 0 {
		return 0
	}
	sim := Dot(a, b) / (magA * magB)
	// rounding can push identical vectors a hair past 1
	switch {
	case sim > 1:
		return 1
	case sim < -1:
		return -1
	}
	return sim
}

// Normalize returns v scaled to unit length. A zero vector is returned as is.
func Normalize(v []float32) []float32 {
	mag := Magnitude(v)
	if mag == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}

// Round rounds x to the given number of decimal places.
func Round(x float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(x*p) / p
}
