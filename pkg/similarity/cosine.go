// Package similarity compares traffic vectors by cosine similarity using
// only basic arithmetic, so results are reproducible on devices without a
// floating point square root.
package similarity

// VectorSize is the number of samples in a traffic vector.
const VectorSize = 10

// Vector holds the most recent message lengths of one sender.
type Vector [VectorSize]uint32

// Uniform returns a vector with every sample set to v.
func Uniform(v uint32) Vector {
	var out Vector
	for i := range out {
		out[i] = v
	}
	return out
}

const (
	newtonIterations = 5
	epsilon          = 1e-6
	maxFinite        = 1.7976931348623157e308
)

// Sqrt approximates the square root of x with five Newton-Raphson steps
// seeded at x/2. x is first brought into [0.25, 1) by exact powers of four
// so the fixed iteration count converges for any magnitude. Non-positive
// input yields 0.
func Sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x > maxFinite {
		return x
	}

	scale := 1.0
	for x >= 1 {
		x *= 0.25
		scale *= 2
	}
	for x < 0.25 {
		x *= 4
		scale *= 0.5
	}

	guess := x / 2
	for i := 0; i < newtonIterations; i++ {
		guess = (guess + x/guess) / 2
	}
	return guess * scale
}

// Cosine returns the cosine similarity of a and b, in [0,1] for
// non-negative samples. A zero (or near-zero) norm product yields 0.
func Cosine(a, b Vector) float64 {
	var dot, normA, normB float64
	for i := 0; i < VectorSize; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	product := Sqrt(normA) * Sqrt(normB)
	if product < epsilon {
		return 0
	}
	return dot / product
}
