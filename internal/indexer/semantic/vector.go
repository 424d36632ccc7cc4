// Package semantic maintains random-indexing context vectors: every
// document gets a sparse random index vector, and every term accumulates the
// index vectors of the documents it occurs in.
package semantic

import (
	"math"
	"math/rand/v2"
)

const (
	// Dimension is the length of index and context vectors.
	Dimension = 200
	// Seeds is how many +1 and how many -1 positions an index vector gets.
	Seeds = 3
)

// Vector is a dense float vector of length Dimension.
type Vector []float64

// NewIndexVector draws a sparse ternary vector: Seeds positions are set to
// +1, then Seeds positions to -1, with replacement, so a later draw can
// overwrite an earlier one.
func NewIndexVector(rng *rand.Rand) Vector {
	v := make(Vector, Dimension)
	for i := 0; i < Seeds; i++ {
		v[rng.IntN(Dimension)] = 1
	}
	for i := 0; i < Seeds; i++ {
		v[rng.IntN(Dimension)] = -1
	}
	return v
}

// Add adds o into v element-wise.
func (v Vector) Add(o Vector) {
	for i := range v {
		v[i] += o[i]
	}
}

// Norm returns the Euclidean norm.
func (v Vector) Norm() float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Normalize scales v to unit length. A zero vector is left as is.
func (v Vector) Normalize() {
	n := v.Norm()
	if n == 0 {
		return
	}
	for i := range v {
		v[i] /= n
	}
}

// Dot returns the inner product; vectors of different length score 0.
func Dot(a, b Vector) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

// Clone returns a copy of v.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Accumulate adds indexVector into the context vector of every distinct term
// in terms, in first-occurrence order, renormalizing after each addition.
// Missing context vectors start at zero.
func Accumulate(vectors map[string]Vector, terms []string, indexVector Vector) {
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		cv, ok := vectors[term]
		if !ok {
			cv = make(Vector, Dimension)
			vectors[term] = cv
		}
		cv.Add(indexVector)
		cv.Normalize()
	}
}
