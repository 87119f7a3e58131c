package optimizer

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ClipGradNorm rescales the gradients of params so their global L2 norm does
// not exceed maxNorm, and returns the pre-clip norm. Parameters without a
// gradient contribute nothing. maxNorm <= 0 disables clipping.
func ClipGradNorm(params Parameters, maxNorm float64) float64 {
	var sq float64
	for _, p := range params {
		if g := p.Grad(); g != nil {
			sq += floats.Dot(g.Data, g.Data)
		}
	}
	total := math.Sqrt(sq)
	if maxNorm <= 0 || total <= maxNorm {
		return total
	}
	scale := maxNorm / (total + 1e-6)
	for _, p := range params {
		if g := p.Grad(); g != nil {
			floats.Scale(scale, g.Data)
		}
	}
	return total
}
