package training

import (
	"math"
)

// ClipGradNorm rescales all parameter gradients in place so their global L2
// norm does not exceed maxNorm, and returns the pre-clip norm. When the norm
// is already within the limit the gradients are left untouched.
func ClipGradNorm(params []*Parameter, maxNorm float64) float64 {
	var sumSquares float64
	for _, p := range params {
		for _, g := range p.Grad.Data.([]float32) {
			sumSquares += float64(g) * float64(g)
		}
	}
	totalNorm := math.Sqrt(sumSquares)

	if maxNorm <= 0 || totalNorm <= maxNorm {
		return totalNorm
	}

	coef := float32(maxNorm / (totalNorm + 1e-6))
	for _, p := range params {
		grad := p.Grad.Data.([]float32)
		for i := range grad {
			grad[i] *= coef
		}
	}

	return totalNorm
}
