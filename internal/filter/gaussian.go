package filter

import (
	"math"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// MaxKernelRadius caps the Gaussian kernel half-width, in voxels, per axis.
const MaxKernelRadius = 16

// DiscreteGaussian smooths a volume with a separable Gaussian kernel.
//
// Parameters:
//   - v: Source volume.
//   - variance: Gaussian variance in physical units (mm²). The standard
//     deviation along each axis, in voxels, is sqrt(variance)/spacing.
//
// The kernel along each axis is the sampled Gaussian of radius ceil(3σ),
// capped at MaxKernelRadius, normalized to sum 1. Border voxels are
// replicated. A non-positive variance returns a copy of v.
func DiscreteGaussian(v *volume.Volume, variance float64) *volume.Volume {
	if variance <= 0 {
		return v.Clone()
	}

	out := v.Clone()
	for axis := 0; axis < 3; axis++ {
		sigma := math.Sqrt(variance) / v.Spacing[axis]
		kernel := gaussianKernel(sigma)
		if len(kernel) == 1 || v.Size[axis] == 1 {
			continue
		}
		out.Data = convolveAxis(out.Data, v.Geometry, axis, kernel)
	}
	return out
}

// gaussianKernel returns the normalized sampled Gaussian for sigma voxels.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius > MaxKernelRadius {
		radius = MaxKernelRadius
	}
	if radius < 1 {
		return []float64{1}
	}

	kernel := make([]float64, 2*radius+1)
	var sum float64
	for k := -radius; k <= radius; k++ {
		w := math.Exp(-float64(k*k) / (2 * sigma * sigma))
		kernel[k+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// convolveAxis convolves src with a symmetric kernel along one axis.
// Border voxels use clamped (replicated) edge values.
func convolveAxis(src []float32, g volume.Geometry, axis int, kernel []float64) []float32 {
	dst := make([]float32, len(src))
	radius := len(kernel) / 2
	n := g.Size[axis]
	stride := [3]int{1, g.Size[0], g.Size[0] * g.Size[1]}[axis]

	for z := 0; z < g.Size[2]; z++ {
		for y := 0; y < g.Size[1]; y++ {
			for x := 0; x < g.Size[0]; x++ {
				pos := [3]int{x, y, z}[axis]
				off := g.Offset(x, y, z)
				var sum float64
				for k := -radius; k <= radius; k++ {
					p := clamp(pos+k, 0, n-1)
					sum += float64(src[off+(p-pos)*stride]) * kernel[k+radius]
				}
				dst[off] = float32(sum)
			}
		}
	}
	return dst
}

// clamp constrains an integer value to the range [min, max].
// Used for boundary handling in convolution operations.
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
