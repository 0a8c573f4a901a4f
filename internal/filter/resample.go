package filter

import (
	"fmt"
	"math"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// ResampledGeometry returns the grid g takes when resampled towards spacing.
// Each axis gets round(size*pitch/spacing) voxels (at least one) and the
// spacing that exactly covers the original extent with that many voxels,
// which differs from the requested one when the division is not exact.
// The origin is kept.
//
// # Errors
//
//   - Returns error if a requested spacing is not positive
func ResampledGeometry(g volume.Geometry, spacing [3]float64) (volume.Geometry, error) {
	out := g
	for a := 0; a < 3; a++ {
		if spacing[a] <= 0 {
			return volume.Geometry{}, fmt.Errorf("resample spacing %v must be positive", spacing)
		}
		n := int(math.Round(float64(g.Size[a]) * g.Spacing[a] / spacing[a]))
		if n < 1 {
			n = 1
		}
		out.Size[a] = n
		out.Spacing[a] = g.Spacing[a] * float64(g.Size[a]) / float64(n)
	}
	return out, nil
}

// Resample returns v on the grid of ResampledGeometry using trilinear
// interpolation. Samples past the last voxel replicate the border.
func Resample(v *volume.Volume, spacing [3]float64) (*volume.Volume, error) {
	g, err := ResampledGeometry(v.Geometry, spacing)
	if err != nil {
		return nil, err
	}
	out := volume.NewVolume(g)
	xs, ys, zs := sampleAxis(v.Geometry, g, 0), sampleAxis(v.Geometry, g, 1), sampleAxis(v.Geometry, g, 2)

	i := 0
	for _, sz := range zs {
		for _, sy := range ys {
			for _, sx := range xs {
				out.Data[i] = float32(trilinear(v, sx, sy, sz))
				i++
			}
		}
	}
	return out, nil
}

// ResampleLabels returns m on the grid of ResampledGeometry, taking the
// label of the nearest voxel.
func ResampleLabels(m *volume.LabelMap, spacing [3]float64) (*volume.LabelMap, error) {
	g, err := ResampledGeometry(m.Geometry, spacing)
	if err != nil {
		return nil, err
	}
	out := volume.NewLabelMap(g)
	xs, ys, zs := sampleAxis(m.Geometry, g, 0), sampleAxis(m.Geometry, g, 1), sampleAxis(m.Geometry, g, 2)

	i := 0
	for _, sz := range zs {
		for _, sy := range ys {
			for _, sx := range xs {
				out.Data[i] = m.At(nearest(sx.lo, sx.w), nearest(sy.lo, sy.w), nearest(sz.lo, sz.w))
				i++
			}
		}
	}
	return out, nil
}

// sample is an input position between voxel lo and lo+1, w away from lo.
// hi equals lo at the last voxel.
type sample struct {
	lo, hi int
	w      float64
}

func sampleAxis(src, dst volume.Geometry, axis int) []sample {
	n := src.Size[axis]
	step := dst.Spacing[axis] / src.Spacing[axis]
	out := make([]sample, dst.Size[axis])
	for o := range out {
		c := float64(o) * step
		if c >= float64(n-1) {
			out[o] = sample{lo: n - 1, hi: n - 1}
			continue
		}
		lo := int(c)
		out[o] = sample{lo: lo, hi: lo + 1, w: c - float64(lo)}
	}
	return out
}

func nearest(lo int, w float64) int {
	if w >= 0.5 {
		return lo + 1
	}
	return lo
}

func trilinear(v *volume.Volume, sx, sy, sz sample) float64 {
	at := func(x, y, z int) float64 { return float64(v.At(x, y, z)) }
	lerp := func(a, b, w float64) float64 { return a + (b-a)*w }

	c00 := lerp(at(sx.lo, sy.lo, sz.lo), at(sx.hi, sy.lo, sz.lo), sx.w)
	c10 := lerp(at(sx.lo, sy.hi, sz.lo), at(sx.hi, sy.hi, sz.lo), sx.w)
	c01 := lerp(at(sx.lo, sy.lo, sz.hi), at(sx.hi, sy.lo, sz.hi), sx.w)
	c11 := lerp(at(sx.lo, sy.hi, sz.hi), at(sx.hi, sy.hi, sz.hi), sx.w)
	return lerp(lerp(c00, c10, sy.w), lerp(c01, c11, sy.w), sz.w)
}
