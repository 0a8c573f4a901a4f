package filter

import (
	"math"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// GradientMagnitude returns |∇v| computed with central differences scaled by
// the voxel spacing. Border voxels are replicated, so the derivative across a
// border is half the one-sided difference.
//
// The watershed is run on the gradient rather than on raw HU so that region
// boundaries follow intensity edges.
func GradientMagnitude(v *volume.Volume) *volume.Volume {
	out := volume.NewVolume(v.Geometry)
	sx, sy, sz := v.Size[0], v.Size[1], v.Size[2]

	for z := 0; z < sz; z++ {
		zm, zp := clamp(z-1, 0, sz-1), clamp(z+1, 0, sz-1)
		for y := 0; y < sy; y++ {
			ym, yp := clamp(y-1, 0, sy-1), clamp(y+1, 0, sy-1)
			for x := 0; x < sx; x++ {
				xm, xp := clamp(x-1, 0, sx-1), clamp(x+1, 0, sx-1)

				gx := float64(v.At(xp, y, z)-v.At(xm, y, z)) / (2 * v.Spacing[0])
				gy := float64(v.At(x, yp, z)-v.At(x, ym, z)) / (2 * v.Spacing[1])
				gz := float64(v.At(x, y, zp)-v.At(x, y, zm)) / (2 * v.Spacing[2])

				out.Set(x, y, z, float32(math.Sqrt(gx*gx+gy*gy+gz*gz)))
			}
		}
	}
	return out
}
