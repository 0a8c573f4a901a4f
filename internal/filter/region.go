package filter

import (
	"fmt"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// FaceNeighbors are the six face-connected neighbour offsets in 3-D.
var FaceNeighbors = [6][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

// ConnectedThreshold grows regions from seed voxels over every face-connected
// voxel whose value lies in [lower, upper].
//
// Parameters:
//   - v: Source volume (HU for CT).
//   - seeds: Starting voxels. A seed whose own value is outside the range
//     grows nothing.
//   - lower, upper: Inclusive intensity range.
//
// Returns a binary mask (1 = grown) with v's geometry.
//
// # Errors
//
//   - Returns error if a seed lies outside the volume
//   - Returns error if lower > upper
//
// The fill is iterative (explicit stack), so very large regions such as a
// lung field do not overflow the goroutine stack.
func ConnectedThreshold(v *volume.Volume, seeds []volume.Index, lower, upper float32) (*volume.LabelMap, error) {
	if lower > upper {
		return nil, fmt.Errorf("invalid threshold range [%v, %v]", lower, upper)
	}
	for _, s := range seeds {
		if !v.Contains(s.X, s.Y, s.Z) {
			return nil, fmt.Errorf("seed %v outside volume of size %v", s, v.Size)
		}
	}

	out := volume.NewLabelMap(v.Geometry)
	inRange := func(off int) bool {
		val := v.Data[off]
		return val >= lower && val <= upper
	}

	stack := make([]volume.Index, 0, 1024)
	for _, s := range seeds {
		off := v.Offset(s.X, s.Y, s.Z)
		if out.Data[off] != 0 || !inRange(off) {
			continue
		}
		out.Data[off] = 1
		stack = append(stack, s)

		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			for _, d := range FaceNeighbors {
				nx, ny, nz := p.X+d[0], p.Y+d[1], p.Z+d[2]
				if !v.Contains(nx, ny, nz) {
					continue
				}
				noff := v.Offset(nx, ny, nz)
				if out.Data[noff] != 0 || !inRange(noff) {
					continue
				}
				out.Data[noff] = 1
				stack = append(stack, volume.Index{X: nx, Y: ny, Z: nz})
			}
		}
	}
	return out, nil
}
