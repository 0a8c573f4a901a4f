package filter

import (
	"math"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// farAway stands in for an infinite squared distance. It is finite so the
// parabola intersections of the distance transform stay well defined.
const farAway = 1e18

// BinaryDilate dilates the non-zero voxels of mask by a ball of the given
// radius (in voxels). A voxel is set when its Euclidean distance, in voxel
// units, to the nearest foreground voxel is at most radius.
//
// Returns a binary mask (0/1). A non-positive radius only binarizes.
func BinaryDilate(mask *volume.LabelMap, radius int) *volume.LabelMap {
	out := volume.NewLabelMap(mask.Geometry)
	if radius <= 0 {
		binarize(mask, out)
		return out
	}

	d2 := squaredDistance(mask, func(l uint32) bool { return l != 0 })
	r2 := float64(radius * radius)
	for i, d := range d2 {
		if d <= r2 {
			out.Data[i] = 1
		}
	}
	return out
}

// BinaryErode erodes the non-zero voxels of mask by a ball of the given
// radius (in voxels). A foreground voxel survives when every background
// voxel is farther than radius. The outside of the image counts as
// foreground.
//
// Returns a binary mask (0/1). A non-positive radius only binarizes.
func BinaryErode(mask *volume.LabelMap, radius int) *volume.LabelMap {
	out := volume.NewLabelMap(mask.Geometry)
	if radius <= 0 {
		binarize(mask, out)
		return out
	}

	d2 := squaredDistance(mask, func(l uint32) bool { return l == 0 })
	r2 := float64(radius * radius)
	for i, d := range d2 {
		if mask.Data[i] != 0 && d > r2 {
			out.Data[i] = 1
		}
	}
	return out
}

// BinaryClosing dilates then erodes mask with a ball of the given radius,
// joining foreground pieces separated by gaps narrower than the ball.
//
// The mask is padded by radius background voxels before closing and cropped
// back afterwards, so the dilation may spill past the image border and be
// eroded back there. Closing never removes voxels of the input and never
// grows a shape towards the border.
func BinaryClosing(mask *volume.LabelMap, radius int) *volume.LabelMap {
	if radius <= 0 {
		out := volume.NewLabelMap(mask.Geometry)
		binarize(mask, out)
		return out
	}
	padded := padLabels(mask, radius)
	return cropLabels(BinaryErode(BinaryDilate(padded, radius), radius), mask.Geometry, radius)
}

// padLabels returns mask surrounded by n background voxels on every side.
func padLabels(mask *volume.LabelMap, n int) *volume.LabelMap {
	g := mask.Geometry
	pg := g
	for a := 0; a < 3; a++ {
		pg.Size[a] = g.Size[a] + 2*n
		pg.Origin[a] = g.Origin[a] - float64(n)*g.Spacing[a]
	}
	out := volume.NewLabelMap(pg)
	for z := 0; z < g.Size[2]; z++ {
		for y := 0; y < g.Size[1]; y++ {
			src := g.Offset(0, y, z)
			copy(out.Data[pg.Offset(n, y+n, z+n):], mask.Data[src:src+g.Size[0]])
		}
	}
	return out
}

// cropLabels undoes padLabels, returning the g-sized interior of padded.
func cropLabels(padded *volume.LabelMap, g volume.Geometry, n int) *volume.LabelMap {
	pg := padded.Geometry
	out := volume.NewLabelMap(g)
	for z := 0; z < g.Size[2]; z++ {
		for y := 0; y < g.Size[1]; y++ {
			src := pg.Offset(n, y+n, z+n)
			copy(out.Data[g.Offset(0, y, z):], padded.Data[src:src+g.Size[0]])
		}
	}
	return out
}

func binarize(src, dst *volume.LabelMap) {
	for i, l := range src.Data {
		if l != 0 {
			dst.Data[i] = 1
		}
	}
}

// squaredDistance computes, for every voxel, the squared Euclidean distance
// in voxel units to the nearest voxel for which feature returns true. Voxels
// with no feature voxel anywhere get farAway.
//
// The transform is exact and separable: a 1-D lower envelope of parabolas is
// computed along X, then Y, then Z.
func squaredDistance(mask *volume.LabelMap, feature func(uint32) bool) []float64 {
	g := mask.Geometry
	f := make([]float64, len(mask.Data))
	for i, l := range mask.Data {
		if feature(l) {
			f[i] = 0
		} else {
			f[i] = farAway
		}
	}

	maxN := g.Size[0]
	if g.Size[1] > maxN {
		maxN = g.Size[1]
	}
	if g.Size[2] > maxN {
		maxN = g.Size[2]
	}
	line := make([]float64, maxN)
	res := make([]float64, maxN)
	v := make([]int, maxN)
	z := make([]float64, maxN+1)

	strides := [3]int{1, g.Size[0], g.Size[0] * g.Size[1]}
	for axis := 0; axis < 3; axis++ {
		n := g.Size[axis]
		stride := strides[axis]
		// Iterate over every line parallel to axis by visiting each voxel
		// whose coordinate along axis is zero.
		for zz := 0; zz < g.Size[2]; zz++ {
			if axis == 2 && zz > 0 {
				break
			}
			for yy := 0; yy < g.Size[1]; yy++ {
				if axis == 1 && yy > 0 {
					break
				}
				for xx := 0; xx < g.Size[0]; xx++ {
					if axis == 0 && xx > 0 {
						break
					}
					start := g.Offset(xx, yy, zz)
					hasFeature := false
					for i := 0; i < n; i++ {
						line[i] = f[start+i*stride]
						if line[i] < farAway {
							hasFeature = true
						}
					}
					if !hasFeature {
						continue
					}
					distanceTransform1D(line[:n], res[:n], v, z)
					for i := 0; i < n; i++ {
						f[start+i*stride] = res[i]
					}
				}
			}
		}
	}
	return f
}

// distanceTransform1D computes the squared distance transform of the sampled
// function f into d (Felzenszwalb & Huttenlocher lower envelope). v and z are
// scratch buffers of length >= len(f) and len(f)+1.
func distanceTransform1D(f, d []float64, v []int, z []float64) {
	n := len(f)
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)

	for q := 1; q < n; q++ {
		s := intersection(f, q, v[k])
		for s <= z[k] {
			k--
			s = intersection(f, q, v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}

	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + f[v[k]]
	}
}

// intersection returns the abscissa where the parabolas rooted at q and p meet.
func intersection(f []float64, q, p int) float64 {
	fq := f[q] + float64(q*q)
	fp := f[p] + float64(p*p)
	return (fq - fp) / float64(2*q-2*p)
}
