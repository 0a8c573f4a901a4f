package radiomics

import (
	"math"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// DefaultBinWidth is the gray level bin width in HU.
const DefaultBinWidth = 25.0

// glcmDirections are the 13 unique 3-D offsets at distance 1. The opposite
// offsets are covered by counting every pair symmetrically.
var glcmDirections = [13][3]int{
	{1, 0, 0}, {0, 1, 0}, {0, 0, 1},
	{1, 1, 0}, {1, -1, 0},
	{1, 0, 1}, {1, 0, -1},
	{0, 1, 1}, {0, 1, -1},
	{1, 1, 1}, {1, 1, -1}, {1, -1, 1}, {1, -1, -1},
}

// Texture holds gray-level co-occurrence features averaged over directions.
type Texture struct {
	JointEnergy  float64 `json:"joint_energy"`
	JointEntropy float64 `json:"joint_entropy"`
	Contrast     float64 `json:"contrast"`
	Idm          float64 `json:"idm"`

	// GrayLevels is the number of bins between the region minimum and maximum.
	GrayLevels int `json:"gray_levels"`

	// Directions is how many of the 13 directions had at least one pair.
	Directions int `json:"directions"`
}

// discretize maps an intensity to its 1-based bin given the region minimum.
func discretize(x, min, binWidth float64) int {
	return int(math.Floor(x/binWidth)-math.Floor(min/binWidth)) + 1
}

// ComputeTexture builds symmetric co-occurrence matrices for the voxels of
// label within bbox and averages the features over directions. A pair is
// counted only when both voxels belong to the region. A region without any
// pair has all features 0.
func ComputeTexture(image *volume.Volume, labels *volume.LabelMap, label uint32, stat *LabelStat, binWidth float64) *Texture {
	if binWidth <= 0 {
		binWidth = DefaultBinWidth
	}
	bbox := stat.BBox
	nx := bbox[1] - bbox[0] + 1
	ny := bbox[3] - bbox[2] + 1
	nz := bbox[5] - bbox[4] + 1

	// bins holds the gray level of each bbox voxel, 0 outside the region.
	bins := make([]int, nx*ny*nz)
	g := labels.Geometry
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				off := g.Offset(bbox[0]+x, bbox[2]+y, bbox[4]+z)
				if labels.Data[off] != label {
					continue
				}
				bins[(z*ny+y)*nx+x] = discretize(float64(image.Data[off]), stat.Min, binWidth)
			}
		}
	}

	ng := discretize(stat.Max, stat.Min, binWidth)
	t := &Texture{GrayLevels: ng}
	p := make([]float64, ng*ng)

	for _, d := range glcmDirections {
		for i := range p {
			p[i] = 0
		}
		var total float64
		for z := 0; z < nz; z++ {
			z2 := z + d[2]
			if z2 < 0 || z2 >= nz {
				continue
			}
			for y := 0; y < ny; y++ {
				y2 := y + d[1]
				if y2 < 0 || y2 >= ny {
					continue
				}
				for x := 0; x < nx; x++ {
					x2 := x + d[0]
					if x2 < 0 || x2 >= nx {
						continue
					}
					a := bins[(z*ny+y)*nx+x]
					b := bins[(z2*ny+y2)*nx+x2]
					if a == 0 || b == 0 {
						continue
					}
					p[(a-1)*ng+b-1]++
					p[(b-1)*ng+a-1]++
					total += 2
				}
			}
		}
		if total == 0 {
			continue
		}

		var energy, entropy, contrast, idm float64
		for i := 0; i < ng; i++ {
			for j := 0; j < ng; j++ {
				v := p[i*ng+j] / total
				if v == 0 {
					continue
				}
				diff := float64(i - j)
				energy += v * v
				entropy -= v * math.Log2(v)
				contrast += diff * diff * v
				idm += v / (1 + diff*diff)
			}
		}
		t.JointEnergy += energy
		t.JointEntropy += entropy
		t.Contrast += contrast
		t.Idm += idm
		t.Directions++
	}

	if t.Directions > 0 {
		n := float64(t.Directions)
		t.JointEnergy /= n
		t.JointEntropy /= n
		t.Contrast /= n
		t.Idm /= n
	}
	return t
}
