package radiomics

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// Shape holds the 3-D shape descriptors of one region.
type Shape struct {
	VoxelVolume        float64 `json:"voxel_volume"`
	MeshVolume         float64 `json:"mesh_volume"`
	SurfaceArea        float64 `json:"surface_area"`
	SurfaceVolumeRatio float64 `json:"surface_volume_ratio"`
	Sphericity         float64 `json:"sphericity"`

	// Eigenvalues of the voxel position covariance, ascending:
	// least, minor, major.
	Eigenvalues [3]float64 `json:"eigenvalues"`

	MajorAxisLength float64 `json:"major_axis_length"`
	MinorAxisLength float64 `json:"minor_axis_length"`
	LeastAxisLength float64 `json:"least_axis_length"`
	Elongation      float64 `json:"elongation"`
	Flatness        float64 `json:"flatness"`
}

// errEigen is returned when the covariance cannot be diagonalized.
var errEigen = errors.New("eigen decomposition failed")

// ComputeShape measures the region of label within bbox.
//
// Sphericity is (36πV²)^(1/3)/A with V and A from the boundary mesh. The
// principal moments use the population covariance of voxel centres in
// millimetres. Ratios with a zero denominator are reported as 0.
//
// # Errors
//
//   - Returns error if the eigen decomposition fails
func ComputeShape(labels *volume.LabelMap, label uint32, bbox [6]int, count int) (*Shape, error) {
	mesh := BuildMesh(labels, label, bbox)

	s := &Shape{
		VoxelVolume: float64(count) * labels.VoxelVolume(),
		MeshVolume:  mesh.Volume(),
		SurfaceArea: mesh.SurfaceArea(),
	}
	if s.SurfaceArea > 0 {
		s.Sphericity = math.Cbrt(36*math.Pi*s.MeshVolume*s.MeshVolume) / s.SurfaceArea
	}
	if s.MeshVolume > 0 {
		s.SurfaceVolumeRatio = s.SurfaceArea / s.MeshVolume
	}

	eig, err := principalMoments(labels, label, bbox, count)
	if err != nil {
		return nil, err
	}
	s.Eigenvalues = eig
	s.LeastAxisLength = 4 * math.Sqrt(eig[0])
	s.MinorAxisLength = 4 * math.Sqrt(eig[1])
	s.MajorAxisLength = 4 * math.Sqrt(eig[2])
	if eig[2] > 0 {
		s.Elongation = math.Sqrt(eig[1] / eig[2])
		s.Flatness = math.Sqrt(eig[0] / eig[2])
	}
	return s, nil
}

// principalMoments returns the ascending eigenvalues of the population
// covariance of the physical voxel positions of label.
func principalMoments(labels *volume.LabelMap, label uint32, bbox [6]int, count int) ([3]float64, error) {
	var eig [3]float64
	if count < 2 {
		return eig, nil
	}

	g := labels.Geometry
	data := make([]float64, 0, 3*count)
	for z := bbox[4]; z <= bbox[5]; z++ {
		for y := bbox[2]; y <= bbox[3]; y++ {
			for x := bbox[0]; x <= bbox[1]; x++ {
				if labels.Data[g.Offset(x, y, z)] != label {
					continue
				}
				data = append(data,
					float64(x)*g.Spacing[0],
					float64(y)*g.Spacing[1],
					float64(z)*g.Spacing[2],
				)
			}
		}
	}

	n := len(data) / 3
	if n < 2 {
		return eig, nil
	}
	positions := mat.NewDense(n, 3, data)
	cov := mat.NewSymDense(3, nil)
	stat.CovarianceMatrix(cov, positions, nil)
	cov.ScaleSym(float64(n-1)/float64(n), cov)

	var es mat.EigenSym
	if ok := es.Factorize(cov, false); !ok {
		return eig, errEigen
	}
	values := es.Values(nil)
	for i, v := range values {
		if v < 0 {
			v = 0
		}
		eig[i] = v
	}
	return eig, nil
}
