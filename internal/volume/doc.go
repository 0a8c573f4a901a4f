// Package volume provides the 3-D voxel containers and DICOM loaders used by the
// segmentation pipeline.
//
// A CT series is held as a Volume of float32 Hounsfield units; masks and
// watershed outputs are held as a LabelMap of uint32 labels. Both share a
// Geometry describing the voxel grid.
//
// # Coordinate System
//
// All voxel coordinates in this package are 0-based:
//   - X: column within a slice (0 = leftmost)
//   - Y: row within a slice (0 = topmost)
//   - Z: slice number, in ascending patient position order
//
// Voxels are stored slice by slice, row by row: the linear index of (x, y, z)
// is (z*SizeY + y)*SizeX + x.
//
// # Physical Units
//
// Spacing and Origin are expressed in millimetres. Filters that take physical
// parameters (Gaussian variance, gradient) use Spacing; structuring element
// radii are expressed in voxels.
//
// # Thread Safety
//
// Volume and LabelMap values are plain data and must be synchronized by the
// caller if shared while mutated.
package volume
