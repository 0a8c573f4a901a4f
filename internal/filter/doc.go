// Package filter implements the 3-D voxel operators used by the lung and
// nodule segmentation: Gaussian smoothing, seeded region growing, binary
// morphology with ball structuring elements, gradient magnitude and simple
// voxel-wise arithmetic.
//
// Every filter is a pure function: inputs are never modified and a new
// volume or label map is returned.
//
// # Connectivity
//
// Region growing and the helpers in this package use face connectivity in
// 3-D (6 neighbours). FaceNeighbors lists the offsets.
//
// # Boundary Handling
//
// Convolutions and differences replicate border voxels. Binary erosion
// treats the outside of the image as foreground, so shapes touching the
// border are not eroded from outside. Binary closing pads the mask with
// background instead, dilating into the padding and cropping it afterwards.
//
// # Performance Considerations
//
// A chest CT is typically 512x512 voxels by one to three hundred slices.
// Gaussian smoothing is separable and the morphology runs on an exact
// distance transform, so cost grows linearly with the voxel count rather
// than with the structuring element size.
package filter
