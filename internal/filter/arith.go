package filter

import (
	"fmt"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// MaskVolume keeps the intensities of v where mask is non-zero and writes
// background everywhere else.
//
// # Errors
//
//   - Returns error if v and mask have different sizes
func MaskVolume(v *volume.Volume, mask *volume.LabelMap, background float32) (*volume.Volume, error) {
	if v.Size != mask.Size {
		return nil, fmt.Errorf("mask size %v does not match volume size %v", mask.Size, v.Size)
	}
	out := volume.NewVolume(v.Geometry)
	for i, val := range v.Data {
		if mask.Data[i] != 0 {
			out.Data[i] = val
		} else {
			out.Data[i] = background
		}
	}
	return out, nil
}

// Multiply keeps the labels of labels where mask is non-zero and zero
// elsewhere. It restricts a watershed partition to the voxels of a nodule.
//
// # Errors
//
//   - Returns error if labels and mask have different sizes
func Multiply(labels, mask *volume.LabelMap) (*volume.LabelMap, error) {
	if labels.Size != mask.Size {
		return nil, fmt.Errorf("mask size %v does not match label map size %v", mask.Size, labels.Size)
	}
	out := volume.NewLabelMap(labels.Geometry)
	for i, l := range labels.Data {
		if mask.Data[i] != 0 {
			out.Data[i] = l
		}
	}
	return out, nil
}

// RescaleIntensity linearly maps the intensity range of v onto [lo, hi].
// A constant volume maps to lo.
func RescaleIntensity(v *volume.Volume, lo, hi float32) *volume.Volume {
	out := volume.NewVolume(v.Geometry)
	min, max := v.Range()
	if max == min {
		for i := range out.Data {
			out.Data[i] = lo
		}
		return out
	}
	scale := float64(hi-lo) / float64(max-min)
	for i, val := range v.Data {
		out.Data[i] = lo + float32(float64(val-min)*scale)
	}
	return out
}
