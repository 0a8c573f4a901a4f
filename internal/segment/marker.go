package segment

import (
	"github.com/ironsheep/nodule-watershed/internal/filter"
	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// NoduleMarker shrinks a nodule mask into a marker for a marker-driven
// watershed: the mask is eroded by erode voxels, then the core is dilated
// by dilate voxels. Small nodules that vanish under erosion give an empty
// marker.
func NoduleMarker(nodule *volume.LabelMap, erode, dilate int) *volume.LabelMap {
	return filter.BinaryDilate(filter.BinaryErode(nodule, erode), dilate)
}
