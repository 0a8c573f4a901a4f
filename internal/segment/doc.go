// Package segment turns a chest CT volume into a lungs-only volume and
// partitions volumes into catchment basins with a morphological watershed.
//
// # Lung Segmentation
//
// LungSegmentation smooths the CT with a Gaussian, grows the air-filled
// lung fields from one seed per lung, closes the grown mask with a ball so
// that nodules and vessels attached to the pleura are kept, and writes
// -1024 HU outside the closed mask.
//
// # Watershed
//
// MorphologicalWatershed suppresses minima shallower than the level with an
// H-minima transform, labels the remaining regional minima and floods the
// image from them. The level is the single knob explored by the level
// search: low levels oversegment, high levels merge the nodule into its
// surroundings.
//
// Rank order of flooding is value first, then insertion order, so results
// are deterministic for a given input.
package segment
