// Package report turns experiment results into files a person can read.
//
// # Tables
//
// WriteFeatureTable, WriteLevelTable and WriteAcceptanceTable write .xlsx
// workbooks with one row per nodule mask, per explored level or per patient.
//
// # Plots
//
// WriteCoveragePNG draws the best coverage found at each level, one line per
// patient, with the coverage threshold as a dashed reference. FeatureChart
// renders an interactive HTML scatter of nodule sphericity against
// elongation.
//
// # Slices
//
// RenderSlice writes a PNG of one axial slice, rescaled to 8-bit grey,
// optionally overlaid with a label map, and stretched so that pixels are
// square in physical space. NoduleSlice picks the slice to show for a
// nodule mask.
package report
