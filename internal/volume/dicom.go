package volume

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrNoSlices is returned when a directory holds no usable image slices.
var ErrNoSlices = errors.New("no image slices found")

// SeriesInfo summarizes how a series directory was read.
type SeriesInfo struct {
	// Dir is the series directory.
	Dir string `json:"dir"`

	// Files is the number of files parsed as DICOM.
	Files int `json:"files"`

	// Slices is the number of slices stacked into the volume.
	Slices int `json:"slices"`

	// Skipped counts files without pixel data or slice position (scout views,
	// reports, structured documents).
	Skipped int `json:"skipped"`

	// PatientID and SeriesUID are copied from the first slice when present.
	PatientID string `json:"patient_id,omitempty"`
	SeriesUID string `json:"series_uid,omitempty"`
}

// rawSlice is the subset of a DICOM header and pixel payload needed to stack
// a series into a volume.
type rawSlice struct {
	path string

	rows, cols int

	// pixelSpacing is (row spacing, column spacing) in mm.
	pixelSpacing [2]float64
	hasSpacing   bool
	thickness    float64

	position    [3]float64
	hasPosition bool
	location    float64
	hasLocation bool
	instance    int

	slope, intercept float64

	patientID string
	seriesUID string

	// frames holds the stored values of each frame, rows*cols each.
	frames [][]int32
}

// ReadSeries reads a CT series directory into a Volume of Hounsfield units.
//
// Every non-hidden regular file is parsed as DICOM. Files that carry no pixel
// data, or no slice position at all, are skipped and counted in
// SeriesInfo.Skipped.
//
// # Slice Order
//
// Slices are sorted by the z component of ImagePositionPatient. If any slice
// lacks it, SliceLocation is used, and InstanceNumber as a last resort.
//
// # Intensities
//
// Stored values are converted with value*RescaleSlope + RescaleIntercept
// (defaults 1 and 0). Signed pixel representations are sign-extended from the
// allocated bit depth.
//
// # Errors
//
//   - Returns error if the directory cannot be listed or a file cannot be parsed
//   - Returns ErrNoSlices if no file carries a usable slice
//   - Returns error if slices disagree on rows/columns or carry compressed pixel data
func ReadSeries(dir string) (*Volume, *SeriesInfo, error) {
	files, err := listFiles(dir)
	if err != nil {
		return nil, nil, err
	}

	info := &SeriesInfo{Dir: dir}
	slices := make([]*rawSlice, 0, len(files))
	for _, path := range files {
		s, err := readSlice(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		info.Files++
		if s == nil || (!s.hasPosition && !s.hasLocation) {
			info.Skipped++
			continue
		}
		slices = append(slices, s)
	}

	vol, err := assembleVolume(slices)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to assemble series %s: %w", dir, err)
	}

	info.Slices = len(slices)
	info.PatientID = slices[0].patientID
	info.SeriesUID = slices[0].seriesUID
	return vol, info, nil
}

// ReadMask reads a precomputed segmentation stored as DICOM in dir and returns
// it as a binary mask with ref's geometry.
//
// The directory may hold one multi-frame object or one file per slice. Frames
// are stacked in slice order (see ReadSeries); every non-zero stored value
// becomes 1.
//
// # Errors
//
//   - Returns error if the directory cannot be read or a file cannot be parsed
//   - Returns ErrNoSlices if no file carries pixel data
//   - Returns error if the stacked frames do not match ref's size
func ReadMask(dir string, ref Geometry) (*LabelMap, error) {
	files, err := listFiles(dir)
	if err != nil {
		return nil, err
	}

	slices := make([]*rawSlice, 0, len(files))
	for _, path := range files {
		s, err := readSlice(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if s != nil {
			slices = append(slices, s)
		}
	}
	return assembleMask(slices, ref)
}

// listFiles returns the non-hidden regular files of dir in name order.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// readSlice parses one DICOM file. It returns (nil, nil) when the file holds
// no pixel data.
func readSlice(path string) (*rawSlice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DICOM: %w", err)
	}

	pixelElem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, nil
	}
	pixelInfo, ok := pixelElem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected pixel data value")
	}
	if pixelInfo.IsEncapsulated {
		return nil, fmt.Errorf("compressed pixel data is not supported")
	}

	s := &rawSlice{path: path, slope: 1}
	signed := firstInt(&ds, tag.PixelRepresentation, 0) == 1
	bitsAllocated := firstInt(&ds, tag.BitsAllocated, 16)

	for _, fr := range pixelInfo.Frames {
		native, err := fr.GetNativeFrame()
		if err != nil {
			return nil, fmt.Errorf("failed to read native frame: %w", err)
		}
		if s.rows == 0 {
			s.rows, s.cols = native.Rows, native.Cols
		} else if native.Rows != s.rows || native.Cols != s.cols {
			return nil, fmt.Errorf("frame size %dx%d differs from %dx%d", native.Cols, native.Rows, s.cols, s.rows)
		}
		values := make([]int32, native.Rows*native.Cols)
		for i := range values {
			v := native.Data[i][0]
			if signed {
				v = toSigned(v, bitsAllocated)
			}
			values[i] = int32(v)
		}
		s.frames = append(s.frames, values)
	}
	if len(s.frames) == 0 {
		return nil, nil
	}

	if ps := floatValues(&ds, tag.PixelSpacing); len(ps) >= 2 {
		s.pixelSpacing = [2]float64{ps[0], ps[1]}
		s.hasSpacing = true
	}
	if th := floatValues(&ds, tag.SliceThickness); len(th) > 0 {
		s.thickness = th[0]
	}
	if pos := floatValues(&ds, tag.ImagePositionPatient); len(pos) >= 3 {
		s.position = [3]float64{pos[0], pos[1], pos[2]}
		s.hasPosition = true
	}
	if loc := floatValues(&ds, tag.SliceLocation); len(loc) > 0 {
		s.location = loc[0]
		s.hasLocation = true
	}
	if in := floatValues(&ds, tag.InstanceNumber); len(in) > 0 {
		s.instance = int(in[0])
	}
	if sl := floatValues(&ds, tag.RescaleSlope); len(sl) > 0 && sl[0] != 0 {
		s.slope = sl[0]
	}
	if ic := floatValues(&ds, tag.RescaleIntercept); len(ic) > 0 {
		s.intercept = ic[0]
	}
	if v := stringValues(&ds, tag.PatientID); len(v) > 0 {
		s.patientID = strings.TrimSpace(v[0])
	}
	if v := stringValues(&ds, tag.SeriesInstanceUID); len(v) > 0 {
		s.seriesUID = strings.TrimSpace(v[0])
	}
	return s, nil
}

// toSigned reinterprets an unsigned stored value as two's complement of the
// given container width. Values that are already negative pass through.
func toSigned(v, bits int) int {
	if bits <= 0 || bits > 32 {
		return v
	}
	half := 1 << (bits - 1)
	if v >= half {
		return v - (half << 1)
	}
	return v
}

// sortSlices orders slices by ImagePositionPatient z when every slice has it,
// else by SliceLocation, else by InstanceNumber, else by file name.
func sortSlices(slices []*rawSlice) {
	allPos, allLoc, allInst := true, true, true
	for _, s := range slices {
		allPos = allPos && s.hasPosition
		allLoc = allLoc && s.hasLocation
		allInst = allInst && s.instance != 0
	}

	var less func(a, b *rawSlice) bool
	switch {
	case allPos:
		less = func(a, b *rawSlice) bool { return a.position[2] < b.position[2] }
	case allLoc:
		less = func(a, b *rawSlice) bool { return a.location < b.location }
	case allInst:
		less = func(a, b *rawSlice) bool { return a.instance < b.instance }
	default:
		less = func(a, b *rawSlice) bool { return a.path < b.path }
	}
	sort.SliceStable(slices, func(i, j int) bool { return less(slices[i], slices[j]) })
}

// assembleVolume stacks single-frame slices into a HU volume.
func assembleVolume(slices []*rawSlice) (*Volume, error) {
	if len(slices) == 0 {
		return nil, ErrNoSlices
	}
	sortSlices(slices)

	first := slices[0]
	for _, s := range slices {
		if s.rows != first.rows || s.cols != first.cols {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d", s.path, s.cols, s.rows, first.cols, first.rows)
		}
		if len(s.frames) != 1 {
			return nil, fmt.Errorf("slice %s has %d frames, expected 1", s.path, len(s.frames))
		}
	}

	g := Geometry{
		Size:    [3]int{first.cols, first.rows, len(slices)},
		Spacing: [3]float64{1, 1, sliceSpacing(slices)},
		Origin:  first.position,
	}
	if first.hasSpacing {
		g.Spacing[0] = first.pixelSpacing[1]
		g.Spacing[1] = first.pixelSpacing[0]
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	vol := NewVolume(g)
	plane := first.rows * first.cols
	for z, s := range slices {
		base := z * plane
		for i, v := range s.frames[0] {
			vol.Data[base+i] = float32(float64(v)*s.slope + s.intercept)
		}
	}
	return vol, nil
}

// sliceSpacing derives the distance between slices from the first two
// positions, falling back to SliceThickness and then to 1mm.
func sliceSpacing(slices []*rawSlice) float64 {
	if len(slices) >= 2 {
		a, b := slices[0], slices[1]
		var d float64
		switch {
		case a.hasPosition && b.hasPosition:
			dx := b.position[0] - a.position[0]
			dy := b.position[1] - a.position[1]
			dz := b.position[2] - a.position[2]
			d = math.Sqrt(dx*dx + dy*dy + dz*dz)
		case a.hasLocation && b.hasLocation:
			d = math.Abs(b.location - a.location)
		}
		if d > 0 {
			return d
		}
	}
	if slices[0].thickness > 0 {
		return slices[0].thickness
	}
	return 1
}

// assembleMask stacks every frame of the given slices into a binary mask.
func assembleMask(slices []*rawSlice, ref Geometry) (*LabelMap, error) {
	if len(slices) == 0 {
		return nil, ErrNoSlices
	}
	sortSlices(slices)

	frames := make([][]int32, 0, ref.Size[2])
	for _, s := range slices {
		if s.cols != ref.Size[0] || s.rows != ref.Size[1] {
			return nil, fmt.Errorf("mask frame %dx%d does not match volume %dx%d", s.cols, s.rows, ref.Size[0], ref.Size[1])
		}
		frames = append(frames, s.frames...)
	}
	if len(frames) != ref.Size[2] {
		return nil, fmt.Errorf("mask has %d frames, volume has %d slices", len(frames), ref.Size[2])
	}

	mask := NewLabelMap(ref)
	plane := ref.Size[0] * ref.Size[1]
	for z, f := range frames {
		base := z * plane
		for i, v := range f {
			if v != 0 {
				mask.Data[base+i] = 1
			}
		}
	}
	return mask, nil
}

func stringValues(ds *dicom.Dataset, t tag.Tag) []string {
	e, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	if v, ok := e.Value.GetValue().([]string); ok {
		return v
	}
	return nil
}

func firstInt(ds *dicom.Dataset, t tag.Tag, def int) int {
	e, err := ds.FindElementByTag(t)
	if err != nil {
		return def
	}
	if v, ok := e.Value.GetValue().([]int); ok && len(v) > 0 {
		return v[0]
	}
	return def
}

// floatValues reads numeric values whatever their representation: decimal
// and integer strings (DS, IS), binary integers or binary floats.
func floatValues(ds *dicom.Dataset, t tag.Tag) []float64 {
	e, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	switch v := e.Value.GetValue().(type) {
	case []string:
		out := make([]float64, 0, len(v))
		for _, s := range v {
			for _, part := range strings.Split(s, `\`) {
				f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
				if err != nil {
					return nil
				}
				out = append(out, f)
			}
		}
		return out
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out
	case []float64:
		return v
	}
	return nil
}
