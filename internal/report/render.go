package report

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/anthonynsimon/bild/blend"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/nodule-watershed/internal/filter"
	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// DefaultOpacity is the weight of the label colours in an overlay.
const DefaultOpacity = 0.3

// ErrEmptyMask is returned by NoduleSlice for a mask without foreground.
var ErrEmptyMask = errors.New("mask has no foreground voxel")

// Palette returns n distinct colours spread evenly around the hue circle.
func Palette(n int) []color.RGBA {
	out := make([]color.RGBA, n)
	for i := range out {
		c := colorful.Hsv(360*float64(i)/float64(n), 0.85, 0.95)
		r, g, b := c.RGB255()
		out[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return out
}

// Slice returns axial slice z of v with the intensity range of the whole
// volume mapped onto 0..255. Image rows follow the volume Y axis.
func Slice(v *volume.Volume, z int) (*image.Gray, error) {
	if z < 0 || z >= v.Size[2] {
		return nil, fmt.Errorf("slice %d outside volume of %d slices", z, v.Size[2])
	}
	scaled := filter.RescaleIntensity(v, 0, 255)

	img := image.NewGray(image.Rect(0, 0, v.Size[0], v.Size[1]))
	for y := 0; y < v.Size[1]; y++ {
		for x := 0; x < v.Size[0]; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(float64(scaled.At(x, y, z))))})
		}
	}
	return img, nil
}

// Overlay blends the labels of slice z over base. Every non-zero label on
// the slice gets its own palette colour, assigned in ascending label order;
// label 0 leaves base untouched.
//
// # Errors
//
//   - Returns error if labels does not match the size of base or z is out of range
func Overlay(base *image.Gray, labels *volume.LabelMap, z int, opacity float64) (*image.RGBA, error) {
	b := base.Bounds()
	if labels.Size[0] != b.Dx() || labels.Size[1] != b.Dy() {
		return nil, fmt.Errorf("label slice %dx%d does not match image %dx%d", labels.Size[0], labels.Size[1], b.Dx(), b.Dy())
	}
	if z < 0 || z >= labels.Size[2] {
		return nil, fmt.Errorf("slice %d outside label map of %d slices", z, labels.Size[2])
	}

	colors := sliceColors(labels, z)
	// Unlabelled pixels repeat the base so the blend leaves them unchanged.
	fg := image.NewRGBA(b)
	for y := 0; y < labels.Size[1]; y++ {
		for x := 0; x < labels.Size[0]; x++ {
			px := b.Min.X + x
			py := b.Min.Y + y
			if l := labels.At(x, y, z); l != 0 {
				fg.SetRGBA(px, py, colors[l])
				continue
			}
			g := base.GrayAt(px, py).Y
			fg.SetRGBA(px, py, color.RGBA{R: g, G: g, B: g, A: 255})
		}
	}
	return blend.Opacity(base, fg, opacity), nil
}

// sliceColors maps each distinct non-zero label of slice z to a colour of a
// palette sized to their number.
func sliceColors(labels *volume.LabelMap, z int) map[uint32]color.RGBA {
	present := make(map[uint32]bool)
	for y := 0; y < labels.Size[1]; y++ {
		for x := 0; x < labels.Size[0]; x++ {
			if l := labels.At(x, y, z); l != 0 {
				present[l] = true
			}
		}
	}
	ids := make([]uint32, 0, len(present))
	for l := range present {
		ids = append(ids, l)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	palette := Palette(len(ids))
	colors := make(map[uint32]color.RGBA, len(ids))
	for i, l := range ids {
		colors[l] = palette[i]
	}
	return colors
}

// PhysicalAspect stretches img vertically so that its pixels cover the same
// distance along both axes. spacing holds the X and Y voxel pitch.
func PhysicalAspect(img image.Image, spacing [3]float64) *image.NRGBA {
	b := img.Bounds()
	height := b.Dy()
	if spacing[0] > 0 && spacing[1] > 0 {
		height = int(math.Round(float64(b.Dy()) * spacing[1] / spacing[0]))
	}
	if height < 1 {
		height = 1
	}
	return imaging.Resize(img, b.Dx(), height, imaging.Lanczos)
}

// Zoom crops rect out of img and scales the crop by scale. A scale of 1 or
// less than or equal to 0 keeps the crop size.
func Zoom(img image.Image, rect image.Rectangle, scale float64) (*image.NRGBA, error) {
	bounds := img.Bounds()
	if !rect.In(bounds) {
		return nil, fmt.Errorf("crop region %v outside image bounds %v", rect, bounds)
	}
	if rect.Empty() {
		return nil, fmt.Errorf("invalid crop region %v", rect)
	}

	cropped := imaging.Crop(img, rect)
	if scale != 1.0 && scale > 0 {
		w := int(float64(cropped.Bounds().Dx()) * scale)
		h := int(float64(cropped.Bounds().Dy()) * scale)
		cropped = imaging.Resize(cropped, w, h, imaging.Lanczos)
	}
	return cropped, nil
}

// MaskRect returns the in-plane bounding rectangle of the foreground of
// slice z grown by margin pixels and clipped to the slice.
func MaskRect(mask *volume.LabelMap, z int, margin int) (image.Rectangle, error) {
	if z < 0 || z >= mask.Size[2] {
		return image.Rectangle{}, fmt.Errorf("slice %d outside mask of %d slices", z, mask.Size[2])
	}
	var r image.Rectangle
	found := false
	for y := 0; y < mask.Size[1]; y++ {
		for x := 0; x < mask.Size[0]; x++ {
			if mask.At(x, y, z) == 0 {
				continue
			}
			px := image.Rect(x, y, x+1, y+1)
			if !found {
				r, found = px, true
				continue
			}
			r = r.Union(px)
		}
	}
	if !found {
		return image.Rectangle{}, ErrEmptyMask
	}
	r = image.Rect(r.Min.X-margin, r.Min.Y-margin, r.Max.X+margin, r.Max.Y+margin)
	return r.Intersect(image.Rect(0, 0, mask.Size[0], mask.Size[1])), nil
}

// RenderOptions controls RenderSlice.
type RenderOptions struct {
	// Labels are overlaid on the slice when not nil.
	Labels  *volume.LabelMap
	Opacity float64

	// Crop, when not empty, keeps only this in-plane rectangle, which is
	// then scaled by Scale.
	Crop  image.Rectangle
	Scale float64
}

// RenderSlice writes slice z of v to file. The file format follows the file
// extension.
func RenderSlice(file string, v *volume.Volume, z int, opts RenderOptions) error {
	gray, err := Slice(v, z)
	if err != nil {
		return err
	}

	var img image.Image = gray
	if opts.Labels != nil {
		if opts.Labels.Size != v.Size {
			return fmt.Errorf("label map size %v does not match volume size %v", opts.Labels.Size, v.Size)
		}
		img, err = Overlay(gray, opts.Labels, z, opts.Opacity)
		if err != nil {
			return err
		}
	}
	if !opts.Crop.Empty() {
		img, err = Zoom(img, opts.Crop, opts.Scale)
		if err != nil {
			return err
		}
	}

	if err := imaging.Save(PhysicalAspect(img, v.Spacing), file); err != nil {
		return fmt.Errorf("failed to save slice: %w", err)
	}
	return nil
}

// NoduleSlice returns the slice to show for mask: walking up the Z axis, the
// slice where the foreground area reaches its first peak.
func NoduleSlice(mask *volume.LabelMap) (int, error) {
	plane := mask.Size[0] * mask.Size[1]
	best, bestZ := 0, 0
	for z := 0; z < mask.Size[2]; z++ {
		area := 0
		for _, l := range mask.Data[z*plane : (z+1)*plane] {
			if l != 0 {
				area++
			}
		}
		if area > best {
			best, bestZ = area, z
		}
		if area < best {
			break
		}
	}
	if best == 0 {
		return 0, ErrEmptyMask
	}
	return bestZ, nil
}
