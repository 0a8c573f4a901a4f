package segment

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// profile builds an Nx1x1 volume from a list of values.
func profile(values ...float32) *volume.Volume {
	v := volume.NewVolume(volume.NewGeometry(len(values), 1, 1))
	copy(v.Data, values)
	return v
}

func TestVoxelQueue_Order(t *testing.T) {
	q := &voxelQueue{}
	q.Push(10, 3)
	q.Push(11, 1)
	q.Push(12, 2)
	q.Push(13, 1)
	q.Push(14, 2)

	want := []int{11, 13, 12, 14, 10}
	for i, w := range want {
		got, _ := q.Pop()
		if got != w {
			t.Errorf("pop %d: got %d, want %d", i, got, w)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len: got %d, want 0", q.Len())
	}
}

func TestRegionalMinima(t *testing.T) {
	tests := []struct {
		name   string
		values []float32
		want   []uint32
	}{
		{"two valleys", []float32{0, 1, 2, 3, 2, 1, 0}, []uint32{1, 0, 0, 0, 0, 0, 2}},
		{"plateau minimum", []float32{5, 1, 1, 1, 5}, []uint32{0, 1, 1, 1, 0}},
		{"plateau shoulder is not a minimum", []float32{0, 2, 2, 3}, []uint32{1, 0, 0, 0}},
		{"constant image", []float32{4, 4, 4}, []uint32{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RegionalMinima(profile(tt.values...))
			assert.Equal(t, tt.want, got.Data)
		})
	}
}

func TestHMinima(t *testing.T) {
	v := profile(0, 1, 2, 3, 2, 3, 2, 1, 0)
	got := HMinima(v, 2)

	want := []float32{2, 2, 2, 3, 3, 3, 2, 2, 2}
	assert.Equal(t, want, got.Data)

	// Input is untouched.
	assert.Equal(t, float32(2), v.At(4, 0, 0))
}

func TestHMinima_NeverBelowInput(t *testing.T) {
	v := profile(7, 3, 9, 1, 4, 4, 8, 0, 6)
	got := HMinima(v, 3)
	for i := range v.Data {
		if got.Data[i] < v.Data[i] {
			t.Errorf("voxel %d: got %v, below input %v", i, got.Data[i], v.Data[i])
		}
		if got.Data[i] > v.Data[i]+3 {
			t.Errorf("voxel %d: got %v, above input+h %v", i, got.Data[i], v.Data[i]+3)
		}
	}
}

func TestMorphologicalWatershed_Profile(t *testing.T) {
	tests := []struct {
		name      string
		values    []float32
		level     float64
		markLines bool
		want      []uint32
	}{
		{
			name:      "two basins with line",
			values:    []float32{0, 1, 2, 3, 2, 1, 0},
			markLines: true,
			want:      []uint32{1, 1, 1, 0, 2, 2, 2},
		},
		{
			name:   "two basins without line",
			values: []float32{0, 1, 2, 3, 2, 1, 0},
			want:   []uint32{1, 1, 1, 1, 2, 2, 2},
		},
		{
			name:      "shallow basin kept at level 0",
			values:    []float32{0, 1, 2, 3, 2, 3, 2, 1, 0},
			markLines: true,
			want:      []uint32{1, 1, 1, 0, 2, 0, 3, 3, 3},
		},
		{
			name:      "shallow basin merged at level 2",
			values:    []float32{0, 1, 2, 3, 2, 3, 2, 1, 0},
			level:     2,
			markLines: true,
			want:      []uint32{1, 1, 1, 1, 0, 2, 2, 2, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MorphologicalWatershed(profile(tt.values...), tt.level, tt.markLines)
			assert.Equal(t, tt.want, got.Data)
		})
	}
}

// twoBasins returns a volume whose value is the distance to the nearer of
// two centres.
func twoBasins() (*volume.Volume, volume.Index, volume.Index) {
	g := volume.NewGeometry(20, 10, 10)
	v := volume.NewVolume(g)
	a := volume.Index{X: 4, Y: 5, Z: 5}
	b := volume.Index{X: 15, Y: 5, Z: 5}
	dist := func(x, y, z int, c volume.Index) float64 {
		dx, dy, dz := float64(x-c.X), float64(y-c.Y), float64(z-c.Z)
		return math.Sqrt(dx*dx + dy*dy + dz*dz)
	}
	for z := 0; z < 10; z++ {
		for y := 0; y < 10; y++ {
			for x := 0; x < 20; x++ {
				v.Set(x, y, z, float32(math.Min(dist(x, y, z, a), dist(x, y, z, b))))
			}
		}
	}
	return v, a, b
}

func TestMorphologicalWatershed_TwoBasins3D(t *testing.T) {
	v, a, b := twoBasins()
	labels := MorphologicalWatershed(v, 0, true)

	la := labels.At(a.X, a.Y, a.Z)
	lb := labels.At(b.X, b.Y, b.Z)
	require.NotZero(t, la)
	require.NotZero(t, lb)
	assert.NotEqual(t, la, lb)

	assert.Equal(t, la, labels.At(2, 3, 4), "voxel near first centre")
	assert.Equal(t, lb, labels.At(17, 7, 6), "voxel near second centre")

	for l := uint32(1); l <= 2; l++ {
		if labels.Count(l) == 0 {
			t.Errorf("label %d is empty", l)
		}
	}
	assert.Zero(t, labels.Count(3), "only two basins expected")
}

func TestMorphologicalWatershed_LevelMergesBasins(t *testing.T) {
	v, _, _ := twoBasins()
	// Both basins are about 5.5 deep, so a higher level merges them.
	low := MorphologicalWatershed(v, 1, false)
	high := MorphologicalWatershed(v, 100, false)

	assert.Equal(t, uint32(2), maxLabel(low))
	assert.Equal(t, uint32(1), maxLabel(high))
	assert.Equal(t, v.Len(), high.Count(1))
}

func maxLabel(l *volume.LabelMap) uint32 {
	var m uint32
	for _, v := range l.Data {
		if v > m {
			m = v
		}
	}
	return m
}

func TestWatershedFromMarkers(t *testing.T) {
	v := profile(0, 1, 2, 3, 2, 1, 0)
	markers := volume.NewLabelMap(v.Geometry)
	markers.Set(0, 0, 0, 7)
	markers.Set(6, 0, 0, 9)

	got, err := WatershedFromMarkers(v, markers, false)
	require.NoError(t, err)
	assert.Equal(t, []uint32{7, 7, 7, 7, 9, 9, 9}, got.Data)

	// markers is not modified.
	assert.Equal(t, uint32(0), markers.At(3, 0, 0))
}

func TestWatershedFromMarkers_SizeMismatch(t *testing.T) {
	v := profile(0, 1, 2)
	markers := volume.NewLabelMap(volume.NewGeometry(2, 1, 1))
	_, err := WatershedFromMarkers(v, markers, true)
	assert.Error(t, err)
}

func TestWatershedFromMarkers_NoMarkers(t *testing.T) {
	v := profile(0, 1, 2)
	got, err := WatershedFromMarkers(v, volume.NewLabelMap(v.Geometry), true)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Foreground())
}

func TestSeededWatershed(t *testing.T) {
	values := []float32{0, 1, 2, 3, 2, 3, 2, 1, 0}
	tests := []struct {
		name  string
		seed  []int
		want  []uint32
		label uint32
	}{
		{
			name:  "seed on a minimum takes over its basin",
			seed:  []int{4},
			want:  []uint32{1, 1, 1, 0, 4, 0, 3, 3, 3},
			label: 4,
		},
		{
			name:  "seed off the minima opens a basin",
			seed:  []int{6},
			want:  []uint32{1, 1, 1, 0, 2, 0, 4, 0, 3},
			label: 4,
		},
		{
			name:  "seed spanning two minima merges them",
			seed:  []int{0, 4},
			want:  []uint32{4, 4, 4, 4, 4, 0, 3, 3, 3},
			label: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := profile(values...)
			seed := volume.NewLabelMap(v.Geometry)
			for _, x := range tt.seed {
				seed.Set(x, 0, 0, 1)
			}
			got, label, err := SeededWatershed(v, seed, 0, true)
			require.NoError(t, err)
			assert.Equal(t, tt.label, label)
			assert.Equal(t, tt.want, got.Data)
		})
	}

	t.Run("empty seed is the plain watershed", func(t *testing.T) {
		v, _, _ := twoBasins()
		got, label, err := SeededWatershed(v, volume.NewLabelMap(v.Geometry), 1, true)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), label)
		assert.Equal(t, MorphologicalWatershed(v, 1, true).Data, got.Data)
	})

	t.Run("size mismatch", func(t *testing.T) {
		_, _, err := SeededWatershed(profile(0, 1), volume.NewLabelMap(volume.NewGeometry(3, 1, 1)), 0, true)
		assert.Error(t, err)
	})
}

// lungPhantom is a 0 HU body with two -800 HU boxes and a 3x3x3 nodule of
// soft tissue inside the left box.
func lungPhantom() *volume.Volume {
	g := volume.NewGeometry(40, 24, 12)
	v := volume.NewVolume(g)
	for z := 2; z <= 9; z++ {
		for y := 4; y <= 19; y++ {
			for x := 4; x <= 14; x++ {
				v.Set(x, y, z, -800)
			}
			for x := 25; x <= 35; x++ {
				v.Set(x, y, z, -800)
			}
		}
	}
	for z := 5; z <= 7; z++ {
		for y := 10; y <= 12; y++ {
			for x := 8; x <= 10; x++ {
				v.Set(x, y, z, 0)
			}
		}
	}
	return v
}

func TestLungSegmentation(t *testing.T) {
	ct := lungPhantom()
	opts := DefaultLungOptions()
	opts.Variance = 1
	opts.ClosingRadius = 2
	seeds := []volume.Index{{X: 6, Y: 6, Z: 5}, {X: 30, Y: 6, Z: 5}}

	lungs, err := LungSegmentation(ct, seeds, opts)
	require.NoError(t, err)

	tests := []struct {
		name string
		at   volume.Index
		want float32
	}{
		{"left lung", volume.Index{X: 6, Y: 6, Z: 5}, -800},
		{"right lung", volume.Index{X: 30, Y: 15, Z: 5}, -800},
		{"nodule kept by closing", volume.Index{X: 9, Y: 11, Z: 6}, 0},
		{"corner of body", volume.Index{X: 0, Y: 0, Z: 0}, DefaultBackground},
		{"mediastinum", volume.Index{X: 19, Y: 10, Z: 5}, DefaultBackground},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lungs.At(tt.at.X, tt.at.Y, tt.at.Z)
			if got != tt.want {
				t.Errorf("At%v: got %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestLungMask_Errors(t *testing.T) {
	ct := lungPhantom()
	opts := DefaultLungOptions()

	_, err := LungMask(ct, nil, opts)
	assert.True(t, errors.Is(err, ErrNoSeeds))

	_, err = LungMask(ct, []volume.Index{{X: 100, Y: 0, Z: 0}}, opts)
	assert.Error(t, err)
}

func TestNoduleMarker(t *testing.T) {
	g := volume.NewGeometry(15, 15, 15)
	nodule := volume.NewLabelMap(g)
	for z := 2; z <= 12; z++ {
		for y := 2; y <= 12; y++ {
			for x := 2; x <= 12; x++ {
				nodule.Set(x, y, z, 1)
			}
		}
	}

	marker := NoduleMarker(nodule, 3, 1)
	// Core after erosion is 5x5x5 at 5..9; dilation by 1 adds the face layers.
	assert.Equal(t, uint32(1), marker.At(7, 7, 7))
	assert.Equal(t, uint32(1), marker.At(4, 7, 7))
	assert.Equal(t, uint32(0), marker.At(3, 7, 7))
	assert.Equal(t, uint32(0), marker.At(4, 4, 7))
	assert.Equal(t, 125+6*25, marker.Foreground())
}

func TestNoduleMarker_SmallNoduleVanishes(t *testing.T) {
	g := volume.NewGeometry(9, 9, 9)
	nodule := volume.NewLabelMap(g)
	nodule.Set(4, 4, 4, 1)
	nodule.Set(5, 4, 4, 1)

	marker := NoduleMarker(nodule, 6, 2)
	assert.Zero(t, marker.Foreground())
}
