package volume

import (
	"testing"
)

func TestGeometryOffsetCoord(t *testing.T) {
	g := NewGeometry(4, 3, 2)

	if g.Len() != 24 {
		t.Fatalf("Len: got %d, want 24", g.Len())
	}

	tests := []struct {
		name    string
		x, y, z int
		want    int
	}{
		{"origin", 0, 0, 0, 0},
		{"end of first row", 3, 0, 0, 3},
		{"second row", 0, 1, 0, 4},
		{"second slice", 0, 0, 1, 12},
		{"last voxel", 3, 2, 1, 23},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			off := g.Offset(tt.x, tt.y, tt.z)
			if off != tt.want {
				t.Errorf("Offset: got %d, want %d", off, tt.want)
			}
			c := g.Coord(off)
			if c != (Index{X: tt.x, Y: tt.y, Z: tt.z}) {
				t.Errorf("Coord(%d): got %v", off, c)
			}
		})
	}
}

func TestGeometryContains(t *testing.T) {
	g := NewGeometry(2, 2, 2)
	if !g.Contains(1, 1, 1) {
		t.Error("(1,1,1) should be inside a 2x2x2 grid")
	}
	for _, p := range []Index{{-1, 0, 0}, {0, 2, 0}, {0, 0, 2}} {
		if g.Contains(p.X, p.Y, p.Z) {
			t.Errorf("%v should be outside", p)
		}
	}
}

func TestGeometryValidate(t *testing.T) {
	if err := NewGeometry(1, 1, 1).Validate(); err != nil {
		t.Errorf("unit geometry: unexpected error %v", err)
	}
	g := NewGeometry(0, 1, 1)
	if err := g.Validate(); err == nil {
		t.Error("zero size should be invalid")
	}
	g = NewGeometry(1, 1, 1)
	g.Spacing[2] = 0
	if err := g.Validate(); err == nil {
		t.Error("zero spacing should be invalid")
	}
}

func TestGeometrySameGrid(t *testing.T) {
	a := NewGeometry(3, 3, 3)
	b := a
	b.Spacing[0] = 1.00001
	if !a.SameGrid(b) {
		t.Error("tiny spacing differences should be tolerated")
	}
	b.Spacing[0] = 1.5
	if a.SameGrid(b) {
		t.Error("different spacing should not match")
	}
	if a.SameGrid(NewGeometry(3, 3, 4)) {
		t.Error("different sizes should not match")
	}
}

func TestVolumeAccessors(t *testing.T) {
	v := NewVolume(NewGeometry(3, 3, 3))
	v.Set(1, 2, 0, -500)
	v.Set(2, 2, 2, 40)

	if got := v.At(1, 2, 0); got != -500 {
		t.Errorf("At: got %v, want -500", got)
	}

	lo, hi := v.Range()
	if lo != -500 || hi != 40 {
		t.Errorf("Range: got (%v,%v), want (-500,40)", lo, hi)
	}

	c := v.Clone()
	c.Set(1, 2, 0, 0)
	if v.At(1, 2, 0) != -500 {
		t.Error("Clone shares data with the original")
	}
}

func TestLabelMapCounts(t *testing.T) {
	m := NewLabelMap(NewGeometry(2, 2, 2))
	m.Set(0, 0, 0, 1)
	m.Set(1, 0, 0, 1)
	m.Set(1, 1, 1, 3)

	if m.Count(1) != 2 {
		t.Errorf("Count(1): got %d, want 2", m.Count(1))
	}
	if m.Foreground() != 3 {
		t.Errorf("Foreground: got %d, want 3", m.Foreground())
	}
}

func TestLabelMapCopyInformation(t *testing.T) {
	ref := NewGeometry(2, 2, 2)
	ref.Spacing = [3]float64{0.7, 0.7, 2.5}
	ref.Origin = [3]float64{-10, -20, 30}

	m := NewLabelMap(NewGeometry(2, 2, 2))
	if err := m.CopyInformation(ref); err != nil {
		t.Fatalf("CopyInformation failed: %v", err)
	}
	if m.Spacing != ref.Spacing || m.Origin != ref.Origin {
		t.Errorf("geometry not copied: got %+v", m.Geometry)
	}

	bad := NewLabelMap(NewGeometry(2, 2, 3))
	if err := bad.CopyInformation(ref); err == nil {
		t.Error("expected error for mismatched size")
	}
}
