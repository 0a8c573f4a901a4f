package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// mkdirs creates every relative directory under root.
func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", d, err)
		}
	}
}

func TestDiscover(t *testing.T) {
	base := t.TempDir()
	mkdirs(t, base,
		"QIN-LUNG-01/study-1/2-CT",
		"QIN-LUNG-01/study-1/1000-QIN-seg-a",
		"QIN-LUNG-01/study-1/1000-QIN-seg-b",
		"QIN-LUNG-01/.hidden-study",
		"QIN-LUNG-02/study-x/3-CT",
		".git/objects",
	)
	if err := os.WriteFile(filepath.Join(base, "README.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	patients, err := Discover(base, "")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	study1 := filepath.Join(base, "QIN-LUNG-01", "study-1")
	study2 := filepath.Join(base, "QIN-LUNG-02", "study-x")
	want := []Patient{
		{
			Index:    0,
			ID:       "QIN-LUNG-01",
			StudyDir: study1,
			CTDir:    filepath.Join(study1, "2-CT"),
			NoduleDirs: []string{
				filepath.Join(study1, "1000-QIN-seg-a"),
				filepath.Join(study1, "1000-QIN-seg-b"),
			},
		},
		{
			Index:    1,
			ID:       "QIN-LUNG-02",
			StudyDir: study2,
			CTDir:    filepath.Join(study2, "3-CT"),
		},
	}
	if diff := cmp.Diff(want, patients); diff != "" {
		t.Errorf("Discover mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscover_CustomPrefix(t *testing.T) {
	base := t.TempDir()
	mkdirs(t, base, "p/s/ct", "p/s/mask-1")

	patients, err := Discover(base, "mask-")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(patients) != 1 || len(patients[0].NoduleDirs) != 1 {
		t.Fatalf("unexpected patients: %+v", patients)
	}
	if filepath.Base(patients[0].CTDir) != "ct" {
		t.Errorf("CTDir: got %s, want ct", patients[0].CTDir)
	}
}

func TestDiscover_ExtraCTSeriesUsesFirst(t *testing.T) {
	base := t.TempDir()
	mkdirs(t, base, "p/s/a-CT", "p/s/b-CT")

	patients, err := Discover(base, "")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if filepath.Base(patients[0].CTDir) != "a-CT" {
		t.Errorf("CTDir: got %s, want a-CT", patients[0].CTDir)
	}
}

func TestDiscover_Errors(t *testing.T) {
	tests := []struct {
		name string
		dirs []string
		want error
	}{
		{"no study", []string{"p"}, ErrNoStudy},
		{"only nodules", []string{"p/s/1000-QIN-a"}, ErrNoCTSeries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := t.TempDir()
			mkdirs(t, base, tt.dirs...)
			_, err := Discover(base, "")
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Discover(filepath.Join(t.TempDir(), "missing"), ""); err == nil {
		t.Error("expected error for missing base directory")
	}
}

func TestCaseNodule(t *testing.T) {
	mask := volume.NewLabelMap(volume.NewGeometry(1, 1, 1))
	c := &Case{Patient: Patient{ID: "p"}, Nodules: []*volume.LabelMap{mask}}

	got, err := c.Nodule(0)
	if err != nil || got != mask {
		t.Fatalf("Nodule(0): got (%v, %v)", got, err)
	}
	if _, err := c.Nodule(1); !errors.Is(err, ErrNoNodule) {
		t.Errorf("Nodule(1): got %v, want ErrNoNodule", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(Patient{ID: "p", CTDir: filepath.Join(t.TempDir(), "missing")})
	if err == nil {
		t.Error("expected error for missing CT directory")
	}
}
