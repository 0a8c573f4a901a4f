// Package dataset discovers patients in the fixed on-disk layout of the QIN
// lung CT collection and loads each patient's CT volume with its nodule masks.
//
// The expected layout is:
//
//	<base>/<patient>/<study>/<series>
//
// Every patient directory holds one study directory. The study holds one CT
// series and zero or more precomputed nodule segmentations, recognised by a
// name prefix ("1000-QIN" in the collection). Hidden entries (names starting
// with ".") are ignored at every level.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ironsheep/nodule-watershed/internal/logging"
	"github.com/ironsheep/nodule-watershed/internal/volume"
)

// DefaultNodulePrefix is the series directory prefix of nodule segmentations.
const DefaultNodulePrefix = "1000-QIN"

var (
	// ErrNoStudy is returned when a patient directory has no study directory.
	ErrNoStudy = errors.New("patient has no study directory")

	// ErrNoCTSeries is returned when a study holds only nodule segmentations.
	ErrNoCTSeries = errors.New("study has no CT series")

	// ErrNoNodule is returned when a patient has no nodule segmentation.
	ErrNoNodule = errors.New("patient has no nodule segmentation")
)

// Patient locates one patient's series on disk.
type Patient struct {
	// Index is the 0-based position of the patient in discovery order. It
	// selects the patient's region-growing seeds.
	Index int `json:"index"`

	// ID is the patient directory name.
	ID string `json:"id"`

	// StudyDir is the study directory holding the series.
	StudyDir string `json:"study_dir"`

	// CTDir is the CT series directory.
	CTDir string `json:"ct_dir"`

	// NoduleDirs are the nodule segmentation directories in name order.
	NoduleDirs []string `json:"nodule_dirs"`
}

// Case is a loaded patient: the CT volume in HU and its nodule masks, each
// carrying the CT geometry.
type Case struct {
	Patient Patient
	CT      *volume.Volume
	Series  *volume.SeriesInfo
	Nodules []*volume.LabelMap
}

// Nodule returns the i-th nodule mask or ErrNoNodule.
func (c *Case) Nodule(i int) (*volume.LabelMap, error) {
	if i < 0 || i >= len(c.Nodules) {
		return nil, fmt.Errorf("patient %s nodule %d: %w", c.Patient.ID, i, ErrNoNodule)
	}
	return c.Nodules[i], nil
}

// Discover lists the patients under base.
//
// Patients are returned in directory name order, which fixes their Index.
// For each patient the first study directory (in name order) is used. Series
// whose name starts with nodulePrefix are nodule segmentations; the first
// other series is the CT. Extra CT series are logged and ignored.
//
// # Errors
//
//   - Returns error if base cannot be listed
//   - Returns ErrNoStudy or ErrNoCTSeries (wrapped with the patient ID) for
//     patients that do not follow the layout
func Discover(base, nodulePrefix string) ([]Patient, error) {
	if nodulePrefix == "" {
		nodulePrefix = DefaultNodulePrefix
	}

	patientDirs, err := subdirs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset: %w", err)
	}

	patients := make([]Patient, 0, len(patientDirs))
	for i, name := range patientDirs {
		p := Patient{Index: i, ID: name}

		patientPath := filepath.Join(base, name)
		studies, err := subdirs(patientPath)
		if err != nil {
			return nil, fmt.Errorf("failed to list patient %s: %w", name, err)
		}
		if len(studies) == 0 {
			return nil, fmt.Errorf("patient %s: %w", name, ErrNoStudy)
		}
		p.StudyDir = filepath.Join(patientPath, studies[0])

		series, err := subdirs(p.StudyDir)
		if err != nil {
			return nil, fmt.Errorf("failed to list study %s: %w", p.StudyDir, err)
		}
		for _, s := range series {
			dir := filepath.Join(p.StudyDir, s)
			switch {
			case strings.HasPrefix(s, nodulePrefix):
				p.NoduleDirs = append(p.NoduleDirs, dir)
			case p.CTDir == "":
				p.CTDir = dir
			default:
				logging.Warn(logging.Fields{
					"patient": name,
					"using":   p.CTDir,
					"ignored": dir,
				}, "[dataset.Discover] more than one CT series")
			}
		}
		if p.CTDir == "" {
			return nil, fmt.Errorf("patient %s: %w", name, ErrNoCTSeries)
		}
		patients = append(patients, p)
	}
	return patients, nil
}

// Load reads the patient's CT series and every nodule mask.
func Load(p Patient) (*Case, error) {
	ct, info, err := volume.ReadSeries(p.CTDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load CT of patient %s: %w", p.ID, err)
	}

	c := &Case{Patient: p, CT: ct, Series: info}
	for _, dir := range p.NoduleDirs {
		mask, err := volume.ReadMask(dir, ct.Geometry)
		if err != nil {
			return nil, fmt.Errorf("failed to load nodule %s of patient %s: %w", filepath.Base(dir), p.ID, err)
		}
		c.Nodules = append(c.Nodules, mask)
	}
	return c, nil
}

// subdirs returns the non-hidden directory names of dir in name order.
func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
