package store

import (
	"context"
	"sort"
)

// RunSummary condenses what a run recorded, per patient.
type RunSummary struct {
	Run RunRow `json:"run"`

	// Patients lists the patient IDs seen by the run in patient order.
	Patients []string `json:"patients"`

	// Levels holds the working levels of each patient, ascending. Patients
	// without a working level map to an empty list.
	Levels map[string][]float64 `json:"levels"`

	// Accepted holds the accepted trial of each patient that has one.
	Accepted map[string]TrialRow `json:"accepted"`

	// Trials is the number of acceptance trials recorded.
	Trials int `json:"trials"`

	Features []FeatureRecord `json:"features"`
}

// Summarize reads every result of run id.
//
// # Errors
//
//   - Returns ErrRunNotFound if id is not in the ledger
//   - Returns the read errors of Levels, Trials and Features
func (s *Store) Summarize(ctx context.Context, id string) (*RunSummary, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	levels, err := s.Levels(ctx, id)
	if err != nil {
		return nil, err
	}
	trials, err := s.Trials(ctx, id)
	if err != nil {
		return nil, err
	}
	features, err := s.Features(ctx, id)
	if err != nil {
		return nil, err
	}

	sum := &RunSummary{
		Run:      run,
		Levels:   make(map[string][]float64),
		Accepted: make(map[string]TrialRow),
		Trials:   len(trials),
		Features: features,
	}
	order := make(map[string]int)
	see := func(index int, id string) {
		if _, ok := order[id]; !ok {
			order[id] = index
			sum.Patients = append(sum.Patients, id)
		}
	}

	for _, l := range levels {
		see(l.PatientIndex, l.PatientID)
		if _, ok := sum.Levels[l.PatientID]; !ok {
			sum.Levels[l.PatientID] = []float64{}
		}
		if l.Found {
			sum.Levels[l.PatientID] = append(sum.Levels[l.PatientID], l.Level)
		}
	}
	for _, t := range trials {
		see(t.PatientIndex, t.PatientID)
		if t.Accepted {
			sum.Accepted[t.PatientID] = t
		}
	}
	for _, f := range features {
		see(f.PatientIndex, f.PatientID)
	}
	sort.SliceStable(sum.Patients, func(i, j int) bool {
		return order[sum.Patients[i]] < order[sum.Patients[j]]
	})
	return sum, nil
}

// LevelChange compares the working levels of one patient in two runs.
type LevelChange struct {
	PatientID string    `json:"patient_id"`
	Both      []float64 `json:"both"`
	OnlyA     []float64 `json:"only_a"`
	OnlyB     []float64 `json:"only_b"`
}

// Same reports whether both runs found the same working levels.
func (c LevelChange) Same() bool {
	return len(c.OnlyA) == 0 && len(c.OnlyB) == 0
}

// CompareLevels lists, for every patient with levels in a or b, the working
// levels both runs share and those only one of them found. Patients follow
// the order of a, then the patients only b has.
func CompareLevels(a, b *RunSummary) []LevelChange {
	var ids []string
	seen := make(map[string]bool)
	for _, sum := range []*RunSummary{a, b} {
		for _, id := range sum.Patients {
			if _, ok := sum.Levels[id]; ok && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	out := make([]LevelChange, 0, len(ids))
	for _, id := range ids {
		inB := make(map[float64]bool)
		for _, l := range b.Levels[id] {
			inB[l] = true
		}
		c := LevelChange{PatientID: id}
		for _, l := range a.Levels[id] {
			if inB[l] {
				c.Both = append(c.Both, l)
				delete(inB, l)
			} else {
				c.OnlyA = append(c.OnlyA, l)
			}
		}
		for _, l := range b.Levels[id] {
			if inB[l] {
				c.OnlyB = append(c.OnlyB, l)
			}
		}
		out = append(out, c)
	}
	return out
}
