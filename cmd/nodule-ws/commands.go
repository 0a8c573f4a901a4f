package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"os"
	"path/filepath"
	"strings"

	"github.com/ironsheep/nodule-watershed/internal/config"
	"github.com/ironsheep/nodule-watershed/internal/dataset"
	"github.com/ironsheep/nodule-watershed/internal/experiment"
	"github.com/ironsheep/nodule-watershed/internal/filter"
	"github.com/ironsheep/nodule-watershed/internal/logging"
	"github.com/ironsheep/nodule-watershed/internal/radiomics"
	"github.com/ironsheep/nodule-watershed/internal/report"
	"github.com/ironsheep/nodule-watershed/internal/segment"
	"github.com/ironsheep/nodule-watershed/internal/store"
)

// common holds the flags shared by every command.
type common struct {
	configFile string
	envFile    string
	logLevel   string
	patients   string
	limit      int
}

func (c *common) register(fs *flag.FlagSet) {
	c.registerConfig(fs)
	fs.StringVar(&c.patients, "patients", "", "comma separated patient IDs to process (default all)")
	fs.IntVar(&c.limit, "limit", 0, "process only the first N selected patients")
}

// registerConfig registers the configuration flags only.
func (c *common) registerConfig(fs *flag.FlagSet) {
	fs.StringVar(&c.configFile, "config", "", "JSON configuration file")
	fs.StringVar(&c.envFile, "env", config.DefaultEnvFile, "dotenv file, ignored when missing")
	fs.StringVar(&c.logLevel, "log-level", "", "log level (overrides configuration)")
}

// session is a configured invocation.
type session struct {
	cfg      *config.Config
	patients []dataset.Patient
	ledger   *store.Store
	run      *store.Run
}

// configure loads the configuration, applies the command line overrides
// and sets up logging.
func (c *common) configure(overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(c.configFile, c.envFile)
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		return nil, err
	}
	if logging.IsDebug() {
		logging.Debug(logging.Fields{"version": Version, "built": BuildTime, "commit": GitCommit}, "[main] nodule-ws starting")
	}
	return cfg, nil
}

// open configures the invocation, discovers patients and, when a ledger is
// configured, registers the run.
func (c *common) open(ctx context.Context, name string, overrides ...func(*config.Config)) (*session, error) {
	cfg, err := c.configure(overrides...)
	if err != nil {
		return nil, err
	}

	all, err := dataset.Discover(cfg.DataDir, cfg.NodulePrefix)
	if err != nil {
		return nil, err
	}
	patients, err := selectPatients(all, c.patients, c.limit)
	if err != nil {
		return nil, err
	}
	logging.Info(logging.Fields{"command": name, "data_dir": cfg.DataDir, "patients": len(patients)}, "[main] dataset discovered")

	s := &session{cfg: cfg, patients: patients}
	if cfg.Ledger != "" {
		s.ledger, err = store.Open(cfg.Ledger)
		if err != nil {
			return nil, err
		}
		s.run, err = s.ledger.BeginRun(ctx, name, cfg.Experiment)
		if err != nil {
			s.ledger.Close()
			return nil, err
		}
		logging.Info(logging.Fields{"ledger": cfg.Ledger, "run": s.run.ID}, "[main] recording run")
	}
	return s, nil
}

// runner returns an experiment runner recording to the ledger when open.
func (s *session) runner() *experiment.Runner {
	var opts []experiment.Option
	if s.run != nil {
		opts = append(opts, experiment.WithRecorder(s.run))
	}
	return experiment.NewRunner(s.cfg.Experiment, opts...)
}

// close finishes the ledger run. ok tells whether the command succeeded.
func (s *session) close(ctx context.Context, ok bool) {
	if s.ledger == nil {
		return
	}
	if ok {
		if err := s.run.Finish(ctx); err != nil {
			logging.Warn(logging.Fields{"error": err.Error()}, "[main] failed to finish run")
		}
	}
	s.ledger.Close()
}

// output returns the path of name inside the output directory.
func (s *session) output(name string) (string, error) {
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return filepath.Join(s.cfg.OutputDir, name), nil
}

// writeOutput creates name in the output directory and fills it with write.
func (s *session) writeOutput(name string, write func(io.Writer) error) (string, error) {
	path, err := s.output(name)
	if err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	logging.Info(logging.Fields{"file": path}, "[main] output written")
	return path, nil
}

// selectPatients keeps the patients named in ids (all when empty), then the
// first limit of them when limit is positive. Indices are preserved.
func selectPatients(all []dataset.Patient, ids string, limit int) ([]dataset.Patient, error) {
	selected := all
	if ids != "" {
		byID := make(map[string]dataset.Patient, len(all))
		for _, p := range all {
			byID[p.ID] = p
		}
		selected = nil
		for _, id := range strings.Split(ids, ",") {
			id = strings.TrimSpace(id)
			p, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("unknown patient %q", id)
			}
			selected = append(selected, p)
		}
	}
	if limit > 0 && limit < len(selected) {
		selected = selected[:limit]
	}
	return selected, nil
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return nil
}

func runLevels(ctx context.Context, args []string) (err error) {
	var c common
	fs := flag.NewFlagSet("levels", flag.ContinueOnError)
	c.register(fs)
	plot := fs.Bool("plot", true, "write the coverage plot")
	markers := fs.Bool("markers", false, "flood the eroded nodule mask as its own basin")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	s, err := c.open(ctx, "levels", func(cfg *config.Config) {
		if *markers {
			cfg.Experiment.Marker.Enabled = true
		}
	})
	if err != nil {
		return err
	}
	defer func() { s.close(ctx, err == nil) }()

	rep, err := s.runner().Levels(ctx, s.patients)
	if err != nil {
		return err
	}
	if err := s.writeLevels(rep, *plot); err != nil {
		return err
	}
	printLevels(rep)
	return nil
}

// writeLevels writes the level table and, when plot is set, the coverage
// plot of rep.
func (s *session) writeLevels(rep *experiment.LevelsReport, plot bool) error {
	if _, err := s.writeOutput("levels.xlsx", func(w io.Writer) error {
		return report.WriteLevelTable(w, rep.Patients)
	}); err != nil {
		return err
	}
	if !plot {
		return nil
	}

	var buf bytes.Buffer
	err := report.WriteCoveragePNG(&buf, rep, s.cfg.Experiment.Thresholds.Coverage)
	switch {
	case errors.Is(err, report.ErrNothingToPlot):
		logging.Warn(nil, "[main] no diagnostics, coverage plot skipped")
		return nil
	case err != nil:
		return err
	}
	_, err = s.writeOutput("coverage.png", func(w io.Writer) error {
		_, err := buf.WriteTo(w)
		return err
	})
	return err
}

func printLevels(rep *experiment.LevelsReport) {
	for _, p := range rep.Patients {
		fmt.Printf("%s\t%v\n", p.Patient.ID, p.Result.Levels)
	}
	fmt.Printf("global\t%v\n", rep.Global)
}

func runAccept(ctx context.Context, args []string) (err error) {
	var c common
	fs := flag.NewFlagSet("accept", flag.ContinueOnError)
	c.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	s, err := c.open(ctx, "accept")
	if err != nil {
		return err
	}
	defer func() { s.close(ctx, err == nil) }()

	results, err := s.runner().Accept(ctx, s.patients)
	if err != nil {
		return err
	}
	if _, err := s.writeOutput("acceptance.xlsx", func(w io.Writer) error {
		return report.WriteAcceptanceTable(w, results)
	}); err != nil {
		return err
	}
	printAcceptance(results)
	return nil
}

func printAcceptance(results []experiment.PatientAcceptance) {
	for _, r := range results {
		if r.Result.Accepted {
			fmt.Printf("%s\taccepted at level %v, region %d\n", r.Patient.ID, r.Result.Level, r.Result.Region)
		} else {
			fmt.Printf("%s\tno accepted level after %d trials\n", r.Patient.ID, len(r.Result.Trials))
		}
	}
}

func runFeatures(ctx context.Context, args []string) (err error) {
	var c common
	fs := flag.NewFlagSet("features", flag.ContinueOnError)
	c.register(fs)
	chart := fs.Bool("chart", true, "write the HTML shape chart")
	resample := fs.Float64("resample", 0, "resample to this isotropic spacing in mm before describing (0 keeps the configuration)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	s, err := c.open(ctx, "features", resampleTo(*resample))
	if err != nil {
		return err
	}
	defer func() { s.close(ctx, err == nil) }()

	rows, err := s.runner().Features(ctx, s.patients)
	if err != nil {
		return err
	}
	if err := s.writeFeatures(rows, *chart); err != nil {
		return err
	}
	printFeatures(rows)
	return nil
}

// resampleTo enables isotropic resampling at spacing mm when positive.
func resampleTo(spacing float64) func(*config.Config) {
	return func(cfg *config.Config) {
		if spacing > 0 {
			cfg.Experiment.Resample = experiment.ResampleOptions{Enabled: true, Spacing: [3]float64{spacing, spacing, spacing}}
		}
	}
}

// writeFeatures writes the feature table and, when chart is set, the shape
// chart of rows.
func (s *session) writeFeatures(rows []experiment.FeatureRow, chart bool) error {
	if _, err := s.writeOutput("features.xlsx", func(w io.Writer) error {
		return report.WriteFeatureTable(w, rows)
	}); err != nil {
		return err
	}
	if !chart {
		return nil
	}
	_, err := s.writeOutput("features.html", func(w io.Writer) error {
		return report.FeatureChart(w, rows)
	})
	return err
}

func printFeatures(rows []experiment.FeatureRow) {
	for _, r := range rows {
		fmt.Printf("%d\t%s\tmask %d\tsphericity %.4f\telongation %.4f\tenergy %.5f\n",
			r.Index, r.PatientID, r.Mask, r.Sphericity, r.Elongation, r.Energy)
	}
}

func runStudy(ctx context.Context, args []string) (err error) {
	var c common
	fs := flag.NewFlagSet("study", flag.ContinueOnError)
	c.register(fs)
	markers := fs.Bool("markers", false, "flood the eroded nodule mask as its own basin in the level search")
	resample := fs.Float64("resample", 0, "resample to this isotropic spacing in mm before describing (0 keeps the configuration)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	s, err := c.open(ctx, "study", resampleTo(*resample), func(cfg *config.Config) {
		if *markers {
			cfg.Experiment.Marker.Enabled = true
		}
	})
	if err != nil {
		return err
	}
	defer func() { s.close(ctx, err == nil) }()

	rep, err := s.runner().Study(ctx, s.patients)
	if err != nil {
		return err
	}
	if err := s.writeLevels(rep.Levels, true); err != nil {
		return err
	}
	if _, err := s.writeOutput("acceptance.xlsx", func(w io.Writer) error {
		return report.WriteAcceptanceTable(w, rep.Acceptance)
	}); err != nil {
		return err
	}
	if err := s.writeFeatures(rep.Features, true); err != nil {
		return err
	}

	printLevels(rep.Levels)
	printAcceptance(rep.Acceptance)
	printFeatures(rep.Features)
	return nil
}

func runRender(ctx context.Context, args []string) (err error) {
	var c common
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	c.register(fs)
	patient := fs.String("patient", "", "patient ID (required)")
	nodule := fs.Int("nodule", -1, "nodule mask index (default from configuration)")
	slice := fs.Int("slice", -1, "axial slice (default: largest section of the nodule)")
	overlay := fs.String("overlay", "mask", "overlay: mask, watershed or none")
	level := fs.Float64("level", 0, "watershed level of the watershed overlay (default: first configured level)")
	lungs := fs.Bool("lungs", false, "render the segmented lungs instead of the raw CT")
	zoom := fs.Int("zoom", 0, "crop to the nodule grown by this many pixels (0 keeps the full slice)")
	scale := fs.Float64("scale", 1, "scale factor of a zoomed crop")
	opacity := fs.Float64("opacity", report.DefaultOpacity, "overlay opacity")
	out := fs.String("out", "", "output PNG (default <output_dir>/<patient>_slice<z>.png)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *patient == "" {
		return errors.New("-patient is required")
	}
	switch *overlay {
	case "mask", "watershed", "none":
	default:
		return fmt.Errorf("unknown overlay %q", *overlay)
	}

	c.patients = *patient
	s, err := c.open(ctx, "render")
	if err != nil {
		return err
	}
	defer func() { s.close(ctx, err == nil) }()

	if *nodule >= 0 {
		s.cfg.Experiment.Nodule = *nodule
	}
	prep, err := s.runner().Prepare(s.patients[0])
	if err != nil {
		return err
	}

	z := *slice
	if z < 0 {
		z, err = report.NoduleSlice(prep.Nodule)
		if err != nil {
			return err
		}
	}

	image := prep.Case.CT
	if *lungs {
		image = prep.Lungs
	}

	opts := report.RenderOptions{Opacity: *opacity, Scale: *scale}
	switch *overlay {
	case "mask":
		opts.Labels = prep.Nodule
	case "watershed":
		lvl := *level
		if lvl == 0 {
			lvl = s.cfg.Experiment.Levels[0]
		}
		opts.Labels = segment.MorphologicalWatershed(filter.GradientMagnitude(prep.Lungs), lvl, true)
	}
	if *zoom > 0 {
		opts.Crop, err = report.MaskRect(prep.Nodule, z, *zoom)
		if err != nil {
			return fmt.Errorf("nodule is not visible on slice %d: %w", z, err)
		}
	}

	path := *out
	if path == "" {
		path, err = s.output(fmt.Sprintf("%s_slice%03d.png", prep.Case.Patient.ID, z))
		if err != nil {
			return err
		}
	}
	if err := report.RenderSlice(path, image, z, opts); err != nil {
		return err
	}
	logging.Info(logging.Fields{"file": path, "slice": z, "overlay": *overlay}, "[main] slice rendered")
	fmt.Println(path)
	return nil
}

func runMesh(ctx context.Context, args []string) (err error) {
	var c common
	fs := flag.NewFlagSet("mesh", flag.ContinueOnError)
	c.register(fs)
	patient := fs.String("patient", "", "patient ID (required)")
	nodule := fs.Int("nodule", 0, "nodule mask index")
	out := fs.String("out", "", "output STL (default <output_dir>/<patient>_nodule<n>.stl)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *patient == "" {
		return errors.New("-patient is required")
	}

	c.patients = *patient
	s, err := c.open(ctx, "mesh")
	if err != nil {
		return err
	}
	defer func() { s.close(ctx, err == nil) }()

	p := s.patients[0]
	cse, err := dataset.Load(p)
	if err != nil {
		return err
	}
	mask, err := cse.Nodule(*nodule)
	if err != nil {
		return err
	}
	mesh, err := radiomics.RegionMesh(mask, experiment.NoduleLabel)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s_nodule%d", p.ID, *nodule)
	write := func(w io.Writer) error { return mesh.WriteSTL(w, name) }
	path := *out
	if path == "" {
		if path, err = s.writeOutput(name+".stl", write); err != nil {
			return err
		}
	} else {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := write(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	fmt.Printf("%s\t%d triangles\tvolume %.2f mm³\tarea %.2f mm²\n", path, len(mesh.Triangles), mesh.Volume(), mesh.SurfaceArea())
	return nil
}

func runRuns(ctx context.Context, args []string) (err error) {
	var c common
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	c.registerConfig(fs)
	id := fs.String("run", "", "show the results of this run")
	other := fs.String("compare", "", "compare the working levels of -run with this run")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *other != "" && *id == "" {
		return errors.New("-compare needs -run")
	}

	cfg, err := c.configure()
	if err != nil {
		return err
	}
	if cfg.Ledger == "" {
		return fmt.Errorf("no ledger configured, set %s", config.EnvLedger)
	}
	ledger, err := store.Open(cfg.Ledger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer func() {
		if ferr := w.Flush(); err == nil {
			err = ferr
		}
	}()

	switch {
	case *id == "":
		runs, err := ledger.Runs(ctx)
		if err != nil {
			return err
		}
		return listRuns(w, runs)
	case *other == "":
		sum, err := ledger.Summarize(ctx, *id)
		if err != nil {
			return err
		}
		return showRun(w, sum)
	default:
		a, err := ledger.Summarize(ctx, *id)
		if err != nil {
			return err
		}
		b, err := ledger.Summarize(ctx, *other)
		if err != nil {
			return err
		}
		return compareRuns(w, a, b)
	}
}

func listRuns(w io.Writer, runs []store.RunRow) error {
	fmt.Fprintln(w, "ID\tCOMMAND\tSTARTED\tFINISHED")
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt.Valid {
			finished = r.FinishedAt.String
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Command, r.StartedAt, finished); err != nil {
			return err
		}
	}
	return nil
}

func showRun(w io.Writer, sum *store.RunSummary) error {
	fmt.Fprintf(w, "run\t%s\t%s\t%s\n", sum.Run.ID, sum.Run.Command, sum.Run.StartedAt)
	fmt.Fprintf(w, "trials\t%d\tfeatures\t%d\n", sum.Trials, len(sum.Features))
	fmt.Fprintln(w, "PATIENT\tLEVELS\tACCEPTED")
	for _, id := range sum.Patients {
		levels := "-"
		if l, ok := sum.Levels[id]; ok {
			levels = fmt.Sprint(l)
		}
		accepted := "-"
		if t, ok := sum.Accepted[id]; ok {
			accepted = fmt.Sprintf("level %v, region %d", t.Level, t.Region)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", id, levels, accepted); err != nil {
			return err
		}
	}
	return nil
}

func compareRuns(w io.Writer, a, b *store.RunSummary) error {
	fmt.Fprintf(w, "A\t%s\t%s\n", a.Run.ID, a.Run.Command)
	fmt.Fprintf(w, "B\t%s\t%s\n", b.Run.ID, b.Run.Command)
	fmt.Fprintln(w, "PATIENT\tBOTH\tONLY A\tONLY B")
	for _, c := range store.CompareLevels(a, b) {
		if _, err := fmt.Fprintf(w, "%s\t%v\t%v\t%v\n", c.PatientID, c.Both, c.OnlyA, c.OnlyB); err != nil {
			return err
		}
	}
	return nil
}
