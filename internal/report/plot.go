package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ironsheep/nodule-watershed/internal/experiment"
)

// ErrNothingToPlot is returned when a report holds no diagnostics.
var ErrNothingToPlot = errors.New("no diagnostics to plot")

// Plot size of the coverage sweep.
const (
	PlotWidth  = 14 * vg.Inch
	PlotHeight = 6 * vg.Inch
)

// CoveragePlot builds the coverage sweep: the best coverage at each level,
// one line per patient, and a dashed line at threshold.
func CoveragePlot(levels *experiment.LevelsReport, threshold float64) (*plot.Plot, error) {
	if levels == nil {
		return nil, ErrNothingToPlot
	}

	p := plot.New()
	p.Title.Text = "Nodule coverage per watershed level"
	p.X.Label.Text = "Level"
	p.Y.Label.Text = "Coverage"
	p.Y.Min = 0
	p.Y.Max = 1

	colors := Palette(len(levels.Patients))
	minLevel, maxLevel := 0.0, 0.0
	points := 0
	for i, pl := range levels.Patients {
		if pl.Result == nil || len(pl.Result.Diagnostics) == 0 {
			continue
		}
		pts := make(plotter.XYs, 0, len(pl.Result.Diagnostics))
		for _, d := range pl.Result.Diagnostics {
			pts = append(pts, plotter.XY{X: d.Level, Y: d.Coverage})
			if points == 0 || d.Level < minLevel {
				minLevel = d.Level
			}
			if points == 0 || d.Level > maxLevel {
				maxLevel = d.Level
			}
			points++
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(pl.Patient.ID, line)
	}
	if points == 0 {
		return nil, ErrNothingToPlot
	}

	ref, err := plotter.NewLine(plotter.XYs{{X: minLevel, Y: threshold}, {X: maxLevel, Y: threshold}})
	if err != nil {
		return nil, err
	}
	ref.Color = color.Gray{Y: 96}
	ref.Width = vg.Points(1)
	ref.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	p.Add(ref)
	p.Legend.Add("threshold", ref)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteCoveragePNG writes the coverage sweep as PNG to w.
func WriteCoveragePNG(w io.Writer, levels *experiment.LevelsReport, threshold float64) error {
	p, err := CoveragePlot(levels, threshold)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(PlotWidth, PlotHeight, "png")
	if err != nil {
		return fmt.Errorf("encode coverage plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write coverage plot: %w", err)
	}
	return nil
}
