package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ironsheep/nodule-watershed/internal/experiment"
)

// FeatureChart renders an HTML scatter of sphericity against elongation,
// one series per patient. Hovering a point shows its row index, mask and
// joint energy.
func FeatureChart(w io.Writer, rows []experiment.FeatureRow) error {
	var order []string
	series := make(map[string][]opts.ScatterData)
	for _, r := range rows {
		if _, ok := series[r.PatientID]; !ok {
			order = append(order, r.PatientID)
		}
		series[r.PatientID] = append(series[r.PatientID], opts.ScatterData{
			Name:  fmt.Sprintf("#%d mask %d energy %.4g", r.Index, r.Mask, r.Energy),
			Value: []interface{}{r.Sphericity, r.Elongation},
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Nodule shape", Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "Nodule shape", Subtitle: fmt.Sprintf("masks=%d patients=%d", len(rows), len(order))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: 1, Name: "Sphericity", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "Elongation", NameLocation: "middle", NameGap: 30}),
	)
	for _, id := range order {
		scatter.AddSeries(id, series[id], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("failed to render feature chart: %w", err)
	}
	return nil
}
