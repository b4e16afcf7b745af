package report

import (
	"fmt"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"imfcscli/internal/imfcs"
	"imfcscli/pkg/contracts/domain"
)

// WriteCalibrationReport renders the sweep of one calibration workbook:
// a D-vs-binning line per candidate PSF with the chosen one drawn heavier,
// and the raw grid points as a scatter.
func (g *Generator) WriteCalibrationReport(grid *imfcs.PSFGrid, cal domain.PSFCalibration, outputPath string) error {
	if grid == nil || grid.D == nil {
		return fmt.Errorf("calibration report needs a sweep grid")
	}

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("PSF calibration %s", cal.File)

	page.AddCharts(sweepLines(grid, cal))
	page.AddCharts(sweepScatter(grid, cal))

	return g.render(page, outputPath)
}

// sweepLines draws fitted D against binning for every swept PSF value.
func sweepLines(grid *imfcs.PSFGrid, cal domain.PSFCalibration) *charts.Line {
	params := grid.Params

	xs := make([]string, params.NumBin)
	for j := 0; j < params.NumBin; j++ {
		xs[j] = strconv.Itoa(params.BinStart + j)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    "D vs binning",
			Subtitle: fmt.Sprintf("%s: chosen PSF %.1f, best fit D %.4f um^2/s", cal.File, cal.CorrectPSF, cal.BestFitD),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "binning", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "D (um^2/s)"}),
	)
	line.SetXAxis(xs)

	for i := 0; i < params.NumPSF; i++ {
		row := make([]float64, params.NumBin)
		for j := 0; j < params.NumBin; j++ {
			row[j] = grid.D.At(i, j)
		}

		name := fmt.Sprintf("PSF %.1f", params.Value(i))
		width := float32(1)
		if i == cal.BestIndex {
			name += " (chosen)"
			width = 3
		}
		line.AddSeries(name, lineData(row),
			charts.WithLineStyleOpts(opts.LineStyle{Width: width}))
	}
	return line
}

// sweepScatter plots every finite grid point, colored by PSF index.
func sweepScatter(grid *imfcs.PSFGrid, cal domain.PSFCalibration) *charts.Scatter {
	params := grid.Params

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Sweep grid",
			Subtitle: fmt.Sprintf("RSD threshold %.2f", cal.RSDThreshold),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "binning", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "D (um^2/s)"}),
	)

	for i := 0; i < params.NumPSF; i++ {
		points := make([]opts.ScatterData, 0, params.NumBin)
		for j := 0; j < params.NumBin; j++ {
			d := grid.D.At(i, j)
			if math.IsNaN(d) || math.IsInf(d, 0) {
				continue
			}
			points = append(points, opts.ScatterData{
				Value: []interface{}{params.BinStart + j, d},
			})
		}
		name := fmt.Sprintf("PSF %.1f", params.Value(i))
		if i == cal.BestIndex {
			name += " (chosen)"
		}
		scatter.AddSeries(name, points,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}
	return scatter
}
