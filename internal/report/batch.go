package report

import (
	"fmt"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"imfcscli/internal/analysis"
	"imfcscli/pkg/contracts/domain"
)

// BatchData is everything the batch report page draws from.
type BatchData struct {
	BatchID   string
	Directory string
	Dataset   *analysis.Dataset
	Results   []domain.ScreeningResult
}

// WriteBatchReport renders one self-contained HTML page for a screened
// batch: the verdict breakdown, the pooled diffusion and intensity
// distributions, and the mean correlation curves of the best and worst
// fitted runs.
func (g *Generator) WriteBatchReport(data BatchData, outputPath string) error {
	if data.Dataset == nil || data.Dataset.Len() == 0 {
		return fmt.Errorf("batch report needs a loaded dataset")
	}

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Batch %s", data.BatchID)

	page.AddCharts(verdictBar(data))

	if pooled := data.Dataset.PooledD(); len(pooled) > 0 {
		page.AddCharts(histogramBar("Diffusion coefficient", "um^2/s", pooled))
	}
	if pooled := data.Dataset.PooledIntensity(); len(pooled) > 0 {
		page.AddCharts(histogramBar("Average intensity", "counts", pooled))
	}
	if line := acfLines(data); line != nil {
		page.AddCharts(line)
	}

	return g.render(page, outputPath)
}

// verdictBar counts runs per verdict.
func verdictBar(data BatchData) *charts.Bar {
	counts := make(map[domain.Verdict]int, 3)
	for _, result := range data.Results {
		counts[result.Verdict]++
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Screening verdicts",
			Subtitle: fmt.Sprintf("directory %s, %d runs", data.Directory, len(data.Results)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis([]string{"pass", "review", "fail"}).
		AddSeries("runs", []opts.BarData{
			{Value: counts[domain.VerdictPass]},
			{Value: counts[domain.VerdictReview]},
			{Value: counts[domain.VerdictFail]},
		}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	return bar
}

// acfLines plots the mean observed correlation of the best and worst
// fitted runs (by mean NRMSD). Returns nil when no run has a usable NRMSD.
func acfLines(data BatchData) *charts.Line {
	bestKey, worstKey := "", ""
	bestVal, worstVal := math.Inf(1), math.Inf(-1)
	for _, result := range data.Results {
		if result.Summary.Error != "" {
			continue
		}
		nrmsd := result.Summary.NRMSD.Mean
		if math.IsNaN(nrmsd) {
			continue
		}
		if _, ok := data.Dataset.Run(result.RunKey); !ok {
			continue
		}
		if nrmsd < bestVal {
			bestVal, bestKey = nrmsd, result.RunKey
		}
		if nrmsd > worstVal {
			worstVal, worstKey = nrmsd, result.RunKey
		}
	}
	if bestKey == "" {
		return nil
	}

	lags := data.Dataset.Lagtimes()
	xs := make([]string, len(lags))
	for i, lag := range lags {
		xs[i] = strconv.FormatFloat(lag, 'g', 4, 64)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Mean ACF",
			Subtitle: fmt.Sprintf("best %s (NRMSD %.3f), worst %s (NRMSD %.3f)", bestKey, bestVal, worstKey, worstVal),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "lag (s)", NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "G(tau)"}),
	)
	line.SetXAxis(xs)

	addACFSeries(line, data.Dataset, "best "+bestKey, bestKey)
	if worstKey != bestKey {
		addACFSeries(line, data.Dataset, "worst "+worstKey, worstKey)
	}
	return line
}

func addACFSeries(line *charts.Line, dataset *analysis.Dataset, name, key string) {
	run, ok := dataset.Run(key)
	if !ok {
		return
	}
	curve, err := analysis.MeanACF(run)
	if err != nil {
		return
	}
	line.AddSeries(name, lineData(curve))
}

// lineData converts a curve to chart points, rendering non-finite values
// as gaps.
func lineData(values []float64) []opts.LineData {
	points := make([]opts.LineData, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			points[i] = opts.LineData{Value: nil}
			continue
		}
		points[i] = opts.LineData{Value: v}
	}
	return points
}
