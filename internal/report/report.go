package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"imfcscli/internal/config"
)

const (
	chartWidth  = "820px"
	chartHeight = "420px"

	histogramBins = 20
)

// Generator renders report pages into the reports directory.
type Generator struct {
	paths *config.Paths
}

// NewGenerator creates a new report generator
func NewGenerator(paths *config.Paths) *Generator {
	return &Generator{paths: paths}
}

// resolvePath resolves a report path relative to the reports directory.
func (g *Generator) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return g.paths.GetReportPath(strings.TrimPrefix(path, "reports/"))
}

// render writes a page to the given path, creating directories as needed.
func (g *Generator) render(page *components.Page, outputPath string) error {
	fullPath := g.resolvePath(outputPath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	if err := page.Render(file); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

// histogramBar builds a bar chart over the distribution of values. The
// buckets come from the same partitioning the terminal summary prints, so
// both views of a dataset agree.
func histogramBar(title, unit string, values []float64) *charts.Bar {
	hist := histogram.Hist(histogramBins, values)

	xs := make([]string, 0, len(hist.Buckets))
	ys := make([]opts.BarData, 0, len(hist.Buckets))
	for _, bucket := range hist.Buckets {
		mid := (bucket.Min + bucket.Max) / 2
		xs = append(xs, strconv.FormatFloat(mid, 'g', 3, 64))
		ys = append(ys, opts.BarData{Value: bucket.Count})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("n=%d", len(values))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: unit, NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "pixels"}),
	)
	bar.SetXAxis(xs).AddSeries("count", ys)
	return bar
}
