package analysis

import (
	"math"

	"github.com/montanaflynn/stats"

	"imfcscli/internal/imfcs"
	"imfcscli/pkg/contracts/domain"
)

// Describe summarizes a metric vector. NaN and Inf entries are dropped
// before any statistic is taken; an empty vector yields a zero-count
// summary with NaN moments.
func Describe(values []float64) domain.MetricStats {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}

	out := domain.MetricStats{Count: len(finite)}
	if len(finite) == 0 {
		out.Mean = math.NaN()
		out.Median = math.NaN()
		out.StdDev = math.NaN()
		out.P10 = math.NaN()
		out.P90 = math.NaN()
		return out
	}

	out.Mean = statOrNaN(stats.Mean(finite))
	out.Median = statOrNaN(stats.Median(finite))
	out.StdDev = statOrNaN(stats.StandardDeviationPopulation(finite))
	out.P10 = statOrNaN(stats.Percentile(finite, 10))
	out.P90 = statOrNaN(stats.Percentile(finite, 90))
	return out
}

// statOrNaN collapses the stats error return into NaN. The library refuses
// some percentile requests on very small samples; the summary reports NaN
// for those rather than failing the run.
func statOrNaN(v float64, err error) float64 {
	if err != nil {
		return math.NaN()
	}
	return v
}

// regionValues collects the plane values inside the region that pass the
// fitted mask. A nil region means the full frame, a nil mask admits every
// pixel. NaN plane values are kept; Describe drops them.
func regionValues(p *imfcs.Plane, region *domain.ROI, fitted *imfcs.Plane) []float64 {
	if p == nil {
		return nil
	}

	x0, y0 := 0, 0
	x1, y1 := p.Width, p.Height
	if region != nil {
		x0, y0 = region.X, region.Y
		x1, y1 = region.X+region.Width, region.Y+region.Height
	}

	values := make([]float64, 0, (x1-x0)*(y1-y0))
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			if fitted != nil && fitted.At(y, x) == 0 {
				continue
			}
			values = append(values, p.At(y, x))
		}
	}
	return values
}
