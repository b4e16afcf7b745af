package analysis

import (
	"fmt"
	"math"

	"imfcscli/internal/imfcs"
	"imfcscli/pkg/contracts/domain"
)

// Dataset is a batch of runs that share one acquisition schema (same lag
// grid, same fit parameter set), so their per-pixel maps can be pooled.
type Dataset struct {
	runs  []*imfcs.Run
	byKey map[string]*imfcs.Run
}

// NewDataset assembles schema-compatible runs into a dataset. The first run
// sets the schema; any run disagreeing on lag count or fit parameters is
// rejected.
func NewDataset(runs []*imfcs.Run) (*Dataset, error) {
	if len(runs) == 0 {
		return nil, fmt.Errorf("dataset: no runs")
	}

	first := runs[0]
	byKey := make(map[string]*imfcs.Run, len(runs))
	for _, r := range runs {
		if !first.SchemaCompatible(r) {
			return nil, fmt.Errorf("dataset: run %q does not match schema of %q: %w",
				r.Info.Key, first.Info.Key, domain.ErrSchemaMismatch)
		}
		if _, dup := byKey[r.Info.Key]; dup {
			return nil, fmt.Errorf("dataset: duplicate run key %q", r.Info.Key)
		}
		byKey[r.Info.Key] = r
	}

	return &Dataset{runs: runs, byKey: byKey}, nil
}

// Len returns the number of runs.
func (d *Dataset) Len() int {
	return len(d.runs)
}

// Runs returns the runs in load order.
func (d *Dataset) Runs() []*imfcs.Run {
	return d.runs
}

// Keys returns the run keys in load order.
func (d *Dataset) Keys() []string {
	keys := make([]string, len(d.runs))
	for i, r := range d.runs {
		keys[i] = r.Info.Key
	}
	return keys
}

// Run looks a run up by key.
func (d *Dataset) Run(key string) (*imfcs.Run, bool) {
	r, ok := d.byKey[key]
	return r, ok
}

// Lagtimes returns the shared lag grid.
func (d *Dataset) Lagtimes() []float64 {
	return d.runs[0].Lagtimes
}

// PooledD pools the finite diffusion coefficients of fitted pixels across
// every run, honoring each run's ROI.
func (d *Dataset) PooledD() []float64 {
	return d.pool(func(r *imfcs.Run) *imfcs.Plane { return r.DPlane() }, true)
}

// PooledN pools the finite particle numbers of fitted pixels across every
// run, honoring each run's ROI.
func (d *Dataset) PooledN() []float64 {
	return d.pool(func(r *imfcs.Run) *imfcs.Plane { return r.NPlane() }, true)
}

// PooledIntensity pools the finite average-intensity values across every
// run that carries an intensity image, honoring each run's ROI. The fitted
// mask is not applied.
func (d *Dataset) PooledIntensity() []float64 {
	return d.pool(func(r *imfcs.Run) *imfcs.Plane { return r.Intensity }, false)
}

func (d *Dataset) pool(plane func(*imfcs.Run) *imfcs.Plane, masked bool) []float64 {
	var pooled []float64
	for _, r := range d.runs {
		p := plane(r)
		if p == nil {
			continue
		}
		var flags *imfcs.Plane
		if masked {
			flags = r.FittedPlane()
		}
		for _, v := range regionValues(p, r.ROI, flags) {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				pooled = append(pooled, v)
			}
		}
	}
	return pooled
}

// MeanACF averages a run's observed correlation over its fitted pixels,
// one value per lag, honoring the run's ROI. Lags whose every admitted
// value is non-finite come out NaN.
func MeanACF(run *imfcs.Run) ([]float64, error) {
	if run == nil || run.ACF == nil || run.FitResults == nil {
		return nil, fmt.Errorf("mean acf: run not loaded")
	}

	flags := run.FittedPlane()
	region := run.ROI
	sums := make([]float64, run.ACF.Depth)
	counts := make([]int, run.ACF.Depth)

	for y := 0; y < run.ACF.Height; y++ {
		for x := 0; x < run.ACF.Width; x++ {
			if region != nil && !region.Contains(x, y) {
				continue
			}
			if flags.At(y, x) == 0 {
				continue
			}
			for k, v := range run.ACF.Series(y, x) {
				if !math.IsNaN(v) && !math.IsInf(v, 0) {
					sums[k] += v
					counts[k]++
				}
			}
		}
	}

	out := make([]float64, run.ACF.Depth)
	for k := range out {
		if counts[k] == 0 {
			out[k] = math.NaN()
			continue
		}
		out[k] = sums[k] / float64(counts[k])
	}
	return out, nil
}
