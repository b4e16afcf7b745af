package analysis

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imfcscli/internal/imfcs"
	"imfcscli/pkg/contracts/domain"
)

func TestNewDataset(t *testing.T) {
	t.Run("compatible runs", func(t *testing.T) {
		ds, err := NewDataset([]*imfcs.Run{newTestRun("cell1_1"), newTestRun("cell2_1")})
		require.NoError(t, err)

		assert.Equal(t, 2, ds.Len())
		assert.Equal(t, []string{"cell1_1", "cell2_1"}, ds.Keys())
		assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, ds.Lagtimes())

		run, ok := ds.Run("cell2_1")
		require.True(t, ok)
		assert.Equal(t, "cell2_1", run.Info.Key)

		_, ok = ds.Run("missing")
		assert.False(t, ok)
	})

	t.Run("schema mismatch", func(t *testing.T) {
		odd := newTestRun("cell2_1")
		odd.Info.NumLags = 12

		_, err := NewDataset([]*imfcs.Run{newTestRun("cell1_1"), odd})
		require.ErrorIs(t, err, domain.ErrSchemaMismatch)
	})

	t.Run("fit parameter mismatch", func(t *testing.T) {
		odd := newTestRun("cell2_1")
		odd.Info.FitParams = []string{"Fitted", "N", "D", "G"}
		odd.FitParams = odd.Info.FitParams

		_, err := NewDataset([]*imfcs.Run{newTestRun("cell1_1"), odd})
		require.ErrorIs(t, err, domain.ErrSchemaMismatch)
	})

	t.Run("duplicate key", func(t *testing.T) {
		_, err := NewDataset([]*imfcs.Run{newTestRun("cell1_1"), newTestRun("cell1_1")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate run key")
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewDataset(nil)
		require.Error(t, err)
	})
}

func TestDatasetPooling(t *testing.T) {
	ds, err := NewDataset([]*imfcs.Run{newTestRun("cell1_1"), newTestRun("cell2_1")})
	require.NoError(t, err)

	// Each run contributes D = 1, 3, 2 from its three fitted pixels.
	pooledD := ds.PooledD()
	sort.Float64s(pooledD)
	assert.Equal(t, []float64{1, 1, 2, 2, 3, 3}, pooledD)

	pooledN := ds.PooledN()
	assert.Len(t, pooledN, 6)

	// Intensity ignores the fitted mask: all four pixels per run.
	pooledI := ds.PooledIntensity()
	assert.Len(t, pooledI, 8)
}

func TestDatasetPoolingHonorsROI(t *testing.T) {
	restricted := newTestRun("cell1_1")
	restricted.ROI = &domain.ROI{X: 0, Y: 0, Width: 1, Height: 2}

	ds, err := NewDataset([]*imfcs.Run{restricted, newTestRun("cell2_1")})
	require.NoError(t, err)

	// Restricted run contributes one fitted pixel, the other all three.
	assert.Len(t, ds.PooledD(), 4)
	assert.Len(t, ds.PooledIntensity(), 6)
}

func TestDatasetPoolingSkipsMissingIntensity(t *testing.T) {
	bare := newTestRun("cell1_1")
	bare.Intensity = nil

	ds, err := NewDataset([]*imfcs.Run{bare, newTestRun("cell2_1")})
	require.NoError(t, err)

	assert.Len(t, ds.PooledIntensity(), 4)
}

func TestMeanACF(t *testing.T) {
	t.Run("averages fitted pixels per lag", func(t *testing.T) {
		run := newTestRun("cell1_1")

		curve, err := MeanACF(run)
		require.NoError(t, err)
		require.Len(t, curve, 6)

		// Every series is identical, so the mean reproduces it.
		assert.InDelta(t, 10.0, curve[0], 1e-12)
		for k := 1; k < 6; k++ {
			assert.InDelta(t, float64(k), curve[k], 1e-12)
		}
	})

	t.Run("skips non-finite samples", func(t *testing.T) {
		run := newTestRun("cell1_1")
		run.ACF.Set(0, 0, 2, math.NaN())

		curve, err := MeanACF(run)
		require.NoError(t, err)
		// Lag 2 now averages the two remaining fitted pixels.
		assert.InDelta(t, 2.0, curve[2], 1e-12)
	})

	t.Run("all-NaN lag comes out NaN", func(t *testing.T) {
		run := newTestRun("cell1_1")
		for _, px := range [][2]int{{0, 0}, {0, 1}, {1, 1}} {
			run.ACF.Set(px[0], px[1], 3, math.NaN())
		}

		curve, err := MeanACF(run)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(curve[3]))
	})

	t.Run("not loaded", func(t *testing.T) {
		_, err := MeanACF(nil)
		require.Error(t, err)

		run := newTestRun("cell1_1")
		run.ACF = nil
		_, err = MeanACF(run)
		require.Error(t, err)
	})
}
