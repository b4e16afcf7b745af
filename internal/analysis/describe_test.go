package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	t.Run("drops non-finite values", func(t *testing.T) {
		values := []float64{1, 2, 3, 4, 5, math.NaN(), math.Inf(1), math.Inf(-1)}

		ms := Describe(values)
		assert.Equal(t, 5, ms.Count)
		assert.InDelta(t, 3.0, ms.Mean, 1e-12)
		assert.InDelta(t, 3.0, ms.Median, 1e-12)
		assert.InDelta(t, math.Sqrt(2.0), ms.StdDev, 1e-12)
	})

	t.Run("deciles on ten values", func(t *testing.T) {
		values := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}

		ms := Describe(values)
		assert.Equal(t, 10, ms.Count)
		assert.InDelta(t, 5.5, ms.Mean, 1e-12)
		assert.InDelta(t, 5.5, ms.Median, 1e-12)
		assert.InDelta(t, 1.0, ms.P10, 1e-12)
		assert.InDelta(t, 9.0, ms.P90, 1e-12)
	})

	t.Run("small sample deciles degrade to NaN", func(t *testing.T) {
		// The percentile routine refuses a 10th percentile of five values;
		// the summary carries NaN there instead of failing.
		values := []float64{1, 2, 3, 4, 5}

		ms := Describe(values)
		assert.Equal(t, 5, ms.Count)
		assert.True(t, math.IsNaN(ms.P10))
		assert.InDelta(t, 4.5, ms.P90, 1e-12)
	})

	t.Run("single value", func(t *testing.T) {
		ms := Describe([]float64{7.5})
		assert.Equal(t, 1, ms.Count)
		assert.Equal(t, 7.5, ms.Mean)
		assert.Equal(t, 7.5, ms.Median)
		assert.Equal(t, 0.0, ms.StdDev)
		assert.Equal(t, 7.5, ms.P10)
		assert.Equal(t, 7.5, ms.P90)
	})

	t.Run("empty input", func(t *testing.T) {
		ms := Describe(nil)
		assert.Equal(t, 0, ms.Count)
		assert.True(t, math.IsNaN(ms.Mean))
		assert.True(t, math.IsNaN(ms.Median))
		assert.True(t, math.IsNaN(ms.StdDev))
		assert.True(t, math.IsNaN(ms.P10))
		assert.True(t, math.IsNaN(ms.P90))
	})
}
