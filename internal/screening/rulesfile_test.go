package screening

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imfcscli/pkg/contracts/domain"
)

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadRules(t *testing.T) {
	t.Run("full file", func(t *testing.T) {
		path := writeRulesFile(t, `
max_mean_nrmsd: 1.5
min_mean_snr: 2.0
min_fitted_fraction: 0.6
min_d: 0.1
max_d: 50.0
min_valid_pixels: 32
`)
		rules, err := LoadRules(path)
		require.NoError(t, err)
		assert.Equal(t, 1.5, rules.MaxMeanNRMSD)
		assert.Equal(t, 2.0, rules.MinMeanSNR)
		assert.Equal(t, 0.6, rules.MinFittedFraction)
		assert.Equal(t, 0.1, rules.MinD)
		assert.Equal(t, 50.0, rules.MaxD)
		assert.Equal(t, 32, rules.MinValidPixels)
	})

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := writeRulesFile(t, "min_valid_pixels: 64\n")

		rules, err := LoadRules(path)
		require.NoError(t, err)

		defaults := domain.DefaultRules()
		assert.Equal(t, 64, rules.MinValidPixels)
		assert.Equal(t, defaults.MaxMeanNRMSD, rules.MaxMeanNRMSD)
		assert.Equal(t, defaults.MaxD, rules.MaxD)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read rules file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeRulesFile(t, "max_mean_nrmsd: [not a number\n")
		_, err := LoadRules(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse rules file")
	})

	t.Run("out of range thresholds", func(t *testing.T) {
		path := writeRulesFile(t, "max_mean_nrmsd: -1.0\n")
		_, err := LoadRules(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid rules")
	})

	t.Run("inverted diffusion range", func(t *testing.T) {
		path := writeRulesFile(t, "min_d: 10.0\nmax_d: 1.0\n")
		_, err := LoadRules(path)
		require.Error(t, err)
	})
}

func TestSaveRules(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		rules := domain.DefaultRules()
		rules.MinValidPixels = 8
		rules.MaxMeanNRMSD = 1.25

		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, SaveRules(path, rules))

		loaded, err := LoadRules(path)
		require.NoError(t, err)
		assert.Equal(t, rules, loaded)
	})

	t.Run("rejects invalid thresholds", func(t *testing.T) {
		bad := domain.DefaultRules()
		bad.MaxMeanNRMSD = -1

		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.Error(t, SaveRules(path, bad))
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestValidateRules(t *testing.T) {
	assert.NoError(t, ValidateRules(domain.DefaultRules()))

	bad := domain.DefaultRules()
	bad.MinFittedFraction = 1.5
	assert.Error(t, ValidateRules(bad))
}
