package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imfcscli/internal/exporter"
	"imfcscli/internal/files"
	"imfcscli/pkg/contracts/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveRules(t *testing.T) {
	tests := []struct {
		name          string
		rulesYAML     string
		writeFile     bool
		expectedNRMSD float64
	}{
		{
			name:          "missing file falls back to defaults",
			writeFile:     false,
			expectedNRMSD: domain.DefaultRules().MaxMeanNRMSD,
		},
		{
			name:          "valid file overrides thresholds",
			rulesYAML:     "max_mean_nrmsd: 1.25\nmin_mean_snr: 2.0\n",
			writeFile:     true,
			expectedNRMSD: 1.25,
		},
		{
			name:          "unparsable file falls back to defaults",
			rulesYAML:     "max_mean_nrmsd: [not, a, number]\n",
			writeFile:     true,
			expectedNRMSD: domain.DefaultRules().MaxMeanNRMSD,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rules.yaml")
			if tt.writeFile {
				require.NoError(t, os.WriteFile(path, []byte(tt.rulesYAML), 0644))
			}

			rules := resolveRules(path, testLogger())
			assert.Equal(t, tt.expectedNRMSD, rules.MaxMeanNRMSD)

			// Untouched thresholds keep their defaults either way.
			assert.Equal(t, domain.DefaultRules().MinFittedFraction, rules.MinFittedFraction)
		})
	}
}

func TestFilterScreenedRuns(t *testing.T) {
	groups := []files.RunGroup{
		{Key: "cell1"},
		{Key: "cell2"},
		{Key: "cell3"},
	}

	t.Run("missing table screens everything", func(t *testing.T) {
		outPath := filepath.Join(t.TempDir(), "combined.csv")

		existing, remaining := filterScreenedRuns(outPath, groups, testLogger())
		assert.Empty(t, existing)
		assert.Len(t, remaining, 3)
	})

	t.Run("screened keys are skipped", func(t *testing.T) {
		outPath := filepath.Join(t.TempDir(), "combined.csv")
		records := []exporter.ScreeningRecord{
			{Key: "cell1", Verdict: "pass", ScreenedAt: time.Now().UTC().Format(time.RFC3339)},
			{Key: "cell3", Verdict: "fail", ScreenedAt: time.Now().UTC().Format(time.RFC3339)},
		}
		require.NoError(t, exporter.WriteRecords(&records, outPath))

		existing, remaining := filterScreenedRuns(outPath, groups, testLogger())
		require.Len(t, existing, 2)
		require.Len(t, remaining, 1)
		assert.Equal(t, "cell2", remaining[0].Key)
	})

	t.Run("fully screened batch leaves nothing", func(t *testing.T) {
		outPath := filepath.Join(t.TempDir(), "combined.csv")
		records := []exporter.ScreeningRecord{
			{Key: "cell1"}, {Key: "cell2"}, {Key: "cell3"},
		}
		require.NoError(t, exporter.WriteRecords(&records, outPath))

		existing, remaining := filterScreenedRuns(outPath, groups, testLogger())
		assert.Len(t, existing, 3)
		assert.Empty(t, remaining)
	})
}

func TestWriteMergedTable(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "combined.csv")

	existing := []exporter.ScreeningRecord{
		{Key: "cell3", Verdict: "pass", ScreenedAt: "2026-08-20T10:00:00Z"},
	}
	results := []domain.ScreeningResult{
		{
			RunKey:  "cell1",
			Verdict: domain.VerdictReview,
			Summary: domain.RunSummary{
				Key:            "cell1",
				TotalPixels:    64,
				ValidPixels:    48,
				FittedFraction: 0.75,
			},
			ScreenedAt: time.Date(2026, 8, 21, 9, 30, 0, 0, time.UTC),
		},
	}

	require.NoError(t, writeMergedTable(existing, results, outPath))

	merged, err := exporter.ReadCombined(outPath)
	require.NoError(t, err)
	require.Len(t, merged, 2)

	// Rows are sorted by key, kept rows untouched.
	assert.Equal(t, "cell1", merged[0].Key)
	assert.Equal(t, "review", merged[0].Verdict)
	assert.Equal(t, 48, merged[0].ValidPixels)
	assert.Equal(t, "2026-08-21T09:30:00Z", merged[0].ScreenedAt)
	assert.Equal(t, "cell3", merged[1].Key)
	assert.Equal(t, "pass", merged[1].Verdict)
}
