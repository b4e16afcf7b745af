package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/aybabtme/uniplot/histogram"

	"imfcscli/pkg/contracts/domain"
)

// WriteTerminalSummary prints the after-screening summary: verdict counts,
// one line per run sorted by key, and the pooled intensity distribution.
func WriteTerminalSummary(w io.Writer, results []domain.ScreeningResult, intensity []float64) error {
	counts := make(map[domain.Verdict]int, 3)
	for _, result := range results {
		counts[result.Verdict]++
	}
	fmt.Fprintf(w, "screened %d runs: %d pass, %d review, %d fail\n",
		len(results),
		counts[domain.VerdictPass],
		counts[domain.VerdictReview],
		counts[domain.VerdictFail])

	sorted := make([]domain.ScreeningResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RunKey < sorted[j].RunKey
	})

	for _, result := range sorted {
		fmt.Fprintf(w, "  %-24s %-7s D=%s NRMSD=%s SNR=%s\n",
			result.RunKey,
			result.Verdict,
			termFloat(result.Summary.D.Mean),
			termFloat(result.Summary.NRMSD.Mean),
			termFloat(result.Summary.SNR.Mean))

		if result.Summary.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", result.Summary.Error)
			continue
		}
		if failed := failedRuleNames(result); len(failed) > 0 {
			fmt.Fprintf(w, "    failed: %s\n", strings.Join(failed, ", "))
		}
	}

	if len(intensity) > 0 {
		fmt.Fprintf(w, "\nintensity distribution (%d pixels):\n", len(intensity))
		if err := histogram.Fprint(w, histogram.Hist(10, intensity), histogram.Linear(40)); err != nil {
			return fmt.Errorf("failed to print intensity histogram: %w", err)
		}
	}
	return nil
}

// WriteCalibrationSummary prints one line per calibrated workbook.
func WriteCalibrationSummary(w io.Writer, cals []domain.PSFCalibration) {
	for _, cal := range cals {
		fmt.Fprintf(w, "%s: PSF %.1f (best fit D %s, mean D %s um^2/s)\n",
			cal.File,
			cal.CorrectPSF,
			termFloat(cal.BestFitD),
			termFloat(cal.MeanD))
	}
}

func failedRuleNames(result domain.ScreeningResult) []string {
	var failed []string
	for _, outcome := range result.Outcomes {
		if !outcome.Passed {
			failed = append(failed, outcome.Name)
		}
	}
	return failed
}

func termFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}
