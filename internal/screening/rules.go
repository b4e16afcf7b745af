package screening

import (
	"time"

	"imfcscli/pkg/contracts/domain"
)

// Rule names as they appear in rule outcomes and reports.
const (
	RuleMinValidPixels    = "min_valid_pixels"
	RuleMaxMeanNRMSD      = "max_mean_nrmsd"
	RuleMinD              = "min_d"
	RuleMaxD              = "max_d"
	RuleMinMeanSNR        = "min_mean_snr"
	RuleMinFittedFraction = "min_fitted_fraction"
)

// Evaluate applies the screening rules to a run summary. Hard rules
// (pixel count, fit quality, diffusion range) fail the run outright; soft
// rules (signal-to-noise, fitted fraction) only flag it for review. A rule
// whose observed value is NaN never passes.
//
// A summary carrying a load error fails without evaluating any rule.
func Evaluate(summary domain.RunSummary, rules domain.Rules) domain.ScreeningResult {
	result := domain.ScreeningResult{
		RunKey:     summary.Key,
		Summary:    summary,
		ScreenedAt: time.Now().UTC(),
	}

	if summary.Error != "" {
		result.Verdict = domain.VerdictFail
		return result
	}

	result.Outcomes = []domain.RuleOutcome{
		{
			Name:      RuleMinValidPixels,
			Hard:      true,
			Value:     float64(summary.ValidPixels),
			Threshold: float64(rules.MinValidPixels),
			Passed:    summary.ValidPixels >= rules.MinValidPixels,
		},
		{
			Name:      RuleMaxMeanNRMSD,
			Hard:      true,
			Value:     summary.NRMSD.Mean,
			Threshold: rules.MaxMeanNRMSD,
			Passed:    summary.NRMSD.Mean <= rules.MaxMeanNRMSD,
		},
		{
			Name:      RuleMinD,
			Hard:      true,
			Value:     summary.D.Mean,
			Threshold: rules.MinD,
			Passed:    summary.D.Mean >= rules.MinD,
		},
		{
			Name:      RuleMaxD,
			Hard:      true,
			Value:     summary.D.Mean,
			Threshold: rules.MaxD,
			Passed:    summary.D.Mean <= rules.MaxD,
		},
		{
			Name:      RuleMinMeanSNR,
			Hard:      false,
			Value:     summary.SNR.Mean,
			Threshold: rules.MinMeanSNR,
			Passed:    summary.SNR.Mean >= rules.MinMeanSNR,
		},
		{
			Name:      RuleMinFittedFraction,
			Hard:      false,
			Value:     summary.FittedFraction,
			Threshold: rules.MinFittedFraction,
			Passed:    summary.FittedFraction >= rules.MinFittedFraction,
		},
	}

	result.Verdict = verdictOf(result.Outcomes)
	return result
}

func verdictOf(outcomes []domain.RuleOutcome) domain.Verdict {
	verdict := domain.VerdictPass
	for _, o := range outcomes {
		if o.Passed {
			continue
		}
		if o.Hard {
			return domain.VerdictFail
		}
		verdict = domain.VerdictReview
	}
	return verdict
}
