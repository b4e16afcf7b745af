package domain

import (
	"encoding/json"
	"time"
)

// MetricStats summarizes one per-pixel metric over the evaluated region.
// Moments are NaN when the region holds no finite values.
type MetricStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	P10    float64 `json:"p10"`
	P90    float64 `json:"p90"`
	Count  int     `json:"count"`
}

type metricStatsJSON struct {
	Mean   *float64 `json:"mean"`
	Median *float64 `json:"median"`
	StdDev *float64 `json:"std_dev"`
	P10    *float64 `json:"p10"`
	P90    *float64 `json:"p90"`
	Count  int      `json:"count"`
}

// MarshalJSON renders non-finite moments as null.
func (m MetricStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(metricStatsJSON{
		Mean:   jsonFloat(m.Mean),
		Median: jsonFloat(m.Median),
		StdDev: jsonFloat(m.StdDev),
		P10:    jsonFloat(m.P10),
		P90:    jsonFloat(m.P90),
		Count:  m.Count,
	})
}

// UnmarshalJSON reads null moments back as NaN.
func (m *MetricStats) UnmarshalJSON(data []byte) error {
	var raw metricStatsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Mean = floatFromJSON(raw.Mean)
	m.Median = floatFromJSON(raw.Median)
	m.StdDev = floatFromJSON(raw.StdDev)
	m.P10 = floatFromJSON(raw.P10)
	m.P90 = floatFromJSON(raw.P90)
	m.Count = raw.Count
	return nil
}

// RunSummary holds the derived per-run statistics used for screening.
// Diffusion coefficients are in um^2/s.
type RunSummary struct {
	Key            string      `json:"key" validate:"required"`
	TotalPixels    int         `json:"total_pixels"`
	ValidPixels    int         `json:"valid_pixels"`
	FittedFraction float64     `json:"fitted_fraction"`
	D              MetricStats `json:"d"`
	N              MetricStats `json:"n"`
	NRMSD          MetricStats `json:"nrmsd"`
	SNR            MetricStats `json:"snr"`
	Intensity      MetricStats `json:"intensity"`
	ROI            *ROI        `json:"roi,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// Verdict classifies a screened run.
type Verdict string

const (
	VerdictPass   Verdict = "pass"
	VerdictReview Verdict = "review"
	VerdictFail   Verdict = "fail"
)

// Rules defines the screening thresholds. Hard rules fail a run outright,
// soft rules only flag it for review.
type Rules struct {
	MaxMeanNRMSD      float64 `json:"max_mean_nrmsd" yaml:"max_mean_nrmsd" validate:"gt=0"`
	MinMeanSNR        float64 `json:"min_mean_snr" yaml:"min_mean_snr" validate:"gte=0"`
	MinFittedFraction float64 `json:"min_fitted_fraction" yaml:"min_fitted_fraction" validate:"min=0,max=1"`
	MinD              float64 `json:"min_d" yaml:"min_d" validate:"gte=0"`
	MaxD              float64 `json:"max_d" yaml:"max_d" validate:"gtefield=MinD"`
	MinValidPixels    int     `json:"min_valid_pixels" yaml:"min_valid_pixels" validate:"min=0"`
}

// DefaultRules returns the screening thresholds used when no rules file is
// supplied.
func DefaultRules() Rules {
	return Rules{
		MaxMeanNRMSD:      2.0,
		MinMeanSNR:        1.0,
		MinFittedFraction: 0.5,
		MinD:              0.01,
		MaxD:              100.0,
		MinValidPixels:    16,
	}
}

// RuleOutcome records the evaluation of a single rule against a run. The
// observed value is NaN when the underlying metric could not be computed;
// such rules never pass.
type RuleOutcome struct {
	Name      string  `json:"name"`
	Hard      bool    `json:"hard"`
	Passed    bool    `json:"passed"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

type ruleOutcomeJSON struct {
	Name      string   `json:"name"`
	Hard      bool     `json:"hard"`
	Passed    bool     `json:"passed"`
	Value     *float64 `json:"value"`
	Threshold float64  `json:"threshold"`
}

// MarshalJSON renders a non-finite observed value as null.
func (r RuleOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(ruleOutcomeJSON{
		Name:      r.Name,
		Hard:      r.Hard,
		Passed:    r.Passed,
		Value:     jsonFloat(r.Value),
		Threshold: r.Threshold,
	})
}

// UnmarshalJSON reads a null observed value back as NaN.
func (r *RuleOutcome) UnmarshalJSON(data []byte) error {
	var raw ruleOutcomeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Name = raw.Name
	r.Hard = raw.Hard
	r.Passed = raw.Passed
	r.Value = floatFromJSON(raw.Value)
	r.Threshold = raw.Threshold
	return nil
}

// ScreeningResult is the verdict for one run together with the summary and
// rule outcomes that produced it.
type ScreeningResult struct {
	RunKey     string        `json:"run_key" validate:"required"`
	Verdict    Verdict       `json:"verdict"`
	Outcomes   []RuleOutcome `json:"outcomes,omitempty"`
	Summary    RunSummary    `json:"summary"`
	ScreenedAt time.Time     `json:"screened_at"`
}

// Failed reports whether the run was rejected.
func (s ScreeningResult) Failed() bool {
	return s.Verdict == VerdictFail
}
