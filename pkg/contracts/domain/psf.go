package domain

import (
	"encoding/json"
	"time"
)

// PSFParams holds the calibration sweep parameters read from the PSF sheet
// of a calibration workbook.
type PSFParams struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Step     float64 `json:"step" validate:"gt=0"`
	NumPSF   int     `json:"num_psf"`
	NumBin   int     `json:"num_bin"`
	BinStart int     `json:"bin_start"`
	BinEnd   int     `json:"bin_end"`
}

// Value returns the PSF parameter at sweep index i.
func (p PSFParams) Value(i int) float64 {
	return p.Start + float64(i)*p.Step
}

// PSFCalibration is the result of calibrating the point spread function
// parameter from one workbook: per-PSF line fits of diffusion coefficient
// against pixel binning and the minimum-slope selection.
type PSFCalibration struct {
	File         string    `json:"file"`
	Params       PSFParams `json:"params"`
	RSDThreshold float64   `json:"rsd_threshold"`
	Slopes       []float64 `json:"slopes"`
	Intercepts   []float64 `json:"intercepts"`
	BestIndex    int       `json:"best_index"`
	CorrectPSF   float64   `json:"correct_psf"`
	BestFitD     float64   `json:"best_fit_d"`
	MeanD        float64   `json:"mean_d"`
	CalibratedAt time.Time `json:"calibrated_at"`
}

type psfCalibrationJSON struct {
	File         string     `json:"file"`
	Params       PSFParams  `json:"params"`
	RSDThreshold float64    `json:"rsd_threshold"`
	Slopes       []*float64 `json:"slopes"`
	Intercepts   []*float64 `json:"intercepts"`
	BestIndex    int        `json:"best_index"`
	CorrectPSF   float64    `json:"correct_psf"`
	BestFitD     float64    `json:"best_fit_d"`
	MeanD        float64    `json:"mean_d"`
	CalibratedAt time.Time  `json:"calibrated_at"`
}

// MarshalJSON renders sweep rows without a usable line fit (NaN slope and
// intercept) as null entries.
func (c PSFCalibration) MarshalJSON() ([]byte, error) {
	return json.Marshal(psfCalibrationJSON{
		File:         c.File,
		Params:       c.Params,
		RSDThreshold: c.RSDThreshold,
		Slopes:       jsonFloats(c.Slopes),
		Intercepts:   jsonFloats(c.Intercepts),
		BestIndex:    c.BestIndex,
		CorrectPSF:   c.CorrectPSF,
		BestFitD:     c.BestFitD,
		MeanD:        c.MeanD,
		CalibratedAt: c.CalibratedAt,
	})
}

// UnmarshalJSON reads null sweep entries back as NaN.
func (c *PSFCalibration) UnmarshalJSON(data []byte) error {
	var raw psfCalibrationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.File = raw.File
	c.Params = raw.Params
	c.RSDThreshold = raw.RSDThreshold
	c.Slopes = floatsFromJSON(raw.Slopes)
	c.Intercepts = floatsFromJSON(raw.Intercepts)
	c.BestIndex = raw.BestIndex
	c.CorrectPSF = raw.CorrectPSF
	c.BestFitD = raw.BestFitD
	c.MeanD = raw.MeanD
	c.CalibratedAt = raw.CalibratedAt
	return nil
}
