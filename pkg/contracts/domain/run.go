package domain

import (
	"time"
)

// AcquisitionParams holds the acquisition settings recorded by the imaging
// plugin in the "Panel Parameters" sheet of a saved workbook.
type AcquisitionParams struct {
	ImageWidth       int     `json:"image_width" validate:"required,min=1"`
	ImageHeight      int     `json:"image_height" validate:"required,min=1"`
	BinningX         int     `json:"binning_x" validate:"min=1"`
	BinningY         int     `json:"binning_y" validate:"min=1"`
	Overlap          bool    `json:"overlap"`
	FrameTime        float64 `json:"frame_time" validate:"gt=0"`
	BleachCorrection string  `json:"bleach_correction,omitempty"`
	PolynomialOrder  int     `json:"polynomial_order,omitempty"`
}

// Pixels returns the number of pixels in one correlation plane.
func (p AcquisitionParams) Pixels() int {
	return p.ImageWidth * p.ImageHeight
}

// RunInfo identifies one acquisition run and the artifacts that belong to it.
// The key is the shared filename stem of the run's output files.
type RunInfo struct {
	Key       string            `json:"key" validate:"required"`
	Files     []string          `json:"files"`
	Params    AcquisitionParams `json:"params"`
	NumLags   int               `json:"num_lags"`
	FitParams []string          `json:"fit_params,omitempty"`
	LoadedAt  time.Time         `json:"loaded_at,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Loaded reports whether the run's workbook was parsed successfully.
func (r RunInfo) Loaded() bool {
	return r.Error == "" && !r.LoadedAt.IsZero()
}

// ROI is a rectangular region of interest in pixel coordinates. X and Y are
// the top-left corner. A nil ROI means the full frame.
type ROI struct {
	X      int `json:"x" validate:"min=0"`
	Y      int `json:"y" validate:"min=0"`
	Width  int `json:"width" validate:"min=1"`
	Height int `json:"height" validate:"min=1"`
}

// Validate checks the rectangle against the image dimensions.
func (r ROI) Validate(imageWidth, imageHeight int) error {
	if r.Width < 1 || r.Height < 1 {
		return ErrEmptyROI
	}
	if r.X < 0 || r.Y < 0 || r.X+r.Width > imageWidth || r.Y+r.Height > imageHeight {
		return ErrROIOutOfBounds
	}
	return nil
}

// Contains reports whether the pixel (x, y) lies inside the rectangle.
func (r ROI) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}
