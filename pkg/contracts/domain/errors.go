package domain

import "errors"

var (
	// ErrEmptyROI indicates a region of interest with no area.
	ErrEmptyROI = errors.New("roi has no area")

	// ErrROIOutOfBounds indicates a region of interest outside the image.
	ErrROIOutOfBounds = errors.New("roi exceeds image bounds")

	// ErrSchemaMismatch indicates runs with incompatible measurement schemas
	// grouped into one batch.
	ErrSchemaMismatch = errors.New("runs have incompatible measurement schemas")
)
