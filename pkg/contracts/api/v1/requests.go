// Package api contains API contract definitions for the ImFCS Pulse server.
// Version v1 represents the current stable API version.
package api

import (
	"imfcscli/pkg/contracts/domain"
)

// Common request parameters

// PaginationRequest represents common pagination parameters
type PaginationRequest struct {
	Page     int    `json:"page" query:"page" validate:"min=1"`
	PageSize int    `json:"page_size" query:"page_size" validate:"min=1,max=100"`
	Sort     string `json:"sort" query:"sort" validate:"omitempty,oneof=asc desc"`
	SortBy   string `json:"sort_by" query:"sort_by"`
}

// Operation API Requests

// ScreeningStartRequest represents a request to screen a batch directory.
type ScreeningStartRequest struct {
	Directory  string        `json:"directory" validate:"required"`
	Mode       string        `json:"mode" validate:"required,oneof=initial accumulative full"`
	MaxWorkers int           `json:"max_workers" validate:"omitempty,min=1,max=64"`
	Resume     bool          `json:"resume"`
	Rules      *domain.Rules `json:"rules,omitempty"`
}

// CalibrationStartRequest represents a request to calibrate the PSF
// parameter from the workbooks in a directory.
type CalibrationStartRequest struct {
	Directory    string  `json:"directory" validate:"required"`
	RSDThreshold float64 `json:"rsd_threshold" validate:"omitempty,gt=0"`
}

// OperationStopRequest represents a request to cancel a running operation.
type OperationStopRequest struct {
	OperationID string `json:"operation_id" param:"id" validate:"required,uuid"`
	Force       bool   `json:"force" query:"force"`
}

// OperationListRequest represents a request to list operations.
type OperationListRequest struct {
	PaginationRequest
	Status string `json:"status" query:"status" validate:"omitempty,oneof=pending running completed failed cancelled"`
	Type   string `json:"type" query:"type" validate:"omitempty,oneof=screening calibration indexing report"`
}

// Run API Requests

// RunResultsRequest represents a request for one run's screening result.
type RunResultsRequest struct {
	RunKey string `json:"run_key" param:"key" validate:"required,run_key"`
}

// ROIUpdateRequest represents a request to set or clear the region of
// interest for one run. A nil ROI clears the selection.
type ROIUpdateRequest struct {
	RunKey string      `json:"run_key" param:"key" validate:"required,run_key"`
	ROI    *domain.ROI `json:"roi,omitempty"`
}

// Report API Requests

// ReportGenerateRequest represents a request to render the batch report page.
type ReportGenerateRequest struct {
	OperationID   string `json:"operation_id" validate:"required,uuid"`
	IncludeCurves bool   `json:"include_curves"`
}

// Responses

// ErrorDetail provides details for validation errors.
type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ListEnvelope wraps a paginated collection.
type ListEnvelope struct {
	Items      interface{} `json:"items"`
	Total      int         `json:"total"`
	Page       int         `json:"page,omitempty"`
	PageSize   int         `json:"page_size,omitempty"`
	TotalPages int         `json:"total_pages,omitempty"`
}

// BatchResultResponse wraps a batch result for transport.
type BatchResultResponse struct {
	Result  *domain.BatchResult `json:"result"`
	TraceID string              `json:"trace_id,omitempty"`
}

// HealthResponse reports component health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	Components map[string]string `json:"components,omitempty"`
}
