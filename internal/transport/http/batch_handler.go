package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "imfcscli/internal/errors"
	"imfcscli/internal/services"
	api "imfcscli/pkg/contracts/api/v1"
	"imfcscli/pkg/contracts/domain"
)

// BatchHandler handles acquisition batch HTTP requests with RFC 7807 compliance
type BatchHandler struct {
	service      BatchServiceInterface
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewBatchHandler creates a new batch handler with RFC 7807 error handling
func NewBatchHandler(service BatchServiceInterface, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *BatchHandler {
	return &BatchHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "batch_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the batch routes with proper Chi patterns
func (h *BatchHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Use render for consistent JSON responses
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// Batch lifecycle
	r.Post("/open", h.OpenBatch)
	r.Get("/", h.GetBatch)
	r.Post("/screen", h.ScreenBatch)
	r.Post("/preload", h.PreloadRuns)
	r.Post("/save", h.SaveSession)

	// Batch-wide views
	r.Get("/runs", h.ListRuns)
	r.Get("/runs/first", h.FirstRun)
	r.Get("/summaries", h.GetSummaries)
	r.Get("/screening", h.GetCombinedScreening)
	r.Get("/reports", h.GetReports)
	r.Get("/files", h.GetFiles)

	// Run-scoped routes
	r.Route("/runs/{key}", func(r chi.Router) {
		r.Use(h.RunCtx) // Validate run key before dispatch
		r.Get("/", h.GetRunSummary)
		r.Get("/files", h.GetRunFiles)
		r.Get("/next", h.NextRun)
		r.Get("/prev", h.PrevRun)
		r.Get("/history", h.GetRunHistory)
		r.Get("/roi", h.GetROI)
		r.Put("/roi", h.UpdateROI)
		r.Delete("/roi", h.ClearROI)
		r.Post("/screen", h.ScreenRun)
	})

	// Download routes
	r.Route("/download/{type}/{filename}", func(r chi.Router) {
		r.Use(h.DownloadCtx) // Validate download parameters
		r.Get("/", h.DownloadFile)
	})

	// Reports download route - supports nested paths
	r.Get("/download/reports/{filepath:.*}", h.DownloadReportFile)

	return r
}

// RunCtx middleware validates the run key parameter
func (h *BatchHandler) RunCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if key == "" {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("key", "Run key is required"))
			return
		}

		// Run keys come from workbook filenames, never path segments
		if len(key) > 128 {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("key", "Invalid run key format"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// DownloadCtx middleware validates download parameters
func (h *BatchHandler) DownloadCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fileType := chi.URLParam(r, "type")
		filename := chi.URLParam(r, "filename")

		// Validate file type
		validTypes := map[string]bool{
			"reports": true,
			"report":  true,
			"html":    true,
			"exports": true,
			"export":  true,
			"csv":     true,
		}

		if !validTypes[fileType] {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("type", fmt.Sprintf("Invalid file type: %s", fileType)))
			return
		}

		if filename == "" {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("filename", "Filename is required"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// OpenBatch handles POST /api/batch/open with RFC 7807 errors
func (h *BatchHandler) OpenBatch(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	var req struct {
		Directory string `json:"directory"`
		Resume    bool   `json:"resume"`
	}

	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			http.StatusBadRequest,
			"INVALID_REQUEST",
			"Invalid request body",
			map[string]interface{}{
				"error": err.Error(),
			},
		))
		return
	}

	h.logger.InfoContext(r.Context(), "opening acquisition batch",
		slog.String("request_id", reqID),
		slog.String("directory", req.Directory),
		slog.Bool("resume", req.Resume),
	)

	batch, err := h.service.OpenBatch(r.Context(), req.Directory, req.Resume)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to open batch",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("directory", req.Directory),
		)

		// Map service errors to API errors
		if errors.Is(err, services.ErrInvalidInput) {
			h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
				http.StatusBadRequest,
				"INVALID_INPUT",
				err.Error(),
				map[string]interface{}{
					"directory": req.Directory,
				},
			))
			return
		}

		if errors.Is(err, services.ErrNoRunsFound) {
			h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
				http.StatusNotFound,
				"NO_RUNS_FOUND",
				fmt.Sprintf("No evaluation workbooks found in '%s'", req.Directory),
				map[string]interface{}{
					"directory": req.Directory,
				},
			))
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   batch,
		"count":  len(batch.Runs),
	})
}

// GetBatch handles GET /api/batch with RFC 7807 errors
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.InfoContext(r.Context(), "fetching current batch",
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	batch, err := h.service.Batch(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get batch",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)

		if h.handleBatchError(w, r, err) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   batch,
		"count":  len(batch.Runs),
	})
}

// ListRuns handles GET /api/batch/runs with RFC 7807 errors
func (h *BatchHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.InfoContext(r.Context(), "listing runs",
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	keys, err := h.service.Keys(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list runs",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)

		if h.handleBatchError(w, r, err) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   keys,
		"count":  len(keys),
	})
}

// FirstRun handles GET /api/batch/runs/first with RFC 7807 errors
func (h *BatchHandler) FirstRun(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.InfoContext(r.Context(), "fetching first run",
		slog.String("request_id", reqID),
	)

	key, err := h.service.FirstRun(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get first run",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)

		if h.handleBatchError(w, r, err) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   map[string]interface{}{"key": key},
	})
}

// GetSummaries handles GET /api/batch/summaries with RFC 7807 errors
func (h *BatchHandler) GetSummaries(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.InfoContext(r.Context(), "fetching run summaries",
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	summaries, err := h.service.Summaries(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get summaries",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)

		if h.handleBatchError(w, r, err) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   summaries,
		"count":  len(summaries),
	})
}

// GetRunSummary handles GET /api/batch/runs/{key} with RFC 7807 errors
func (h *BatchHandler) GetRunSummary(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	key := chi.URLParam(r, "key")

	h.logger.InfoContext(r.Context(), "fetching run summary",
		slog.String("request_id", reqID),
		slog.String("run_key", key),
	)

	summary, err := h.service.Summary(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get run summary",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("run_key", key),
		)

		if h.handleRunError(w, r, err, key) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   summary,
		"key":    key,
	})
}

// GetRunFiles handles GET /api/batch/runs/{key}/files with RFC 7807 errors
func (h *BatchHandler) GetRunFiles(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	key := chi.URLParam(r, "key")

	h.logger.InfoContext(r.Context(), "listing run files",
		slog.String("request_id", reqID),
		slog.String("run_key", key),
	)

	runFiles, err := h.service.RunFiles(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list run files",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("run_key", key),
		)

		if h.handleRunError(w, r, err, key) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   runFiles,
		"count":  len(runFiles),
		"key":    key,
	})
}

// NextRun handles GET /api/batch/runs/{key}/next with RFC 7807 errors
func (h *BatchHandler) NextRun(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	key := chi.URLParam(r, "key")

	h.logger.InfoContext(r.Context(), "navigating to next run",
		slog.String("request_id", reqID),
		slog.String("run_key", key),
	)

	next, err := h.service.NextRun(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to navigate to next run",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("run_key", key),
		)

		if h.handleRunError(w, r, err, key) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   map[string]interface{}{"key": next},
	})
}

// PrevRun handles GET /api/batch/runs/{key}/prev with RFC 7807 errors
func (h *BatchHandler) PrevRun(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	key := chi.URLParam(r, "key")

	h.logger.InfoContext(r.Context(), "navigating to previous run",
		slog.String("request_id", reqID),
		slog.String("run_key", key),
	)

	prev, err := h.service.PrevRun(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to navigate to previous run",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("run_key", key),
		)

		if h.handleRunError(w, r, err, key) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   map[string]interface{}{"key": prev},
	})
}

// GetRunHistory handles GET /api/batch/runs/{key}/history with RFC 7807 errors
func (h *BatchHandler) GetRunHistory(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	key := chi.URLParam(r, "key")

	h.logger.InfoContext(r.Context(), "fetching screening history",
		slog.String("request_id", reqID),
		slog.String("run_key", key),
	)

	history, err := h.service.History(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get screening history",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("run_key", key),
		)

		if h.handleRunError(w, r, err, key) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   history,
		"count":  len(history),
		"key":    key,
	})
}

// GetROI handles GET /api/batch/runs/{key}/roi with RFC 7807 errors
func (h *BatchHandler) GetROI(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	key := chi.URLParam(r, "key")

	h.logger.InfoContext(r.Context(), "fetching region of interest",
		slog.String("request_id", reqID),
		slog.String("run_key", key),
	)

	region, err := h.service.ROI(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get region of interest",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("run_key", key),
		)

		if h.handleRunError(w, r, err, key) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	// A nil region means the full frame is selected
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   region,
		"key":    key,
	})
}

// UpdateROI handles PUT /api/batch/runs/{key}/roi with RFC 7807 errors
func (h *BatchHandler) UpdateROI(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	key := chi.URLParam(r, "key")

	var req api.ROIUpdateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			http.StatusBadRequest,
			"INVALID_REQUEST",
			"Invalid request body",
			map[string]interface{}{
				"error": err.Error(),
			},
		))
		return
	}

	h.logger.InfoContext(r.Context(), "updating region of interest",
		slog.String("request_id", reqID),
		slog.String("run_key", key),
	)

	// The run key in the URL wins over any key in the body
	summary, err := h.service.SetROI(r.Context(), key, req.ROI)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to update region of interest",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("run_key", key),
		)

		if h.handleRunError(w, r, err, key) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   summary,
		"key":    key,
	})
}

// ClearROI handles DELETE /api/batch/runs/{key}/roi with RFC 7807 errors
func (h *BatchHandler) ClearROI(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	key := chi.URLParam(r, "key")

	h.logger.InfoContext(r.Context(), "clearing region of interest",
		slog.String("request_id", reqID),
		slog.String("run_key", key),
	)

	summary, err := h.service.SetROI(r.Context(), key, nil)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to clear region of interest",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("run_key", key),
		)

		if h.handleRunError(w, r, err, key) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   summary,
		"key":    key,
	})
}

// ScreenRun handles POST /api/batch/runs/{key}/screen with RFC 7807 errors
func (h *BatchHandler) ScreenRun(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	key := chi.URLParam(r, "key")

	rules, ok := h.decodeOptionalRules(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(r.Context(), "screening run",
		slog.String("request_id", reqID),
		slog.String("run_key", key),
		slog.Bool("custom_rules", rules != nil),
	)

	result, err := h.service.ScreenRun(r.Context(), key, rules)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to screen run",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("run_key", key),
		)

		if h.handleRunError(w, r, err, key) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   result,
		"key":    key,
	})
}

// ScreenBatch handles POST /api/batch/screen with RFC 7807 errors
func (h *BatchHandler) ScreenBatch(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	rules, ok := h.decodeOptionalRules(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(r.Context(), "screening batch",
		slog.String("request_id", reqID),
		slog.Bool("custom_rules", rules != nil),
	)

	result, err := h.service.ScreenBatch(r.Context(), rules)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to screen batch",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)

		if h.handleBatchError(w, r, err) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   result,
		"count":  len(result.Results),
	})
}

// PreloadRuns handles POST /api/batch/preload with RFC 7807 errors
func (h *BatchHandler) PreloadRuns(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.InfoContext(r.Context(), "preloading batch workbooks",
		slog.String("request_id", reqID),
	)

	load, err := h.service.PreloadRuns(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to preload batch",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)

		if h.handleBatchError(w, r, err) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"loaded":   len(load.Runs),
			"failed":   len(load.Failures),
			"failures": load.Failures,
			"elapsed":  load.Elapsed.String(),
		},
	})
}

// SaveSession handles POST /api/batch/save with RFC 7807 errors
func (h *BatchHandler) SaveSession(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.InfoContext(r.Context(), "saving session checkpoint",
		slog.String("request_id", reqID),
	)

	if err := h.service.SaveSession(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to save session",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)

		if h.handleBatchError(w, r, err) {
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status":  "success",
		"message": "Session checkpoint saved",
	})
}

// GetCombinedScreening handles GET /api/batch/screening with RFC 7807 errors
func (h *BatchHandler) GetCombinedScreening(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.InfoContext(r.Context(), "fetching combined screening table",
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	records, err := h.service.CombinedScreening(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get combined screening",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)

		if errors.Is(err, services.ErrNoReportsFound) {
			h.errorHandler.HandleError(w, r, apierrors.New(
				http.StatusNotFound,
				"NO_REPORTS_FOUND",
				"No combined screening table available yet",
			))
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   records,
		"count":  len(records),
	})
}

// GetReports handles GET /api/batch/reports with RFC 7807 errors
func (h *BatchHandler) GetReports(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.InfoContext(r.Context(), "fetching reports",
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	reports, err := h.service.GetReports(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get reports",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)

		if errors.Is(err, services.ErrNoReportsFound) {
			h.errorHandler.HandleError(w, r, apierrors.New(
				http.StatusNotFound,
				"NO_REPORTS_FOUND",
				"No reports available",
			))
			return
		}

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   reports,
		"count":  len(reports),
	})
}

// GetFiles handles GET /api/batch/files with RFC 7807 errors
func (h *BatchHandler) GetFiles(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.InfoContext(r.Context(), "fetching files",
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	filesList, err := h.service.GetFiles(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get files",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)

		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   filesList,
	})
}

// DownloadFile handles GET /api/batch/download/{type}/{filename} with RFC 7807 errors
func (h *BatchHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	fileType := chi.URLParam(r, "type")
	filename := chi.URLParam(r, "filename")

	h.logger.InfoContext(r.Context(), "downloading file",
		slog.String("request_id", reqID),
		slog.String("file_type", fileType),
		slog.String("filename", filename),
	)

	// Let service handle the download (it writes directly to response)
	if err := h.service.DownloadFile(r.Context(), w, r, fileType, filename); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to download file",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("file_type", fileType),
			slog.String("filename", filename),
		)

		// Only handle error if response not yet written
		if !isResponseWritten(w) {
			if errors.Is(err, services.ErrFileNotFound) {
				h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
					http.StatusNotFound,
					"FILE_NOT_FOUND",
					fmt.Sprintf("File '%s' not found", filename),
					map[string]interface{}{
						"type":     fileType,
						"filename": filename,
					},
				))
				return
			}

			if errors.Is(err, services.ErrInvalidFileType) {
				h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
					http.StatusBadRequest,
					"INVALID_FILE_TYPE",
					fmt.Sprintf("Invalid file type: %s", fileType),
					map[string]interface{}{
						"type":     fileType,
						"filename": filename,
					},
				))
				return
			}

			if errors.Is(err, services.ErrInvalidInput) {
				h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
					http.StatusBadRequest,
					"INVALID_PATH",
					fmt.Sprintf("Invalid file path: %s", filename),
					map[string]interface{}{
						"type":     fileType,
						"filename": filename,
					},
				))
				return
			}

			h.errorHandler.HandleError(w, r, err)
		}
	}
}

// isResponseWritten checks if response has already been written
func isResponseWritten(w http.ResponseWriter) bool {
	// Check if writer is a wrapped response writer with status
	if ww, ok := w.(interface{ Status() int }); ok {
		return ww.Status() != 0
	}
	return false
}

// DownloadReportFile handles GET /api/batch/download/reports/{filepath} with nested path support
func (h *BatchHandler) DownloadReportFile(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	filepath := chi.URLParam(r, "filepath")

	// URL decode the filepath to handle encoded slashes (%2F -> /)
	decodedPath, err := url.QueryUnescape(filepath)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to decode filepath",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("filepath", filepath),
		)
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			http.StatusBadRequest,
			"INVALID_PATH",
			"Invalid file path encoding",
			map[string]interface{}{
				"filepath": filepath,
				"error":    err.Error(),
			},
		))
		return
	}

	h.logger.InfoContext(r.Context(), "downloading report file",
		slog.String("request_id", reqID),
		slog.String("filepath", filepath),
		slog.String("decoded_path", decodedPath),
	)

	// Use "reports" as the file type for the service
	if err := h.service.DownloadFile(r.Context(), w, r, "reports", decodedPath); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to download report file",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("filepath", filepath),
			slog.String("decoded_path", decodedPath),
		)

		// Only handle error if response not yet written
		if !isResponseWritten(w) {
			if errors.Is(err, services.ErrFileNotFound) {
				h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
					http.StatusNotFound,
					"FILE_NOT_FOUND",
					fmt.Sprintf("Report file '%s' not found", decodedPath),
					map[string]interface{}{
						"filepath": decodedPath,
					},
				))
				return
			}

			h.errorHandler.HandleError(w, r, err)
		}
	}
}

// decodeOptionalRules reads an optional {"rules": ...} body. An empty body
// means the persisted or default rules apply.
func (h *BatchHandler) decodeOptionalRules(w http.ResponseWriter, r *http.Request) (*domain.Rules, bool) {
	var req struct {
		Rules *domain.Rules `json:"rules,omitempty"`
	}

	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			http.StatusBadRequest,
			"INVALID_REQUEST",
			"Invalid request body",
			map[string]interface{}{
				"error": err.Error(),
			},
		))
		return nil, false
	}

	return req.Rules, true
}

// handleBatchError maps batch-level service errors onto API errors. It
// reports whether the error was handled.
func (h *BatchHandler) handleBatchError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case errors.Is(err, services.ErrNoBatchLoaded):
		h.errorHandler.HandleError(w, r, apierrors.New(
			http.StatusConflict,
			"NO_BATCH_LOADED",
			"No acquisition batch is loaded. Open a batch first.",
		))
		return true

	case errors.Is(err, services.ErrNoRunsFound):
		h.errorHandler.HandleError(w, r, apierrors.New(
			http.StatusNotFound,
			"NO_RUNS_FOUND",
			"The loaded batch contains no runs",
		))
		return true

	case errors.Is(err, services.ErrInvalidInput):
		h.errorHandler.HandleError(w, r, apierrors.New(
			http.StatusBadRequest,
			"INVALID_INPUT",
			err.Error(),
		))
		return true
	}

	return false
}

// handleRunError maps run-level service errors onto API errors. It reports
// whether the error was handled.
func (h *BatchHandler) handleRunError(w http.ResponseWriter, r *http.Request, err error, key string) bool {
	if errors.Is(err, services.ErrRunNotFound) {
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			http.StatusNotFound,
			"RUN_NOT_FOUND",
			fmt.Sprintf("Run '%s' not found in the loaded batch", key),
			map[string]interface{}{
				"run_key": key,
			},
		))
		return true
	}

	return h.handleBatchError(w, r, err)
}
