package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"imfcscli/internal/config"
	"imfcscli/internal/exporter"
	"imfcscli/internal/files"
	"imfcscli/internal/infrastructure"
	"imfcscli/internal/middleware"
	"imfcscli/internal/operations"
	"imfcscli/internal/psf"
	"imfcscli/internal/screening"
	"imfcscli/internal/store"
	api "imfcscli/pkg/contracts/api/v1"
	"imfcscli/pkg/contracts/domain"
	"imfcscli/pkg/contracts/events"
)

// jobQueueWorkers bounds how many operations run at once. Screening a
// batch already saturates its own loader pool, so the queue stays narrow.
const jobQueueWorkers = 2

// OperationService runs screening pipelines and PSF calibrations
type OperationService struct {
	manager *operations.Manager
	queue   *operations.JobQueue
	logger  *slog.Logger
	paths   *config.Paths
}

// WebSocketHub is the broadcast surface services publish on
type WebSocketHub interface {
	Broadcast(messageType string, data interface{})
	BroadcastSnapshot(snapshot events.OperationSnapshot, traceID string)
	BroadcastBatchProgress(progress events.BatchProgress)
}

// WebSocketOperationAdapter bridges the operations framework to the hub
type WebSocketOperationAdapter struct {
	hub WebSocketHub
}

// NewWebSocketOperationAdapter creates a new WebSocket operation adapter
func NewWebSocketOperationAdapter(hub WebSocketHub) *WebSocketOperationAdapter {
	return &WebSocketOperationAdapter{hub: hub}
}

// BroadcastUpdate implements operations.WebSocketHub. Operation snapshots
// go out through the typed helper; anything else is forwarded as-is.
func (w *WebSocketOperationAdapter) BroadcastUpdate(eventType, step, status string, metadata interface{}) {
	if snapshot, ok := metadata.(*events.OperationSnapshot); ok && snapshot != nil {
		w.hub.BroadcastSnapshot(*snapshot, "")
		return
	}

	data := map[string]interface{}{
		"event_type": eventType,
		"step":       step,
		"status":     status,
	}
	if metadata != nil {
		data["metadata"] = metadata
	}
	w.hub.Broadcast(eventType, data)
}

// NewOperationService creates a new operation service. The store is shared
// with the batch service so pipeline runs land in the same session cache.
func NewOperationService(adapter *WebSocketOperationAdapter, st *store.Store, screenCfg config.ScreeningConfig, logger *slog.Logger) (*OperationService, error) {
	// Get the centralized paths
	paths, err := config.GetPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get paths: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("OperationService initialized with paths",
		slog.String("executable_dir", paths.ExecutableDir),
		slog.String("data_dir", paths.DataDir),
		slog.String("exports_dir", paths.ExportsDir),
		slog.String("reports_dir", paths.ReportsDir))

	manager := operations.NewManager(adapter, nil, nil)

	if err := registerSteps(manager, paths, st, screenCfg, logger, adapter); err != nil {
		return nil, fmt.Errorf("failed to register steps: %w", err)
	}

	queue := operations.NewJobQueue(jobQueueWorkers, operations.NewMemoryJobStore(), manager, logger)

	return &OperationService{
		manager: manager,
		queue:   queue,
		logger:  logger,
		paths:   paths,
	}, nil
}

// registerSteps registers the screening pipeline steps
func registerSteps(manager *operations.Manager, paths *config.Paths, st *store.Store, screenCfg config.ScreeningConfig, logger *slog.Logger, wsAdapter *WebSocketOperationAdapter) error {
	stepOptions := &operations.StepOptions{
		EnableProgress:    true,
		WebSocketManager:  wsAdapter,
		StatusBroadcaster: manager.GetBroadcaster(),
	}

	for _, step := range operations.StepFactory(paths, st, screenCfg, logger, stepOptions) {
		if err := manager.GetRegistry().Register(step); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the queue workers. It also recovers jobs interrupted by
// an earlier shutdown.
func (ps *OperationService) Start(ctx context.Context) {
	ps.queue.Start(ctx)
}

// Shutdown drains the job queue
func (ps *OperationService) Shutdown(timeout time.Duration) error {
	return ps.queue.Stop(timeout)
}

// StartScreening enqueues a batch screening operation over a directory and
// returns its operation ID. The pipeline runs asynchronously; progress is
// published over the WebSocket hub.
func (ps *OperationService) StartScreening(ctx context.Context, req *api.ScreeningStartRequest) (string, error) {
	if req == nil || req.Directory == "" {
		return "", fmt.Errorf("%w: directory is required", ErrInvalidInput)
	}
	if info, err := os.Stat(req.Directory); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a readable directory", ErrInvalidInput, req.Directory)
	}

	operationID := uuid.New().String()

	mode := req.Mode
	if mode == "" {
		mode = operations.ModeFull
	}

	// Inline rules are written next to the session cache so the screen
	// step picks them up through its normal file path.
	rulesPath := ""
	if req.Rules != nil {
		rulesPath = ps.paths.GetCachePath(fmt.Sprintf("rules_%s.yaml", operationID))
		if err := screening.SaveRules(rulesPath, *req.Rules); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	params := map[string]interface{}{}
	if req.MaxWorkers > 0 {
		params["max_workers"] = req.MaxWorkers
	}
	if req.Resume {
		params["resume"] = true
	}

	request := &operations.OperationRequest{
		ID:         operationID,
		Mode:       mode,
		Directory:  req.Directory,
		RulesPath:  rulesPath,
		Parameters: params,
	}

	job := &operations.Job{
		ID:          uuid.New().String(),
		OperationID: operationID,
		StepName:    "Batch Screening",
		Request:     request,
	}
	if err := ps.queue.Enqueue(job); err != nil {
		return "", fmt.Errorf("failed to start screening: %w", err)
	}

	ps.logger.InfoContext(ctx, "screening operation enqueued",
		slog.String("operation_id", operationID),
		slog.String("directory", req.Directory),
		slog.String("mode", mode),
		slog.Bool("resume", req.Resume))

	return operationID, nil
}

// StartCalibration calibrates the PSF from every workbook in a directory
// and writes the calibration table. It runs synchronously; sweep grids are
// small compared to screening batches.
func (ps *OperationService) StartCalibration(ctx context.Context, req *api.CalibrationStartRequest) ([]domain.PSFCalibration, error) {
	if req == nil || req.Directory == "" {
		return nil, fmt.Errorf("%w: directory is required", ErrInvalidInput)
	}

	threshold := req.RSDThreshold
	if threshold <= 0 {
		threshold = psf.DefaultRSDThreshold
	}

	workbooks, err := calibrationWorkbooks(req.Directory)
	if err != nil {
		return nil, err
	}
	if len(workbooks) == 0 {
		return nil, fmt.Errorf("%w: no workbooks under %s", ErrNoRunsFound, req.Directory)
	}

	metrics := middleware.GetBusinessMetricsFromContext(ctx)

	var cals []domain.PSFCalibration
	for _, path := range workbooks {
		started := time.Now()
		cal, err := psf.CalibrateFile(path, threshold)
		infrastructure.RecordCalibrationMetrics(ctx, metrics, time.Since(started), err == nil)
		if err != nil {
			ps.logger.WarnContext(ctx, "calibration skipped workbook",
				slog.String("file", path),
				slog.String("error", err.Error()))
			continue
		}
		cals = append(cals, cal)
	}
	if len(cals) == 0 {
		return nil, fmt.Errorf("no workbook in %s carries a usable sweep grid", req.Directory)
	}

	out := ps.paths.GetCalibrationCSVPath()
	if err := exporter.NewCalibrationExporter(ps.paths).ExportCalibrations(cals, out); err != nil {
		return nil, fmt.Errorf("failed to export calibrations: %w", err)
	}

	ps.logger.InfoContext(ctx, "psf calibration completed",
		slog.String("directory", req.Directory),
		slog.Int("workbooks", len(workbooks)),
		slog.Int("calibrated", len(cals)),
		slog.String("output", out))

	return cals, nil
}

// ExecuteOperation runs an operation synchronously through the manager.
// The CLIs use this path; the API goes through the queue.
func (ps *OperationService) ExecuteOperation(ctx context.Context, request *operations.OperationRequest) (*operations.OperationResponse, error) {
	resp, err := ps.manager.Execute(ctx, *request)
	if err != nil {
		return resp, fmt.Errorf("failed to execute operation: %w", err)
	}

	ps.logger.InfoContext(ctx, "operation executed",
		slog.String("id", resp.ID),
		slog.String("status", string(resp.Status)))

	return resp, nil
}

// GetStatus returns the state of one operation
func (ps *OperationService) GetStatus(ctx context.Context, operationID string) (*operations.OperationState, error) {
	if operationID == "" {
		return nil, fmt.Errorf("%w: operation ID is required", ErrInvalidInput)
	}

	state, err := ps.manager.GetOperation(operationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, operationID)
	}
	return state, nil
}

// GetSnapshot returns the broadcast snapshot of one operation, which also
// covers queued operations the manager has not started yet.
func (ps *OperationService) GetSnapshot(ctx context.Context, operationID string) (*events.OperationSnapshot, error) {
	snapshot, ok := ps.manager.GetBroadcaster().GetSnapshot(operationID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, operationID)
	}
	return snapshot, nil
}

// StopOperation cancels a running operation
func (ps *OperationService) StopOperation(ctx context.Context, operationID string) error {
	if err := ps.manager.CancelOperation(operationID); err != nil {
		return fmt.Errorf("failed to stop operation: %w", err)
	}

	ps.logger.InfoContext(ctx, "operation stopped",
		slog.String("id", operationID))
	return nil
}

// CancelOperation is an alias for StopOperation kept for the handlers
func (ps *OperationService) CancelOperation(ctx context.Context, operationID string) error {
	return ps.StopOperation(ctx, operationID)
}

// CancelAll stops every running operation
func (ps *OperationService) CancelAll(ctx context.Context) error {
	for _, op := range ps.manager.ListOperations() {
		if op.Status != operations.OperationStatusRunning {
			continue
		}
		if err := ps.manager.CancelOperation(op.ID); err != nil {
			ps.logger.ErrorContext(ctx, "failed to cancel operation",
				slog.String("id", op.ID),
				slog.String("error", err.Error()))
			return err
		}
	}
	return nil
}

// ListOperations returns all known operations
func (ps *OperationService) ListOperations(ctx context.Context) ([]*operations.OperationState, error) {
	return ps.manager.ListOperations(), nil
}

// ListOperationsByStatus returns operations filtered by status
func (ps *OperationService) ListOperationsByStatus(ctx context.Context, status operations.OperationStatusValue) ([]*operations.OperationState, error) {
	var result []*operations.OperationState
	for _, state := range ps.manager.ListOperations() {
		if state.Status == status {
			result = append(result, state)
		}
	}
	return result, nil
}

// GetJob returns one queued job by ID
func (ps *OperationService) GetJob(ctx context.Context, jobID string) (*operations.Job, error) {
	job, err := ps.queue.GetJob(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: job %s", ErrOperationNotFound, jobID)
	}
	return job, nil
}

// ListJobs returns queued jobs matching the filter
func (ps *OperationService) ListJobs(ctx context.Context, filter operations.JobFilter) ([]*operations.Job, error) {
	return ps.queue.ListJobs(filter)
}

// GetQueueStats reports queue depth and active jobs
func (ps *OperationService) GetQueueStats() map[string]interface{} {
	return ps.queue.GetQueueStats()
}

// GetOperationTypes returns the registered pipeline steps plus the full
// pipeline composite, with the parameters each accepts
func (ps *OperationService) GetOperationTypes(ctx context.Context) ([]operations.OperationType, error) {
	steps := ps.manager.GetRegistry().List()

	types := make([]operations.OperationType, 0, len(steps)+1)
	for _, step := range steps {
		types = append(types, operations.OperationType{
			ID:           step.ID(),
			Name:         step.Name(),
			Description:  getStepDescription(step.ID()),
			Dependencies: step.GetDependencies(),
			CanRunAlone:  len(step.GetDependencies()) == 0,
			Parameters:   getStepParameters(step.ID()),
		})
	}

	types = append(types, operations.OperationType{
		ID:           "full_pipeline",
		Name:         "Full Pipeline",
		Description:  "Run discovery, loading, metrics, screening, export and reporting over one acquisition directory",
		Dependencies: []string{},
		CanRunAlone:  true,
		Parameters: []operations.ParameterDefinition{
			{
				Name:        "directory",
				Type:        "path",
				Description: "Acquisition directory with evaluation workbooks",
				Required:    true,
			},
			{
				Name:        "mode",
				Type:        "select",
				Description: "Batch mode",
				Required:    false,
				Default:     operations.ModeFull,
				Options:     []string{operations.ModeInitial, operations.ModeAccumulative, operations.ModeFull},
			},
			{
				Name:        "rules_path",
				Type:        "path",
				Description: "Screening rules file (YAML); defaults apply when omitted",
				Required:    false,
			},
		},
	})

	return types, nil
}

// getStepDescription returns a user-facing description for each step
func getStepDescription(stepID string) string {
	descriptions := map[string]string{
		operations.StepIDDiscover: "Scan the acquisition directory for evaluation workbooks and intensity images",
		operations.StepIDLoad:     "Parse the saved workbooks into correlation and fit matrices",
		operations.StepIDMetrics:  "Reduce each run to its quality statistics",
		operations.StepIDScreen:   "Apply the screening thresholds and assign verdicts",
		operations.StepIDExport:   "Write the combined screening table and per-run CSVs",
		operations.StepIDReport:   "Render the batch HTML report",
	}

	if desc, ok := descriptions[stepID]; ok {
		return desc
	}
	return "Process acquisition data"
}

// getStepParameters returns the parameters accepted by each step
func getStepParameters(stepID string) []operations.ParameterDefinition {
	switch stepID {
	case operations.StepIDDiscover:
		return []operations.ParameterDefinition{
			{
				Name:        "directory",
				Type:        "path",
				Description: "Acquisition directory to scan",
				Required:    true,
			},
		}
	case operations.StepIDLoad:
		return []operations.ParameterDefinition{
			{
				Name:        "max_workers",
				Type:        "number",
				Description: "Workbooks parsed concurrently",
				Required:    false,
			},
		}
	case operations.StepIDScreen:
		return []operations.ParameterDefinition{
			{
				Name:        "rules_path",
				Type:        "path",
				Description: "Screening rules file (YAML)",
				Required:    false,
			},
		}
	default:
		return []operations.ParameterDefinition{}
	}
}

// GetManager returns the underlying operation manager
func (ps *OperationService) GetManager() *operations.Manager {
	return ps.manager
}

// GetJobQueue returns the async job queue so the transport layer can serve
// job status endpoints directly
func (ps *OperationService) GetJobQueue() *operations.JobQueue {
	return ps.queue
}

// calibrationWorkbooks returns the evaluation workbook of every run group in
// the directory. Groups without a workbook are skipped; a TIFF alone holds no
// correlation sweep to calibrate from.
func calibrationWorkbooks(directory string) ([]string, error) {
	artifacts, err := files.NewDiscovery(directory).FindRunArtifacts(".")
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", directory, err)
	}

	var workbooks []string
	for _, group := range files.GroupRuns(artifacts) {
		if path, ok := group.WorkbookPath(); ok {
			workbooks = append(workbooks, path)
		}
	}
	return workbooks, nil
}

// getValue safely extracts a value from a map with a default
func getValue(m map[string]interface{}, key string, defaultValue interface{}) interface{} {
	if val, ok := m[key]; ok && val != nil {
		return val
	}
	return defaultValue
}

// GetOperationMetrics returns aggregate counts over all operations
func (ps *OperationService) GetOperationMetrics(ctx context.Context) (map[string]interface{}, error) {
	states := ps.manager.ListOperations()

	activeCount := 0
	completedCount := 0
	failedCount := 0

	for _, op := range states {
		switch op.Status {
		case operations.OperationStatusRunning, operations.OperationStatusPending:
			activeCount++
		case operations.OperationStatusCompleted:
			completedCount++
		case operations.OperationStatusFailed, operations.OperationStatusCancelled:
			failedCount++
		}
	}

	metrics := map[string]interface{}{
		"total_operations":     len(states),
		"active_operations":    activeCount,
		"completed_operations": completedCount,
		"failed_operations":    failedCount,
		"timestamp":            time.Now().Unix(),
	}

	ps.logger.DebugContext(ctx, "retrieved operation metrics",
		slog.Int("total", len(states)),
		slog.Int("active", activeCount))

	return metrics, nil
}
