package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"imfcscli/internal/analysis"
	"imfcscli/internal/config"
	"imfcscli/internal/exporter"
	"imfcscli/internal/files"
	"imfcscli/internal/loader"
	"imfcscli/internal/report"
	"imfcscli/internal/screening"
	"imfcscli/internal/store"
	"imfcscli/pkg/contracts/domain"
)

// DiscoverStep scans the acquisition directory for run artifacts
type DiscoverStep struct {
	BaseStep
	logger  *slog.Logger
	options *StepOptions
}

// NewDiscoverStep creates a new run discovery step
func NewDiscoverStep(logger *slog.Logger, options *StepOptions) *DiscoverStep {
	if options == nil {
		options = &StepOptions{}
	}

	if logger != nil {
		logger = logger.With(slog.String("step", StepIDDiscover))
	}

	return &DiscoverStep{
		BaseStep: NewBaseStep(StepIDDiscover, StepNameDiscover, nil),
		logger:   logger,
		options:  options,
	}
}

// Validate checks that the acquisition directory is configured
func (d *DiscoverStep) Validate(state *OperationState) error {
	dir, _ := state.GetConfig(ContextKeyDirectory)
	if s, ok := dir.(string); !ok || s == "" {
		return fmt.Errorf("acquisition directory not set")
	}
	return nil
}

// Execute scans the directory and groups artifacts into runs
func (d *DiscoverStep) Execute(ctx context.Context, state *OperationState) error {
	stepState := state.GetStep(d.ID())

	dirValue, _ := state.GetConfig(ContextKeyDirectory)
	dir, _ := dirValue.(string)

	if d.logger != nil {
		d.logger.InfoContext(ctx, "Run discovery started",
			slog.String("operation_id", state.ID),
			slog.String("directory", dir))
	}

	d.updateProgress(state.ID, stepState, 10, "Scanning acquisition directory...")

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", dir)
		}
		if d.logger != nil {
			d.logger.ErrorContext(ctx, "Acquisition directory not accessible",
				slog.String("directory", dir),
				slog.String("error", err.Error()))
		}
		return fmt.Errorf("acquisition directory: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("run discovery cancelled: %w", ctx.Err())
	default:
	}

	artifacts, err := files.NewDiscovery(dir).FindRunArtifacts(".")
	if err != nil {
		if d.logger != nil {
			d.logger.ErrorContext(ctx, "Directory scan failed",
				slog.String("directory", dir),
				slog.String("error", err.Error()))
		}
		return fmt.Errorf("scan acquisition directory: %w", err)
	}

	d.updateProgress(state.ID, stepState, 60, "Grouping artifacts into runs...")

	groups := files.GroupRuns(artifacts)
	loadable := 0
	for _, g := range groups {
		if g.Loadable() {
			loadable++
		}
	}

	if loadable == 0 {
		if d.logger != nil {
			d.logger.WarnContext(ctx, "No loadable runs found",
				slog.String("directory", dir),
				slog.Int("artifacts", len(artifacts)),
				slog.Int("groups", len(groups)))
		}
		return fmt.Errorf("no loadable runs found in %s", dir)
	}

	state.SetContext(ContextKeyRunGroups, groups)
	state.SetContext(ContextKeyRunsFound, loadable)

	stepState.Metadata["directory"] = dir
	stepState.Metadata["artifacts_found"] = len(artifacts)
	stepState.Metadata["run_groups"] = len(groups)
	stepState.Metadata["loadable_runs"] = loadable

	if d.logger != nil {
		d.logger.InfoContext(ctx, "Run discovery completed",
			slog.String("directory", dir),
			slog.Int("run_groups", len(groups)),
			slog.Int("loadable_runs", loadable))
	}

	d.updateProgress(state.ID, stepState, 100, fmt.Sprintf("Discovery completed: %d runs found", loadable))
	return nil
}

// updateProgress updates progress through the centralized StatusBroadcaster
func (d *DiscoverStep) updateProgress(operationID string, stepState *StepState, progress int, message string) {
	stepState.UpdateProgress(float64(progress), message)

	if d.options.StatusBroadcaster != nil {
		d.options.StatusBroadcaster.UpdateStepProgress(operationID, d.ID(), progress, message)
	}
}

// LoadStep parses the discovered workbooks into runs
type LoadStep struct {
	BaseStep
	store   *store.Store
	workers int
	logger  *slog.Logger
	options *StepOptions
}

// NewLoadStep creates a new workbook loading step. A nil store disables
// the accumulative mode shortcut.
func NewLoadStep(st *store.Store, workers int, logger *slog.Logger, options *StepOptions) *LoadStep {
	if options == nil {
		options = &StepOptions{}
	}

	if logger != nil {
		logger = logger.With(slog.String("step", StepIDLoad))
	}

	return &LoadStep{
		BaseStep: NewBaseStep(StepIDLoad, StepNameLoad, []string{StepIDDiscover}),
		store:    st,
		workers:  workers,
		logger:   logger,
		options:  options,
	}
}

// Validate checks that the acquisition directory is configured
func (l *LoadStep) Validate(state *OperationState) error {
	dir, _ := state.GetConfig(ContextKeyDirectory)
	if s, ok := dir.(string); !ok || s == "" {
		return fmt.Errorf("acquisition directory not set")
	}
	return nil
}

// Execute loads the run workbooks with a bounded worker pool
func (l *LoadStep) Execute(ctx context.Context, state *OperationState) error {
	stepState := state.GetStep(l.ID())

	dirValue, _ := state.GetConfig(ContextKeyDirectory)
	dir, _ := dirValue.(string)
	mode := ModeFull
	if modeValue, ok := state.GetConfig(ContextKeyMode); ok {
		if m, ok := modeValue.(string); ok && m != "" {
			mode = m
		}
	}

	if l.logger != nil {
		l.logger.InfoContext(ctx, "Workbook loading started",
			slog.String("operation_id", state.ID),
			slog.String("directory", dir),
			slog.String("mode", mode))
	}

	l.updateProgress(state.ID, stepState, 5, "Collecting run groups...")

	groups, err := l.runGroups(state, dir)
	if err != nil {
		return err
	}

	// Accumulative mode reuses stored summaries and only reloads runs
	// whose workbook digest changed on disk
	var seeded map[string]domain.RunSummary
	if mode == ModeAccumulative && l.store != nil {
		groups, seeded = l.filterStale(ctx, dir, groups)
	}

	if seeded != nil {
		state.SetContext(ContextKeySummaries, seeded)
	}

	l.updateProgress(state.ID, stepState, 15, fmt.Sprintf("Loading %d runs...", len(groups)))

	ld := loader.New(l.workers, l.logger, func(p loader.Progress) {
		progress := 15 + int(p.Percent()*0.75)
		l.updateProgress(state.ID, stepState, progress,
			fmt.Sprintf("Loaded %s (%d/%d)", p.Key, p.Completed, p.Total))
	})

	batch, err := ld.LoadGroups(ctx, dir, groups)
	if err != nil {
		if l.logger != nil {
			l.logger.ErrorContext(ctx, "Batch load aborted",
				slog.String("error", err.Error()))
		}
		return fmt.Errorf("load runs: %w", err)
	}

	for _, failure := range batch.Failures {
		if l.logger != nil {
			l.logger.WarnContext(ctx, "Run failed to load",
				slog.String("run", failure.Key),
				slog.String("error", failure.Err.Error()))
		}
	}

	if len(batch.Runs) == 0 && len(batch.Failures) > 0 {
		return fmt.Errorf("all %d runs failed to load", len(batch.Failures))
	}
	if len(batch.Runs) == 0 && len(seeded) == 0 {
		return fmt.Errorf("no loadable runs in %s", dir)
	}

	state.SetContext(ContextKeyBatchLoad, batch)
	state.SetContext(ContextKeyRunsLoaded, len(batch.Runs))

	stepState.Metadata["runs_loaded"] = len(batch.Runs)
	stepState.Metadata["runs_failed"] = len(batch.Failures)
	stepState.Metadata["runs_reused"] = len(seeded)
	stepState.Metadata["elapsed"] = batch.Elapsed.String()

	if l.logger != nil {
		l.logger.InfoContext(ctx, "Workbook loading completed",
			slog.String("batch_id", batch.Batch.ID),
			slog.Int("runs_loaded", len(batch.Runs)),
			slog.Int("runs_failed", len(batch.Failures)),
			slog.Int("runs_reused", len(seeded)),
			slog.Duration("elapsed", batch.Elapsed))
	}

	l.updateProgress(state.ID, stepState, 100,
		fmt.Sprintf("Loading completed: %d runs loaded, %d failed", len(batch.Runs), len(batch.Failures)))
	return nil
}

// runGroups returns the groups discovered earlier in the pipeline, or
// rediscovers them when the step runs on its own.
func (l *LoadStep) runGroups(state *OperationState, dir string) ([]files.RunGroup, error) {
	if value, ok := state.GetContext(ContextKeyRunGroups); ok {
		if groups, ok := value.([]files.RunGroup); ok {
			return groups, nil
		}
	}

	if l.logger != nil {
		l.logger.Debug("No run groups in state, rediscovering",
			slog.String("directory", dir))
	}

	artifacts, err := files.NewDiscovery(dir).FindRunArtifacts(".")
	if err != nil {
		return nil, fmt.Errorf("scan acquisition directory: %w", err)
	}
	return files.GroupRuns(artifacts), nil
}

// filterStale drops groups whose stored summary is still valid and
// returns the summaries worth keeping.
func (l *LoadStep) filterStale(ctx context.Context, dir string, groups []files.RunGroup) ([]files.RunGroup, map[string]domain.RunSummary) {
	stored, err := l.store.LoadBatch(ctx, dir)
	if err != nil || stored == nil {
		if l.logger != nil {
			l.logger.InfoContext(ctx, "No stored batch for directory, loading everything",
				slog.String("directory", dir))
		}
		return groups, nil
	}

	stale := make(map[string]bool)
	for _, key := range l.store.StaleRuns(stored) {
		stale[key] = true
	}

	seeded := make(map[string]domain.RunSummary)
	for key, summary := range stored.Summaries {
		if !stale[key] {
			seeded[key] = summary
		}
	}

	filtered := make([]files.RunGroup, 0, len(groups))
	for _, g := range groups {
		if _, known := seeded[g.Key]; !known {
			filtered = append(filtered, g)
		}
	}

	if l.logger != nil {
		l.logger.InfoContext(ctx, "Accumulative load plan",
			slog.String("directory", dir),
			slog.Int("stored_runs", len(stored.Summaries)),
			slog.Int("reused_runs", len(seeded)),
			slog.Int("runs_to_load", len(filtered)))
	}

	return filtered, seeded
}

// updateProgress updates progress through the centralized StatusBroadcaster
func (l *LoadStep) updateProgress(operationID string, stepState *StepState, progress int, message string) {
	stepState.UpdateProgress(float64(progress), message)

	if l.options.StatusBroadcaster != nil {
		l.options.StatusBroadcaster.UpdateStepProgress(operationID, l.ID(), progress, message)
	}
}

// RequiredInputs returns the workbooks needed for loading
func (l *LoadStep) RequiredInputs() []DataRequirement {
	return []DataRequirement{
		{
			Type:     DataTypeWorkbooks,
			MinCount: 1,
			Optional: false,
		},
	}
}

// CanRun checks whether evaluation workbooks are available
func (l *LoadStep) CanRun(manifest *PipelineManifest) bool {
	if data, exists := manifest.GetData(DataTypeWorkbooks); exists {
		if data.FileCount >= 1 {
			return true
		}
	}

	// Fallback: glob the batch directory recorded in the manifest
	if manifest.Directory != "" {
		matches, err := filepath.Glob(filepath.Join(manifest.Directory, "*.xlsx"))
		if err == nil && len(matches) > 0 {
			if l.logger != nil {
				l.logger.Info("Found workbooks for loading",
					slog.String("directory", manifest.Directory),
					slog.Int("file_count", len(matches)))
			}
			return true
		}
	}

	return false
}

// MetricsStep computes fit quality metrics for every loaded run
type MetricsStep struct {
	BaseStep
	store      *store.Store
	snrLastLag int
	logger     *slog.Logger
	options    *StepOptions
}

// NewMetricsStep creates a new quality metrics step. A nil store skips
// batch persistence.
func NewMetricsStep(st *store.Store, snrLastLag int, logger *slog.Logger, options *StepOptions) *MetricsStep {
	if options == nil {
		options = &StepOptions{}
	}

	if logger != nil {
		logger = logger.With(slog.String("step", StepIDMetrics))
	}

	return &MetricsStep{
		BaseStep:   NewBaseStep(StepIDMetrics, StepNameMetrics, []string{StepIDLoad}),
		store:      st,
		snrLastLag: snrLastLag,
		logger:     logger,
		options:    options,
	}
}

// Execute summarizes every loaded run and persists the batch index
func (m *MetricsStep) Execute(ctx context.Context, state *OperationState) error {
	stepState := state.GetStep(m.ID())

	batchValue, ok := state.GetContext(ContextKeyBatchLoad)
	if !ok {
		return fmt.Errorf("no loaded batch in operation state; run the load step first")
	}
	batch, ok := batchValue.(*loader.BatchLoad)
	if !ok || batch == nil {
		return fmt.Errorf("no loaded batch in operation state; run the load step first")
	}

	if m.logger != nil {
		m.logger.InfoContext(ctx, "Quality metrics started",
			slog.String("operation_id", state.ID),
			slog.String("batch_id", batch.Batch.ID),
			slog.Int("runs", len(batch.Runs)))
	}

	m.updateProgress(state.ID, stepState, 5, "Computing quality metrics...")

	// Carry over summaries reused from an accumulative load
	summaries := make(map[string]domain.RunSummary)
	if value, ok := state.GetContext(ContextKeySummaries); ok {
		if seeded, ok := value.(map[string]domain.RunSummary); ok {
			for key, summary := range seeded {
				summaries[key] = summary
			}
		}
	}

	rois := make(map[string]*domain.ROI)
	failed := 0
	total := len(batch.Runs)
	for i, run := range batch.Runs {
		select {
		case <-ctx.Done():
			return fmt.Errorf("quality metrics cancelled: %w", ctx.Err())
		default:
		}

		summary, err := analysis.SummarizeRun(run, m.snrLastLag)
		if err != nil {
			failed++
			summaries[run.Info.Key] = domain.RunSummary{Key: run.Info.Key, Error: err.Error()}
			if m.logger != nil {
				m.logger.WarnContext(ctx, "Run summary failed",
					slog.String("run", run.Info.Key),
					slog.String("error", err.Error()))
			}
		} else {
			summaries[summary.Key] = summary
		}

		if run.ROI != nil {
			rois[run.Info.Key] = run.ROI
		}

		if total > 0 {
			progress := 5 + ((i + 1) * 80 / total)
			m.updateProgress(state.ID, stepState, progress,
				fmt.Sprintf("Summarized %s (%d/%d)", run.Info.Key, i+1, total))
		}
	}

	if len(summaries) == 0 {
		return fmt.Errorf("no run summaries produced")
	}

	// Persist so screen-only reruns and accumulative loads can reuse
	// the summaries without reparsing workbooks
	if m.store != nil {
		m.updateProgress(state.ID, stepState, 90, "Persisting batch index...")
		if err := m.store.SaveBatch(ctx, batch.Batch, summaries, rois); err != nil {
			if m.logger != nil {
				m.logger.ErrorContext(ctx, "Batch persistence failed",
					slog.String("batch_id", batch.Batch.ID),
					slog.String("error", err.Error()))
			}
			return fmt.Errorf("persist batch: %w", err)
		}
	}

	state.SetContext(ContextKeySummaries, summaries)

	stepState.Metadata["runs_summarized"] = len(summaries)
	stepState.Metadata["summaries_failed"] = failed
	stepState.Metadata["batch_id"] = batch.Batch.ID

	if m.logger != nil {
		m.logger.InfoContext(ctx, "Quality metrics completed",
			slog.String("batch_id", batch.Batch.ID),
			slog.Int("runs_summarized", len(summaries)),
			slog.Int("summaries_failed", failed))
	}

	m.updateProgress(state.ID, stepState, 100,
		fmt.Sprintf("Metrics completed: %d runs summarized", len(summaries)))
	return nil
}

// updateProgress updates progress through the centralized StatusBroadcaster
func (m *MetricsStep) updateProgress(operationID string, stepState *StepState, progress int, message string) {
	stepState.UpdateProgress(float64(progress), message)

	if m.options.StatusBroadcaster != nil {
		m.options.StatusBroadcaster.UpdateStepProgress(operationID, m.ID(), progress, message)
	}
}

// ScreenStep evaluates the screening rules against every run summary
type ScreenStep struct {
	BaseStep
	store     *store.Store
	rulesPath string
	logger    *slog.Logger
	options   *StepOptions
}

// NewScreenStep creates a new rule screening step. rulesPath is the
// default rules file; a missing default falls back to built-in rules.
func NewScreenStep(st *store.Store, rulesPath string, logger *slog.Logger, options *StepOptions) *ScreenStep {
	if options == nil {
		options = &StepOptions{}
	}

	if logger != nil {
		logger = logger.With(slog.String("step", StepIDScreen))
	}

	return &ScreenStep{
		BaseStep:  NewBaseStep(StepIDScreen, StepNameScreen, []string{StepIDMetrics}),
		store:     st,
		rulesPath: rulesPath,
		logger:    logger,
		options:   options,
	}
}

// Execute screens every summary and records the verdicts
func (s *ScreenStep) Execute(ctx context.Context, state *OperationState) error {
	stepState := state.GetStep(s.ID())

	if s.logger != nil {
		s.logger.InfoContext(ctx, "Rule screening started",
			slog.String("operation_id", state.ID))
	}

	s.updateProgress(state.ID, stepState, 5, "Resolving screening rules...")

	rules, rulesSource, err := s.resolveRules(state)
	if err != nil {
		return err
	}

	s.updateProgress(state.ID, stepState, 15, "Collecting run summaries...")

	summaries, batchID, err := s.runSummaries(ctx, state)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(summaries))
	for key := range summaries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	results := make([]domain.ScreeningResult, 0, len(keys))
	passed, review, failedCount := 0, 0, 0
	for i, key := range keys {
		select {
		case <-ctx.Done():
			return fmt.Errorf("rule screening cancelled: %w", ctx.Err())
		default:
		}

		result := screening.Evaluate(summaries[key], rules)
		results = append(results, result)

		switch result.Verdict {
		case domain.VerdictPass:
			passed++
		case domain.VerdictReview:
			review++
		default:
			failedCount++
		}

		if s.store != nil && batchID != "" {
			if err := s.store.SaveScreening(ctx, batchID, result); err != nil {
				if s.logger != nil {
					s.logger.WarnContext(ctx, "Screening result not persisted",
						slog.String("run", key),
						slog.String("error", err.Error()))
				}
			}
		}

		progress := 15 + ((i + 1) * 80 / len(keys))
		s.updateProgress(state.ID, stepState, progress,
			fmt.Sprintf("Screened %s: %s (%d/%d)", key, result.Verdict, i+1, len(keys)))
	}

	state.SetContext(ContextKeyResults, results)

	stepState.Metadata["runs_screened"] = len(results)
	stepState.Metadata["passed"] = passed
	stepState.Metadata["review"] = review
	stepState.Metadata["failed"] = failedCount
	stepState.Metadata["rules_source"] = rulesSource

	if s.logger != nil {
		s.logger.InfoContext(ctx, "Rule screening completed",
			slog.Int("runs_screened", len(results)),
			slog.Int("passed", passed),
			slog.Int("review", review),
			slog.Int("failed", failedCount),
			slog.String("rules_source", rulesSource))
	}

	s.updateProgress(state.ID, stepState, 100,
		fmt.Sprintf("Screening completed: %d pass, %d review, %d fail", passed, review, failedCount))
	return nil
}

// resolveRules loads the rules file named in the request, falling back
// to the configured default and finally to the built-in thresholds.
func (s *ScreenStep) resolveRules(state *OperationState) (domain.Rules, string, error) {
	if value, ok := state.GetConfig(ContextKeyRulesPath); ok {
		if path, ok := value.(string); ok && path != "" {
			rules, err := screening.LoadRules(path)
			if err != nil {
				return rules, path, fmt.Errorf("load screening rules: %w", err)
			}
			return rules, path, nil
		}
	}

	if s.rulesPath != "" {
		rules, err := screening.LoadRules(s.rulesPath)
		if err == nil {
			return rules, s.rulesPath, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			if s.logger != nil {
				s.logger.Warn("Default rules file unusable, using built-in rules",
					slog.String("path", s.rulesPath),
					slog.String("error", err.Error()))
			}
		}
	}

	return domain.DefaultRules(), "defaults", nil
}

// runSummaries returns the summaries from the pipeline state, or loads
// the stored batch when the step runs on its own.
func (s *ScreenStep) runSummaries(ctx context.Context, state *OperationState) (map[string]domain.RunSummary, string, error) {
	batchID := ""
	if value, ok := state.GetContext(ContextKeyBatchLoad); ok {
		if batch, ok := value.(*loader.BatchLoad); ok && batch != nil {
			batchID = batch.Batch.ID
		}
	}

	if value, ok := state.GetContext(ContextKeySummaries); ok {
		if summaries, ok := value.(map[string]domain.RunSummary); ok && len(summaries) > 0 {
			return summaries, batchID, nil
		}
	}

	if s.store == nil {
		return nil, "", fmt.Errorf("no run summaries available; run the metrics step first")
	}

	dirValue, _ := state.GetConfig(ContextKeyDirectory)
	dir, _ := dirValue.(string)
	stored, err := s.store.LoadBatch(ctx, dir)
	if err != nil || stored == nil || len(stored.Summaries) == 0 {
		return nil, "", fmt.Errorf("no run summaries available; run the metrics step first")
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "Screening stored batch",
			slog.String("directory", dir),
			slog.String("batch_id", stored.Batch.ID),
			slog.Int("runs", len(stored.Summaries)))
	}

	return stored.Summaries, stored.Batch.ID, nil
}

// updateProgress updates progress through the centralized StatusBroadcaster
func (s *ScreenStep) updateProgress(operationID string, stepState *StepState, progress int, message string) {
	stepState.UpdateProgress(float64(progress), message)

	if s.options.StatusBroadcaster != nil {
		s.options.StatusBroadcaster.UpdateStepProgress(operationID, s.ID(), progress, message)
	}
}

// ExportStep writes the combined screening table
type ExportStep struct {
	BaseStep
	paths   *config.Paths
	logger  *slog.Logger
	options *StepOptions
}

// NewExportStep creates a new result export step
func NewExportStep(paths *config.Paths, logger *slog.Logger, options *StepOptions) *ExportStep {
	if options == nil {
		options = &StepOptions{}
	}

	if logger != nil {
		logger = logger.With(slog.String("step", StepIDExport))
	}

	return &ExportStep{
		BaseStep: NewBaseStep(StepIDExport, StepNameExport, []string{StepIDScreen}),
		paths:    paths,
		logger:   logger,
		options:  options,
	}
}

// Execute writes the combined screening CSV
func (e *ExportStep) Execute(ctx context.Context, state *OperationState) error {
	stepState := state.GetStep(e.ID())

	value, ok := state.GetContext(ContextKeyResults)
	if !ok {
		return fmt.Errorf("no screening results to export; run the screen step first")
	}
	results, ok := value.([]domain.ScreeningResult)
	if !ok {
		return fmt.Errorf("no screening results to export; run the screen step first")
	}

	if e.logger != nil {
		e.logger.InfoContext(ctx, "Result export started",
			slog.String("operation_id", state.ID),
			slog.Int("results", len(results)))
	}

	e.updateProgress(state.ID, stepState, 10, "Preparing export directory...")

	outputPath := e.paths.GetCombinedScreeningCSVPath()
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("result export cancelled: %w", ctx.Err())
	default:
	}

	e.updateProgress(state.ID, stepState, 40, "Writing combined screening table...")

	if err := exporter.NewScreeningExporter(e.paths).ExportCombined(results, outputPath); err != nil {
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "Combined export failed",
				slog.String("output_path", outputPath),
				slog.String("error", err.Error()))
		}
		return fmt.Errorf("export screening results: %w", err)
	}

	state.SetContext(ContextKeyCombinedCSV, outputPath)

	stepState.Metadata["output_path"] = outputPath
	stepState.Metadata["records"] = len(results)

	if e.logger != nil {
		e.logger.InfoContext(ctx, "Result export completed",
			slog.String("output_path", outputPath),
			slog.Int("records", len(results)))
	}

	e.updateProgress(state.ID, stepState, 100,
		fmt.Sprintf("Export completed: %d records written", len(results)))
	return nil
}

// updateProgress updates progress through the centralized StatusBroadcaster
func (e *ExportStep) updateProgress(operationID string, stepState *StepState, progress int, message string) {
	stepState.UpdateProgress(float64(progress), message)

	if e.options.StatusBroadcaster != nil {
		e.options.StatusBroadcaster.UpdateStepProgress(operationID, e.ID(), progress, message)
	}
}

// ProducedOutputs returns the screening tables produced
func (e *ExportStep) ProducedOutputs() []DataOutput {
	return []DataOutput{
		{
			Type:     DataTypeScreeningCSV,
			Location: e.paths.ExportsDir,
			Pattern:  "imfcs_*.csv",
		},
	}
}

// ReportStep renders the batch HTML report
type ReportStep struct {
	BaseStep
	paths   *config.Paths
	logger  *slog.Logger
	options *StepOptions
}

// NewReportStep creates a new report generation step
func NewReportStep(paths *config.Paths, logger *slog.Logger, options *StepOptions) *ReportStep {
	if options == nil {
		options = &StepOptions{}
	}

	if logger != nil {
		logger = logger.With(slog.String("step", StepIDReport))
	}

	return &ReportStep{
		BaseStep: NewBaseStep(StepIDReport, StepNameReport, []string{StepIDLoad, StepIDScreen}),
		paths:    paths,
		logger:   logger,
		options:  options,
	}
}

// Execute renders verdict and ACF charts into an HTML report
func (r *ReportStep) Execute(ctx context.Context, state *OperationState) error {
	stepState := state.GetStep(r.ID())

	batchValue, ok := state.GetContext(ContextKeyBatchLoad)
	if !ok {
		return fmt.Errorf("report needs loaded runs; run the load step first")
	}
	batch, ok := batchValue.(*loader.BatchLoad)
	if !ok || batch == nil {
		return fmt.Errorf("report needs loaded runs; run the load step first")
	}

	resultsValue, ok := state.GetContext(ContextKeyResults)
	if !ok {
		return fmt.Errorf("report needs screening results; run the screen step first")
	}
	results, ok := resultsValue.([]domain.ScreeningResult)
	if !ok {
		return fmt.Errorf("report needs screening results; run the screen step first")
	}

	if len(batch.Runs) == 0 {
		// Accumulative run with nothing reloaded
		if r.logger != nil {
			r.logger.InfoContext(ctx, "No newly loaded runs, skipping report",
				slog.String("operation_id", state.ID))
		}
		stepState.Metadata["skipped"] = true
		r.updateProgress(state.ID, stepState, 100, "No newly loaded runs to report")
		return nil
	}

	if r.logger != nil {
		r.logger.InfoContext(ctx, "Report generation started",
			slog.String("operation_id", state.ID),
			slog.String("batch_id", batch.Batch.ID),
			slog.Int("runs", len(batch.Runs)))
	}

	r.updateProgress(state.ID, stepState, 20, "Assembling batch dataset...")

	dataset, err := analysis.NewDataset(batch.Runs)
	if err != nil {
		return fmt.Errorf("assemble report dataset: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("report generation cancelled: %w", ctx.Err())
	default:
	}

	r.updateProgress(state.ID, stepState, 60, "Rendering batch report...")

	outputPath := r.paths.GetBatchReportPath(batch.Batch.ID)
	data := report.BatchData{
		BatchID:   batch.Batch.ID,
		Directory: batch.Batch.Directory,
		Dataset:   dataset,
		Results:   results,
	}

	if err := report.NewGenerator(r.paths).WriteBatchReport(data, outputPath); err != nil {
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "Report rendering failed",
				slog.String("output_path", outputPath),
				slog.String("error", err.Error()))
		}
		return fmt.Errorf("write batch report: %w", err)
	}

	state.SetContext(ContextKeyReportPath, outputPath)

	stepState.Metadata["output_path"] = outputPath
	stepState.Metadata["runs_reported"] = len(batch.Runs)

	if r.logger != nil {
		r.logger.InfoContext(ctx, "Report generation completed",
			slog.String("output_path", outputPath))
	}

	r.updateProgress(state.ID, stepState, 100, "Batch report written")
	return nil
}

// updateProgress updates progress through the centralized StatusBroadcaster
func (r *ReportStep) updateProgress(operationID string, stepState *StepState, progress int, message string) {
	stepState.UpdateProgress(float64(progress), message)

	if r.options.StatusBroadcaster != nil {
		r.options.StatusBroadcaster.UpdateStepProgress(operationID, r.ID(), progress, message)
	}
}

// ProducedOutputs returns the reports produced
func (r *ReportStep) ProducedOutputs() []DataOutput {
	return []DataOutput{
		{
			Type:     DataTypeReports,
			Location: r.paths.ReportsDir,
			Pattern:  "*.html",
		},
	}
}

// StepFactory creates the pipeline steps with shared services
func StepFactory(paths *config.Paths, st *store.Store, screenCfg config.ScreeningConfig, logger *slog.Logger, options *StepOptions) map[string]Step {
	return map[string]Step{
		StepIDDiscover: NewDiscoverStep(logger, options),
		StepIDLoad:     NewLoadStep(st, screenCfg.Workers, logger, options),
		StepIDMetrics:  NewMetricsStep(st, screenCfg.SNRLastLag, logger, options),
		StepIDScreen:   NewScreenStep(st, paths.RulesFile, logger, options),
		StepIDExport:   NewExportStep(paths, logger, options),
		StepIDReport:   NewReportStep(paths, logger, options),
	}
}

// Compile-time interface checks
var (
	_ Step = (*DiscoverStep)(nil)
	_ Step = (*LoadStep)(nil)
	_ Step = (*MetricsStep)(nil)
	_ Step = (*ScreenStep)(nil)
	_ Step = (*ExportStep)(nil)
	_ Step = (*ReportStep)(nil)
)
