package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"imfcscli/internal/config"
	"imfcscli/internal/exporter"
	"imfcscli/internal/files"
	"imfcscli/internal/infrastructure"
	"imfcscli/internal/loader"
	"imfcscli/internal/middleware"
	"imfcscli/internal/screening"
	"imfcscli/internal/store"
	"imfcscli/pkg/contracts/domain"
	"imfcscli/pkg/contracts/events"
)

// BatchService drives interactive screening over one acquisition directory
// at a time: run navigation, lazy summaries, ROI selection and per-run or
// whole-batch verdicts. Sessions checkpoint into the store and resume from
// it, skipping runs whose workbook is unchanged on disk.
type BatchService struct {
	paths       *config.Paths
	fileManager *files.Manager
	store       *store.Store
	hub         WebSocketHub
	screenCfg   config.ScreeningConfig
	logger      *slog.Logger

	mu        sync.RWMutex
	session   *screening.Session
	batch     *domain.BatchInfo
	summaries map[string]domain.RunSummary
}

// NewBatchService creates a batch service. The hub may be nil, in which
// case load progress is not published.
func NewBatchService(st *store.Store, hub WebSocketHub, screenCfg config.ScreeningConfig, logger *slog.Logger) (*BatchService, error) {
	// Get the centralized paths
	paths, err := config.GetPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get paths: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("BatchService initialized with paths",
		slog.String("acquisitions_dir", paths.AcquisitionsDir),
		slog.String("reports_dir", paths.ReportsDir),
		slog.String("exports_dir", paths.ExportsDir))

	return &BatchService{
		paths:       paths,
		fileManager: files.NewManager(paths),
		store:       st,
		hub:         hub,
		screenCfg:   screenCfg,
		logger:      logger,
	}, nil
}

// OpenBatch discovers the runs of a directory and makes them the active
// session. With resume, the most recent checkpoint of the same directory is
// reattached: batch identity, still fresh summaries and saved regions.
func (bs *BatchService) OpenBatch(ctx context.Context, directory string, resume bool) (*domain.BatchInfo, error) {
	if directory == "" {
		return nil, fmt.Errorf("%w: directory is required", ErrInvalidInput)
	}
	if info, err := os.Stat(directory); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a readable directory", ErrInvalidInput, directory)
	}

	artifacts, err := files.NewDiscovery(directory).FindRunArtifacts(".")
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", directory, err)
	}

	var loadable []files.RunGroup
	for _, g := range files.GroupRuns(artifacts) {
		if g.Loadable() {
			loadable = append(loadable, g)
		}
	}
	if len(loadable) == 0 {
		return nil, fmt.Errorf("%w: no evaluation workbooks under %s", ErrNoRunsFound, directory)
	}

	session := screening.NewSession(directory, loadable, bs.logger)
	session.SetSNRLastLag(bs.screenCfg.SNRLastLag)

	batch := domain.BatchInfo{
		ID:        uuid.New().String(),
		Directory: directory,
		CreatedAt: time.Now().UTC(),
	}
	for _, g := range loadable {
		batch.Runs = append(batch.Runs, runInfoFromGroup(g))
	}

	summaries := make(map[string]domain.RunSummary)
	if resume {
		bs.resumeCheckpoint(ctx, session, &batch, summaries)
	}

	bs.mu.Lock()
	bs.session = session
	bs.batch = &batch
	bs.summaries = summaries
	bs.mu.Unlock()

	bs.logger.InfoContext(ctx, "batch opened",
		slog.String("batch_id", batch.ID),
		slog.String("directory", directory),
		slog.Int("runs", len(batch.Runs)),
		slog.Int("resumed_summaries", len(summaries)))

	return &batch, nil
}

// runInfoFromGroup builds the discovery-time run record: key and artifact
// paths, workbook first. Loading fills in the acquisition parameters later.
func runInfoFromGroup(g files.RunGroup) domain.RunInfo {
	info := domain.RunInfo{Key: g.Key}
	if workbook, ok := g.WorkbookPath(); ok {
		info.Files = append(info.Files, workbook)
	}
	if tiff, ok := g.IntensityPath(); ok {
		info.Files = append(info.Files, tiff)
	}
	return info
}

// resumeCheckpoint reattaches the stored session of the directory. Summaries
// of runs whose workbook digest changed are dropped; saved regions that no
// longer fit their run are skipped with a warning.
func (bs *BatchService) resumeCheckpoint(ctx context.Context, session *screening.Session, batch *domain.BatchInfo, summaries map[string]domain.RunSummary) {
	stored, err := bs.store.LoadBatch(ctx, batch.Directory)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			bs.logger.WarnContext(ctx, "checkpoint lookup failed",
				slog.String("directory", batch.Directory),
				slog.String("error", err.Error()))
		}
		return
	}

	stale := make(map[string]bool)
	for _, key := range bs.store.StaleRuns(stored) {
		stale[key] = true
	}

	known := make(map[string]bool, len(batch.Runs))
	for _, info := range batch.Runs {
		known[info.Key] = true
	}

	batch.ID = stored.Batch.ID
	batch.CreatedAt = stored.Batch.CreatedAt

	for key, summary := range stored.Summaries {
		if known[key] && !stale[key] {
			summaries[key] = summary
		}
	}

	for key, region := range stored.ROIs {
		if !known[key] {
			continue
		}
		if err := session.SetROI(key, region); err != nil {
			bs.logger.WarnContext(ctx, "saved region no longer fits its run",
				slog.String("run", key),
				slog.String("error", err.Error()))
		}
	}

	bs.logger.InfoContext(ctx, "session resumed",
		slog.String("batch_id", batch.ID),
		slog.Int("reused_summaries", len(summaries)),
		slog.Int("stale_runs", len(stale)),
		slog.Int("regions", len(stored.ROIs)))
}

// currentSession returns the active session
func (bs *BatchService) currentSession() (*screening.Session, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	if bs.session == nil {
		return nil, ErrNoBatchLoaded
	}
	return bs.session, nil
}

// Batch returns the open batch.
func (bs *BatchService) Batch(ctx context.Context) (*domain.BatchInfo, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	if bs.batch == nil {
		return nil, ErrNoBatchLoaded
	}
	batch := *bs.batch
	batch.Runs = append([]domain.RunInfo(nil), bs.batch.Runs...)
	return &batch, nil
}

// Keys returns the run keys of the open batch in navigation order.
func (bs *BatchService) Keys(ctx context.Context) ([]string, error) {
	session, err := bs.currentSession()
	if err != nil {
		return nil, err
	}
	return session.Keys(), nil
}

// FirstRun returns the first run key of the open batch.
func (bs *BatchService) FirstRun(ctx context.Context) (string, error) {
	session, err := bs.currentSession()
	if err != nil {
		return "", err
	}
	key, ok := session.First()
	if !ok {
		return "", ErrNoRunsFound
	}
	return key, nil
}

// NextRun returns the key after current, clamped at the end of the batch.
func (bs *BatchService) NextRun(ctx context.Context, current string) (string, error) {
	session, err := bs.currentSession()
	if err != nil {
		return "", err
	}
	key, err := session.NextKey(current)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, current)
	}
	return key, nil
}

// PrevRun returns the key before current, clamped at the start of the batch.
func (bs *BatchService) PrevRun(ctx context.Context, current string) (string, error) {
	session, err := bs.currentSession()
	if err != nil {
		return "", err
	}
	key, err := session.PrevKey(current)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, current)
	}
	return key, nil
}

// RunFiles returns the artifacts of one run, intensity image first.
func (bs *BatchService) RunFiles(ctx context.Context, key string) ([]files.FileInfo, error) {
	session, err := bs.currentSession()
	if err != nil {
		return nil, err
	}
	infos, err := session.Files(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, key)
	}
	return infos, nil
}

// Summary returns the screening statistics of one run, computing and
// caching them on first access. SetROI drops the cached entry, so a region
// change always recomputes.
func (bs *BatchService) Summary(ctx context.Context, key string) (domain.RunSummary, error) {
	session, err := bs.currentSession()
	if err != nil {
		return domain.RunSummary{}, err
	}
	if _, err := session.Group(key); err != nil {
		return domain.RunSummary{}, fmt.Errorf("%w: %s", ErrRunNotFound, key)
	}

	bs.mu.RLock()
	summary, cached := bs.summaries[key]
	bs.mu.RUnlock()
	middleware.RecordBatchCacheAccess(ctx, cached)
	if cached {
		return summary, nil
	}

	loaded := false
	for _, k := range session.Loaded() {
		if k == key {
			loaded = true
			break
		}
	}

	started := time.Now()
	summary, err = session.Summarize(key)
	if !loaded {
		metrics := middleware.GetBusinessMetricsFromContext(ctx)
		infrastructure.RecordRunLoadMetrics(ctx, metrics, key, time.Since(started), err)
	}
	if err != nil {
		return domain.RunSummary{}, fmt.Errorf("failed to summarize %s: %w", key, err)
	}

	bs.logger.DebugContext(ctx, "run summarized",
		slog.String("run", key),
		slog.Duration("elapsed", time.Since(started)))

	bs.mu.Lock()
	bs.summaries[key] = summary
	bs.mu.Unlock()

	return summary, nil
}

// Summaries returns the summaries computed so far, keyed by run.
func (bs *BatchService) Summaries(ctx context.Context) (map[string]domain.RunSummary, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	if bs.session == nil {
		return nil, ErrNoBatchLoaded
	}

	out := make(map[string]domain.RunSummary, len(bs.summaries))
	for key, summary := range bs.summaries {
		out[key] = summary
	}
	return out, nil
}

// SetROI attaches a region to a run, or clears it when region is nil, and
// returns the summary recomputed over the new region.
func (bs *BatchService) SetROI(ctx context.Context, key string, region *domain.ROI) (domain.RunSummary, error) {
	session, err := bs.currentSession()
	if err != nil {
		return domain.RunSummary{}, err
	}
	if _, err := session.Group(key); err != nil {
		return domain.RunSummary{}, fmt.Errorf("%w: %s", ErrRunNotFound, key)
	}

	if err := session.SetROI(key, region); err != nil {
		if errors.Is(err, domain.ErrROIOutOfBounds) || errors.Is(err, domain.ErrEmptyROI) {
			return domain.RunSummary{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return domain.RunSummary{}, fmt.Errorf("failed to set region for %s: %w", key, err)
	}

	// The cached summary was computed over the previous region.
	bs.mu.Lock()
	delete(bs.summaries, key)
	bs.mu.Unlock()

	bs.logger.InfoContext(ctx, "run region updated",
		slog.String("run", key),
		slog.Bool("cleared", region == nil))

	return bs.Summary(ctx, key)
}

// ROI returns the region attached to a run, nil when screening the full
// frame.
func (bs *BatchService) ROI(ctx context.Context, key string) (*domain.ROI, error) {
	session, err := bs.currentSession()
	if err != nil {
		return nil, err
	}
	if _, err := session.Group(key); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, key)
	}

	region, err := session.ROI(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read region for %s: %w", key, err)
	}
	return region, nil
}

// resolveRules returns the explicit rules, the configured rules file, or
// the built-in defaults, in that order.
func (bs *BatchService) resolveRules(ctx context.Context, rules *domain.Rules) (domain.Rules, error) {
	if rules != nil {
		if err := screening.ValidateRules(*rules); err != nil {
			return domain.Rules{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return *rules, nil
	}

	path := bs.paths.GetRulesPath()
	if _, err := os.Stat(path); err != nil {
		return domain.DefaultRules(), nil
	}

	loaded, err := screening.LoadRules(path)
	if err != nil {
		return domain.Rules{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	bs.logger.DebugContext(ctx, "screening rules loaded",
		slog.String("path", path))
	return loaded, nil
}

// ScreenRun evaluates one run against the rules and records the verdict in
// the store.
func (bs *BatchService) ScreenRun(ctx context.Context, key string, rules *domain.Rules) (domain.ScreeningResult, error) {
	session, err := bs.currentSession()
	if err != nil {
		return domain.ScreeningResult{}, err
	}
	if _, err := session.Group(key); err != nil {
		return domain.ScreeningResult{}, fmt.Errorf("%w: %s", ErrRunNotFound, key)
	}

	resolved, err := bs.resolveRules(ctx, rules)
	if err != nil {
		return domain.ScreeningResult{}, err
	}

	started := time.Now()
	result, err := session.Screen(key, resolved)
	if err != nil {
		return domain.ScreeningResult{}, fmt.Errorf("failed to screen %s: %w", key, err)
	}

	metrics := middleware.GetBusinessMetricsFromContext(ctx)
	infrastructure.RecordScreeningMetrics(ctx, metrics, string(result.Verdict), failedRuleNames(result), time.Since(started))
	bs.persistResult(ctx, result)

	bs.logger.InfoContext(ctx, "run screened",
		slog.String("run", key),
		slog.String("verdict", string(result.Verdict)))

	return result, nil
}

// ScreenBatch evaluates every run of the batch and aggregates the verdicts.
// A run that cannot be loaded fails screening with its load error recorded
// in the summary.
func (bs *BatchService) ScreenBatch(ctx context.Context, rules *domain.Rules) (*domain.BatchResult, error) {
	session, err := bs.currentSession()
	if err != nil {
		return nil, err
	}
	batch, err := bs.Batch(ctx)
	if err != nil {
		return nil, err
	}
	resolved, err := bs.resolveRules(ctx, rules)
	if err != nil {
		return nil, err
	}

	metrics := middleware.GetBusinessMetricsFromContext(ctx)

	result := &domain.BatchResult{
		Batch: *batch,
		Rules: resolved,
	}
	for _, key := range session.Keys() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		started := time.Now()
		screened, err := session.Screen(key, resolved)
		if err != nil {
			screened = domain.ScreeningResult{
				RunKey:     key,
				Verdict:    domain.VerdictFail,
				Summary:    domain.RunSummary{Key: key, Error: err.Error()},
				ScreenedAt: time.Now().UTC(),
			}
			bs.logger.WarnContext(ctx, "run failed screening",
				slog.String("run", key),
				slog.String("error", err.Error()))
		} else {
			bs.mu.Lock()
			if _, ok := bs.summaries[key]; !ok {
				bs.summaries[key] = screened.Summary
			}
			bs.mu.Unlock()
		}

		infrastructure.RecordScreeningMetrics(ctx, metrics, string(screened.Verdict), failedRuleNames(screened), time.Since(started))
		bs.persistResult(ctx, screened)
		result.Results = append(result.Results, screened)
	}
	result.CompletedAt = time.Now().UTC()
	result.Counts()

	bs.logger.InfoContext(ctx, "batch screened",
		slog.String("batch_id", batch.ID),
		slog.Int("passed", result.Passed),
		slog.Int("review", result.Review),
		slog.Int("failed", result.Failed))

	return result, nil
}

// failedRuleNames lists the rules the run did not pass.
func failedRuleNames(result domain.ScreeningResult) []string {
	var failed []string
	for _, outcome := range result.Outcomes {
		if !outcome.Passed {
			failed = append(failed, outcome.Name)
		}
	}
	return failed
}

// persistResult records a verdict in the store. Persistence failures are
// logged and do not fail the screen itself.
func (bs *BatchService) persistResult(ctx context.Context, result domain.ScreeningResult) {
	bs.mu.RLock()
	batch := bs.batch
	bs.mu.RUnlock()
	if batch == nil {
		return
	}

	if err := bs.store.SaveScreening(ctx, batch.ID, result); err != nil {
		bs.logger.WarnContext(ctx, "failed to record verdict",
			slog.String("run", result.RunKey),
			slog.String("error", err.Error()))
	}
}

// PreloadRuns parses every workbook of the batch with the bounded loader
// pool and hands the runs to the session, so navigation and summaries
// afterwards come out of memory. Progress is published per finished run.
func (bs *BatchService) PreloadRuns(ctx context.Context) (*loader.BatchLoad, error) {
	session, err := bs.currentSession()
	if err != nil {
		return nil, err
	}
	batch, err := bs.Batch(ctx)
	if err != nil {
		return nil, err
	}

	var groups []files.RunGroup
	for _, key := range session.Keys() {
		if g, err := session.Group(key); err == nil {
			groups = append(groups, g)
		}
	}

	metrics := middleware.GetBusinessMetricsFromContext(ctx)
	started := time.Now()

	ld := loader.New(bs.screenCfg.Workers, bs.logger, func(p loader.Progress) {
		infrastructure.RecordRunLoadMetrics(ctx, metrics, p.Key, p.Elapsed, p.Err)
		bs.broadcastProgress(events.BatchProgress{
			OperationID: batch.ID,
			Directory:   batch.Directory,
			CurrentRun:  p.Key,
			Completed:   p.Completed,
			Total:       p.Total,
			Percentage:  p.Percent(),
			Elapsed:     time.Since(started).Round(time.Millisecond).String(),
			Timestamp:   time.Now().UTC(),
		})
	})

	load, err := ld.LoadGroups(ctx, batch.Directory, groups)
	if err != nil {
		return nil, fmt.Errorf("failed to preload runs: %w", err)
	}

	for _, run := range load.Runs {
		if err := session.AdoptRun(run); err != nil {
			bs.logger.WarnContext(ctx, "loaded run not in session",
				slog.String("run", run.Info.Key),
				slog.String("error", err.Error()))
		}
	}
	bs.refreshRunInfo(load)

	// The per-run frames cannot carry the failure count; the final frame
	// does.
	bs.broadcastProgress(events.BatchProgress{
		OperationID: batch.ID,
		Directory:   batch.Directory,
		Completed:   len(groups),
		Failed:      len(load.Failures),
		Total:       len(groups),
		Percentage:  100,
		Elapsed:     load.Elapsed.Round(time.Millisecond).String(),
		Timestamp:   time.Now().UTC(),
	})

	bs.logger.InfoContext(ctx, "batch preloaded",
		slog.String("batch_id", batch.ID),
		slog.Int("loaded", len(load.Runs)),
		slog.Int("failed", len(load.Failures)),
		slog.Duration("elapsed", load.Elapsed))

	return load, nil
}

// broadcastProgress publishes a batch progress frame when a hub is wired
func (bs *BatchService) broadcastProgress(progress events.BatchProgress) {
	if bs.hub != nil {
		bs.hub.BroadcastBatchProgress(progress)
	}
}

// refreshRunInfo replaces the thin discovery records of the open batch with
// the metadata of the loaded runs.
func (bs *BatchService) refreshRunInfo(load *loader.BatchLoad) {
	infos := make(map[string]domain.RunInfo, len(load.Runs))
	for _, run := range load.Runs {
		infos[run.Info.Key] = run.Info
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.batch == nil {
		return
	}
	for i, info := range bs.batch.Runs {
		if full, ok := infos[info.Key]; ok {
			bs.batch.Runs[i] = full
		}
	}
}

// SaveSession checkpoints the open batch: run metadata, workbook digests,
// the computed summaries and the attached regions. A later OpenBatch with
// resume picks the checkpoint back up.
func (bs *BatchService) SaveSession(ctx context.Context) error {
	session, err := bs.currentSession()
	if err != nil {
		return err
	}

	bs.mu.RLock()
	batch := *bs.batch
	batch.Runs = append([]domain.RunInfo(nil), bs.batch.Runs...)
	summaries := make(map[string]domain.RunSummary, len(bs.summaries))
	for key, summary := range bs.summaries {
		summaries[key] = summary
	}
	bs.mu.RUnlock()

	// Loaded runs carry fuller metadata than the discovery records.
	for _, key := range session.Loaded() {
		run, err := session.Run(key)
		if err != nil {
			continue
		}
		for i, info := range batch.Runs {
			if info.Key == run.Info.Key {
				batch.Runs[i] = run.Info
				break
			}
		}
	}

	rois := session.ROIs()
	if err := bs.store.SaveBatch(ctx, batch, summaries, rois); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	bs.logger.InfoContext(ctx, "session saved",
		slog.String("batch_id", batch.ID),
		slog.Int("runs", len(batch.Runs)),
		slog.Int("summaries", len(summaries)),
		slog.Int("regions", len(rois)))
	return nil
}

// History returns the recorded verdicts of one run, most recent first.
// History spans batches, so past sessions of the same run stay visible.
func (bs *BatchService) History(ctx context.Context, key string) ([]domain.ScreeningResult, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: run key is required", ErrInvalidInput)
	}

	results, err := bs.store.History(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", key, err)
	}
	return results, nil
}

// CombinedScreening returns the rows of the accumulated screening table.
func (bs *BatchService) CombinedScreening(ctx context.Context) ([]exporter.ScreeningRecord, error) {
	path := bs.paths.GetCombinedScreeningCSVPath()
	records, err := exporter.ReadCombined(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no combined screening table yet", ErrNoReportsFound)
		}
		return nil, fmt.Errorf("failed to read combined screening: %w", err)
	}
	return records, nil
}

// GetReports lists the generated reports and export tables, newest first.
func (bs *BatchService) GetReports(ctx context.Context) ([]map[string]interface{}, error) {
	bs.logger.DebugContext(ctx, "scanning output directories",
		slog.String("reports_dir", bs.paths.ReportsDir),
		slog.String("exports_dir", bs.paths.ExportsDir))

	var reports []map[string]interface{}
	reports = append(reports, bs.scanOutputDir("reports", bs.paths.ReportsDir, ".html", ".csv")...)
	reports = append(reports, bs.scanOutputDir("exports", bs.paths.ExportsDir, ".csv")...)

	// Sort by modification time (newest first)
	sort.Slice(reports, func(i, j int) bool {
		return reports[i]["modified"].(time.Time).After(reports[j]["modified"].(time.Time))
	})

	bs.logger.DebugContext(ctx, "found reports",
		slog.Int("count", len(reports)))

	return reports, nil
}

// scanOutputDir lists the files of one output directory with a category
// derived from the filename pattern.
func (bs *BatchService) scanOutputDir(fileType, dir string, extensions ...string) []map[string]interface{} {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			bs.logger.Debug("failed to read output directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
		}
		return nil
	}

	var out []map[string]interface{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		matched := false
		for _, want := range extensions {
			if ext == want {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		out = append(out, map[string]interface{}{
			"name":     entry.Name(),
			"path":     entry.Name(),
			"type":     fileType,
			"category": reportCategory(entry.Name()),
			"size":     info.Size(),
			"modified": info.ModTime(),
			"fullPath": filepath.Join(dir, entry.Name()),
		})
	}
	return out
}

// reportCategory derives the report family from the filename pattern.
func reportCategory(name string) string {
	switch {
	case strings.HasPrefix(name, "batch_"):
		return "batch"
	case strings.HasPrefix(name, "psf_calibration"):
		return "calibration"
	case strings.Contains(name, "combined_screening"):
		return "screening"
	case strings.HasSuffix(name, "_summary.csv"):
		return "summary"
	case strings.HasSuffix(name, "_pixels.csv"):
		return "pixels"
	default:
		return "uncategorized"
	}
}

// GetFiles lists the acquisition directories and the generated outputs with
// aggregate size and recency.
func (bs *BatchService) GetFiles(ctx context.Context) (map[string]interface{}, error) {
	result := map[string]interface{}{
		"acquisitions":  []interface{}{},
		"reports":       []interface{}{},
		"exports":       []interface{}{},
		"total_size":    int64(0),
		"last_modified": time.Time{},
	}

	dirs, err := files.NewDiscovery(bs.paths.AcquisitionsDir).ListDirectories(".")
	switch {
	case err == nil:
		acquisitions := make([]interface{}, 0, len(dirs))
		for _, d := range dirs {
			acquisitions = append(acquisitions, map[string]interface{}{
				"name":     d.Name,
				"path":     d.Path,
				"modified": d.ModTime.Format(time.RFC3339),
			})
		}
		result["acquisitions"] = acquisitions
	case !errors.Is(err, os.ErrNotExist):
		logBatchError(ctx, "list_files", "Failed to list acquisitions",
			slog.String("error", err.Error()),
		)
	}

	if err := bs.listFiles("reports", ".html", result); err != nil {
		logBatchError(ctx, "list_files", "Failed to list reports",
			slog.String("error", err.Error()),
		)
	}
	if err := bs.listFiles("exports", ".csv", result); err != nil {
		logBatchError(ctx, "list_files", "Failed to list exports",
			slog.String("error", err.Error()),
		)
	}

	return result, nil
}

// listFiles lists files of one output directory into the result, rolling
// size and recency into the aggregate fields.
func (bs *BatchService) listFiles(dirName, extension string, result map[string]interface{}) error {
	var dir string
	switch dirName {
	case "reports":
		dir = bs.paths.ReportsDir
	case "exports":
		dir = bs.paths.ExportsDir
	default:
		dir = filepath.Join(bs.paths.DataDir, dirName)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	fileList := []interface{}{}
	totalSize, _ := result["total_size"].(int64)
	lastModified, _ := result["last_modified"].(time.Time)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), extension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		fileList = append(fileList, map[string]interface{}{
			"name":     entry.Name(),
			"size":     info.Size(),
			"modified": info.ModTime().Format(time.RFC3339),
		})
		totalSize += info.Size()
		if info.ModTime().After(lastModified) {
			lastModified = info.ModTime()
		}
	}

	// Sort files by modification time (newest first)
	sort.Slice(fileList, func(i, j int) bool {
		timeI, _ := time.Parse(time.RFC3339, fileList[i].(map[string]interface{})["modified"].(string))
		timeJ, _ := time.Parse(time.RFC3339, fileList[j].(map[string]interface{})["modified"].(string))
		return timeI.After(timeJ)
	})

	result[dirName] = fileList
	result["total_size"] = totalSize
	result["last_modified"] = lastModified
	return nil
}

// DownloadFile serves a generated report or export for download. The
// filename may carry subdirectories; the resolved path must stay inside the
// directory of its type.
func (bs *BatchService) DownloadFile(ctx context.Context, w http.ResponseWriter, r *http.Request, fileType, filename string) error {
	var dir string
	switch fileType {
	case "reports", "report", "html":
		dir = bs.paths.ReportsDir
	case "exports", "export", "csv":
		dir = bs.paths.ExportsDir
	default:
		return fmt.Errorf("%w: %s", ErrInvalidFileType, fileType)
	}

	bs.logger.DebugContext(ctx, "serving file",
		slog.String("file_type", fileType),
		slog.String("filename", filename),
		slog.String("directory", dir))

	// The filename may be a relative path with subdirectories. Clean it and
	// keep the resolved path inside the base directory.
	cleaned := filepath.FromSlash(filepath.Clean(filename))

	filePath := filepath.Join(dir, cleaned)
	absFilePath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, filename)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, dir)
	}

	absFilePath = filepath.Clean(absFilePath)
	absDir = filepath.Clean(absDir)
	if !strings.HasPrefix(absFilePath, absDir) {
		bs.logger.WarnContext(ctx, "attempted directory traversal",
			slog.String("requested_path", filename),
			slog.String("resolved_path", absFilePath),
			slog.String("base_dir", absDir))
		return fmt.Errorf("%w: %s", ErrInvalidInput, filename)
	}

	if !bs.fileManager.FileExists(absFilePath) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, filename)
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(cleaned)))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, absFilePath)
	return nil
}
