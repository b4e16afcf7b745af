// Package loader reads the runs of an acquisition directory concurrently
// and assembles them into a batch for screening.
package loader

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"imfcscli/internal/files"
	"imfcscli/internal/imfcs"
	"imfcscli/pkg/contracts/domain"
)

// DefaultWorkers bounds the number of workbooks parsed at once.
const DefaultWorkers = 4

// Progress reports one finished run within a batch load. Err carries the
// load failure of that run, nil on success; Elapsed is its parse time.
type Progress struct {
	Key       string
	Completed int
	Total     int
	Elapsed   time.Duration
	Err       error
}

// Percent returns the completion as 0..100.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// ProgressFunc receives progress updates. It may be called from several
// worker goroutines at once.
type ProgressFunc func(Progress)

// Failure records a run that could not be loaded.
type Failure struct {
	Key string
	Err error
}

// BatchLoad is the outcome of loading one directory: the batch metadata,
// the loaded runs in group order, and the per-run failures.
type BatchLoad struct {
	Batch    domain.BatchInfo
	Runs     []*imfcs.Run
	Failures []Failure
	Elapsed  time.Duration
}

// Loader parses saved evaluation workbooks with a bounded worker pool.
type Loader struct {
	workers    int
	logger     *slog.Logger
	onProgress ProgressFunc
}

// New creates a loader. Zero or negative workers falls back to
// DefaultWorkers; a nil progress function disables reporting.
func New(workers int, logger *slog.Logger, onProgress ProgressFunc) *Loader {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{workers: workers, logger: logger, onProgress: onProgress}
}

// LoadDir discovers the run artifacts of dir and loads every group that
// carries an evaluation workbook.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*BatchLoad, error) {
	artifacts, err := files.NewDiscovery(dir).FindRunArtifacts(".")
	if err != nil {
		return nil, err
	}
	return l.LoadGroups(ctx, dir, files.GroupRuns(artifacts))
}

// LoadGroups loads the loadable groups concurrently. A run that fails to
// parse is recorded as a Failure and does not abort the batch; the only
// error returned is context cancellation.
func (l *Loader) LoadGroups(ctx context.Context, dir string, groups []files.RunGroup) (*BatchLoad, error) {
	started := time.Now()

	loadable := make([]files.RunGroup, 0, len(groups))
	for _, g := range groups {
		if g.Loadable() {
			loadable = append(loadable, g)
		}
	}
	total := len(loadable)

	runs := make([]*imfcs.Run, total)
	errs := make([]error, total)
	var completed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, grp := range loadable {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			workbook, _ := grp.WorkbookPath()
			tiff, _ := grp.IntensityPath()

			runStart := time.Now()
			run, err := imfcs.LoadRun(grp.Key, workbook, tiff)
			if err != nil {
				errs[i] = err
				l.logger.WarnContext(ctx, "run failed to load",
					slog.String("key", grp.Key),
					slog.String("error", err.Error()))
			} else {
				runs[i] = run
				l.logger.DebugContext(ctx, "run loaded",
					slog.String("key", grp.Key),
					slog.Duration("elapsed", time.Since(runStart)))
			}

			if l.onProgress != nil {
				l.onProgress(Progress{
					Key:       grp.Key,
					Completed: int(completed.Add(1)),
					Total:     total,
					Elapsed:   time.Since(runStart),
					Err:       err,
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	load := &BatchLoad{
		Batch: domain.BatchInfo{
			ID:        uuid.New().String(),
			Directory: dir,
			CreatedAt: time.Now().UTC(),
		},
		Elapsed: time.Since(started),
	}
	for i, grp := range loadable {
		if errs[i] != nil {
			load.Failures = append(load.Failures, Failure{Key: grp.Key, Err: errs[i]})
			continue
		}
		load.Runs = append(load.Runs, runs[i])
		load.Batch.Runs = append(load.Batch.Runs, runs[i].Info)
	}

	l.logger.InfoContext(ctx, "batch loaded",
		slog.String("dir", dir),
		slog.Int("loaded", len(load.Runs)),
		slog.Int("failed", len(load.Failures)),
		slog.Int("skipped", len(groups)-total),
		slog.Duration("elapsed", load.Elapsed))

	return load, nil
}
