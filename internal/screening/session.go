package screening

import (
	"fmt"
	"log/slog"
	"sync"

	"imfcscli/internal/analysis"
	"imfcscli/internal/files"
	"imfcscli/internal/imfcs"
	"imfcscli/pkg/contracts/domain"
)

// Session manages the runs of one acquisition directory for interactive
// screening: ordered key navigation, lazy run loading, per-run ROIs and
// on-demand summaries. It is safe for concurrent use.
type Session struct {
	dir        string
	keys       []string
	index      map[string]int
	groups     map[string]files.RunGroup
	snrLastLag int
	logger     *slog.Logger

	mu   sync.RWMutex
	runs map[string]*imfcs.Run
}

// NewSession builds a session over the given run groups. Group order is
// preserved; GroupRuns already returns keys sorted.
func NewSession(dir string, groups []files.RunGroup, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		dir:        dir,
		keys:       make([]string, 0, len(groups)),
		index:      make(map[string]int, len(groups)),
		groups:     make(map[string]files.RunGroup, len(groups)),
		snrLastLag: analysis.DefaultSNRLastLag,
		logger:     logger,
		runs:       make(map[string]*imfcs.Run),
	}
	for _, g := range groups {
		s.index[g.Key] = len(s.keys)
		s.keys = append(s.keys, g.Key)
		s.groups[g.Key] = g
	}
	return s
}

// Dir returns the directory the session was built over.
func (s *Session) Dir() string {
	return s.dir
}

// SetSNRLastLag overrides the lag window used in summaries. Values below 2
// leave no lags to average and are ignored.
func (s *Session) SetSNRLastLag(lag int) {
	if lag < 2 {
		return
	}
	s.mu.Lock()
	s.snrLastLag = lag
	s.mu.Unlock()
}

// Keys returns the run keys in navigation order.
func (s *Session) Keys() []string {
	return s.keys
}

// First returns the first key, or false when the session is empty.
func (s *Session) First() (string, bool) {
	if len(s.keys) == 0 {
		return "", false
	}
	return s.keys[0], true
}

// NextKey returns the key after current, or current itself at the end of
// the list.
func (s *Session) NextKey(current string) (string, error) {
	i, ok := s.index[current]
	if !ok {
		return "", fmt.Errorf("screening: unknown run key %q", current)
	}
	if i < len(s.keys)-1 {
		return s.keys[i+1], nil
	}
	return current, nil
}

// PrevKey returns the key before current, or current itself at the start
// of the list.
func (s *Session) PrevKey(current string) (string, error) {
	i, ok := s.index[current]
	if !ok {
		return "", fmt.Errorf("screening: unknown run key %q", current)
	}
	if i > 0 {
		return s.keys[i-1], nil
	}
	return current, nil
}

// Group returns the file group of a key.
func (s *Session) Group(key string) (files.RunGroup, error) {
	g, ok := s.groups[key]
	if !ok {
		return files.RunGroup{}, fmt.Errorf("screening: unknown run key %q", key)
	}
	return g, nil
}

// Files returns the loadable artifacts of a key, intensity image first.
func (s *Session) Files(key string) ([]files.FileInfo, error) {
	g, err := s.Group(key)
	if err != nil {
		return nil, err
	}
	return g.UsefulFiles(), nil
}

// Run returns the loaded run for a key, loading and caching it on first
// access.
func (s *Session) Run(key string) (*imfcs.Run, error) {
	s.mu.RLock()
	run, ok := s.runs[key]
	s.mu.RUnlock()
	if ok {
		return run, nil
	}

	g, err := s.Group(key)
	if err != nil {
		return nil, err
	}
	workbook, ok := g.WorkbookPath()
	if !ok {
		return nil, fmt.Errorf("screening: run %q has no evaluation workbook", key)
	}
	tiff, _ := g.IntensityPath()

	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[key]; ok {
		return run, nil
	}

	run, err = imfcs.LoadRun(key, workbook, tiff)
	if err != nil {
		return nil, err
	}
	s.runs[key] = run

	s.logger.Debug("session cached run",
		slog.String("key", key),
		slog.Int("cached", len(s.runs)))
	return run, nil
}

// AdoptRun inserts an already loaded run into the cache, replacing any
// earlier load of the same key. Batch preloads hand their parses over this
// way instead of parsing the workbook twice.
func (s *Session) AdoptRun(run *imfcs.Run) error {
	if run == nil {
		return fmt.Errorf("screening: adopt nil run")
	}
	if _, ok := s.index[run.Info.Key]; !ok {
		return fmt.Errorf("screening: unknown run key %q", run.Info.Key)
	}
	s.mu.Lock()
	s.runs[run.Info.Key] = run
	s.mu.Unlock()
	return nil
}

// Loaded returns the keys of the cached runs in navigation order.
func (s *Session) Loaded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var loaded []string
	for _, key := range s.keys {
		if _, ok := s.runs[key]; ok {
			loaded = append(loaded, key)
		}
	}
	return loaded
}

// SetROI validates the region against the run's frame and attaches it.
// A nil region clears the selection.
func (s *Session) SetROI(key string, region *domain.ROI) error {
	run, err := s.Run(key)
	if err != nil {
		return err
	}

	if region != nil {
		params := run.Info.Params
		if err := region.Validate(params.ImageWidth, params.ImageHeight); err != nil {
			return fmt.Errorf("screening: roi for %q: %w", key, err)
		}
	}

	s.mu.Lock()
	run.ROI = region
	s.mu.Unlock()
	return nil
}

// ROI returns the region attached to a run, nil when none is set.
func (s *Session) ROI(key string) (*domain.ROI, error) {
	run, err := s.Run(key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return run.ROI, nil
}

// ROIs returns the regions attached to loaded runs, keyed by run. A run
// that was never loaded cannot carry a region and is absent.
func (s *Session) ROIs() map[string]*domain.ROI {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*domain.ROI)
	for key, run := range s.runs {
		if run.ROI != nil {
			out[key] = run.ROI
		}
	}
	return out
}

// Summarize loads the run and reduces it to screening statistics.
func (s *Session) Summarize(key string) (domain.RunSummary, error) {
	run, err := s.Run(key)
	if err != nil {
		return domain.RunSummary{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return analysis.SummarizeRun(run, s.snrLastLag)
}

// Screen summarizes the run and applies the rules to it.
func (s *Session) Screen(key string, rules domain.Rules) (domain.ScreeningResult, error) {
	summary, err := s.Summarize(key)
	if err != nil {
		return domain.ScreeningResult{}, err
	}
	return Evaluate(summary, rules), nil
}
