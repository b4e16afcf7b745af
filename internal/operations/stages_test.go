package operations_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imfcscli/internal/config"
	"imfcscli/internal/files"
	"imfcscli/internal/loader"
	"imfcscli/internal/operations"
	"imfcscli/internal/operations/testutil"
	sharedtestutil "imfcscli/internal/shared/testutil"
	"imfcscli/pkg/contracts/domain"
)

// testPaths returns output paths rooted in a fresh temp directory.
func testPaths(t *testing.T) *config.Paths {
	t.Helper()

	base := t.TempDir()
	return &config.Paths{
		DataDir:              base,
		ReportsDir:           filepath.Join(base, "reports"),
		ExportsDir:           filepath.Join(base, "exports"),
		RulesFile:            filepath.Join(base, "screening_rules.yaml"),
		CombinedScreeningCSV: filepath.Join(base, "exports", "imfcs_combined_screening.csv"),
		CalibrationCSV:       filepath.Join(base, "exports", "psf_calibration.csv"),
	}
}

// newStepRun returns an operation state with the step state registered,
// ready for calling the step's Execute directly.
func newStepRun(stepIDs ...string) *operations.OperationState {
	state := operations.NewOperationState("op-steps")
	for _, id := range stepIDs {
		state.SetStep(id, operations.NewStepState(id, id))
	}
	return state
}

// passingSummary returns a summary that clears every built-in threshold.
func passingSummary(key string) domain.RunSummary {
	return domain.RunSummary{
		Key:            key,
		TotalPixels:    100,
		ValidPixels:    100,
		FittedFraction: 0.9,
		D:              domain.MetricStats{Mean: 1.0, Count: 100},
		NRMSD:          domain.MetricStats{Mean: 0.5, Count: 100},
		SNR:            domain.MetricStats{Mean: 5.0, Count: 100},
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestStepFactory(t *testing.T) {
	logger, _ := sharedtestutil.NewTestLogger(t)
	steps := operations.StepFactory(testPaths(t), nil,
		config.ScreeningConfig{Workers: 2, SNRLastLag: 4}, logger, nil)

	want := []string{
		operations.StepIDDiscover,
		operations.StepIDLoad,
		operations.StepIDMetrics,
		operations.StepIDScreen,
		operations.StepIDExport,
		operations.StepIDReport,
	}
	testutil.AssertEqual(t, len(steps), len(want))
	for _, id := range want {
		step, ok := steps[id]
		if !ok {
			t.Fatalf("StepFactory() missing step %s", id)
		}
		testutil.AssertEqual(t, step.ID(), id)
	}

	assertDeps := func(id string, want ...string) {
		t.Helper()
		got := steps[id].GetDependencies()
		if len(got) != len(want) {
			t.Fatalf("step %s dependencies = %v, want %v", id, got, want)
		}
		for i := range want {
			testutil.AssertEqual(t, got[i], want[i])
		}
	}
	assertDeps(operations.StepIDDiscover)
	assertDeps(operations.StepIDLoad, operations.StepIDDiscover)
	assertDeps(operations.StepIDMetrics, operations.StepIDLoad)
	assertDeps(operations.StepIDScreen, operations.StepIDMetrics)
	assertDeps(operations.StepIDExport, operations.StepIDScreen)
	assertDeps(operations.StepIDReport, operations.StepIDLoad, operations.StepIDScreen)
}

func TestDiscoverStepValidate(t *testing.T) {
	step := operations.NewDiscoverStep(nil, nil)

	state := operations.NewOperationState("op-validate")
	testutil.AssertErrorContains(t, step.Validate(state), "acquisition directory not set")

	state.SetConfig(operations.ContextKeyDirectory, "")
	testutil.AssertErrorContains(t, step.Validate(state), "acquisition directory not set")

	state.SetConfig(operations.ContextKeyDirectory, t.TempDir())
	testutil.AssertNoError(t, step.Validate(state))
}

func TestDiscoverStepExecute(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cell1_eval.xlsx"), "workbook")
	writeFile(t, filepath.Join(dir, "cell1_AVR.tif"), "tiff")
	writeFile(t, filepath.Join(dir, "cell2_metadata.xlsx"), "metadata")
	writeFile(t, filepath.Join(dir, "notes.txt"), "notes")

	logger, _ := sharedtestutil.NewTestLogger(t)
	step := operations.NewDiscoverStep(logger, nil)
	state := newStepRun(operations.StepIDDiscover)
	state.SetConfig(operations.ContextKeyDirectory, dir)

	testutil.AssertNoError(t, step.Execute(context.Background(), state))

	testutil.AssertContextValue(t, state, operations.ContextKeyRunsFound, 1)

	value, ok := state.GetContext(operations.ContextKeyRunGroups)
	testutil.AssertEqual(t, ok, true)
	groups, ok := value.([]files.RunGroup)
	if !ok {
		t.Fatalf("run groups have type %T", value)
	}
	testutil.AssertEqual(t, len(groups), 2)
	testutil.AssertEqual(t, groups[0].Key, "cell1")
	testutil.AssertEqual(t, groups[0].Loadable(), true)
	testutil.AssertEqual(t, groups[1].Key, "cell2")
	testutil.AssertEqual(t, groups[1].Loadable(), false)

	stepState := state.GetStep(operations.StepIDDiscover)
	testutil.AssertEqual(t, stepState.Metadata["artifacts_found"], 3)
	testutil.AssertEqual(t, stepState.Metadata["run_groups"], 2)
	testutil.AssertEqual(t, stepState.Metadata["loadable_runs"], 1)
	testutil.AssertProgress(t, stepState, 100)
}

func TestDiscoverStepExecuteMissingDirectory(t *testing.T) {
	step := operations.NewDiscoverStep(nil, nil)

	state := newStepRun(operations.StepIDDiscover)
	state.SetConfig(operations.ContextKeyDirectory, filepath.Join(t.TempDir(), "missing"))
	testutil.AssertErrorContains(t, step.Execute(context.Background(), state), "acquisition directory:")

	plainFile := filepath.Join(t.TempDir(), "plain.txt")
	writeFile(t, plainFile, "not a directory")
	state = newStepRun(operations.StepIDDiscover)
	state.SetConfig(operations.ContextKeyDirectory, plainFile)
	testutil.AssertErrorContains(t, step.Execute(context.Background(), state), "is not a directory")
}

func TestDiscoverStepExecuteNoLoadableRuns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cell2_metadata.xlsx"), "metadata")

	step := operations.NewDiscoverStep(nil, nil)
	state := newStepRun(operations.StepIDDiscover)
	state.SetConfig(operations.ContextKeyDirectory, dir)

	testutil.AssertErrorContains(t, step.Execute(context.Background(), state), "no loadable runs found in")
}

func TestLoadStepValidate(t *testing.T) {
	step := operations.NewLoadStep(nil, 1, nil, nil)

	state := operations.NewOperationState("op-validate")
	testutil.AssertErrorContains(t, step.Validate(state), "acquisition directory not set")

	state.SetConfig(operations.ContextKeyDirectory, t.TempDir())
	testutil.AssertNoError(t, step.Validate(state))
}

func TestLoadStepCanRun(t *testing.T) {
	step := operations.NewLoadStep(nil, 1, nil, nil)

	manifest := operations.NewPipelineManifest("op-canrun", "")
	testutil.AssertEqual(t, step.CanRun(manifest), false)

	manifest.AddData(operations.DataTypeWorkbooks, &operations.DataInfo{
		Type:      operations.DataTypeWorkbooks,
		FileCount: 2,
	})
	testutil.AssertEqual(t, step.CanRun(manifest), true)

	// Without a manifest entry the step falls back to globbing the directory
	dir := t.TempDir()
	fallback := operations.NewPipelineManifest("op-canrun", dir)
	testutil.AssertEqual(t, step.CanRun(fallback), false)

	writeFile(t, filepath.Join(dir, "cell1_1.xlsx"), "workbook")
	testutil.AssertEqual(t, step.CanRun(fallback), true)
}

func TestLoadStepExecute(t *testing.T) {
	dir := t.TempDir()
	fixture := sharedtestutil.NewRunFixture()
	fixture.WriteRunFiles(t, dir, "cell1")
	fixture.WriteRunFiles(t, dir, "cell2")

	logger, _ := sharedtestutil.NewTestLogger(t)
	step := operations.NewLoadStep(nil, 2, logger, nil)
	state := newStepRun(operations.StepIDLoad)
	state.SetConfig(operations.ContextKeyDirectory, dir)

	testutil.AssertNoError(t, step.Execute(context.Background(), state))

	value, ok := state.GetContext(operations.ContextKeyBatchLoad)
	testutil.AssertEqual(t, ok, true)
	batch, ok := value.(*loader.BatchLoad)
	if !ok {
		t.Fatalf("batch load has type %T", value)
	}
	testutil.AssertEqual(t, len(batch.Runs), 2)
	testutil.AssertEqual(t, len(batch.Failures), 0)
	testutil.AssertEqual(t, batch.Batch.Directory, dir)

	testutil.AssertContextValue(t, state, operations.ContextKeyRunsLoaded, 2)

	stepState := state.GetStep(operations.StepIDLoad)
	testutil.AssertEqual(t, stepState.Metadata["runs_loaded"], 2)
	testutil.AssertEqual(t, stepState.Metadata["runs_failed"], 0)
	testutil.AssertEqual(t, stepState.Metadata["runs_reused"], 0)
	testutil.AssertProgress(t, stepState, 100)
}

func TestLoadStepExecuteNoRuns(t *testing.T) {
	step := operations.NewLoadStep(nil, 1, nil, nil)
	state := newStepRun(operations.StepIDLoad)
	state.SetConfig(operations.ContextKeyDirectory, t.TempDir())

	testutil.AssertErrorContains(t, step.Execute(context.Background(), state), "no loadable runs in")
}

func TestLoadStepExecuteAllRunsFail(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cell1_1.xlsx"), "not a workbook")

	logger, _ := sharedtestutil.NewTestLogger(t)
	step := operations.NewLoadStep(nil, 1, logger, nil)
	state := newStepRun(operations.StepIDLoad)
	state.SetConfig(operations.ContextKeyDirectory, dir)

	testutil.AssertErrorContains(t, step.Execute(context.Background(), state), "runs failed to load")
}

func TestMetricsStepExecuteNoBatch(t *testing.T) {
	step := operations.NewMetricsStep(nil, 4, nil, nil)
	state := newStepRun(operations.StepIDMetrics)

	err := step.Execute(context.Background(), state)
	testutil.AssertErrorContains(t, err, "no loaded batch in operation state")
}

func TestMetricsStepExecuteFromLoadedBatch(t *testing.T) {
	dir := t.TempDir()
	sharedtestutil.NewRunFixture().WriteRunFiles(t, dir, "cell1")

	state := newStepRun(operations.StepIDLoad, operations.StepIDMetrics)
	state.SetConfig(operations.ContextKeyDirectory, dir)

	load := operations.NewLoadStep(nil, 1, nil, nil)
	testutil.AssertNoError(t, load.Execute(context.Background(), state))

	step := operations.NewMetricsStep(nil, 4, nil, nil)
	testutil.AssertNoError(t, step.Execute(context.Background(), state))

	value, ok := state.GetContext(operations.ContextKeySummaries)
	testutil.AssertEqual(t, ok, true)
	summaries, ok := value.(map[string]domain.RunSummary)
	if !ok {
		t.Fatalf("summaries have type %T", value)
	}
	testutil.AssertEqual(t, len(summaries), 1)

	summary := summaries["cell1"]
	testutil.AssertEqual(t, summary.Key, "cell1")
	testutil.AssertEqual(t, summary.TotalPixels, 4)
	testutil.AssertEqual(t, summary.ValidPixels, 4)
	testutil.AssertEqual(t, summary.FittedFraction, 1.0)
	if got := summary.D.Mean; math.Abs(got-1.5) > 1e-6 {
		t.Errorf("D.Mean = %v, want 1.5", got)
	}

	stepState := state.GetStep(operations.StepIDMetrics)
	testutil.AssertEqual(t, stepState.Metadata["runs_summarized"], 1)
	testutil.AssertEqual(t, stepState.Metadata["summaries_failed"], 0)
}

func TestMetricsStepExecuteSeededSummaries(t *testing.T) {
	step := operations.NewMetricsStep(nil, 4, nil, nil)
	state := newStepRun(operations.StepIDMetrics)

	state.SetContext(operations.ContextKeySummaries, map[string]domain.RunSummary{
		"cell9": passingSummary("cell9"),
	})
	state.SetContext(operations.ContextKeyBatchLoad, &loader.BatchLoad{
		Batch: domain.BatchInfo{ID: "batch-1", Directory: "/data/acquisitions/plate1"},
	})

	testutil.AssertNoError(t, step.Execute(context.Background(), state))

	value, _ := state.GetContext(operations.ContextKeySummaries)
	summaries := value.(map[string]domain.RunSummary)
	testutil.AssertEqual(t, len(summaries), 1)
	testutil.AssertEqual(t, summaries["cell9"].Key, "cell9")

	stepState := state.GetStep(operations.StepIDMetrics)
	testutil.AssertEqual(t, stepState.Metadata["runs_summarized"], 1)
	testutil.AssertEqual(t, stepState.Metadata["summaries_failed"], 0)
	testutil.AssertEqual(t, stepState.Metadata["batch_id"], "batch-1")
}

func TestScreenStepExecuteDefaults(t *testing.T) {
	review := passingSummary("cell2")
	review.SNR.Mean = 0.5
	failing := passingSummary("cell3")
	failing.NRMSD.Mean = 5.0

	step := operations.NewScreenStep(nil, "", nil, nil)
	state := newStepRun(operations.StepIDScreen)
	state.SetContext(operations.ContextKeySummaries, map[string]domain.RunSummary{
		"cell1": passingSummary("cell1"),
		"cell2": review,
		"cell3": failing,
	})

	testutil.AssertNoError(t, step.Execute(context.Background(), state))

	value, ok := state.GetContext(operations.ContextKeyResults)
	testutil.AssertEqual(t, ok, true)
	results, ok := value.([]domain.ScreeningResult)
	if !ok {
		t.Fatalf("screening results have type %T", value)
	}
	testutil.AssertEqual(t, len(results), 3)

	// Results are ordered by run key
	testutil.AssertEqual(t, results[0].RunKey, "cell1")
	testutil.AssertEqual(t, results[0].Verdict, domain.VerdictPass)
	testutil.AssertEqual(t, results[1].RunKey, "cell2")
	testutil.AssertEqual(t, results[1].Verdict, domain.VerdictReview)
	testutil.AssertEqual(t, results[2].RunKey, "cell3")
	testutil.AssertEqual(t, results[2].Verdict, domain.VerdictFail)

	stepState := state.GetStep(operations.StepIDScreen)
	testutil.AssertEqual(t, stepState.Metadata["runs_screened"], 3)
	testutil.AssertEqual(t, stepState.Metadata["passed"], 1)
	testutil.AssertEqual(t, stepState.Metadata["review"], 1)
	testutil.AssertEqual(t, stepState.Metadata["failed"], 1)
	testutil.AssertEqual(t, stepState.Metadata["rules_source"], "defaults")
}

func TestScreenStepExecuteRulesFromRequest(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "strict.yaml")
	writeFile(t, rulesPath, "max_mean_nrmsd: 0.1\n")

	step := operations.NewScreenStep(nil, "", nil, nil)
	state := newStepRun(operations.StepIDScreen)
	state.SetConfig(operations.ContextKeyRulesPath, rulesPath)
	state.SetContext(operations.ContextKeySummaries, map[string]domain.RunSummary{
		"cell1": passingSummary("cell1"),
	})

	testutil.AssertNoError(t, step.Execute(context.Background(), state))

	value, _ := state.GetContext(operations.ContextKeyResults)
	results := value.([]domain.ScreeningResult)
	testutil.AssertEqual(t, len(results), 1)
	testutil.AssertEqual(t, results[0].Verdict, domain.VerdictFail)

	stepState := state.GetStep(operations.StepIDScreen)
	testutil.AssertEqual(t, stepState.Metadata["rules_source"], rulesPath)
}

func TestScreenStepExecuteRulesPathMissing(t *testing.T) {
	step := operations.NewScreenStep(nil, "", nil, nil)
	state := newStepRun(operations.StepIDScreen)
	state.SetConfig(operations.ContextKeyRulesPath, filepath.Join(t.TempDir(), "missing.yaml"))
	state.SetContext(operations.ContextKeySummaries, map[string]domain.RunSummary{
		"cell1": passingSummary("cell1"),
	})

	testutil.AssertErrorContains(t, step.Execute(context.Background(), state), "load screening rules")
}

func TestScreenStepExecuteDefaultRulesFile(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, rulesPath, "max_mean_nrmsd: 0.1\n")

	step := operations.NewScreenStep(nil, rulesPath, nil, nil)
	state := newStepRun(operations.StepIDScreen)
	state.SetContext(operations.ContextKeySummaries, map[string]domain.RunSummary{
		"cell1": passingSummary("cell1"),
	})

	testutil.AssertNoError(t, step.Execute(context.Background(), state))

	value, _ := state.GetContext(operations.ContextKeyResults)
	results := value.([]domain.ScreeningResult)
	testutil.AssertEqual(t, results[0].Verdict, domain.VerdictFail)

	stepState := state.GetStep(operations.StepIDScreen)
	testutil.AssertEqual(t, stepState.Metadata["rules_source"], rulesPath)
}

func TestScreenStepExecuteDefaultRulesFileMissing(t *testing.T) {
	step := operations.NewScreenStep(nil, filepath.Join(t.TempDir(), "absent.yaml"), nil, nil)
	state := newStepRun(operations.StepIDScreen)
	state.SetContext(operations.ContextKeySummaries, map[string]domain.RunSummary{
		"cell1": passingSummary("cell1"),
	})

	testutil.AssertNoError(t, step.Execute(context.Background(), state))

	value, _ := state.GetContext(operations.ContextKeyResults)
	results := value.([]domain.ScreeningResult)
	testutil.AssertEqual(t, results[0].Verdict, domain.VerdictPass)

	stepState := state.GetStep(operations.StepIDScreen)
	testutil.AssertEqual(t, stepState.Metadata["rules_source"], "defaults")
}

func TestScreenStepExecuteNoSummaries(t *testing.T) {
	step := operations.NewScreenStep(nil, "", nil, nil)
	state := newStepRun(operations.StepIDScreen)
	state.SetConfig(operations.ContextKeyDirectory, t.TempDir())

	err := step.Execute(context.Background(), state)
	testutil.AssertErrorContains(t, err, "no run summaries available")
}

func TestExportStepExecute(t *testing.T) {
	paths := testPaths(t)
	step := operations.NewExportStep(paths, nil, nil)
	state := newStepRun(operations.StepIDExport)

	state.SetContext(operations.ContextKeyResults, []domain.ScreeningResult{
		{RunKey: "cell1", Verdict: domain.VerdictPass, Summary: passingSummary("cell1")},
		{RunKey: "cell2", Verdict: domain.VerdictFail, Summary: passingSummary("cell2")},
	})

	testutil.AssertNoError(t, step.Execute(context.Background(), state))

	outputPath := paths.GetCombinedScreeningCSVPath()
	testutil.AssertContextValue(t, state, operations.ContextKeyCombinedCSV, outputPath)

	data, err := os.ReadFile(outputPath)
	testutil.AssertNoError(t, err)
	content := string(data)
	if !strings.Contains(content, "cell1,pass") || !strings.Contains(content, "cell2,fail") {
		t.Errorf("combined CSV missing verdict rows:\n%s", content)
	}

	stepState := state.GetStep(operations.StepIDExport)
	testutil.AssertEqual(t, stepState.Metadata["output_path"], outputPath)
	testutil.AssertEqual(t, stepState.Metadata["records"], 2)
}

func TestExportStepExecuteNoResults(t *testing.T) {
	step := operations.NewExportStep(testPaths(t), nil, nil)
	state := newStepRun(operations.StepIDExport)

	err := step.Execute(context.Background(), state)
	testutil.AssertErrorContains(t, err, "no screening results to export")
}

func TestReportStepExecute(t *testing.T) {
	dir := t.TempDir()
	sharedtestutil.NewRunFixture().WriteRunFiles(t, dir, "cell1")

	state := newStepRun(operations.StepIDLoad, operations.StepIDReport)
	state.SetConfig(operations.ContextKeyDirectory, dir)

	load := operations.NewLoadStep(nil, 1, nil, nil)
	testutil.AssertNoError(t, load.Execute(context.Background(), state))

	state.SetContext(operations.ContextKeyResults, []domain.ScreeningResult{
		{RunKey: "cell1", Verdict: domain.VerdictPass, Summary: passingSummary("cell1")},
	})

	paths := testPaths(t)
	step := operations.NewReportStep(paths, nil, nil)
	testutil.AssertNoError(t, step.Execute(context.Background(), state))

	value, ok := state.GetContext(operations.ContextKeyReportPath)
	testutil.AssertEqual(t, ok, true)
	reportPath, _ := value.(string)
	info, err := os.Stat(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("report file is empty")
	}
	if !strings.HasPrefix(filepath.Base(reportPath), "batch_") {
		t.Errorf("unexpected report name %s", reportPath)
	}

	stepState := state.GetStep(operations.StepIDReport)
	testutil.AssertEqual(t, stepState.Metadata["output_path"], reportPath)
	testutil.AssertEqual(t, stepState.Metadata["runs_reported"], 1)
}

func TestReportStepExecuteMissingInputs(t *testing.T) {
	step := operations.NewReportStep(testPaths(t), nil, nil)

	state := newStepRun(operations.StepIDReport)
	err := step.Execute(context.Background(), state)
	testutil.AssertErrorContains(t, err, "report needs loaded runs")

	state = newStepRun(operations.StepIDReport)
	state.SetContext(operations.ContextKeyBatchLoad, &loader.BatchLoad{
		Batch: domain.BatchInfo{ID: "batch-1"},
	})
	err = step.Execute(context.Background(), state)
	testutil.AssertErrorContains(t, err, "report needs screening results")
}

func TestReportStepExecuteSkipsEmptyBatch(t *testing.T) {
	step := operations.NewReportStep(testPaths(t), nil, nil)
	state := newStepRun(operations.StepIDReport)

	state.SetContext(operations.ContextKeyBatchLoad, &loader.BatchLoad{
		Batch: domain.BatchInfo{ID: "batch-empty"},
	})
	state.SetContext(operations.ContextKeyResults, []domain.ScreeningResult{})

	testutil.AssertNoError(t, step.Execute(context.Background(), state))

	if _, ok := state.GetContext(operations.ContextKeyReportPath); ok {
		t.Error("report path set for an empty batch")
	}

	stepState := state.GetStep(operations.StepIDReport)
	testutil.AssertEqual(t, stepState.Metadata["skipped"], true)
	testutil.AssertProgress(t, stepState, 100)
}
