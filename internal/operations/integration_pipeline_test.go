package operations_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imfcscli/internal/config"
	"imfcscli/internal/operations"
	"imfcscli/internal/operations/testutil"
	sharedtestutil "imfcscli/internal/shared/testutil"
)

// acquisitionDir writes one synthetic run per key into a fresh directory.
func acquisitionDir(t *testing.T, keys ...string) string {
	t.Helper()

	dir := t.TempDir()
	fixture := sharedtestutil.NewRunFixture()
	for _, key := range keys {
		fixture.WriteRunFiles(t, dir, key)
	}
	return dir
}

// registerPipeline registers the production screening steps with the manager.
func registerPipeline(t *testing.T, manager *operations.Manager, paths *config.Paths) {
	t.Helper()

	logger, _ := sharedtestutil.NewTestLogger(t)
	for _, step := range operations.StepFactory(paths, nil,
		config.ScreeningConfig{Workers: 2, SNRLastLag: 4}, logger, nil) {
		testutil.AssertNoError(t, manager.RegisterStep(step))
	}
}

var pipelineStepIDs = []string{
	operations.StepIDDiscover,
	operations.StepIDLoad,
	operations.StepIDMetrics,
	operations.StepIDScreen,
	operations.StepIDExport,
	operations.StepIDReport,
}

// TestFullPipelineOnAcquisitionDirectory runs the six production steps against
// real workbooks and checks the artifacts a batch screening leaves behind.
func TestFullPipelineOnAcquisitionDirectory(t *testing.T) {
	dir := acquisitionDir(t, "cell1", "cell2")
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, rulesPath, "min_valid_pixels: 4\n")

	paths := testPaths(t)
	hub := &testutil.MockWebSocketHub{}
	manager := operations.NewManager(hub, nil, operations.NewConfig())
	registerPipeline(t, manager, paths)

	resp, err := manager.Execute(context.Background(), operations.OperationRequest{
		ID:        "op-batch-screening",
		Mode:      operations.ModeFull,
		Directory: dir,
		RulesPath: rulesPath,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.Status, operations.OperationStatusCompleted)

	testutil.AssertEqual(t, len(resp.Steps), len(pipelineStepIDs))
	for _, id := range pipelineStepIDs {
		testutil.AssertStepStatus(t, resp.Steps[id], operations.StepStatusCompleted)
	}

	screenState := resp.Steps[operations.StepIDScreen]
	testutil.AssertEqual(t, screenState.Metadata["runs_screened"], 2)
	testutil.AssertEqual(t, screenState.Metadata["passed"], 2)
	testutil.AssertEqual(t, screenState.Metadata["failed"], 0)
	testutil.AssertEqual(t, screenState.Metadata["rules_source"], rulesPath)

	data, err := os.ReadFile(paths.GetCombinedScreeningCSVPath())
	testutil.AssertNoError(t, err)
	content := string(data)
	if !strings.Contains(content, "cell1,pass") || !strings.Contains(content, "cell2,pass") {
		t.Errorf("combined CSV missing pass verdicts:\n%s", content)
	}

	reports, err := filepath.Glob(filepath.Join(paths.ReportsDir, "batch_*"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(reports), 1)
	info, err := os.Stat(reports[0])
	testutil.AssertNoError(t, err)
	if info.Size() == 0 {
		t.Error("batch report is empty")
	}

	last := lastSnapshot(t, hub)
	testutil.AssertEqual(t, last.Status, "completed")
	testutil.AssertEqual(t, last.Progress, 100)
}

// TestFullPipelineFlagsSubthresholdRuns leaves the default rules in place,
// under which a 2x2 region cannot reach min_valid_pixels.
func TestFullPipelineFlagsSubthresholdRuns(t *testing.T) {
	dir := acquisitionDir(t, "cell1")

	paths := testPaths(t)
	hub := &testutil.MockWebSocketHub{}
	manager := operations.NewManager(hub, nil, operations.NewConfig())
	registerPipeline(t, manager, paths)

	resp, err := manager.Execute(context.Background(), operations.OperationRequest{
		ID:        "op-small-region",
		Mode:      operations.ModeFull,
		Directory: dir,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.Status, operations.OperationStatusCompleted)

	screenState := resp.Steps[operations.StepIDScreen]
	testutil.AssertEqual(t, screenState.Metadata["passed"], 0)
	testutil.AssertEqual(t, screenState.Metadata["failed"], 1)
	testutil.AssertEqual(t, screenState.Metadata["rules_source"], "defaults")

	data, err := os.ReadFile(paths.GetCombinedScreeningCSVPath())
	testutil.AssertNoError(t, err)
	if !strings.Contains(string(data), "cell1,fail") {
		t.Errorf("combined CSV should flag the run:\n%s", string(data))
	}
}

// TestFullPipelineParallelExecution runs the same batch with level-parallel
// scheduling and expects identical artifacts.
func TestFullPipelineParallelExecution(t *testing.T) {
	dir := acquisitionDir(t, "cell1", "cell2")
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	writeFile(t, rulesPath, "min_valid_pixels: 4\n")

	paths := testPaths(t)
	cfg := operations.NewConfigBuilder().
		WithExecutionMode(operations.ExecutionModeParallel).
		WithMaxConcurrency(2).
		Build()
	hub := &testutil.MockWebSocketHub{}
	manager := operations.NewManager(hub, nil, cfg)
	registerPipeline(t, manager, paths)

	resp, err := manager.Execute(context.Background(), operations.OperationRequest{
		ID:        "op-parallel-screening",
		Mode:      operations.ModeFull,
		Directory: dir,
		RulesPath: rulesPath,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.Status, operations.OperationStatusCompleted)

	for _, id := range pipelineStepIDs {
		testutil.AssertStepStatus(t, resp.Steps[id], operations.StepStatusCompleted)
	}

	if _, err := os.Stat(paths.GetCombinedScreeningCSVPath()); err != nil {
		t.Errorf("combined CSV not written: %v", err)
	}
	reports, err := filepath.Glob(filepath.Join(paths.ReportsDir, "batch_*"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(reports), 1)
}

// TestFullPipelineFailurePropagation verifies that a discovery failure skips
// every downstream step and surfaces through the snapshot stream.
func TestFullPipelineFailurePropagation(t *testing.T) {
	paths := testPaths(t)
	hub := &testutil.MockWebSocketHub{}
	manager := operations.NewManager(hub, nil, operations.NewConfig())
	registerPipeline(t, manager, paths)

	resp, err := manager.Execute(context.Background(), operations.OperationRequest{
		ID:        "op-empty-dir",
		Mode:      operations.ModeFull,
		Directory: t.TempDir(),
	})
	testutil.AssertError(t, err, true)
	testutil.AssertEqual(t, resp.Status, operations.OperationStatusFailed)
	if resp.Error == "" {
		t.Error("failed response should carry the error")
	}

	testutil.AssertStepStatus(t, resp.Steps[operations.StepIDDiscover], operations.StepStatusFailed)
	for _, id := range pipelineStepIDs[1:] {
		testutil.AssertStepStatus(t, resp.Steps[id], operations.StepStatusSkipped)
	}

	last := lastSnapshot(t, hub)
	testutil.AssertEqual(t, last.Status, "failed")
	if last.Error == "" {
		t.Error("failure snapshot should carry the error")
	}
}

// TestSingleStepRequestThroughManager exercises the step request parameter.
func TestSingleStepRequestThroughManager(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cell1_eval.xlsx"), "workbook")
	writeFile(t, filepath.Join(dir, "cell1_AVR.tif"), "tiff")

	paths := testPaths(t)
	hub := &testutil.MockWebSocketHub{}
	manager := operations.NewManager(hub, nil, operations.NewConfig())
	registerPipeline(t, manager, paths)

	resp, err := manager.Execute(context.Background(), operations.OperationRequest{
		ID:         "op-discover-only",
		Directory:  dir,
		Parameters: map[string]interface{}{"step": operations.StepIDDiscover},
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, resp.Status, operations.OperationStatusCompleted)
	testutil.AssertEqual(t, len(resp.Steps), 1)
	testutil.AssertStepStatus(t, resp.Steps[operations.StepIDDiscover], operations.StepStatusCompleted)

	_, err = manager.Execute(context.Background(), operations.OperationRequest{
		ID:         "op-unknown-step",
		Directory:  dir,
		Parameters: map[string]interface{}{"step": "fit"},
	})
	testutil.AssertErrorContains(t, err, "not found")
}
