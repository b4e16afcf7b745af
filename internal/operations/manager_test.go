package operations_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"imfcscli/internal/operations"
	"imfcscli/internal/operations/testutil"
)

func TestNewManager(t *testing.T) {
	manager := operations.NewManager(nil, nil, nil)

	if manager.GetRegistry() == nil {
		t.Error("manager should create a default registry")
	}
	if manager.GetBroadcaster() == nil {
		t.Error("manager should create a status broadcaster")
	}

	config := manager.GetConfig()
	if config == nil {
		t.Fatal("manager should create a default config")
	}
	testutil.AssertEqual(t, config.ExecutionMode, operations.ExecutionModeSequential)
}

func TestNewManagerWithComponents(t *testing.T) {
	registry := testutil.CreateTestRegistry()
	config := testutil.CreateTestConfig()
	hub := &testutil.MockWebSocketHub{}

	manager := operations.NewManager(hub, registry, config)

	if !manager.GetRegistry().Has("step1") {
		t.Error("manager should use the provided registry")
	}
	testutil.AssertEqual(t, manager.GetConfig().RetryConfig.MaxAttempts, 2)
}

func TestManagerRegisterStep(t *testing.T) {
	manager := operations.NewManager(nil, nil, nil)

	step := testutil.CreateSuccessfulStep("discover", "Discover Runs")
	testutil.AssertNoError(t, manager.RegisterStep(step))

	if !manager.GetRegistry().Has("discover") {
		t.Error("step not found in registry after registration")
	}

	err := manager.RegisterStep(step)
	testutil.AssertErrorContains(t, err, "already registered")
}

func TestManagerSetConfig(t *testing.T) {
	manager := operations.NewManager(nil, nil, nil)
	original := manager.GetConfig()

	manager.SetConfig(nil)
	if manager.GetConfig() != original {
		t.Error("nil config should not replace the current config")
	}

	custom := operations.NewConfigBuilder().
		WithExecutionMode(operations.ExecutionModeParallel).
		WithMaxConcurrency(4).
		Build()
	manager.SetConfig(custom)

	testutil.AssertEqual(t, manager.GetConfig().ExecutionMode, operations.ExecutionModeParallel)
	testutil.AssertEqual(t, manager.GetConfig().MaxConcurrency, 4)
}

func TestManagerExecuteFullPipeline(t *testing.T) {
	hub := &testutil.MockWebSocketHub{}
	manager := operations.NewManager(hub, nil, testutil.CreateTestConfig())

	steps := testutil.CreatePipelineSteps()
	mocks := make([]*testutil.MockStep, len(steps))
	for i, step := range steps {
		testutil.AssertNoError(t, manager.RegisterStep(step))
		mocks[i] = step.(*testutil.MockStep)
	}

	resp, err := manager.Execute(context.Background(), testutil.CreateOperationRequest(operations.ModeFull))
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, resp.Status, operations.OperationStatusCompleted)
	testutil.AssertEqual(t, len(resp.Steps), 6)
	for id, stepState := range resp.Steps {
		if stepState.Status != operations.StepStatusCompleted {
			t.Errorf("step %s status = %s, want completed", id, stepState.Status)
		}
	}

	testutil.AssertStepOrder(t, mocks, []string{
		operations.StepIDDiscover,
		operations.StepIDLoad,
		operations.StepIDMetrics,
		operations.StepIDScreen,
		operations.StepIDExport,
		operations.StepIDReport,
	})
}

func TestManagerExecuteSingleStep(t *testing.T) {
	manager := operations.NewManager(&testutil.MockWebSocketHub{}, nil, testutil.CreateTestConfig())

	steps := testutil.CreatePipelineSteps()
	for _, step := range steps {
		testutil.AssertNoError(t, manager.RegisterStep(step))
	}

	req := testutil.CreateOperationRequest(operations.ModeInitial)
	req.Parameters["step"] = operations.StepIDDiscover

	resp, err := manager.Execute(context.Background(), req)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, resp.Status, operations.OperationStatusCompleted)
	testutil.AssertEqual(t, len(resp.Steps), 1)

	for _, step := range steps {
		mock := step.(*testutil.MockStep)
		want := 0
		if mock.ID() == operations.StepIDDiscover {
			want = 1
		}
		if got := mock.GetExecuteCalls(); got != want {
			t.Errorf("step %s executed %d times, want %d", mock.ID(), got, want)
		}
	}
}

func TestManagerExecuteSingleStepNotFound(t *testing.T) {
	manager := operations.NewManager(&testutil.MockWebSocketHub{}, nil, testutil.CreateTestConfig())
	testutil.AssertNoError(t, manager.RegisterStep(testutil.CreateSuccessfulStep("discover", "Discover Runs")))

	req := testutil.CreateOperationRequest(operations.ModeInitial)
	req.Parameters["step"] = "nonexistent"

	resp, err := manager.Execute(context.Background(), req)
	testutil.AssertErrorContains(t, err, "requested step not found")
	testutil.AssertEqual(t, resp.Status, operations.OperationStatusFailed)
}

func TestManagerExecuteFullPipelineParameter(t *testing.T) {
	manager := operations.NewManager(&testutil.MockWebSocketHub{}, nil, testutil.CreateTestConfig())

	steps := testutil.CreatePipelineSteps()
	for _, step := range steps {
		testutil.AssertNoError(t, manager.RegisterStep(step))
	}

	// "full_pipeline" as the step parameter means run everything
	req := testutil.CreateOperationRequest(operations.ModeFull)
	req.Parameters["step"] = "full_pipeline"

	resp, err := manager.Execute(context.Background(), req)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(resp.Steps), 6)
}

func TestManagerExecuteGeneratesID(t *testing.T) {
	manager := operations.NewManager(&testutil.MockWebSocketHub{}, nil, testutil.CreateTestConfig())
	testutil.AssertNoError(t, manager.RegisterStep(testutil.CreateSuccessfulStep("discover", "Discover Runs")))

	resp, err := manager.Execute(context.Background(), operations.OperationRequest{Mode: operations.ModeInitial})
	testutil.AssertNoError(t, err)

	if resp.ID == "" {
		t.Fatal("response should carry a generated operation ID")
	}
	if !strings.HasPrefix(resp.ID, "operation-") {
		t.Errorf("generated ID = %s, want operation- prefix", resp.ID)
	}
}

func TestManagerExecuteAppliesRequestConfig(t *testing.T) {
	manager := operations.NewManager(&testutil.MockWebSocketHub{}, nil, testutil.CreateTestConfig())

	var captured *operations.OperationState
	step := testutil.NewStepBuilder("discover", "Discover Runs").
		WithExecute(func(ctx context.Context, state *operations.OperationState) error {
			captured = state
			return nil
		}).
		Build()
	testutil.AssertNoError(t, manager.RegisterStep(step))

	req := operations.OperationRequest{
		ID:        "config-check",
		Mode:      operations.ModeAccumulative,
		Directory: "/data/acquisitions/plate7",
		RulesPath: "/etc/imfcs/rules.yaml",
		Parameters: map[string]interface{}{
			"workers": 4,
		},
	}

	_, err := manager.Execute(context.Background(), req)
	testutil.AssertNoError(t, err)

	if captured == nil {
		t.Fatal("step never executed")
	}
	testutil.AssertConfigValue(t, captured, operations.ContextKeyDirectory, "/data/acquisitions/plate7")
	testutil.AssertConfigValue(t, captured, operations.ContextKeyMode, operations.ModeAccumulative)
	testutil.AssertConfigValue(t, captured, operations.ContextKeyRulesPath, "/etc/imfcs/rules.yaml")
	testutil.AssertConfigValue(t, captured, "workers", 4)
}

func TestManagerOperationTracking(t *testing.T) {
	manager := operations.NewManager(&testutil.MockWebSocketHub{}, nil, testutil.CreateTestConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	step := testutil.NewStepBuilder("discover", "Discover Runs").
		WithExecute(func(ctx context.Context, state *operations.OperationState) error {
			close(started)
			<-release
			return nil
		}).
		Build()
	testutil.AssertNoError(t, manager.RegisterStep(step))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = manager.Execute(context.Background(), operations.OperationRequest{ID: "tracked"})
	}()

	<-started

	state, err := manager.GetOperation("tracked")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, state.ID, "tracked")
	testutil.AssertOperationStatus(t, state, operations.OperationStatusRunning)

	// The returned state is a clone; mutating it must not leak back
	state.SetConfig("mutated", true)

	listed := manager.ListOperations()
	testutil.AssertEqual(t, len(listed), 1)
	if _, ok := listed[0].GetConfig("mutated"); ok {
		t.Error("GetOperation should return an isolated clone")
	}

	close(release)
	<-done

	// Finished operations are no longer tracked
	_, err = manager.GetOperation("tracked")
	testutil.AssertErrorContains(t, err, "operation tracked not found")
	testutil.AssertEqual(t, len(manager.ListOperations()), 0)
}

func TestManagerGetOperationNotFound(t *testing.T) {
	manager := operations.NewManager(nil, nil, nil)

	_, err := manager.GetOperation("missing")
	testutil.AssertErrorContains(t, err, "operation missing not found")
}

func TestManagerCancelOperation(t *testing.T) {
	hub := &testutil.MockWebSocketHub{}
	manager := operations.NewManager(hub, nil, testutil.CreateTestConfig())

	testutil.AssertErrorContains(t, manager.CancelOperation("missing"), "operation missing not found")

	started := make(chan struct{})
	release := make(chan struct{})
	step := testutil.NewStepBuilder("discover", "Discover Runs").
		WithExecute(func(ctx context.Context, state *operations.OperationState) error {
			close(started)
			<-release
			return nil
		}).
		Build()
	testutil.AssertNoError(t, manager.RegisterStep(step))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = manager.Execute(context.Background(), operations.OperationRequest{ID: "cancel-me"})
	}()

	<-started
	testutil.AssertNoError(t, manager.CancelOperation("cancel-me"))

	snapshot, ok := manager.GetBroadcaster().GetSnapshot("cancel-me")
	if !ok {
		t.Fatal("snapshot missing for cancelled operation")
	}
	testutil.AssertEqual(t, snapshot.Status, "cancelled")

	close(release)
	<-done
}

func TestManagerResponseOnFailure(t *testing.T) {
	manager := operations.NewManager(&testutil.MockWebSocketHub{}, nil, testutil.CreateTestConfig())
	testutil.AssertNoError(t, manager.RegisterStep(testutil.CreateFailingStep("discover", "Discover Runs", nil)))

	req := operations.OperationRequest{ID: "failing-op"}
	resp, err := manager.Execute(context.Background(), req)

	testutil.AssertError(t, err, true)
	testutil.AssertEqual(t, resp.ID, "failing-op")
	testutil.AssertEqual(t, resp.Status, operations.OperationStatusFailed)
	if resp.Error == "" {
		t.Error("response should carry the failure")
	}
	if resp.Steps["discover"].Status != operations.StepStatusFailed {
		t.Errorf("step status = %s, want failed", resp.Steps["discover"].Status)
	}
}

func TestManagerConcurrentExecutions(t *testing.T) {
	manager := operations.NewManager(&testutil.MockWebSocketHub{}, nil, testutil.CreateTestConfig())
	testutil.AssertNoError(t, manager.RegisterStep(testutil.CreateSuccessfulStep("discover", "Discover Runs")))

	ctx := context.Background()
	count := 5
	errs := make(chan error, count)

	for i := 0; i < count; i++ {
		go func(n int) {
			req := operations.OperationRequest{ID: fmt.Sprintf("concurrent-%d", n)}
			_, err := manager.Execute(ctx, req)
			errs <- err
		}(i)
	}

	for i := 0; i < count; i++ {
		testutil.AssertNoError(t, <-errs)
	}

	// Finished operations are removed from tracking
	testutil.AssertEqual(t, len(manager.ListOperations()), 0)
}
