package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"imfcscli/internal/config"
	"imfcscli/internal/operations"
	"imfcscli/internal/psf"
	"imfcscli/internal/screening"
	"imfcscli/internal/shared/testutil"
	"imfcscli/internal/store"
	api "imfcscli/pkg/contracts/api/v1"
	"imfcscli/pkg/contracts/events"
)

// quietHub builds a mock hub that tolerates any broadcast.
func quietHub() *MockWebSocketHub {
	hub := &MockWebSocketHub{}
	hub.On("Broadcast", mock.Anything, mock.Anything).Maybe()
	hub.On("BroadcastSnapshot", mock.Anything, mock.Anything).Maybe()
	hub.On("BroadcastBatchProgress", mock.Anything).Maybe()
	return hub
}

// newTestOperationService wires an operation service over temp paths so tests
// never touch the executable directory.
func newTestOperationService(t *testing.T, hub WebSocketHub) *OperationService {
	t.Helper()

	paths := testServicePaths(t)
	logger, _ := testutil.NewTestLogger(t)

	st, err := store.Open(paths.DatabaseFile, logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	adapter := NewWebSocketOperationAdapter(hub)
	manager := operations.NewManager(adapter, nil, nil)
	screenCfg := config.ScreeningConfig{Workers: 2, SNRLastLag: 6, RSDThreshold: 1.0}
	require.NoError(t, registerSteps(manager, paths, st, screenCfg, logger, adapter))

	queue := operations.NewJobQueue(jobQueueWorkers, operations.NewMemoryJobStore(), manager, logger)

	return &OperationService{manager: manager, queue: queue, logger: logger, paths: paths}
}

func TestWebSocketOperationAdapter(t *testing.T) {
	t.Run("operation snapshots use the typed channel", func(t *testing.T) {
		hub := &MockWebSocketHub{}
		snapshot := &events.OperationSnapshot{OperationID: "op-1", Status: "running"}
		hub.On("BroadcastSnapshot", *snapshot, "").Once()

		adapter := NewWebSocketOperationAdapter(hub)
		adapter.BroadcastUpdate(string(events.MessageTypeOperationSnapshot), "op-1", "update", snapshot)

		hub.AssertExpectations(t)
	})

	t.Run("generic updates go out as maps", func(t *testing.T) {
		hub := &MockWebSocketHub{}
		hub.On("Broadcast", "step:progress", mock.MatchedBy(func(data interface{}) bool {
			m, ok := data.(map[string]interface{})
			return ok && m["step"] == "load" && m["status"] == "running" && m["metadata"] == "halfway"
		})).Once()

		adapter := NewWebSocketOperationAdapter(hub)
		adapter.BroadcastUpdate("step:progress", "load", "running", "halfway")

		hub.AssertExpectations(t)
	})

	t.Run("nil metadata is omitted", func(t *testing.T) {
		hub := &MockWebSocketHub{}
		hub.On("Broadcast", "step:done", mock.MatchedBy(func(data interface{}) bool {
			m, ok := data.(map[string]interface{})
			if !ok {
				return false
			}
			_, present := m["metadata"]
			return !present
		})).Once()

		adapter := NewWebSocketOperationAdapter(hub)
		adapter.BroadcastUpdate("step:done", "load", "completed", nil)

		hub.AssertExpectations(t)
	})
}

func TestStartScreening(t *testing.T) {
	ps := newTestOperationService(t, quietHub())
	ctx := context.Background()

	t.Run("validates the request", func(t *testing.T) {
		_, err := ps.StartScreening(ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = ps.StartScreening(ctx, &api.ScreeningStartRequest{})
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = ps.StartScreening(ctx, &api.ScreeningStartRequest{
			Directory: filepath.Join(t.TempDir(), "missing"),
		})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("enqueues a pending job", func(t *testing.T) {
		opID, err := ps.StartScreening(ctx, &api.ScreeningStartRequest{
			Directory: writeAcquisitions(t),
			Resume:    true,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, opID)

		jobs, err := ps.ListJobs(ctx, operations.JobFilter{})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, opID, jobs[0].OperationID)
		assert.Equal(t, true, jobs[0].Request.Parameters["resume"])

		// The queue has not started, so the snapshot stays pending.
		snapshot, err := ps.GetSnapshot(ctx, opID)
		require.NoError(t, err)
		assert.Equal(t, opID, snapshot.OperationID)
		assert.Equal(t, "pending", snapshot.Status)
		assert.Len(t, snapshot.Steps, 6)

		stats := ps.GetQueueStats()
		assert.Equal(t, 1, stats["queue_size"])
	})

	t.Run("inline rules land next to the session cache", func(t *testing.T) {
		rules := relaxedRules()
		opID, err := ps.StartScreening(ctx, &api.ScreeningStartRequest{
			Directory: writeAcquisitions(t),
			Rules:     &rules,
		})
		require.NoError(t, err)

		loaded, err := screening.LoadRules(ps.paths.GetCachePath("rules_" + opID + ".yaml"))
		require.NoError(t, err)
		assert.Equal(t, rules, loaded)
	})

	t.Run("rejects inline rules that fail validation", func(t *testing.T) {
		bad := relaxedRules()
		bad.MaxMeanNRMSD = -1
		_, err := ps.StartScreening(ctx, &api.ScreeningStartRequest{
			Directory: writeAcquisitions(t),
			Rules:     &bad,
		})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestStartCalibration(t *testing.T) {
	ps := newTestOperationService(t, quietHub())
	ctx := context.Background()

	t.Run("validates the request", func(t *testing.T) {
		_, err := ps.StartCalibration(ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = ps.StartCalibration(ctx, &api.CalibrationStartRequest{})
		assert.ErrorIs(t, err, ErrInvalidInput)

		_, err = ps.StartCalibration(ctx, &api.CalibrationStartRequest{Directory: t.TempDir()})
		assert.ErrorIs(t, err, ErrNoRunsFound)
	})

	t.Run("calibrates sweep workbooks and writes the table", func(t *testing.T) {
		dir := t.TempDir()
		fx := testutil.NewRunFixture()
		fx.PSF = testutil.NewPSFFixture()
		fx.WriteRunFiles(t, dir, "calib")

		// A workbook without a sweep sheet is skipped, not fatal.
		testutil.NewRunFixture().WriteRunFiles(t, dir, "cell1")

		cals, err := ps.StartCalibration(ctx, &api.CalibrationStartRequest{Directory: dir})
		require.NoError(t, err)
		require.Len(t, cals, 1)
		assert.Equal(t, "calib_1.xlsx", cals[0].File)
		assert.InDelta(t, psf.DefaultRSDThreshold, cals[0].RSDThreshold, 1e-12)

		_, err = os.Stat(ps.paths.GetCalibrationCSVPath())
		assert.NoError(t, err)
	})

	t.Run("fails when no workbook holds a sweep", func(t *testing.T) {
		dir := t.TempDir()
		testutil.NewRunFixture().WriteRunFiles(t, dir, "cell1")

		_, err := ps.StartCalibration(ctx, &api.CalibrationStartRequest{Directory: dir})
		assert.ErrorContains(t, err, "usable sweep grid")
	})
}

func TestExecuteOperationRunsPipeline(t *testing.T) {
	ps := newTestOperationService(t, quietHub())
	ctx := context.Background()

	resp, err := ps.ExecuteOperation(ctx, &operations.OperationRequest{
		ID:        "op-sync",
		Mode:      operations.ModeFull,
		Directory: writeAcquisitions(t),
	})
	require.NoError(t, err)
	assert.Equal(t, operations.OperationStatusCompleted, resp.Status)

	// The export step writes the combined table under the service paths.
	_, err = os.Stat(ps.paths.GetCombinedScreeningCSVPath())
	assert.NoError(t, err)
}

func TestOperationLookups(t *testing.T) {
	ps := newTestOperationService(t, quietHub())
	ctx := context.Background()

	_, err := ps.GetStatus(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ps.GetStatus(ctx, "missing")
	assert.ErrorIs(t, err, ErrOperationNotFound)

	_, err = ps.GetSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrOperationNotFound)

	_, err = ps.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrOperationNotFound)

	states, err := ps.ListOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, states)

	metrics, err := ps.GetOperationMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, metrics["total_operations"])
	assert.Contains(t, metrics, "timestamp")
}

func TestGetOperationTypes(t *testing.T) {
	ps := newTestOperationService(t, quietHub())

	types, err := ps.GetOperationTypes(context.Background())
	require.NoError(t, err)
	require.Len(t, types, 7)

	byID := make(map[string]operations.OperationType, len(types))
	for _, opType := range types {
		byID[opType.ID] = opType
	}

	discover := byID[operations.StepIDDiscover]
	assert.True(t, discover.CanRunAlone)
	require.Len(t, discover.Parameters, 1)
	assert.Equal(t, "directory", discover.Parameters[0].Name)
	assert.True(t, discover.Parameters[0].Required)

	load := byID[operations.StepIDLoad]
	assert.Equal(t, []string{operations.StepIDDiscover}, load.Dependencies)
	assert.False(t, load.CanRunAlone)

	pipeline := byID["full_pipeline"]
	assert.True(t, pipeline.CanRunAlone)
	require.Len(t, pipeline.Parameters, 3)
	assert.Equal(t, operations.ModeFull, pipeline.Parameters[1].Default)
}

func TestGetStepDescription(t *testing.T) {
	assert.Contains(t, getStepDescription(operations.StepIDScreen), "verdicts")
	assert.Equal(t, "Process acquisition data", getStepDescription("unknown"))
}

func TestGetValue(t *testing.T) {
	m := map[string]interface{}{"present": 3, "nil": nil}

	assert.Equal(t, 3, getValue(m, "present", 0))
	assert.Equal(t, "fallback", getValue(m, "nil", "fallback"))
	assert.Equal(t, "fallback", getValue(m, "absent", "fallback"))
}

func TestCalibrationWorkbooks(t *testing.T) {
	dir := t.TempDir()
	fx := testutil.NewRunFixture()
	fx.WriteRunFiles(t, dir, "cell1")
	fx.WriteWorkbook(t, filepath.Join(dir, "cell2_1.xlsx"))
	fx.WriteTIFF(t, filepath.Join(dir, "stray_1_AVR.tif"))

	workbooks, err := calibrationWorkbooks(dir)
	require.NoError(t, err)
	require.Len(t, workbooks, 2)
	assert.Equal(t, filepath.Join(dir, "cell1_1.xlsx"), workbooks[0])
	assert.Equal(t, filepath.Join(dir, "cell2_1.xlsx"), workbooks[1])
}
