package websocket

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imfcscli/pkg/contracts/events"
)

func registerTestClient(t *testing.T, hub *Hub, id string) *Client {
	t.Helper()

	client := &Client{
		id:          id,
		hub:         hub,
		send:        make(chan []byte, 256),
		connectedAt: time.Now(),
		remoteAddr:  "127.0.0.1:8080",
	}
	hub.Register(client)

	// The connection message confirms registration completed
	select {
	case <-client.send:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for connection message")
	}
	return client
}

func nextFrame(t *testing.T, client *Client) map[string]interface{} {
	t.Helper()

	select {
	case raw := <-client.send:
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
		return nil
	}
}

// TestOperationSnapshotLifecycle streams a full operation lifecycle and
// verifies each snapshot is self-contained
func TestOperationSnapshotLifecycle(t *testing.T) {
	logger := slog.Default()
	hub := NewHub(logger)
	hub.Start()
	defer hub.Stop()

	client := registerTestClient(t, hub, "lifecycle-client")

	started := time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC)
	steps := []events.StepSnapshot{
		{ID: "discover", Name: "Discover runs", Status: "pending"},
		{ID: "load", Name: "Load workbooks", Status: "pending"},
		{ID: "screen", Name: "Screen runs", Status: "pending"},
	}

	// Pending snapshot
	hub.BroadcastSnapshot(events.OperationSnapshot{
		OperationID: "op-100",
		Status:      "pending",
		Progress:    0,
		Steps:       steps,
		StartedAt:   started,
		UpdatedAt:   started,
	}, "trace-lifecycle")

	msg := nextFrame(t, client)
	assert.Equal(t, TypeOperationSnapshot, msg["type"])
	assert.Equal(t, "trace-lifecycle", msg["trace_id"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "op-100", data["operation_id"])
	assert.Equal(t, "pending", data["status"])
	assert.Len(t, data["steps"], 3)

	// Running snapshot with the first step completed
	steps[0].Status = "completed"
	steps[0].Progress = 100
	steps[1].Status = "running"
	steps[1].Progress = 40
	hub.BroadcastSnapshot(events.OperationSnapshot{
		OperationID: "op-100",
		Status:      "running",
		Progress:    45,
		CurrentStep: "load",
		Steps:       steps,
		StartedAt:   started,
		UpdatedAt:   started.Add(30 * time.Second),
		Message:     "Loading workbooks",
	}, "trace-lifecycle")

	msg = nextFrame(t, client)
	data = msg["data"].(map[string]interface{})
	assert.Equal(t, "running", data["status"])
	assert.Equal(t, "load", data["current_step"])
	assert.Equal(t, float64(45), data["progress"])
	stepList := data["steps"].([]interface{})
	first := stepList[0].(map[string]interface{})
	assert.Equal(t, "discover", first["id"])
	assert.Equal(t, "completed", first["status"])
	second := stepList[1].(map[string]interface{})
	assert.Equal(t, "running", second["status"])
	assert.Equal(t, float64(40), second["progress"])

	// Completed snapshot
	for i := range steps {
		steps[i].Status = "completed"
		steps[i].Progress = 100
	}
	completed := started.Add(2 * time.Minute)
	hub.BroadcastSnapshot(events.OperationSnapshot{
		OperationID: "op-100",
		Status:      "completed",
		Progress:    100,
		Steps:       steps,
		StartedAt:   started,
		UpdatedAt:   completed,
		CompletedAt: &completed,
	}, "trace-lifecycle")

	msg = nextFrame(t, client)
	data = msg["data"].(map[string]interface{})
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, float64(100), data["progress"])
	assert.NotEmpty(t, data["completed_at"])
}

// TestOperationFailureSnapshot tests the failed-state snapshot shape
func TestOperationFailureSnapshot(t *testing.T) {
	logger := slog.Default()
	hub := NewHub(logger)
	hub.Start()
	defer hub.Stop()

	client := registerTestClient(t, hub, "failure-client")

	hub.BroadcastSnapshot(events.OperationSnapshot{
		OperationID: "op-101",
		Status:      "failed",
		Progress:    60,
		CurrentStep: "screen",
		Steps: []events.StepSnapshot{
			{ID: "load", Name: "Load workbooks", Status: "completed", Progress: 100},
			{ID: "screen", Name: "Screen runs", Status: "failed", Error: "no correlation sheets found"},
		},
		StartedAt: time.Now().Add(-time.Minute),
		UpdatedAt: time.Now(),
		Error:     "screening step failed",
	}, "")

	msg := nextFrame(t, client)
	assert.Equal(t, TypeOperationSnapshot, msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "failed", data["status"])
	assert.Equal(t, "screening step failed", data["error"])
	stepList := data["steps"].([]interface{})
	screenStep := stepList[1].(map[string]interface{})
	assert.Equal(t, "no correlation sheets found", screenStep["error"])
}

// TestBatchProgressInterleaved tests that batch progress frames flow
// alongside operation snapshots without interference
func TestBatchProgressInterleaved(t *testing.T) {
	logger := slog.Default()
	hub := NewHub(logger)
	hub.Start()
	defer hub.Stop()

	client := registerTestClient(t, hub, "interleave-client")

	hub.BroadcastSnapshot(events.OperationSnapshot{
		OperationID: "op-102",
		Status:      "running",
		Progress:    10,
		CurrentStep: "screen",
	}, "")

	hub.BroadcastBatchProgress(events.BatchProgress{
		OperationID: "op-102",
		Directory:   "/data/20250820",
		CurrentRun:  "exp12_a3_1",
		Completed:   3,
		Failed:      1,
		Total:       24,
		Percentage:  16.7,
		Timestamp:   time.Now(),
	})

	msg := nextFrame(t, client)
	assert.Equal(t, TypeOperationSnapshot, msg["type"])

	msg = nextFrame(t, client)
	assert.Equal(t, TypeBatchProgress, msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "op-102", data["operation_id"])
	assert.Equal(t, "exp12_a3_1", data["current_run"])
	assert.Equal(t, float64(3), data["completed"])
	assert.Equal(t, float64(1), data["failed"])
	assert.Equal(t, float64(24), data["total"])
}

// TestMultipleClientsReceiveSnapshots tests fan-out to several subscribers
func TestMultipleClientsReceiveSnapshots(t *testing.T) {
	logger := slog.Default()
	hub := NewHub(logger)
	hub.Start()
	defer hub.Stop()

	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = registerTestClient(t, hub, "fanout-client")
	}
	require.Equal(t, 3, hub.ClientCount())

	hub.BroadcastSnapshot(events.OperationSnapshot{
		OperationID: "op-103",
		Status:      "running",
		Progress:    50,
	}, "")

	for _, client := range clients {
		msg := nextFrame(t, client)
		assert.Equal(t, TypeOperationSnapshot, msg["type"])
		data := msg["data"].(map[string]interface{})
		assert.Equal(t, "op-103", data["operation_id"])
	}
}
