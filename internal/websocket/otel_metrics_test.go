package websocket

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imfcscli/internal/infrastructure"
)

var (
	otelSetupOnce sync.Once
	otelSetupErr  error
)

// setupOTel initializes the global OpenTelemetry providers once per test
// binary. The Prometheus exporter registers with the default registerer,
// so a second initialization would fail.
func setupOTel(t *testing.T) {
	t.Helper()
	otelSetupOnce.Do(func() {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		_, otelSetupErr = infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	})
	require.NoError(t, otelSetupErr)
}

func TestNewOTelMetrics(t *testing.T) {
	setupOTel(t)

	metrics, err := NewOTelMetrics()
	require.NoError(t, err)
	require.NotNil(t, metrics)

	assert.NotNil(t, metrics.connectionsTotal)
	assert.NotNil(t, metrics.connectionsActive)
	assert.NotNil(t, metrics.connectionDuration)
	assert.NotNil(t, metrics.connectionErrors)
	assert.NotNil(t, metrics.messagesTotal)
	assert.NotNil(t, metrics.messageBytes)
	assert.NotNil(t, metrics.messageErrors)
	assert.NotNil(t, metrics.messageLatency)
	assert.NotNil(t, metrics.queueDepth)
	assert.NotNil(t, metrics.queueOperations)
	assert.NotNil(t, metrics.droppedMessages)
	assert.NotNil(t, metrics.broadcastOperations)
	assert.NotNil(t, metrics.clientCount)
}

func TestOTelMetricsConnectionRecording(t *testing.T) {
	setupOTel(t)

	metrics, err := NewOTelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		metrics.RecordConnection(ctx, "client-1", "127.0.0.1:52000")
		metrics.RecordDisconnection(ctx, "client-1", 30*time.Second, "client_closed")
		metrics.RecordConnectionError(ctx, "client-2", "upgrade_failed", errors.New("bad handshake"))
	})

	// A nil error only drops the error attribute
	assert.NotPanics(t, func() {
		metrics.RecordConnectionError(ctx, "client-3", "timeout", nil)
	})
}

func TestOTelMetricsMessageRecording(t *testing.T) {
	setupOTel(t)

	metrics, err := NewOTelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		metrics.RecordMessageSent(ctx, "server_message", "client-1", 512)
		metrics.RecordMessageReceived(ctx, "client_message", "client-1", 64)
		metrics.RecordMessageError(ctx, "server_message", "client-1", "write_failed", errors.New("broken pipe"))
		metrics.RecordMessageError(ctx, "server_message", "client-1", "write_failed", nil)
	})
}

func TestOTelMetricsQueueAndHubRecording(t *testing.T) {
	setupOTel(t)

	metrics, err := NewOTelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		metrics.RecordQueueDepth(ctx, 12, "broadcast")
		metrics.RecordQueueOperation(ctx, "enqueue", "broadcast")
		metrics.RecordDroppedMessage(ctx, "progress", "buffer_full")
		metrics.RecordBroadcast(ctx, TypeOperationSnapshot, 5, 4, 1)
		metrics.RecordClientCount(ctx, 5)
	})
}

func TestOTelMetricsDomainEvents(t *testing.T) {
	setupOTel(t)

	metrics, err := NewOTelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		metrics.RecordOperationEvent(ctx, "op-7", "snapshot", "screen")
		metrics.RecordSystemEvent(ctx, "status", "info")
	})
}

func TestInitOTelMetrics(t *testing.T) {
	setupOTel(t)

	original := globalOTelMetrics
	defer func() { globalOTelMetrics = original }()

	require.NoError(t, InitOTelMetrics())
	first := GetOTelMetrics()
	require.NotNil(t, first)

	// The getter returns the same instance until reinitialized
	assert.Same(t, first, GetOTelMetrics())

	require.NoError(t, InitOTelMetrics())
	assert.NotSame(t, first, GetOTelMetrics())
}
