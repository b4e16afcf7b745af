package services

import (
	"context"
	"log/slog"

	"imfcscli/internal/infrastructure"
)

// Helper functions for batch service logging using centralized infrastructure logger

// logBatchError logs an error in batch service operations
func logBatchError(ctx context.Context, action, message string, attrs ...slog.Attr) {
	logger := infrastructure.LoggerWithContext(ctx)

	// Add standard attributes
	allAttrs := []slog.Attr{
		slog.String("component", "batch_service"),
		slog.String("action", action),
	}

	allAttrs = append(allAttrs, attrs...)

	logger.LogAttrs(ctx, slog.LevelError, message, allAttrs...)
}
