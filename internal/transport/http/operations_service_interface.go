package http

import (
	"context"

	"imfcscli/internal/operations"
	api "imfcscli/pkg/contracts/api/v1"
	"imfcscli/pkg/contracts/domain"
	"imfcscli/pkg/contracts/events"
)

// OperationServiceInterface defines the interface for operations service
type OperationServiceInterface interface {
	StartScreening(ctx context.Context, req *api.ScreeningStartRequest) (string, error)
	StartCalibration(ctx context.Context, req *api.CalibrationStartRequest) ([]domain.PSFCalibration, error)
	ExecuteOperation(ctx context.Context, request *operations.OperationRequest) (*operations.OperationResponse, error)
	GetStatus(ctx context.Context, operationID string) (*operations.OperationState, error)
	GetSnapshot(ctx context.Context, operationID string) (*events.OperationSnapshot, error)
	CancelOperation(ctx context.Context, operationID string) error
	ListOperations(ctx context.Context) ([]*operations.OperationState, error)
	ListOperationsByStatus(ctx context.Context, status operations.OperationStatusValue) ([]*operations.OperationState, error)
	GetOperationMetrics(ctx context.Context) (map[string]interface{}, error)
	GetOperationTypes(ctx context.Context) ([]operations.OperationType, error)
}
