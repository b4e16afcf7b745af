package http

import (
	"context"
	"net/http"

	"imfcscli/internal/exporter"
	"imfcscli/internal/files"
	"imfcscli/internal/loader"
	"imfcscli/pkg/contracts/domain"
)

// BatchServiceInterface defines the interface for interactive batch screening
type BatchServiceInterface interface {
	OpenBatch(ctx context.Context, directory string, resume bool) (*domain.BatchInfo, error)
	Batch(ctx context.Context) (*domain.BatchInfo, error)
	Keys(ctx context.Context) ([]string, error)
	FirstRun(ctx context.Context) (string, error)
	NextRun(ctx context.Context, current string) (string, error)
	PrevRun(ctx context.Context, current string) (string, error)
	RunFiles(ctx context.Context, key string) ([]files.FileInfo, error)
	Summary(ctx context.Context, key string) (domain.RunSummary, error)
	Summaries(ctx context.Context) (map[string]domain.RunSummary, error)
	SetROI(ctx context.Context, key string, region *domain.ROI) (domain.RunSummary, error)
	ROI(ctx context.Context, key string) (*domain.ROI, error)
	ScreenRun(ctx context.Context, key string, rules *domain.Rules) (domain.ScreeningResult, error)
	ScreenBatch(ctx context.Context, rules *domain.Rules) (*domain.BatchResult, error)
	PreloadRuns(ctx context.Context) (*loader.BatchLoad, error)
	SaveSession(ctx context.Context) error
	History(ctx context.Context, key string) ([]domain.ScreeningResult, error)
	CombinedScreening(ctx context.Context) ([]exporter.ScreeningRecord, error)
	GetReports(ctx context.Context) ([]map[string]interface{}, error)
	GetFiles(ctx context.Context) (map[string]interface{}, error)
	DownloadFile(ctx context.Context, w http.ResponseWriter, r *http.Request, fileType, filename string) error
}
