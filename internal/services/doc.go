// Package services implements the business logic layer of the ImFCS Pulse
// application. It provides a clean separation between HTTP handlers and data
// access, ensuring that business rules are centralized and testable.
//
// # Architecture
//
// Services follow these architectural principles:
//
//	1. Interface-driven design for testability
//	2. Context propagation for cancellation and tracing
//	3. Dependency injection for loose coupling
//	4. Domain-focused methods that encapsulate business rules
//
// # Service Layer Responsibilities
//
// The service layer is responsible for:
//
//	- Business logic and validation
//	- Session and checkpoint coordination
//	- Cross-cutting concerns (logging, metrics)
//	- Error handling and transformation
//	- Caching strategies for run summaries
//
// # Common Service Pattern
//
// Services typically follow this structure:
//
//	type ServiceName struct {
//	    store  *store.Store
//	    logger *slog.Logger
//	}
//
//	func NewServiceName(store *store.Store, logger *slog.Logger) *ServiceName {
//	    return &ServiceName{
//	        store:  store,
//	        logger: logger,
//	    }
//	}
//
//	func (s *ServiceName) BusinessOperation(ctx context.Context, input Input) (*Output, error) {
//	    // Validate input
//	    if err := input.Validate(); err != nil {
//	        return nil, fmt.Errorf("validation failed: %w", err)
//	    }
//
//	    // Execute business logic
//	    result, err := s.store.Operation(ctx, input)
//	    if err != nil {
//	        s.logger.ErrorContext(ctx, "operation failed",
//	            "error", err,
//	            "input", input,
//	        )
//	        return nil, fmt.Errorf("operation failed: %w", err)
//	    }
//
//	    return result, nil
//	}
//
// # Available Services
//
// The package provides these core services:
//
//	- BatchService: Manages the interactive screening session over a batch
//	  of acquisitions, including run navigation, summaries, regions of
//	  interest, verdicts and checkpoints
//	- OperationService: Orchestrates multi-step processing operations and
//	  PSF calibration sweeps
//	- HealthService: Provides system health checks
//
// # Error Handling
//
// Services return domain-specific errors that handlers can transform:
//
//	- Validation errors for invalid input
//	- Not found errors for missing runs, batches or reports
//	- Conflict errors for duplicate operations
//	- Internal errors for unexpected failures
//
// # Testing
//
// Services are tested by mocking the WebSocket hub and screening fixture
// acquisitions on disk:
//
//	hub := &MockWebSocketHub{}
//	service, err := NewBatchService(st, hub, cfg, logger)
//
//	hub.On("BroadcastBatchProgress", mock.Anything).Return()
//	load, err := service.PreloadRuns(ctx)
package services
