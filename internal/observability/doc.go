// Package observability provides logging and metrics support for the
// harvester.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for fetches, batches, documents and alerts
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("source", name).Msg("batch claimed")
//
// Add source context to a logger:
//
//	logger = observability.WithSourceContext(logger, "crossref")
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("harvester")
//
// Record metrics:
//
//	metrics.RecordFetch("crossref", "success", elapsed.Seconds())
//	metrics.RecordBatchClaimed("crossref")
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithBatch(ctx, batchID, source)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	batchID, source := observability.BatchFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: API request identifier
//   - source: Metrics source (crossref, europepmc, pmc, github, scopus)
//   - work_id: Work identifier
//   - pid: Persistent identifier of a work
//   - batch_id: Harvest batch identifier
//   - worker_id: Worker instance identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
