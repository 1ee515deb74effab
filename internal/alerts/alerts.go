// Package alerts records operator-visible failures with deduplication.
// Open alerts are unique per message, so a source failing the same way for
// thousands of works produces one alert instead of thousands.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/observability"
	"github.com/scholarmetrics/harvester/internal/repository"
)

// Alert class names. These label both the stored alerts and the
// alerts_created metric.
const (
	ClassRateLimited  = "rate_limited"
	ClassURLMismatch  = "url_mismatch"
	ClassNotFound     = "not_found"
	ClassInvalidInput = "invalid_input"
	ClassTransport    = "transport_error"
	ClassJobFailure   = "job_failure"
)

// ClassName maps an error onto its alert class.
func ClassName(err error) string {
	var mismatch *domain.URLMismatchError
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return ClassRateLimited
	case errors.As(err, &mismatch):
		return ClassURLMismatch
	case errors.Is(err, domain.ErrNotFound):
		return ClassNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return ClassInvalidInput
	default:
		return ClassTransport
	}
}

// Deduplicator records failures as deduplicated alerts.
type Deduplicator struct {
	repo    repository.AlertRepository
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewDeduplicator creates an alert deduplicator.
func NewDeduplicator(repo repository.AlertRepository, metrics *observability.Metrics, logger zerolog.Logger) *Deduplicator {
	return &Deduplicator{
		repo:    repo,
		metrics: metrics,
		logger:  logger.With().Str("component", "alerts").Logger(),
	}
}

// Record stores a failure as an alert unless one with the same message is
// already open. Backpressure conditions are expected flow control and are
// never alerted.
func (d *Deduplicator) Record(ctx context.Context, err error, sourceID, workID *uuid.UUID) error {
	if err == nil || domain.Backpressure(err) {
		return nil
	}

	alert := &domain.Alert{
		ClassName: ClassName(err),
		Message:   err.Error(),
		Exception: fmt.Sprintf("%v", err),
		Status:    statusFor(err),
		SourceID:  sourceID,
		WorkID:    workID,
	}

	created, createErr := d.repo.FirstOrCreate(ctx, alert)
	if createErr != nil {
		return fmt.Errorf("failed to record alert: %w", createErr)
	}

	if created {
		d.metrics.RecordAlertCreated(alert.ClassName)
		d.logger.Warn().
			Str("class_name", alert.ClassName).
			Str("message", alert.Message).
			Msg("alert recorded")
	}

	return nil
}

// RecordJobFailure records an alert for a batch that exhausted its retries.
func (d *Deduplicator) RecordJobFailure(ctx context.Context, queue string, err error) error {
	alert := &domain.Alert{
		ClassName: ClassJobFailure,
		Message:   fmt.Sprintf("batch in queue %q failed: %v", queue, err),
		Exception: fmt.Sprintf("%v", err),
	}

	created, createErr := d.repo.FirstOrCreate(ctx, alert)
	if createErr != nil {
		return fmt.Errorf("failed to record job failure alert: %w", createErr)
	}

	if created {
		d.metrics.RecordAlertCreated(ClassJobFailure)
		d.logger.Error().
			Str("queue", queue).
			Err(err).
			Msg("batch exhausted retries")
	}

	return nil
}

// ResolveBulk marks every open alert matching the filter as resolved and
// returns how many were affected.
func (d *Deduplicator) ResolveBulk(ctx context.Context, filter repository.AlertFilter) (int64, error) {
	resolved, err := d.repo.ResolveBulk(ctx, filter)
	if err != nil {
		return 0, err
	}

	if resolved > 0 {
		d.metrics.RecordAlertsResolved(resolved)
		d.logger.Info().
			Int64("resolved", resolved).
			Msg("alerts resolved")
	}

	return resolved, nil
}

// statusFor derives the HTTP-ish status stored with an alert.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return 0
	}
}
