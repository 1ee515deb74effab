// Package works creates and enriches tracked scholarly items. Creating a
// work resolves its raw identifier, derives the persistent identifier and
// fans out one retrieval status per installed source, so every source starts
// harvesting the work on its next sweep.
package works

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/identifier"
	"github.com/scholarmetrics/harvester/internal/metadata"
	"github.com/scholarmetrics/harvester/internal/observability"
	"github.com/scholarmetrics/harvester/internal/repository"
)

// CreateInput is the payload for creating a work.
type CreateInput struct {
	// ID is a free-form identifier string, resolved by identifier.Resolve.
	ID          string
	Title       string
	PublishedOn *time.Time
}

// Service creates works and fills in their missing identifiers.
type Service struct {
	workRepo   repository.WorkRepository
	sourceRepo repository.SourceRepository
	meta       *metadata.Service
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewService creates a work service.
func NewService(workRepo repository.WorkRepository, sourceRepo repository.SourceRepository, meta *metadata.Service, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		workRepo:   workRepo,
		sourceRepo: sourceRepo,
		meta:       meta,
		metrics:    metrics,
		logger:     logger.With().Str("component", "works").Logger(),
	}
}

// Create resolves the raw identifier, derives the persistent identifier and
// stores the work with one retrieval status per installed source.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Work, error) {
	id, err := identifier.Resolve(input.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	work := &domain.Work{
		ID:          uuid.New(),
		Title:       input.Title,
		PublishedOn: input.PublishedOn,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	switch id.Type {
	case domain.IDTypeDOI:
		work.DOI = &id.Value
	case domain.IDTypePMID:
		work.PMID = &id.Value
	case domain.IDTypePMCID:
		work.PMCID = &id.Value
	case domain.IDTypeURL:
		work.CanonicalURL = &id.Value
	default:
		return nil, domain.NewValidationError("id", fmt.Sprintf("identifier type %q cannot be tracked", id.Type))
	}
	if !work.SetPID() {
		return nil, domain.ErrNoIdentifier
	}

	installed, err := s.installedSources(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.workRepo.Create(ctx, work, installed); err != nil {
		return nil, err
	}
	s.metrics.RecordWorkCreated()

	s.logger.Info().
		Str("pid", work.PID).
		Str("pid_type", string(work.PIDType)).
		Int("sources", len(installed)).
		Msg("work created")
	return work, nil
}

// FillMissingIDs looks up the work's other persistent identifiers through the
// PMC identifier converter and stores any that were absent. A converter miss
// is not an error; the work simply keeps the identifiers it has.
func (s *Service) FillMissingIDs(ctx context.Context, work *domain.Work) error {
	ids, err := s.meta.PersistentIdentifiers(ctx, work.PID, work.PIDType)
	if err != nil {
		if domain.Backpressure(err) {
			return err
		}
		s.logger.Debug().Err(err).Str("pid", work.PID).Msg("identifier converter lookup failed")
		return nil
	}

	changed := false
	if v, ok := ids[domain.IDTypeDOI]; ok && work.DOI == nil {
		work.DOI = &v
		changed = true
	}
	if v, ok := ids[domain.IDTypePMID]; ok && work.PMID == nil {
		work.PMID = &v
		changed = true
	}
	if v, ok := ids[domain.IDTypePMCID]; ok && work.PMCID == nil {
		work.PMCID = &v
		changed = true
	}
	if !changed {
		return nil
	}

	return s.workRepo.UpdateIdentifiers(ctx, work)
}

// installedSources returns every source that may receive retrieval statuses,
// which is every source not in the inactive state.
func (s *Service) installedSources(ctx context.Context) ([]*domain.Source, error) {
	all, err := s.sourceRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	installed := make([]*domain.Source, 0, len(all))
	for _, src := range all {
		if src.State != domain.SourceInactive {
			installed = append(installed, src)
		}
	}
	return installed, nil
}
