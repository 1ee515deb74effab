package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// listSources handles GET /sources. It returns every source with its state,
// worker budget, live inflight count and per-state retrieval counts.
func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	srcs, err := s.sourceRepo.List(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]sourceResponse, 0, len(srcs))
	for _, src := range srcs {
		resp, err := s.sourceToResponse(ctx, src)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		responses = append(responses, resp)
	}

	writeJSON(w, http.StatusOK, listSourcesResponse{Sources: responses})
}

// getSource handles GET /sources/{name}.
func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	src, err := s.sourceRepo.GetByName(ctx, chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp, err := s.sourceToResponse(ctx, src)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// sourceToResponse assembles the full source view: stored fields, the live
// inflight count from the slot gate and the retrieval-state breakdown.
func (s *Server) sourceToResponse(ctx context.Context, src *domain.Source) (sourceResponse, error) {
	inflight, err := s.gate.Inflight(ctx, src.Name)
	if err != nil {
		return sourceResponse{}, err
	}

	counts, err := s.retrievalRepo.CountByState(ctx, src.ID)
	if err != nil {
		return sourceResponse{}, err
	}

	return sourceResponse{
		ID:          src.ID.String(),
		Name:        src.Name,
		DisplayName: src.DisplayName,
		State:       string(src.State),
		Workers:     src.Workers,
		Inflight:    inflight,
		JobInterval: src.JobInterval.String(),
		Timeout:     src.Timeout.String(),
		Queue:       src.Queue,
		Counts: sourceCountsResponse{
			Pending:       counts[domain.RetrievalPending],
			KnownZero:     counts[domain.RetrievalKnownZero],
			KnownPositive: counts[domain.RetrievalKnownPositive],
		},
	}, nil
}
