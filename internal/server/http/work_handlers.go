package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/repository"
	"github.com/scholarmetrics/harvester/internal/works"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// createWorkRequest is the JSON request body for registering a work.
type createWorkRequest struct {
	ID          string  `json:"id"`
	Title       string  `json:"title,omitempty"`
	PublishedOn *string `json:"published_on,omitempty"`
}

// createWork handles POST /works. It registers a new work for tracking and
// fans out retrieval state to every installed source.
func (s *Server) createWork(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req createWorkRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	input := works.CreateInput{
		ID:    req.ID,
		Title: strings.TrimSpace(req.Title),
	}
	if req.PublishedOn != nil {
		t, parseErr := time.Parse(time.RFC3339, *req.PublishedOn)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid published_on format: expected RFC3339")
			return
		}
		input.PublishedOn = &t
	}

	work, err := s.workSvc.Create(ctx, input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, domainWorkToResponse(work))
}

// getWork handles GET /works/{workID}.
func (s *Server) getWork(w http.ResponseWriter, r *http.Request) {
	workID, ok := parseUUID(w, chi.URLParam(r, "workID"), "work_id")
	if !ok {
		return
	}

	work, err := s.workRepo.Get(r.Context(), workID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainWorkToResponse(work))
}

// getWorkStatus handles GET /works/{workID}/status. It returns the retrieval
// state of the work across every installed source.
func (s *Server) getWorkStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workID, ok := parseUUID(w, chi.URLParam(r, "workID"), "work_id")
	if !ok {
		return
	}

	work, err := s.workRepo.Get(ctx, workID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	srcs, err := s.sourceRepo.List(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	statuses := make([]retrievalStatusResponse, 0, len(srcs))
	for _, src := range srcs {
		status, err := s.retrievalRepo.GetStatusByPair(ctx, workID, src.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		statuses = append(statuses, domainStatusToResponse(status, src.Name))
	}

	writeJSON(w, http.StatusOK, workStatusResponse{
		WorkID:   work.ID.String(),
		PID:      work.PID,
		Statuses: statuses,
	})
}

// listWorks handles GET /works with optional filters.
func (s *Server) listWorks(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.WorkFilter{
		Limit:  limit,
		Offset: offset,
	}

	if pidType := r.URL.Query().Get("pid_type"); pidType != "" {
		filter.PIDType = domain.IDType(pidType)
	}
	if createdAfter := r.URL.Query().Get("created_after"); createdAfter != "" {
		t, parseErr := time.Parse(time.RFC3339, createdAfter)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_after format: expected RFC3339")
			return
		}
		filter.CreatedAfter = &t
	}
	if createdBefore := r.URL.Query().Get("created_before"); createdBefore != "" {
		t, parseErr := time.Parse(time.RFC3339, createdBefore)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_before format: expected RFC3339")
			return
		}
		filter.CreatedBefore = &t
	}

	workList, totalCount, err := s.workRepo.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]workResponse, len(workList))
	for i, wk := range workList {
		responses[i] = domainWorkToResponse(wk)
	}

	writeJSON(w, http.StatusOK, listWorksResponse{
		Works:         responses,
		NextPageToken: encodePageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// writeDomainError maps domain errors to HTTP status codes and writes a JSON
// error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrNoIdentifier):
		writeError(w, http.StatusBadRequest, domain.ErrNoIdentifier.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if
// invalid. The parse error details are not echoed back.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from query
// parameters, applying default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodePageToken encodes the next offset as a base64 page token. Returns an
// empty string when there are no more results.
func encodePageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
