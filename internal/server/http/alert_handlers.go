package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/scholarmetrics/harvester/internal/repository"
)

// resolveAlertsRequest is the JSON request body for bulk-resolving alerts.
// At least one criterion must be present.
type resolveAlertsRequest struct {
	ClassName string `json:"class_name,omitempty"`
	Source    string `json:"source,omitempty"`
	WorkID    string `json:"work_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// listAlerts handles GET /alerts with optional filters, newest first.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset := parsePaginationParams(r)

	filter := repository.AlertFilter{
		ClassName: r.URL.Query().Get("class_name"),
		Message:   r.URL.Query().Get("message"),
		Limit:     limit,
		Offset:    offset,
	}

	if sourceName := r.URL.Query().Get("source"); sourceName != "" {
		src, err := s.sourceRepo.GetByName(ctx, sourceName)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		filter.SourceID = &src.ID
	}
	if workIDParam := r.URL.Query().Get("work_id"); workIDParam != "" {
		workID, ok := parseUUID(w, workIDParam, "work_id")
		if !ok {
			return
		}
		filter.WorkID = &workID
	}
	if unresolvedParam := r.URL.Query().Get("unresolved"); unresolvedParam != "" {
		unresolved, err := strconv.ParseBool(unresolvedParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unresolved must be a boolean")
			return
		}
		filter.Unresolved = &unresolved
	}

	alertList, totalCount, err := s.alertRepo.List(ctx, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	responses := make([]alertResponse, len(alertList))
	for i, a := range alertList {
		responses[i] = domainAlertToResponse(a)
	}

	writeJSON(w, http.StatusOK, listAlertsResponse{
		Alerts:        responses,
		NextPageToken: encodePageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// resolveAlerts handles POST /alerts/resolve. It marks every open alert
// matching the filter as resolved and reports how many were affected.
func (s *Server) resolveAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req resolveAlertsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	filter := repository.AlertFilter{
		ClassName: req.ClassName,
		Message:   req.Message,
	}
	if req.Source != "" {
		src, err := s.sourceRepo.GetByName(ctx, req.Source)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		filter.SourceID = &src.ID
	}
	if req.WorkID != "" {
		workID, ok := parseUUID(w, req.WorkID, "work_id")
		if !ok {
			return
		}
		filter.WorkID = &workID
	}

	if filter.Empty() {
		writeError(w, http.StatusBadRequest, "at least one filter criterion is required")
		return
	}

	resolved, err := s.alerts.ResolveBulk(ctx, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resolveAlertsResponse{Resolved: resolved})
}
