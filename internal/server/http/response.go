package httpserver

import (
	"time"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// Response types for JSON serialization.

type workResponse struct {
	ID           string     `json:"id"`
	DOI          string     `json:"doi,omitempty"`
	PMID         string     `json:"pmid,omitempty"`
	PMCID        string     `json:"pmcid,omitempty"`
	CanonicalURL string     `json:"canonical_url,omitempty"`
	PID          string     `json:"pid"`
	PIDType      string     `json:"pid_type"`
	Title        string     `json:"title,omitempty"`
	PublishedOn  *time.Time `json:"published_on,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type listWorksResponse struct {
	Works         []workResponse `json:"works"`
	NextPageToken string         `json:"next_page_token,omitempty"`
	TotalCount    int            `json:"total_count"`
}

type retrievalStatusResponse struct {
	ID           string           `json:"id"`
	Source       string           `json:"source"`
	State        string           `json:"state"`
	EventCount   *int64           `json:"event_count"`
	QueuedAt     *time.Time       `json:"queued_at,omitempty"`
	RetrievedAt  time.Time        `json:"retrieved_at"`
	ScheduledAt  time.Time        `json:"scheduled_at"`
	StaleAt      time.Time        `json:"stale_at"`
	EventsURL    string           `json:"events_url,omitempty"`
	EventMetrics map[string]int64 `json:"event_metrics,omitempty"`
}

type workStatusResponse struct {
	WorkID   string                    `json:"work_id"`
	PID      string                    `json:"pid"`
	Statuses []retrievalStatusResponse `json:"statuses"`
}

type sourceCountsResponse struct {
	Pending       int64 `json:"pending"`
	KnownZero     int64 `json:"known_zero"`
	KnownPositive int64 `json:"known_positive"`
}

type sourceResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	DisplayName string               `json:"display_name,omitempty"`
	State       string               `json:"state"`
	Workers     int                  `json:"workers"`
	Inflight    int64                `json:"inflight"`
	JobInterval string               `json:"job_interval"`
	Timeout     string               `json:"timeout"`
	Queue       string               `json:"queue,omitempty"`
	Counts      sourceCountsResponse `json:"counts"`
}

type listSourcesResponse struct {
	Sources []sourceResponse `json:"sources"`
}

type alertResponse struct {
	ID         string    `json:"id"`
	ClassName  string    `json:"class_name"`
	Message    string    `json:"message"`
	Status     int       `json:"status,omitempty"`
	SourceID   string    `json:"source_id,omitempty"`
	WorkID     string    `json:"work_id,omitempty"`
	Unresolved bool      `json:"unresolved"`
	CreatedAt  time.Time `json:"created_at"`
}

type listAlertsResponse struct {
	Alerts        []alertResponse `json:"alerts"`
	NextPageToken string          `json:"next_page_token,omitempty"`
	TotalCount    int             `json:"total_count"`
}

type resolveAlertsResponse struct {
	Resolved int64 `json:"resolved"`
}

// Converter functions

func domainWorkToResponse(w *domain.Work) workResponse {
	resp := workResponse{
		ID:          w.ID.String(),
		PID:         w.PID,
		PIDType:     string(w.PIDType),
		Title:       w.Title,
		PublishedOn: w.PublishedOn,
		CreatedAt:   w.CreatedAt,
	}
	if w.DOI != nil {
		resp.DOI = *w.DOI
	}
	if w.PMID != nil {
		resp.PMID = *w.PMID
	}
	if w.PMCID != nil {
		resp.PMCID = *w.PMCID
	}
	if w.CanonicalURL != nil {
		resp.CanonicalURL = *w.CanonicalURL
	}
	return resp
}

func domainStatusToResponse(rs *domain.RetrievalStatus, sourceName string) retrievalStatusResponse {
	return retrievalStatusResponse{
		ID:           rs.ID.String(),
		Source:       sourceName,
		State:        string(rs.State()),
		EventCount:   rs.EventCount,
		QueuedAt:     rs.QueuedAt,
		RetrievedAt:  rs.RetrievedAt,
		ScheduledAt:  rs.ScheduledAt,
		StaleAt:      rs.StaleAt,
		EventsURL:    rs.EventsURL,
		EventMetrics: rs.EventMetrics,
	}
}

func domainAlertToResponse(a *domain.Alert) alertResponse {
	resp := alertResponse{
		ID:         a.ID.String(),
		ClassName:  a.ClassName,
		Message:    a.Message,
		Status:     a.Status,
		Unresolved: a.Unresolved,
		CreatedAt:  a.CreatedAt,
	}
	if a.SourceID != nil {
		resp.SourceID = a.SourceID.String()
	}
	if a.WorkID != nil {
		resp.WorkID = a.WorkID.String()
	}
	return resp
}
