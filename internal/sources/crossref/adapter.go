// Package crossref implements the CrossRef cited-by metrics source.
package crossref

import (
	"net/http"
	"net/url"
	"time"

	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/identifier"
	"github.com/scholarmetrics/harvester/internal/sources"
)

const (
	// DefaultBaseURL is the CrossRef REST API base.
	DefaultBaseURL = "https://api.crossref.org"

	// Name is the source name used for dispatch and document keys.
	Name = "crossref"
)

// Config holds the CrossRef adapter configuration.
type Config struct {
	// BaseURL overrides the API base, mainly for tests.
	BaseURL string

	// JobInterval is the minimum spacing between successive calls.
	JobInterval time.Duration

	// Timeout bounds one fetch.
	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.JobInterval == 0 {
		c.JobInterval = time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Adapter fetches citation counts from the CrossRef works API.
type Adapter struct {
	config Config
}

// Compile-time check that Adapter satisfies the source contract.
var _ sources.Adapter = (*Adapter)(nil)

// New creates a CrossRef adapter.
func New(cfg Config) *Adapter {
	cfg.applyDefaults()
	return &Adapter{config: cfg}
}

// Name implements sources.Adapter.
func (a *Adapter) Name() string { return Name }

// Spec implements sources.Adapter.
func (a *Adapter) Spec() sources.Spec {
	return sources.Spec{
		JobInterval:      a.config.JobInterval,
		Timeout:          a.config.Timeout,
		MaxFailedQueries: 200,
		ConfigFields:     []string{"base_url"},
	}
}

// BuildQuery addresses works by DOI only.
func (a *Adapter) BuildQuery(w *domain.Work) string {
	if w.DOI == nil || *w.DOI == "" {
		return ""
	}
	return a.config.BaseURL + "/works/" + url.QueryEscape(*w.DOI)
}

// ParseResponse extracts the cited-by count. A 404 or unparseable body means
// CrossRef does not know the DOI; that is a result with no confident count.
func (a *Adapter) ParseResponse(body []byte, status int, w *domain.Work) (*domain.FetchResult, error) {
	if status == http.StatusNotFound {
		return &domain.FetchResult{}, nil
	}

	var resp worksResponse
	if err := sources.DecodeJSON(body, &resp); err != nil {
		return &domain.FetchResult{}, nil
	}

	count := resp.Message.IsReferencedByCount
	res := &domain.FetchResult{
		EventCount:   domain.Count(count),
		EventMetrics: map[string]int64{"citations": count},
	}
	if count > 0 {
		res.Events = resp.Message
		res.EventsURL = identifier.DOIURL(*w.DOI)
	}
	return res, nil
}
