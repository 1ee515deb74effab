// Package scopus implements the Scopus citation metrics source.
package scopus

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/sources"
)

const (
	// DefaultBaseURL is the Elsevier content API base.
	DefaultBaseURL = "https://api.elsevier.com/content"

	// Name is the source name used for dispatch and document keys.
	Name = "scopus"
)

// Config holds the Scopus adapter configuration. An API key is required; the
// adapter cannot address any work without one.
type Config struct {
	BaseURL     string
	APIKey      string
	JobInterval time.Duration
	Timeout     time.Duration
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

// Adapter fetches citedby counts from the Scopus search API.
type Adapter struct {
	config Config
}

var _ sources.Adapter = (*Adapter)(nil)

// New creates a Scopus adapter.
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
		ConfigFields:     []string{"base_url", "api_key"},
	}
}

// BuildQuery addresses works by DOI and requires an API key.
func (a *Adapter) BuildQuery(w *domain.Work) string {
	if w.DOI == nil || *w.DOI == "" || a.config.APIKey == "" {
		return ""
	}
	q := url.Values{}
	q.Set("query", fmt.Sprintf("DOI(%s)", *w.DOI))
	q.Set("apiKey", a.config.APIKey)
	return a.config.BaseURL + "/search/scopus?" + q.Encode()
}

// ParseResponse reads the first search entry's citedby-count. Scopus encodes
// counts as strings.
func (a *Adapter) ParseResponse(body []byte, status int, w *domain.Work) (*domain.FetchResult, error) {
	if status == http.StatusNotFound {
		return &domain.FetchResult{EventCount: domain.Count(0)}, nil
	}

	var resp searchResponse
	if err := sources.DecodeJSON(body, &resp); err != nil {
		return &domain.FetchResult{EventCount: domain.Count(0)}, nil
	}
	if len(resp.SearchResults.Entry) == 0 {
		return &domain.FetchResult{EventCount: domain.Count(0)}, nil
	}

	entry := resp.SearchResults.Entry[0]
	count, err := strconv.ParseInt(entry.CitedByCount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("scopus citedby-count %q for work %s: %w", entry.CitedByCount, w.PID, err)
	}

	res := &domain.FetchResult{
		EventCount:   domain.Count(count),
		EventMetrics: map[string]int64{"citations": count},
	}
	if count > 0 {
		res.Events = entry
		if entry.EID != "" {
			res.EventsURL = "http://www.scopus.com/inward/citedby.url?partnerID=HzOxMe3b&scp=" + entry.EID
		}
	}
	return res, nil
}
