// Package pmc implements the PubMed Central usage statistics source.
//
// Monthly view counts are pre-aggregated per publisher into a statistics
// store; this adapter reads the per-DOI document and sums full-text and PDF
// views into one event count.
package pmc

import (
	"net/http"
	"net/url"
	"time"

	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/identifier"
	"github.com/scholarmetrics/harvester/internal/sources"
)

// Name is the source name used for dispatch and document keys.
const Name = "pmc"

// Config holds the PMC adapter configuration.
type Config struct {
	// StatsURL is the per-DOI usage statistics endpoint.
	StatsURL string

	// FeedURL is the publisher usage feed endpoint (monthly import).
	FeedURL string

	JobInterval time.Duration
	Timeout     time.Duration
}

func (c *Config) applyDefaults() {
	if c.FeedURL == "" {
		c.FeedURL = "https://www.ncbi.nlm.nih.gov/pmc/utils/publisher/pmcstat/pmcstat.cgi"
	}
	if c.JobInterval == 0 {
		c.JobInterval = time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Adapter reads aggregated PMC usage statistics per DOI.
type Adapter struct {
	config Config
}

var _ sources.Adapter = (*Adapter)(nil)

// New creates a PMC adapter.
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
		ConfigFields:     []string{"stats_url", "feed_url", "journals", "username", "password"},
	}
}

// BuildQuery addresses works by DOI; the stats endpoint must be configured.
func (a *Adapter) BuildQuery(w *domain.Work) string {
	if w.DOI == nil || *w.DOI == "" || a.config.StatsURL == "" {
		return ""
	}
	return a.config.StatsURL + "/" + url.QueryEscape(*w.DOI)
}

// ParseResponse sums full-text and PDF views across months. A 404 means no
// usage has been recorded yet and counts as a confident zero.
func (a *Adapter) ParseResponse(body []byte, status int, w *domain.Work) (*domain.FetchResult, error) {
	var doc statsDocument
	if status == http.StatusNotFound {
		doc.Views = nil
	} else if err := sources.DecodeJSON(body, &doc); err != nil {
		doc.Views = nil
	}

	var html, pdf int64
	months := make([]monthCount, 0, len(doc.Views))
	for _, v := range doc.Views {
		h := v.FullText.Int64()
		p := v.PDF.Int64()
		html += h
		pdf += p
		months = append(months, monthCount{
			Month: v.Month.Int64(),
			Year:  v.Year.Int64(),
			HTML:  h,
			PDF:   p,
			Total: h + p,
		})
	}
	total := html + pdf

	res := &domain.FetchResult{
		EventCount: domain.Count(total),
		EventMetrics: map[string]int64{
			"html":  html,
			"pdf":   pdf,
			"total": total,
		},
	}
	if total > 0 {
		res.Events = map[string]interface{}{
			"source": Name,
			"work":   w.PID,
			"html":   html,
			"pdf":    pdf,
			"total":  total,
			"months": months,
		}
		if w.PMCID != nil && *w.PMCID != "" {
			res.EventsURL = identifier.PMCIDURL(*w.PMCID)
		}
	}
	return res, nil
}
