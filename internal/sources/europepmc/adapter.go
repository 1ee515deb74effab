// Package europepmc implements the Europe PMC citation metrics source.
package europepmc

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/sources"
)

const (
	// DefaultBaseURL is the Europe PMC REST API base.
	DefaultBaseURL = "https://www.ebi.ac.uk/europepmc/webservices/rest"

	// Name is the source name used for dispatch and document keys.
	Name = "europepmc"

	pageSize = 100
)

// Config holds the Europe PMC adapter configuration.
type Config struct {
	BaseURL     string
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

// Adapter fetches citation counts from Europe PMC. Works are addressed by
// PMID; works without one are skipped.
type Adapter struct {
	config Config
}

var _ sources.Adapter = (*Adapter)(nil)

// New creates a Europe PMC adapter.
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

// BuildQuery addresses works by PMID only.
func (a *Adapter) BuildQuery(w *domain.Work) string {
	if w.PMID == nil || *w.PMID == "" {
		return ""
	}
	return fmt.Sprintf("%s/MED/%s/citations/1/%d/json", a.config.BaseURL, *w.PMID, pageSize)
}

// ParseResponse extracts the citation hit count. Author strings in citation
// entries arrive comma-joined and are re-split with name order reversed.
func (a *Adapter) ParseResponse(body []byte, status int, w *domain.Work) (*domain.FetchResult, error) {
	if status == http.StatusNotFound {
		return &domain.FetchResult{EventCount: domain.Count(0)}, nil
	}

	var resp citationsResponse
	if err := sources.DecodeJSON(body, &resp); err != nil {
		return &domain.FetchResult{EventCount: domain.Count(0)}, nil
	}

	count := resp.HitCount
	res := &domain.FetchResult{
		EventCount:   domain.Count(count),
		EventMetrics: map[string]int64{"citations": count},
	}
	if count > 0 {
		res.Events = normalizeCitations(resp.CitationList.Citation)
		res.EventsURL = fmt.Sprintf("http://europepmc.org/abstract/MED/%s", *w.PMID)
	}
	return res, nil
}

// normalizeCitations re-splits the comma-joined author string of each
// citation and reverses each name into given-family order.
func normalizeCitations(citations []citation) []map[string]interface{} {
	events := make([]map[string]interface{}, 0, len(citations))
	for _, c := range citations {
		events = append(events, map[string]interface{}{
			"id":              c.ID,
			"title":           strings.TrimSuffix(c.Title, "."),
			"author":          SplitAuthors(c.AuthorString),
			"container-title": c.JournalAbbreviation,
			"year":            c.PubYear,
		})
	}
	return events
}

// SplitAuthors turns "Smith J, Jones B." into individual reversed names.
func SplitAuthors(authorString string) []map[string]string {
	authorString = strings.TrimSuffix(authorString, ".")
	if authorString == "" {
		return nil
	}

	parts := strings.Split(authorString, ", ")
	authors := make([]map[string]string, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		// Reversed: family name first, initials last.
		family := strings.Join(fields[:len(fields)-1], " ")
		given := fields[len(fields)-1]
		if family == "" {
			family, given = given, ""
		}
		authors = append(authors, map[string]string{"family": family, "given": given})
	}
	return authors
}
