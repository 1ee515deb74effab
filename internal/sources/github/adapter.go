// Package github implements the GitHub repository metrics source.
package github

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/sources"
)

const (
	// DefaultBaseURL is the GitHub REST API base.
	DefaultBaseURL = "https://api.github.com"

	// Name is the source name used for dispatch and document keys.
	Name = "github"
)

// Config holds the GitHub adapter configuration.
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

// Adapter counts stars and forks for works whose canonical URL is a GitHub
// repository.
type Adapter struct {
	config Config
}

var _ sources.Adapter = (*Adapter)(nil)

// New creates a GitHub adapter.
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
		ConfigFields:     []string{"base_url", "personal_access_token"},
	}
}

// repoPath extracts "owner/repo" from a github.com URL, or "" when the URL
// is not a GitHub repository.
func repoPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	if host != "github.com" && host != "www.github.com" {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return parts[0] + "/" + parts[1]
}

// BuildQuery addresses only works with a GitHub canonical URL.
func (a *Adapter) BuildQuery(w *domain.Work) string {
	if w.CanonicalURL == nil {
		return ""
	}
	path := repoPath(*w.CanonicalURL)
	if path == "" {
		return ""
	}
	return fmt.Sprintf("%s/repos/%s", a.config.BaseURL, path)
}

// ParseResponse sums stars and forks. GitHub reports a missing repository as
// a JSON body with "message": "Not Found"; that is a structured not-found
// result and classifies as skipped, not as a transport error.
func (a *Adapter) ParseResponse(body []byte, status int, w *domain.Work) (*domain.FetchResult, error) {
	var repo repository
	if err := sources.DecodeJSON(body, &repo); err != nil {
		return &domain.FetchResult{}, nil
	}
	if repo.Message == "Not Found" {
		return &domain.FetchResult{}, nil
	}

	total := repo.StargazersCount + repo.ForksCount
	res := &domain.FetchResult{
		EventCount: domain.Count(total),
		EventMetrics: map[string]int64{
			"stars": repo.StargazersCount,
			"forks": repo.ForksCount,
		},
	}
	if total > 0 {
		res.Events = repo
		res.EventsURL = *w.CanonicalURL
	}
	return res, nil
}
