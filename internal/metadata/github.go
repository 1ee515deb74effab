package metadata

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/sources"
)

// GitHub error payloads carry only a message, e.g. {"message": "Not Found"}.

type githubRepo struct {
	Message     string `json:"message"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
	HTMLURL     string `json:"html_url"`
	Owner       struct {
		Login string `json:"login"`
	} `json:"owner"`
}

type githubOwner struct {
	Message   string `json:"message"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	HTMLURL   string `json:"html_url"`
}

type githubRelease struct {
	Message     string `json:"message"`
	Name        string `json:"name"`
	TagName     string `json:"tag_name"`
	PublishedAt string `json:"published_at"`
	HTMLURL     string `json:"html_url"`
	Author      struct {
		Login string `json:"login"`
	} `json:"author"`
}

// GitHubRepo looks up repository metadata for a github.com repository URL.
func (s *Service) GitHubRepo(ctx context.Context, repoURL string) (*Metadata, error) {
	owner, repo, err := splitRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/repos/%s/%s", s.config.GitHubURL, owner, repo)
	_, body, err := s.client.Get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("github repo lookup %s/%s: %w", owner, repo, err)
	}

	var r githubRepo
	if err := sources.DecodeJSON(body, &r); err != nil {
		return nil, err
	}
	if r.Message != "" {
		return nil, domain.NewNotFoundError("github repo", owner+"/"+repo)
	}

	title := r.Name
	if r.Description != "" {
		title = fmt.Sprintf("%s: %s", r.Name, r.Description)
	}
	return &Metadata{
		Title:          title,
		ContainerTitle: "GitHub",
		Authors:        []Author{{Family: r.Owner.Login}},
		Issued:         r.CreatedAt,
		URL:            r.HTMLURL,
		Type:           "computer_program",
	}, nil
}

// GitHubOwner looks up the profile of a repository owner by user URL.
func (s *Service) GitHubOwner(ctx context.Context, ownerURL string) (*Metadata, error) {
	owner, _, err := splitRepoURL(ownerURL)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/users/%s", s.config.GitHubURL, owner)
	_, body, err := s.client.Get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("github owner lookup %s: %w", owner, err)
	}

	var o githubOwner
	if err := sources.DecodeJSON(body, &o); err != nil {
		return nil, err
	}
	if o.Message != "" {
		return nil, domain.NewNotFoundError("github owner", owner)
	}

	name := o.Name
	if name == "" {
		name = o.Login
	}
	return &Metadata{
		Title:          fmt.Sprintf("GitHub profile for %s", name),
		ContainerTitle: "GitHub",
		Authors:        []Author{{Family: o.Login}},
		Issued:         o.CreatedAt,
		URL:            o.HTMLURL,
		Type:           "entry",
	}, nil
}

// GitHubRelease looks up a tagged release by its release URL, of the form
// https://github.com/{owner}/{repo}/tree/{tag}.
func (s *Service) GitHubRelease(ctx context.Context, releaseURL string) (*Metadata, error) {
	owner, repo, tag, err := splitReleaseURL(releaseURL)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", s.config.GitHubURL, owner, repo, tag)
	_, body, err := s.client.Get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("github release lookup %s/%s@%s: %w", owner, repo, tag, err)
	}

	var rel githubRelease
	if err := sources.DecodeJSON(body, &rel); err != nil {
		return nil, err
	}
	if rel.Message != "" {
		return nil, domain.NewNotFoundError("github release", owner+"/"+repo+"@"+tag)
	}

	title := rel.Name
	if title == "" {
		title = rel.TagName
	}
	return &Metadata{
		Title:          title,
		ContainerTitle: "GitHub",
		Authors:        []Author{{Family: rel.Author.Login}},
		Issued:         rel.PublishedAt,
		URL:            rel.HTMLURL,
		Type:           "computer_program",
	}, nil
}

func splitRepoURL(raw string) (owner, repo string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", domain.NewValidationError("url", fmt.Sprintf("invalid github url %q", raw))
	}
	if u.Host != "github.com" {
		return "", "", domain.NewValidationError("url", fmt.Sprintf("not a github url %q", raw))
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", "", domain.NewValidationError("url", fmt.Sprintf("github url %q has no owner", raw))
	}
	owner = parts[0]
	if len(parts) > 1 {
		repo = parts[1]
	}
	return owner, repo, nil
}

func splitReleaseURL(raw string) (owner, repo, tag string, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host != "github.com" {
		return "", "", "", domain.NewValidationError("url", fmt.Sprintf("not a github url %q", raw))
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 || parts[2] != "tree" {
		return "", "", "", domain.NewValidationError("url", fmt.Sprintf("github url %q is not a release", raw))
	}
	return parts[0], parts[1], parts[3], nil
}
