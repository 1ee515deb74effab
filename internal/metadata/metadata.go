// Package metadata looks up bibliographic metadata for works from the
// registration agencies and indexes: CrossRef, DataCite, ORCID, GitHub and
// Europe PMC, plus the PMC identifier-converter used to fill in missing
// PMID/PMCID identifiers.
package metadata

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/sources"
	"github.com/scholarmetrics/harvester/internal/sources/europepmc"
)

// Default endpoints for the metadata services.
const (
	DefaultCrossRefURL    = "http://api.crossref.org"
	DefaultDataCiteURL    = "http://search.datacite.org/api"
	DefaultORCIDURL       = "http://pub.orcid.org/v1.2"
	DefaultGitHubURL      = "https://api.github.com"
	DefaultEuropePMCURL   = "http://www.ebi.ac.uk/europepmc/webservices/rest"
	DefaultIDConverterURL = "http://www.pubmedcentral.nih.gov/utils/idconv/v1.0/"
)

// Config holds the metadata service configuration. ServerName and AdminEmail
// identify this installation to the PMC id-converter, which requires both.
type Config struct {
	CrossRefURL    string
	DataCiteURL    string
	ORCIDURL       string
	GitHubURL      string
	EuropePMCURL   string
	IDConverterURL string
	ServerName     string
	AdminEmail     string
}

func (c *Config) applyDefaults() {
	if c.CrossRefURL == "" {
		c.CrossRefURL = DefaultCrossRefURL
	}
	if c.DataCiteURL == "" {
		c.DataCiteURL = DefaultDataCiteURL
	}
	if c.ORCIDURL == "" {
		c.ORCIDURL = DefaultORCIDURL
	}
	if c.GitHubURL == "" {
		c.GitHubURL = DefaultGitHubURL
	}
	if c.EuropePMCURL == "" {
		c.EuropePMCURL = DefaultEuropePMCURL
	}
	if c.IDConverterURL == "" {
		c.IDConverterURL = DefaultIDConverterURL
	}
}

// Author is one contributor name.
type Author struct {
	Given  string `json:"given,omitempty"`
	Family string `json:"family,omitempty"`
}

// Metadata is the normalized bibliographic record shared by all lookups.
type Metadata struct {
	Title          string   `json:"title"`
	ContainerTitle string   `json:"container-title,omitempty"`
	Authors        []Author `json:"author,omitempty"`
	Issued         string   `json:"issued,omitempty"`
	DOI            string   `json:"DOI,omitempty"`
	URL            string   `json:"URL,omitempty"`
	Type           string   `json:"type,omitempty"`
}

// typesWithoutTitle lists CrossRef types whose records legitimately carry no
// title; those fall back to the container title.
var typesWithoutTitle = map[string]bool{
	"journal-issue": true,
}

// Service performs metadata lookups over the shared rate-limited client.
type Service struct {
	config Config
	client *sources.HTTPClient
}

// NewService creates a metadata lookup service.
func NewService(cfg Config, client *sources.HTTPClient) *Service {
	cfg.applyDefaults()
	return &Service{config: cfg, client: client}
}

// Lookup dispatches to the named metadata service. Unknown services report
// not found rather than guessing.
func (s *Service) Lookup(ctx context.Context, service, id string) (*Metadata, error) {
	switch service {
	case "crossref":
		return s.CrossRef(ctx, id)
	case "datacite":
		return s.DataCite(ctx, id)
	case "orcid":
		return s.ORCID(ctx, id)
	case "pubmed":
		return s.EuropePMC(ctx, id)
	case "github":
		return s.GitHubRepo(ctx, id)
	case "github_owner":
		return s.GitHubOwner(ctx, id)
	case "github_release":
		return s.GitHubRelease(ctx, id)
	default:
		return nil, domain.NewNotFoundError("metadata service", service)
	}
}

// CrossRef looks up a work by DOI. The title is the first non-empty entry of
// the title array; record types without a title field fall back to the
// container title.
func (s *Service) CrossRef(ctx context.Context, doi string) (*Metadata, error) {
	if doi == "" {
		return nil, domain.NewValidationError("doi", "doi is required")
	}

	reqURL := s.config.CrossRefURL + "/works/" + url.QueryEscape(doi)
	_, body, err := s.client.Get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("crossref lookup %s: %w", doi, err)
	}

	var resp crossrefResponse
	if err := sources.DecodeJSON(body, &resp); err != nil {
		return nil, err
	}
	m := resp.Message

	md := &Metadata{
		Title:          firstNonEmpty(m.Title),
		ContainerTitle: firstNonEmpty(m.ContainerTitle),
		DOI:            strings.ToUpper(m.DOI),
		Type:           m.Type,
	}
	if md.Title == "" && typesWithoutTitle[m.Type] {
		md.Title = md.ContainerTitle
		if md.Title == "" {
			md.Title = "No title"
		}
	}
	for _, a := range m.Author {
		md.Authors = append(md.Authors, Author{Given: a.Given, Family: a.Family})
	}
	if len(m.Issued.DateParts) > 0 {
		md.Issued = dateFromParts(m.Issued.DateParts[0])
	}
	return md, nil
}

// DataCite looks up a work via the DataCite search API. The author list is
// embedded as base64-encoded XML in the search result.
func (s *Service) DataCite(ctx context.Context, doi string) (*Metadata, error) {
	if doi == "" {
		return nil, domain.NewValidationError("doi", "doi is required")
	}

	params := url.Values{}
	params.Set("q", "doi:"+doi)
	params.Set("rows", "1")
	params.Set("fl", "doi,title,publisher,publicationYear,resourceTypeGeneral,journal_title,xml")
	params.Set("wt", "json")
	reqURL := s.config.DataCiteURL + "?" + params.Encode()

	_, body, err := s.client.Get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("datacite lookup %s: %w", doi, err)
	}

	var resp dataciteResponse
	if err := sources.DecodeJSON(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Response.Docs) == 0 {
		return nil, domain.NewNotFoundError("datacite work", doi)
	}
	doc := resp.Response.Docs[0]

	md := &Metadata{
		Title:          strings.TrimSuffix(firstNonEmpty(doc.Title), "."),
		ContainerTitle: doc.JournalTitle,
		DOI:            strings.ToUpper(doc.DOI),
		Type:           doc.ResourceTypeGeneral,
	}
	if doc.PublicationYear > 0 {
		md.Issued = fmt.Sprintf("%d", doc.PublicationYear)
	}
	md.Authors = decodeDataCiteAuthors(doc.XML)
	return md, nil
}

// decodeDataCiteAuthors extracts creator names from the base64 XML blob.
func decodeDataCiteAuthors(encoded string) []Author {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}

	var res dataciteResource
	if err := xml.Unmarshal(raw, &res); err != nil {
		return nil
	}

	authors := make([]Author, 0, len(res.Creators.Creator))
	for _, c := range res.Creators.Creator {
		name := strings.TrimSpace(c.CreatorName)
		if name == "" {
			continue
		}
		// DataCite names are "Family, Given".
		if family, given, ok := strings.Cut(name, ", "); ok {
			authors = append(authors, Author{Family: family, Given: given})
		} else {
			authors = append(authors, Author{Family: name})
		}
	}
	return authors
}

// ORCID looks up a researcher profile, yielding an entry-typed record with
// the profile's submission timestamp as the issued date.
func (s *Service) ORCID(ctx context.Context, orcid string) (*Metadata, error) {
	if orcid == "" {
		return nil, domain.NewValidationError("orcid", "orcid is required")
	}

	reqURL := fmt.Sprintf("%s/%s/orcid-bio", s.config.ORCIDURL, orcid)
	_, body, err := s.client.Get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("orcid lookup %s: %w", orcid, err)
	}

	var resp orcidResponse
	if err := sources.DecodeJSON(body, &resp); err != nil {
		return nil, err
	}
	profile := resp.Profile
	if profile == nil {
		return nil, domain.NewNotFoundError("orcid profile", orcid)
	}

	author := Author{
		Given:  profile.Bio.PersonalDetails.GivenNames.Value,
		Family: profile.Bio.PersonalDetails.FamilyName.Value,
	}
	issued := time.Now().UTC().Format(time.RFC3339)
	if ms := profile.History.SubmissionDate.Value; ms > 0 {
		issued = time.UnixMilli(ms).UTC().Format(time.RFC3339)
	}

	return &Metadata{
		Title:          fmt.Sprintf("ORCID record for %s %s", author.Given, author.Family),
		ContainerTitle: "ORCID Registry",
		Authors:        []Author{author},
		Issued:         issued,
		URL:            profile.Identifier.URI,
		Type:           "entry",
	}, nil
}

// EuropePMC looks up an article by PMID. The comma-joined author string is
// re-split into reversed individual names.
func (s *Service) EuropePMC(ctx context.Context, pmid string) (*Metadata, error) {
	if pmid == "" {
		return nil, domain.NewValidationError("pmid", "pmid is required")
	}

	reqURL := fmt.Sprintf("%s/search/query=ext_id:%s&format=json", s.config.EuropePMCURL, pmid)
	_, body, err := s.client.Get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("europe pmc lookup %s: %w", pmid, err)
	}

	var resp europePMCResponse
	if err := sources.DecodeJSON(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.ResultList.Result) == 0 {
		return nil, domain.NewNotFoundError("pubmed work", pmid)
	}
	r := resp.ResultList.Result[0]

	md := &Metadata{
		Title:          strings.TrimSuffix(r.Title, "."),
		ContainerTitle: r.JournalTitle,
		DOI:            strings.ToUpper(r.DOI),
		Type:           "article-journal",
		Issued:         r.PubYear,
	}
	for _, a := range europepmc.SplitAuthors(r.AuthorString) {
		md.Authors = append(md.Authors, Author{Family: a["family"], Given: a["given"]})
	}
	return md, nil
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func dateFromParts(parts []int) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%d", parts[0])
	case 2:
		return fmt.Sprintf("%d-%02d", parts[0], parts[1])
	default:
		return fmt.Sprintf("%d-%02d-%02d", parts[0], parts[1], parts[2])
	}
}
