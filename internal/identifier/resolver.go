// Package identifier parses free-form persistent identifier strings (DOI,
// PMID, PMCID, arXiv id, ARK, canonical URL) into typed identifiers and
// resolves landing-page canonical URLs.
package identifier

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// Identifier is a typed, normalized persistent identifier.
type Identifier struct {
	Type  domain.IDType
	Value string
}

// doubleSlashRe repairs scheme separators swallowed by proxies and routers,
// e.g. "http:/example.org" or "http:////example.org".
var doubleSlashRe = regexp.MustCompile(`(?i)(https?):/+(\w)`)

// rule maps one recognized prefix to a parser for the remainder.
type rule struct {
	prefix string
	parse  func(rest, full string) (Identifier, error)
}

func asDOI(rest, _ string) (Identifier, error) {
	v, err := url.QueryUnescape(rest)
	if err != nil {
		v = rest
	}
	return Identifier{Type: domain.IDTypeDOI, Value: strings.ToUpper(v)}, nil
}

func asPMID(rest, _ string) (Identifier, error) {
	return Identifier{Type: domain.IDTypePMID, Value: rest}, nil
}

func asPMCID(rest, _ string) (Identifier, error) {
	return Identifier{Type: domain.IDTypePMCID, Value: rest}, nil
}

func asArXiv(rest, _ string) (Identifier, error) {
	return Identifier{Type: domain.IDTypeArXiv, Value: rest}, nil
}

func asURL(_, full string) (Identifier, error) {
	clean, err := NormalizeURL(full)
	if err != nil {
		return Identifier{}, fmt.Errorf("normalize canonical url %q: %w", full, err)
	}
	return Identifier{Type: domain.IDTypeURL, Value: clean}, nil
}

// rules is ordered: more specific prefixes must come before generic ones, and
// the http(s) fallback must come after every URL-hosted form so it only
// captures URLs no other rule claims.
var rules = []rule{
	// URL-hosted forms without a scheme.
	{"doi.org/", asDOI},
	{"www.ncbi.nlm.nih.gov/pubmed/", asPMID},
	{"www.ncbi.nlm.nih.gov/pmc/articles/PMC", asPMCID},
	{"arxiv.org/abs/", asArXiv},
	{"n2t.net/ark:", func(rest, _ string) (Identifier, error) {
		return Identifier{Type: domain.IDTypeARK, Value: "ark:" + rest}, nil
	}},

	// Scheme-carrying URL-hosted forms.
	{"http://doi.org/", asDOI},
	{"https://doi.org/", asDOI},
	{"http://dx.doi.org/", asDOI},
	{"https://dx.doi.org/", asDOI},
	{"http://www.ncbi.nlm.nih.gov/pubmed/", asPMID},
	{"https://www.ncbi.nlm.nih.gov/pubmed/", asPMID},
	{"http://www.ncbi.nlm.nih.gov/pmc/articles/PMC", asPMCID},
	{"https://www.ncbi.nlm.nih.gov/pmc/articles/PMC", asPMCID},
	{"http://arxiv.org/abs/", asArXiv},
	{"https://arxiv.org/abs/", asArXiv},
	{"http://n2t.net/ark:", func(rest, _ string) (Identifier, error) {
		return Identifier{Type: domain.IDTypeARK, Value: "ark:" + rest}, nil
	}},
	{"https://n2t.net/ark:", func(rest, _ string) (Identifier, error) {
		return Identifier{Type: domain.IDTypeARK, Value: "ark:" + rest}, nil
	}},

	// Anything else with a scheme becomes a normalized canonical URL.
	{"http:", asURL},
	{"https:", asURL},

	// Scheme-prefixed short forms.
	{"doi:", asDOI},
	{"pmid:", asPMID},
	{"pmcid:PMC", asPMCID},
	{"pmcid:", asPMCID},
	{"arxiv:", asArXiv},
	{"wos:", func(rest, _ string) (Identifier, error) {
		return Identifier{Type: domain.IDTypeWOS, Value: rest}, nil
	}},
	{"scp:", func(rest, _ string) (Identifier, error) {
		return Identifier{Type: domain.IDTypeSCP, Value: rest}, nil
	}},
	{"ark:", func(_, full string) (Identifier, error) {
		return Identifier{Type: domain.IDTypeARK, Value: full}, nil
	}},

	// Path-style forms used by API routes.
	{"doi/", asDOI},
	{"info:doi/", asDOI},
	{"pmid/", asPMID},
	{"pmcid/PMC", asPMCID},
	{"pmcid/", asPMCID},

	// Bare forms.
	{"10.", func(_, full string) (Identifier, error) { return asDOI(full, full) }},
	{"PMC", asPMCID},
	{"doi_10.", func(rest, _ string) (Identifier, error) {
		return Identifier{Type: domain.IDTypeDOI, Value: strings.ToUpper("10." + strings.ReplaceAll(rest, "_", "/"))}, nil
	}},
}

// Resolve parses a free-form identifier string into a typed identifier.
// Escaped slashes and colons are decoded and doubled-slash scheme damage is
// repaired before matching. Unmatched input defaults to a DOI interpretation;
// DOIs are always percent-decoded and upper-cased.
func Resolve(raw string) (Identifier, error) {
	if raw == "" {
		return Identifier{}, domain.NewValidationError("id", "identifier must not be empty")
	}

	id := strings.ReplaceAll(raw, "%2F", "/")
	id = strings.ReplaceAll(id, "%3A", ":")
	id = doubleSlashRe.ReplaceAllString(id, "$1://$2")

	for _, r := range rules {
		if strings.HasPrefix(id, r.prefix) {
			return r.parse(id[len(r.prefix):], id)
		}
	}
	return asDOI(id, id)
}

// NormalizeURL lower-cases the scheme and host and removes percent-encoding
// from the path, so equivalent URLs compare equal.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if p, err := url.PathUnescape(u.EscapedPath()); err == nil {
		u.Path = p
		u.RawPath = ""
	}
	return u.String(), nil
}

// URL constructors for each scheme; Resolve is a left-inverse of each.

// DOIURL returns the doi.org resolver URL for a DOI.
func DOIURL(doi string) string {
	if doi == "" {
		return ""
	}
	return "http://doi.org/" + doi
}

// PMIDURL returns the PubMed URL for a PMID.
func PMIDURL(pmid string) string {
	if pmid == "" {
		return ""
	}
	return "http://www.ncbi.nlm.nih.gov/pubmed/" + pmid
}

// PMCIDURL returns the PubMed Central URL for a PMCID (without PMC prefix).
func PMCIDURL(pmcid string) string {
	if pmcid == "" {
		return ""
	}
	return "http://www.ncbi.nlm.nih.gov/pmc/articles/PMC" + pmcid
}

// ArXivURL returns the arXiv abstract URL for an arXiv id.
func ArXivURL(arxiv string) string {
	if arxiv == "" {
		return ""
	}
	return "http://arxiv.org/abs/" + arxiv
}

// ARKURL returns the n2t.net resolver URL for an ARK.
func ARKURL(ark string) string {
	if ark == "" {
		return ""
	}
	return "http://n2t.net/" + ark
}

// WorkURL returns the outward-facing URL for a work's winning identifier.
func WorkURL(w *domain.Work) string {
	switch w.PIDType {
	case domain.IDTypeDOI:
		return DOIURL(w.PID)
	case domain.IDTypePMID:
		return PMIDURL(w.PID)
	case domain.IDTypePMCID:
		return PMCIDURL(w.PID)
	case domain.IDTypeURL:
		return w.PID
	default:
		return ""
	}
}
