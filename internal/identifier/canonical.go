package identifier

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/scholarmetrics/harvester/internal/domain"
)

// jsessionidRe strips the session segment appended by J2EE servers.
var jsessionidRe = regexp.MustCompile(`(.*);jsessionid=.*`)

// cleanLandingURL normalizes a landing-page URL and strips known publisher
// tracking parameters (IEEE reload, ScienceDirect ihub).
func cleanLandingURL(raw string) string {
	raw = jsessionidRe.ReplaceAllString(raw, "$1")
	clean, err := NormalizeURL(raw)
	if err != nil {
		clean = raw
	}
	clean = strings.Replace(clean, "reload=true&", "", 1)
	clean = strings.Replace(clean, "?via=ihub", "", 1)
	return clean
}

// containsDigit reports whether s carries at least one decimal digit.
// Landing and error pages without a distinguishing id never do.
func containsDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

// pathOnly returns the path component of a URL, used to compare a
// body-declared relative canonical URL against the resolved one.
func pathOnly(rawURL string) string {
	if i := strings.Index(rawURL, "://"); i >= 0 {
		rest := rawURL[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			return rest[j:]
		}
		return ""
	}
	return rawURL
}

// ResolveCanonicalURL performs an HTTP GET on a work's identifier URL,
// following redirects, and picks the canonical landing-page URL in priority
// order: <link rel="canonical">, then <meta property="og:url">, then the
// final redirect-resolved URL.
//
// When a body-declared URL is present but matches neither the final URL nor
// its path-only form, resolution is ambiguous and a URLMismatchError is
// returned instead of a silent pick. A URL containing no digit is rejected so
// generic landing or error pages are never stored.
func ResolveCanonicalURL(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build canonical url request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get canonical url for %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get canonical url for %s: status %d: %w", rawURL, resp.StatusCode, domain.ErrNotFound)
	}

	var bodyURL string
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err == nil {
		if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
			bodyURL = href
		} else if content, ok := doc.Find(`meta[property="og:url"]`).First().Attr("content"); ok {
			bodyURL = content
		}
	}
	if bodyURL != "" {
		bodyURL = cleanLandingURL(bodyURL)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	finalURL = cleanLandingURL(finalURL)

	if bodyURL != "" && bodyURL != finalURL && bodyURL != pathOnly(finalURL) {
		return "", &domain.URLMismatchError{BodyURL: bodyURL, FinalURL: finalURL}
	}

	if !containsDigit(finalURL) {
		return "", fmt.Errorf("canonical url %s has no digit: %w", finalURL, domain.ErrNotFound)
	}

	return finalURL, nil
}
