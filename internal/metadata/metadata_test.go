package metadata

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarmetrics/harvester/internal/domain"
	"github.com/scholarmetrics/harvester/internal/sources"
)

func testService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewService(Config{
		CrossRefURL:    srv.URL,
		DataCiteURL:    srv.URL,
		ORCIDURL:       srv.URL,
		GitHubURL:      srv.URL,
		EuropePMCURL:   srv.URL,
		IDConverterURL: srv.URL,
		ServerName:     "alm.example.org",
		AdminEmail:     "admin@example.org",
	}, sources.NewHTTPClient(sources.HTTPClientConfig{}))
}

func TestCrossRef(t *testing.T) {
	t.Run("full record", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/works/10.1371%2Fjournal.pone.0008776", r.URL.EscapedPath())
			fmt.Fprint(w, `{"message":{"DOI":"10.1371/journal.pone.0008776","type":"journal-article","title":["The Island Rule"],"container-title":["PLoS ONE"],"author":[{"given":"Ada","family":"Lovelace"}],"issued":{"date-parts":[[2010,1,6]]}}}`)
		})

		md, err := s.CrossRef(context.Background(), "10.1371/journal.pone.0008776")
		require.NoError(t, err)
		assert.Equal(t, "The Island Rule", md.Title)
		assert.Equal(t, "PLoS ONE", md.ContainerTitle)
		assert.Equal(t, "10.1371/JOURNAL.PONE.0008776", md.DOI)
		assert.Equal(t, []Author{{Given: "Ada", Family: "Lovelace"}}, md.Authors)
		assert.Equal(t, "2010-01-06", md.Issued)
	})

	t.Run("titleless type falls back to container title", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"message":{"type":"journal-issue","container-title":["PLoS ONE"]}}`)
		})

		md, err := s.CrossRef(context.Background(), "10.1371/issue.1")
		require.NoError(t, err)
		assert.Equal(t, "PLoS ONE", md.Title)
	})

	t.Run("titleless type with no container title", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"message":{"type":"journal-issue"}}`)
		})

		md, err := s.CrossRef(context.Background(), "10.1371/issue.1")
		require.NoError(t, err)
		assert.Equal(t, "No title", md.Title)
	})

	t.Run("article keeps its blank title", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"message":{"type":"journal-article","title":[],"container-title":["PLoS ONE"]}}`)
		})

		md, err := s.CrossRef(context.Background(), "10.1371/x")
		require.NoError(t, err)
		assert.Empty(t, md.Title)
	})

	t.Run("empty doi", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {})
		_, err := s.CrossRef(context.Background(), "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestDataCite(t *testing.T) {
	creatorXML := base64.StdEncoding.EncodeToString([]byte(
		`<resource><creators><creator><creatorName>Ollomo, Benjamin</creatorName></creator><creator><creatorName>Durand, Patrick</creatorName></creator></creators></resource>`))

	t.Run("decodes base64 xml authors", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "doi:10.5061/DRYAD.8515", r.URL.Query().Get("q"))
			fmt.Fprintf(w, `{"response":{"docs":[{"doi":"10.5061/DRYAD.8515","title":["Data from: A new malaria agent."],"publicationYear":2011,"resourceTypeGeneral":"Dataset","xml":%q}]}}`, creatorXML)
		})

		md, err := s.DataCite(context.Background(), "10.5061/DRYAD.8515")
		require.NoError(t, err)
		assert.Equal(t, "Data from: A new malaria agent", md.Title)
		assert.Equal(t, "2011", md.Issued)
		assert.Equal(t, "Dataset", md.Type)
		assert.Equal(t, []Author{
			{Family: "Ollomo", Given: "Benjamin"},
			{Family: "Durand", Given: "Patrick"},
		}, md.Authors)
	})

	t.Run("no docs is not found", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"response":{"docs":[]}}`)
		})

		_, err := s.DataCite(context.Background(), "10.5061/missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("corrupt xml yields no authors", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"response":{"docs":[{"doi":"10.5061/x","title":["T"],"xml":"bm90IHhtbA=="}]}}`)
		})

		md, err := s.DataCite(context.Background(), "10.5061/x")
		require.NoError(t, err)
		assert.Empty(t, md.Authors)
	})
}

func TestORCID(t *testing.T) {
	s := testService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0000-0002-0159-2197/orcid-bio", r.URL.Path)
		fmt.Fprint(w, `{"orcid-profile":{"orcid-identifier":{"uri":"http://orcid.org/0000-0002-0159-2197"},"orcid-history":{"submission-date":{"value":1350426805108}},"orcid-bio":{"personal-details":{"given-names":{"value":"Jonathan"},"family-name":{"value":"Dugan"}}}}}`)
	})

	md, err := s.ORCID(context.Background(), "0000-0002-0159-2197")
	require.NoError(t, err)
	assert.Equal(t, "ORCID record for Jonathan Dugan", md.Title)
	assert.Equal(t, "ORCID Registry", md.ContainerTitle)
	assert.Equal(t, "http://orcid.org/0000-0002-0159-2197", md.URL)
	assert.Equal(t, "2012-10-16T22:33:25Z", md.Issued)
}

func TestEuropePMCMetadata(t *testing.T) {
	s := testService(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"resultList":{"result":[{"title":"Malaria research.","authorString":"Ollomo B, Durand P, Prugnolle F.","journalTitle":"PLoS Pathog","pubYear":"2009","doi":"10.1371/journal.ppat.1000446"}]}}`)
	})

	md, err := s.EuropePMC(context.Background(), "19478877")
	require.NoError(t, err)
	assert.Equal(t, "Malaria research", md.Title)
	assert.Equal(t, "PLoS Pathog", md.ContainerTitle)
	assert.Equal(t, "2009", md.Issued)
	assert.Equal(t, []Author{
		{Family: "Ollomo", Given: "B"},
		{Family: "Durand", Given: "P"},
		{Family: "Prugnolle", Given: "F"},
	}, md.Authors)
}

func TestGitHubRepo(t *testing.T) {
	t.Run("full record", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/repos/ropensci/alm", r.URL.Path)
			fmt.Fprint(w, `{"name":"alm","description":"R wrapper for the PLoS ALM API","created_at":"2012-05-02T01:41:54Z","html_url":"https://github.com/ropensci/alm","owner":{"login":"ropensci"}}`)
		})

		md, err := s.GitHubRepo(context.Background(), "https://github.com/ropensci/alm")
		require.NoError(t, err)
		assert.Equal(t, "alm: R wrapper for the PLoS ALM API", md.Title)
		assert.Equal(t, []Author{{Family: "ropensci"}}, md.Authors)
		assert.Equal(t, "computer_program", md.Type)
	})

	t.Run("message body is not found", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"message":"Not Found"}`)
		})

		_, err := s.GitHubRepo(context.Background(), "https://github.com/ropensci/gone")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestGitHubRelease(t *testing.T) {
	t.Run("splits owner repo and tag", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/repos/ropensci/alm/releases/tags/v0.1.0", r.URL.Path)
			fmt.Fprint(w, `{"tag_name":"v0.1.0","published_at":"2013-01-01T00:00:00Z","html_url":"https://github.com/ropensci/alm/releases/tag/v0.1.0","author":{"login":"sckott"}}`)
		})

		md, err := s.GitHubRelease(context.Background(), "https://github.com/ropensci/alm/tree/v0.1.0")
		require.NoError(t, err)
		assert.Equal(t, "v0.1.0", md.Title)
		assert.Equal(t, []Author{{Family: "sckott"}}, md.Authors)
	})

	t.Run("rejects non-release urls", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {})
		_, err := s.GitHubRelease(context.Background(), "https://github.com/ropensci/alm")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("message body is not found", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"message":"Not Found"}`)
		})

		_, err := s.GitHubRelease(context.Background(), "https://github.com/ropensci/alm/tree/v9.9.9")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestPersistentIdentifiers(t *testing.T) {
	t.Run("strips pmc prefix", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "10.1371/journal.pone.0043007", r.URL.Query().Get("ids"))
			assert.Equal(t, "doi", r.URL.Query().Get("idtype"))
			assert.Equal(t, "ScholarMetrics - alm.example.org", r.URL.Query().Get("tool"))
			assert.Equal(t, "admin@example.org", r.URL.Query().Get("email"))
			fmt.Fprint(w, `{"status":"ok","records":[{"pmid":"22916230","pmcid":"PMC3423387","doi":"10.1371/journal.pone.0043007"}]}`)
		})

		ids, err := s.PersistentIdentifiers(context.Background(), "10.1371/journal.pone.0043007", domain.IDTypeDOI)
		require.NoError(t, err)
		assert.Equal(t, map[domain.IDType]string{
			domain.IDTypeDOI:   "10.1371/JOURNAL.PONE.0043007",
			domain.IDTypePMID:  "22916230",
			domain.IDTypePMCID: "3423387",
		}, ids)
	})

	t.Run("prefixes pmcid lookups", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "PMC3423387", r.URL.Query().Get("ids"))
			fmt.Fprint(w, `{"status":"ok","records":[{"pmid":"22916230","pmcid":"PMC3423387"}]}`)
		})

		ids, err := s.PersistentIdentifiers(context.Background(), "3423387", domain.IDTypePMCID)
		require.NoError(t, err)
		assert.Equal(t, "22916230", ids[domain.IDTypePMID])
	})

	t.Run("record errors are not found", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"status":"ok","records":[{"status":"error"}]}`)
		})

		_, err := s.PersistentIdentifiers(context.Background(), "10.1371/missing", domain.IDTypeDOI)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("rejects unsupported identifier types", func(t *testing.T) {
		s := testService(t, func(w http.ResponseWriter, r *http.Request) {})
		_, err := s.PersistentIdentifiers(context.Background(), "whatever", "isbn")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
