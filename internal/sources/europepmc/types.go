package europepmc

// citationsResponse is the Europe PMC citations envelope.
type citationsResponse struct {
	HitCount     int64 `json:"hitCount"`
	CitationList struct {
		Citation []citation `json:"citation"`
	} `json:"citationList"`
}

// citation is one citing article.
type citation struct {
	ID                  string `json:"id"`
	Source              string `json:"source"`
	Title               string `json:"title"`
	AuthorString        string `json:"authorString"`
	JournalAbbreviation string `json:"journalAbbreviation"`
	PubYear             int    `json:"pubYear"`
}
