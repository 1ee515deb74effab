package scopus

// searchResponse is the Scopus search envelope.
type searchResponse struct {
	SearchResults struct {
		TotalResults string  `json:"opensearch:totalResults"`
		Entry        []entry `json:"entry"`
	} `json:"search-results"`
}

// entry is one search hit. Scopus serializes numbers as strings.
type entry struct {
	EID          string `json:"eid"`
	DOI          string `json:"prism:doi"`
	Title        string `json:"dc:title"`
	CitedByCount string `json:"citedby-count"`
}
