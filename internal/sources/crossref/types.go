package crossref

// worksResponse is the CrossRef works lookup envelope.
type worksResponse struct {
	Status  string  `json:"status"`
	Message message `json:"message"`
}

// message carries the fields this adapter reads; the decoded value is stored
// as the events payload.
type message struct {
	DOI                 string   `json:"DOI"`
	IsReferencedByCount int64    `json:"is-referenced-by-count"`
	Title               []string `json:"title"`
	ContainerTitle      []string `json:"container-title"`
	Type                string   `json:"type"`
}
