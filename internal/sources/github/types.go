package github

// repository is the subset of the GitHub repos API this adapter reads.
// Message is populated on structured not-found bodies.
type repository struct {
	Message         string `json:"message"`
	FullName        string `json:"full_name"`
	Description     string `json:"description"`
	StargazersCount int64  `json:"stargazers_count"`
	ForksCount      int64  `json:"forks_count"`
	CreatedAt       string `json:"created_at"`
}
