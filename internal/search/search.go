package search

import "context"

// Result is a single label class hit.
type Result struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	HumanName string `json:"human_name"`
	GroupID   int64  `json:"group_id"`
	Active    bool   `json:"active"`
	Snippet   string `json:"snippet,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a label class search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// LabelClassRecord is the data we index for a label class.
type LabelClassRecord struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	HumanName string `json:"human_name"`
	GroupID   int64  `json:"group_id"`
	GroupName string `json:"group_name"`
	Active    bool   `json:"active"`
}
