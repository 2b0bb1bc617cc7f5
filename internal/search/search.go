package search

// Result is a single requirement search hit.
type Result struct {
	HashID  string `json:"hashId"`
	Ref     string `json:"ref"`
	Snippet string `json:"snippet"`
	Tenant  string `json:"tenant"`
	Project string `json:"project"`
}

// Query describes a search request, always scoped to one tenant+project.
type Query struct {
	Tenant  string
	Project string
	Text    string
	Limit   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// RequirementRecord is the data pushed into the search index.
type RequirementRecord struct {
	ID      string   `json:"id"`
	Tenant  string   `json:"tenant"`
	Project string   `json:"project"`
	Ref     string   `json:"ref"`
	Text    string   `json:"text"`
	Tags    []string `json:"tags"`
	Deleted bool     `json:"deleted"`
}
