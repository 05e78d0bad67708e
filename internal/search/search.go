package search

// Result is a single issue hit.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Status   string `json:"status"`
	Category string `json:"category"`
	Area     string `json:"area"`
}

type Query struct {
	Text     string
	Status   string
	Category string
	Limit    int
	Offset   int
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// IssueRecord is the document pushed into the search index.
type IssueRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	Urgency     string `json:"urgency"`
	Area        string `json:"area"`
	Address     string `json:"address"`
	CreatedAt   int64  `json:"createdAt"`
}
