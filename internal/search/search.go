package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultGroup    ResultType = "group"
	ResultProposal ResultType = "proposal"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	GroupID  string     `json:"groupId"`
	Status   string     `json:"status,omitempty"`
	IsPublic bool       `json:"isPublic"`
}

// Query describes a search request. Results are always scoped to public
// entities plus the groups listed in MemberGroupIDs.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterGroupID  string
	Limit          int
	Offset         int
	MemberGroupIDs []string
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexGroup(g GroupRecord) error
	IndexProposal(p ProposalRecord) error
	DeleteGroup(id string) error
	DeleteProposal(id string) error
}

// GroupRecord is the data we index for a group.
type GroupRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Preset      string `json:"preset"`
	IsPublic    bool   `json:"isPublic"`
}

// ProposalRecord is the data we index for a proposal.
type ProposalRecord struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	GroupID      string `json:"groupId"`
	ProposalType string `json:"proposalType"`
	Status       string `json:"status"`
	IsPublic     bool   `json:"isPublic"`
}
