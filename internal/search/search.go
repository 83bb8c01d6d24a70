package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultComment  ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type           ResultType `json:"type"`
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet"`
	DocumentID     string     `json:"documentId"`
	OrganizationID string     `json:"organizationId,omitempty"`
}

// Access describes what the caller may read: their own documents, those of
// their organizations and published ones. Admins read everything.
type Access struct {
	UserID          string
	OrganizationIDs []string
	IsAdmin         bool
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
	Access     Access
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexDocuments(docs []DocumentRecord) error
	IndexComments(comments []CommentRecord) error
	DeleteDocument(id string) error
	DeleteComments(ids []string) error
}

// Engine is a search backend that also maintains its own index.
type Engine interface {
	Searcher
	Indexer
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	OwnerID        string `json:"ownerId"`
	OrganizationID string `json:"organizationId"`
	IsPublished    bool   `json:"isPublished"`
}

// CommentRecord is the data we index for a comment. Access fields are
// copied from the comment's document.
type CommentRecord struct {
	ID             string `json:"id"`
	Content        string `json:"content"`
	DiscussionID   string `json:"discussionId"`
	DocumentID     string `json:"documentId"`
	DocumentTitle  string `json:"documentTitle"`
	UserID         string `json:"userId"`
	OwnerID        string `json:"ownerId"`
	OrganizationID string `json:"organizationId"`
	IsPublished    bool   `json:"isPublished"`
}
