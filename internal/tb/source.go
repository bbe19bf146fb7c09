package tb

import "context"

// Page is one bounded response from the remote post collection.
type Page struct {
	// Total is the collection size reported with this page. It can change
	// between pages while the account keeps posting.
	Total   int
	Records []Record
}

// PostSource reads an account's published posts, newest first.
type PostSource interface {
	// Posts returns the page of posts published before the given Unix
	// timestamp. A zero before means no upper bound.
	Posts(ctx context.Context, account string, before int64) (*Page, error)
}

// DraftPublisher creates draft posts on an account.
// Draft creation is not idempotent and is never retried.
type DraftPublisher interface {
	CreateDraft(ctx context.Context, account string, post *Post) (string, error)
}
