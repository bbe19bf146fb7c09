package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"tb-go/internal/tb"
)

// TextPost returns an original post with one text block.
func TextPost(id, timestamp int64, text string) tb.Post {
	return tb.Post{
		ID:        id,
		Timestamp: timestamp,
		Tags:      []string{},
		Content:   []tb.ContentBlock{{Type: "text", Text: text}},
	}
}

// NewRecord encodes post the way the remote API would return it.
func NewRecord(post tb.Post) tb.Record {
	raw, err := json.Marshal(post)
	if err != nil {
		panic(fmt.Sprintf("marshaling post: %v", err))
	}
	rec, err := tb.DecodeRecord(raw)
	if err != nil {
		panic(fmt.Sprintf("decoding post: %v", err))
	}
	return rec
}

// TextRecords returns n text post records with timestamps descending from
// newest in steps of one second. IDs count down from n.
func TextRecords(n int, newest int64) []tb.Record {
	records := make([]tb.Record, n)
	for i := range records {
		id := int64(n - i)
		records[i] = NewRecord(TextPost(id, newest-int64(i), fmt.Sprintf("post %d", id)))
	}
	return records
}

// SourceCall is one request made to a FakeSource.
type SourceCall struct {
	Account string
	Before  int64
}

// FakeSource serves posts from memory, newest first, PageSize at a time.
// Safe for concurrent use.
type FakeSource struct {
	PageSize int

	mu     sync.Mutex
	posts  map[string][]tb.Record
	totals map[string]int
	errs   []error
	calls  []SourceCall
}

// NewFakeSource creates a FakeSource that returns pageSize posts per page.
func NewFakeSource(pageSize int) *FakeSource {
	return &FakeSource{
		PageSize: pageSize,
		posts:    make(map[string][]tb.Record),
		totals:   make(map[string]int),
	}
}

// AddPosts adds records to account's collection.
func (f *FakeSource) AddPosts(account string, records ...tb.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all := append(f.posts[account], records...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Post.Timestamp > all[j].Post.Timestamp
	})
	f.posts[account] = all
}

// SetTotal overrides the collection size reported with each page.
func (f *FakeSource) SetTotal(account string, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totals[account] = total
}

// FailNext makes the next len(errs) calls return errs in order. A nil entry
// lets that call through.
func (f *FakeSource) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

// Calls returns every request made so far.
func (f *FakeSource) Calls() []SourceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SourceCall(nil), f.calls...)
}

func (f *FakeSource) Posts(ctx context.Context, account string, before int64) (*tb.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, SourceCall{Account: account, Before: before})

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	all := f.posts[account]
	total, ok := f.totals[account]
	if !ok {
		total = len(all)
	}

	page := &tb.Page{Total: total}
	for _, rec := range all {
		if len(page.Records) == f.PageSize {
			break
		}
		if before == 0 || rec.Post.Timestamp < before {
			page.Records = append(page.Records, rec)
		}
	}
	return page, nil
}

var _ tb.PostSource = (*FakeSource)(nil)

// FakePublisher records drafts in memory.
type FakePublisher struct {
	Err error

	mu     sync.Mutex
	drafts map[string][]tb.Post
	next   int
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{drafts: make(map[string][]tb.Post)}
}

func (p *FakePublisher) CreateDraft(ctx context.Context, account string, post *tb.Post) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return "", p.Err
	}
	p.next++
	p.drafts[account] = append(p.drafts[account], *post)
	return fmt.Sprintf("draft-%d", p.next), nil
}

// Drafts returns the drafts created on account.
func (p *FakePublisher) Drafts(account string) []tb.Post {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tb.Post(nil), p.drafts[account]...)
}

var _ tb.DraftPublisher = (*FakePublisher)(nil)
