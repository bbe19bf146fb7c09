package tumblr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tb-go/internal/tb"
)

// BlogInfo is the summary of an account returned by the info endpoint.
type BlogInfo struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Posts int    `json:"posts"`
}

type postsResponse struct {
	Blog struct {
		Posts int `json:"posts"`
	} `json:"blog"`
	Posts []json.RawMessage `json:"posts"`
}

// Posts returns one page of account's published posts, newest first,
// published strictly before the Unix timestamp before. A zero before starts
// from the newest post.
func (c *Client) Posts(ctx context.Context, account string, before int64) (*tb.Page, error) {
	q := url.Values{
		"api_key": {c.cfg.ClientID},
		"npf":     {"true"},
	}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}

	var resp postsResponse
	if err := c.do(ctx, http.MethodGet, blogPath(account, "posts"), q, nil, &resp); err != nil {
		return nil, err
	}

	page := &tb.Page{Total: resp.Blog.Posts, Records: make([]tb.Record, 0, len(resp.Posts))}
	for i, raw := range resp.Posts {
		rec, err := tb.DecodeRecord(raw)
		if err != nil {
			c.logger.Warn("skipping undecodable post", "account", account, "index", i, "error", err)
			continue
		}
		page.Records = append(page.Records, rec)
	}
	// An empty page marks the end of the history, so a page whose posts all
	// failed to decode must not be passed on as one.
	if len(resp.Posts) > 0 && len(page.Records) == 0 {
		return nil, fmt.Errorf("none of the %d posts for %s before %d could be decoded", len(resp.Posts), account, before)
	}
	return page, nil
}

// BlogInfo returns account's summary, including its current post count.
func (c *Client) BlogInfo(ctx context.Context, account string) (*BlogInfo, error) {
	q := url.Values{"api_key": {c.cfg.ClientID}}

	var resp struct {
		Blog BlogInfo `json:"blog"`
	}
	if err := c.do(ctx, http.MethodGet, blogPath(account, "info"), q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Blog, nil
}

// draftRequest is the body for creating a post in the draft queue.
type draftRequest struct {
	Content []tb.ContentBlock `json:"content"`
	Layout  []tb.LayoutBlock  `json:"layout,omitempty"`
	State   string            `json:"state"`
	Tags    string            `json:"tags"`
}

// CreateDraft creates post as a draft on account and returns the new post's
// id. It is sent once: a failure is returned to the caller as is.
func (c *Client) CreateDraft(ctx context.Context, account string, post *tb.Post) (string, error) {
	body := draftRequest{
		Content: post.Content,
		Layout:  post.Layout,
		State:   "draft",
		Tags:    strings.Join(post.Tags, ","),
	}

	var resp struct {
		ID json.RawMessage `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, blogPath(account, "posts"), nil, body, &resp); err != nil {
		return "", fmt.Errorf("creating draft on %s: %w", account, err)
	}
	return strings.Trim(string(resp.ID), `"`), nil
}

func blogPath(account, endpoint string) string {
	return "blog/" + url.PathEscape(account) + "/" + endpoint
}

var (
	_ tb.PostSource     = (*Client)(nil)
	_ tb.DraftPublisher = (*Client)(nil)
)
