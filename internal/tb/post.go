package tb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentBlock is one block of a post's structured content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// LayoutBlock groups content blocks by index. An "ask" layout marks blocks
// written by someone other than the post author.
type LayoutBlock struct {
	Type   string `json:"type"`
	Blocks []int  `json:"blocks,omitempty"`
}

// Post is the decoded view of an archived post record.
type Post struct {
	ID           int64             `json:"id"`
	Timestamp    int64             `json:"timestamp"`
	IsSubmission bool              `json:"is_submission"`
	Tags         []string          `json:"tags"`
	Content      []ContentBlock    `json:"content"`
	Layout       []LayoutBlock     `json:"layout,omitempty"`
	Trail        []json.RawMessage `json:"trail,omitempty"`
}

// TextContent joins the author's text blocks with a blank line, leaving out
// non-text blocks and blocks that belong to an ask.
func (p *Post) TextContent() string {
	asked := make(map[int]bool)
	for _, layout := range p.Layout {
		if layout.Type != "ask" {
			continue
		}
		for _, i := range layout.Blocks {
			asked[i] = true
		}
	}

	var parts []string
	for i, block := range p.Content {
		if block.Type != "text" || asked[i] {
			continue
		}
		parts = append(parts, block.Text)
	}
	return strings.Join(parts, "\n\n")
}

// IsReblog returns true if the post carries an ancestor trail.
func (p *Post) IsReblog() bool {
	return len(p.Trail) > 0
}

// IsOriginal reports whether the post was written by the account owner: not a
// submission, not a reblog, and with some text.
func (p *Post) IsOriginal() bool {
	return !p.IsSubmission && !p.IsReblog() && p.TextContent() != ""
}

// Record is a post as retrieved: the raw JSON object, exactly as the API
// returned it, plus its decoded view.
type Record struct {
	Raw  json.RawMessage
	Post Post
}

// DecodeRecord decodes a raw post object. The raw bytes are compacted onto a
// single line so they can be stored one record per line.
func DecodeRecord(raw []byte) (Record, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return Record{}, fmt.Errorf("compacting post: %w", err)
	}

	var post Post
	if err := json.Unmarshal(compact.Bytes(), &post); err != nil {
		return Record{}, fmt.Errorf("decoding post: %w", err)
	}

	return Record{Raw: json.RawMessage(compact.Bytes()), Post: post}, nil
}
