package finetune

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"tb-go/internal/corpus"
)

// Moderator asks the moderation endpoint whether text is flagged.
type Moderator struct {
	api API
}

// NewModerator creates a Moderator.
func NewModerator(api API) *Moderator {
	return &Moderator{api: api}
}

func (m *Moderator) Flagged(ctx context.Context, text string) (bool, error) {
	resp, err := m.api.Moderations(ctx, openai.ModerationRequest{Input: text})
	if err != nil {
		return false, fmt.Errorf("calling moderation: %w", err)
	}
	for _, r := range resp.Results {
		if r.Flagged {
			return true, nil
		}
	}
	return false, nil
}

var _ corpus.Moderator = (*Moderator)(nil)
