package finetune

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"tb-go/internal/corpus"
)

// Generator writes post text with a fine-tuned model, prompted the same way
// the training examples were.
type Generator struct {
	api       API
	model     string
	developer string
	user      string
}

// NewGenerator creates a Generator for model.
func NewGenerator(api API, model, developerMessage, userMessage string) *Generator {
	return &Generator{
		api:       api,
		model:     model,
		developer: developerMessage,
		user:      userMessage,
	}
}

// Generate returns the text of one new post.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("no fine-tuned model configured (run `tb train` first)")
	}

	ex := corpus.NewExample(g.developer, g.user, "")
	msgs := make([]openai.ChatCompletionMessage, 0, len(ex.Messages)-1)
	for _, m := range ex.Messages[:len(ex.Messages)-1] {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := g.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("generating post: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generating post: no choices returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("generating post: empty completion")
	}
	return text, nil
}
