// Package finetune drives the model provider: moderation of training
// examples, fine-tuning jobs, and text generation with the tuned model.
package finetune

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"tb-go/internal/config"
)

// API is the subset of the provider client used here.
type API interface {
	Moderations(ctx context.Context, request openai.ModerationRequest) (openai.ModerationResponse, error)
	CreateFile(ctx context.Context, request openai.FileRequest) (openai.File, error)
	CreateFineTuningJob(ctx context.Context, request openai.FineTuningJobRequest) (openai.FineTuningJob, error)
	RetrieveFineTuningJob(ctx context.Context, fineTuningJobID string) (openai.FineTuningJob, error)
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewClient creates a provider client from cfg.
func NewClient(cfg config.OpenAIConfig) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api_key is not configured (set it in the config or OPENAI_API_KEY)")
	}

	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	c.HTTPClient = &http.Client{Timeout: config.DefaultTimeout}
	return openai.NewClientWithConfig(c), nil
}

var _ API = (*openai.Client)(nil)
