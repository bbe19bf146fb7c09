package finetune

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"tb-go/internal/tb"
)

// Job statuses reported by the provider.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Job is the state of a fine-tuning job.
type Job struct {
	ID             string
	Status         string
	Model          string
	FineTunedModel string
	// Epochs is zero until the provider has settled on a count.
	Epochs        int
	TrainedTokens int
	CreatedAt     time.Time
}

// Done reports whether the job has reached a terminal status.
func (j *Job) Done() bool {
	switch j.Status {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func newJob(j openai.FineTuningJob) *Job {
	return &Job{
		ID:             j.ID,
		Status:         j.Status,
		Model:          j.Model,
		FineTunedModel: j.FineTunedModel,
		Epochs:         epochs(j.Hyperparameters.Epochs),
		TrainedTokens:  j.TrainedTokens,
		CreatedAt:      time.Unix(j.CreatedAt, 0).UTC(),
	}
}

// epochs reads the epoch hyperparameter, which is "auto" until the job has
// picked a number.
func epochs(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// Trainer uploads a corpus and follows the fine-tuning job it starts.
type Trainer struct {
	api          API
	sleeper      tb.Sleeper
	pollInterval time.Duration
	logger       tb.Logger
}

// NewTrainer creates a Trainer that checks on a job every pollInterval.
func NewTrainer(api API, sleeper tb.Sleeper, pollInterval time.Duration, logger tb.Logger) *Trainer {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Trainer{
		api:          api,
		sleeper:      sleeper,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Start uploads the corpus at examplesPath and creates a job tuning model on
// it. A positive epochs fixes the epoch count; otherwise the provider picks.
func (t *Trainer) Start(ctx context.Context, examplesPath, model string, epochs int) (*Job, error) {
	file, err := t.api.CreateFile(ctx, openai.FileRequest{
		FileName: filepath.Base(examplesPath),
		FilePath: examplesPath,
		Purpose:  string(openai.PurposeFineTune),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading examples: %w", err)
	}
	t.logger.Info("examples uploaded", "file", file.ID, "bytes", file.Bytes)

	req := openai.FineTuningJobRequest{
		TrainingFile: file.ID,
		Model:        model,
	}
	if epochs > 0 {
		req.Hyperparameters = &openai.Hyperparameters{Epochs: epochs}
	}

	job, err := t.api.CreateFineTuningJob(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("creating fine-tuning job: %w", err)
	}
	t.logger.Info("fine-tuning job created", "job", job.ID, "model", job.Model)
	return newJob(job), nil
}

// Retrieve returns the current state of job id.
func (t *Trainer) Retrieve(ctx context.Context, id string) (*Job, error) {
	job, err := t.api.RetrieveFineTuningJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retrieving fine-tuning job %s: %w", id, err)
	}
	return newJob(job), nil
}

// Wait polls job id until it finishes, calling onUpdate with every state
// seen. A job that fails or is cancelled is returned with an error.
func (t *Trainer) Wait(ctx context.Context, id string, onUpdate func(*Job)) (*Job, error) {
	for {
		job, err := t.Retrieve(ctx, id)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(job)
		}

		if job.Done() {
			if job.Status != StatusSucceeded {
				return job, fmt.Errorf("fine-tuning job %s %s", id, job.Status)
			}
			t.logger.Info("fine-tuning finished", "job", id, "model", job.FineTunedModel, "trained_tokens", job.TrainedTokens)
			return job, nil
		}

		t.logger.Debug("fine-tuning in progress", "job", id, "status", job.Status)
		if err := t.sleeper.Sleep(ctx, t.pollInterval); err != nil {
			return job, err
		}
	}
}
