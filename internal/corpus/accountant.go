package corpus

import (
	"errors"
	"fmt"
	"os"

	"tb-go/internal/config"
	"tb-go/internal/tb"
)

// Epoch bounds applied when the epoch count is derived from corpus size.
const (
	MinEpochs = 1
	MaxEpochs = 25
)

// Settings controls how examples are built and priced.
type Settings struct {
	DeveloperMessage string
	UserMessage      string

	// TargetEpochs is the epoch count before scaling for corpus size.
	TargetEpochs int
	// Epochs fixes the epoch count when positive.
	Epochs            int
	MinTargetExamples int
	MaxTargetExamples int
	PricePerMillion   float64

	PostLimit         int
	CustomPromptsPath string
}

// SettingsFromConfig converts the training section of the config.
func SettingsFromConfig(cfg config.TrainingConfig) Settings {
	return Settings{
		DeveloperMessage:  cfg.DeveloperMessage,
		UserMessage:       cfg.UserMessage,
		TargetEpochs:      config.DefaultTargetEpochs,
		Epochs:            cfg.TargetEpochs,
		MinTargetExamples: cfg.MinTargetExamples,
		MaxTargetExamples: cfg.MaxTargetExamples,
		PricePerMillion:   cfg.PricePerMillion,
		PostLimit:         cfg.PostLimit,
		CustomPromptsPath: cfg.CustomPromptsPath,
	}
}

// EstimateEpochs returns the epoch count for a corpus of n examples. The
// target is scaled up when too few examples would be seen and scaled down
// when too many would.
func (s Settings) EstimateEpochs(n int) int {
	if s.Epochs > 0 {
		return s.Epochs
	}

	target := s.TargetEpochs
	if target <= 0 {
		target = config.DefaultTargetEpochs
	}
	if n <= 0 {
		return target
	}

	switch {
	case n*target < s.MinTargetExamples:
		return min(MaxEpochs, s.MinTargetExamples/n)
	case s.MaxTargetExamples > 0 && n*target > s.MaxTargetExamples:
		return max(MinEpochs, s.MaxTargetExamples/n)
	}
	return target
}

// Cost returns the total tokens trained on and their price.
func (s Settings) Cost(tokens int64, epochs int) (int64, float64) {
	total := tokens * int64(epochs)
	return total, float64(total) / 1_000_000 * s.PricePerMillion
}

// Estimate is the size and price of a training corpus.
type Estimate struct {
	Examples      int
	Posts         int
	CustomPrompts int
	// Flagged counts examples dropped by moderation.
	Flagged int

	// Tokens is the token count of one pass over the corpus.
	Tokens      int64
	Epochs      int
	TotalTokens int64
	Cost        float64
	// Encoding is the token encoding the counts were made with.
	Encoding string
}

func (e *Estimate) add(tokens int) {
	e.Examples++
	e.Tokens += int64(tokens)
}

func (e *Estimate) finish(s Settings) {
	e.Epochs = s.EstimateEpochs(e.Examples)
	e.TotalTokens, e.Cost = s.Cost(e.Tokens, e.Epochs)
}

// Accountant turns archived posts into training examples and counts them.
// It only reads the archive.
type Accountant struct {
	archive  tb.Archive
	encoder  Encoder
	settings Settings
	logger   tb.Logger
}

// NewAccountant creates an Accountant.
func NewAccountant(archive tb.Archive, encoder Encoder, settings Settings, logger tb.Logger) *Accountant {
	return &Accountant{
		archive:  archive,
		encoder:  encoder,
		settings: settings,
		logger:   logger,
	}
}

// Settings returns the settings the accountant prices with.
func (a *Accountant) Settings() Settings {
	return a.settings
}

// CountTokens returns the tokens one example costs: a fixed priming overhead
// per message plus the encoded length of every message.
func (a *Accountant) CountTokens(ex Example) int {
	n := 3 * (len(ex.Messages) + 1)
	for _, msg := range ex.Messages {
		n += a.encoder.Count(msg.Content)
	}
	return n
}

// errPostLimit stops an archive scan once enough posts were taken.
var errPostLimit = errors.New("post limit reached")

// Examples calls fn with every training example: custom prompts first, then
// the original posts of each account in archive order.
func (a *Accountant) Examples(accounts []string, fn func(ex Example, fromPost bool) error) error {
	if path := a.settings.CustomPromptsPath; path != "" {
		pairs, err := readCustomPrompts(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			a.logger.Warn("custom prompts file not found", "path", path)
		case err != nil:
			return fmt.Errorf("reading custom prompts: %w", err)
		}
		for _, p := range pairs {
			if err := fn(NewExample(a.settings.DeveloperMessage, p[0], p[1]), false); err != nil {
				return err
			}
		}
	}

	for _, account := range accounts {
		taken, skipped := 0, 0
		err := a.archive.Scan(account, func(rec tb.Record) error {
			if !rec.Post.IsOriginal() {
				skipped++
				return nil
			}
			if a.settings.PostLimit > 0 && taken == a.settings.PostLimit {
				return errPostLimit
			}
			taken++
			return fn(NewExample(a.settings.DeveloperMessage, a.settings.UserMessage, rec.Post.TextContent()), true)
		})
		if err != nil && !errors.Is(err, errPostLimit) {
			return fmt.Errorf("reading archive for %s: %w", account, err)
		}
		a.logger.Debug("archive read", "account", account, "examples", taken, "skipped", skipped)
	}
	return nil
}

// Estimate counts the corpus built from accounts' archives.
func (a *Accountant) Estimate(accounts []string) (*Estimate, error) {
	est := &Estimate{Encoding: a.encoder.Encoding()}
	err := a.Examples(accounts, func(ex Example, fromPost bool) error {
		est.add(a.CountTokens(ex))
		if fromPost {
			est.Posts++
		} else {
			est.CustomPrompts++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	est.finish(a.settings)
	return est, nil
}

// EstimateFile counts an already written corpus file.
func (a *Accountant) EstimateFile(path string) (*Estimate, error) {
	est := &Estimate{Encoding: a.encoder.Encoding()}
	err := ReadExamples(path, func(ex Example) error {
		est.add(a.CountTokens(ex))
		return nil
	})
	if err != nil {
		return nil, err
	}
	est.finish(a.settings)
	return est, nil
}
