package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Moderator reports whether text would be rejected for training.
type Moderator interface {
	Flagged(ctx context.Context, text string) (bool, error)
}

// WriteExamples writes the corpus built from accounts' archives to path as
// JSONL, one example per line, and returns its estimate. Examples whose
// reply is flagged by moderator are left out; moderator may be nil. The file
// is replaced atomically: a failed run leaves any previous corpus in place.
func (a *Accountant) WriteExamples(ctx context.Context, accounts []string, path string, moderator Moderator) (*Estimate, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating examples directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".examples-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	est := &Estimate{Encoding: a.encoder.Encoding()}
	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)

	err = a.Examples(accounts, func(ex Example, fromPost bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if moderator != nil {
			flagged, err := moderator.Flagged(ctx, ex.AssistantMessage())
			if err != nil {
				return fmt.Errorf("moderating example: %w", err)
			}
			if flagged {
				est.Flagged++
				return nil
			}
		}

		if err := enc.Encode(ex); err != nil {
			return fmt.Errorf("writing example: %w", err)
		}
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

	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("syncing examples: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing examples: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("renaming examples: %w", err)
	}
	success = true

	est.finish(a.settings)
	a.logger.Info("examples written", "path", path, "examples", est.Examples, "flagged", est.Flagged, "tokens", est.Tokens)
	return est, nil
}
